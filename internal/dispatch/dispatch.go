// Package dispatch implements the command dispatcher of spec.md §4.4: it
// interprets a framed RESP array as a command plus arguments, applies it
// to the keyspace store, and (on a primary) enqueues accepted writes for
// replication fan-out.
package dispatch

import (
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/kvreplica/kvreplica/internal/config"
	"github.com/kvreplica/kvreplica/internal/protocol"
	"github.com/kvreplica/kvreplica/internal/replication"
	"github.com/kvreplica/kvreplica/internal/store"
)

// CommandRecorder observes dispatched command names, e.g. for metrics. Any
// nil implementation is treated as a no-op by Dispatcher.
type CommandRecorder interface {
	RecordCommand(name string)
}

// Dispatcher holds everything a command needs to execute: the keyspace,
// the configuration registry (role, replid, offset) and — on a primary —
// the replication manager it enqueues accepted writes into.
type Dispatcher struct {
	Store    *store.Store
	Config   *config.Registry
	Repl     *replication.Manager // nil when running as a replica
	Recorder CommandRecorder      // nil disables recording
	Log      *zap.SugaredLogger
}

// New builds a Dispatcher. repl is nil for a replica process.
func New(st *store.Store, cfg *config.Registry, repl *replication.Manager, rec CommandRecorder, log *zap.SugaredLogger) *Dispatcher {
	return &Dispatcher{Store: st, Config: cfg, Repl: repl, Recorder: rec, Log: log}
}

func (d *Dispatcher) record(name string) {
	if d.Recorder != nil {
		d.Recorder.RecordCommand(name)
	}
}

// HandleClient executes one client-issued command and returns the reply to
// write back, per the command table in spec.md §4.4, and whether a reply
// is owed at all. raw is the exact consumed bytes of this command, needed
// to enqueue a SET for fan-out.
func (d *Dispatcher) HandleClient(name string, args []string, raw []byte) (protocol.Value, bool) {
	d.record(name)

	switch name {
	case "PING":
		return protocol.NewSimpleString("PONG"), true

	case "ECHO":
		if len(args) != 1 {
			return protocol.NullBulk, true
		}
		return protocol.NewBulkStringFromString(args[0]), true

	case "SET":
		return d.handleSet(args, raw), true

	case "GET":
		return d.handleGet(args), true

	case "INFO":
		return d.handleInfo(args), true

	case "REPLCONF":
		return d.handleReplConf(args)

	case "PSYNC":
		// PSYNC's reply is two separate writes (simple-string + raw RDB
		// blob); the connection orchestration layer handles this directly.
		return protocol.Value{}, false

	case "WAIT":
		return d.handleWait(args), true

	default:
		return errUnknown(fmt.Sprintf("unknown command '%s'", name)), true
	}
}

// ApplyReplicated applies one command observed on the replica's link to a
// primary. Per spec.md §4.4 "Replica mode": SET and PING are applied
// silently; anything else is logged but not replied to (GETACK is handled
// directly by replication.Link.Stream, not here).
func (d *Dispatcher) ApplyReplicated(name string, args []string) {
	switch name {
	case "SET":
		if v := d.handleSet(args, nil); v.Kind == protocol.SimpleError {
			d.Log.Warnw("replicated SET rejected", "args", args, "error", v.Str)
		}
	case "PING":
		// no-op: keeps the link alive, no reply expected.
	default:
		d.Log.Infow("ignoring unsupported command on replication stream", "name", name, "args", args)
	}
}

func errUnknown(msg string) protocol.Value {
	return protocol.NewSimpleError(msg)
}

func (d *Dispatcher) handleSet(args []string, raw []byte) protocol.Value {
	if len(args) != 2 && len(args) != 4 {
		return errUnknown("wrong number of arguments for 'set' command")
	}
	key, value := args[0], args[1]

	var ttl time.Duration
	if len(args) == 4 {
		if protocol.UpperASCII(args[2]) != "PX" {
			return errUnknown(fmt.Sprintf("syntax error near '%s'", args[2]))
		}
		ms, err := strconv.ParseInt(args[3], 10, 64)
		if err != nil {
			return errUnknown("value is not an integer or out of range")
		}
		if ms < 0 {
			return errUnknown("invalid expire time in 'set' command")
		}
		ttl = time.Duration(ms) * time.Millisecond
	}

	d.Store.Set(key, []byte(value), ttl)

	if raw != nil && d.Repl != nil {
		d.Repl.AddOffset(int64(len(raw)))
		d.Repl.FanOut.Enqueue(raw)
	}

	return protocol.NewSimpleString("OK")
}

func (d *Dispatcher) handleGet(args []string) protocol.Value {
	if len(args) != 1 {
		return errUnknown("wrong number of arguments for 'get' command")
	}
	v, ok := d.Store.Get(args[0])
	if !ok {
		return protocol.NullBulk
	}
	return protocol.NewBulkString(v)
}

func (d *Dispatcher) handleInfo(args []string) protocol.Value {
	if len(args) != 1 || protocol.LowerASCII(args[0]) != "replication" {
		return errUnknown("unknown INFO section")
	}

	role := config.RoleMaster
	if d.Config.IsReplica() {
		role = config.RoleSlave
	}
	replID, err := d.Config.MustGetString(config.KeyMasterReplID)
	if err != nil {
		return errUnknown(err.Error())
	}
	offset := "0"
	if d.Repl != nil {
		offset = strconv.FormatInt(d.Repl.Offset(), 10)
	} else if o, ok := d.Config.Get(config.KeyMasterReplOffset); ok {
		offset = o
	}

	payload := fmt.Sprintf("role:%s\r\nmaster_replid:%s\r\nmaster_repl_offset:%s\r\n", role, replID, offset)
	return protocol.NewBulkStringFromString(payload)
}

func (d *Dispatcher) handleReplConf(args []string) (protocol.Value, bool) {
	if len(args) < 2 {
		return errUnknown("wrong number of arguments for 'replconf' command"), true
	}
	switch protocol.LowerASCII(args[0]) {
	case "listening-port":
		port, err := strconv.Atoi(args[1])
		if err != nil || port < 1 || port > 65535 {
			return errUnknown("invalid listening-port"), true
		}
		return protocol.NewSimpleString("OK"), true
	case "capa":
		return protocol.NewSimpleString("OK"), true
	case "getack":
		// Handled by the replica-side stream loop, never reaches here as a
		// client command; present for completeness/symmetry.
		return protocol.NewSimpleString("OK"), true
	case "ack":
		// Observed by the WAIT poll loop directly on the socket, not via
		// the dispatcher; a stray ACK reaching here owes no reply.
		return protocol.Value{}, false
	default:
		return errUnknown(fmt.Sprintf("unrecognized REPLCONF option '%s'", args[0])), true
	}
}

func (d *Dispatcher) handleWait(args []string) protocol.Value {
	if len(args) != 2 {
		return errUnknown("wrong number of arguments for 'wait' command")
	}
	numReplicas, err := strconv.Atoi(args[0])
	if err != nil || numReplicas < 0 {
		return errUnknown("value is not an integer or out of range")
	}
	timeoutMs, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil || timeoutMs < 0 {
		return errUnknown("timeout is negative")
	}

	if d.Repl == nil {
		return protocol.NewInteger(0)
	}

	n := d.Repl.Registry.Wait(numReplicas, time.Duration(timeoutMs)*time.Millisecond)
	return protocol.NewInteger(int64(n))
}
