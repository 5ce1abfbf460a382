package replication

import (
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/kvreplica/kvreplica/internal/protocol"
)

// ErrHandshakeFailed is the StartupFatal condition of spec.md §7: any
// mismatch between an expected and actual handshake reply aborts startup.
var ErrHandshakeFailed = errors.New("replication: handshake with primary failed")

// StreamApplier applies a command observed on the replication link. It
// never writes a reply itself; the replica dispatcher's own client-facing
// semantics (spec.md §4.4 "Replica mode") are silent except for GETACK.
type StreamApplier interface {
	ApplyReplicated(name string, args []string)
}

// Link is an established connection to a primary, after a successful
// handshake, streaming write commands (spec.md §4.5.2).
type Link struct {
	conn   net.Conn
	framer *protocol.Framer
	replID string
	offset int64 // offset reported by the primary's FULLRESYNC reply

	bytesProcessed int64
	log            *zap.SugaredLogger
}

// ReplID returns the primary's replication ID captured during handshake.
func (l *Link) ReplID() string { return l.replID }

// Offset returns the offset reported in the primary's FULLRESYNC reply.
func (l *Link) Offset() int64 { return l.offset }

// BytesProcessed returns the cumulative count of replication-stream bytes
// applied so far (spec.md §8 invariant 4).
func (l *Link) BytesProcessed() int64 { return atomic.LoadInt64(&l.bytesProcessed) }

// Handshake dials host:port and performs the strict four-step replica-side
// handshake of spec.md §4.5.2, returning an established Link on success.
// Any mismatch between an expected and actual reply is fatal.
func Handshake(host string, port int, ownPort int, log *zap.SugaredLogger) (*Link, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(ErrHandshakeFailed, "dial %s: %v", addr, err)
	}

	framer := protocol.NewFramer(conn)

	if err := expectSimpleString(framer, protocol.SerializeCommand("PING"), "PONG"); err != nil {
		conn.Close()
		return nil, err
	}

	if err := expectSimpleString(framer, protocol.SerializeCommand("REPLCONF", "listening-port", strconv.Itoa(ownPort)), "OK"); err != nil {
		conn.Close()
		return nil, err
	}

	if err := expectSimpleString(framer, protocol.SerializeCommand("REPLCONF", "capa", "psync2"), "OK"); err != nil {
		conn.Close()
		return nil, err
	}

	if err := framer.WriteAll(protocol.SerializeCommand("PSYNC", "?", "-1")); err != nil {
		conn.Close()
		return nil, errors.Wrap(ErrHandshakeFailed, err.Error())
	}
	reply, _, err := framer.ReadValue()
	if err != nil {
		conn.Close()
		return nil, errors.Wrap(ErrHandshakeFailed, "reading FULLRESYNC: "+err.Error())
	}
	if reply.Kind != protocol.SimpleString {
		conn.Close()
		return nil, errors.Wrapf(ErrHandshakeFailed, "expected FULLRESYNC simple-string, got %v", reply)
	}
	replID, offset, err := parseFullResync(reply.Str)
	if err != nil {
		conn.Close()
		return nil, errors.Wrap(ErrHandshakeFailed, err.Error())
	}

	// Step 5: discard the RDB payload (persistence is out of scope).
	if _, err := framer.ReadRDB(); err != nil {
		conn.Close()
		return nil, errors.Wrap(ErrHandshakeFailed, "reading RDB snapshot: "+err.Error())
	}

	return &Link{conn: conn, framer: framer, replID: replID, offset: offset, log: log}, nil
}

func expectSimpleString(framer *protocol.Framer, request []byte, want string) error {
	if err := framer.WriteAll(request); err != nil {
		return errors.Wrap(ErrHandshakeFailed, err.Error())
	}
	v, _, err := framer.ReadValue()
	if err != nil {
		return errors.Wrap(ErrHandshakeFailed, err.Error())
	}
	if v.Kind != protocol.SimpleString || v.Str != want {
		return errors.Wrapf(ErrHandshakeFailed, "expected +%s, got %v", want, v)
	}
	return nil
}

func parseFullResync(s string) (replID string, offset int64, err error) {
	// "FULLRESYNC <replid> <offset>"
	const prefix = "FULLRESYNC "
	if len(s) <= len(prefix) || s[:len(prefix)] != prefix {
		return "", 0, errors.Errorf("malformed FULLRESYNC reply %q", s)
	}
	rest := s[len(prefix):]
	sp := indexByte(rest, ' ')
	if sp < 0 {
		return "", 0, errors.Errorf("malformed FULLRESYNC reply %q", s)
	}
	replID = rest[:sp]
	if verr := ValidateReplID(replID); verr != nil {
		return "", 0, verr
	}
	offset, perr := strconv.ParseInt(rest[sp+1:], 10, 64)
	if perr != nil {
		return "", 0, errors.Errorf("malformed FULLRESYNC offset %q", s)
	}
	return replID, offset, nil
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}

// Stream runs the long-lived replication-stream consumption loop (spec.md
// §4.5.2 step 6): frame one value, dispatch it to the applier, add its
// consumed byte length to bytesProcessed. A REPLCONF GETACK is answered
// with the replica's bytesProcessed computed BEFORE this frame's own bytes
// are added, per the resolved open question in spec.md §9.
func (l *Link) Stream(applier StreamApplier) error {
	for {
		v, consumed, err := l.framer.ReadValue()
		if err != nil {
			return err
		}

		name, args, ok := v.AsCommand()
		if !ok {
			atomic.AddInt64(&l.bytesProcessed, int64(len(consumed)))
			continue
		}

		if name == "REPLCONF" && len(args) == 2 && args[0] == "GETACK" {
			ack := protocol.Serialize(protocol.NewArray([]protocol.Value{
				protocol.NewBulkStringFromString("REPLCONF"),
				protocol.NewBulkStringFromString("ACK"),
				protocol.NewBulkStringFromString(strconv.FormatInt(l.BytesProcessed(), 10)),
			}))
			if werr := l.framer.WriteAll(ack); werr != nil {
				return werr
			}
		} else {
			applier.ApplyReplicated(name, args)
		}

		atomic.AddInt64(&l.bytesProcessed, int64(len(consumed)))
	}
}

// Close tears down the link to the primary.
func (l *Link) Close() error { return l.conn.Close() }

// RunWithReconnect repeatedly establishes and streams from host:port,
// reconnecting after a short backoff if the link drops, until stop is
// closed. A mid-session drop is not StartupFatal, unlike a handshake
// failure at startup (spec.md §7).
func RunWithReconnect(host string, port, ownPort int, applier StreamApplier, log *zap.SugaredLogger, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}

		link, err := Handshake(host, port, ownPort, log)
		if err != nil {
			log.Errorw("replica handshake failed", "error", err)
			select {
			case <-stop:
				return
			case <-time.After(5 * time.Second):
			}
			continue
		}

		log.Infow("replica handshake complete", "replid", link.ReplID(), "offset", link.Offset())
		err = link.Stream(applier)
		log.Warnw("replication stream ended", "error", err)
		link.Close()

		select {
		case <-stop:
			return
		case <-time.After(5 * time.Second):
		}
	}
}
