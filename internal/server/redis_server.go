// Package server implements the connection orchestration layer of
// spec.md §5: the accept loop, per-connection tasks, the fan-out task and
// graceful shutdown, wired atop internal/dispatch, internal/replication
// and internal/store.
package server

import (
	"context"
	"net"
	"strconv"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kvreplica/kvreplica/internal/config"
	"github.com/kvreplica/kvreplica/internal/dispatch"
	"github.com/kvreplica/kvreplica/internal/protocol"
	"github.com/kvreplica/kvreplica/internal/replication"
	"github.com/kvreplica/kvreplica/internal/store"
)

// Server owns the listener, the dispatcher, the replication manager (when
// primary) and tracks live connections for graceful shutdown.
type Server struct {
	cfg      *Config
	reg      *config.Registry
	store    *store.Store
	disp     *dispatch.Dispatcher
	repl     *replication.Manager // nil when running as a replica
	log      *zap.SugaredLogger
	listener net.Listener

	mu          sync.Mutex
	conns       map[net.Conn]struct{}
	shutdown    bool
	replicaStop chan struct{}
}

// New builds a Server. rec, if non-nil, receives per-command metrics.
func New(cfg *Config, log *zap.SugaredLogger, rec dispatch.CommandRecorder) *Server {
	reg := config.New()
	st := store.New()

	var replMgr *replication.Manager
	if !cfg.IsReplica() {
		replMgr = replication.NewPrimaryManager(1024, log)
		reg.Set(config.KeyRole, config.RoleMaster)
		reg.Set(config.KeyMasterReplID, replMgr.ReplID())
		reg.Set(config.KeyMasterReplOffset, "0")
	} else {
		reg.Set(config.KeyRole, config.RoleSlave)
		reg.Set(config.KeyMasterHost, cfg.ReplicaOfHost)
		reg.Set(config.KeyMasterPort, strconv.Itoa(cfg.ReplicaOfPort))
	}

	disp := dispatch.New(st, reg, replMgr, rec, log)

	return &Server{
		cfg:         cfg,
		reg:         reg,
		store:       st,
		disp:        disp,
		repl:        replMgr,
		log:         log,
		conns:       make(map[net.Conn]struct{}),
		replicaStop: make(chan struct{}),
	}
}

// Run starts the listener and, for a primary, the fan-out task, then
// blocks until ctx is cancelled or a fatal error occurs. For a replica it
// also starts the handshake-and-stream loop against the configured primary
// (spec.md §4.5.2); a handshake failure at this point is StartupFatal.
func (s *Server) Run(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrap(err, "listen")
	}
	s.listener = listener
	s.log.Infow("listening", "addr", addr)

	if s.cfg.IsReplica() {
		link, err := replication.Handshake(s.cfg.ReplicaOfHost, s.cfg.ReplicaOfPort, s.cfg.Port, s.log)
		if err != nil {
			listener.Close()
			return errors.Wrap(err, "replica handshake")
		}
		s.reg.Set(config.KeyMasterReplID, link.ReplID())
		s.reg.Set(config.KeyMasterReplOffset, strconv.FormatInt(link.Offset(), 10))
		go func() {
			if err := link.Stream(s.disp); err != nil {
				s.log.Warnw("replication stream ended", "error", err)
			}
			link.Close()
			replication.RunWithReconnect(s.cfg.ReplicaOfHost, s.cfg.ReplicaOfPort, s.cfg.Port, s.disp, s.log, s.replicaStop)
		}()
	}

	g, gctx := errgroup.WithContext(ctx)

	if s.repl != nil {
		g.Go(func() error { return s.repl.FanOut.Run(gctx) })
	}

	g.Go(func() error {
		s.acceptLoop(gctx)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		return s.Shutdown()
	})

	return g.Wait()
}

func (s *Server) acceptLoop(ctx context.Context) {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			s.mu.Lock()
			down := s.shutdown
			s.mu.Unlock()
			if down {
				return
			}
			s.log.Warnw("accept error", "error", err)
			continue
		}

		s.mu.Lock()
		if len(s.conns) >= s.cfg.MaxConnections {
			s.mu.Unlock()
			conn.Close()
			continue
		}
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		go s.handleConnection(ctx, conn)
	}
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
	}()

	framer := protocol.NewFramer(conn)
	observer := replication.NewObserver()

	for {
		select {
		case <-ctx.Done():
			conn.Close()
			return
		default:
		}

		v, raw, err := framer.ReadValue()
		if err != nil {
			conn.Close()
			return
		}

		name, args, ok := v.AsCommand()
		if !ok {
			continue
		}

		if s.repl != nil {
			if observer.Observe(name, args) == replication.FullSynced {
				s.handlePSync(framer)
				s.promoteToReplica(framer, conn)
				return
			}
		}

		if name == "PSYNC" {
			s.handlePSync(framer)
			continue
		}

		reply, hasReply := s.disp.HandleClient(name, args, raw)
		if !hasReply {
			continue
		}
		if err := framer.WriteAll(protocol.Serialize(reply)); err != nil {
			conn.Close()
			return
		}
	}
}

// handlePSync writes the two-part FULLRESYNC response of spec.md §4.5.1:
// a simple-string reply followed immediately by the RDB blob, framed with
// no trailing CRLF.
func (s *Server) handlePSync(framer *protocol.Framer) {
	replID, offset := "", int64(0)
	if s.repl != nil {
		replID, offset = s.repl.ReplID(), s.repl.Offset()
	}
	resync := protocol.NewSimpleString("FULLRESYNC " + replID + " " + strconv.FormatInt(offset, 10))
	if err := framer.WriteAll(protocol.Serialize(resync)); err != nil {
		return
	}
	_ = framer.WriteAll(protocol.Serialize(protocol.NewRDBPayload(replication.EmptyRDB())))
}

// promoteToReplica moves a connection that completed the handshake state
// machine into the replica registry and hands it to the fan-out task,
// per the pre-sync/post-sync split in spec.md §9's design notes.
func (s *Server) promoteToReplica(framer *protocol.Framer, conn net.Conn) {
	r := replication.NewReplica(conn, framer)
	s.repl.Registry.Add(r)
	s.log.Infow("replica promoted", "id", r.ID, "addr", r.Addr)
}

// Shutdown closes the listener and every tracked client connection,
// aggregating any close errors with go-multierror (spec.md §5 cancellation
// policy). Connections already promoted to replicas are no longer tracked
// here and are not closed by Shutdown.
func (s *Server) Shutdown() error {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return nil
	}
	s.shutdown = true
	conns := make([]net.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	close(s.replicaStop)

	var result *multierror.Error
	if s.listener != nil {
		if err := s.listener.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	for _, c := range conns {
		if err := c.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// ReplicaCount reports the current number of registered replicas, e.g.
// for metrics.
func (s *Server) ReplicaCount() int {
	if s.repl == nil {
		return 0
	}
	return s.repl.Registry.Len()
}

// Offset reports the primary's accepted-write offset, or 0 on a replica.
func (s *Server) Offset() int64 {
	if s.repl == nil {
		return 0
	}
	return s.repl.Offset()
}
