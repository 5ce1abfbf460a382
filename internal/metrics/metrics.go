// Package metrics exposes a small Prometheus surface for the server on a
// separate admin HTTP listener (SPEC_FULL.md "Domain stack wiring"):
// command counts by name, a connected-replica gauge and the primary's
// master_repl_offset. Pulling /metrics never touches the RESP dispatch
// path.
package metrics

import (
	"context"
	"net"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ReplicationSource is polled on every scrape to populate the gauges that
// don't have a natural push site.
type ReplicationSource interface {
	ReplicaCount() int
	Offset() int64
}

// Recorder implements dispatch.CommandRecorder, incrementing a counter
// vector keyed by command name.
type Recorder struct {
	commands *prometheus.CounterVec
}

// NewRecorder builds a Recorder and registers its collectors against reg.
func NewRecorder(reg *prometheus.Registry) *Recorder {
	r := &Recorder{
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kvreplica",
			Name:      "commands_total",
			Help:      "Number of commands dispatched, by command name.",
		}, []string{"command"}),
	}
	reg.MustRegister(r.commands)
	return r
}

// RecordCommand implements dispatch.CommandRecorder.
func (r *Recorder) RecordCommand(name string) {
	r.commands.WithLabelValues(name).Inc()
}

// Server serves /metrics plus gauges sourced from a ReplicationSource, on
// its own listener decoupled from the RESP port.
type Server struct {
	httpServer *http.Server
}

// NewServer wires a gorilla/mux router exposing /metrics (promhttp handler
// against reg) and registers gauge collectors backed by src.
func NewServer(addr string, reg *prometheus.Registry, src ReplicationSource) *Server {
	replicas := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "kvreplica",
		Name:      "connected_replicas",
		Help:      "Number of replicas currently registered with this primary.",
	}, func() float64 { return float64(src.ReplicaCount()) })

	offset := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "kvreplica",
		Name:      "master_repl_offset",
		Help:      "Current replication offset, in bytes.",
	}, func() float64 { return float64(src.Offset()) })

	reg.MustRegister(replicas, offset)

	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	return &Server{httpServer: &http.Server{Addr: addr, Handler: router}}
}

// Run listens and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- s.httpServer.Serve(ln) }()

	select {
	case <-ctx.Done():
		return s.httpServer.Shutdown(context.Background())
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
