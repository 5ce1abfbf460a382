package replication

import (
	"context"

	"go.uber.org/zap"
)

// FanOut is the single shared FIFO queue of replication tasks described in
// spec.md §4.5.3: each task is the raw bytes of one accepted write command,
// and a long-lived worker writes every task to every registered replica, in
// registration order, dropping any replica whose write fails.
type FanOut struct {
	registry *Registry
	tasks    chan []byte
	log      *zap.SugaredLogger
}

// NewFanOut builds a FanOut backed by reg, buffering up to queueSize pending
// tasks before Enqueue blocks.
func NewFanOut(reg *Registry, queueSize int, log *zap.SugaredLogger) *FanOut {
	return &FanOut{
		registry: reg,
		tasks:    make(chan []byte, queueSize),
		log:      log,
	}
}

// Enqueue submits the raw consumed bytes of one accepted write command for
// propagation. It never blocks the caller on replica I/O — only on queue
// capacity, per spec.md §5's suspension-point rules.
func (f *FanOut) Enqueue(raw []byte) {
	f.tasks <- raw
}

// Run drains the task queue until ctx is cancelled, writing each task to
// every currently-registered replica. Intended to run as one long-lived
// goroutine per spec.md §5.
func (f *FanOut) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case raw := <-f.tasks:
			f.propagate(raw)
		}
	}
}

func (f *FanOut) propagate(raw []byte) {
	for _, r := range f.registry.Snapshot() {
		if err := r.write(raw); err != nil {
			f.log.Warnw("dropping replica after write failure", "replica", r.ID, "addr", r.Addr, "error", err)
			f.registry.Remove(r)
		}
	}
}
