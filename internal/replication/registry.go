package replication

import (
	"net"
	"sync"

	"github.com/google/uuid"

	"github.com/kvreplica/kvreplica/internal/protocol"
)

// Replica is a connection that has completed the primary-side handshake
// (spec.md §4.5.1) and now receives the fan-out write stream.
type Replica struct {
	ID     string // session identifier, NOT the 40-hex master replid
	Addr   string
	conn   net.Conn
	framer *protocol.Framer

	mu     sync.Mutex
	offset int64 // bytes written to this replica so far
}

// NewReplica wraps an already-promoted connection as a registry entry.
func NewReplica(conn net.Conn, framer *protocol.Framer) *Replica {
	return &Replica{
		ID:     uuid.NewString(),
		Addr:   conn.RemoteAddr().String(),
		conn:   conn,
		framer: framer,
	}
}

// Offset returns the number of bytes written to this replica so far.
func (r *Replica) Offset() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.offset
}

func (r *Replica) write(b []byte) error {
	if err := r.framer.WriteAll(b); err != nil {
		return err
	}
	r.mu.Lock()
	r.offset += int64(len(b))
	r.mu.Unlock()
	return nil
}

// Registry is the mutex-guarded, insertion-ordered set of connected
// replicas (spec.md §5 "replica registry"; §9 notes either a list or a
// vector is acceptable since only insertion order matters — this uses a
// slice).
type Registry struct {
	mu       sync.Mutex
	replicas []*Replica
}

// NewRegistry builds an empty replica registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Add appends r to the registry.
func (reg *Registry) Add(r *Replica) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.replicas = append(reg.replicas, r)
}

// Remove drops r from the registry, e.g. after a fan-out write error.
func (reg *Registry) Remove(r *Replica) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	for i, cand := range reg.replicas {
		if cand == r {
			reg.replicas = append(reg.replicas[:i], reg.replicas[i+1:]...)
			return
		}
	}
}

// Snapshot returns a copy of the current replica set, preserving
// registration order, for the WAIT quorum probe (spec.md §4.5.4 step 1).
func (reg *Registry) Snapshot() []*Replica {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	out := make([]*Replica, len(reg.replicas))
	copy(out, reg.replicas)
	return out
}

// Len reports the current replica count, e.g. for metrics.
func (reg *Registry) Len() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return len(reg.replicas)
}
