package replication

import (
	"sync/atomic"

	"go.uber.org/zap"
)

// Role is the server's replication role (spec.md §6 GLOSSARY: primary/replica,
// a.k.a. master/slave on the wire).
type Role string

const (
	RolePrimary Role = "master"
	RoleReplica Role = "slave"
)

// Manager is the primary-side replication state shared by the dispatcher,
// the connection orchestration layer and the fan-out task: role, this
// primary's replication ID, its accepted-write offset, the replica
// registry and the fan-out queue.
type Manager struct {
	role   Role
	replID string
	offset int64

	Registry *Registry
	FanOut   *FanOut
}

// NewPrimaryManager builds a Manager in primary mode with a freshly
// generated replication ID, an empty replica registry and a fan-out task
// fed from a queue of the given size.
func NewPrimaryManager(fanOutQueueSize int, log *zap.SugaredLogger) *Manager {
	reg := NewRegistry()
	return &Manager{
		role:     RolePrimary,
		replID:   GenerateReplID(),
		Registry: reg,
		FanOut:   NewFanOut(reg, fanOutQueueSize, log),
	}
}

// Role reports whether this server is acting as primary or replica.
func (m *Manager) Role() Role { return m.role }

// ReplID returns this primary's 40-hex replication ID.
func (m *Manager) ReplID() string { return m.replID }

// Offset returns the primary's cumulative accepted-write offset.
func (m *Manager) Offset() int64 { return atomic.LoadInt64(&m.offset) }

// AddOffset advances the primary's offset by n bytes, called once per
// accepted write command before it is enqueued for fan-out.
func (m *Manager) AddOffset(n int64) { atomic.AddInt64(&m.offset, n) }
