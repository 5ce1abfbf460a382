// Package config implements the process-wide configuration registry of
// spec.md §3 "Configuration entry": a read-mostly map of server metadata
// (role, replication id/offset, ports, paths) created at startup and
// mutated only during the replica handshake.
package config

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/spf13/cast"
)

// Well-known keys recognized by INFO and the replication handshake.
const (
	KeyRole             = "role"
	KeyPort             = "port"
	KeyMasterHost       = "master_host"
	KeyMasterPort       = "master_port"
	KeyMasterReplID     = "master_replid"
	KeyMasterReplOffset = "master_repl_offset"
	KeyDir              = "dir"
	KeyDBFilename       = "dbfilename"
)

// Role values for KeyRole.
const (
	RoleMaster = "master"
	RoleSlave  = "slave"
)

// ErrMissingKey is returned by MustGet-style helpers and surfaces to
// clients as spec.md's "Missing configuration key during INFO" case.
var ErrMissingKey = errors.New("config: missing key")

// Registry is a thread-safe read-mostly map of string keys to string
// values. All mutation happens through Set; reads use Get or the typed
// cast-backed accessors.
type Registry struct {
	mu   sync.RWMutex
	data map[string]string
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{data: make(map[string]string)}
}

// Set stores or overwrites a key.
func (r *Registry) Set(key, value string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data[key] = value
}

// Get returns the raw string value and whether the key is present.
func (r *Registry) Get(key string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.data[key]
	return v, ok
}

// GetInt returns the value coerced to int via spf13/cast, for keys like
// master_repl_offset or port that are stored as strings but consumed as
// integers.
func (r *Registry) GetInt(key string) (int, error) {
	v, ok := r.Get(key)
	if !ok {
		return 0, errors.Wrapf(ErrMissingKey, "key %q", key)
	}
	n, err := cast.ToIntE(v)
	if err != nil {
		return 0, errors.Wrapf(err, "config key %q is not an integer", key)
	}
	return n, nil
}

// GetInt64 is the int64 counterpart of GetInt, used for master_repl_offset.
func (r *Registry) GetInt64(key string) (int64, error) {
	v, ok := r.Get(key)
	if !ok {
		return 0, errors.Wrapf(ErrMissingKey, "key %q", key)
	}
	n, err := cast.ToInt64E(v)
	if err != nil {
		return 0, errors.Wrapf(err, "config key %q is not an integer", key)
	}
	return n, nil
}

// MustGetString returns the value or ErrMissingKey, matching spec.md §7's
// "Missing configuration key during INFO" error path.
func (r *Registry) MustGetString(key string) (string, error) {
	v, ok := r.Get(key)
	if !ok {
		return "", errors.Wrapf(ErrMissingKey, "key %q", key)
	}
	return v, nil
}

// IsReplica reports whether the role key is currently "slave".
func (r *Registry) IsReplica() bool {
	v, _ := r.Get(KeyRole)
	return v == RoleSlave
}

// Snapshot returns a copy of the full map, for diagnostics/INFO building.
func (r *Registry) Snapshot() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.data))
	for k, v := range r.data {
		out[k] = v
	}
	return out
}
