// Package store implements the expiring keyspace store of spec.md §4.3: a
// thread-safe map of bytes to bytes with optional PX expiration, shared
// across all connection tasks. Locking is sharded by key hash so unrelated
// keys never contend, and the lock is never held across I/O.
package store

import (
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

const shardCount = 32

type entry struct {
	value     []byte
	version   uint64
	expiresAt time.Time // zero means no expiry
}

type shard struct {
	mu   sync.Mutex
	data map[string]*entry
}

// Store is the sharded, version-guarded keyspace store. The zero value is
// not usable; construct with New.
type Store struct {
	shards [shardCount]*shard
}

// New builds an empty Store with all shards initialized.
func New() *Store {
	s := &Store{}
	for i := range s.shards {
		s.shards[i] = &shard{data: make(map[string]*entry)}
	}
	return s
}

func (s *Store) shardFor(key string) *shard {
	h := xxhash.Sum64String(key)
	return s.shards[h%shardCount]
}

// Set writes key=value. If ttl > 0, the key expires ttl after now; a
// deferred delete is scheduled that only fires for the version it was
// scheduled against, so a later Set of the same key is never clobbered by a
// stale expiry (spec.md §4.3's version-guarded refinement of the source's
// race).
func (s *Store) Set(key string, value []byte, ttl time.Duration) {
	sh := s.shardFor(key)

	sh.mu.Lock()
	e, exists := sh.data[key]
	if !exists {
		e = &entry{}
		sh.data[key] = e
	}
	e.version++
	version := e.version
	e.value = append([]byte(nil), value...)
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	} else {
		e.expiresAt = time.Time{}
	}
	hasExpiry := ttl > 0
	sh.mu.Unlock()

	if hasExpiry {
		time.AfterFunc(ttl, func() {
			s.expireIfVersion(key, version)
		})
	}
}

// expireIfVersion deletes key only if it is still at the version that
// scheduled this deletion — the guard against the overwrite race. Versions
// restart at 1 once a key has been deleted, so the stored deadline is also
// checked: an entry with no expiry, or one not yet due, is left alone.
func (s *Store) expireIfVersion(key string, version uint64) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.data[key]
	if !ok || e.version != version || e.expiresAt.IsZero() || time.Now().Before(e.expiresAt) {
		return
	}
	delete(sh.data, key)
}

// Get returns the value for key and whether it was present and unexpired.
// A lazily-discovered expired key (deadline passed but the deferred
// deleter has not yet fired) is removed on read as defense in depth.
func (s *Store) Get(key string) ([]byte, bool) {
	sh := s.shardFor(key)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.data[key]
	if !ok {
		return nil, false
	}
	if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		delete(sh.data, key)
		return nil, false
	}
	out := append([]byte(nil), e.value...)
	return out, true
}

// Delete removes key unconditionally, returning whether it was present.
func (s *Store) Delete(key string) bool {
	sh := s.shardFor(key)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	_, ok := sh.data[key]
	if ok {
		delete(sh.data, key)
	}
	return ok
}
