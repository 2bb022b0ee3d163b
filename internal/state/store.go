// Package state provides the partition-scoped keyed state used by the
// deduplication engine, and its durable checkpoint persistence.
//
// Working state is an in-memory map owned exclusively by one partition
// worker. Durability comes from checkpoints: the whole keyed state, the
// source resume position, and the output segment manifest are committed
// in a single SQLite transaction per barrier epoch.
package state

// Store is the keyed state of a single partition: the highest sequence
// accepted so far for each key. A Store is owned by exactly one worker and
// is not safe for concurrent use.
type Store interface {
	// Get returns the last accepted sequence for key, and whether the key
	// has been seen at all.
	Get(key string) (int64, bool)

	// Put records seq as the last accepted sequence for key.
	Put(key string, seq int64)

	// Len returns the number of keys tracked.
	Len() int

	// Range calls fn for every entry until fn returns false.
	Range(fn func(key string, seq int64) bool)
}

// MemStore is the map-backed Store implementation.
type MemStore struct {
	entries map[string]int64
}

// NewMemStore creates an empty store.
func NewMemStore() *MemStore {
	return &MemStore{entries: make(map[string]int64)}
}

// NewMemStoreFrom creates a store seeded with restored entries.
func NewMemStoreFrom(entries map[string]int64) *MemStore {
	s := NewMemStore()
	for k, v := range entries {
		s.entries[k] = v
	}
	return s
}

func (s *MemStore) Get(key string) (int64, bool) {
	seq, ok := s.entries[key]
	return seq, ok
}

func (s *MemStore) Put(key string, seq int64) {
	s.entries[key] = seq
}

func (s *MemStore) Len() int {
	return len(s.entries)
}

func (s *MemStore) Range(fn func(key string, seq int64) bool) {
	for k, v := range s.entries {
		if !fn(k, v) {
			return
		}
	}
}

// Snapshot returns a copy of the store's entries.
func (s *MemStore) Snapshot() map[string]int64 {
	out := make(map[string]int64, len(s.entries))
	for k, v := range s.entries {
		out[k] = v
	}
	return out
}
