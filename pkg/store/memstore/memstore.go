// Package memstore implements an in-memory RecordStore with optimistic
// version tokens. It backs the "memory" backend for dry runs and gives
// tests a store whose conflict behavior matches the remote adapters.
package memstore

import (
	"context"
	"sync"

	"github.com/hutchdns/hutch/pkg/backend"
	"github.com/hutchdns/hutch/pkg/name"
	"github.com/hutchdns/hutch/pkg/record"
	"github.com/hutchdns/hutch/pkg/store"
)

type set struct {
	version uint64
	records []record.Record
}

// Store holds record sets keyed by (name, type). Every read notes the
// set's version; ReplaceSet rejects with a ConflictError when the set
// has moved past the version last observed by this store handle.
type Store struct {
	mu       sync.Mutex
	zone     name.Name
	sets     map[string]*set
	observed map[string]uint64

	// OnReplace, when set, runs before every replace and may inject a
	// failure. Used by tests to simulate persistent conflicts and
	// transient outages.
	OnReplace func(n name.Name, t record.Type) error
}

// New creates an empty store for the given absolute zone.
func New(zone name.Name) *Store {
	return &Store{
		zone:     zone,
		sets:     make(map[string]*set),
		observed: make(map[string]uint64),
	}
}

// Zone returns the store's managed zone.
func (s *Store) Zone() name.Name { return s.zone }

// ListZoneRecords returns every record and marks all sets observed.
func (s *Store) ListZoneRecords(ctx context.Context) ([]record.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []record.Record
	for key, st := range s.sets {
		out = append(out, st.records...)
		s.observed[key] = st.version
	}
	return out, nil
}

// FetchSet returns the members of (n, t) and marks the set observed.
func (s *Store) FetchSet(ctx context.Context, n name.Name, t record.Type) ([]record.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := record.SetKey(n, t)
	st, ok := s.sets[key]
	if !ok {
		s.observed[key] = 0
		return nil, nil
	}
	s.observed[key] = st.version
	out := make([]record.Record, len(st.records))
	copy(out, st.records)
	return out, nil
}

// ReplaceSet replaces (n, t) if the set's version still matches the one
// last observed through this handle; otherwise it rejects with a
// ConflictError. An empty members slice deletes the set.
func (s *Store) ReplaceSet(ctx context.Context, n name.Name, t record.Type, ttl uint32, members []record.Record) error {
	if s.OnReplace != nil {
		if err := s.OnReplace(n, t); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := record.SetKey(n, t)
	current := uint64(0)
	if st, ok := s.sets[key]; ok {
		current = st.version
	}
	if s.observed[key] != current {
		return store.Conflictf("(%s, %s)", n, t)
	}

	if len(members) == 0 {
		delete(s.sets, key)
		s.observed[key] = 0
		return nil
	}

	kept := make([]record.Record, len(members))
	copy(kept, members)
	next := &set{version: current + 1, records: kept}
	s.sets[key] = next
	s.observed[key] = next.version
	return nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

// Seed installs records out-of-band, bumping the set version without
// updating this handle's observation. A subsequent ReplaceSet conflicts
// until the set is re-read, which is how tests model another writer.
func (s *Store) Seed(recs ...record.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range recs {
		key := r.SetKey()
		st, ok := s.sets[key]
		if !ok {
			st = &set{}
			s.sets[key] = st
		}
		st.records = append(st.records, r)
		st.version++
	}
}

// Dump returns every record without touching observations. Test helper.
func (s *Store) Dump() []record.Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []record.Record
	for _, st := range s.sets {
		out = append(out, st.records...)
	}
	return out
}

func init() {
	backend.RegisterDriver("memory", func(zone name.Name, settings map[string]string) (store.RecordStore, error) {
		return New(zone), nil
	})
}
