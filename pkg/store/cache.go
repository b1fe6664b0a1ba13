package store

import (
	"context"

	"github.com/hutchdns/hutch/pkg/name"
	"github.com/hutchdns/hutch/pkg/record"
)

// Cache is a backend's in-memory belief about the current members of
// each (name, type) record set, refreshed lazily from the remote store.
// It avoids a read before most writes; it is never a source of truth.
// Every mutating decision taken from the cache is followed by a store
// write, and a conflict on that write forces a targeted Refresh before
// the decision is retried.
//
// The surface is deliberately small. Adding or removing a single value
// happens in the backend's write paths, which call Set with the full
// membership they just wrote; a full zone listing reseeds every
// observed set, standing in for a bulk refresh.
//
// A Cache belongs to exactly one backend and is only touched by the
// single reconciliation worker, so it carries no locking.
type Cache struct {
	store   RecordStore
	entries map[string][]record.Record
}

// NewCache creates an empty cache over s.
func NewCache(s RecordStore) *Cache {
	return &Cache{
		store:   s,
		entries: make(map[string][]record.Record),
	}
}

// Get returns the cached members of (n, t), defaulting to empty. The
// second return reports whether the entry has ever been populated.
func (c *Cache) Get(n name.Name, t record.Type) ([]record.Record, bool) {
	recs, ok := c.entries[record.SetKey(n, t)]
	return recs, ok
}

// Set replaces the cached entry for (n, t). Calling with no records
// marks the set as known-empty, which is distinct from never observed.
func (c *Cache) Set(n name.Name, t record.Type, recs ...record.Record) {
	c.entries[record.SetKey(n, t)] = recs
}

// Refresh re-reads (n, t) from the store, replacing the local belief.
func (c *Cache) Refresh(ctx context.Context, n name.Name, t record.Type) error {
	recs, err := c.store.FetchSet(ctx, n, t)
	if err != nil {
		return err
	}
	c.entries[record.SetKey(n, t)] = recs
	return nil
}

