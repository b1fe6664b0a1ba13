package store

import (
	"context"

	"github.com/hutchdns/hutch/pkg/name"
	"github.com/hutchdns/hutch/pkg/record"
)

// RecordStore is the contract every remote record store adapter
// implements. A store manages exactly one zone. All record I/O uses
// absolute names.
//
// ReplaceSet is the only mutation: it atomically replaces the full
// (name, type) record set with members, deleting the set when members
// is empty. Each adapter realizes atomicity with its store's native
// concurrency primitive and maps rejections onto the shared error
// taxonomy: ConflictError when the set changed since the adapter last
// observed it, TransientError when the store is temporarily
// unavailable.
type RecordStore interface {
	// ListZoneRecords returns every record in the zone, flattened
	// across any internal pagination.
	ListZoneRecords(ctx context.Context) ([]record.Record, error)

	// FetchSet returns the current members of the (name, type) set.
	// An absent set yields an empty slice, not an error.
	FetchSet(ctx context.Context, n name.Name, t record.Type) ([]record.Record, error)

	// ReplaceSet atomically replaces the (name, type) set. An empty
	// members slice deletes the set. Replacing a set with its current
	// content is still issued as a write.
	ReplaceSet(ctx context.Context, n name.Name, t record.Type, ttl uint32, members []record.Record) error

	// Close releases the adapter's connections.
	Close() error
}
