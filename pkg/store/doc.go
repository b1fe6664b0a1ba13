// Package store defines the remote record store contract.
//
// A RecordStore exposes whole-zone listing, per-set reads, and atomic
// whole-set replacement. Concrete adapters realize replacement with
// their native concurrency primitive (version tokens, serializable
// transactions, or read-then-blind-write); all of them map failures to
// the two-valued taxonomy here: ConflictError when the set moved since
// it was last observed, TransientError when the store is temporarily
// unavailable. The Cache keeps the single worker's belief of remote
// state between reads.
package store
