// Package engine drives DNS record reconciliation from container
// lifecycle events.
//
// A single worker goroutine consumes a serialized message queue and is
// the only writer of container tracking state and the only caller into
// backends. All store mutations therefore happen strictly one at a
// time, in message order, and no synchronization is needed on the
// tracked-container map. Producers (the event watcher, signal handlers,
// the periodic reconcile ticker) enqueue messages and never touch state
// directly.
//
// Two reconciliation modes share one diff algorithm: full (startup, on
// demand, and on every full container listing) and incremental (per
// lifecycle event). A container that dies with a non-zero exit code and
// no preceding stop request keeps its records in place; crash-looping
// services are assumed likely to restart and flapping DNS is worse than
// temporarily stale records.
package engine
