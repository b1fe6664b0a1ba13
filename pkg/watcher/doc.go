// Package watcher feeds the reconciliation engine from the containerd
// event stream.
//
// The watcher subscribes to task start, task exit, and container delete
// events and translates them into engine messages. Seed performs the
// initial full container listing. The event stream reconnects with a
// bounded, growing delay on transient failures; when the stream cannot
// be re-established after repeated attempts the watcher escalates a
// terminate message, since without a working event source no further
// correct decision can be made.
//
// Containers are identified to discovery by their containerd ID;
// operators set the instance label for friendly instance names.
package watcher
