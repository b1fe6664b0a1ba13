// Package backend layers DNS-SD publish and suppress semantics over a
// record store.
//
// Publish and Suppress dispatch on record type: single-valued types
// replace their record set, SRV and PTR merge into theirs, and
// suppressing the last SRV instance of a service cascades to its TXT
// set and prunes the parent PTR set. A records named after a shared IP
// are deferred on suppress and only removed by SuppressShared at
// shutdown. Conflicting writes retry a bounded number of times with
// cache refreshes in between; transient store failures retry without
// bound with growing backoff. Drivers register themselves by name in an
// explicit table consulted at construction.
package backend
