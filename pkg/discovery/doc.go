// Package discovery translates container metadata into desired DNS
// records.
//
// Containers opt in through labels: a service label names the DNS-SD
// service, a port label gives the SRV port, and optional instance,
// protocol, and tags labels refine the advertisement. A labeled
// container produces four relative records in creation order: the
// instance address record, the SRV instance, its TXT metadata, and the
// PTR service pointer. Containers without a service label produce no
// records but are still tracked.
package discovery
