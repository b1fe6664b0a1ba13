// Package record implements DNS resource record values.
//
// A Record pairs a domain name and TTL with one typed payload variant.
// Content strings use the exact store wire forms: TXT as quoted,
// escaped strings, SRV as "priority weight port target", AAAA
// canonicalized to uppercase expanded hexadecimal groups. ToAbsolute
// and ToRelative convert every name a record carries, including payload
// targets, and reject NS and SOA records outright.
package record
