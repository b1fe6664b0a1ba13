package record

import (
	"fmt"
	"strings"

	"github.com/hutchdns/hutch/pkg/name"
)

// Type is a DNS resource record type. Only the publishable types are ever
// written; NS and SOA appear in zone listings and are rejected on the
// mutation paths.
type Type string

const (
	TypeA     Type = "A"
	TypeAAAA  Type = "AAAA"
	TypeCNAME Type = "CNAME"
	TypeTXT   Type = "TXT"
	TypeSRV   Type = "SRV"
	TypePTR   Type = "PTR"
	TypeNS    Type = "NS"
	TypeSOA   Type = "SOA"
)

// Publishable reports whether the type may appear on a publish or
// suppress path.
func (t Type) Publishable() bool {
	switch t {
	case TypeA, TypeAAAA, TypeCNAME, TypeTXT, TypeSRV, TypePTR:
		return true
	}
	return false
}

// Record is one immutable resource record. The record type is implied by
// the value's variant. Records produced by discovery carry relative
// names; records read from a store carry absolute names; conversion
// happens at the backend boundary.
type Record struct {
	Name  name.Name
	TTL   uint32
	Value Value
}

// New builds a record, validating that the value variant is present.
func New(n name.Name, ttl uint32, v Value) (Record, error) {
	if v == nil {
		return Record{}, fmt.Errorf("record %s: nil value", n)
	}
	return Record{Name: n, TTL: ttl, Value: v}, nil
}

// Type returns the record type implied by the value.
func (r Record) Type() Type {
	if r.Value == nil {
		return ""
	}
	return r.Value.Type()
}

// Equal reports record identity: name, ttl, and value. Records that
// differ only in TTL are distinct, which is how TTL-only changes surface
// as delete-plus-recreate in a diff.
func (r Record) Equal(other Record) bool {
	return r.TTL == other.TTL &&
		r.Type() == other.Type() &&
		r.Name.Equal(other.Name) &&
		r.Value.key() == other.Value.key()
}

// SameValue reports whether two records carry the same typed value,
// ignoring name and TTL. Used for record-set membership checks.
func (r Record) SameValue(other Record) bool {
	return r.Type() == other.Type() && r.Value.key() == other.Value.key()
}

// Key returns a string identity suitable for map-backed record sets.
// Two records are Equal exactly when their keys match.
func (r Record) Key() string {
	return fmt.Sprintf("%s|%d|%s|%s",
		strings.ToLower(r.Name.String()), r.TTL, r.Type(), r.Value.key())
}

// SetKey identifies the (name, type) record set the record belongs to.
func (r Record) SetKey() string {
	return SetKey(r.Name, r.Type())
}

// SetKey builds the (name, type) record-set identity for arbitrary input.
func SetKey(n name.Name, t Type) string {
	return strings.ToLower(n.String()) + "|" + string(t)
}

func (r Record) String() string {
	return fmt.Sprintf("%s %d %s %s", r.Name, r.TTL, r.Type(), r.Value.Content())
}

// Contains reports whether recs holds a record Equal to r.
func Contains(recs []Record, r Record) bool {
	for _, c := range recs {
		if c.Equal(r) {
			return true
		}
	}
	return false
}

// Without returns recs with every record Equal to r removed.
func Without(recs []Record, r Record) []Record {
	out := make([]Record, 0, len(recs))
	for _, c := range recs {
		if !c.Equal(r) {
			out = append(out, c)
		}
	}
	return out
}
