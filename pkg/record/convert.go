package record

import (
	"fmt"

	"github.com/hutchdns/hutch/pkg/name"
)

// ToAbsolute qualifies the record's name and every name-valued payload
// against base. Returns the record unchanged if it is already absolute.
// NS and SOA records cannot be converted. base must be absolute.
func (r Record) ToAbsolute(base name.Name) (Record, error) {
	if err := r.convertible(base); err != nil {
		return Record{}, err
	}
	if r.Name.IsAbsolute() {
		return r, nil
	}

	n, err := name.Concat(r.Name, base)
	if err != nil {
		return Record{}, fmt.Errorf("qualify %s: %w", r.Name, err)
	}
	v, err := r.Value.mapNames(func(p name.Name) (name.Name, error) {
		if p.IsAbsolute() {
			return p, nil
		}
		return name.Concat(p, base)
	})
	if err != nil {
		return Record{}, fmt.Errorf("qualify %s payload: %w", r.Name, err)
	}
	return Record{Name: n, TTL: r.TTL, Value: v}, nil
}

// ToRelative strips base from the record's name and every name-valued
// payload. Returns the record unchanged if it is already relative. Fails
// if an absolute name is not a subdomain of base.
func (r Record) ToRelative(base name.Name) (Record, error) {
	if err := r.convertible(base); err != nil {
		return Record{}, err
	}
	if !r.Name.IsAbsolute() {
		return r, nil
	}

	n, err := name.StripSuffix(r.Name, base)
	if err != nil {
		return Record{}, fmt.Errorf("unqualify %s: %w", r.Name, err)
	}
	v, err := r.Value.mapNames(func(p name.Name) (name.Name, error) {
		if !p.IsAbsolute() {
			return p, nil
		}
		return name.StripSuffix(p, base)
	})
	if err != nil {
		return Record{}, fmt.Errorf("unqualify %s payload: %w", r.Name, err)
	}
	return Record{Name: n, TTL: r.TTL, Value: v}, nil
}

func (r Record) convertible(base name.Name) error {
	switch r.Type() {
	case TypeNS, TypeSOA:
		return fmt.Errorf("unsupported record type %s", r.Type())
	case "":
		return fmt.Errorf("record %s has no value", r.Name)
	}
	if !base.IsAbsolute() {
		return fmt.Errorf("base %q is not absolute", base.String())
	}
	return nil
}
