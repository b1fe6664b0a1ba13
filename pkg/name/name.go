package name

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrAbsolute is returned when an operation requires a relative name
	ErrAbsolute = errors.New("name is absolute")

	// ErrNotSubdomain is returned when a name is not under the requested base
	ErrNotSubdomain = errors.New("name is not a subdomain of base")

	// ErrEmpty is returned when an operation needs at least one label
	ErrEmpty = errors.New("name has no labels")
)

// Name is a DNS domain name: an ordered list of labels plus an absolute
// flag. A name parsed from "web.example.com." is absolute; "web" is
// relative. Names are immutable after construction.
type Name struct {
	labels   []string
	absolute bool
}

// Parse parses a dotted name. A trailing dot marks the name absolute.
// The root name "." and the empty relative name "" are both valid.
func Parse(s string) (Name, error) {
	if s == "" {
		return Name{}, nil
	}
	if s == "." {
		return Name{absolute: true}, nil
	}

	absolute := strings.HasSuffix(s, ".")
	trimmed := strings.TrimSuffix(s, ".")

	labels := strings.Split(trimmed, ".")
	for _, l := range labels {
		if l == "" {
			return Name{}, fmt.Errorf("empty label in name %q", s)
		}
		if len(l) > 63 {
			return Name{}, fmt.Errorf("label %q exceeds 63 octets", l)
		}
	}

	return Name{labels: labels, absolute: absolute}, nil
}

// MustParse is Parse for names known to be valid at compile time.
// It panics on error and is intended for constants and tests.
func MustParse(s string) Name {
	n, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return n
}

// FromLabels builds a name from pre-split labels.
func FromLabels(labels []string, absolute bool) Name {
	out := make([]string, len(labels))
	copy(out, labels)
	return Name{labels: out, absolute: absolute}
}

// String renders the dotted form. Absolute names carry a trailing dot.
func (n Name) String() string {
	s := strings.Join(n.labels, ".")
	if n.absolute {
		return s + "."
	}
	return s
}

// IsAbsolute reports whether the name is fully qualified.
func (n Name) IsAbsolute() bool {
	return n.absolute
}

// IsEmpty reports whether the name has no labels.
func (n Name) IsEmpty() bool {
	return len(n.labels) == 0
}

// Labels returns a copy of the name's labels in left-to-right order.
func (n Name) Labels() []string {
	out := make([]string, len(n.labels))
	copy(out, n.labels)
	return out
}

// First returns the leftmost label, or "" for an empty name.
func (n Name) First() string {
	if len(n.labels) == 0 {
		return ""
	}
	return n.labels[0]
}

// Equal compares labels case-insensitively and the absolute flag.
func (n Name) Equal(other Name) bool {
	if n.absolute != other.absolute || len(n.labels) != len(other.labels) {
		return false
	}
	for i := range n.labels {
		if !strings.EqualFold(n.labels[i], other.labels[i]) {
			return false
		}
	}
	return true
}

// Concat appends suffix to n. n must be relative; the result takes its
// absoluteness from suffix.
func Concat(n, suffix Name) (Name, error) {
	if n.absolute {
		return Name{}, fmt.Errorf("concat %s + %s: %w", n, suffix, ErrAbsolute)
	}
	labels := make([]string, 0, len(n.labels)+len(suffix.labels))
	labels = append(labels, n.labels...)
	labels = append(labels, suffix.labels...)
	return Name{labels: labels, absolute: suffix.absolute}, nil
}

// StripSuffix removes base from the end of n, producing a relative name.
// n and base must share the same absoluteness and base must be a suffix
// of n. Stripping a name from itself yields the empty relative name.
func StripSuffix(n, base Name) (Name, error) {
	if n.absolute != base.absolute {
		return Name{}, fmt.Errorf("strip %s - %s: absoluteness mismatch", n, base)
	}
	if len(base.labels) > len(n.labels) {
		return Name{}, fmt.Errorf("strip %s - %s: %w", n, base, ErrNotSubdomain)
	}
	offset := len(n.labels) - len(base.labels)
	for i, l := range base.labels {
		if !strings.EqualFold(n.labels[offset+i], l) {
			return Name{}, fmt.Errorf("strip %s - %s: %w", n, base, ErrNotSubdomain)
		}
	}
	labels := make([]string, offset)
	copy(labels, n.labels[:offset])
	return Name{labels: labels}, nil
}

// Parent drops the leftmost label. The absolute flag is preserved.
func (n Name) Parent() (Name, error) {
	if len(n.labels) == 0 {
		return Name{}, ErrEmpty
	}
	labels := make([]string, len(n.labels)-1)
	copy(labels, n.labels[1:])
	return Name{labels: labels, absolute: n.absolute}, nil
}

// HasSuffix reports whether base is a suffix of n, ignoring absoluteness.
func (n Name) HasSuffix(base Name) bool {
	if len(base.labels) > len(n.labels) {
		return false
	}
	offset := len(n.labels) - len(base.labels)
	for i, l := range base.labels {
		if !strings.EqualFold(n.labels[offset+i], l) {
			return false
		}
	}
	return true
}
