package record

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/hutchdns/hutch/pkg/name"
)

// Value is the typed payload of a record. Content renders the store wire
// format; key is the case-normalized identity used for equality.
type Value interface {
	Type() Type
	Content() string
	key() string

	// mapNames applies f to every name-valued payload field. Types
	// without name payloads return themselves.
	mapNames(f func(name.Name) (name.Name, error)) (Value, error)
}

// A is an IPv4 address payload.
type A struct {
	Address string
}

func (v A) Type() Type      { return TypeA }
func (v A) Content() string { return v.Address }
func (v A) key() string     { return v.Address }
func (v A) mapNames(func(name.Name) (name.Name, error)) (Value, error) {
	return v, nil
}

// AAAA is an IPv6 address payload. The address is held verbatim;
// Content renders the canonical store form (uppercase, fully expanded
// hexadecimal groups) so that equality against store reads is exact.
type AAAA struct {
	Address string
}

func (v AAAA) Type() Type      { return TypeAAAA }
func (v AAAA) Content() string { return CanonicalAAAA(v.Address) }
func (v AAAA) key() string     { return CanonicalAAAA(v.Address) }
func (v AAAA) mapNames(func(name.Name) (name.Name, error)) (Value, error) {
	return v, nil
}

// CanonicalAAAA expands an IPv6 address to eight uppercase hexadecimal
// groups. Unparseable input is returned unchanged.
func CanonicalAAAA(s string) string {
	ip := net.ParseIP(s)
	if ip == nil {
		return s
	}
	v6 := ip.To16()
	if v6 == nil || ip.To4() != nil {
		return s
	}
	groups := make([]string, 8)
	for i := 0; i < 8; i++ {
		groups[i] = fmt.Sprintf("%04X", uint16(v6[2*i])<<8|uint16(v6[2*i+1]))
	}
	return strings.Join(groups, ":")
}

// CNAME is an alias payload.
type CNAME struct {
	Target name.Name
}

func (v CNAME) Type() Type      { return TypeCNAME }
func (v CNAME) Content() string { return v.Target.String() }
func (v CNAME) key() string     { return strings.ToLower(v.Target.String()) }
func (v CNAME) mapNames(f func(name.Name) (name.Name, error)) (Value, error) {
	t, err := f(v.Target)
	if err != nil {
		return nil, err
	}
	return CNAME{Target: t}, nil
}

// PTR is a service-enumeration pointer payload.
type PTR struct {
	Target name.Name
}

func (v PTR) Type() Type      { return TypePTR }
func (v PTR) Content() string { return v.Target.String() }
func (v PTR) key() string     { return strings.ToLower(v.Target.String()) }
func (v PTR) mapNames(f func(name.Name) (name.Name, error)) (Value, error) {
	t, err := f(v.Target)
	if err != nil {
		return nil, err
	}
	return PTR{Target: t}, nil
}

// SRV is a service-instance payload. Content is "priority weight port
// target" with the target in dotted form.
type SRV struct {
	Priority uint16
	Weight   uint16
	Port     uint16
	Target   name.Name
}

func (v SRV) Type() Type { return TypeSRV }
func (v SRV) Content() string {
	return fmt.Sprintf("%d %d %d %s", v.Priority, v.Weight, v.Port, v.Target)
}
func (v SRV) key() string {
	return fmt.Sprintf("%d %d %d %s", v.Priority, v.Weight, v.Port, strings.ToLower(v.Target.String()))
}
func (v SRV) mapNames(f func(name.Name) (name.Name, error)) (Value, error) {
	t, err := f(v.Target)
	if err != nil {
		return nil, err
	}
	v.Target = t
	return v, nil
}

// TXT is an ordered list of opaque strings. Content is the space-joined
// quoted form with interior quotes escaped.
type TXT struct {
	Strings []string
}

func (v TXT) Type() Type { return TypeTXT }
func (v TXT) Content() string {
	parts := make([]string, len(v.Strings))
	for i, s := range v.Strings {
		parts[i] = `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
	}
	return strings.Join(parts, " ")
}
func (v TXT) key() string { return v.Content() }
func (v TXT) mapNames(func(name.Name) (name.Name, error)) (Value, error) {
	return v, nil
}

// NS appears in zone listings only; it is rejected by conversion and is
// never published.
type NS struct {
	Target name.Name
}

func (v NS) Type() Type      { return TypeNS }
func (v NS) Content() string { return v.Target.String() }
func (v NS) key() string     { return strings.ToLower(v.Target.String()) }
func (v NS) mapNames(func(name.Name) (name.Name, error)) (Value, error) {
	return nil, fmt.Errorf("unsupported record type NS")
}

// SOA appears in zone listings only. The content is kept verbatim.
type SOA struct {
	Raw string
}

func (v SOA) Type() Type      { return TypeSOA }
func (v SOA) Content() string { return v.Raw }
func (v SOA) key() string     { return v.Raw }
func (v SOA) mapNames(func(name.Name) (name.Name, error)) (Value, error) {
	return nil, fmt.Errorf("unsupported record type SOA")
}

// ParseContent parses store content text into a typed value.
func ParseContent(t Type, content string) (Value, error) {
	switch t {
	case TypeA:
		ip := net.ParseIP(content)
		if ip == nil || ip.To4() == nil {
			return nil, fmt.Errorf("invalid A content %q", content)
		}
		return A{Address: content}, nil
	case TypeAAAA:
		ip := net.ParseIP(content)
		if ip == nil || ip.To4() != nil {
			return nil, fmt.Errorf("invalid AAAA content %q", content)
		}
		return AAAA{Address: content}, nil
	case TypeCNAME:
		n, err := name.Parse(content)
		if err != nil {
			return nil, fmt.Errorf("invalid CNAME content %q: %w", content, err)
		}
		return CNAME{Target: n}, nil
	case TypePTR:
		n, err := name.Parse(content)
		if err != nil {
			return nil, fmt.Errorf("invalid PTR content %q: %w", content, err)
		}
		return PTR{Target: n}, nil
	case TypeNS:
		n, err := name.Parse(content)
		if err != nil {
			return nil, fmt.Errorf("invalid NS content %q: %w", content, err)
		}
		return NS{Target: n}, nil
	case TypeSOA:
		return SOA{Raw: content}, nil
	case TypeSRV:
		fields := strings.Fields(content)
		if len(fields) != 4 {
			return nil, fmt.Errorf("invalid SRV content %q", content)
		}
		prio, err := strconv.ParseUint(fields[0], 10, 16)
		if err != nil {
			return nil, fmt.Errorf("invalid SRV priority %q: %w", fields[0], err)
		}
		weight, err := strconv.ParseUint(fields[1], 10, 16)
		if err != nil {
			return nil, fmt.Errorf("invalid SRV weight %q: %w", fields[1], err)
		}
		port, err := strconv.ParseUint(fields[2], 10, 16)
		if err != nil {
			return nil, fmt.Errorf("invalid SRV port %q: %w", fields[2], err)
		}
		target, err := name.Parse(fields[3])
		if err != nil {
			return nil, fmt.Errorf("invalid SRV target %q: %w", fields[3], err)
		}
		return SRV{Priority: uint16(prio), Weight: uint16(weight), Port: uint16(port), Target: target}, nil
	case TypeTXT:
		strs, err := parseTXT(content)
		if err != nil {
			return nil, err
		}
		return TXT{Strings: strs}, nil
	default:
		return nil, fmt.Errorf("unsupported record type %s", t)
	}
}

// parseTXT reads space-separated quoted tokens with \" escapes. A bare
// unquoted token is accepted as a single string for stores that strip
// quoting on read.
func parseTXT(content string) ([]string, error) {
	if content == "" {
		return []string{""}, nil
	}
	if !strings.Contains(content, `"`) {
		return []string{content}, nil
	}

	var out []string
	var cur strings.Builder
	inQuote := false
	escaped := false
	for _, r := range content {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case r == '\\' && inQuote:
			escaped = true
		case r == '"':
			if inQuote {
				out = append(out, cur.String())
				cur.Reset()
			}
			inQuote = !inQuote
		case inQuote:
			cur.WriteRune(r)
		case r == ' ':
			// separator between tokens
		default:
			return nil, fmt.Errorf("invalid TXT content %q", content)
		}
	}
	if inQuote || escaped {
		return nil, fmt.Errorf("unterminated TXT content %q", content)
	}
	return out, nil
}
