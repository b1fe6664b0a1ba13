package record

import (
	"strings"
	"testing"

	"github.com/hutchdns/hutch/pkg/name"
)

var base = name.MustParse("prod.example.com.")

// TestRoundTripConversion tests to-absolute then to-relative identity for
// every supported type
func TestRoundTripConversion(t *testing.T) {
	tests := []struct {
		name string
		rec  Record
	}{
		{
			name: "A",
			rec:  Record{Name: name.MustParse("web"), TTL: 60, Value: A{Address: "192.168.1.10"}},
		},
		{
			name: "AAAA",
			rec:  Record{Name: name.MustParse("web"), TTL: 60, Value: AAAA{Address: "2001:db8::1"}},
		},
		{
			name: "CNAME",
			rec:  Record{Name: name.MustParse("alias"), TTL: 60, Value: CNAME{Target: name.MustParse("web")}},
		},
		{
			name: "TXT",
			rec:  Record{Name: name.MustParse("web._http._tcp"), TTL: 60, Value: TXT{Strings: []string{"version=1"}}},
		},
		{
			name: "SRV",
			rec: Record{Name: name.MustParse("web._http._tcp"), TTL: 60, Value: SRV{
				Priority: 0, Weight: 0, Port: 80, Target: name.MustParse("web"),
			}},
		},
		{
			name: "PTR",
			rec:  Record{Name: name.MustParse("_http._tcp"), TTL: 60, Value: PTR{Target: name.MustParse("web._http._tcp")}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			abs, err := tt.rec.ToAbsolute(base)
			if err != nil {
				t.Fatalf("ToAbsolute() error: %v", err)
			}
			if !abs.Name.IsAbsolute() {
				t.Fatalf("ToAbsolute() left name relative: %s", abs.Name)
			}

			back, err := abs.ToRelative(base)
			if err != nil {
				t.Fatalf("ToRelative() error: %v", err)
			}
			if !back.Equal(tt.rec) {
				t.Errorf("round trip = %v, want %v", back, tt.rec)
			}

			// Converting a record already in the target form is a no-op.
			again, err := abs.ToAbsolute(base)
			if err != nil {
				t.Fatalf("ToAbsolute() of absolute record error: %v", err)
			}
			if !again.Equal(abs) {
				t.Errorf("ToAbsolute() no-op changed record: %v != %v", again, abs)
			}
		})
	}
}

// TestConversionFailures tests the NS rejection and subdomain checks
func TestConversionFailures(t *testing.T) {
	t.Run("NS is unsupported", func(t *testing.T) {
		rec := Record{Name: name.MustParse("prod.example.com."), TTL: 3600, Value: NS{Target: name.MustParse("ns1.example.com.")}}
		if _, err := rec.ToRelative(base); err == nil {
			t.Error("ToRelative() of NS record should fail")
		}
		if _, err := rec.ToAbsolute(base); err == nil {
			t.Error("ToAbsolute() of NS record should fail")
		}
	})

	t.Run("SOA is unsupported", func(t *testing.T) {
		rec := Record{Name: name.MustParse("prod.example.com."), TTL: 3600, Value: SOA{Raw: "ns1 admin 1 2 3 4 5"}}
		if _, err := rec.ToRelative(base); err == nil {
			t.Error("ToRelative() of SOA record should fail")
		}
	})

	t.Run("absolute name outside base", func(t *testing.T) {
		rec := Record{Name: name.MustParse("web.other.org."), TTL: 60, Value: A{Address: "10.0.0.1"}}
		if _, err := rec.ToRelative(base); err == nil {
			t.Error("ToRelative() should fail for a name outside the base")
		}
	})

	t.Run("absolute payload outside base", func(t *testing.T) {
		rec := Record{Name: name.MustParse("web._http._tcp.prod.example.com."), TTL: 60, Value: SRV{
			Port: 80, Target: name.MustParse("web.other.org."),
		}}
		if _, err := rec.ToRelative(base); err == nil {
			t.Error("ToRelative() should fail for a payload target outside the base")
		}
	})
}

// TestEquality tests record identity semantics
func TestEquality(t *testing.T) {
	a := Record{Name: name.MustParse("web"), TTL: 60, Value: A{Address: "10.0.0.1"}}
	sameA := Record{Name: name.MustParse("WEB"), TTL: 60, Value: A{Address: "10.0.0.1"}}
	otherTTL := Record{Name: name.MustParse("web"), TTL: 120, Value: A{Address: "10.0.0.1"}}
	otherValue := Record{Name: name.MustParse("web"), TTL: 60, Value: A{Address: "10.0.0.2"}}

	if !a.Equal(sameA) {
		t.Error("Equal() should ignore name case")
	}
	if a.Equal(otherTTL) {
		t.Error("Equal() should distinguish TTLs: TTL changes are delete-plus-recreate")
	}
	if a.Equal(otherValue) {
		t.Error("Equal() should distinguish values")
	}
	if a.Key() == otherTTL.Key() {
		t.Error("Key() should incorporate the TTL")
	}
	if !a.SameValue(otherTTL) {
		t.Error("SameValue() should ignore the TTL")
	}
}

// TestTXTContent tests the quoted wire form
func TestTXTContent(t *testing.T) {
	tests := []struct {
		name    string
		strings []string
		want    string
	}{
		{
			name:    "empty string",
			strings: []string{""},
			want:    `""`,
		},
		{
			name:    "single token",
			strings: []string{"version=1"},
			want:    `"version=1"`,
		},
		{
			name:    "multiple tokens",
			strings: []string{"a=1", "b=2"},
			want:    `"a=1" "b=2"`,
		},
		{
			name:    "interior quote escaped",
			strings: []string{`say "hi"`},
			want:    `"say \"hi\""`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := TXT{Strings: tt.strings}
			if got := v.Content(); got != tt.want {
				t.Errorf("Content() = %s, want %s", got, tt.want)
			}

			parsed, err := ParseContent(TypeTXT, tt.want)
			if err != nil {
				t.Fatalf("ParseContent() error: %v", err)
			}
			got := parsed.(TXT).Strings
			if len(got) != len(tt.strings) {
				t.Fatalf("ParseContent() = %v, want %v", got, tt.strings)
			}
			for i := range got {
				if got[i] != tt.strings[i] {
					t.Errorf("ParseContent()[%d] = %q, want %q", i, got[i], tt.strings[i])
				}
			}
		})
	}
}

// TestCanonicalAAAA tests IPv6 canonicalization for store equality
func TestCanonicalAAAA(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"2001:db8::1", "2001:0DB8:0000:0000:0000:0000:0000:0001"},
		{"::1", "0000:0000:0000:0000:0000:0000:0000:0001"},
		{"fe80::aBcD", "FE80:0000:0000:0000:0000:0000:0000:ABCD"},
	}

	for _, tt := range tests {
		if got := CanonicalAAAA(tt.input); got != tt.want {
			t.Errorf("CanonicalAAAA(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}

	// Compressed and expanded spellings of one address compare equal.
	a := AAAA{Address: "2001:db8:0:0::1"}
	b := AAAA{Address: "2001:0db8::0001"}
	if a.key() != b.key() {
		t.Error("AAAA equality should use the canonical form")
	}
}

// TestParseContentSRV tests the "priority weight port target" form
func TestParseContentSRV(t *testing.T) {
	v, err := ParseContent(TypeSRV, "0 5 80 web.prod.example.com.")
	if err != nil {
		t.Fatalf("ParseContent() error: %v", err)
	}
	srv := v.(SRV)
	if srv.Priority != 0 || srv.Weight != 5 || srv.Port != 80 {
		t.Errorf("ParseContent() = %+v", srv)
	}
	if srv.Target.String() != "web.prod.example.com." {
		t.Errorf("ParseContent() target = %s", srv.Target)
	}

	for _, bad := range []string{"", "0 0 80", "0 0 notaport web.", "999999 0 80 web."} {
		if _, err := ParseContent(TypeSRV, bad); err == nil {
			t.Errorf("ParseContent(%q) should fail", bad)
		}
	}
}

// TestContentRendering spot-checks the wire forms against §6 expectations
func TestContentRendering(t *testing.T) {
	srv := SRV{Priority: 0, Weight: 0, Port: 80, Target: name.MustParse("web.prod.example.com.")}
	if got := srv.Content(); got != "0 0 80 web.prod.example.com." {
		t.Errorf("SRV.Content() = %q", got)
	}

	ptr := PTR{Target: name.MustParse("web._http._tcp.prod.example.com.")}
	if !strings.HasSuffix(ptr.Content(), ".") {
		t.Errorf("PTR.Content() should be absolute dotted form, got %q", ptr.Content())
	}
}
