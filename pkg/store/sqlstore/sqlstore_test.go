package sqlstore

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hutchdns/hutch/pkg/name"
	"github.com/hutchdns/hutch/pkg/record"
	"github.com/hutchdns/hutch/pkg/store"
)

func TestRowToRecord(t *testing.T) {
	tests := []struct {
		name string
		row  recordRow
		want string
		err  bool
	}{
		{
			name: "a record",
			row:  recordRow{Name: "web.prod.example.com.", Type: "A", TTL: 60, Content: "192.168.1.10"},
			want: "web.prod.example.com. 60 A 192.168.1.10",
		},
		{
			name: "srv record",
			row:  recordRow{Name: "web._http._tcp.prod.example.com.", Type: "SRV", TTL: 60, Content: "0 0 80 web.prod.example.com."},
			want: "web._http._tcp.prod.example.com. 60 SRV 0 0 80 web.prod.example.com.",
		},
		{
			name: "txt record",
			row:  recordRow{Name: "web._http._tcp.prod.example.com.", Type: "TXT", TTL: 60, Content: `"path=/api"`},
			want: `web._http._tcp.prod.example.com. 60 TXT "path=/api"`,
		},
		{
			name: "malformed content",
			row:  recordRow{Name: "web.prod.example.com.", Type: "A", TTL: 60, Content: "not-an-ip"},
			err:  true,
		},
		{
			name: "malformed name",
			row:  recordRow{Name: "bad..name.", Type: "A", TTL: 60, Content: "192.168.1.10"},
			err:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := rowToRecord(tt.row)
			if tt.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, r.String())
		})
	}
}

func TestSnapshot(t *testing.T) {
	a := []recordRow{
		{TTL: 60, Content: "0 0 80 web.prod.example.com."},
		{TTL: 60, Content: "0 0 81 api.prod.example.com."},
	}
	b := []recordRow{
		{TTL: 60, Content: "0 0 81 api.prod.example.com."},
		{TTL: 60, Content: "0 0 80 web.prod.example.com."},
	}
	assert.Equal(t, snapshot(a), snapshot(b), "snapshot is order-independent")

	c := []recordRow{{TTL: 120, Content: "0 0 80 web.prod.example.com."}}
	assert.NotEqual(t, snapshot(a), snapshot(c), "TTL is part of the set identity")
	assert.Empty(t, snapshot(nil))
}

func TestSnapshotMembersMatchesRows(t *testing.T) {
	target := name.MustParse("web.prod.example.com.")
	members := []record.Record{
		{Name: name.MustParse("web._http._tcp.prod.example.com."), TTL: 60, Value: record.SRV{Port: 80, Target: target}},
	}
	rows := []recordRow{{TTL: 60, Content: "0 0 80 web.prod.example.com."}}
	assert.Equal(t, snapshot(rows), snapshotMembers(60, members),
		"a set written by us must compare equal when re-read")
}

func TestClassify(t *testing.T) {
	assert.NoError(t, classify(nil))
	assert.True(t, store.IsTransient(classify(errors.New("database is locked"))))
	assert.True(t, store.IsTransient(classify(errors.New("SQLITE_BUSY: database busy"))))

	plain := errors.New("no such table: records")
	got := classify(plain)
	assert.False(t, store.IsTransient(got))
	assert.False(t, store.IsConflict(got))
}

func TestOpenFromURLRejectsUnknownScheme(t *testing.T) {
	_, err := OpenFromURL("postgres://localhost/dns", name.MustParse("prod.example.com."))
	assert.Error(t, err)
}
