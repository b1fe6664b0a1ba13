package backend_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hutchdns/hutch/pkg/backend"
	"github.com/hutchdns/hutch/pkg/log"
	"github.com/hutchdns/hutch/pkg/name"
	"github.com/hutchdns/hutch/pkg/record"
	"github.com/hutchdns/hutch/pkg/store"
	"github.com/hutchdns/hutch/pkg/store/memstore"
)

var zone = name.MustParse("prod.example.com.")

func TestMain(m *testing.M) {
	log.Init(log.Config{Level: log.ErrorLevel, JSONOutput: true, Output: io.Discard})
	os.Exit(m.Run())
}

func newBackend(t *testing.T) (*backend.Backend, *memstore.Store) {
	t.Helper()
	ms := memstore.New(zone)
	b, err := backend.NewWithStore("test", zone, ms)
	require.NoError(t, err)
	return b, ms
}

func rrA(t *testing.T, n string, addr string) record.Record {
	t.Helper()
	return record.Record{Name: name.MustParse(n), TTL: 60, Value: record.A{Address: addr}}
}

func rrSRV(t *testing.T, n string, port uint16, target string) record.Record {
	t.Helper()
	return record.Record{Name: name.MustParse(n), TTL: 60, Value: record.SRV{
		Port: port, Target: name.MustParse(target),
	}}
}

func rrTXT(t *testing.T, n string, strs ...string) record.Record {
	t.Helper()
	if len(strs) == 0 {
		strs = []string{""}
	}
	return record.Record{Name: name.MustParse(n), TTL: 60, Value: record.TXT{Strings: strs}}
}

func rrPTR(t *testing.T, n string, target string) record.Record {
	t.Helper()
	return record.Record{Name: name.MustParse(n), TTL: 60, Value: record.PTR{Target: name.MustParse(target)}}
}

func relativeSet(t *testing.T, b *backend.Backend, n string, typ record.Type) []record.Record {
	t.Helper()
	live, err := b.RecordsInZone(context.Background())
	require.NoError(t, err)
	var out []record.Record
	for _, r := range live {
		if r.Type() == typ && r.Name.Equal(name.MustParse(n)) {
			out = append(out, r)
		}
	}
	return out
}

// TestPublishIdempotent verifies publishing the same record twice
// against an empty store yields exactly one record
func TestPublishIdempotent(t *testing.T) {
	tests := []struct {
		name string
		rec  record.Record
	}{
		{name: "A record set", rec: rrA(t, "web", "192.168.1.10")},
		{name: "SRV record add", rec: rrSRV(t, "web._http._tcp", 80, "web")},
		{name: "PTR record add", rec: rrPTR(t, "_http._tcp", "web._http._tcp")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, _ := newBackend(t)
			ctx := context.Background()

			require.NoError(t, b.Publish(ctx, tt.rec))
			require.NoError(t, b.Publish(ctx, tt.rec))

			got := relativeSet(t, b, tt.rec.Name.String(), tt.rec.Type())
			require.Len(t, got, 1)
			assert.True(t, got[0].Equal(tt.rec))
		})
	}
}

// TestPublishLastWriterWins verifies single-valued types replace their set
func TestPublishLastWriterWins(t *testing.T) {
	b, _ := newBackend(t)
	ctx := context.Background()

	require.NoError(t, b.Publish(ctx, rrA(t, "web", "192.168.1.10")))
	require.NoError(t, b.Publish(ctx, rrA(t, "web", "192.168.1.20")))

	got := relativeSet(t, b, "web", record.TypeA)
	require.Len(t, got, 1)
	assert.Equal(t, "192.168.1.20", got[0].Value.Content())
}

// TestSRVCascadeLastInstance verifies that suppressing the last SRV
// instance removes the SRV, TXT, and PTR sets entirely
func TestSRVCascadeLastInstance(t *testing.T) {
	b, ms := newBackend(t)
	ctx := context.Background()

	srv := rrSRV(t, "web._http._tcp", 80, "web")
	require.NoError(t, b.Publish(ctx, srv))
	require.NoError(t, b.Publish(ctx, rrTXT(t, "web._http._tcp")))
	require.NoError(t, b.Publish(ctx, rrPTR(t, "_http._tcp", "web._http._tcp")))

	require.NoError(t, b.Suppress(ctx, srv))

	assert.Empty(t, ms.Dump(), "cascade should have removed SRV, TXT, and PTR sets")
}

// TestSRVCascadeNotLastInstance verifies that suppressing one of two SRV
// instances leaves the other SRV and the TXT/PTR sets untouched
func TestSRVCascadeNotLastInstance(t *testing.T) {
	b, _ := newBackend(t)
	ctx := context.Background()

	srv1 := rrSRV(t, "web._http._tcp", 80, "web1")
	srv2 := rrSRV(t, "web._http._tcp", 80, "web2")
	require.NoError(t, b.Publish(ctx, srv1))
	require.NoError(t, b.Publish(ctx, srv2))
	require.NoError(t, b.Publish(ctx, rrTXT(t, "web._http._tcp")))
	require.NoError(t, b.Publish(ctx, rrPTR(t, "_http._tcp", "web._http._tcp")))

	require.NoError(t, b.Suppress(ctx, srv1))

	srvs := relativeSet(t, b, "web._http._tcp", record.TypeSRV)
	require.Len(t, srvs, 1)
	assert.True(t, srvs[0].Equal(srv2))
	assert.Len(t, relativeSet(t, b, "web._http._tcp", record.TypeTXT), 1)
	assert.Len(t, relativeSet(t, b, "_http._tcp", record.TypePTR), 1)
}

// TestPTRPruning verifies a PTR set with two entries is rewritten, not
// deleted, when one SRV group is fully withdrawn
func TestPTRPruning(t *testing.T) {
	b, _ := newBackend(t)
	ctx := context.Background()

	webSRV := rrSRV(t, "web._http._tcp", 80, "web")
	apiSRV := rrSRV(t, "api._http._tcp", 8080, "api")
	require.NoError(t, b.Publish(ctx, webSRV))
	require.NoError(t, b.Publish(ctx, apiSRV))
	require.NoError(t, b.Publish(ctx, rrTXT(t, "web._http._tcp")))
	require.NoError(t, b.Publish(ctx, rrTXT(t, "api._http._tcp")))
	require.NoError(t, b.Publish(ctx, rrPTR(t, "_http._tcp", "web._http._tcp")))
	require.NoError(t, b.Publish(ctx, rrPTR(t, "_http._tcp", "api._http._tcp")))

	require.NoError(t, b.Suppress(ctx, webSRV))

	ptrs := relativeSet(t, b, "_http._tcp", record.TypePTR)
	require.Len(t, ptrs, 1, "PTR set should be rewritten with the remaining entry")
	assert.Equal(t, "api._http._tcp", ptrs[0].Value.(record.PTR).Target.String())
	assert.Empty(t, relativeSet(t, b, "web._http._tcp", record.TypeTXT))
	assert.Len(t, relativeSet(t, b, "api._http._tcp", record.TypeTXT), 1)
}

// TestSharedAddressDeferral verifies an address-pattern A record
// survives Suppress and is only removed by SuppressShared
func TestSharedAddressDeferral(t *testing.T) {
	b, _ := newBackend(t)
	ctx := context.Background()

	shared := rrA(t, "192-168-1-10", "192.168.1.10")
	require.NoError(t, b.Publish(ctx, shared))

	require.NoError(t, b.Suppress(ctx, shared))
	require.Len(t, relativeSet(t, b, "192-168-1-10", record.TypeA), 1,
		"shared address record must not be removed by Suppress")

	b.SuppressShared(ctx)
	assert.Empty(t, relativeSet(t, b, "192-168-1-10", record.TypeA))
}

// TestSuppressSharedRemovesHostRecord verifies the configured host
// identity record is withdrawn on the shared path
func TestSuppressSharedRemovesHostRecord(t *testing.T) {
	ms := memstore.New(zone)
	host := rrA(t, "docker-host-1", "192.168.1.10")
	b, err := backend.NewWithStore("test", zone, ms, backend.WithHostRecord(host))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, b.Publish(ctx, host))
	require.Len(t, ms.Dump(), 1)

	b.SuppressShared(ctx)
	assert.Empty(t, ms.Dump())
}

// TestSuppressInvalidTypes verifies TXT and PTR cannot be suppressed
// directly
func TestSuppressInvalidTypes(t *testing.T) {
	b, _ := newBackend(t)
	ctx := context.Background()

	for _, rec := range []record.Record{
		rrTXT(t, "web._http._tcp"),
		rrPTR(t, "_http._tcp", "web._http._tcp"),
	} {
		err := b.Suppress(ctx, rec)
		assert.ErrorIs(t, err, backend.ErrInvalidRequest, "suppress %s", rec.Type())
	}
}

// TestSuppressAbsentValueWarns verifies a suppress whose value is not
// in the live set leaves the set intact and logs the divergence
func TestSuppressAbsentValueWarns(t *testing.T) {
	var buf bytes.Buffer
	log.Init(log.Config{Level: log.WarnLevel, JSONOutput: true, Output: &buf})
	defer log.Init(log.Config{Level: log.ErrorLevel, JSONOutput: true, Output: io.Discard})

	b, _ := newBackend(t)
	ctx := context.Background()

	require.NoError(t, b.Publish(ctx, rrSRV(t, "web._http._tcp", 80, "web")))
	require.NoError(t, b.Suppress(ctx, rrSRV(t, "web._http._tcp", 81, "web")))

	got := relativeSet(t, b, "web._http._tcp", record.TypeSRV)
	require.Len(t, got, 1, "non-matching instance leaves the set intact")
	assert.Equal(t, uint16(80), got[0].Value.(record.SRV).Port)
	assert.Contains(t, buf.String(), "suppressed value not present in live set")
}

// countingStore wraps a memstore and counts calls per operation.
type countingStore struct {
	*memstore.Store
	replaces int
	fetches  map[string]int
}

func (c *countingStore) ReplaceSet(ctx context.Context, n name.Name, t record.Type, ttl uint32, members []record.Record) error {
	c.replaces++
	return c.Store.ReplaceSet(ctx, n, t, ttl, members)
}

func (c *countingStore) FetchSet(ctx context.Context, n name.Name, t record.Type) ([]record.Record, error) {
	if c.fetches == nil {
		c.fetches = make(map[string]int)
	}
	c.fetches[record.SetKey(n, t)]++
	return c.Store.FetchSet(ctx, n, t)
}

// TestConflictRetryBound verifies a persistently conflicting store
// causes exactly N attempts with N−1 refreshes of the implicated set,
// then the operation is abandoned without surfacing an error
func TestConflictRetryBound(t *testing.T) {
	ms := memstore.New(zone)
	cs := &countingStore{Store: ms}
	ms.OnReplace = func(n name.Name, t record.Type) error {
		return store.Conflictf("(%s, %s)", n, t)
	}

	b, err := backend.NewWithStore("test", zone, cs, backend.WithConflictAttempts(10))
	require.NoError(t, err)

	rec := rrA(t, "web", "192.168.1.10")
	err = b.Publish(context.Background(), rec)
	require.NoError(t, err, "conflict exhaustion is logged and swallowed")

	assert.Equal(t, 10, cs.replaces, "attempt count should equal the configured bound")
	abs, cerr := rec.ToAbsolute(zone)
	require.NoError(t, cerr)
	assert.Equal(t, 9, cs.fetches[record.SetKey(abs.Name, record.TypeA)],
		"each retry except the last should refresh the implicated set")
}

// TestConflictRecovery verifies a conflict caused by another writer is
// healed by refresh and retry
func TestConflictRecovery(t *testing.T) {
	b, ms := newBackend(t)
	ctx := context.Background()

	srv1 := rrSRV(t, "web._http._tcp", 80, "web1")
	require.NoError(t, b.Publish(ctx, srv1))

	// Another writer appends an instance behind our back; the next add
	// conflicts, refreshes, and merges both.
	srv2abs, err := rrSRV(t, "web._http._tcp", 80, "web2").ToAbsolute(zone)
	require.NoError(t, err)
	ms.Seed(srv2abs)

	srv3 := rrSRV(t, "web._http._tcp", 80, "web3")
	require.NoError(t, b.Publish(ctx, srv3))

	srvs := relativeSet(t, b, "web._http._tcp", record.TypeSRV)
	assert.Len(t, srvs, 3)
}

// TestRecordsInZoneFiltering verifies out-of-zone records are dropped
// with a warning and NS/SOA records never surface
func TestRecordsInZoneFiltering(t *testing.T) {
	b, ms := newBackend(t)

	ms.Seed(
		record.Record{Name: name.MustParse("web.prod.example.com."), TTL: 60, Value: record.A{Address: "10.0.0.1"}},
		record.Record{Name: name.MustParse("stray.other.org."), TTL: 60, Value: record.A{Address: "10.0.0.2"}},
		record.Record{Name: name.MustParse("prod.example.com."), TTL: 3600, Value: record.NS{Target: name.MustParse("ns1.example.com.")}},
		record.Record{Name: name.MustParse("prod.example.com."), TTL: 3600, Value: record.SOA{Raw: "ns1 admin 1 7200 900 1209600 86400"}},
	)

	live, err := b.RecordsInZone(context.Background())
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, "web", live[0].Name.String())
	assert.False(t, live[0].Name.IsAbsolute(), "RecordsInZone returns relative records")
}

// TestPublishUnsupportedType verifies NS publishes are usage errors
func TestPublishUnsupportedType(t *testing.T) {
	b, _ := newBackend(t)
	rec := record.Record{Name: name.MustParse("prod.example.com."), TTL: 60, Value: record.NS{Target: name.MustParse("ns1.example.com.")}}
	err := b.Publish(context.Background(), rec)
	assert.ErrorIs(t, err, backend.ErrInvalidRequest)
}

// TestTransientRetry verifies transient failures are retried until the
// store recovers, without consuming conflict attempts
func TestTransientRetry(t *testing.T) {
	ms := memstore.New(zone)
	failures := 3
	ms.OnReplace = func(n name.Name, t record.Type) error {
		if failures > 0 {
			failures--
			return store.Transient(errors.New("connection reset"))
		}
		return nil
	}

	sleeper := &recordingSleeper{}
	b, err := backend.NewWithStore("test", zone, ms,
		backend.WithTransientPolicy(newTestTransient(sleeper)))
	require.NoError(t, err)

	require.NoError(t, b.Publish(context.Background(), rrA(t, "web", "192.168.1.10")))
	assert.Len(t, ms.Dump(), 1)
	assert.Len(t, sleeper.slept, 3, "one backoff sleep per transient failure")
}
