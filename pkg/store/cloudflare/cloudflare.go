// Package cloudflare implements a RecordStore over the Cloudflare DNS
// API, registered as the "cloudflare" backend driver.
//
// The API offers no compare-and-swap: replacement is an unconditioned
// delete-and-create guarded by a prior read. The record IDs observed by
// the last read are the guard; a delete that reports the record gone
// means the read was stale by the time of the write and maps to
// ConflictError. Rate limiting and service errors map to
// TransientError.
package cloudflare

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	cf "github.com/cloudflare/cloudflare-go"

	"github.com/hutchdns/hutch/pkg/backend"
	"github.com/hutchdns/hutch/pkg/name"
	"github.com/hutchdns/hutch/pkg/record"
	"github.com/hutchdns/hutch/pkg/store"
)

// apiClient is the slice of the Cloudflare API the store uses; tests
// substitute a fake.
type apiClient interface {
	ListDNSRecords(ctx context.Context, rc *cf.ResourceContainer, params cf.ListDNSRecordsParams) ([]cf.DNSRecord, *cf.ResultInfo, error)
	CreateDNSRecord(ctx context.Context, rc *cf.ResourceContainer, params cf.CreateDNSRecordParams) (cf.DNSRecord, error)
	DeleteDNSRecord(ctx context.Context, rc *cf.ResourceContainer, recordID string) error
}

// Store is a Cloudflare-backed RecordStore scoped to one zone.
type Store struct {
	api  apiClient
	rc   *cf.ResourceContainer
	zone name.Name

	mu sync.Mutex
	// ids holds the record IDs observed by the last read of each set;
	// they are the replace guard.
	ids map[string][]string
}

// New connects to the Cloudflare API with the given token. When zoneID
// is empty the zone is looked up by name.
func New(apiToken, zoneID string, zone name.Name) (*Store, error) {
	api, err := cf.NewWithAPIToken(apiToken)
	if err != nil {
		return nil, fmt.Errorf("cloudflare: %w", err)
	}
	if zoneID == "" {
		zoneID, err = api.ZoneIDByName(trimRoot(zone))
		if err != nil {
			return nil, fmt.Errorf("cloudflare: zone %s: %w", zone, err)
		}
	}
	return newWithClient(api, zoneID, zone), nil
}

func newWithClient(api apiClient, zoneID string, zone name.Name) *Store {
	return &Store{
		api:  api,
		rc:   cf.ZoneIdentifier(zoneID),
		zone: zone,
		ids:  make(map[string][]string),
	}
}

// ListZoneRecords pages through the zone and re-observes every set.
func (s *Store) ListZoneRecords(ctx context.Context) ([]record.Record, error) {
	var rows []cf.DNSRecord
	params := cf.ListDNSRecordsParams{ResultInfo: cf.ResultInfo{Page: 1}}
	for {
		page, info, err := s.api.ListDNSRecords(ctx, s.rc, params)
		if err != nil {
			return nil, classify(err)
		}
		rows = append(rows, page...)
		if info == nil || info.Page >= info.TotalPages {
			break
		}
		params.ResultInfo.Page = info.Page + 1
	}

	ids := make(map[string][]string)
	var out []record.Record
	for _, row := range rows {
		r, err := rowToRecord(row)
		if err != nil {
			// Records in shapes we cannot parse stay invisible and are
			// never deleted.
			continue
		}
		key := record.SetKey(r.Name, r.Type())
		ids[key] = append(ids[key], row.ID)
		out = append(out, r)
	}

	s.mu.Lock()
	s.ids = ids
	s.mu.Unlock()
	return out, nil
}

// FetchSet reads one (name, type) set and re-observes its record IDs.
func (s *Store) FetchSet(ctx context.Context, n name.Name, t record.Type) ([]record.Record, error) {
	rows, _, err := s.api.ListDNSRecords(ctx, s.rc, cf.ListDNSRecordsParams{
		Type: string(t),
		Name: trimRoot(n),
	})
	if err != nil {
		return nil, classify(err)
	}

	ids := make([]string, 0, len(rows))
	out := make([]record.Record, 0, len(rows))
	for _, row := range rows {
		r, err := rowToRecord(row)
		if err != nil {
			return nil, fmt.Errorf("(%s, %s): %w", n, t, err)
		}
		ids = append(ids, row.ID)
		out = append(out, r)
	}

	s.mu.Lock()
	s.ids[record.SetKey(n, t)] = ids
	s.mu.Unlock()
	return out, nil
}

// ReplaceSet deletes the records observed by the last read and creates
// the new members. A record already gone at delete time means the
// observation was stale: the whole replace rejects with ConflictError
// so the caller refreshes and recomputes.
func (s *Store) ReplaceSet(ctx context.Context, n name.Name, t record.Type, ttl uint32, members []record.Record) error {
	key := record.SetKey(n, t)

	s.mu.Lock()
	observed, ok := s.ids[key]
	s.mu.Unlock()
	if !ok {
		// Never read: observe the current state, it becomes the guard.
		if _, err := s.FetchSet(ctx, n, t); err != nil {
			return err
		}
		s.mu.Lock()
		observed = s.ids[key]
		s.mu.Unlock()
	}

	for _, id := range observed {
		if err := s.api.DeleteDNSRecord(ctx, s.rc, id); err != nil {
			var nf cf.NotFoundError
			if errors.As(err, &nf) {
				s.forget(key)
				return store.Conflictf("(%s, %s): record %s gone", n, t, id)
			}
			return classify(err)
		}
	}

	nextIDs := make([]string, 0, len(members))
	for _, m := range members {
		created, err := s.api.CreateDNSRecord(ctx, s.rc, cf.CreateDNSRecordParams{
			Type:    string(t),
			Name:    trimRoot(m.Name),
			Content: m.Value.Content(),
			TTL:     int(ttl),
		})
		if err != nil {
			s.forget(key)
			return classify(err)
		}
		nextIDs = append(nextIDs, created.ID)
	}

	s.mu.Lock()
	s.ids[key] = nextIDs
	s.mu.Unlock()
	return nil
}

// Close is a no-op; the API client holds no persistent connection.
func (s *Store) Close() error { return nil }

func (s *Store) forget(key string) {
	s.mu.Lock()
	delete(s.ids, key)
	s.mu.Unlock()
}

// trimRoot renders a name the way the API expects: fully qualified,
// without the trailing dot.
func trimRoot(n name.Name) string {
	return strings.TrimSuffix(n.String(), ".")
}

func rowToRecord(row cf.DNSRecord) (record.Record, error) {
	n, err := name.Parse(row.Name + ".")
	if err != nil {
		return record.Record{}, fmt.Errorf("record %s: %w", row.ID, err)
	}
	v, err := contentToValue(record.Type(row.Type), row.Content)
	if err != nil {
		return record.Record{}, fmt.Errorf("record %s: %w", row.ID, err)
	}
	return record.Record{Name: n, TTL: uint32(row.TTL), Value: v}, nil
}

// contentToValue parses API content. Name-typed payloads come back
// without the trailing dot; TXT content may be unquoted.
func contentToValue(t record.Type, content string) (record.Value, error) {
	switch t {
	case record.TypeCNAME, record.TypePTR, record.TypeNS:
		return record.ParseContent(t, content+".")
	case record.TypeSRV:
		if !strings.HasSuffix(content, ".") {
			content += "."
		}
		return record.ParseContent(t, content)
	case record.TypeTXT:
		if !strings.HasPrefix(content, `"`) {
			return record.TXT{Strings: []string{content}}, nil
		}
		return record.ParseContent(t, content)
	default:
		return record.ParseContent(t, content)
	}
}

// classify maps API failures to the retry taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var rl cf.RatelimitError
	if errors.As(err, &rl) {
		return store.Transient(err)
	}
	var se cf.ServiceError
	if errors.As(err, &se) {
		return store.Transient(err)
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "connection") || strings.Contains(msg, "timeout") {
		return store.Transient(err)
	}
	return err
}

func init() {
	backend.RegisterDriver("cloudflare", func(zone name.Name, settings map[string]string) (store.RecordStore, error) {
		apiToken, err := backend.RequireSetting("cloudflare", settings, "api_token")
		if err != nil {
			return nil, err
		}
		return New(apiToken, settings["zone_id"], zone)
	})
}
