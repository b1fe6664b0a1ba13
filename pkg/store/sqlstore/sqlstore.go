// Package sqlstore implements a RecordStore over a SQL database with a
// PowerDNS-style records table, registered as the "sql" backend driver.
//
// Replacement runs inside one transaction: the set's current rows are
// re-read and compared against the snapshot last observed through this
// handle, so a concurrent writer surfaces as a ConflictError rather
// than a lost update. Lock contention and busy errors map to
// TransientError and are retried by the caller.
package sqlstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/hutchdns/hutch/pkg/backend"
	"github.com/hutchdns/hutch/pkg/name"
	"github.com/hutchdns/hutch/pkg/record"
	"github.com/hutchdns/hutch/pkg/store"
)

// recordRow is the persistence model for one resource record. Names are
// stored absolute, in lowercase; content is the canonical store form.
type recordRow struct {
	ID      uint   `gorm:"primaryKey;autoIncrement"`
	Name    string `gorm:"type:text;not null;index:idx_records_set"`
	Type    string `gorm:"type:text;not null;index:idx_records_set"`
	TTL     uint32 `gorm:"not null"`
	Content string `gorm:"type:text;not null"`
}

func (recordRow) TableName() string { return "records" }

// Store is a SQL-backed RecordStore scoped to one zone.
type Store struct {
	db   *gorm.DB
	zone name.Name

	mu       sync.Mutex
	observed map[string]string
}

// OpenFromURL opens a store from a db-url string.
// Supported:
//   - sqlite:<dsn>   e.g. sqlite:/var/lib/hutch/zones.db or sqlite::memory:
//   - sqlite3:<dsn>  alias of sqlite
func OpenFromURL(dbURL string, zone name.Name) (*Store, error) {
	var dialector gorm.Dialector
	switch {
	case strings.HasPrefix(dbURL, "sqlite:"):
		dialector = sqlite.Open(strings.TrimPrefix(dbURL, "sqlite:"))
	case strings.HasPrefix(dbURL, "sqlite3:"):
		dialector = sqlite.Open(strings.TrimPrefix(dbURL, "sqlite3:"))
	default:
		return nil, fmt.Errorf("unsupported db scheme: %s", dbURL)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.AutoMigrate(&recordRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate records table: %w", err)
	}
	return New(db, zone), nil
}

// New wraps an existing gorm DB. The records table must exist.
func New(db *gorm.DB, zone name.Name) *Store {
	return &Store{db: db, zone: zone, observed: make(map[string]string)}
}

// ListZoneRecords returns every record under the zone and snapshots all
// listed sets as observed.
func (s *Store) ListZoneRecords(ctx context.Context) ([]record.Record, error) {
	var rows []recordRow
	if err := s.db.WithContext(ctx).Order("name, type, content").Find(&rows).Error; err != nil {
		return nil, classify(err)
	}

	bySet := make(map[string][]recordRow)
	var out []record.Record
	for _, row := range rows {
		r, err := rowToRecord(row)
		if err != nil {
			// Rows another producer wrote in a shape we cannot parse
			// are invisible to us, never deleted.
			continue
		}
		if !r.Name.HasSuffix(s.zone) {
			continue
		}
		out = append(out, r)
		bySet[record.SetKey(r.Name, r.Type())] = append(bySet[record.SetKey(r.Name, r.Type())], row)
	}

	s.mu.Lock()
	s.observed = make(map[string]string, len(bySet))
	for key, rs := range bySet {
		s.observed[key] = snapshot(rs)
	}
	s.mu.Unlock()
	return out, nil
}

// FetchSet returns the members of (n, t) and snapshots the set.
func (s *Store) FetchSet(ctx context.Context, n name.Name, t record.Type) ([]record.Record, error) {
	rows, err := s.fetchRows(s.db.WithContext(ctx), n, t)
	if err != nil {
		return nil, classify(err)
	}

	s.mu.Lock()
	s.observed[record.SetKey(n, t)] = snapshot(rows)
	s.mu.Unlock()

	out := make([]record.Record, 0, len(rows))
	for _, row := range rows {
		r, err := rowToRecord(row)
		if err != nil {
			return nil, fmt.Errorf("(%s, %s): %w", n, t, err)
		}
		out = append(out, r)
	}
	return out, nil
}

// ReplaceSet atomically replaces (n, t). The set is re-read inside the
// transaction and compared with the last observed snapshot; a mismatch
// rejects with a ConflictError and the transaction rolls back.
func (s *Store) ReplaceSet(ctx context.Context, n name.Name, t record.Type, ttl uint32, members []record.Record) error {
	key := record.SetKey(n, t)

	s.mu.Lock()
	want := s.observed[key]
	s.mu.Unlock()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rows, err := s.fetchRows(tx, n, t)
		if err != nil {
			return err
		}
		if snapshot(rows) != want {
			return store.Conflictf("(%s, %s)", n, t)
		}

		if err := tx.Delete(&recordRow{}, "name = ? AND type = ?", nameKey(n), string(t)).Error; err != nil {
			return err
		}
		for _, m := range members {
			row := recordRow{Name: nameKey(m.Name), Type: string(t), TTL: ttl, Content: m.Value.Content()}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if store.IsConflict(err) {
			return err
		}
		return classify(err)
	}

	s.mu.Lock()
	s.observed[key] = snapshotMembers(ttl, members)
	s.mu.Unlock()
	return nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	db, err := s.db.DB()
	if err != nil {
		return err
	}
	return db.Close()
}

func (s *Store) fetchRows(tx *gorm.DB, n name.Name, t record.Type) ([]recordRow, error) {
	var rows []recordRow
	err := tx.Where("name = ? AND type = ?", nameKey(n), string(t)).
		Order("content").Find(&rows).Error
	return rows, err
}

func nameKey(n name.Name) string { return strings.ToLower(n.String()) }

// snapshot renders a set's rows into a comparable identity string.
func snapshot(rows []recordRow) string {
	parts := make([]string, len(rows))
	for i, r := range rows {
		parts[i] = fmt.Sprintf("%d|%s", r.TTL, r.Content)
	}
	sort.Strings(parts)
	return strings.Join(parts, "\n")
}

func snapshotMembers(ttl uint32, members []record.Record) string {
	rows := make([]recordRow, len(members))
	for i, m := range members {
		rows[i] = recordRow{TTL: ttl, Content: m.Value.Content()}
	}
	return snapshot(rows)
}

func rowToRecord(row recordRow) (record.Record, error) {
	n, err := name.Parse(row.Name)
	if err != nil {
		return record.Record{}, fmt.Errorf("row %d: %w", row.ID, err)
	}
	v, err := record.ParseContent(record.Type(row.Type), row.Content)
	if err != nil {
		return record.Record{}, fmt.Errorf("row %d: %w", row.ID, err)
	}
	return record.Record{Name: n, TTL: row.TTL, Value: v}, nil
}

// classify maps database failures to the retry taxonomy. Lock and busy
// conditions are contention and resolve on retry.
func classify(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "locked") || strings.Contains(msg, "busy") {
		return store.Transient(err)
	}
	return err
}

func init() {
	backend.RegisterDriver("sql", func(zone name.Name, settings map[string]string) (store.RecordStore, error) {
		dbURL, err := backend.RequireSetting("sql", settings, "db_url")
		if err != nil {
			return nil, err
		}
		return OpenFromURL(dbURL, zone)
	})
}
