package backend

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/rs/zerolog"

	"github.com/hutchdns/hutch/pkg/log"
	"github.com/hutchdns/hutch/pkg/metrics"
	"github.com/hutchdns/hutch/pkg/name"
	"github.com/hutchdns/hutch/pkg/record"
	"github.com/hutchdns/hutch/pkg/retry"
	"github.com/hutchdns/hutch/pkg/store"
)

// sharedAddressPattern matches the leading label of an address record
// whose name embeds a dashed IPv4 literal ("192-168-1-10"). Such records
// are aliased by multiple consumers and are only removed at shutdown.
var sharedAddressPattern = regexp.MustCompile(`^\d{1,3}(-\d{1,3}){3}$`)

// Backend sits on top of one remote record store. It owns the type
// dispatch for publish and suppress, the SRV/TXT/PTR coupled lifecycle,
// and the shared-address-record deferral set. All methods are called
// from the single reconciliation worker only.
type Backend struct {
	name      string
	zone      name.Name
	store     store.RecordStore
	cache     *store.Cache
	transient *retry.Transient
	conflict  retry.Conflict
	shared    map[string]record.Record
	host      *record.Record
	logger    zerolog.Logger
}

// Option adjusts backend construction.
type Option func(*Backend)

// WithTransientPolicy replaces the transient retry policy. Tests inject
// a policy with a fake sleeper.
func WithTransientPolicy(p *retry.Transient) Option {
	return func(b *Backend) { b.transient = p }
}

// WithConflictAttempts overrides the bounded conflict retry count.
func WithConflictAttempts(n int) Option {
	return func(b *Backend) { b.conflict = retry.Conflict{Attempts: n} }
}

// WithHostRecord sets the host identity address record withdrawn by
// SuppressShared at shutdown. The record may be relative to the zone.
func WithHostRecord(r record.Record) Option {
	return func(b *Backend) { b.host = &r }
}

// New constructs a backend by driver name. zone must be absolute. The
// driver validates its settings; a missing setting fails construction.
func New(backendName, driverName string, zone name.Name, settings map[string]string, opts ...Option) (*Backend, error) {
	d, ok := drivers[driverName]
	if !ok {
		return nil, fmt.Errorf("unknown backend driver %q (have %v)", driverName, Drivers())
	}
	s, err := d(zone, settings)
	if err != nil {
		return nil, fmt.Errorf("backend %s: %w", backendName, err)
	}
	return NewWithStore(backendName, zone, s, opts...)
}

// NewWithStore constructs a backend over an existing store.
func NewWithStore(backendName string, zone name.Name, s store.RecordStore, opts ...Option) (*Backend, error) {
	if !zone.IsAbsolute() {
		return nil, fmt.Errorf("backend %s: zone %q is not absolute", backendName, zone.String())
	}
	b := &Backend{
		name:      backendName,
		zone:      zone,
		store:     s,
		cache:     store.NewCache(s),
		transient: retry.NewTransient(),
		conflict:  retry.Conflict{Attempts: retry.DefaultConflictAttempts},
		shared:    make(map[string]record.Record),
		logger:    log.WithBackend(backendName),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Name returns the backend's configured name.
func (b *Backend) Name() string { return b.name }

// Zone returns the backend's managed zone (absolute).
func (b *Backend) Zone() name.Name { return b.zone }

// Close releases the underlying store.
func (b *Backend) Close() error { return b.store.Close() }

// Publish makes a record visible in the store. Single-valued types
// replace their record set; SRV and PTR merge into theirs. Unexpected
// store failures are logged and swallowed so one stuck record cannot
// stall the reconciliation loop; the record heals on the next pass.
func (b *Backend) Publish(ctx context.Context, r record.Record) error {
	t := r.Type()
	if !t.Publishable() {
		return fmt.Errorf("publish %s record: %w", t, ErrInvalidRequest)
	}
	abs, err := r.ToAbsolute(b.zone)
	if err != nil {
		return fmt.Errorf("publish: %w", err)
	}

	switch t {
	case record.TypeA, record.TypeAAAA, record.TypeCNAME, record.TypeTXT:
		err = b.set(ctx, abs)
	case record.TypeSRV, record.TypePTR:
		err = b.add(ctx, abs)
	}
	return b.guard("publish", abs, err)
}

// Suppress withdraws a record. A records matching the shared-address
// pattern are deferred until SuppressShared; TXT and PTR records are
// collectively owned by SRV groups and must never be suppressed
// directly.
func (b *Backend) Suppress(ctx context.Context, r record.Record) error {
	if !r.Type().Publishable() {
		return fmt.Errorf("suppress %s record: %w", r.Type(), ErrInvalidRequest)
	}
	abs, err := r.ToAbsolute(b.zone)
	if err != nil {
		return fmt.Errorf("suppress: %w", err)
	}

	switch r.Type() {
	case record.TypeA:
		if sharedAddressPattern.MatchString(abs.Name.First()) {
			b.shared[abs.Key()] = abs
			metrics.SharedRecordsDeferred.WithLabelValues(b.name).Set(float64(len(b.shared)))
			b.logger.Debug().Str("record", abs.String()).Msg("deferred shared address record until shutdown")
			return nil
		}
		err = b.remove(ctx, abs)
	case record.TypeAAAA, record.TypeCNAME:
		err = b.remove(ctx, abs)
	case record.TypeSRV:
		err = b.removeSRV(ctx, abs)
	default:
		return fmt.Errorf("suppress %s record: %w", r.Type(), ErrInvalidRequest)
	}
	return b.guard("suppress", abs, err)
}

// SuppressShared removes every deferred shared address record plus the
// configured host identity record. This is the only path that removes a
// deferred record; it runs once at shutdown.
func (b *Backend) SuppressShared(ctx context.Context) {
	for key, r := range b.shared {
		if err := b.remove(ctx, r); err != nil {
			b.logger.Error().Err(err).Str("record", r.String()).Msg("failed to remove shared address record")
		}
		delete(b.shared, key)
	}
	metrics.SharedRecordsDeferred.WithLabelValues(b.name).Set(0)

	if b.host != nil {
		abs, err := b.host.ToAbsolute(b.zone)
		if err == nil {
			err = b.remove(ctx, abs)
		}
		if err != nil {
			b.logger.Error().Err(err).Msg("failed to remove host identity record")
		}
	}
}

// RecordsInZone lists the zone and returns publishable records relative
// to it. Records outside the zone are dropped with a warning; NS and
// SOA are skipped. The full listing also reseeds the record cache.
func (b *Backend) RecordsInZone(ctx context.Context) ([]record.Record, error) {
	var live []record.Record
	err := b.transient.Do(func() error {
		recs, lerr := b.store.ListZoneRecords(ctx)
		if lerr == nil {
			live = recs
		}
		return lerr
	}, b.retryTransient)
	if err != nil {
		return nil, fmt.Errorf("list zone records: %w", err)
	}

	b.reseedCache(live)

	out := make([]record.Record, 0, len(live))
	for _, r := range live {
		if !r.Type().Publishable() {
			continue
		}
		rel, err := r.ToRelative(b.zone)
		if err != nil {
			b.logger.Warn().Err(err).Str("record", r.String()).Msg("dropping record outside managed zone")
			continue
		}
		out = append(out, rel)
	}
	return out, nil
}

func (b *Backend) reseedCache(live []record.Record) {
	bySet := make(map[string][]record.Record)
	for _, r := range live {
		bySet[r.SetKey()] = append(bySet[r.SetKey()], r)
	}
	for _, recs := range bySet {
		b.cache.Set(recs[0].Name, recs[0].Type(), recs...)
	}
}

// set replaces the (name, type) set with exactly r: last writer wins
// for single-valued record types.
func (b *Backend) set(ctx context.Context, r record.Record) error {
	return b.conflict.Do(
		func() error {
			if err := b.replace(ctx, r.Name, r.Type(), r.TTL, []record.Record{r}); err != nil {
				return err
			}
			b.cache.Set(r.Name, r.Type(), r)
			return nil
		},
		func() error { return b.refresh(ctx, setRef{r.Name, r.Type()}) },
		b.noteConflict,
	)
}

// add merges r into its multi-valued set. A member already present is
// re-written unchanged, which corrects a stale remote copy.
func (b *Backend) add(ctx context.Context, r record.Record) error {
	return b.conflict.Do(
		func() error {
			current, err := b.lookup(ctx, r.Name, r.Type())
			if err != nil {
				return err
			}
			members := current
			if !record.Contains(members, r) {
				members = append(append([]record.Record{}, current...), r)
			}
			if err := b.replace(ctx, r.Name, r.Type(), r.TTL, members); err != nil {
				return err
			}
			b.cache.Set(r.Name, r.Type(), members...)
			return nil
		},
		func() error { return b.refresh(ctx, setRef{r.Name, r.Type()}) },
		b.noteConflict,
	)
}

// remove deletes r's value from its set, deleting the set when r was
// the last member. The replace is issued even when r was not present.
func (b *Backend) remove(ctx context.Context, r record.Record) error {
	return b.conflict.Do(
		func() error {
			current, err := b.lookup(ctx, r.Name, r.Type())
			if err != nil {
				return err
			}
			members := record.Without(current, r)
			if len(members) == len(current) && len(current) > 0 {
				// The value we were asked to withdraw is not in the
				// live set; the set diverged from our view of it.
				b.logger.Warn().Str("record", r.String()).
					Msg("suppressed value not present in live set")
			}
			if err := b.replace(ctx, r.Name, r.Type(), r.TTL, members); err != nil {
				return err
			}
			b.cache.Set(r.Name, r.Type(), members...)
			return nil
		},
		func() error { return b.refresh(ctx, setRef{r.Name, r.Type()}) },
		b.noteConflict,
	)
}

// removeSRV removes one SRV instance and, when that instance was the
// last of its service, cascades: the service's TXT set is deleted and
// the service is pruned from its parent PTR set (deleting that set when
// this service was its only entry). On conflict the SRV, TXT, and PTR
// beliefs are refreshed together and the whole decision is recomputed.
func (b *Backend) removeSRV(ctx context.Context, r record.Record) error {
	ptrName, err := r.Name.Parent()
	if err != nil {
		return fmt.Errorf("remove srv %s: %w", r.Name, err)
	}

	return b.conflict.Do(
		func() error {
			srvs, err := b.lookup(ctx, r.Name, record.TypeSRV)
			if err != nil {
				return err
			}
			remaining := record.Without(srvs, r)
			if len(remaining) == len(srvs) && len(srvs) > 0 {
				// The instance we were asked to withdraw is not in the
				// live set; the set diverged from our view of it.
				b.logger.Warn().Str("record", r.String()).
					Msg("suppressed value not present in live set")
			}
			if err := b.replace(ctx, r.Name, record.TypeSRV, r.TTL, remaining); err != nil {
				return err
			}
			b.cache.Set(r.Name, record.TypeSRV, remaining...)

			if len(remaining) > 0 {
				// Other instances of the service remain; TXT and PTR
				// stay untouched.
				return nil
			}

			if err := b.replace(ctx, r.Name, record.TypeTXT, 0, nil); err != nil {
				return err
			}
			b.cache.Set(r.Name, record.TypeTXT)

			ptrs, err := b.lookup(ctx, ptrName, record.TypePTR)
			if err != nil {
				return err
			}
			kept := make([]record.Record, 0, len(ptrs))
			ttl := uint32(0)
			for _, p := range ptrs {
				v, ok := p.Value.(record.PTR)
				if ok && v.Target.Equal(r.Name) {
					continue
				}
				kept = append(kept, p)
				ttl = p.TTL
			}
			if err := b.replace(ctx, ptrName, record.TypePTR, ttl, kept); err != nil {
				return err
			}
			b.cache.Set(ptrName, record.TypePTR, kept...)
			return nil
		},
		func() error {
			return b.refresh(ctx,
				setRef{r.Name, record.TypeSRV},
				setRef{r.Name, record.TypeTXT},
				setRef{ptrName, record.TypePTR},
			)
		},
		b.noteConflict,
	)
}

type setRef struct {
	name name.Name
	typ  record.Type
}

// refresh re-reads the given sets from the store, replacing the cached
// beliefs implicated by an in-flight change.
func (b *Backend) refresh(ctx context.Context, refs ...setRef) error {
	for _, ref := range refs {
		err := b.transient.Do(func() error {
			return b.cache.Refresh(ctx, ref.name, ref.typ)
		}, b.retryTransient)
		if err != nil {
			return fmt.Errorf("refresh (%s, %s): %w", ref.name, ref.typ, err)
		}
	}
	return nil
}

// lookup returns the cached members of (n, t), reading from the store
// on first use.
func (b *Backend) lookup(ctx context.Context, n name.Name, t record.Type) ([]record.Record, error) {
	if recs, ok := b.cache.Get(n, t); ok {
		return recs, nil
	}
	if err := b.refresh(ctx, setRef{n, t}); err != nil {
		return nil, err
	}
	recs, _ := b.cache.Get(n, t)
	return recs, nil
}

// replace issues the store write under the transient retry policy.
func (b *Backend) replace(ctx context.Context, n name.Name, t record.Type, ttl uint32, members []record.Record) error {
	return b.transient.Do(func() error {
		return b.store.ReplaceSet(ctx, n, t, ttl, members)
	}, b.retryTransient)
}

func (b *Backend) retryTransient(err error) bool {
	if store.IsTransient(err) {
		metrics.StoreTransientRetriesTotal.WithLabelValues(b.name).Inc()
		b.logger.Warn().Err(err).Msg("transient store failure, backing off")
		return true
	}
	return false
}

func (b *Backend) noteConflict(err error) bool {
	if store.IsConflict(err) {
		metrics.StoreConflictsTotal.WithLabelValues(b.name).Inc()
		b.logger.Debug().Err(err).Msg("record set changed under us, refreshing and retrying")
		return true
	}
	return false
}

// guard implements the backend failure boundary: invalid requests
// propagate, everything else is logged and swallowed so the record is
// corrected by the next reconciliation pass.
func (b *Backend) guard(op string, r record.Record, err error) error {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	switch op {
	case "publish":
		metrics.PublishesTotal.WithLabelValues(b.name, string(r.Type()), outcome).Inc()
	case "suppress":
		metrics.SuppressionsTotal.WithLabelValues(b.name, string(r.Type()), outcome).Inc()
	}
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrInvalidRequest) {
		return err
	}
	b.logger.Error().Err(err).
		Str("op", op).
		Str("record", r.String()).
		Msg("record failed to converge, leaving to next reconciliation pass")
	return nil
}
