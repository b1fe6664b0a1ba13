package engine

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/hutchdns/hutch/pkg/backend"
	"github.com/hutchdns/hutch/pkg/log"
	"github.com/hutchdns/hutch/pkg/metrics"
	"github.com/hutchdns/hutch/pkg/name"
	"github.com/hutchdns/hutch/pkg/record"
)

const defaultQueueDepth = 256

// HostIdentity names this host inside the managed zone. Record, when
// set, is the host's own address record; it is published at startup and
// withdrawn again when all records are suppressed at shutdown. The
// ownership test for reconciliation compares against both the name and
// the record's address.
type HostIdentity struct {
	Name   name.Name
	Record *record.Record
}

func (h HostIdentity) address() string {
	if h.Record == nil {
		return ""
	}
	return h.Record.Value.Content()
}

type trackedContainer struct {
	view    ContainerView
	stopped bool
}

// Engine owns the message queue, the tracked-container map, and the
// backend fan-out. Construct with New, start the worker with Run.
type Engine struct {
	backends []*backend.Backend
	host     HostIdentity
	interval time.Duration

	queue   chan message
	tracked map[string]*trackedContainer
	done    chan struct{}
	logger  zerolog.Logger
}

// Option adjusts engine construction.
type Option func(*Engine)

// WithReconcileInterval enables periodic full reconciliation. Zero
// disables the ticker.
func WithReconcileInterval(d time.Duration) Option {
	return func(e *Engine) { e.interval = d }
}

// WithQueueDepth overrides the message queue capacity.
func WithQueueDepth(n int) Option {
	return func(e *Engine) { e.queue = make(chan message, n) }
}

// New builds an engine over the given backends. host.Name must be
// relative to the managed zone.
func New(backends []*backend.Backend, host HostIdentity, opts ...Option) *Engine {
	e := &Engine{
		backends: backends,
		host:     host,
		queue:    make(chan message, defaultQueueDepth),
		tracked:  make(map[string]*trackedContainer),
		done:     make(chan struct{}),
		logger:   log.WithComponent("engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Done is closed once the worker has drained a terminate message.
func (e *Engine) Done() <-chan struct{} { return e.done }

// Healthy reports whether the worker is still consuming messages.
func (e *Engine) Healthy() error {
	select {
	case <-e.done:
		return errors.New("worker terminated")
	default:
		return nil
	}
}

// Run starts the single worker. It publishes the host identity record,
// then consumes messages until terminated; the first full
// reconciliation is driven by the initial container listing. Run
// returns immediately; join via Done.
func (e *Engine) Run(ctx context.Context) {
	go e.work(ctx)
}

func (e *Engine) work(ctx context.Context) {
	defer close(e.done)

	if e.host.Record != nil {
		for _, b := range e.backends {
			if err := b.Publish(ctx, *e.host.Record); err != nil {
				e.logger.Error().Err(err).Str("backend", b.Name()).
					Msg("failed to publish host identity record")
			}
		}
	}

	var stopTicker func()
	if e.interval > 0 {
		stopTicker = e.startTicker()
	}

	for m := range e.queue {
		metrics.EventsTotal.WithLabelValues(string(m.kind)).Inc()
		lg := e.logger.With().Str("message_id", m.id).Str("kind", string(m.kind)).Logger()
		lg.Debug().Msg("handling message")

		switch m.kind {
		case kindContainers:
			e.handleContainers(ctx, m.containers)
		case kindStarted:
			e.handleStarted(ctx, m.container)
		case kindStopped:
			e.handleStopped(m.containerID)
		case kindDied:
			e.handleDied(ctx, m.containerID, m.exitCode)
		case kindReconcile:
			e.reconcileAll(ctx)
		case kindSuppressAll:
			e.handleSuppressAll(ctx)
		case kindTerminate:
			if stopTicker != nil {
				stopTicker()
			}
			lg.Info().Msg("worker terminating")
			return
		}
	}
}

func (e *Engine) startTicker() func() {
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(e.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				// Drop the tick rather than block behind a busy queue;
				// the next tick tries again.
				select {
				case e.queue <- newMessage(kindReconcile):
				default:
				}
			case <-stop:
				return
			}
		}
	}()
	return func() { close(stop) }
}

func (e *Engine) handleContainers(ctx context.Context, views []ContainerView) {
	next := make(map[string]*trackedContainer, len(views))
	for _, v := range views {
		tc := &trackedContainer{view: v}
		if prev, ok := e.tracked[v.ID()]; ok {
			tc.stopped = prev.stopped
		}
		next[v.ID()] = tc
	}
	e.tracked = next
	metrics.ContainersTracked.Set(float64(len(e.tracked)))
	e.reconcileAll(ctx)
}

func (e *Engine) handleStarted(ctx context.Context, view ContainerView) {
	if view == nil {
		return
	}
	e.tracked[view.ID()] = &trackedContainer{view: view}
	metrics.ContainersTracked.Set(float64(len(e.tracked)))

	lg := e.logger.With().Str("container_id", view.ID()).Str("container", view.Name()).Logger()
	lg.Info().Msg("container started, publishing records")
	for _, b := range e.backends {
		for _, r := range orderForCreate(view.Records()) {
			if err := b.Publish(ctx, r); err != nil {
				lg.Error().Err(err).Str("backend", b.Name()).Str("record", r.String()).
					Msg("invalid record from container")
			}
		}
	}
}

func (e *Engine) handleStopped(containerID string) {
	tc, ok := e.tracked[containerID]
	if !ok {
		return
	}
	tc.stopped = true
	e.logger.Debug().Str("container_id", containerID).Msg("container stop requested")
}

func (e *Engine) handleDied(ctx context.Context, containerID string, exitCode int) {
	tc, ok := e.tracked[containerID]
	if !ok {
		return
	}
	delete(e.tracked, containerID)
	metrics.ContainersTracked.Set(float64(len(e.tracked)))

	lg := e.logger.With().Str("container_id", containerID).
		Str("container", tc.view.Name()).Int("exit_code", exitCode).Logger()

	if exitCode != 0 && !tc.stopped {
		// Unclean exit without an explicit stop: the container is
		// likely to restart, so its records stay in place.
		lg.Warn().Msg("container died unexpectedly, retaining records")
		return
	}

	lg.Info().Msg("container exited, suppressing records")
	e.suppressContainer(ctx, tc.view)
}

func (e *Engine) handleSuppressAll(ctx context.Context) {
	e.logger.Info().Int("containers", len(e.tracked)).Msg("suppressing all records")
	for _, tc := range e.tracked {
		e.suppressContainer(ctx, tc.view)
	}
	e.tracked = make(map[string]*trackedContainer)
	metrics.ContainersTracked.Set(0)

	// The engine published the host record, so the engine withdraws it.
	// Backends carrying their own host record remove it again inside
	// SuppressShared; the removal is idempotent.
	if e.host.Record != nil {
		for _, b := range e.backends {
			if err := b.Suppress(ctx, *e.host.Record); err != nil {
				e.logger.Error().Err(err).Str("backend", b.Name()).
					Msg("failed to suppress host identity record")
			}
		}
	}

	for _, b := range e.backends {
		b.SuppressShared(ctx)
	}
}

// suppressContainer withdraws a container's records in reverse creation
// order. TXT and PTR are skipped; the SRV cascade owns them.
func (e *Engine) suppressContainer(ctx context.Context, view ContainerView) {
	recs := orderForCreate(view.Records())
	for _, b := range e.backends {
		for i := len(recs) - 1; i >= 0; i-- {
			r := recs[i]
			if t := r.Type(); t == record.TypeTXT || t == record.TypePTR {
				continue
			}
			if err := b.Suppress(ctx, r); err != nil {
				e.logger.Error().Err(err).Str("backend", b.Name()).Str("record", r.String()).
					Msg("invalid record on suppress")
			}
		}
	}
}

func (e *Engine) reconcileAll(ctx context.Context) {
	started := time.Now()
	for _, b := range e.backends {
		if err := e.reconcileBackend(ctx, b); err != nil {
			e.logger.Error().Err(err).Str("backend", b.Name()).
				Msg("full reconciliation failed, will retry next cycle")
		}
	}
	metrics.ReconcileCyclesTotal.Inc()
	metrics.ReconcileDuration.Observe(time.Since(started).Seconds())
}

// reconcileBackend runs the full diff against one backend: deletes
// first, then creates, each through the ordinary suppress and publish
// paths so the coupled-lifecycle rules still apply.
func (e *Engine) reconcileBackend(ctx context.Context, b *backend.Backend) error {
	live, err := b.RecordsInZone(ctx)
	if err != nil {
		return err
	}
	desired := e.desiredRecords()

	toDelete := e.diffDeletes(live, desired)
	var toCreate []record.Record
	for _, r := range desired {
		if !record.Contains(live, r) && !record.Contains(toCreate, r) {
			toCreate = append(toCreate, r)
		}
	}
	toCreate = orderForCreate(toCreate)

	e.logger.Info().Str("backend", b.Name()).
		Int("live", len(live)).Int("desired", len(desired)).
		Int("deletes", len(toDelete)).Int("creates", len(toCreate)).
		Msg("reconciling")

	for _, r := range toDelete {
		if err := b.Suppress(ctx, r); err != nil {
			e.logger.Error().Err(err).Str("record", r.String()).Msg("invalid record on suppress")
		}
	}
	for _, r := range toCreate {
		if err := b.Publish(ctx, r); err != nil {
			e.logger.Error().Err(err).Str("record", r.String()).Msg("invalid record on publish")
		}
	}
	return nil
}

// diffDeletes selects live records owned by this host that are no
// longer desired. TXT and PTR are never selected; only the SRV cascade
// deletes those.
func (e *Engine) diffDeletes(live, desired []record.Record) []record.Record {
	addrNames := e.ownedAddressNames(live)

	var out []record.Record
	for _, r := range live {
		switch r.Type() {
		case record.TypeTXT, record.TypePTR:
			continue
		}
		if !e.owned(r, addrNames) {
			continue
		}
		if record.Contains(desired, r) {
			continue
		}
		out = append(out, r)
	}
	// SRV deletes run first so their cascades observe the address
	// records still present.
	sort.SliceStable(out, func(i, j int) bool {
		return createRank(out[i].Type()) > createRank(out[j].Type())
	})
	return out
}

// ownedAddressNames collects the names of live address records that
// belong to this host: the host name itself plus any A/AAAA record
// carrying the host's address.
func (e *Engine) ownedAddressNames(live []record.Record) map[string]bool {
	owned := make(map[string]bool)
	if !e.host.Name.IsEmpty() {
		owned[e.host.Name.String()] = true
	}
	addr := e.host.address()
	if addr == "" {
		return owned
	}
	for _, r := range live {
		switch r.Type() {
		case record.TypeA, record.TypeAAAA:
			if r.Value.Content() == addr {
				owned[r.Name.String()] = true
			}
		}
	}
	return owned
}

func (e *Engine) owned(r record.Record, addrNames map[string]bool) bool {
	switch r.Type() {
	case record.TypeA, record.TypeAAAA:
		return addrNames[r.Name.String()]
	case record.TypeSRV:
		srv, ok := r.Value.(record.SRV)
		if !ok {
			return false
		}
		return addrNames[srv.Target.String()]
	}
	return false
}

func (e *Engine) desiredRecords() []record.Record {
	var out []record.Record
	for _, tc := range e.tracked {
		out = append(out, tc.view.Records()...)
	}
	if e.host.Record != nil {
		out = append(out, *e.host.Record)
	}
	return out
}

func createRank(t record.Type) int {
	switch t {
	case record.TypeA, record.TypeAAAA, record.TypeCNAME:
		return 0
	case record.TypeSRV:
		return 1
	case record.TypeTXT:
		return 2
	case record.TypePTR:
		return 3
	}
	return 4
}

// orderForCreate sorts records into publish order: address records
// before the SRV instances that target them, TXT after its SRV, PTR
// last. The sort is stable so discovery's ordering within a type holds.
func orderForCreate(recs []record.Record) []record.Record {
	out := make([]record.Record, len(recs))
	copy(out, recs)
	sort.SliceStable(out, func(i, j int) bool {
		return createRank(out[i].Type()) < createRank(out[j].Type())
	})
	return out
}
