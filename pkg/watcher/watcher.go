package watcher

import (
	"context"
	"fmt"
	"time"

	"github.com/containerd/containerd"
	apievents "github.com/containerd/containerd/api/events"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/typeurl/v2"
	"github.com/rs/zerolog"

	"github.com/hutchdns/hutch/pkg/discovery"
	"github.com/hutchdns/hutch/pkg/engine"
	"github.com/hutchdns/hutch/pkg/log"
)

const (
	// DefaultSocketPath is the default containerd socket.
	DefaultSocketPath = "/run/containerd/containerd.sock"

	// DefaultNamespace is the containerd namespace watched when the
	// configuration does not set one.
	DefaultNamespace = "default"

	initialReconnectDelay = time.Second
	maxReconnectDelay     = 30 * time.Second

	// maxConsecutiveFailures bounds reconnect attempts that never
	// deliver an event before the watcher escalates a terminate.
	maxConsecutiveFailures = 10
)

// Sink receives the messages the watcher produces. Satisfied by
// engine.Engine.
type Sink interface {
	Containers([]engine.ContainerView)
	Started(engine.ContainerView)
	Stopped(containerID string)
	Died(containerID string, exitCode int)
	Terminate()
}

// Watcher owns the containerd client and the event stream loop.
type Watcher struct {
	client    *containerd.Client
	namespace string
	sink      Sink
	host      discovery.Host
	done      chan struct{}
	logger    zerolog.Logger

	// loadView resolves a container ID to its view; swapped by tests.
	loadView func(ctx context.Context, id string) (engine.ContainerView, error)
}

// New connects to containerd. An unreachable socket fails construction;
// stream failures after construction are retried inside Run.
func New(socketPath, namespace string, sink Sink, host discovery.Host) (*Watcher, error) {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}
	if namespace == "" {
		namespace = DefaultNamespace
	}
	client, err := containerd.New(socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to containerd: %w", err)
	}

	w := &Watcher{
		client:    client,
		namespace: namespace,
		sink:      sink,
		host:      host,
		done:      make(chan struct{}),
		logger:    log.WithComponent("watcher"),
	}
	w.loadView = w.containerView
	return w, nil
}

// Close closes the containerd client.
func (w *Watcher) Close() error {
	if w.client != nil {
		return w.client.Close()
	}
	return nil
}

// Done is closed when the event loop has exited. Join before process
// exit.
func (w *Watcher) Done() <-chan struct{} { return w.done }

// Healthy reports whether the containerd socket is still serving.
func (w *Watcher) Healthy(ctx context.Context) error {
	serving, err := w.client.IsServing(ctx)
	if err != nil {
		return fmt.Errorf("containerd: %w", err)
	}
	if !serving {
		return fmt.Errorf("containerd: not serving")
	}
	return nil
}

// Seed lists the currently running containers and delivers them to the
// sink as one full listing, which triggers the initial reconciliation.
func (w *Watcher) Seed(ctx context.Context) error {
	ctx = namespaces.WithNamespace(ctx, w.namespace)

	cs, err := w.client.Containers(ctx)
	if err != nil {
		return fmt.Errorf("failed to list containers: %w", err)
	}

	views := make([]engine.ContainerView, 0, len(cs))
	for _, c := range cs {
		task, err := c.Task(ctx, nil)
		if err != nil {
			// No task means the container is not running.
			continue
		}
		status, err := task.Status(ctx)
		if err != nil || status.Status != containerd.Running {
			continue
		}

		labels, err := c.Labels(ctx)
		if err != nil {
			w.logger.Warn().Err(err).Str("container_id", c.ID()).Msg("failed to read container labels")
			continue
		}
		view, err := discovery.FromLabels(c.ID(), c.ID(), labels, w.host)
		if err != nil {
			w.logger.Warn().Err(err).Str("container_id", c.ID()).Msg("skipping container with invalid labels")
			continue
		}
		views = append(views, view)
	}

	w.logger.Info().Int("containers", len(views)).Msg("seeded container listing")
	w.sink.Containers(views)
	return nil
}

// Run consumes the event stream until ctx is cancelled, reconnecting
// with a bounded growing delay on stream failures.
func (w *Watcher) Run(ctx context.Context) {
	go w.loop(ctx)
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)

	delay := initialReconnectDelay
	failures := 0
	for {
		delivered, err := w.watch(ctx)
		if ctx.Err() != nil {
			return
		}
		if delivered {
			delay = initialReconnectDelay
			failures = 0
		} else {
			failures++
			if failures >= maxConsecutiveFailures {
				w.logger.Error().Err(err).
					Msg("event stream unrecoverable, escalating terminate")
				w.sink.Terminate()
				return
			}
		}

		w.logger.Warn().Err(err).Dur("retry_in", delay).Msg("event stream failed, reconnecting")
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

// watch runs one subscription until it fails. Returns whether any event
// was delivered on this connection.
func (w *Watcher) watch(ctx context.Context) (bool, error) {
	ctx = namespaces.WithNamespace(ctx, w.namespace)

	ch, errCh := w.client.Subscribe(ctx,
		`topic=="/tasks/start"`,
		`topic=="/tasks/exit"`,
		`topic=="/containers/delete"`,
	)

	delivered := false
	for {
		select {
		case env := <-ch:
			if env == nil || env.Event == nil {
				continue
			}
			delivered = true
			ev, err := typeurl.UnmarshalAny(env.Event)
			if err != nil {
				w.logger.Warn().Err(err).Str("topic", env.Topic).Msg("failed to decode event")
				continue
			}
			w.handleEvent(ctx, ev)
		case err := <-errCh:
			return delivered, err
		case <-ctx.Done():
			return delivered, ctx.Err()
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, ev interface{}) {
	switch e := ev.(type) {
	case *apievents.TaskStart:
		view, err := w.loadView(ctx, e.ContainerID)
		if err != nil {
			w.logger.Warn().Err(err).Str("container_id", e.ContainerID).
				Msg("skipping started container")
			return
		}
		w.sink.Started(view)
	case *apievents.TaskExit:
		// Exec processes report exits under the same topic; only the
		// init process ends the container.
		if e.ID != e.ContainerID {
			return
		}
		w.sink.Died(e.ContainerID, int(e.ExitStatus))
	case *apievents.ContainerDelete:
		w.sink.Stopped(e.ID)
	default:
		w.logger.Debug().Str("type", fmt.Sprintf("%T", ev)).Msg("ignoring event")
	}
}

func (w *Watcher) containerView(ctx context.Context, id string) (engine.ContainerView, error) {
	c, err := w.client.LoadContainer(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load container %s: %w", id, err)
	}
	labels, err := c.Labels(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read labels for %s: %w", id, err)
	}
	return discovery.FromLabels(id, id, labels, w.host)
}
