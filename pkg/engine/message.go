package engine

import (
	"github.com/google/uuid"

	"github.com/hutchdns/hutch/pkg/record"
)

// ContainerView is the engine's read-only view of one running
// container: a stable identity plus the relative DNS records the
// container should be represented by. Produced by the discovery layer.
type ContainerView interface {
	// ID returns the container's platform identity; re-delivery of the
	// same container is idempotent.
	ID() string
	// Name returns the container's human-readable name, for logs.
	Name() string
	// Records returns the container's desired records, relative to the
	// managed zone, in creation order.
	Records() []record.Record
}

type messageKind string

const (
	kindContainers  messageKind = "containers"
	kindStarted     messageKind = "started"
	kindStopped     messageKind = "stopped"
	kindDied        messageKind = "died"
	kindReconcile   messageKind = "reconcile"
	kindSuppressAll messageKind = "suppress-all"
	kindTerminate   messageKind = "terminate"
)

type message struct {
	id          string
	kind        messageKind
	containers  []ContainerView
	container   ContainerView
	containerID string
	exitCode    int
}

func newMessage(kind messageKind) message {
	return message{id: uuid.NewString(), kind: kind}
}

// Containers enqueues a full container listing; the worker replaces its
// tracked set and runs a full reconciliation.
func (e *Engine) Containers(views []ContainerView) {
	m := newMessage(kindContainers)
	m.containers = views
	e.enqueue(m)
}

// Started enqueues a container start event.
func (e *Engine) Started(view ContainerView) {
	m := newMessage(kindStarted)
	m.container = view
	e.enqueue(m)
}

// Stopped enqueues an explicit stop request for a container. No DNS
// change happens until the matching died event arrives.
func (e *Engine) Stopped(containerID string) {
	m := newMessage(kindStopped)
	m.containerID = containerID
	e.enqueue(m)
}

// Died enqueues a container exit event with its exit code.
func (e *Engine) Died(containerID string, exitCode int) {
	m := newMessage(kindDied)
	m.containerID = containerID
	m.exitCode = exitCode
	e.enqueue(m)
}

// Reconcile requests a full reconciliation pass against every backend.
func (e *Engine) Reconcile() {
	e.enqueue(newMessage(kindReconcile))
}

// SuppressAll withdraws every record owned by this host, including the
// deferred shared address records. Enqueued at shutdown, before
// Terminate.
func (e *Engine) SuppressAll() {
	e.enqueue(newMessage(kindSuppressAll))
}

// Terminate stops the worker once every previously enqueued message has
// been drained.
func (e *Engine) Terminate() {
	e.enqueue(newMessage(kindTerminate))
}

func (e *Engine) enqueue(m message) {
	e.queue <- m
}
