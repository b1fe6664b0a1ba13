package watcher

import (
	"context"
	"errors"
	"testing"

	apievents "github.com/containerd/containerd/api/events"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/hutchdns/hutch/pkg/engine"
	"github.com/hutchdns/hutch/pkg/record"
)

type fakeSink struct {
	started    []string
	stopped    []string
	died       map[string]int
	terminated bool
}

func (s *fakeSink) Containers([]engine.ContainerView) {}
func (s *fakeSink) Started(v engine.ContainerView)    { s.started = append(s.started, v.ID()) }
func (s *fakeSink) Stopped(id string)                 { s.stopped = append(s.stopped, id) }
func (s *fakeSink) Died(id string, code int) {
	if s.died == nil {
		s.died = make(map[string]int)
	}
	s.died[id] = code
}
func (s *fakeSink) Terminate() { s.terminated = true }

type staticView string

func (v staticView) ID() string               { return string(v) }
func (v staticView) Name() string             { return string(v) }
func (v staticView) Records() []record.Record { return nil }

func newTestWatcher(sink *fakeSink) *Watcher {
	w := &Watcher{sink: sink, done: make(chan struct{}), logger: zerolog.Nop()}
	w.loadView = func(ctx context.Context, id string) (engine.ContainerView, error) {
		return staticView(id), nil
	}
	return w
}

func TestHandleEvent(t *testing.T) {
	t.Run("task start", func(t *testing.T) {
		sink := &fakeSink{}
		w := newTestWatcher(sink)
		w.handleEvent(context.Background(), &apievents.TaskStart{ContainerID: "c-1"})
		assert.Equal(t, []string{"c-1"}, sink.started)
	})

	t.Run("task start with unloadable container", func(t *testing.T) {
		sink := &fakeSink{}
		w := newTestWatcher(sink)
		w.loadView = func(context.Context, string) (engine.ContainerView, error) {
			return nil, errors.New("no such container")
		}
		w.handleEvent(context.Background(), &apievents.TaskStart{ContainerID: "c-1"})
		assert.Empty(t, sink.started)
	})

	t.Run("init process exit", func(t *testing.T) {
		sink := &fakeSink{}
		w := newTestWatcher(sink)
		w.handleEvent(context.Background(), &apievents.TaskExit{
			ContainerID: "c-1", ID: "c-1", ExitStatus: 137,
		})
		assert.Equal(t, map[string]int{"c-1": 137}, sink.died)
	})

	t.Run("exec process exit ignored", func(t *testing.T) {
		sink := &fakeSink{}
		w := newTestWatcher(sink)
		w.handleEvent(context.Background(), &apievents.TaskExit{
			ContainerID: "c-1", ID: "exec-7", ExitStatus: 1,
		})
		assert.Empty(t, sink.died)
	})

	t.Run("container delete", func(t *testing.T) {
		sink := &fakeSink{}
		w := newTestWatcher(sink)
		w.handleEvent(context.Background(), &apievents.ContainerDelete{ID: "c-1"})
		assert.Equal(t, []string{"c-1"}, sink.stopped)
	})

	t.Run("unknown event ignored", func(t *testing.T) {
		sink := &fakeSink{}
		w := newTestWatcher(sink)
		w.handleEvent(context.Background(), &apievents.TaskPaused{ContainerID: "c-1"})
		assert.Empty(t, sink.started)
		assert.Empty(t, sink.stopped)
		assert.Empty(t, sink.died)
	})
}
