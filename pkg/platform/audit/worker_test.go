package audit

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

type capturingSink struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (s *capturingSink) Publish(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, event)
	return nil
}

func (s *capturingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func TestPublisherEmit(t *testing.T) {
	t.Run("derives category from action", func(t *testing.T) {
		inbox := make(chan Event, 1)
		pub := NewPublisher(inbox, discardLogger())

		pub.Emit(context.Background(), Event{Action: string(EventNameserversCut), Domain: "example.com"})

		event := <-inbox
		assert.Equal(t, CategoryCompliance, event.Category)
		assert.False(t, event.Timestamp.IsZero())
	})

	t.Run("full inbox drops instead of blocking", func(t *testing.T) {
		inbox := make(chan Event, 1)
		pub := NewPublisher(inbox, discardLogger())

		pub.Emit(context.Background(), Event{Action: string(EventPhaseAdvanced)})

		done := make(chan struct{})
		go func() {
			pub.Emit(context.Background(), Event{Action: string(EventPhaseAdvanced)})
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("Emit blocked on full inbox")
		}
	})
}

func TestWorkerRun(t *testing.T) {
	t.Run("persists and fans out", func(t *testing.T) {
		inbox := make(chan Event, 4)
		store := NewMemoryStore()
		sink := &capturingSink{}
		worker := NewWorker(store, inbox, discardLogger()).WithSink(sink)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- worker.Run(ctx) }()

		inbox <- Event{Action: string(EventJobCreated), Domain: "example.com"}
		inbox <- Event{Action: string(EventPhaseAdvanced), Domain: "example.com"}

		require.Eventually(t, func() bool { return sink.count() == 2 }, time.Second, 5*time.Millisecond)

		events, err := store.ListByDomain(context.Background(), "example.com")
		require.NoError(t, err)
		assert.Len(t, events, 2)

		cancel()
		require.ErrorIs(t, <-done, context.Canceled)
	})

	t.Run("store failure does not stop the worker", func(t *testing.T) {
		inbox := make(chan Event, 2)
		sink := &capturingSink{}
		worker := NewWorker(failingStore{}, inbox, discardLogger()).WithSink(sink)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() { _ = worker.Run(ctx) }()

		inbox <- Event{Action: string(EventJobFailed)}
		inbox <- Event{Action: string(EventJobFailed)}

		require.Eventually(t, func() bool { return sink.count() == 2 }, time.Second, 5*time.Millisecond)
	})
}

type failingStore struct{}

func (failingStore) Append(context.Context, Event) error { return errors.New("db down") }
func (failingStore) ListByDomain(context.Context, string) ([]Event, error) {
	return nil, errors.New("db down")
}
func (failingStore) ListRecent(context.Context, int) ([]Event, error) {
	return nil, errors.New("db down")
}
