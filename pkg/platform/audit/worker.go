package audit

import (
	"context"
	"log/slog"
)

// Worker consumes audit events from a channel and persists them, optionally
// fanning out to a secondary sink (the kafka publisher). A store failure is
// logged, never fatal: losing one ops event must not take down the pipeline.
type Worker struct {
	store  Store
	sink   Sink
	inbox  <-chan Event
	logger *slog.Logger
}

// Sink is an optional secondary destination for events (e.g. kafka).
type Sink interface {
	Publish(ctx context.Context, event Event) error
}

func NewWorker(store Store, inbox <-chan Event, logger *slog.Logger) *Worker {
	return &Worker{store: store, inbox: inbox, logger: logger}
}

// WithSink attaches a secondary sink. Returns the worker for chaining at
// wire-up time.
func (w *Worker) WithSink(sink Sink) *Worker {
	w.sink = sink
	return w
}

func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event := <-w.inbox:
			if err := w.store.Append(ctx, event); err != nil {
				w.logger.ErrorContext(ctx, "append audit event",
					"error", err,
					"action", event.Action,
				)
			}
			if w.sink != nil {
				if err := w.sink.Publish(ctx, event); err != nil {
					w.logger.WarnContext(ctx, "publish audit event to sink",
						"error", err,
						"action", event.Action,
					)
				}
			}
		}
	}
}
