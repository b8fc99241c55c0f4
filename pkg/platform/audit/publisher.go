package audit

import (
	"context"
	"log/slog"
	"time"
)

// Publisher hands events to the background worker without blocking domain
// logic. A full inbox drops the event and logs it rather than stalling a
// migration phase on the audit path.
type Publisher struct {
	inbox  chan<- Event
	logger *slog.Logger
}

func NewPublisher(inbox chan<- Event, logger *slog.Logger) *Publisher {
	return &Publisher{inbox: inbox, logger: logger}
}

// Emit stamps and enqueues an event. Category is always derived from the
// action name so call sites cannot misfile an event.
func (p *Publisher) Emit(ctx context.Context, event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	event.Category = AuditEvent(event.Action).Category()

	select {
	case p.inbox <- event:
	default:
		if p.logger != nil {
			p.logger.WarnContext(ctx, "audit inbox full, dropping event",
				"action", event.Action,
				"domain", event.Domain,
			)
		}
	}
}
