// Package notify delivers user-facing status updates. Delivery transports
// (email, webhook) live behind the Notifier interface; the pipeline only
// decides when something is worth telling the domain owner about.
package notify

import (
	"context"
	"log/slog"
)

// Event is one user-facing status update.
type Event struct {
	Domain  string
	JobID   string
	Kind    Kind
	Message string
}

// Kind classifies notifications so transports can route or throttle them.
type Kind string

const (
	KindPhaseChanged       Kind = "phase_changed"
	KindVerificationNeeded Kind = "verification_needed"
	KindMigrationFailed    Kind = "migration_failed"
	KindMigrationSucceeded Kind = "migration_succeeded"
	KindVerifyFlagged      Kind = "verify_flagged"
	KindRolledBack         Kind = "rolled_back"
)

// Notifier delivers events. Implementations must not block on slow
// transports; the orchestrator calls Notify inline.
type Notifier interface {
	Notify(ctx context.Context, event Event)
}

// LogNotifier writes notifications to the structured log. The default until a
// real transport is configured.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, event Event) {
	n.logger.InfoContext(ctx, "notification",
		"kind", string(event.Kind),
		"domain", event.Domain,
		"job_id", event.JobID,
		"message", event.Message,
	)
}

// ChannelNotifier captures events on a channel. Used by tests and by the
// console's server-sent-events bridge.
type ChannelNotifier struct {
	C chan Event
}

func NewChannelNotifier(buffer int) *ChannelNotifier {
	return &ChannelNotifier{C: make(chan Event, buffer)}
}

func (n *ChannelNotifier) Notify(_ context.Context, event Event) {
	select {
	case n.C <- event:
	default:
	}
}
