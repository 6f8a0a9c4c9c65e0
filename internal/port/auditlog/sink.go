// Package auditlog defines the port interface for the append-only audit trail.
package auditlog

import (
	"context"

	"github.com/rewryte/rewryte/internal/domain/event"
)

// Sink is the port interface for recording and reading task lifecycle events.
type Sink interface {
	// Append persists a new event. Events are immutable once written.
	Append(ctx context.Context, ev *event.TaskEvent) error

	// LoadByTask returns all events for the given task, oldest first.
	LoadByTask(ctx context.Context, taskID string) ([]event.TaskEvent, error)
}
