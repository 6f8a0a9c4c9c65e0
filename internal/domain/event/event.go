// Package event defines the audit event entity recorded for task lifecycle changes.
package event

import (
	"encoding/json"
	"time"
)

// Type identifies the kind of task lifecycle event.
type Type string

const (
	TypeTaskCreated   Type = "task.created"
	TypeStatusChanged Type = "task.status_changed"
	TypeTaskCompleted Type = "task.completed"
	TypeTaskFailed    Type = "task.failed"
	TypeResultReplay  Type = "task.result_replayed"
	TypeConflict      Type = "task.result_conflict"
	TypeDispatched    Type = "task.dispatched"
)

// TaskEvent represents a single immutable entry in a task's audit trail.
type TaskEvent struct {
	ID        string          `json:"id"`
	TaskID    string          `json:"task_id"`
	Type      Type            `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	RequestID string          `json:"request_id,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}
