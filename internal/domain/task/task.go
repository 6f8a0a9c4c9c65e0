// Package task defines the Task domain entity and its status state machine.
package task

import "time"

// Status represents the current state of a task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// IsFinal reports whether the status permits no further business transition.
func (s Status) IsFinal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanProcess reports whether a task in this status may start processing.
func (s Status) CanProcess() bool {
	return s == StatusPending
}

// Task represents one ad script submitted for AI rework.
// ReferenceScript and OutcomeGoal are immutable after creation; status and
// result fields are mutated only through the lifecycle service.
type Task struct {
	ID              string         `json:"id"`
	ReferenceScript string         `json:"reference_script"`
	OutcomeGoal     string         `json:"outcome_goal"`
	Status          Status         `json:"status"`
	ResultScript    *string        `json:"result_script,omitempty"`
	ResultMetadata  map[string]any `json:"result_metadata,omitempty"`
	ErrorDetails    *string        `json:"error_details,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// CanProcess reports whether the task may start processing.
func (t *Task) CanProcess() bool { return t.Status.CanProcess() }

// IsFinal reports whether the task has reached a terminal status.
func (t *Task) IsFinal() bool { return t.Status.IsFinal() }

// CreateRequest holds the fields needed to create a new task.
type CreateRequest struct {
	ReferenceScript string `json:"reference_script"`
	OutcomeGoal     string `json:"outcome_goal"`
}
