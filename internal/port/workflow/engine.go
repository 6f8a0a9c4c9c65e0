// Package workflow defines the port interface for the external workflow engine.
package workflow

import "context"

// TriggerRequest carries the task identity and its two immutable inputs to
// the external engine. The result arrives later on the callback endpoint.
type TriggerRequest struct {
	TaskID          string `json:"task_id"`
	ReferenceScript string `json:"reference_script"`
	OutcomeGoal     string `json:"outcome_goal"`
}

// Engine is the port interface for triggering the external AI workflow.
type Engine interface {
	// Trigger delivers one trigger request, retrying transient failures
	// internally. The returned map is the engine's acknowledgement body.
	Trigger(ctx context.Context, req TriggerRequest) (map[string]any, error)

	// IsAvailable probes whether the engine endpoint exists and responds.
	// It is a liveness signal, not a guarantee the next Trigger will succeed.
	IsAvailable(ctx context.Context) bool
}
