package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"github.com/google/uuid"

	"github.com/rewryte/rewryte/internal/adapter/otel"
	"github.com/rewryte/rewryte/internal/domain"
	"github.com/rewryte/rewryte/internal/domain/event"
	"github.com/rewryte/rewryte/internal/domain/task"
	"github.com/rewryte/rewryte/internal/logger"
	"github.com/rewryte/rewryte/internal/port/auditlog"
	"github.com/rewryte/rewryte/internal/port/database"
)

// invalidPayloadDetails is the fixed diagnostic recorded when a result
// callback is structurally invalid (both or neither of new_script / error).
const invalidPayloadDetails = "invalid result payload"

// ResultOutcome is the structured result of applying a callback payload.
// It is always safe to inspect: apply never panics into the caller.
type ResultOutcome struct {
	// Success is true when the payload was absorbed, either by updating the
	// row or by matching an identical, already-applied outcome.
	Success bool
	// WasUpdated is true only when this call actually wrote the row.
	WasUpdated bool
	// Status is the task's status after the call.
	Status task.Status
	// Message is a short human-readable summary for the API response.
	Message string
	// Err carries domain.ErrNotFound, domain.ErrConflict, domain.ErrValidation
	// or an infrastructure error; nil on success.
	Err error
}

// LifecycleService owns every status transition of a task. All mutations go
// through conditional storage updates, so concurrent dispatch workers and
// duplicate callbacks converge on a single winner.
type LifecycleService struct {
	store   database.Store
	audit   auditlog.Sink
	metrics *otel.Metrics
}

// NewLifecycleService creates a new LifecycleService. metrics may be nil.
func NewLifecycleService(store database.Store, audit auditlog.Sink, metrics *otel.Metrics) *LifecycleService {
	return &LifecycleService{store: store, audit: audit, metrics: metrics}
}

// Create persists a new pending task and records its creation event.
func (s *LifecycleService) Create(ctx context.Context, req task.CreateRequest) (*task.Task, error) {
	if req.ReferenceScript == "" || req.OutcomeGoal == "" {
		return nil, fmt.Errorf("reference_script and outcome_goal are required: %w", domain.ErrValidation)
	}

	now := time.Now().UTC()
	t := &task.Task{
		ID:              uuid.NewString(),
		ReferenceScript: req.ReferenceScript,
		OutcomeGoal:     req.OutcomeGoal,
		Status:          task.StatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.store.CreateTask(ctx, t); err != nil {
		return nil, err
	}

	s.appendEvent(ctx, t.ID, event.TypeTaskCreated, map[string]any{
		"outcome_goal": t.OutcomeGoal,
	})
	if s.metrics != nil {
		s.metrics.TasksCreated.Add(ctx, 1)
	}
	return t, nil
}

// Get returns a task by ID.
func (s *LifecycleService) Get(ctx context.Context, id string) (*task.Task, error) {
	return s.store.GetTask(ctx, id)
}

// List returns all tasks, newest first.
func (s *LifecycleService) List(ctx context.Context) ([]task.Task, error) {
	return s.store.ListTasks(ctx)
}

// Audit returns the event trail for a task. The task must exist.
func (s *LifecycleService) Audit(ctx context.Context, taskID string) ([]event.TaskEvent, error) {
	if _, err := s.store.GetTask(ctx, taskID); err != nil {
		return nil, err
	}
	return s.audit.LoadByTask(ctx, taskID)
}

// RecordDispatch notes a dispatch attempt in the task's audit trail.
func (s *LifecycleService) RecordDispatch(ctx context.Context, taskID string, attempt int) {
	s.appendEvent(ctx, taskID, event.TypeDispatched, map[string]any{"attempt": attempt})
}

// MarkProcessing attempts the pending->processing transition. It returns true
// when this call won the transition or the task is already processing, and
// false when the task has reached a terminal state.
func (s *LifecycleService) MarkProcessing(ctx context.Context, id string) (bool, error) {
	moved, err := s.store.TransitionStatus(ctx, id, task.StatusPending, task.StatusProcessing)
	if err != nil {
		return false, err
	}
	if moved {
		s.appendEvent(ctx, id, event.TypeStatusChanged, map[string]any{
			"from": task.StatusPending, "to": task.StatusProcessing,
		})
		return true, nil
	}

	// Lost the conditional update: decide idempotent vs refused from the
	// current row.
	t, err := s.store.GetTask(ctx, id)
	if err != nil {
		return false, err
	}
	return t.Status == task.StatusProcessing, nil
}

// MarkCompleted finalizes a task with a reworked script. An identical replay
// of an already-applied result reports true without writing.
func (s *LifecycleService) MarkCompleted(ctx context.Context, id, script string, metadata map[string]any) (bool, error) {
	applied, replayed, err := s.markCompleted(ctx, s.store, id, script, metadata)
	return applied || replayed, err
}

// MarkFailed finalizes a task with failure details. An identical replay of an
// already-recorded failure reports true without writing.
func (s *LifecycleService) MarkFailed(ctx context.Context, id, details string) (bool, error) {
	applied, replayed, err := s.markFailed(ctx, s.store, id, details)
	return applied || replayed, err
}

// ApplyResult maps a parsed callback payload onto the task's lifecycle using
// the given store, which lets the transactional wrapper pass a tx-bound one.
func (s *LifecycleService) ApplyResult(ctx context.Context, st database.Store, p *task.ResultPayload) ResultOutcome {
	if !p.IsValid() {
		// Structurally broken payload: the task is forced to failed so it
		// does not hang in processing forever. The caller still sees an
		// invalid-payload error even when the forced failure was a replay.
		applied, _, err := s.markFailed(ctx, st, p.TaskID, invalidPayloadDetails)
		if err != nil {
			return ResultOutcome{Status: task.StatusFailed, Message: invalidPayloadDetails, Err: err}
		}
		return ResultOutcome{
			WasUpdated: applied,
			Status:     task.StatusFailed,
			Message:    invalidPayloadDetails,
			Err:        fmt.Errorf("%s: %w", invalidPayloadDetails, domain.ErrValidation),
		}
	}

	if p.IsSuccess() {
		applied, replayed, err := s.markCompleted(ctx, st, p.TaskID, *p.NewScript, p.Analysis)
		return s.outcome(ctx, st, p.TaskID, task.StatusCompleted, applied, replayed, err)
	}

	applied, replayed, err := s.markFailed(ctx, st, p.TaskID, *p.Error)
	return s.outcome(ctx, st, p.TaskID, task.StatusFailed, applied, replayed, err)
}

// ApplyResultTransactionally runs ApplyResult inside a storage transaction so
// the status write and result fields land atomically. It never panics into
// the caller; a panic is converted into a failed outcome.
func (s *LifecycleService) ApplyResultTransactionally(ctx context.Context, p *task.ResultPayload) (out ResultOutcome) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic applying result", "task_id", p.TaskID, "panic", r)
			out = ResultOutcome{Message: "internal error", Err: fmt.Errorf("apply result panic: %v", r)}
		}
	}()

	err := s.store.WithTx(ctx, func(ctx context.Context, st database.Store) error {
		out = s.ApplyResult(ctx, st, p)
		// Infrastructure errors roll the transaction back; business refusals
		// (conflict, invalid payload) commit whatever they wrote.
		if out.Err != nil && !isDomainErr(out.Err) {
			return out.Err
		}
		return nil
	})
	if err != nil && out.Err == nil {
		out = ResultOutcome{Message: "storage error", Err: err}
	}
	return out
}

// outcome builds the ResultOutcome for a valid payload after the conditional
// update ran.
func (s *LifecycleService) outcome(ctx context.Context, st database.Store, id string, target task.Status, applied, replayed bool, err error) ResultOutcome {
	switch {
	case err != nil:
		return ResultOutcome{Message: "storage error", Err: err}
	case applied:
		return ResultOutcome{Success: true, WasUpdated: true, Status: target, Message: "result applied"}
	case replayed:
		return ResultOutcome{Success: true, Status: target, Message: "result already applied"}
	}

	t, err := st.GetTask(ctx, id)
	if err != nil {
		return ResultOutcome{Message: "task not found", Err: err}
	}
	return ResultOutcome{
		Status:  t.Status,
		Message: fmt.Sprintf("task already finalized as %s with a different result", t.Status),
		Err:     fmt.Errorf("conflicting result for task %s: %w", id, domain.ErrConflict),
	}
}

// markCompleted runs the conditional completion update and classifies a lost
// race as identical replay or conflict.
func (s *LifecycleService) markCompleted(ctx context.Context, st database.Store, id, script string, metadata map[string]any) (applied, replayed bool, err error) {
	applied, err = st.CompleteTask(ctx, id, script, metadata)
	if err != nil {
		return false, false, err
	}
	if applied {
		s.appendEvent(ctx, id, event.TypeTaskCompleted, map[string]any{"script_len": len(script)})
		if s.metrics != nil {
			s.metrics.TasksCompleted.Add(ctx, 1)
		}
		return true, false, nil
	}

	t, err := st.GetTask(ctx, id)
	if err != nil {
		return false, false, err
	}
	if t.Status == task.StatusCompleted &&
		t.ResultScript != nil && *t.ResultScript == script &&
		reflect.DeepEqual(t.ResultMetadata, metadata) {
		s.appendEvent(ctx, id, event.TypeResultReplay, nil)
		if s.metrics != nil {
			s.metrics.CallbackReplays.Add(ctx, 1)
		}
		return false, true, nil
	}
	s.appendEvent(ctx, id, event.TypeConflict, map[string]any{"status": t.Status})
	return false, false, nil
}

// markFailed runs the conditional failure update and classifies a lost race
// as identical replay or conflict.
func (s *LifecycleService) markFailed(ctx context.Context, st database.Store, id, details string) (applied, replayed bool, err error) {
	applied, err = st.FailTask(ctx, id, details)
	if err != nil {
		return false, false, err
	}
	if applied {
		s.appendEvent(ctx, id, event.TypeTaskFailed, map[string]any{"details": details})
		if s.metrics != nil {
			s.metrics.TasksFailed.Add(ctx, 1)
		}
		return true, false, nil
	}

	t, err := st.GetTask(ctx, id)
	if err != nil {
		return false, false, err
	}
	if t.Status == task.StatusFailed &&
		t.ErrorDetails != nil && *t.ErrorDetails == details {
		s.appendEvent(ctx, id, event.TypeResultReplay, nil)
		if s.metrics != nil {
			s.metrics.CallbackReplays.Add(ctx, 1)
		}
		return false, true, nil
	}
	s.appendEvent(ctx, id, event.TypeConflict, map[string]any{"status": t.Status})
	return false, false, nil
}

// appendEvent records an audit event. Audit failures are logged, never fatal.
func (s *LifecycleService) appendEvent(ctx context.Context, taskID string, typ event.Type, payload map[string]any) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			slog.Error("marshal audit payload", "task_id", taskID, "error", err)
			return
		}
		raw = data
	}
	ev := &event.TaskEvent{
		TaskID:    taskID,
		Type:      typ,
		Payload:   raw,
		RequestID: logger.RequestID(ctx),
	}
	if err := s.audit.Append(ctx, ev); err != nil {
		slog.Error("append audit event", "task_id", taskID, "type", typ, "error", err)
	}
}

func isDomainErr(err error) bool {
	return errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, domain.ErrConflict) ||
		errors.Is(err, domain.ErrValidation)
}
