package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rewryte/rewryte/internal/adapter/otel"
	"github.com/rewryte/rewryte/internal/config"
	"github.com/rewryte/rewryte/internal/domain"
	"github.com/rewryte/rewryte/internal/domain/task"
	"github.com/rewryte/rewryte/internal/port/messagequeue"
	"github.com/rewryte/rewryte/internal/port/workflow"
)

// preconditionDetails is the fixed diagnostic recorded when a dispatch job
// finds its task in a state that cannot start processing.
const preconditionDetails = "task not in a processable state"

// dispatchJob is the message envelope carried on the dispatch subject.
// Attempt starts at 1 and counts job-level invocations, independent of the
// workflow client's own transport retries.
type dispatchJob struct {
	TaskID  string `json:"task_id"`
	Attempt int    `json:"attempt"`
}

// DispatchService enqueues newly created tasks and consumes dispatch jobs,
// driving each task through the workflow engine with a bounded retry budget.
type DispatchService struct {
	lifecycle *LifecycleService
	queue     messagequeue.Queue
	engine    workflow.Engine
	cfg       config.Dispatch
	metrics   *otel.Metrics

	// sleep is swapped in tests to skip real backoff waits.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewDispatchService creates a new DispatchService. metrics may be nil.
func NewDispatchService(lifecycle *LifecycleService, queue messagequeue.Queue, engine workflow.Engine, cfg config.Dispatch, metrics *otel.Metrics) *DispatchService {
	return &DispatchService{
		lifecycle: lifecycle,
		queue:     queue,
		engine:    engine,
		cfg:       cfg,
		metrics:   metrics,
		sleep:     sleepCtx,
	}
}

// Submit creates a task and enqueues its first dispatch job. The task is
// returned even when enqueueing fails; it stays pending and can be re-driven.
func (s *DispatchService) Submit(ctx context.Context, req task.CreateRequest) (*task.Task, error) {
	t, err := s.lifecycle.Create(ctx, req)
	if err != nil {
		return nil, err
	}

	if err := s.enqueue(ctx, t.ID, 1); err != nil {
		slog.Error("failed to enqueue dispatch job", "task_id", t.ID, "error", err)
		return t, nil
	}
	s.lifecycle.RecordDispatch(ctx, t.ID, 1)
	return t, nil
}

// Start subscribes to the dispatch subject. The returned function cancels
// the subscription.
func (s *DispatchService) Start(ctx context.Context) (func(), error) {
	return s.queue.Subscribe(ctx, messagequeue.SubjectTaskDispatch, s.handle)
}

// handle processes one dispatch job invocation. Returning an error naks the
// message for queue-level redelivery; business outcomes always ack.
func (s *DispatchService) handle(ctx context.Context, _ string, data []byte) error {
	var job dispatchJob
	if err := json.Unmarshal(data, &job); err != nil {
		slog.Error("dropping malformed dispatch job", "error", err)
		return nil
	}
	if job.Attempt < 1 {
		job.Attempt = 1
	}
	log := slog.With("task_id", job.TaskID, "attempt", job.Attempt)

	t, err := s.lifecycle.Get(ctx, job.TaskID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			log.Warn("dispatch job for unknown task, dropping")
			return nil
		}
		return err
	}

	// Precondition: the task must reach processing. A refusal is terminal for
	// this job; the conditional failure write cannot clobber a task that a
	// callback already finalized.
	ok, err := s.lifecycle.MarkProcessing(ctx, t.ID)
	if err != nil {
		return err
	}
	if !ok {
		log.Warn("dispatch precondition failed", "status", t.Status)
		if _, err := s.lifecycle.MarkFailed(ctx, t.ID, preconditionDetails); err != nil {
			log.Error("failed to record precondition failure", "error", err)
		}
		return nil
	}

	start := time.Now()
	_, triggerErr := s.engine.Trigger(ctx, workflow.TriggerRequest{
		TaskID:          t.ID,
		ReferenceScript: t.ReferenceScript,
		OutcomeGoal:     t.OutcomeGoal,
	})
	if s.metrics != nil {
		s.metrics.TriggerDuration.Record(ctx, time.Since(start).Seconds())
	}

	if triggerErr == nil {
		// The task stays processing until the engine calls back with a result.
		log.Info("workflow triggered")
		return nil
	}

	log.Error("workflow trigger failed", "error", triggerErr)
	if job.Attempt < s.cfg.MaxAttempts {
		if err := s.sleep(ctx, s.backoffFor(job.Attempt)); err != nil {
			return err
		}
		if err := s.enqueue(ctx, t.ID, job.Attempt+1); err != nil {
			return fmt.Errorf("requeue dispatch job: %w", err)
		}
		if s.metrics != nil {
			s.metrics.DispatchRetries.Add(ctx, 1)
		}
		s.lifecycle.RecordDispatch(ctx, t.ID, job.Attempt+1)
		return nil
	}

	details := fmt.Sprintf("workflow trigger failed after %d attempts: %v", job.Attempt, triggerErr)
	if _, err := s.lifecycle.MarkFailed(ctx, t.ID, details); err != nil {
		log.Error("failed to record trigger exhaustion", "error", err)
		return err
	}
	return nil
}

func (s *DispatchService) enqueue(ctx context.Context, taskID string, attempt int) error {
	data, err := json.Marshal(dispatchJob{TaskID: taskID, Attempt: attempt})
	if err != nil {
		return fmt.Errorf("marshal dispatch job: %w", err)
	}
	return s.queue.Publish(ctx, messagequeue.SubjectTaskDispatch, data)
}

// backoffFor returns the delay before attempt+1, clamping past the end of the
// configured schedule.
func (s *DispatchService) backoffFor(attempt int) time.Duration {
	if len(s.cfg.Backoff) == 0 {
		return 0
	}
	idx := attempt - 1
	if idx >= len(s.cfg.Backoff) {
		idx = len(s.cfg.Backoff) - 1
	}
	return s.cfg.Backoff[idx]
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
