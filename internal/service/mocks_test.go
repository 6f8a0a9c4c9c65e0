package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/rewryte/rewryte/internal/domain"
	"github.com/rewryte/rewryte/internal/domain/event"
	"github.com/rewryte/rewryte/internal/domain/task"
	"github.com/rewryte/rewryte/internal/port/database"
	"github.com/rewryte/rewryte/internal/port/messagequeue"
	"github.com/rewryte/rewryte/internal/port/workflow"
)

// mockStore implements database.Store in memory, mirroring the conditional
// update semantics of the real adapter.
type mockStore struct {
	mu    sync.Mutex
	tasks map[string]*task.Task

	createErr error
	getErr    error
	updateErr error

	completeCalls int
	failCalls     int
}

func newMockStore(tasks ...*task.Task) *mockStore {
	m := &mockStore{tasks: make(map[string]*task.Task)}
	for _, t := range tasks {
		m.tasks[t.ID] = t
	}
	return m
}

func (m *mockStore) CreateTask(_ context.Context, t *task.Task) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.tasks[t.ID] = &cp
	return nil
}

func (m *mockStore) GetTask(_ context.Context, id string) (*task.Task, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, fmt.Errorf("get task %s: %w", id, domain.ErrNotFound)
	}
	cp := *t
	return &cp, nil
}

func (m *mockStore) ListTasks(_ context.Context) ([]task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]task.Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		out = append(out, *t)
	}
	return out, nil
}

func (m *mockStore) TransitionStatus(_ context.Context, id string, from, to task.Status) (bool, error) {
	if m.updateErr != nil {
		return false, m.updateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok || t.Status != from {
		return false, nil
	}
	t.Status = to
	return true, nil
}

func (m *mockStore) CompleteTask(_ context.Context, id, script string, metadata map[string]any) (bool, error) {
	m.completeCalls++
	if m.updateErr != nil {
		return false, m.updateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok || t.IsFinal() {
		return false, nil
	}
	t.Status = task.StatusCompleted
	t.ResultScript = &script
	t.ResultMetadata = metadata
	t.ErrorDetails = nil
	return true, nil
}

func (m *mockStore) FailTask(_ context.Context, id, details string) (bool, error) {
	m.failCalls++
	if m.updateErr != nil {
		return false, m.updateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok || t.IsFinal() {
		return false, nil
	}
	t.Status = task.StatusFailed
	t.ErrorDetails = &details
	return true, nil
}

func (m *mockStore) WithTx(ctx context.Context, fn func(ctx context.Context, st database.Store) error) error {
	return fn(ctx, m)
}

// mockSink implements auditlog.Sink in memory.
type mockSink struct {
	mu        sync.Mutex
	events    []event.TaskEvent
	appendErr error
}

func (s *mockSink) Append(_ context.Context, ev *event.TaskEvent) error {
	if s.appendErr != nil {
		return s.appendErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, *ev)
	return nil
}

func (s *mockSink) LoadByTask(_ context.Context, taskID string) ([]event.TaskEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []event.TaskEvent
	for _, ev := range s.events {
		if ev.TaskID == taskID {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (s *mockSink) typesFor(taskID string) []event.Type {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []event.Type
	for _, ev := range s.events {
		if ev.TaskID == taskID {
			out = append(out, ev.Type)
		}
	}
	return out
}

// mockQueue implements messagequeue.Queue for testing.
type mockQueue struct {
	published []struct {
		subject string
		data    []byte
	}
	publishErr error
}

func (q *mockQueue) Publish(_ context.Context, subject string, data []byte) error {
	if q.publishErr != nil {
		return q.publishErr
	}
	q.published = append(q.published, struct {
		subject string
		data    []byte
	}{subject, data})
	return nil
}

func (q *mockQueue) Subscribe(_ context.Context, _ string, _ messagequeue.Handler) (func(), error) {
	return func() {}, nil
}

func (q *mockQueue) Drain() error      { return nil }
func (q *mockQueue) Close() error      { return nil }
func (q *mockQueue) IsConnected() bool { return true }

// mockEngine implements workflow.Engine for testing.
type mockEngine struct {
	triggered  []workflow.TriggerRequest
	triggerErr error
	available  bool
}

func (e *mockEngine) Trigger(_ context.Context, req workflow.TriggerRequest) (map[string]any, error) {
	e.triggered = append(e.triggered, req)
	if e.triggerErr != nil {
		return nil, e.triggerErr
	}
	return map[string]any{"success": true}, nil
}

func (e *mockEngine) IsAvailable(context.Context) bool { return e.available }
