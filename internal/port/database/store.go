// Package database defines the persistence port (interface).
package database

import (
	"context"

	"github.com/rewryte/rewryte/internal/domain/task"
)

// Store is the port interface for task persistence.
//
// The three conditional mutation methods are compare-and-set by status: the
// WHERE clause of a single UPDATE statement checks the row's persisted status
// at write time and the affected-row count is returned as the bool. Callers
// must never substitute an in-memory status check for these.
type Store interface {
	// CreateTask inserts a new task row. The caller assigns ID and timestamps.
	CreateTask(ctx context.Context, t *task.Task) error

	// GetTask returns a task by ID, or domain.ErrNotFound.
	GetTask(ctx context.Context, id string) (*task.Task, error)

	// ListTasks returns all tasks, newest first.
	ListTasks(ctx context.Context) ([]task.Task, error)

	// TransitionStatus atomically moves a task from one status to another.
	// Returns true only if the row was in `from` at write time.
	TransitionStatus(ctx context.Context, id string, from, to task.Status) (bool, error)

	// CompleteTask atomically finalizes a non-terminal task with the given
	// result. Returns true only if the row was still non-terminal.
	CompleteTask(ctx context.Context, id, script string, metadata map[string]any) (bool, error)

	// FailTask atomically finalizes a non-terminal task with the given error
	// details. Returns true only if the row was still non-terminal.
	FailTask(ctx context.Context, id, details string) (bool, error)

	// WithTx runs fn against a Store bound to a single transaction, committing
	// on nil and rolling back on error.
	WithTx(ctx context.Context, fn func(ctx context.Context, s Store) error) error
}
