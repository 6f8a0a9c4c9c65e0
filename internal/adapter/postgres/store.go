package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rewryte/rewryte/internal/domain"
	"github.com/rewryte/rewryte/internal/domain/task"
	"github.com/rewryte/rewryte/internal/port/database"
)

// querier is the subset of pgx operations shared by a pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements database.Store using PostgreSQL. The conditional mutation
// methods are single UPDATE statements keyed on the row's current status, so
// concurrent workers and duplicate callbacks race on the database row, not on
// in-memory state.
type Store struct {
	db   querier
	pool *pgxpool.Pool // nil when the store is bound to a transaction
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{db: pool, pool: pool}
}

const taskColumns = `id, reference_script, outcome_goal, status, result_script, result_metadata, error_details, created_at, updated_at`

func (s *Store) CreateTask(ctx context.Context, t *task.Task) error {
	metadata, err := marshalMetadata(t.ResultMetadata)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO tasks (id, reference_script, outcome_goal, status, result_script, result_metadata, error_details, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		t.ID, t.ReferenceScript, t.OutcomeGoal, string(t.Status), t.ResultScript, metadata, t.ErrorDetails, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

func (s *Store) GetTask(ctx context.Context, id string) (*task.Task, error) {
	row := s.db.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM tasks WHERE id = $1`, taskColumns), id)

	t, err := scanTask(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get task %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	return &t, nil
}

func (s *Store) ListTasks(ctx context.Context) ([]task.Task, error) {
	rows, err := s.db.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM tasks ORDER BY created_at DESC`, taskColumns))
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// TransitionStatus performs the compare-and-set status move. The WHERE clause
// checks the persisted status at write time; a false return means the row was
// no longer in `from` when the write landed.
func (s *Store) TransitionStatus(ctx context.Context, id string, from, to task.Status) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE tasks SET status = $3, updated_at = now() WHERE id = $1 AND status = $2`,
		id, string(from), string(to))
	if err != nil {
		return false, fmt.Errorf("transition task %s %s->%s: %w", id, from, to, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) CompleteTask(ctx context.Context, id, script string, metadata map[string]any) (bool, error) {
	metadataJSON, err := marshalMetadata(metadata)
	if err != nil {
		return false, err
	}
	tag, err := s.db.Exec(ctx,
		`UPDATE tasks SET status = $2, result_script = $3, result_metadata = $4, error_details = NULL, updated_at = now()
		 WHERE id = $1 AND status IN ($5, $6)`,
		id, string(task.StatusCompleted), script, metadataJSON,
		string(task.StatusPending), string(task.StatusProcessing))
	if err != nil {
		return false, fmt.Errorf("complete task %s: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) FailTask(ctx context.Context, id, details string) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE tasks SET status = $2, error_details = $3, updated_at = now()
		 WHERE id = $1 AND status IN ($4, $5)`,
		id, string(task.StatusFailed), details,
		string(task.StatusPending), string(task.StatusProcessing))
	if err != nil {
		return false, fmt.Errorf("fail task %s: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

// WithTx runs fn against a transaction-bound Store. Calls on a store that is
// already inside a transaction join it rather than nesting.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, st database.Store) error) error {
	if s.pool == nil {
		return fn(ctx, s)
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(ctx, &Store{db: tx})
	})
}

// scanTask scans one task row, decoding nullable result fields.
func scanTask(scanner interface{ Scan(dest ...any) error }) (task.Task, error) {
	var (
		t        task.Task
		status   string
		metadata []byte
	)
	err := scanner.Scan(
		&t.ID, &t.ReferenceScript, &t.OutcomeGoal, &status,
		&t.ResultScript, &metadata, &t.ErrorDetails,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return t, err
	}
	t.Status = task.Status(status)
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &t.ResultMetadata); err != nil {
			return t, fmt.Errorf("decode result_metadata: %w", err)
		}
	}
	return t, nil
}

// marshalMetadata encodes the metadata map for a JSONB column, keeping NULL
// for an absent map.
func marshalMetadata(m map[string]any) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal result_metadata: %w", err)
	}
	return data, nil
}
