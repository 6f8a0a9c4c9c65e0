package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rewryte/rewryte/internal/domain/event"
)

// AuditStore implements auditlog.Sink using PostgreSQL (append-only).
type AuditStore struct {
	pool *pgxpool.Pool
}

// NewAuditStore creates a new AuditStore backed by the given connection pool.
func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

// Append inserts a new event into the task_events table.
func (s *AuditStore) Append(ctx context.Context, ev *event.TaskEvent) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO task_events (task_id, event_type, payload, request_id)
		 VALUES ($1, $2, $3, $4)`,
		ev.TaskID, string(ev.Type), []byte(ev.Payload), ev.RequestID)
	if err != nil {
		return fmt.Errorf("append task event: %w", err)
	}
	return nil
}

// LoadByTask returns all events for the given task, oldest first.
func (s *AuditStore) LoadByTask(ctx context.Context, taskID string) ([]event.TaskEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, task_id, event_type, payload, request_id, created_at
		 FROM task_events WHERE task_id = $1 ORDER BY created_at ASC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("load task events %s: %w", taskID, err)
	}
	defer rows.Close()

	var events []event.TaskEvent
	for rows.Next() {
		var (
			ev      event.TaskEvent
			evType  string
			payload []byte
		)
		if err := rows.Scan(&ev.ID, &ev.TaskID, &evType, &payload, &ev.RequestID, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan task event: %w", err)
		}
		ev.Type = event.Type(evType)
		ev.Payload = payload
		events = append(events, ev)
	}
	return events, rows.Err()
}
