package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lpquant/hedgebot/internal/domain"
)

// EventStore implements domain.EventStore using PostgreSQL. Position states
// and action lists are stored as JSONB so the full before/after picture of a
// rebalance run survives schema evolution.
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore creates a new EventStore backed by the given connection pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

const eventSelectCols = `id, position_id, trigger_type, status,
	pre_state, post_state, intended, executed,
	error_message, started_at, completed_at, created_at`

func scanEventRow(row pgx.Row) (domain.RebalanceEvent, error) {
	var e domain.RebalanceEvent
	var trigger, status string
	var preState, postState, intended, executed []byte

	err := row.Scan(
		&e.ID, &e.PositionID, &trigger, &status,
		&preState, &postState, &intended, &executed,
		&e.ErrorMessage, &e.StartedAt, &e.CompletedAt, &e.CreatedAt,
	)
	if err != nil {
		return domain.RebalanceEvent{}, err
	}
	e.Trigger = domain.TriggerType(trigger)
	e.Status = domain.EventStatus(status)

	if err := json.Unmarshal(preState, &e.PreState); err != nil {
		return domain.RebalanceEvent{}, fmt.Errorf("decode pre state: %w", err)
	}
	if err := json.Unmarshal(postState, &e.PostState); err != nil {
		return domain.RebalanceEvent{}, fmt.Errorf("decode post state: %w", err)
	}
	if err := json.Unmarshal(intended, &e.Intended); err != nil {
		return domain.RebalanceEvent{}, fmt.Errorf("decode intended: %w", err)
	}
	if err := json.Unmarshal(executed, &e.Executed); err != nil {
		return domain.RebalanceEvent{}, fmt.Errorf("decode executed: %w", err)
	}
	return e, nil
}

// Create inserts a pending event with its pre-state and intended adjustments.
func (s *EventStore) Create(ctx context.Context, e domain.RebalanceEvent) error {
	preState, err := json.Marshal(e.PreState)
	if err != nil {
		return fmt.Errorf("postgres: encode pre state: %w", err)
	}
	postState, err := json.Marshal(e.PostState)
	if err != nil {
		return fmt.Errorf("postgres: encode post state: %w", err)
	}
	intended, err := json.Marshal(e.Intended)
	if err != nil {
		return fmt.Errorf("postgres: encode intended: %w", err)
	}
	executed, err := json.Marshal(e.Executed)
	if err != nil {
		return fmt.Errorf("postgres: encode executed: %w", err)
	}

	const query = `
		INSERT INTO rebalance_events (
			id, position_id, trigger_type, status,
			pre_state, post_state, intended, executed,
			error_message, started_at, completed_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err = s.pool.Exec(ctx, query,
		e.ID, e.PositionID, string(e.Trigger), string(e.Status),
		preState, postState, intended, executed,
		e.ErrorMessage, e.StartedAt, e.CompletedAt, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create event %s: %w", e.ID, err)
	}
	return nil
}

// MarkExecuting transitions an event from pending to executing.
func (s *EventStore) MarkExecuting(ctx context.Context, id string, startedAt time.Time) error {
	const query = `
		UPDATE rebalance_events
		SET status = $2, started_at = $3
		WHERE id = $1 AND status = $4`

	tag, err := s.pool.Exec(ctx, query,
		id, string(domain.EventExecuting), startedAt, string(domain.EventPending))
	if err != nil {
		return fmt.Errorf("postgres: mark event %s executing: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: mark event %s executing: %w", id, domain.ErrNotFound)
	}
	return nil
}

// MarkCompleted records the executed actions and post-state and finishes the
// event.
func (s *EventStore) MarkCompleted(ctx context.Context, id string, executed []domain.ExecutedAction, post domain.PositionState, completedAt time.Time) error {
	executedJSON, err := json.Marshal(executed)
	if err != nil {
		return fmt.Errorf("postgres: encode executed: %w", err)
	}
	postJSON, err := json.Marshal(post)
	if err != nil {
		return fmt.Errorf("postgres: encode post state: %w", err)
	}

	const query = `
		UPDATE rebalance_events
		SET status = $2, executed = $3, post_state = $4, completed_at = $5
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query,
		id, string(domain.EventCompleted), executedJSON, postJSON, completedAt)
	if err != nil {
		return fmt.Errorf("postgres: mark event %s completed: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: mark event %s completed: %w", id, domain.ErrNotFound)
	}
	return nil
}

// MarkFailed finishes the event with an error message.
func (s *EventStore) MarkFailed(ctx context.Context, id string, message string, completedAt time.Time) error {
	const query = `
		UPDATE rebalance_events
		SET status = $2, error_message = $3, completed_at = $4
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query,
		id, string(domain.EventFailed), message, completedAt)
	if err != nil {
		return fmt.Errorf("postgres: mark event %s failed: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: mark event %s failed: %w", id, domain.ErrNotFound)
	}
	return nil
}

// GetByID fetches an event by id.
func (s *EventStore) GetByID(ctx context.Context, id string) (domain.RebalanceEvent, error) {
	query := `SELECT ` + eventSelectCols + ` FROM rebalance_events WHERE id = $1`

	e, err := scanEventRow(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.RebalanceEvent{}, fmt.Errorf("postgres: event %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.RebalanceEvent{}, fmt.Errorf("postgres: get event %s: %w", id, err)
	}
	return e, nil
}

// ListByPosition returns events for a position, newest first.
func (s *EventStore) ListByPosition(ctx context.Context, positionID string, opts domain.ListOpts) ([]domain.RebalanceEvent, error) {
	query := `SELECT ` + eventSelectCols + `
		FROM rebalance_events
		WHERE position_id = $1`
	args := []any{positionID}

	if opts.Since != nil {
		args = append(args, *opts.Since)
		query += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if opts.Until != nil {
		args = append(args, *opts.Until)
		query += fmt.Sprintf(" AND created_at < $%d", len(args))
	}
	query += " ORDER BY created_at DESC"
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events for %s: %w", positionID, err)
	}
	defer rows.Close()

	var events []domain.RebalanceEvent
	for rows.Next() {
		e, err := scanEventRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Compile-time interface check.
var _ domain.EventStore = (*EventStore)(nil)
