// Package outbox owns the durable queue of remote operations.
//
// Repositories call Manager.Enqueue inside their own transaction; the
// coalescing rules in Enqueue keep at most one pending create, update and
// move per entity, so queue size stays proportional to the number of edited
// entities rather than the number of edits. The sync scheduler drains the
// queue through Due, MarkProcessing, Complete and Reschedule.
package outbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/graphnode/gnsync/internal/store/db"
	"github.com/graphnode/gnsync/internal/store/schema"
)

const opColumns = `op_id, entity_id, type, payload, status, retry_count,
	next_retry_at, created_at, updated_at, last_error`

// Manager applies coalescing rules and exposes queue operations.
type Manager struct {
	db    *db.DB
	now   func() time.Time
	newID func() string
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source. Tests use it to pin timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithIDGenerator overrides op id generation.
func WithIDGenerator(newID func() string) Option {
	return func(m *Manager) { m.newID = newID }
}

// New creates a Manager on top of an open database.
func New(database *db.DB, opts ...Option) *Manager {
	m := &Manager{
		db:    database,
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Now returns the manager's current time.
func (m *Manager) Now() time.Time {
	return m.now()
}

// Get returns one operation by id.
func (m *Manager) Get(ctx context.Context, opID string) (*schema.Op, error) {
	row := m.db.RawDB().QueryRowContext(ctx,
		`SELECT `+opColumns+` FROM outbox WHERE op_id = ?`, opID)
	op, err := scanOp(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("operation %s: %w", opID, db.ErrNotFound)
	}
	return op, err
}

// ForEntity returns every operation queued for entityID, oldest first.
func (m *Manager) ForEntity(ctx context.Context, q db.Querier, entityID string) ([]*schema.Op, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+opColumns+` FROM outbox WHERE entity_id = ? ORDER BY rowid ASC`, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to query operations for %s: %w", entityID, err)
	}
	defer rows.Close()
	return scanOps(rows)
}

// QueuedEntities returns the subset of ids that still have any operation
// queued, pending or processing.
func (m *Manager) QueuedEntities(ctx context.Context, q db.Querier, ids []string) (map[string]bool, error) {
	queued := make(map[string]bool)
	if len(ids) == 0 {
		return queued, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := q.QueryContext(ctx,
		`SELECT DISTINCT entity_id FROM outbox WHERE entity_id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query queued entities: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan entity id: %w", err)
		}
		queued[id] = true
	}
	return queued, rows.Err()
}

// Due returns up to limit pending operations whose next_retry_at has passed,
// oldest due first.
//
// An operation is only eligible while it is the oldest row queued for its
// entity. A later update or delete therefore waits behind an in-flight or
// backing-off create instead of overtaking it.
func (m *Manager) Due(ctx context.Context, limit int) ([]*schema.Op, error) {
	if limit <= 0 {
		return nil, nil
	}

	query := `
	SELECT ` + opColumns + `
	FROM outbox o
	WHERE o.status = ? AND o.next_retry_at <= ?
	  AND NOT EXISTS (
		SELECT 1 FROM outbox e
		WHERE e.entity_id = o.entity_id AND e.rowid < o.rowid
	  )
	ORDER BY o.next_retry_at ASC, o.rowid ASC
	LIMIT ?
	`

	rows, err := m.db.RawDB().QueryContext(ctx, query,
		string(schema.StatusPending), db.Millis(m.now()), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query due operations: %w", err)
	}
	defer rows.Close()
	return scanOps(rows)
}

// MarkProcessing moves a pending operation to processing.
func (m *Manager) MarkProcessing(ctx context.Context, opID string) error {
	res, err := m.db.RawDB().ExecContext(ctx,
		`UPDATE outbox SET status = ?, updated_at = ? WHERE op_id = ? AND status = ?`,
		string(schema.StatusProcessing), db.Millis(m.now()), opID, string(schema.StatusPending))
	if err != nil {
		return fmt.Errorf("failed to mark %s processing: %w", opID, err)
	}
	return requireRow(res, opID)
}

// Complete removes a delivered operation.
func (m *Manager) Complete(ctx context.Context, opID string) error {
	if _, err := m.db.RawDB().ExecContext(ctx, `DELETE FROM outbox WHERE op_id = ?`, opID); err != nil {
		return fmt.Errorf("failed to complete %s: %w", opID, err)
	}
	return nil
}

// Reschedule returns a failed operation to pending with its retry state.
func (m *Manager) Reschedule(ctx context.Context, opID string, retryCount int, nextRetryAt time.Time, lastErr string) error {
	_, err := m.db.RawDB().ExecContext(ctx, `
	UPDATE outbox
	SET status = ?, retry_count = ?, next_retry_at = ?, updated_at = ?, last_error = ?
	WHERE op_id = ?`,
		string(schema.StatusPending), retryCount, db.Millis(nextRetryAt), db.Millis(m.now()), lastErr, opID)
	if err != nil {
		return fmt.Errorf("failed to reschedule %s: %w", opID, err)
	}
	return nil
}

// Release returns a processing operation to pending, due now, keeping its
// retry count and last error. Used when a dispatch was interrupted locally.
func (m *Manager) Release(ctx context.Context, opID string) error {
	now := db.Millis(m.now())
	res, err := m.db.RawDB().ExecContext(ctx,
		`UPDATE outbox SET status = ?, next_retry_at = ?, updated_at = ? WHERE op_id = ? AND status = ?`,
		string(schema.StatusPending), now, now, opID, string(schema.StatusProcessing))
	if err != nil {
		return fmt.Errorf("failed to release %s: %w", opID, err)
	}
	return requireRow(res, opID)
}

// ResetStale returns processing operations untouched for longer than
// staleAfter to pending, due immediately. It recovers operations abandoned
// by a crashed process and returns how many were reset.
func (m *Manager) ResetStale(ctx context.Context, staleAfter time.Duration) (int, error) {
	now := m.now()
	res, err := m.db.RawDB().ExecContext(ctx, `
	UPDATE outbox
	SET status = ?, next_retry_at = ?, updated_at = ?
	WHERE status = ? AND updated_at < ?`,
		string(schema.StatusPending), db.Millis(now), db.Millis(now),
		string(schema.StatusProcessing), db.Millis(now.Add(-staleAfter)))
	if err != nil {
		return 0, fmt.Errorf("failed to reset stale operations: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read reset count: %w", err)
	}
	return int(n), nil
}

// RetryNow makes pending operations due immediately. An empty opID applies
// to every pending operation. Returns the number of operations touched.
func (m *Manager) RetryNow(ctx context.Context, opID string) (int, error) {
	now := db.Millis(m.now())
	query := `UPDATE outbox SET next_retry_at = ?, updated_at = ? WHERE status = ?`
	args := []any{now, now, string(schema.StatusPending)}
	if opID != "" {
		query += ` AND op_id = ?`
		args = append(args, opID)
	}

	res, err := m.db.RawDB().ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to retry operations: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Purge drops an operation without delivering it.
func (m *Manager) Purge(ctx context.Context, opID string) error {
	res, err := m.db.RawDB().ExecContext(ctx, `DELETE FROM outbox WHERE op_id = ?`, opID)
	if err != nil {
		return fmt.Errorf("failed to purge %s: %w", opID, err)
	}
	return requireRow(res, opID)
}

// PurgeAll drops every operation, processing ones included, inside the
// caller's transaction q. It returns the number dropped.
func (m *Manager) PurgeAll(ctx context.Context, q db.Querier) (int, error) {
	res, err := q.ExecContext(ctx, `DELETE FROM outbox`)
	if err != nil {
		return 0, fmt.Errorf("failed to purge outbox: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// ListFilter configures List.
type ListFilter struct {
	// Status filters by status (empty = all)
	Status schema.OpStatus
	// EntityID filters by entity (empty = all)
	EntityID string
	// Type filters by operation type (empty = all)
	Type schema.OpType
	// Limit restricts the number of results (0 = no limit)
	Limit int
}

// List returns operations matching filter in queue order.
func (m *Manager) List(ctx context.Context, filter ListFilter) ([]*schema.Op, error) {
	var conditions []string
	var args []any

	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.EntityID != "" {
		conditions = append(conditions, "entity_id = ?")
		args = append(args, filter.EntityID)
	}
	if filter.Type != "" {
		conditions = append(conditions, "type = ?")
		args = append(args, string(filter.Type))
	}

	query := `SELECT ` + opColumns + ` FROM outbox`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY next_retry_at ASC, rowid ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := m.db.RawDB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list operations: %w", err)
	}
	defer rows.Close()
	return scanOps(rows)
}

// Stats summarizes the queue.
type Stats struct {
	Pending    int        `json:"pending" yaml:"pending"`
	Processing int        `json:"processing" yaml:"processing"`
	Failing    int        `json:"failing" yaml:"failing"`
	Due        int        `json:"due" yaml:"due"`
	OldestAt   *time.Time `json:"oldestAt,omitempty" yaml:"oldestAt,omitempty"`
	NextDueAt  *time.Time `json:"nextDueAt,omitempty" yaml:"nextDueAt,omitempty"`
}

// Total returns the number of queued operations.
func (s Stats) Total() int {
	return s.Pending + s.Processing
}

// Stats computes queue statistics.
func (m *Manager) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	var oldest, nextDue sql.NullInt64

	err := m.db.RawDB().QueryRowContext(ctx, `
	SELECT
		COALESCE(SUM(CASE WHEN status = 'pending' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN status = 'processing' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN last_error IS NOT NULL AND last_error != '' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN status = 'pending' AND next_retry_at <= ? THEN 1 ELSE 0 END), 0),
		MIN(created_at),
		MIN(CASE WHEN status = 'pending' THEN next_retry_at END)
	FROM outbox`, db.Millis(m.now())).Scan(
		&s.Pending, &s.Processing, &s.Failing, &s.Due, &oldest, &nextDue)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to compute outbox stats: %w", err)
	}

	if oldest.Valid {
		t := db.FromMillis(oldest.Int64)
		s.OldestAt = &t
	}
	if nextDue.Valid {
		t := db.FromMillis(nextDue.Int64)
		s.NextDueAt = &t
	}
	return s, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOp(row rowScanner) (*schema.Op, error) {
	var op schema.Op
	var payload, lastError sql.NullString
	var nextRetryAt, createdAt, updatedAt int64

	err := row.Scan(
		&op.OpID,
		&op.EntityID,
		&op.Type,
		&payload,
		&op.Status,
		&op.RetryCount,
		&nextRetryAt,
		&createdAt,
		&updatedAt,
		&lastError,
	)
	if err != nil {
		return nil, err
	}

	op.NextRetryAt = db.FromMillis(nextRetryAt)
	op.CreatedAt = db.FromMillis(createdAt)
	op.UpdatedAt = db.FromMillis(updatedAt)
	op.LastError = lastError.String

	if payload.Valid && payload.String != "" && payload.String != "null" {
		if err := json.Unmarshal([]byte(payload.String), &op.Payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal payload of %s: %w", op.OpID, err)
		}
	}

	return &op, nil
}

func scanOps(rows *sql.Rows) ([]*schema.Op, error) {
	var ops []*schema.Op
	for rows.Next() {
		op, err := scanOp(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan operation: %w", err)
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating operations: %w", err)
	}
	return ops, nil
}

func requireRow(res sql.Result, opID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("operation %s: %w", opID, db.ErrNotFound)
	}
	return nil
}

func payloadValue(p schema.Payload) (sql.NullString, error) {
	if p == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}
