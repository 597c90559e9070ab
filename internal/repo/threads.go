package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/graphnode/gnsync/internal/events"
	"github.com/graphnode/gnsync/internal/outbox"
	"github.com/graphnode/gnsync/internal/store/db"
	"github.com/graphnode/gnsync/internal/store/schema"
)

const threadColumns = `id, title, messages, updated_at`

// ThreadRepo stores chat threads. Title changes and deletes are synced;
// creation and appended messages stay local.
type ThreadRepo struct {
	base
}

// NewThreadRepo creates a ThreadRepo.
func NewThreadRepo(database *db.DB, ob *outbox.Manager, opts ...Option) *ThreadRepo {
	return &ThreadRepo{base: newBase(database, ob, opts)}
}

// Create stores a new thread. Messages without an id or timestamp get one.
func (r *ThreadRepo) Create(ctx context.Context, title string, messages []schema.Message) (*schema.Thread, error) {
	thread := &schema.Thread{
		ID:        r.newID(),
		Title:     title,
		Messages:  make([]schema.Message, 0, len(messages)),
		UpdatedAt: r.timestamp(),
	}
	for _, msg := range messages {
		thread.Messages = append(thread.Messages, r.fillMessage(msg))
	}
	if err := thread.Validate(); err != nil {
		return nil, db.Invalid("thread", err)
	}

	err := r.db.WithTx(ctx, func(tx db.Querier) error {
		return writeThread(ctx, tx, thread, false)
	})
	if err != nil {
		return nil, err
	}

	r.publish(events.KindThread, thread.ID, events.ActionCreated)
	return thread, nil
}

// Get returns a thread by id.
func (r *ThreadRepo) Get(ctx context.Context, id string) (*schema.Thread, error) {
	return getThread(ctx, r.db.RawDB(), id)
}

// List returns every thread, most recently updated first.
func (r *ThreadRepo) List(ctx context.Context) ([]*schema.Thread, error) {
	rows, err := r.db.RawDB().QueryContext(ctx,
		`SELECT `+threadColumns+` FROM threads ORDER BY updated_at DESC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list threads: %w", err)
	}
	defer rows.Close()
	return scanThreads(rows)
}

// Search returns threads with at least one message whose content contains
// query, ignoring case. An empty query returns every thread.
func (r *ThreadRepo) Search(ctx context.Context, query string) ([]*schema.Thread, error) {
	threads, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(strings.TrimSpace(query))
	if needle == "" {
		return threads, nil
	}

	var matches []*schema.Thread
	for _, thread := range threads {
		for _, msg := range thread.Messages {
			if strings.Contains(strings.ToLower(msg.Content), needle) {
				matches = append(matches, thread)
				break
			}
		}
	}
	return matches, nil
}

// UpdateTitle renames a thread and enqueues thread.update.
func (r *ThreadRepo) UpdateTitle(ctx context.Context, id, title string) (*schema.Thread, error) {
	var thread *schema.Thread
	err := r.db.WithTx(ctx, func(tx db.Querier) error {
		var err error
		thread, err = getThread(ctx, tx, id)
		if err != nil {
			return err
		}

		thread.Title = title
		thread.UpdatedAt = r.timestamp()

		if _, err := tx.ExecContext(ctx,
			`UPDATE threads SET title = ?, updated_at = ? WHERE id = ?`,
			title, db.Millis(thread.UpdatedAt), id); err != nil {
			return fmt.Errorf("failed to update thread %s: %w", id, err)
		}
		return r.outbox.Enqueue(ctx, tx, schema.OpThreadUpdate, id, schema.Payload{"title": title})
	})
	if err != nil {
		return nil, err
	}

	r.publish(events.KindThread, id, events.ActionUpdated)
	return thread, nil
}

// AppendMessage adds msg to the end of a thread.
func (r *ThreadRepo) AppendMessage(ctx context.Context, id string, msg schema.Message) (*schema.Thread, error) {
	msg = r.fillMessage(msg)
	if err := msg.Validate(); err != nil {
		return nil, db.Invalid("message", err)
	}

	var thread *schema.Thread
	err := r.db.WithTx(ctx, func(tx db.Querier) error {
		var err error
		thread, err = getThread(ctx, tx, id)
		if err != nil {
			return err
		}

		thread.Messages = append(thread.Messages, msg)
		thread.UpdatedAt = r.timestamp()
		return writeThread(ctx, tx, thread, true)
	})
	if err != nil {
		return nil, err
	}

	r.publish(events.KindThread, id, events.ActionUpdated)
	return thread, nil
}

// Delete removes a thread and enqueues thread.delete.
func (r *ThreadRepo) Delete(ctx context.Context, id string) error {
	err := r.db.WithTx(ctx, func(tx db.Querier) error {
		if _, err := getThread(ctx, tx, id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM threads WHERE id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete thread %s: %w", id, err)
		}
		return r.outbox.Enqueue(ctx, tx, schema.OpThreadDelete, id, nil)
	})
	if err != nil {
		return err
	}

	r.publish(events.KindThread, id, events.ActionDeleted)
	return nil
}

// UpsertMany writes threads as given, replacing rows with the same id.
func (r *ThreadRepo) UpsertMany(ctx context.Context, threads []*schema.Thread) error {
	if len(threads) == 0 {
		return nil
	}
	err := r.db.WithTx(ctx, func(tx db.Querier) error {
		return r.UpsertManyTx(ctx, tx, threads)
	})
	if err != nil {
		return err
	}

	r.publish(events.KindThread, "", events.ActionReplaced)
	return nil
}

// UpsertManyTx is UpsertMany inside the caller's transaction q. It publishes
// nothing.
func (r *ThreadRepo) UpsertManyTx(ctx context.Context, q db.Querier, threads []*schema.Thread) error {
	for _, thread := range threads {
		if err := thread.Validate(); err != nil {
			return db.Invalid("thread "+thread.ID, err)
		}
	}
	for _, thread := range threads {
		if err := writeThread(ctx, q, thread, true); err != nil {
			return err
		}
	}
	return nil
}

// ClearAll removes every thread without enqueuing deletes.
func (r *ThreadRepo) ClearAll(ctx context.Context) error {
	if err := r.ClearAllTx(ctx, r.db.RawDB()); err != nil {
		return err
	}
	r.publish(events.KindThread, "", events.ActionReplaced)
	return nil
}

// ClearAllTx is ClearAll inside the caller's transaction q.
func (r *ThreadRepo) ClearAllTx(ctx context.Context, q db.Querier) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM threads`); err != nil {
		return fmt.Errorf("failed to clear threads: %w", err)
	}
	return nil
}

func (r *ThreadRepo) fillMessage(msg schema.Message) schema.Message {
	if msg.ID == "" {
		msg.ID = r.newID()
	}
	if msg.TS.IsZero() {
		msg.TS = r.timestamp()
	}
	return msg
}

func getThread(ctx context.Context, q db.Querier, id string) (*schema.Thread, error) {
	row := q.QueryRowContext(ctx, `SELECT `+threadColumns+` FROM threads WHERE id = ?`, id)
	thread, err := scanThread(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("thread %s: %w", id, db.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get thread %s: %w", id, err)
	}
	return thread, nil
}

func writeThread(ctx context.Context, q db.Querier, thread *schema.Thread, replace bool) error {
	messages := thread.Messages
	if messages == nil {
		messages = []schema.Message{}
	}
	data, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("failed to marshal messages of %s: %w", thread.ID, err)
	}

	query := `INSERT INTO threads (id, title, messages, updated_at) VALUES (?, ?, ?, ?)`
	if replace {
		query += `
	ON CONFLICT(id) DO UPDATE SET
		title = excluded.title,
		messages = excluded.messages,
		updated_at = excluded.updated_at`
	}

	if _, err := q.ExecContext(ctx, query,
		thread.ID, thread.Title, string(data), db.Millis(thread.UpdatedAt)); err != nil {
		return fmt.Errorf("failed to write thread %s: %w", thread.ID, err)
	}
	return nil
}

func scanThread(row rowScanner) (*schema.Thread, error) {
	var thread schema.Thread
	var messages string
	var updatedAt int64

	if err := row.Scan(&thread.ID, &thread.Title, &messages, &updatedAt); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(messages), &thread.Messages); err != nil {
		return nil, fmt.Errorf("failed to unmarshal messages of %s: %w", thread.ID, err)
	}
	thread.UpdatedAt = db.FromMillis(updatedAt)
	return &thread, nil
}

func scanThreads(rows *sql.Rows) ([]*schema.Thread, error) {
	var threads []*schema.Thread
	for rows.Next() {
		thread, err := scanThread(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan thread: %w", err)
		}
		threads = append(threads, thread)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating threads: %w", err)
	}
	return threads, nil
}
