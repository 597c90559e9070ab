package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/graphnode/gnsync/internal/events"
	"github.com/graphnode/gnsync/internal/outbox"
	"github.com/graphnode/gnsync/internal/store/db"
	"github.com/graphnode/gnsync/internal/store/schema"
)

const noteColumns = `id, title, content, folder_id, created_at, updated_at`

// NoteRepo stores notes and enqueues their remote operations.
type NoteRepo struct {
	base
}

// NewNoteRepo creates a NoteRepo.
func NewNoteRepo(database *db.DB, ob *outbox.Manager, opts ...Option) *NoteRepo {
	return &NoteRepo{base: newBase(database, ob, opts)}
}

// ListNotesFilter configures List.
type ListNotesFilter struct {
	// FolderID restricts to notes directly inside a folder (nil = any folder)
	FolderID *string
	// RootOnly restricts to notes at the root. Ignored when FolderID is set.
	RootOnly bool
	// UpdatedSince keeps notes updated at or after this time (zero = all)
	UpdatedSince time.Time
	// Limit restricts the number of results (0 = no limit)
	Limit int
}

// Create stores a new note and enqueues note.create.
func (r *NoteRepo) Create(ctx context.Context, content string, folderID *string) (*schema.Note, error) {
	now := r.timestamp()
	note := &schema.Note{
		ID:        r.newID(),
		Title:     schema.ExtractTitle(content),
		Content:   content,
		FolderID:  folderID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := note.Validate(); err != nil {
		return nil, db.Invalid("note", err)
	}

	err := r.db.WithTx(ctx, func(tx db.Querier) error {
		if err := requireFolder(ctx, tx, folderID); err != nil {
			return err
		}
		if err := insertNote(ctx, tx, note, false); err != nil {
			return err
		}
		return r.outbox.Enqueue(ctx, tx, schema.OpNoteCreate, note.ID, schema.Payload{
			"id":       note.ID,
			"title":    note.Title,
			"content":  note.Content,
			"folderId": optionalID(note.FolderID),
		})
	})
	if err != nil {
		return nil, err
	}

	r.publish(events.KindNote, note.ID, events.ActionCreated)
	return note, nil
}

// Get returns a note by id.
func (r *NoteRepo) Get(ctx context.Context, id string) (*schema.Note, error) {
	return getNote(ctx, r.db.RawDB(), id)
}

// List returns notes matching filter, most recently updated first.
func (r *NoteRepo) List(ctx context.Context, filter ListNotesFilter) ([]*schema.Note, error) {
	var conditions []string
	var args []any

	switch {
	case filter.FolderID != nil:
		conditions = append(conditions, "folder_id = ?")
		args = append(args, *filter.FolderID)
	case filter.RootOnly:
		conditions = append(conditions, "folder_id IS NULL")
	}
	if !filter.UpdatedSince.IsZero() {
		conditions = append(conditions, "updated_at >= ?")
		args = append(args, db.Millis(filter.UpdatedSince))
	}

	query := `SELECT ` + noteColumns + ` FROM notes`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY updated_at DESC, id ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := r.db.RawDB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list notes: %w", err)
	}
	defer rows.Close()
	return scanNotes(rows)
}

// Update replaces the content of a note, re-deriving its title, and enqueues
// note.update.
func (r *NoteRepo) Update(ctx context.Context, id, content string) (*schema.Note, error) {
	var note *schema.Note
	err := r.db.WithTx(ctx, func(tx db.Querier) error {
		var err error
		note, err = getNote(ctx, tx, id)
		if err != nil {
			return err
		}

		note.Content = content
		note.Title = schema.ExtractTitle(content)
		note.UpdatedAt = r.timestamp()

		if _, err := tx.ExecContext(ctx,
			`UPDATE notes SET title = ?, content = ?, updated_at = ? WHERE id = ?`,
			note.Title, note.Content, db.Millis(note.UpdatedAt), id); err != nil {
			return fmt.Errorf("failed to update note %s: %w", id, err)
		}
		return r.outbox.Enqueue(ctx, tx, schema.OpNoteUpdate, id, schema.Payload{
			"title":   note.Title,
			"content": note.Content,
		})
	})
	if err != nil {
		return nil, err
	}

	r.publish(events.KindNote, id, events.ActionUpdated)
	return note, nil
}

// Move puts a note into folderID (nil = root) and enqueues note.move.
func (r *NoteRepo) Move(ctx context.Context, id string, folderID *string) (*schema.Note, error) {
	if folderID != nil && *folderID == "" {
		return nil, fmt.Errorf("move note %s: empty folder id: %w", id, db.ErrInvalid)
	}

	var note *schema.Note
	err := r.db.WithTx(ctx, func(tx db.Querier) error {
		var err error
		note, err = getNote(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := requireFolder(ctx, tx, folderID); err != nil {
			return err
		}

		note.FolderID = folderID
		note.UpdatedAt = r.timestamp()

		if _, err := tx.ExecContext(ctx,
			`UPDATE notes SET folder_id = ?, updated_at = ? WHERE id = ?`,
			db.NullString(folderID), db.Millis(note.UpdatedAt), id); err != nil {
			return fmt.Errorf("failed to move note %s: %w", id, err)
		}
		return r.outbox.Enqueue(ctx, tx, schema.OpNoteMove, id, schema.Payload{
			"folderId": optionalID(folderID),
		})
	})
	if err != nil {
		return nil, err
	}

	r.publish(events.KindNote, id, events.ActionMoved)
	return note, nil
}

// Delete removes a note and enqueues note.delete.
func (r *NoteRepo) Delete(ctx context.Context, id string) error {
	err := r.db.WithTx(ctx, func(tx db.Querier) error {
		if _, err := getNote(ctx, tx, id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM notes WHERE id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete note %s: %w", id, err)
		}
		return r.outbox.Enqueue(ctx, tx, schema.OpNoteDelete, id, nil)
	})
	if err != nil {
		return err
	}

	r.publish(events.KindNote, id, events.ActionDeleted)
	return nil
}

// UpsertMany writes notes as given, replacing rows with the same id. It does
// not enqueue anything: it mirrors data that already exists remotely (pulls,
// imports).
func (r *NoteRepo) UpsertMany(ctx context.Context, notes []*schema.Note) error {
	if len(notes) == 0 {
		return nil
	}
	err := r.db.WithTx(ctx, func(tx db.Querier) error {
		return r.UpsertManyTx(ctx, tx, notes)
	})
	if err != nil {
		return err
	}

	r.publish(events.KindNote, "", events.ActionReplaced)
	return nil
}

// UpsertManyTx is UpsertMany inside the caller's transaction q. It publishes
// nothing.
func (r *NoteRepo) UpsertManyTx(ctx context.Context, q db.Querier, notes []*schema.Note) error {
	for _, note := range notes {
		if err := note.Validate(); err != nil {
			return db.Invalid("note "+note.ID, err)
		}
	}
	for _, note := range notes {
		if err := insertNote(ctx, q, note, true); err != nil {
			return err
		}
	}
	return nil
}

// MergeRemote upserts notes fetched from the remote, skipping every note that
// still has an outbox operation queued: unsent local edits win over the
// remote copy. The check and the writes share one transaction. Returns the
// number of notes written.
func (r *NoteRepo) MergeRemote(ctx context.Context, notes []*schema.Note) (int, error) {
	if len(notes) == 0 {
		return 0, nil
	}

	ids := make([]string, 0, len(notes))
	for _, note := range notes {
		if err := note.Validate(); err != nil {
			return 0, db.Invalid("remote note "+note.ID, err)
		}
		ids = append(ids, note.ID)
	}

	applied := 0
	err := r.db.WithTx(ctx, func(tx db.Querier) error {
		locked, err := r.outbox.QueuedEntities(ctx, tx, ids)
		if err != nil {
			return err
		}
		for _, note := range notes {
			if locked[note.ID] {
				continue
			}
			if err := insertNote(ctx, tx, note, true); err != nil {
				return err
			}
			applied++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if applied > 0 {
		r.publish(events.KindNote, "", events.ActionReplaced)
	}
	return applied, nil
}

// ClearAll removes every note without enqueuing deletes.
func (r *NoteRepo) ClearAll(ctx context.Context) error {
	if err := r.ClearAllTx(ctx, r.db.RawDB()); err != nil {
		return err
	}
	r.publish(events.KindNote, "", events.ActionReplaced)
	return nil
}

// ClearAllTx is ClearAll inside the caller's transaction q.
func (r *NoteRepo) ClearAllTx(ctx context.Context, q db.Querier) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM notes`); err != nil {
		return fmt.Errorf("failed to clear notes: %w", err)
	}
	return nil
}

// InitializeDefault creates the welcome note when the store holds no notes.
// It returns nil when notes already exist.
func (r *NoteRepo) InitializeDefault(ctx context.Context) (*schema.Note, error) {
	count, err := r.db.Count(ctx, "notes")
	if err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, nil
	}
	return r.Create(ctx, WelcomeNote, nil)
}

func getNote(ctx context.Context, q db.Querier, id string) (*schema.Note, error) {
	row := q.QueryRowContext(ctx, `SELECT `+noteColumns+` FROM notes WHERE id = ?`, id)
	note, err := scanNote(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("note %s: %w", id, db.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get note %s: %w", id, err)
	}
	return note, nil
}

func insertNote(ctx context.Context, q db.Querier, note *schema.Note, replace bool) error {
	query := `
	INSERT INTO notes (id, title, content, folder_id, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)`
	if replace {
		query += `
	ON CONFLICT(id) DO UPDATE SET
		title = excluded.title,
		content = excluded.content,
		folder_id = excluded.folder_id,
		created_at = excluded.created_at,
		updated_at = excluded.updated_at`
	}

	_, err := q.ExecContext(ctx, query,
		note.ID, note.Title, note.Content, db.NullString(note.FolderID),
		db.Millis(note.CreatedAt), db.Millis(note.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to write note %s: %w", note.ID, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNote(row rowScanner) (*schema.Note, error) {
	var note schema.Note
	var folderID sql.NullString
	var createdAt, updatedAt int64

	if err := row.Scan(&note.ID, &note.Title, &note.Content, &folderID, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	note.FolderID = db.StringPtr(folderID)
	note.CreatedAt = db.FromMillis(createdAt)
	note.UpdatedAt = db.FromMillis(updatedAt)
	return &note, nil
}

func scanNotes(rows *sql.Rows) ([]*schema.Note, error) {
	var notes []*schema.Note
	for rows.Next() {
		note, err := scanNote(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan note: %w", err)
		}
		notes = append(notes, note)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating notes: %w", err)
	}
	return notes, nil
}
