package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/graphnode/gnsync/internal/events"
	"github.com/graphnode/gnsync/internal/outbox"
	"github.com/graphnode/gnsync/internal/store/db"
	"github.com/graphnode/gnsync/internal/store/schema"
)

// ErrFolderCycle is returned when a folder would become its own ancestor.
var ErrFolderCycle = errors.New("folder cannot be moved into itself or a descendant")

const folderColumns = `id, name, parent_id, created_at, updated_at`

// FolderRepo stores the folder tree. Folders have no remote operations of
// their own; deleting one enqueues note.move for every note it re-parents.
type FolderRepo struct {
	base
}

// NewFolderRepo creates a FolderRepo.
func NewFolderRepo(database *db.DB, ob *outbox.Manager, opts ...Option) *FolderRepo {
	return &FolderRepo{base: newBase(database, ob, opts)}
}

// FolderUpdate lists the fields to change. Nil Name keeps the name; the
// parent is only changed when SetParent is true, with ParentID nil meaning root.
type FolderUpdate struct {
	Name      *string
	ParentID  *string
	SetParent bool
}

// FolderDeleteResult reports everything a folder delete touched.
type FolderDeleteResult struct {
	// Folders holds the deleted folder ids, the target first.
	Folders []string
	// Notes holds the ids of notes moved to the root.
	Notes []string
}

// Create stores a new folder under parentID (nil = root).
func (r *FolderRepo) Create(ctx context.Context, name string, parentID *string) (*schema.Folder, error) {
	now := r.timestamp()
	folder := &schema.Folder{
		ID:        r.newID(),
		Name:      name,
		ParentID:  parentID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := folder.Validate(); err != nil {
		return nil, db.Invalid("folder", err)
	}

	err := r.db.WithTx(ctx, func(tx db.Querier) error {
		if err := requireFolder(ctx, tx, parentID); err != nil {
			return err
		}
		return insertFolder(ctx, tx, folder, false)
	})
	if err != nil {
		return nil, err
	}

	r.publish(events.KindFolder, folder.ID, events.ActionCreated)
	return folder, nil
}

// Get returns a folder by id.
func (r *FolderRepo) Get(ctx context.Context, id string) (*schema.Folder, error) {
	return getFolder(ctx, r.db.RawDB(), id)
}

// List returns every folder, most recently updated first.
func (r *FolderRepo) List(ctx context.Context) ([]*schema.Folder, error) {
	rows, err := r.db.RawDB().QueryContext(ctx,
		`SELECT `+folderColumns+` FROM folders ORDER BY updated_at DESC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list folders: %w", err)
	}
	defer rows.Close()
	return scanFolders(rows)
}

// Children returns the folders directly under parentID (nil = root), by name.
func (r *FolderRepo) Children(ctx context.Context, parentID *string) ([]*schema.Folder, error) {
	return childFolders(ctx, r.db.RawDB(), parentID)
}

// Update renames and/or re-parents a folder.
func (r *FolderRepo) Update(ctx context.Context, id string, update FolderUpdate) (*schema.Folder, error) {
	var folder *schema.Folder
	err := r.db.WithTx(ctx, func(tx db.Querier) error {
		var err error
		folder, err = getFolder(ctx, tx, id)
		if err != nil {
			return err
		}

		if update.Name != nil {
			folder.Name = *update.Name
		}
		if update.SetParent {
			if err := checkParent(ctx, tx, id, update.ParentID); err != nil {
				return err
			}
			folder.ParentID = update.ParentID
		}
		folder.UpdatedAt = r.timestamp()

		if err := folder.Validate(); err != nil {
			return db.Invalid("folder", err)
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE folders SET name = ?, parent_id = ?, updated_at = ? WHERE id = ?`,
			folder.Name, db.NullString(folder.ParentID), db.Millis(folder.UpdatedAt), id); err != nil {
			return fmt.Errorf("failed to update folder %s: %w", id, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.publish(events.KindFolder, id, events.ActionUpdated)
	return folder, nil
}

// Delete removes a folder and its whole subtree. Notes inside any removed
// folder move to the root, each with a note.move operation, in the same
// transaction.
func (r *FolderRepo) Delete(ctx context.Context, id string) (*FolderDeleteResult, error) {
	result := &FolderDeleteResult{}
	err := r.db.WithTx(ctx, func(tx db.Querier) error {
		if _, err := getFolder(ctx, tx, id); err != nil {
			return err
		}

		subtree, err := collectSubtree(ctx, tx, id)
		if err != nil {
			return err
		}
		result.Folders = subtree

		in := placeholders(len(subtree))
		noteIDs, err := queryIDs(ctx, tx,
			`SELECT id FROM notes WHERE folder_id IN (`+in+`) ORDER BY id`, stringArgs(subtree)...)
		if err != nil {
			return fmt.Errorf("failed to collect notes of folder %s: %w", id, err)
		}
		result.Notes = noteIDs

		if len(noteIDs) > 0 {
			args := append([]any{db.Millis(r.timestamp())}, stringArgs(noteIDs)...)
			if _, err := tx.ExecContext(ctx,
				`UPDATE notes SET folder_id = NULL, updated_at = ? WHERE id IN (`+placeholders(len(noteIDs))+`)`,
				args...); err != nil {
				return fmt.Errorf("failed to move notes to root: %w", err)
			}
			for _, noteID := range noteIDs {
				if err := r.outbox.Enqueue(ctx, tx, schema.OpNoteMove, noteID, schema.Payload{"folderId": nil}); err != nil {
					return err
				}
			}
		}

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM folders WHERE id IN (`+in+`)`, stringArgs(subtree)...); err != nil {
			return fmt.Errorf("failed to delete folders: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, folderID := range result.Folders {
		r.publish(events.KindFolder, folderID, events.ActionDeleted)
	}
	for _, noteID := range result.Notes {
		r.publish(events.KindNote, noteID, events.ActionMoved)
	}
	return result, nil
}

// UpsertMany writes folders as given, replacing rows with the same id.
func (r *FolderRepo) UpsertMany(ctx context.Context, folders []*schema.Folder) error {
	if len(folders) == 0 {
		return nil
	}
	err := r.db.WithTx(ctx, func(tx db.Querier) error {
		return r.UpsertManyTx(ctx, tx, folders)
	})
	if err != nil {
		return err
	}

	r.publish(events.KindFolder, "", events.ActionReplaced)
	return nil
}

// ClearAll removes every folder. Notes keep their folder ids.
func (r *FolderRepo) ClearAll(ctx context.Context) error {
	if err := r.ClearAllTx(ctx, r.db.RawDB()); err != nil {
		return err
	}
	r.publish(events.KindFolder, "", events.ActionReplaced)
	return nil
}

// UpsertManyTx is UpsertMany inside the caller's transaction q. It publishes
// nothing.
func (r *FolderRepo) UpsertManyTx(ctx context.Context, q db.Querier, folders []*schema.Folder) error {
	for _, folder := range folders {
		if err := folder.Validate(); err != nil {
			return db.Invalid("folder "+folder.ID, err)
		}
	}
	for _, folder := range folders {
		if err := insertFolder(ctx, q, folder, true); err != nil {
			return err
		}
	}
	return nil
}

// ClearAllTx is ClearAll inside the caller's transaction q.
func (r *FolderRepo) ClearAllTx(ctx context.Context, q db.Querier) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM folders`); err != nil {
		return fmt.Errorf("failed to clear folders: %w", err)
	}
	return nil
}

// collectSubtree returns root and all its descendants, depth-first, using an
// explicit stack.
func collectSubtree(ctx context.Context, q db.Querier, root string) ([]string, error) {
	var ordered []string
	seen := map[string]bool{}
	stack := []string{root}

	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[id] {
			continue
		}
		seen[id] = true
		ordered = append(ordered, id)

		children, err := queryIDs(ctx, q,
			`SELECT id FROM folders WHERE parent_id = ? ORDER BY name DESC, id DESC`, id)
		if err != nil {
			return nil, fmt.Errorf("failed to read children of %s: %w", id, err)
		}
		stack = append(stack, children...)
	}
	return ordered, nil
}

// checkParent rejects a parent that is missing, the folder itself, or one of
// its descendants.
func checkParent(ctx context.Context, q db.Querier, id string, parentID *string) error {
	if parentID == nil {
		return nil
	}
	if *parentID == id {
		return ErrFolderCycle
	}
	if err := requireFolder(ctx, q, parentID); err != nil {
		return err
	}

	current := parentID
	for hops := 0; current != nil; hops++ {
		if *current == id {
			return ErrFolderCycle
		}
		if hops > 10_000 {
			return fmt.Errorf("folder ancestry of %s does not terminate: %w", id, ErrFolderCycle)
		}

		var next sql.NullString
		err := q.QueryRowContext(ctx, `SELECT parent_id FROM folders WHERE id = ?`, *current).Scan(&next)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to walk folder ancestry: %w", err)
		}
		current = db.StringPtr(next)
	}
	return nil
}

// requireFolder checks that id names an existing folder. Nil means root.
func requireFolder(ctx context.Context, q db.Querier, id *string) error {
	if id == nil {
		return nil
	}
	var exists int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM folders WHERE id = ?`, *id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("folder %s: %w", *id, db.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to check folder %s: %w", *id, err)
	}
	return nil
}

func getFolder(ctx context.Context, q db.Querier, id string) (*schema.Folder, error) {
	row := q.QueryRowContext(ctx, `SELECT `+folderColumns+` FROM folders WHERE id = ?`, id)
	folder, err := scanFolder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("folder %s: %w", id, db.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get folder %s: %w", id, err)
	}
	return folder, nil
}

func childFolders(ctx context.Context, q db.Querier, parentID *string) ([]*schema.Folder, error) {
	query := `SELECT ` + folderColumns + ` FROM folders WHERE parent_id IS NULL ORDER BY name ASC, id ASC`
	var args []any
	if parentID != nil {
		query = `SELECT ` + folderColumns + ` FROM folders WHERE parent_id = ? ORDER BY name ASC, id ASC`
		args = append(args, *parentID)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list child folders: %w", err)
	}
	defer rows.Close()
	return scanFolders(rows)
}

func insertFolder(ctx context.Context, q db.Querier, folder *schema.Folder, replace bool) error {
	query := `
	INSERT INTO folders (id, name, parent_id, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)`
	if replace {
		query += `
	ON CONFLICT(id) DO UPDATE SET
		name = excluded.name,
		parent_id = excluded.parent_id,
		created_at = excluded.created_at,
		updated_at = excluded.updated_at`
	}

	_, err := q.ExecContext(ctx, query,
		folder.ID, folder.Name, db.NullString(folder.ParentID),
		db.Millis(folder.CreatedAt), db.Millis(folder.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to write folder %s: %w", folder.ID, err)
	}
	return nil
}

func queryIDs(ctx context.Context, q db.Querier, query string, args ...any) ([]string, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanFolder(row rowScanner) (*schema.Folder, error) {
	var folder schema.Folder
	var parentID sql.NullString
	var createdAt, updatedAt int64

	if err := row.Scan(&folder.ID, &folder.Name, &parentID, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	folder.ParentID = db.StringPtr(parentID)
	folder.CreatedAt = db.FromMillis(createdAt)
	folder.UpdatedAt = db.FromMillis(updatedAt)
	return &folder, nil
}

func scanFolders(rows *sql.Rows) ([]*schema.Folder, error) {
	var folders []*schema.Folder
	for rows.Next() {
		folder, err := scanFolder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan folder: %w", err)
		}
		folders = append(folders, folder)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating folders: %w", err)
	}
	return folders, nil
}
