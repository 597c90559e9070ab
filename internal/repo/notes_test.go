package repo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graphnode/gnsync/internal/events"
	"github.com/graphnode/gnsync/internal/store/db"
	"github.com/graphnode/gnsync/internal/store/schema"
)

func TestNoteCreateEnqueuesCreate(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	note, err := env.repos.Notes.Create(ctx, "# Groceries\n- milk", nil)
	require.NoError(t, err)
	assert.Equal(t, "Groceries", note.Title)
	assert.Nil(t, note.FolderID)

	got, err := env.repos.Notes.Get(ctx, note.ID)
	require.NoError(t, err)
	assert.Equal(t, note, got)

	ops := env.ops(t, note.ID)
	require.Len(t, ops, 1)
	assert.Equal(t, schema.OpNoteCreate, ops[0].Type)
	assert.Equal(t, schema.Payload{
		"id": note.ID, "title": "Groceries", "content": "# Groceries\n- milk", "folderId": nil,
	}, ops[0].Payload)

	assert.Equal(t, []events.EntityChangedData{
		{Kind: events.KindNote, ID: note.ID, Action: events.ActionCreated},
	}, env.recorder.EntityChanges())
}

func TestNoteCreateRequiresExistingFolder(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	_, err := env.repos.Notes.Create(ctx, "x", strPtr("missing"))
	require.ErrorIs(t, err, db.ErrNotFound)
	assert.Equal(t, 0, env.queueSize(t))
	assert.Empty(t, env.recorder.Messages())
}

func TestNoteEditsCoalesceIntoPendingCreate(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	folder, err := env.repos.Folders.Create(ctx, "Work", nil)
	require.NoError(t, err)

	note, err := env.repos.Notes.Create(ctx, "draft", nil)
	require.NoError(t, err)
	env.advance(time.Second)
	_, err = env.repos.Notes.Update(ctx, note.ID, "# Final\nbody")
	require.NoError(t, err)
	_, err = env.repos.Notes.Move(ctx, note.ID, &folder.ID)
	require.NoError(t, err)

	ops := env.ops(t, note.ID)
	require.Len(t, ops, 1)
	assert.Equal(t, schema.OpNoteCreate, ops[0].Type)
	assert.Equal(t, "Final", ops[0].Payload["title"])
	assert.Equal(t, "# Final\nbody", ops[0].Payload["content"])
	assert.Equal(t, folder.ID, ops[0].Payload["folderId"])
}

func TestNoteUpdateAndMoveAfterDelivery(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	note, err := env.repos.Notes.Create(ctx, "one", nil)
	require.NoError(t, err)
	require.NoError(t, env.outbox.Complete(ctx, env.ops(t, note.ID)[0].OpID))

	env.advance(time.Second)
	updated, err := env.repos.Notes.Update(ctx, note.ID, "two")
	require.NoError(t, err)
	assert.Equal(t, "two", updated.Title)
	assert.True(t, updated.UpdatedAt.After(note.UpdatedAt))
	assert.Equal(t, note.CreatedAt, updated.CreatedAt)

	_, err = env.repos.Notes.Update(ctx, note.ID, "three")
	require.NoError(t, err)
	_, err = env.repos.Notes.Move(ctx, note.ID, nil)
	require.NoError(t, err)

	ops := env.ops(t, note.ID)
	require.Len(t, ops, 2)
	assert.Equal(t, schema.OpNoteUpdate, ops[0].Type)
	assert.Equal(t, schema.Payload{"title": "three", "content": "three"}, ops[0].Payload)
	assert.Equal(t, schema.OpNoteMove, ops[1].Type)
	assert.Equal(t, schema.Payload{"folderId": nil}, ops[1].Payload)
}

func TestNoteDeleteSupersedesQueuedWork(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	note, err := env.repos.Notes.Create(ctx, "doomed", nil)
	require.NoError(t, err)
	_, err = env.repos.Notes.Update(ctx, note.ID, "still doomed")
	require.NoError(t, err)

	require.NoError(t, env.repos.Notes.Delete(ctx, note.ID))

	_, err = env.repos.Notes.Get(ctx, note.ID)
	assert.ErrorIs(t, err, db.ErrNotFound)

	ops := env.ops(t, note.ID)
	require.Len(t, ops, 1)
	assert.Equal(t, schema.OpNoteDelete, ops[0].Type)
	assert.Nil(t, ops[0].Payload)
}

func TestNoteMutationsOfMissingNoteWriteNothing(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	_, err := env.repos.Notes.Update(ctx, "nope", "x")
	assert.ErrorIs(t, err, db.ErrNotFound)
	_, err = env.repos.Notes.Move(ctx, "nope", nil)
	assert.ErrorIs(t, err, db.ErrNotFound)
	assert.ErrorIs(t, env.repos.Notes.Delete(ctx, "nope"), db.ErrNotFound)

	_, err = env.repos.Notes.Move(ctx, "nope", strPtr(""))
	assert.ErrorIs(t, err, db.ErrInvalid)

	assert.Equal(t, 0, env.queueSize(t))
	assert.Empty(t, env.recorder.Messages())
}

func TestNoteList(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	folder, err := env.repos.Folders.Create(ctx, "Work", nil)
	require.NoError(t, err)

	a, err := env.repos.Notes.Create(ctx, "a", nil)
	require.NoError(t, err)
	env.advance(time.Minute)
	b, err := env.repos.Notes.Create(ctx, "b", &folder.ID)
	require.NoError(t, err)
	env.advance(time.Minute)
	c, err := env.repos.Notes.Create(ctx, "c", nil)
	require.NoError(t, err)

	all, err := env.repos.Notes.List(ctx, ListNotesFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{c.ID, b.ID, a.ID}, []string{all[0].ID, all[1].ID, all[2].ID})

	inFolder, err := env.repos.Notes.List(ctx, ListNotesFilter{FolderID: &folder.ID})
	require.NoError(t, err)
	require.Len(t, inFolder, 1)
	assert.Equal(t, b.ID, inFolder[0].ID)

	root, err := env.repos.Notes.List(ctx, ListNotesFilter{RootOnly: true})
	require.NoError(t, err)
	assert.Len(t, root, 2)

	recent, err := env.repos.Notes.List(ctx, ListNotesFilter{UpdatedSince: b.UpdatedAt})
	require.NoError(t, err)
	assert.Len(t, recent, 2)

	limited, err := env.repos.Notes.List(ctx, ListNotesFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, c.ID, limited[0].ID)
}

func TestNoteUpsertManyAndClearAllSkipOutbox(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	now := time.UnixMilli(1_600_000_000_000)
	notes := []*schema.Note{
		{ID: "r1", Title: "Remote", Content: "Remote", CreatedAt: now, UpdatedAt: now},
		{ID: "r2", Title: "Other", Content: "Other", FolderID: strPtr("f9"), CreatedAt: now, UpdatedAt: now},
	}
	require.NoError(t, env.repos.Notes.UpsertMany(ctx, notes))

	notes[0].Content = "Changed"
	require.NoError(t, env.repos.Notes.UpsertMany(ctx, notes[:1]))

	got, err := env.repos.Notes.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "Changed", got.Content)
	assert.Equal(t, 0, env.queueSize(t))

	err = env.repos.Notes.UpsertMany(ctx, []*schema.Note{{ID: "bad"}})
	assert.ErrorIs(t, err, db.ErrInvalid)

	require.NoError(t, env.repos.Notes.ClearAll(ctx))
	count, err := env.db.Count(ctx, "notes")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
	assert.Equal(t, 0, env.queueSize(t))
}

func TestNoteInitializeDefault(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	note, err := env.repos.Notes.InitializeDefault(ctx)
	require.NoError(t, err)
	require.NotNil(t, note)
	assert.Equal(t, "Welcome to GraphNode!", note.Title)

	again, err := env.repos.Notes.InitializeDefault(ctx)
	require.NoError(t, err)
	assert.Nil(t, again)

	count, err := env.db.Count(ctx, "notes")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestNoteMergeRemoteSkipsQueuedNotes(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	local, err := env.repos.Notes.Create(ctx, "local edit", nil)
	require.NoError(t, err)

	remoteTime := env.clock().Add(time.Hour)
	applied, err := env.repos.Notes.MergeRemote(ctx, []*schema.Note{
		{ID: local.ID, Title: "remote", Content: "remote", CreatedAt: remoteTime, UpdatedAt: remoteTime},
		{ID: "remote-only", Title: "fresh", Content: "fresh", CreatedAt: remoteTime, UpdatedAt: remoteTime},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, applied)

	got, err := env.repos.Notes.Get(ctx, local.ID)
	require.NoError(t, err)
	assert.Equal(t, "local edit", got.Content)

	got, err = env.repos.Notes.Get(ctx, "remote-only")
	require.NoError(t, err)
	assert.Equal(t, "fresh", got.Content)

	// Once delivered, the remote copy is accepted.
	require.NoError(t, env.outbox.Complete(ctx, env.ops(t, local.ID)[0].OpID))
	applied, err = env.repos.Notes.MergeRemote(ctx, []*schema.Note{
		{ID: local.ID, Title: "remote", Content: "remote", CreatedAt: remoteTime, UpdatedAt: remoteTime},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, applied)

	got, err = env.repos.Notes.Get(ctx, local.ID)
	require.NoError(t, err)
	assert.Equal(t, "remote", got.Content)
	assert.Equal(t, 0, env.queueSize(t))
}
