package repo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graphnode/gnsync/internal/events"
	"github.com/graphnode/gnsync/internal/store/db"
	"github.com/graphnode/gnsync/internal/store/schema"
)

func (e *testEnv) count(t *testing.T, table string) int {
	t.Helper()
	n, err := e.db.Count(context.Background(), table)
	require.NoError(t, err)
	return n
}

func TestSetLoad(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	_, err := env.repos.Notes.Create(ctx, "local", nil)
	require.NoError(t, err)

	now := env.clock()
	snap := Snapshot{
		Folders: []*schema.Folder{{ID: "f1", Name: "One", CreatedAt: now, UpdatedAt: now}},
		Notes: []*schema.Note{{ID: "n1", Title: "Remote", Content: "Remote",
			FolderID: strPtr("f1"), CreatedAt: now, UpdatedAt: now}},
		Threads: []*schema.Thread{{ID: "t1", Title: "chat", UpdatedAt: now}},
	}

	require.NoError(t, env.repos.Load(ctx, snap, false))
	assert.Equal(t, 2, env.count(t, "notes"))
	assert.Equal(t, 1, env.queueSize(t), "loading enqueues nothing")

	require.NoError(t, env.repos.Load(ctx, snap, true))
	assert.Equal(t, 1, env.count(t, "notes"))
	assert.Equal(t, 1, env.count(t, "folders"))
	assert.Equal(t, 1, env.count(t, "threads"))
}

func TestSetLoadInvalidRecordWritesNothing(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	now := env.clock()
	require.NoError(t, env.repos.Folders.UpsertMany(ctx, []*schema.Folder{
		{ID: "f1", Name: "One", CreatedAt: now, UpdatedAt: now},
	}))

	err := env.repos.Load(ctx, Snapshot{
		Notes:   []*schema.Note{{ID: "n1", Title: "ok", Content: "ok", CreatedAt: now, UpdatedAt: now}},
		Threads: []*schema.Thread{{ID: "", Title: "broken", UpdatedAt: now}},
	}, true)
	assert.ErrorIs(t, err, db.ErrInvalid)

	assert.Equal(t, 1, env.count(t, "folders"), "replace rolled back")
	assert.Equal(t, 0, env.count(t, "notes"))
}

func TestSetReset(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	folder, err := env.repos.Folders.Create(ctx, "Work", nil)
	require.NoError(t, err)
	_, err = env.repos.Notes.Create(ctx, "a", &folder.ID)
	require.NoError(t, err)
	_, err = env.repos.Notes.Create(ctx, "b", nil)
	require.NoError(t, err)
	thread, err := env.repos.Threads.Create(ctx, "chat", nil)
	require.NoError(t, err)
	_, err = env.repos.Threads.UpdateTitle(ctx, thread.ID, "renamed")
	require.NoError(t, err)

	due, err := env.outbox.Due(ctx, 1)
	require.NoError(t, err)
	require.Len(t, due, 1)
	require.NoError(t, env.outbox.MarkProcessing(ctx, due[0].OpID))

	dropped, err := env.repos.Reset(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, dropped, "processing operations are dropped too")

	assert.Equal(t, 0, env.queueSize(t))
	assert.Equal(t, 0, env.count(t, "notes"))
	assert.Equal(t, 0, env.count(t, "folders"))
	assert.Equal(t, 0, env.count(t, "threads"))

	changes := env.recorder.EntityChanges()
	require.GreaterOrEqual(t, len(changes), 3)
	assert.Equal(t, events.ActionReplaced, changes[len(changes)-1].Action)
}

func TestSetResetFailureLeavesStoreUnchanged(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	_, err := env.repos.Notes.Create(ctx, "a", nil)
	require.NoError(t, err)
	_, err = env.repos.Folders.Create(ctx, "Work", nil)
	require.NoError(t, err)

	// Threads are cleared last.
	_, err = env.db.RawDB().ExecContext(ctx, `ALTER TABLE threads RENAME TO threads_moved`)
	require.NoError(t, err)

	_, err = env.repos.Reset(ctx)
	require.Error(t, err)

	assert.Equal(t, 1, env.queueSize(t))
	assert.Equal(t, 1, env.count(t, "notes"))
	assert.Equal(t, 1, env.count(t, "folders"))
}
