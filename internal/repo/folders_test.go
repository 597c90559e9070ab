package repo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graphnode/gnsync/internal/store/db"
	"github.com/graphnode/gnsync/internal/store/schema"
)

func TestFolderCreateIsLocalOnly(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	parent, err := env.repos.Folders.Create(ctx, "Projects", nil)
	require.NoError(t, err)
	child, err := env.repos.Folders.Create(ctx, "gnsync", &parent.ID)
	require.NoError(t, err)
	assert.Equal(t, parent.ID, *child.ParentID)
	assert.Equal(t, 0, env.queueSize(t))

	_, err = env.repos.Folders.Create(ctx, "a/b", nil)
	assert.ErrorIs(t, err, db.ErrInvalid)
	_, err = env.repos.Folders.Create(ctx, "orphan", strPtr("missing"))
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestFolderChildren(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	root, err := env.repos.Folders.Create(ctx, "Root", nil)
	require.NoError(t, err)
	_, err = env.repos.Folders.Create(ctx, "zeta", &root.ID)
	require.NoError(t, err)
	_, err = env.repos.Folders.Create(ctx, "alpha", &root.ID)
	require.NoError(t, err)

	top, err := env.repos.Folders.Children(ctx, nil)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, root.ID, top[0].ID)

	children, err := env.repos.Folders.Children(ctx, &root.ID)
	require.NoError(t, err)
	require.Len(t, children, 2)
	assert.Equal(t, "alpha", children[0].Name)
	assert.Equal(t, "zeta", children[1].Name)

	all, err := env.repos.Folders.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestFolderUpdate(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	a, err := env.repos.Folders.Create(ctx, "a", nil)
	require.NoError(t, err)
	b, err := env.repos.Folders.Create(ctx, "b", &a.ID)
	require.NoError(t, err)
	c, err := env.repos.Folders.Create(ctx, "c", &b.ID)
	require.NoError(t, err)
	other, err := env.repos.Folders.Create(ctx, "other", nil)
	require.NoError(t, err)

	renamed, err := env.repos.Folders.Update(ctx, b.ID, FolderUpdate{Name: strPtr("bee")})
	require.NoError(t, err)
	assert.Equal(t, "bee", renamed.Name)
	assert.Equal(t, a.ID, *renamed.ParentID)

	moved, err := env.repos.Folders.Update(ctx, b.ID, FolderUpdate{ParentID: &other.ID, SetParent: true})
	require.NoError(t, err)
	assert.Equal(t, other.ID, *moved.ParentID)

	toRoot, err := env.repos.Folders.Update(ctx, b.ID, FolderUpdate{SetParent: true})
	require.NoError(t, err)
	assert.Nil(t, toRoot.ParentID)

	_, err = env.repos.Folders.Update(ctx, b.ID, FolderUpdate{ParentID: &b.ID, SetParent: true})
	assert.ErrorIs(t, err, ErrFolderCycle)
	_, err = env.repos.Folders.Update(ctx, b.ID, FolderUpdate{ParentID: &c.ID, SetParent: true})
	assert.ErrorIs(t, err, ErrFolderCycle)
	_, err = env.repos.Folders.Update(ctx, b.ID, FolderUpdate{Name: strPtr("")})
	assert.ErrorIs(t, err, db.ErrInvalid)
	_, err = env.repos.Folders.Update(ctx, "missing", FolderUpdate{Name: strPtr("x")})
	assert.ErrorIs(t, err, db.ErrNotFound)

	got, err := env.repos.Folders.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "bee", got.Name)
	assert.Nil(t, got.ParentID)
	assert.Equal(t, 0, env.queueSize(t))
}

func TestFolderDeleteCascadesAndReparentsNotes(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	// A contains B; note n1 in A, note n2 in B; n3 at root stays untouched.
	a, err := env.repos.Folders.Create(ctx, "A", nil)
	require.NoError(t, err)
	b, err := env.repos.Folders.Create(ctx, "B", &a.ID)
	require.NoError(t, err)
	n1, err := env.repos.Notes.Create(ctx, "n1", &a.ID)
	require.NoError(t, err)
	n2, err := env.repos.Notes.Create(ctx, "n2", &b.ID)
	require.NoError(t, err)
	n3, err := env.repos.Notes.Create(ctx, "n3", nil)
	require.NoError(t, err)

	// n1 was already delivered; n2's create is still pending.
	require.NoError(t, env.outbox.Complete(ctx, env.ops(t, n1.ID)[0].OpID))

	result, err := env.repos.Folders.Delete(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{a.ID, b.ID}, result.Folders)
	assert.ElementsMatch(t, []string{n1.ID, n2.ID}, result.Notes)

	for _, id := range []string{a.ID, b.ID} {
		_, err := env.repos.Folders.Get(ctx, id)
		assert.ErrorIs(t, err, db.ErrNotFound)
	}
	for _, id := range []string{n1.ID, n2.ID, n3.ID} {
		note, err := env.repos.Notes.Get(ctx, id)
		require.NoError(t, err)
		assert.Nil(t, note.FolderID, "note %s should be at root", id)
	}

	ops := env.ops(t, n1.ID)
	require.Len(t, ops, 1)
	assert.Equal(t, schema.OpNoteMove, ops[0].Type)
	assert.Equal(t, schema.Payload{"folderId": nil}, ops[0].Payload)

	// The pending create absorbs the move.
	ops = env.ops(t, n2.ID)
	require.Len(t, ops, 1)
	assert.Equal(t, schema.OpNoteCreate, ops[0].Type)
	assert.Nil(t, ops[0].Payload["folderId"])

	_, err = env.repos.Folders.Delete(ctx, a.ID)
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestFolderDeleteDeepTree(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	root, err := env.repos.Folders.Create(ctx, "level-0", nil)
	require.NoError(t, err)
	parent := root
	for i := 1; i < 50; i++ {
		parent, err = env.repos.Folders.Create(ctx, "level", &parent.ID)
		require.NoError(t, err)
	}

	result, err := env.repos.Folders.Delete(ctx, root.ID)
	require.NoError(t, err)
	assert.Len(t, result.Folders, 50)

	count, err := env.db.Count(ctx, "folders")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestFolderUpsertManyAndClearAll(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	now := env.clock()
	require.NoError(t, env.repos.Folders.UpsertMany(ctx, []*schema.Folder{
		{ID: "f1", Name: "One", CreatedAt: now, UpdatedAt: now},
		{ID: "f2", Name: "Two", ParentID: strPtr("f1"), CreatedAt: now, UpdatedAt: now},
	}))

	children, err := env.repos.Folders.Children(ctx, strPtr("f1"))
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, "f2", children[0].ID)

	require.NoError(t, env.repos.Folders.ClearAll(ctx))
	all, err := env.repos.Folders.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
	assert.Equal(t, 0, env.queueSize(t))
}
