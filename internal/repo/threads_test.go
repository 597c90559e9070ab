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

func TestThreadCreateAndAppendStayLocal(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	thread, err := env.repos.Threads.Create(ctx, "Trip planning", []schema.Message{
		{Role: schema.RoleUser, Content: "Where should we go?"},
	})
	require.NoError(t, err)
	require.Len(t, thread.Messages, 1)
	assert.NotEmpty(t, thread.Messages[0].ID)
	assert.False(t, thread.Messages[0].TS.IsZero())

	env.advance(time.Second)
	updated, err := env.repos.Threads.AppendMessage(ctx, thread.ID, schema.Message{
		Role: schema.RoleAssistant, Content: "Lisbon is lovely in spring.",
	})
	require.NoError(t, err)
	require.Len(t, updated.Messages, 2)
	assert.True(t, updated.UpdatedAt.After(thread.UpdatedAt))

	got, err := env.repos.Threads.Get(ctx, thread.ID)
	require.NoError(t, err)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "Lisbon is lovely in spring.", got.Messages[1].Content)
	assert.Equal(t, schema.RoleAssistant, got.Messages[1].Role)
	assert.True(t, got.UpdatedAt.Equal(updated.UpdatedAt))

	assert.Equal(t, 0, env.queueSize(t))

	_, err = env.repos.Threads.AppendMessage(ctx, thread.ID, schema.Message{Role: "robot"})
	assert.ErrorIs(t, err, db.ErrInvalid)
	_, err = env.repos.Threads.AppendMessage(ctx, "missing", schema.Message{Role: schema.RoleUser})
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestThreadTitleAndDeleteEnqueue(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	thread, err := env.repos.Threads.Create(ctx, "untitled", nil)
	require.NoError(t, err)
	assert.NotNil(t, thread.Messages)

	_, err = env.repos.Threads.UpdateTitle(ctx, thread.ID, "draft")
	require.NoError(t, err)
	renamed, err := env.repos.Threads.UpdateTitle(ctx, thread.ID, "Final title")
	require.NoError(t, err)
	assert.Equal(t, "Final title", renamed.Title)

	ops := env.ops(t, thread.ID)
	require.Len(t, ops, 1)
	assert.Equal(t, schema.OpThreadUpdate, ops[0].Type)
	assert.Equal(t, schema.Payload{"title": "Final title"}, ops[0].Payload)

	require.NoError(t, env.repos.Threads.Delete(ctx, thread.ID))
	ops = env.ops(t, thread.ID)
	require.Len(t, ops, 1)
	assert.Equal(t, schema.OpThreadDelete, ops[0].Type)

	_, err = env.repos.Threads.UpdateTitle(ctx, thread.ID, "gone")
	assert.ErrorIs(t, err, db.ErrNotFound)
	assert.ErrorIs(t, env.repos.Threads.Delete(ctx, thread.ID), db.ErrNotFound)

	changes := env.recorder.EntityChanges()
	require.NotEmpty(t, changes)
	assert.Equal(t, events.ActionDeleted, changes[len(changes)-1].Action)
}

func TestThreadSearch(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	cooking, err := env.repos.Threads.Create(ctx, "cooking", []schema.Message{
		{Role: schema.RoleUser, Content: "How long do I boil PASTA?"},
	})
	require.NoError(t, err)
	_, err = env.repos.Threads.Create(ctx, "travel", []schema.Message{
		{Role: schema.RoleUser, Content: "Cheap flights to Rome"},
	})
	require.NoError(t, err)

	matches, err := env.repos.Threads.Search(ctx, "pasta")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, cooking.ID, matches[0].ID)

	none, err := env.repos.Threads.Search(ctx, "sushi")
	require.NoError(t, err)
	assert.Empty(t, none)

	all, err := env.repos.Threads.Search(ctx, "  ")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestThreadListOrderAndBulkOps(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	older := env.clock().Add(-time.Hour)
	require.NoError(t, env.repos.Threads.UpsertMany(ctx, []*schema.Thread{
		{ID: "old", Title: "old", UpdatedAt: older},
	}))
	fresh, err := env.repos.Threads.Create(ctx, "fresh", nil)
	require.NoError(t, err)

	list, err := env.repos.Threads.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, fresh.ID, list[0].ID)
	assert.Equal(t, "old", list[1].ID)
	assert.Empty(t, list[1].Messages)

	require.NoError(t, env.repos.Threads.ClearAll(ctx))
	list, err = env.repos.Threads.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Equal(t, 0, env.queueSize(t))
}
