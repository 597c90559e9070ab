package syncer

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReachability struct {
	online atomic.Bool

	mu   sync.Mutex
	subs []chan bool
}

func (f *fakeReachability) Online() bool { return f.online.Load() }

func (f *fakeReachability) Subscribe() (<-chan bool, func()) {
	ch := make(chan bool, 4)
	f.mu.Lock()
	f.subs = append(f.subs, ch)
	f.mu.Unlock()
	return ch, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		for i, sub := range f.subs {
			if sub == ch {
				f.subs = append(f.subs[:i], f.subs[i+1:]...)
				return
			}
		}
	}
}

func (f *fakeReachability) set(online bool) {
	f.online.Store(online)
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, sub := range f.subs {
		sub <- online
	}
}

func (f *fakeReachability) subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func TestLoopStartRunsInitialCycleAndIsIdempotent(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	_, err := env.repos.Notes.Create(ctx, "queued before start", nil)
	require.NoError(t, err)

	reach := &fakeReachability{}
	loop := NewLoop(env.scheduler, reach, time.Hour, zerolog.Nop())

	teardown := loop.Start(ctx)
	second := loop.Start(ctx)
	second() // no-op

	require.Eventually(t, func() bool { return len(env.ops(t)) == 0 },
		2*time.Second, 10*time.Millisecond)
	assert.True(t, loop.Running())
	assert.Equal(t, 1, reach.subscribers())

	teardown()
	teardown()
	assert.False(t, loop.Running())
	assert.Equal(t, 0, reach.subscribers())

	// Restart after teardown.
	teardown = loop.Start(ctx)
	assert.True(t, loop.Running())
	teardown()
}

func TestLoopSyncsOnOnlineTransition(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	reach := &fakeReachability{}
	env.remote.setOffline(true)

	loop := NewLoop(env.scheduler, reach, time.Hour, zerolog.Nop())
	teardown := loop.Start(ctx)
	defer teardown()

	// Wait for the startup cycle on the empty queue.
	require.Eventually(t, func() bool { return len(env.recorder.Messages()) >= 2 },
		2*time.Second, 10*time.Millisecond)

	_, err := env.repos.Notes.Create(ctx, "written offline", nil)
	require.NoError(t, err)

	env.remote.setOffline(false)
	reach.set(true)

	require.Eventually(t, func() bool { return len(env.ops(t)) == 0 },
		2*time.Second, 10*time.Millisecond)
	assert.Len(t, env.remote.Calls(), 1)
}

func TestLoopTicksOnlyWhileOnline(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	reach := &fakeReachability{}
	loop := NewLoop(env.scheduler, reach, 20*time.Millisecond, zerolog.Nop())
	teardown := loop.Start(ctx)
	defer teardown()

	require.Eventually(t, func() bool { return len(env.recorder.Messages()) >= 2 },
		2*time.Second, 10*time.Millisecond)

	_, err := env.repos.Notes.Create(ctx, "waits for connectivity", nil)
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	assert.Len(t, env.ops(t), 1, "ticks are skipped while offline")

	// Going online without a transition event still syncs on the next tick.
	reach.online.Store(true)
	require.Eventually(t, func() bool { return len(env.ops(t)) == 0 },
		2*time.Second, 10*time.Millisecond)
}

func TestLoopSetInterval(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	loop := NewLoop(env.scheduler, nil, time.Hour, zerolog.Nop())
	teardown := loop.Start(ctx)
	defer teardown()

	require.Eventually(t, func() bool { return len(env.recorder.Messages()) >= 2 },
		2*time.Second, 10*time.Millisecond)

	_, err := env.repos.Notes.Create(ctx, "needs a tick", nil)
	require.NoError(t, err)

	loop.SetInterval(20 * time.Millisecond)
	require.Eventually(t, func() bool { return len(env.ops(t)) == 0 },
		2*time.Second, 10*time.Millisecond)
}
