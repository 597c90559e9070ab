package reachability

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProber struct {
	healthy atomic.Bool
	calls   atomic.Int32
}

func (p *fakeProber) Health(ctx context.Context) error {
	p.calls.Add(1)
	if p.healthy.Load() {
		return nil
	}
	return errors.New("connection refused")
}

func newMonitor(t *testing.T, p *fakeProber, interval time.Duration) *Monitor {
	t.Helper()
	m, err := New(p, Config{Interval: interval, Timeout: time.Second})
	require.NoError(t, err)
	t.Cleanup(m.Stop)
	return m
}

func TestNewRequiresProber(t *testing.T) {
	_, err := New(nil, Config{})
	assert.Error(t, err)
}

func TestNewFillsDefaults(t *testing.T) {
	m, err := New(&fakeProber{}, Config{})
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, m.config.Interval)
	assert.Equal(t, 2*time.Second, m.config.Timeout)
}

func TestProbeTransitions(t *testing.T) {
	p := &fakeProber{}
	m := newMonitor(t, p, time.Hour)

	ch, unsubscribe := m.Subscribe()
	defer unsubscribe()

	assert.False(t, m.Probe(context.Background()))
	assert.False(t, m.Online())
	select {
	case <-ch:
		t.Fatal("no transition expected while staying offline")
	default:
	}

	p.healthy.Store(true)
	assert.True(t, m.Probe(context.Background()))
	assert.True(t, <-ch)

	p.healthy.Store(false)
	m.Probe(context.Background())
	assert.False(t, <-ch)
}

func TestSubscriberSeesLatestState(t *testing.T) {
	p := &fakeProber{}
	m := newMonitor(t, p, time.Hour)

	ch, unsubscribe := m.Subscribe()
	defer unsubscribe()

	p.healthy.Store(true)
	m.Probe(context.Background())
	p.healthy.Store(false)
	m.Probe(context.Background())

	assert.False(t, <-ch)
	select {
	case v := <-ch:
		t.Fatalf("unexpected extra state %v", v)
	default:
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	m := newMonitor(t, &fakeProber{}, time.Hour)

	ch, unsubscribe := m.Subscribe()
	unsubscribe()
	unsubscribe()

	_, ok := <-ch
	assert.False(t, ok)
}

func TestStartProbesImmediatelyAndOnInterval(t *testing.T) {
	p := &fakeProber{}
	p.healthy.Store(true)
	m := newMonitor(t, p, 10*time.Millisecond)

	m.Start(context.Background())
	assert.True(t, m.Online(), "first probe runs before Start returns")

	require.Eventually(t, func() bool { return p.calls.Load() >= 3 }, time.Second, 5*time.Millisecond)

	m.Stop()
	calls := p.calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, calls, p.calls.Load(), "no probes after Stop")
}

func TestStartTwiceIsNoop(t *testing.T) {
	p := &fakeProber{}
	m := newMonitor(t, p, time.Hour)

	m.Start(context.Background())
	m.Start(context.Background())
	assert.Equal(t, int32(1), p.calls.Load())
}
