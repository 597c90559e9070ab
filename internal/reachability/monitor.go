// Package reachability tracks whether the remote service answers its health
// probe and notifies subscribers of online/offline transitions.
package reachability

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Prober checks the remote once. A nil error means reachable.
type Prober interface {
	Health(ctx context.Context) error
}

// Config holds configuration for the monitor.
type Config struct {
	// Interval between probes
	Interval time.Duration

	// Timeout bounds a single probe
	Timeout time.Duration

	Logger zerolog.Logger
}

// DefaultConfig returns the defaults used when a field is zero.
func DefaultConfig() Config {
	return Config{
		Interval: 5 * time.Second,
		Timeout:  2 * time.Second,
		Logger:   zerolog.Nop(),
	}
}

// Monitor probes the remote on an interval. It starts out offline until the
// first probe succeeds.
type Monitor struct {
	prober Prober
	config Config

	mu     sync.Mutex
	online bool
	subs   map[int]chan bool
	nextID int

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a monitor. Call Start to begin probing.
func New(prober Prober, config Config) (*Monitor, error) {
	if prober == nil {
		return nil, fmt.Errorf("prober cannot be nil")
	}
	defaults := DefaultConfig()
	if config.Interval <= 0 {
		config.Interval = defaults.Interval
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}

	return &Monitor{
		prober: prober,
		config: config,
		subs:   make(map[int]chan bool),
	}, nil
}

// Online reports the result of the latest probe.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Subscribe returns a channel receiving the new state on every transition,
// and a function that unsubscribes and closes the channel. Slow subscribers
// only see the latest state.
func (m *Monitor) Subscribe() (<-chan bool, func()) {
	ch := make(chan bool, 1)

	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = ch
	m.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
			close(ch)
		})
	}
}

// Start probes once synchronously, then in the background until ctx is
// cancelled or Stop is called. Calling Start on a running monitor is a no-op.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.mu.Unlock()

	m.Probe(ctx)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		ticker := time.NewTicker(m.config.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Probe(ctx)
			}
		}
	}()
}

// Stop halts probing and waits for the background goroutine.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	m.wg.Wait()
}

// Probe runs one health check and records the result. It returns the new
// state.
func (m *Monitor) Probe(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, m.config.Timeout)
	err := m.prober.Health(probeCtx)
	cancel()

	if err != nil && ctx.Err() != nil {
		// Shutting down; keep the last known state.
		return m.Online()
	}

	online := err == nil
	m.set(online, err)
	return online
}

func (m *Monitor) set(online bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.online == online {
		return
	}
	m.online = online

	if online {
		m.config.Logger.Info().Msg("remote reachable")
	} else {
		m.config.Logger.Warn().Err(err).Msg("remote unreachable")
	}

	for _, ch := range m.subs {
		// Replace any unread state with the newest one.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- online:
		default:
		}
	}
}
