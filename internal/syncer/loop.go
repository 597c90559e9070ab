package syncer

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultInterval is the period of the background sync ticker.
const DefaultInterval = 5 * time.Second

// Reachability reports whether the remote is believed reachable and
// publishes transitions. reachability.Monitor implements it.
type Reachability interface {
	Online() bool
	// Subscribe returns a channel receiving every new state and a function
	// that ends the subscription.
	Subscribe() (<-chan bool, func())
}

// Teardown stops what Start started. It is safe to call more than once.
type Teardown func()

// Loop triggers sync cycles in the background.
type Loop struct {
	scheduler    *Scheduler
	reachability Reachability
	logger       zerolog.Logger

	mu       sync.Mutex
	started  bool
	interval time.Duration
	reset    chan time.Duration
}

// NewLoop creates a Loop. A nil reachability treats the remote as always
// online; interval <= 0 uses DefaultInterval.
func NewLoop(scheduler *Scheduler, reachability Reachability, interval time.Duration, logger zerolog.Logger) *Loop {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Loop{
		scheduler:    scheduler,
		reachability: reachability,
		interval:     interval,
		logger:       logger.With().Str("component", "sync-loop").Logger(),
		reset:        make(chan time.Duration, 1),
	}
}

// Start runs an initial cycle, then a cycle on every tick while online and on
// every offline to online transition. Calling Start while the loop runs
// returns a no-op Teardown. The returned Teardown stops the loop and waits for
// a running cycle to finish; afterwards Start may be called again.
func (l *Loop) Start(ctx context.Context) Teardown {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.started {
		return func() {}
	}
	l.started = true

	ctx, cancel := context.WithCancel(ctx)

	var updates <-chan bool
	unsubscribe := func() {}
	if l.reachability != nil {
		updates, unsubscribe = l.reachability.Subscribe()
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		l.run(ctx, l.interval, updates)
	}()

	l.logger.Info().Dur("interval", l.interval).Msg("sync loop started")

	var once sync.Once
	return func() {
		once.Do(func() {
			unsubscribe()
			cancel()
			wg.Wait()

			l.mu.Lock()
			l.started = false
			l.mu.Unlock()
			l.logger.Info().Msg("sync loop stopped")
		})
	}
}

// SetInterval changes the ticker period of a running or future loop.
func (l *Loop) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	l.mu.Lock()
	l.interval = d
	l.mu.Unlock()

	// Keep only the latest value when the loop has not consumed the last one.
	select {
	case <-l.reset:
	default:
	}
	select {
	case l.reset <- d:
	default:
	}
}

// Running reports whether the loop is started.
func (l *Loop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.started
}

func (l *Loop) run(ctx context.Context, interval time.Duration, updates <-chan bool) {
	l.cycle(ctx, "startup")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	online := l.online()
	for {
		select {
		case <-ctx.Done():
			return

		case d := <-l.reset:
			ticker.Reset(d)
			l.logger.Info().Dur("interval", d).Msg("sync interval changed")

		case <-ticker.C:
			if !l.online() {
				continue
			}
			l.cycle(ctx, "tick")

		case state, ok := <-updates:
			if !ok {
				updates = nil
				continue
			}
			wasOnline := online
			online = state
			if state && !wasOnline {
				l.cycle(ctx, "online")
			}
		}
	}
}

func (l *Loop) online() bool {
	return l.reachability == nil || l.reachability.Online()
}

func (l *Loop) cycle(ctx context.Context, trigger string) {
	res, err := l.scheduler.SyncOnce(ctx, 0)
	if err != nil {
		if ctx.Err() == nil {
			l.logger.Error().Err(err).Str("trigger", trigger).Msg("sync cycle failed")
		}
		return
	}
	if res.Skipped {
		l.logger.Debug().Str("trigger", trigger).Msg("sync cycle skipped")
	}
}
