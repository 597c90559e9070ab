// Package syncer drains the outbox against the remote service.
//
// A Scheduler runs one sync cycle at a time: it first returns operations
// abandoned in processing to pending, then dispatches the due operations one
// by one and resolves each as delivered (removed) or failed (rescheduled with
// exponential backoff). Remote failures never surface to the caller; they are
// recorded on the operation and retried indefinitely.
//
// A Loop triggers cycles from a ticker and from reachability transitions.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/graphnode/gnsync/internal/events"
	"github.com/graphnode/gnsync/internal/outbox"
	"github.com/graphnode/gnsync/internal/store/db"
	"github.com/graphnode/gnsync/internal/store/schema"
)

const (
	// DefaultBatchLimit is the number of operations dispatched per cycle.
	DefaultBatchLimit = 20

	// DefaultStaleAfter is how long an operation may stay in processing
	// before a cycle assumes its worker died.
	DefaultStaleAfter = 60 * time.Second
)

// Config holds scheduler configuration.
type Config struct {
	// BatchLimit is used when SyncOnce is called with limit <= 0
	BatchLimit int

	// StaleAfter is the processing age after which an operation is reset
	StaleAfter time.Duration

	// Backoff computes the retry delay from the new retry count
	// (default: Backoff)
	Backoff func(retryCount int) time.Duration

	// Publisher receives sync_complete and outbox_stats after each cycle
	Publisher events.Publisher

	Logger zerolog.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		BatchLimit: DefaultBatchLimit,
		StaleAfter: DefaultStaleAfter,
		Backoff:    Backoff,
		Logger:     zerolog.Nop(),
	}
}

// Result summarizes one call to SyncOnce.
type Result struct {
	// Skipped is set when another cycle was already running
	Skipped bool

	Recovered int
	Attempted int
	Succeeded int
	Failed    int
	Pulled    int
	Duration  time.Duration
}

// Scheduler runs sync cycles. It is safe for concurrent use; overlapping
// calls return immediately.
type Scheduler struct {
	outbox *outbox.Manager
	remote Remote
	puller *Puller
	config *Config
	logger zerolog.Logger

	busy atomic.Bool
}

// NewScheduler creates a Scheduler. A nil config uses DefaultConfig.
func NewScheduler(ob *outbox.Manager, remote Remote, config *Config) (*Scheduler, error) {
	if ob == nil {
		return nil, fmt.Errorf("outbox cannot be nil")
	}
	if remote == nil {
		return nil, fmt.Errorf("remote cannot be nil")
	}

	defaults := DefaultConfig()
	if config == nil {
		config = defaults
	}
	if config.BatchLimit <= 0 {
		config.BatchLimit = defaults.BatchLimit
	}
	if config.StaleAfter <= 0 {
		config.StaleAfter = defaults.StaleAfter
	}
	if config.Backoff == nil {
		config.Backoff = defaults.Backoff
	}

	return &Scheduler{
		outbox: ob,
		remote: remote,
		config: config,
		logger: config.Logger.With().Str("component", "syncer").Logger(),
	}, nil
}

// SetPuller makes every clean cycle (no failed operations) end with a note
// pull. Nil disables pulling.
func (s *Scheduler) SetPuller(p *Puller) {
	s.puller = p
}

// Busy reports whether a cycle is running.
func (s *Scheduler) Busy() bool {
	return s.busy.Load()
}

// SyncOnce runs one cycle of at most limit operations (limit <= 0 uses the
// configured batch limit). Only local store failures are returned.
func (s *Scheduler) SyncOnce(ctx context.Context, limit int) (Result, error) {
	if !s.busy.CompareAndSwap(false, true) {
		s.logger.Debug().Msg("sync already running, skipping")
		return Result{Skipped: true}, nil
	}
	defer s.busy.Store(false)

	if limit <= 0 {
		limit = s.config.BatchLimit
	}
	start := time.Now()
	var res Result

	recovered, err := s.outbox.ResetStale(ctx, s.config.StaleAfter)
	if err != nil {
		return res, err
	}
	res.Recovered = recovered
	if recovered > 0 {
		s.logger.Info().Int("count", recovered).Msg("reset stale operations")
	}

	ops, err := s.outbox.Due(ctx, limit)
	if err != nil {
		return res, err
	}

	for _, op := range ops {
		if ctx.Err() != nil {
			break
		}

		delivered, attempted, err := s.process(ctx, op)
		if err != nil {
			return res, err
		}
		if !attempted {
			continue
		}
		res.Attempted++
		if delivered {
			res.Succeeded++
		} else {
			res.Failed++
		}
	}

	if s.puller != nil && res.Failed == 0 && ctx.Err() == nil {
		pulled, err := s.puller.PullNotes(ctx)
		if err != nil {
			s.logger.Warn().Err(err).Msg("note pull failed")
		}
		res.Pulled = pulled
	}

	res.Duration = time.Since(start)
	s.report(ctx, res)
	return res, nil
}

// process dispatches one operation and resolves it. attempted is false when
// the operation was no longer pending by the time it was claimed, or when ctx
// was cancelled during the call.
func (s *Scheduler) process(ctx context.Context, op *schema.Op) (delivered, attempted bool, err error) {
	if err := s.outbox.MarkProcessing(ctx, op.OpID); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return false, false, nil
		}
		return false, false, err
	}

	// Re-read: a pending op may have absorbed an edit after Due returned it.
	current, err := s.outbox.Get(ctx, op.OpID)
	if err != nil {
		return false, false, err
	}

	log := s.logger.With().Str("op", current.OpID).Str("type", string(current.Type)).
		Str("entity", current.EntityID).Logger()

	remoteErr := Dispatch(ctx, s.remote, current)

	// Resolve even if ctx was cancelled mid-call, so the op is not left in
	// processing until the stale reset.
	resolveCtx := context.WithoutCancel(ctx)

	if remoteErr != nil && ctx.Err() != nil {
		// Cancelled locally (shutdown): not a remote rejection.
		if err := s.outbox.Release(resolveCtx, current.OpID); err != nil && !errors.Is(err, db.ErrNotFound) {
			return false, false, err
		}
		log.Debug().Err(remoteErr).Msg("dispatch interrupted, operation released")
		return false, false, nil
	}

	if remoteErr == nil {
		if err := s.outbox.Complete(resolveCtx, current.OpID); err != nil {
			return false, true, err
		}
		log.Debug().Msg("operation delivered")
		return true, true, nil
	}

	retryCount := current.RetryCount + 1
	nextRetryAt := s.outbox.Now().Add(s.config.Backoff(retryCount))
	if err := s.outbox.Reschedule(resolveCtx, current.OpID, retryCount, nextRetryAt, remoteErr.Error()); err != nil {
		return false, true, err
	}
	log.Warn().Err(remoteErr).Int("retry", retryCount).Time("next_retry_at", nextRetryAt).
		Msg("operation failed")
	return false, true, nil
}

func (s *Scheduler) report(ctx context.Context, res Result) {
	if res.Attempted > 0 || res.Recovered > 0 {
		s.logger.Info().
			Int("attempted", res.Attempted).
			Int("succeeded", res.Succeeded).
			Int("failed", res.Failed).
			Dur("duration", res.Duration).
			Msg("sync cycle complete")
	}

	if s.config.Publisher == nil {
		return
	}
	s.config.Publisher.Publish(events.SyncComplete(events.SyncCompleteData{
		Attempted: res.Attempted,
		Succeeded: res.Succeeded,
		Failed:    res.Failed,
		Recovered: res.Recovered,
		Pulled:    res.Pulled,
		Duration:  res.Duration,
	}))

	stats, err := s.outbox.Stats(context.WithoutCancel(ctx))
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to read outbox stats")
		return
	}
	s.config.Publisher.Publish(events.OutboxStats(StatsData(stats)))
}

// StatsData converts queue statistics to their event form.
func StatsData(stats outbox.Stats) events.OutboxStatsData {
	return events.OutboxStatsData{
		Pending:    stats.Pending,
		Processing: stats.Processing,
		Failing:    stats.Failing,
		Due:        stats.Due,
	}
}
