// Package loadtest drives the local store with concurrent editors and then
// drains the resulting outbox against an in-memory remote.
//
// It checks that write transactions stay fast under contention and that
// coalescing holds: however many edits land on a note that was never
// synced, the queue carries exactly one note.create with the final content
// and folder.
package loadtest

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/graphnode/gnsync/internal/outbox"
	"github.com/graphnode/gnsync/internal/repo"
	"github.com/graphnode/gnsync/internal/store/db"
	"github.com/graphnode/gnsync/internal/store/schema"
	"github.com/graphnode/gnsync/internal/syncer"
)

// Store is a populated store for load testing.
type Store struct {
	DB        *db.DB
	Outbox    *outbox.Manager
	Repos     *repo.Set
	NoteIDs   []string
	FolderIDs []string
}

// LatencyStats captures performance metrics from load tests.
type LatencyStats struct {
	Min        time.Duration `json:"min"`
	Max        time.Duration `json:"max"`
	Mean       time.Duration `json:"mean"`
	P50        time.Duration `json:"p50"`
	P95        time.Duration `json:"p95"`
	P99        time.Duration `json:"p99"`
	TotalCalls int           `json:"totalCalls"`
	Errors     int           `json:"errors"`
}

// DrainStats describes one full drain of the outbox.
type DrainStats struct {
	Delivered int           `json:"delivered"`
	Cycles    int           `json:"cycles"`
	Elapsed   time.Duration `json:"elapsed"`
	PerSecond float64       `json:"perSecond"`
}

// CreateStore opens a database at path holding numNotes notes spread over
// numFolders folders. Every note starts with its note.create queued.
func CreateStore(ctx context.Context, path string, numNotes, numFolders int) (*Store, error) {
	database, err := db.Open(ctx, path)
	if err != nil {
		return nil, err
	}

	ob := outbox.New(database)
	s := &Store{
		DB:     database,
		Outbox: ob,
		Repos:  repo.NewSet(database, ob),
	}

	for i := 0; i < numFolders; i++ {
		folder, err := s.Repos.Folders.Create(ctx, fmt.Sprintf("Folder %d", i), nil)
		if err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("failed to create folder %d: %w", i, err)
		}
		s.FolderIDs = append(s.FolderIDs, folder.ID)
	}

	for i := 0; i < numNotes; i++ {
		var folderID *string
		if len(s.FolderIDs) > 0 && i%2 == 1 {
			folderID = &s.FolderIDs[i%len(s.FolderIDs)]
		}
		note, err := s.Repos.Notes.Create(ctx, fmt.Sprintf("# Note %d\ninitial", i), folderID)
		if err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("failed to create note %d: %w", i, err)
		}
		s.NoteIDs = append(s.NoteIDs, note.ID)
	}

	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.DB.Close()
}

// RunConcurrentEdits has numEditors goroutines each apply editsPerEditor
// random edits (content updates and moves) to random notes, timing every
// repository call. Editors use fixed seeds so runs are reproducible.
func (s *Store) RunConcurrentEdits(ctx context.Context, numEditors, editsPerEditor int) (*LatencyStats, error) {
	if len(s.NoteIDs) == 0 {
		return nil, fmt.Errorf("store has no notes")
	}

	var wg sync.WaitGroup
	results := make(chan []time.Duration, numEditors)
	var errorCount atomic.Int32
	var errMu sync.Mutex
	var firstErr error

	for i := 0; i < numEditors; i++ {
		wg.Add(1)
		go func(editor int) {
			defer wg.Done()

			rng := rand.New(rand.NewPCG(uint64(editor), 42))
			durations := make([]time.Duration, 0, editsPerEditor)

			for j := 0; j < editsPerEditor; j++ {
				id := s.NoteIDs[rng.IntN(len(s.NoteIDs))]

				start := time.Now()
				var err error
				if len(s.FolderIDs) > 0 && rng.IntN(4) == 0 {
					var folderID *string
					if k := rng.IntN(len(s.FolderIDs) + 1); k < len(s.FolderIDs) {
						folderID = &s.FolderIDs[k]
					}
					_, err = s.Repos.Notes.Move(ctx, id, folderID)
				} else {
					_, err = s.Repos.Notes.Update(ctx, id, fmt.Sprintf("# Note %s\nedit %d by editor %d", id, j, editor))
				}
				durations = append(durations, time.Since(start))

				if err != nil {
					errorCount.Add(1)
					errMu.Lock()
					if firstErr == nil {
						firstErr = fmt.Errorf("editor %d edit %d failed: %w", editor, j, err)
					}
					errMu.Unlock()
				}
			}

			results <- durations
		}(i)
	}

	wg.Wait()
	close(results)

	var all []time.Duration
	for durations := range results {
		all = append(all, durations...)
	}
	if len(all) == 0 {
		return nil, fmt.Errorf("no edits completed")
	}

	stats := computeLatencyStats(all)
	stats.Errors = int(errorCount.Load())
	if firstErr != nil && stats.Errors == stats.TotalCalls {
		return stats, firstErr
	}
	return stats, nil
}

// VerifyCoalesced checks that every note has exactly one queued operation,
// a note.create whose payload matches the note's current content and folder.
func (s *Store) VerifyCoalesced(ctx context.Context) error {
	for _, id := range s.NoteIDs {
		note, err := s.Repos.Notes.Get(ctx, id)
		if err != nil {
			return err
		}
		ops, err := s.Outbox.ForEntity(ctx, s.DB.RawDB(), id)
		if err != nil {
			return err
		}

		if len(ops) != 1 {
			return fmt.Errorf("note %s: %d queued operations, want 1", id, len(ops))
		}
		op := ops[0]
		if op.Type != schema.OpNoteCreate {
			return fmt.Errorf("note %s: queued %s, want %s", id, op.Type, schema.OpNoteCreate)
		}
		if content, _ := op.Payload["content"].(string); content != note.Content {
			return fmt.Errorf("note %s: queued content %q, stored %q", id, content, note.Content)
		}
		if title, _ := op.Payload["title"].(string); title != note.Title {
			return fmt.Errorf("note %s: queued title %q, stored %q", id, title, note.Title)
		}

		queued, _ := op.Payload["folderId"].(string)
		stored := ""
		if note.FolderID != nil {
			stored = *note.FolderID
		}
		if queued != stored {
			return fmt.Errorf("note %s: queued folder %q, stored %q", id, queued, stored)
		}
	}
	return nil
}

// Drain runs sync cycles of batchLimit operations against an in-memory
// remote until the queue is empty.
func (s *Store) Drain(ctx context.Context, batchLimit int) (*DrainStats, error) {
	remote := &countingRemote{}
	scheduler, err := syncer.NewScheduler(s.Outbox, remote, &syncer.Config{BatchLimit: batchLimit})
	if err != nil {
		return nil, err
	}

	stats := &DrainStats{}
	start := time.Now()
	for {
		res, err := scheduler.SyncOnce(ctx, 0)
		if err != nil {
			return nil, err
		}
		stats.Cycles++
		stats.Delivered += res.Succeeded
		if res.Failed > 0 {
			return nil, fmt.Errorf("in-memory remote rejected %d operations", res.Failed)
		}
		if res.Attempted == 0 {
			break
		}
	}
	stats.Elapsed = time.Since(start)
	if secs := stats.Elapsed.Seconds(); secs > 0 {
		stats.PerSecond = float64(stats.Delivered) / secs
	}

	if remaining, err := s.Outbox.Stats(ctx); err != nil {
		return nil, err
	} else if remaining.Total() != 0 {
		return nil, fmt.Errorf("%d operations left after drain", remaining.Total())
	}
	if int(remote.calls.Load()) != stats.Delivered {
		return nil, fmt.Errorf("remote saw %d calls, scheduler reported %d", remote.calls.Load(), stats.Delivered)
	}
	return stats, nil
}

// countingRemote accepts every operation.
type countingRemote struct {
	calls atomic.Int64
}

func (r *countingRemote) accept() error {
	r.calls.Add(1)
	return nil
}

func (r *countingRemote) CreateNote(context.Context, schema.Payload) error { return r.accept() }
func (r *countingRemote) UpdateNote(context.Context, string, schema.Payload) error {
	return r.accept()
}
func (r *countingRemote) DeleteNote(context.Context, string) error { return r.accept() }
func (r *countingRemote) UpdateThread(context.Context, string, schema.Payload) error {
	return r.accept()
}
func (r *countingRemote) DeleteThread(context.Context, string) error { return r.accept() }

// computeLatencyStats calculates statistics from a slice of durations.
func computeLatencyStats(durations []time.Duration) *LatencyStats {
	if len(durations) == 0 {
		return &LatencyStats{}
	}

	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return &LatencyStats{
		Min:        sorted[0],
		Max:        sorted[len(sorted)-1],
		Mean:       sum / time.Duration(len(durations)),
		P50:        sorted[len(sorted)*50/100],
		P95:        sorted[len(sorted)*95/100],
		P99:        sorted[len(sorted)*99/100],
		TotalCalls: len(durations),
	}
}

// Print writes the statistics in a readable block.
func (s *LatencyStats) Print(w io.Writer) {
	fmt.Fprintf(w, "Write latency:\n")
	fmt.Fprintf(w, "  Total edits:   %d\n", s.TotalCalls)
	fmt.Fprintf(w, "  Errors:        %d\n", s.Errors)
	fmt.Fprintf(w, "  Min:           %v\n", s.Min)
	fmt.Fprintf(w, "  P50 (Median):  %v\n", s.P50)
	fmt.Fprintf(w, "  Mean:          %v\n", s.Mean)
	fmt.Fprintf(w, "  P95:           %v\n", s.P95)
	fmt.Fprintf(w, "  P99:           %v\n", s.P99)
	fmt.Fprintf(w, "  Max:           %v\n", s.Max)
}
