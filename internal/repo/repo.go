// Package repo implements the entity repositories: the only write path into
// the local store.
//
// Every mutating call runs in one transaction that writes the entity table and
// enqueues the matching outbox operation, so a local change and its pending
// remote effect are committed together or not at all. Reads never touch the
// outbox. After a successful commit the repository publishes an
// entity_changed event.
package repo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/graphnode/gnsync/internal/events"
	"github.com/graphnode/gnsync/internal/outbox"
	"github.com/graphnode/gnsync/internal/store/db"
	"github.com/graphnode/gnsync/internal/store/schema"
)

// Option configures a repository.
type Option func(*base)

// WithPublisher sets where entity_changed events go.
func WithPublisher(p events.Publisher) Option {
	return func(b *base) { b.publisher = p }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(b *base) { b.now = now }
}

// WithIDGenerator overrides entity id generation.
func WithIDGenerator(newID func() string) Option {
	return func(b *base) { b.newID = newID }
}

type base struct {
	db        *db.DB
	outbox    *outbox.Manager
	publisher events.Publisher
	now       func() time.Time
	newID     func() string
}

func newBase(database *db.DB, ob *outbox.Manager, opts []Option) base {
	b := base{
		db:     database,
		outbox: ob,
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(&b)
	}
	return b
}

// timestamp returns the current time truncated to the stored precision, so
// returned entities compare equal to what a later Get reads back.
func (b *base) timestamp() time.Time {
	return db.FromMillis(db.Millis(b.now()))
}

func (b *base) publish(kind events.Kind, id string, action events.Action) {
	events.Publish(b.publisher, events.EntityChanged(kind, id, action))
}

// Set bundles the three repositories over one store and outbox.
type Set struct {
	Notes   *NoteRepo
	Folders *FolderRepo
	Threads *ThreadRepo

	db     *db.DB
	outbox *outbox.Manager
}

// NewSet creates all repositories with the same options.
func NewSet(database *db.DB, ob *outbox.Manager, opts ...Option) *Set {
	return &Set{
		Notes:   NewNoteRepo(database, ob, opts...),
		Folders: NewFolderRepo(database, ob, opts...),
		Threads: NewThreadRepo(database, ob, opts...),
		db:      database,
		outbox:  ob,
	}
}

// Snapshot is a set of entities written as-is by Load.
type Snapshot struct {
	Folders []*schema.Folder
	Notes   []*schema.Note
	Threads []*schema.Thread
}

// Load upserts every entity of snap in one transaction, after clearing all
// three tables when replace is set. Nothing is enqueued. On error the store
// is left as it was.
func (s *Set) Load(ctx context.Context, snap Snapshot, replace bool) error {
	err := s.db.WithTx(ctx, func(tx db.Querier) error {
		if replace {
			if err := s.Folders.ClearAllTx(ctx, tx); err != nil {
				return err
			}
			if err := s.Notes.ClearAllTx(ctx, tx); err != nil {
				return err
			}
			if err := s.Threads.ClearAllTx(ctx, tx); err != nil {
				return err
			}
		}
		if err := s.Folders.UpsertManyTx(ctx, tx, snap.Folders); err != nil {
			return fmt.Errorf("failed to load folders: %w", err)
		}
		if err := s.Notes.UpsertManyTx(ctx, tx, snap.Notes); err != nil {
			return fmt.Errorf("failed to load notes: %w", err)
		}
		if err := s.Threads.UpsertManyTx(ctx, tx, snap.Threads); err != nil {
			return fmt.Errorf("failed to load threads: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if replace || len(snap.Folders) > 0 {
		s.Folders.publish(events.KindFolder, "", events.ActionReplaced)
	}
	if replace || len(snap.Notes) > 0 {
		s.Notes.publish(events.KindNote, "", events.ActionReplaced)
	}
	if replace || len(snap.Threads) > 0 {
		s.Threads.publish(events.KindThread, "", events.ActionReplaced)
	}
	return nil
}

// Reset erases every entity and every queued operation in one transaction
// and returns the number of operations dropped.
func (s *Set) Reset(ctx context.Context) (int, error) {
	var dropped int
	err := s.db.WithTx(ctx, func(tx db.Querier) error {
		var err error
		if dropped, err = s.outbox.PurgeAll(ctx, tx); err != nil {
			return err
		}
		if err := s.Notes.ClearAllTx(ctx, tx); err != nil {
			return err
		}
		if err := s.Folders.ClearAllTx(ctx, tx); err != nil {
			return err
		}
		return s.Threads.ClearAllTx(ctx, tx)
	})
	if err != nil {
		return 0, err
	}

	s.Notes.publish(events.KindNote, "", events.ActionReplaced)
	s.Folders.publish(events.KindFolder, "", events.ActionReplaced)
	s.Threads.publish(events.KindThread, "", events.ActionReplaced)
	return dropped, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func stringArgs(values []string) []any {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}

// optionalID is the payload form of a nullable reference.
func optionalID(id *string) any {
	if id == nil {
		return nil
	}
	return *id
}
