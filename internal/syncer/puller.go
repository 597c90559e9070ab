package syncer

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/graphnode/gnsync/internal/store/schema"
)

// NoteMerger applies remote notes locally without overwriting notes that
// still have queued operations. repo.NoteRepo implements it.
type NoteMerger interface {
	MergeRemote(ctx context.Context, notes []*schema.Note) (int, error)
}

// Puller refreshes local notes from the remote.
type Puller struct {
	remote NoteLister
	notes  NoteMerger
	logger zerolog.Logger
}

// NewPuller creates a Puller.
func NewPuller(remote NoteLister, notes NoteMerger, logger zerolog.Logger) *Puller {
	return &Puller{
		remote: remote,
		notes:  notes,
		logger: logger.With().Str("component", "puller").Logger(),
	}
}

// PullNotes fetches every remote note and merges it locally. Returns the
// number of notes written.
func (p *Puller) PullNotes(ctx context.Context) (int, error) {
	notes, err := p.remote.ListNotes(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list remote notes: %w", err)
	}
	if len(notes) == 0 {
		return 0, nil
	}

	applied, err := p.notes.MergeRemote(ctx, notes)
	if err != nil {
		return 0, err
	}

	p.logger.Debug().Int("fetched", len(notes)).Int("applied", applied).Msg("pulled notes")
	return applied, nil
}
