package syncer

import (
	"context"
	"fmt"

	"github.com/graphnode/gnsync/internal/store/schema"
)

// Remote is the remote service as seen by the scheduler. A nil error means
// the operation was delivered; any error is a rejection and is retried.
type Remote interface {
	CreateNote(ctx context.Context, payload schema.Payload) error
	UpdateNote(ctx context.Context, id string, payload schema.Payload) error
	DeleteNote(ctx context.Context, id string) error
	UpdateThread(ctx context.Context, id string, payload schema.Payload) error
	DeleteThread(ctx context.Context, id string) error
}

// NoteLister fetches the remote copy of every note.
type NoteLister interface {
	ListNotes(ctx context.Context) ([]*schema.Note, error)
}

// Dispatch sends op to the remote method mapped to its type.
func Dispatch(ctx context.Context, r Remote, op *schema.Op) error {
	switch op.Type {
	case schema.OpNoteCreate:
		return r.CreateNote(ctx, op.Payload)
	case schema.OpNoteUpdate, schema.OpNoteMove:
		return r.UpdateNote(ctx, op.EntityID, op.Payload)
	case schema.OpNoteDelete:
		return r.DeleteNote(ctx, op.EntityID)
	case schema.OpThreadUpdate:
		return r.UpdateThread(ctx, op.EntityID, op.Payload)
	case schema.OpThreadDelete:
		return r.DeleteThread(ctx, op.EntityID)
	default:
		return fmt.Errorf("no remote mapping for operation type %q", op.Type)
	}
}
