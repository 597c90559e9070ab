package outbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/graphnode/gnsync/internal/store/db"
	"github.com/graphnode/gnsync/internal/store/schema"
)

// Enqueue records a remote operation for entityID inside the caller's
// transaction q, coalescing it with pending operations for the same entity:
//
//  1. A delete drops every pending operation of the entity and becomes its
//     only pending record. Processing operations are left alone.
//  2. Otherwise, a pending create absorbs the payload (shallow merge, explicit
//     nil overwrites). Pending operations of the incoming type are dropped,
//     since the create now carries newer values.
//  3. Otherwise, a pending operation of the same type has its payload replaced.
//  4. Otherwise a new pending operation is inserted, due now.
//
// Merged or replaced operations keep their retry count, become due now and
// lose their last error.
func (m *Manager) Enqueue(ctx context.Context, q db.Querier, typ schema.OpType, entityID string, payload schema.Payload) error {
	if entityID == "" {
		return fmt.Errorf("enqueue %s: entity id is required: %w", typ, db.ErrInvalid)
	}
	if !typ.IsValid() {
		return fmt.Errorf("enqueue: unknown operation type %q: %w", typ, db.ErrInvalid)
	}

	if typ.IsDelete() {
		if _, err := q.ExecContext(ctx,
			`DELETE FROM outbox WHERE entity_id = ? AND status = ?`,
			entityID, string(schema.StatusPending)); err != nil {
			return fmt.Errorf("failed to drop pending operations for %s: %w", entityID, err)
		}
		return m.insert(ctx, q, typ, entityID, nil)
	}

	if typ.Kind() == "note" && !typ.IsCreate() {
		create, err := m.pendingOp(ctx, q, entityID, schema.OpNoteCreate)
		if err != nil {
			return err
		}
		if create != nil {
			if err := m.overwrite(ctx, q, create.OpID, create.Payload.Merge(payload)); err != nil {
				return err
			}
			if _, err := q.ExecContext(ctx,
				`DELETE FROM outbox WHERE entity_id = ? AND status = ? AND type = ?`,
				entityID, string(schema.StatusPending), string(typ)); err != nil {
				return fmt.Errorf("failed to drop superseded %s for %s: %w", typ, entityID, err)
			}
			return nil
		}
	}

	existing, err := m.pendingOp(ctx, q, entityID, typ)
	if err != nil {
		return err
	}
	if existing != nil {
		return m.overwrite(ctx, q, existing.OpID, payload)
	}

	return m.insert(ctx, q, typ, entityID, payload)
}

// pendingOp returns the oldest pending operation of typ for entityID, or nil.
func (m *Manager) pendingOp(ctx context.Context, q db.Querier, entityID string, typ schema.OpType) (*schema.Op, error) {
	row := q.QueryRowContext(ctx, `
	SELECT `+opColumns+`
	FROM outbox
	WHERE entity_id = ? AND status = ? AND type = ?
	ORDER BY rowid ASC
	LIMIT 1`,
		entityID, string(schema.StatusPending), string(typ))

	op, err := scanOp(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up pending %s for %s: %w", typ, entityID, err)
	}
	return op, nil
}

func (m *Manager) overwrite(ctx context.Context, q db.Querier, opID string, payload schema.Payload) error {
	value, err := payloadValue(payload)
	if err != nil {
		return err
	}

	now := db.Millis(m.now())
	_, err = q.ExecContext(ctx, `
	UPDATE outbox
	SET payload = ?, updated_at = ?, next_retry_at = ?, last_error = NULL
	WHERE op_id = ?`,
		value, now, now, opID)
	if err != nil {
		return fmt.Errorf("failed to update operation %s: %w", opID, err)
	}
	return nil
}

func (m *Manager) insert(ctx context.Context, q db.Querier, typ schema.OpType, entityID string, payload schema.Payload) error {
	now := m.now()
	op := &schema.Op{
		OpID:        m.newID(),
		EntityID:    entityID,
		Type:        typ,
		Payload:     payload,
		Status:      schema.StatusPending,
		NextRetryAt: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := op.Validate(); err != nil {
		return db.Invalid("operation", err)
	}

	value, err := payloadValue(payload)
	if err != nil {
		return err
	}

	_, err = q.ExecContext(ctx, `
	INSERT INTO outbox (op_id, entity_id, type, payload, status, retry_count,
		next_retry_at, created_at, updated_at, last_error)
	VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?, NULL)`,
		op.OpID, op.EntityID, string(op.Type), value, string(op.Status),
		db.Millis(now), db.Millis(now), db.Millis(now))
	if err != nil {
		return fmt.Errorf("failed to insert operation for %s: %w", entityID, err)
	}
	return nil
}
