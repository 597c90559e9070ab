// Package schema defines the entities persisted by gnsync and the outbox
// operation record that carries their pending remote effects.
//
// # Entities
//
//   - Note: markdown content whose Title is derived from the first line.
//     FolderID nil places the note at the root.
//   - Folder: a node in the folder tree. ParentID nil is a root folder.
//   - Thread: a chat thread holding an ordered list of Messages.
//
// # Outbox operations
//
// An Op is one intended remote effect for one entity:
//
//	note.create   note.update   note.move   note.delete
//	thread.update thread.delete
//
// Ops move through pending -> processing and are removed once delivered.
// Payloads are flat JSON objects so a later mutation can be merged into an
// earlier, not yet delivered, create (see Payload.Merge).
//
// All types validate with ozzo-validation; Validate errors are plain
// validation.Errors and callers wrap them in db.ErrInvalid.
package schema
