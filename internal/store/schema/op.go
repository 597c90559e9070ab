package schema

import (
	"encoding/json"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// OpType names the remote effect an outbox operation stands for.
type OpType string

const (
	OpNoteCreate   OpType = "note.create"
	OpNoteUpdate   OpType = "note.update"
	OpNoteMove     OpType = "note.move"
	OpNoteDelete   OpType = "note.delete"
	OpThreadUpdate OpType = "thread.update"
	OpThreadDelete OpType = "thread.delete"
)

// OpTypes lists every known operation type.
var OpTypes = []OpType{
	OpNoteCreate, OpNoteUpdate, OpNoteMove, OpNoteDelete,
	OpThreadUpdate, OpThreadDelete,
}

// IsValid reports whether t is a known operation type.
func (t OpType) IsValid() bool {
	for _, known := range OpTypes {
		if t == known {
			return true
		}
	}
	return false
}

// IsDelete reports whether t removes its entity remotely.
func (t OpType) IsDelete() bool {
	return t == OpNoteDelete || t == OpThreadDelete
}

// IsCreate reports whether t creates its entity remotely.
func (t OpType) IsCreate() bool {
	return t == OpNoteCreate
}

// Kind returns the entity kind prefix ("note" or "thread").
func (t OpType) Kind() string {
	kind, _, _ := strings.Cut(string(t), ".")
	return kind
}

// OpStatus is the lifecycle state of an outbox operation.
type OpStatus string

const (
	StatusPending    OpStatus = "pending"
	StatusProcessing OpStatus = "processing"
)

// Payload is the flat JSON object sent to the remote. Deletes carry none.
type Payload map[string]any

// Merge returns a copy of p with every key of incoming written over it.
// Keys absent from incoming keep their value from p; an explicit nil in
// incoming (for example folderId moved to root) does overwrite.
func (p Payload) Merge(incoming Payload) Payload {
	merged := make(Payload, len(p)+len(incoming))
	for k, v := range p {
		merged[k] = v
	}
	for k, v := range incoming {
		merged[k] = v
	}
	return merged
}

// String returns the payload as JSON ("null" for an empty payload).
func (p Payload) String() string {
	if p == nil {
		return "null"
	}
	data, err := json.Marshal(p)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// Op is one queued remote operation.
type Op struct {
	OpID        string    `json:"opId" yaml:"opId"`
	EntityID    string    `json:"entityId" yaml:"entityId"`
	Type        OpType    `json:"type" yaml:"type"`
	Payload     Payload   `json:"payload" yaml:"payload"`
	Status      OpStatus  `json:"status" yaml:"status"`
	RetryCount  int       `json:"retryCount" yaml:"retryCount"`
	NextRetryAt time.Time `json:"nextRetryAt" yaml:"nextRetryAt"`
	CreatedAt   time.Time `json:"createdAt" yaml:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt" yaml:"updatedAt"`
	LastError   string    `json:"lastError,omitempty" yaml:"lastError,omitempty"`
}

// Validate checks if the Op has valid field values.
func (o *Op) Validate() error {
	return validation.ValidateStruct(o,
		validation.Field(&o.OpID, validation.Required),
		validation.Field(&o.EntityID, validation.Required),
		validation.Field(&o.Type, validation.Required, validation.By(func(value any) error {
			if t, _ := value.(OpType); !t.IsValid() {
				return validation.NewError("validation_op_type", "unknown operation type")
			}
			return nil
		})),
		validation.Field(&o.Status, validation.Required, validation.In(StatusPending, StatusProcessing)),
		validation.Field(&o.RetryCount, validation.Min(0)),
		validation.Field(&o.CreatedAt, validation.Required),
	)
}
