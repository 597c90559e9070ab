// Package events carries change notifications out of the store.
//
// Repositories publish an entity_changed Message after every committed
// mutation; the sync scheduler publishes sync_complete and outbox_stats after
// each cycle. A Server fans messages out to WebSocket clients so a UI can
// refresh without polling.
package events

import (
	"encoding/json"
	"sync"
	"time"
)

// MessageType defines the type of event message
type MessageType string

const (
	// MessageTypeEntityChanged indicates a note, folder or thread was written
	MessageTypeEntityChanged MessageType = "entity_changed"

	// MessageTypeSyncComplete indicates a sync cycle finished
	MessageTypeSyncComplete MessageType = "sync_complete"

	// MessageTypeOutboxStats carries updated queue statistics
	MessageTypeOutboxStats MessageType = "outbox_stats"
)

// Kind names the entity an event is about.
type Kind string

const (
	KindNote   Kind = "note"
	KindFolder Kind = "folder"
	KindThread Kind = "thread"
)

// Action describes what happened to the entity.
type Action string

const (
	ActionCreated  Action = "created"
	ActionUpdated  Action = "updated"
	ActionMoved    Action = "moved"
	ActionDeleted  Action = "deleted"
	ActionReplaced Action = "replaced" // bulk upsert or clear
)

// Message is one broadcast event.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// EntityChangedData identifies the changed entity.
type EntityChangedData struct {
	Kind   Kind   `json:"kind"`
	ID     string `json:"id,omitempty"`
	Action Action `json:"action"`
}

// SyncCompleteData summarizes one sync cycle.
type SyncCompleteData struct {
	Attempted int           `json:"attempted"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Recovered int           `json:"recovered"`
	Pulled    int           `json:"pulled"`
	Duration  time.Duration `json:"duration"`
}

// OutboxStatsData mirrors the queue counters.
type OutboxStatsData struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Failing    int `json:"failing"`
	Due        int `json:"due"`
}

// Publisher receives messages. Implementations must not block the caller.
type Publisher interface {
	Publish(msg Message)
}

// EntityChanged builds an entity_changed message.
func EntityChanged(kind Kind, id string, action Action) Message {
	return newMessage(MessageTypeEntityChanged, EntityChangedData{Kind: kind, ID: id, Action: action})
}

// SyncComplete builds a sync_complete message.
func SyncComplete(data SyncCompleteData) Message {
	return newMessage(MessageTypeSyncComplete, data)
}

// OutboxStats builds an outbox_stats message.
func OutboxStats(data OutboxStatsData) Message {
	return newMessage(MessageTypeOutboxStats, data)
}

func newMessage(typ MessageType, data any) Message {
	raw, _ := json.Marshal(data)
	return Message{Type: typ, Timestamp: time.Now(), Data: raw}
}

// Publish sends msg to p when p is non-nil.
func Publish(p Publisher, msg Message) {
	if p != nil {
		p.Publish(msg)
	}
}

// Multi fans a message out to several publishers.
type Multi []Publisher

// Publish implements Publisher.
func (m Multi) Publish(msg Message) {
	for _, p := range m {
		Publish(p, msg)
	}
}

// Recorder keeps every published message in memory.
type Recorder struct {
	mu       sync.Mutex
	messages []Message
}

// Publish implements Publisher.
func (r *Recorder) Publish(msg Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
}

// Messages returns a copy of the recorded messages.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.messages...)
}

// EntityChanges decodes the recorded entity_changed payloads in order.
func (r *Recorder) EntityChanges() []EntityChangedData {
	var out []EntityChangedData
	for _, msg := range r.Messages() {
		if msg.Type != MessageTypeEntityChanged {
			continue
		}
		var data EntityChangedData
		if err := json.Unmarshal(msg.Data, &data); err == nil {
			out = append(out, data)
		}
	}
	return out
}
