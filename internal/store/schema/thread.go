package schema

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Role identifies the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one entry of a chat thread. TS is the authoring time.
type Message struct {
	ID      string    `json:"id"`
	Role    Role      `json:"role"`
	Content string    `json:"content"`
	TS      time.Time `json:"ts"`
}

// Validate checks if the Message has valid field values.
func (m Message) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.ID, validation.Required),
		validation.Field(&m.Role, validation.Required, validation.In(RoleUser, RoleAssistant, RoleSystem)),
	)
}

// Thread is a chat thread. UpdatedAt moves on every append or title change.
type Thread struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Validate checks if the Thread has valid field values.
// Each message is validated as well.
func (t *Thread) Validate() error {
	return validation.ValidateStruct(t,
		validation.Field(&t.ID, validation.Required),
		validation.Field(&t.Messages),
		validation.Field(&t.UpdatedAt, validation.Required),
	)
}
