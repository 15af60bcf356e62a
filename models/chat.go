package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Message roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single turn in a chat transcript
type Message struct {
	ID        uuid.UUID `json:"message_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Messages represents an ordered chat transcript
type Messages []Message

// Value implements driver.Valuer for JSONB
func (m Messages) Value() (driver.Value, error) {
	if m == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner for JSONB
func (m *Messages) Scan(value interface{}) error {
	if value == nil {
		*m = make(Messages, 0)
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		*m = make(Messages, 0)
		return nil
	}

	if len(bytes) == 0 {
		*m = make(Messages, 0)
		return nil
	}

	return json.Unmarshal(bytes, m)
}

// Chat represents a conversation with the steward assistant
type Chat struct {
	ID        uuid.UUID `json:"chat_id"`
	Title     string    `json:"title"`
	Messages  Messages  `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
