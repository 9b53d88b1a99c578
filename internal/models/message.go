package models

import (
	"time"

	"github.com/lib/pq"
)

// Message is a single message inside a conversation. ReceiverID is always the
// conversation party that is not SenderID. Files holds opaque storage keys,
// FileTypes the kind of the key at the same index.
type Message struct {
	ID             int            `db:"id" json:"id"`
	ConversationID int            `db:"conversation_id" json:"conversation_id"`
	SenderID       int            `db:"sender_id" json:"sender_id"`
	ReceiverID     int            `db:"receiver_id" json:"receiver_id"`
	Content        string         `db:"content" json:"content"`
	Files          pq.StringArray `db:"files" json:"files"`
	FileTypes      pq.StringArray `db:"file_types" json:"file_types"`
	IsRead         bool           `db:"is_read" json:"is_read"`
	SenderIP       string         `db:"sender_ip" json:"-"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
}

// MessageDeleteEvent is returned when a message is permanently removed.
type MessageDeleteEvent struct {
	MessageID      int       `json:"message_id"`
	ConversationID int       `json:"conversation_id"`
	DeletedAt      time.Time `json:"deleted_at"`
}
