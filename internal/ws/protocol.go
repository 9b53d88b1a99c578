package ws

import (
	"encoding/json"
	"fmt"

	"marketplace-chat/internal/models"
)

// Client -> server operation types.
const (
	TypeAuthenticate = "authenticate"
	TypeJoin         = "join"
	TypeSendMessage  = "send_message"
	TypeMarkRead     = "mark_read"
	TypePing         = "ping"
)

// Server -> client event types.
const (
	TypeAck                 = "ack"
	TypeNewMessage          = "new_message"
	TypeMessageNotification = "message_notification"
	TypeMessageRead         = "message_read"
	TypeMessageDeleted      = "message_deleted"
	TypeError               = "error"
	TypePong                = "pong"
)

// Ack error codes, mirroring the service error taxonomy.
const (
	CodeUnauthenticated    = "unauthenticated"
	CodeForbidden          = "forbidden"
	CodeNotFound           = "not_found"
	CodeModerationRejected = "moderation_rejected"
	CodeStorageFailure     = "storage_failure"
	CodePersistenceFailure = "persistence_failure"
	CodeBadRequest         = "bad_request"
	CodeUnsupportedType    = "unsupported_type"
)

// AuthenticateMsg establishes the connection's identity after connect.
type AuthenticateMsg struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

// JoinMsg subscribes the connection to a conversation's broadcast group.
type JoinMsg struct {
	Type           string `json:"type"`
	ConversationID int    `json:"conversation_id"`
}

// FileUpload carries one attachment buffer. Data is base64 on the wire.
type FileUpload struct {
	Name     string `json:"name"`
	MimeType string `json:"mime_type"`
	Data     []byte `json:"data"`
}

// SendMessageMsg sends a message. A known conversation may be addressed
// directly through conversation_id; otherwise the conversation is resolved
// from (listing_id, caller, receiver_id). Ref is echoed back in the ack so
// the client can correlate the response.
type SendMessageMsg struct {
	Type           string       `json:"type"`
	Ref            string       `json:"ref,omitempty"`
	ConversationID int          `json:"conversation_id,omitempty"`
	ListingID      int          `json:"listing_id,omitempty"`
	ReceiverID     int          `json:"receiver_id,omitempty"`
	Content        string       `json:"content"`
	Files          []FileUpload `json:"files,omitempty"`
}

// MarkReadMsg marks the caller's unread messages in a conversation as read.
type MarkReadMsg struct {
	Type           string `json:"type"`
	ConversationID int    `json:"conversation_id"`
}

// AckEvent is the call/response answer to send_message: the caller always
// learns the outcome.
type AckEvent struct {
	Type           string          `json:"type"`
	Ref            string          `json:"ref,omitempty"`
	Success        bool            `json:"success"`
	Code           string          `json:"code,omitempty"`
	Error          string          `json:"error,omitempty"`
	ConversationID int             `json:"conversation_id,omitempty"`
	Message        *models.Message `json:"message,omitempty"`
}

// NewMessageEvent is fanned out to every connection joined to the conversation.
type NewMessageEvent struct {
	Type    string         `json:"type"`
	Message models.Message `json:"message"`
}

// MessageNotificationEvent is pushed to the receiver's live connections even
// when they are not joined to the conversation group.
type MessageNotificationEvent struct {
	Type           string         `json:"type"`
	ConversationID int            `json:"conversation_id"`
	Message        models.Message `json:"message"`
}

// MessageReadEvent tells the group the conversation was marked read.
type MessageReadEvent struct {
	Type           string `json:"type"`
	ConversationID int    `json:"conversation_id"`
}

// MessageDeletedEvent tells the group a message was permanently removed.
type MessageDeletedEvent struct {
	Type           string `json:"type"`
	ConversationID int    `json:"conversation_id"`
	MessageID      int    `json:"message_id"`
}

// ErrorEvent reports a failure outside the ack flow.
type ErrorEvent struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongEvent answers a ping.
type PongEvent struct {
	Type string `json:"type"`
}

// ParseClientMessage decodes raw bytes into the concrete operation struct for
// the embedded type discriminator.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return "", nil, fmt.Errorf("parse envelope: %w", err)
	}
	if envelope.Type == "" {
		return "", nil, fmt.Errorf("missing message type")
	}

	var msg interface{}
	switch envelope.Type {
	case TypeAuthenticate:
		msg = &AuthenticateMsg{}
	case TypeJoin:
		msg = &JoinMsg{}
	case TypeSendMessage:
		msg = &SendMessageMsg{}
	case TypeMarkRead:
		msg = &MarkReadMsg{}
	case TypePing:
		return TypePing, nil, nil
	default:
		return envelope.Type, nil, nil
	}

	if err := json.Unmarshal(data, msg); err != nil {
		return "", nil, fmt.Errorf("parse %s: %w", envelope.Type, err)
	}
	return envelope.Type, msg, nil
}
