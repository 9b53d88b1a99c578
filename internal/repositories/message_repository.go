package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"marketplace-chat/internal/models"
)

var (
	ErrMessageNotFound         = errors.New("message not found")
	ErrNotMessageSender        = errors.New("requester is not the message sender")
	ErrNotConversationReceiver = errors.New("requester is not the conversation receiver")
)

// MessageRepository is the message ledger: append, read-marking and deletion.
type MessageRepository interface {
	CreateMessage(ctx context.Context, conversationID, senderID int, content string, files, fileTypes []string, senderIP string) (models.Message, error)
	GetMessage(ctx context.Context, messageID int) (models.Message, error)
	ListConversationMessages(ctx context.Context, conversationID int) ([]models.Message, error)
	MarkConversationRead(ctx context.Context, conversationID, readerID int) (int64, error)
	DeleteMessage(ctx context.Context, messageID, senderID int) (models.MessageDeleteEvent, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

const messageColumns = `id, conversation_id, sender_id, receiver_id, content, files, file_types, is_read, sender_ip, created_at`

// CreateMessage appends a message to a conversation. The receiver is always
// resolved from the conversation row: whichever party is not the sender.
func (r *MessageRepo) CreateMessage(ctx context.Context, conversationID, senderID int, content string, files, fileTypes []string, senderIP string) (models.Message, error) {
	var conv models.Conversation
	err := r.db.GetContext(ctx, &conv, `SELECT id, listing_id, sender_id, receiver_id, created_at FROM conversations WHERE id=$1`, conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrConversationNotFound
	}
	if err != nil {
		return models.Message{}, err
	}

	receiverID := conv.OtherParty(senderID)

	if files == nil {
		files = []string{}
	}
	if fileTypes == nil {
		fileTypes = []string{}
	}

	var msg models.Message
	query := `INSERT INTO messages (conversation_id, sender_id, receiver_id, content, files, file_types, sender_ip)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        RETURNING ` + messageColumns
	err = r.db.GetContext(ctx, &msg, query,
		conversationID, senderID, receiverID, content, pq.Array(files), pq.Array(fileTypes), senderIP)
	return msg, err
}

// GetMessage retrieves a single message.
func (r *MessageRepo) GetMessage(ctx context.Context, messageID int) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `SELECT `+messageColumns+` FROM messages WHERE id=$1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// ListConversationMessages returns all messages of a conversation. Ordered by
// id: the ledger's monotonically increasing id is the definitive order, not
// broadcast arrival.
func (r *MessageRepo) ListConversationMessages(ctx context.Context, conversationID int) ([]models.Message, error) {
	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs,
		`SELECT `+messageColumns+` FROM messages WHERE conversation_id=$1 ORDER BY id ASC`, conversationID)
	return msgs, err
}

// MarkConversationRead flips is_read on unread messages addressed to the
// reader. Only the conversation's receiver-of-record may mark, and only
// messages from the original initiator are updated. Idempotent: a second call
// affects zero rows.
func (r *MessageRepo) MarkConversationRead(ctx context.Context, conversationID, readerID int) (int64, error) {
	var conv models.Conversation
	err := r.db.GetContext(ctx, &conv, `SELECT id, listing_id, sender_id, receiver_id, created_at FROM conversations WHERE id=$1`, conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrConversationNotFound
	}
	if err != nil {
		return 0, err
	}
	if conv.ReceiverID != readerID {
		return 0, ErrNotConversationReceiver
	}

	res, err := r.db.ExecContext(ctx,
		`UPDATE messages SET is_read = TRUE
            WHERE conversation_id=$1 AND sender_id=$2 AND receiver_id=$3 AND is_read = FALSE`,
		conversationID, conv.SenderID, readerID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteMessage permanently removes a message. Only the sender may delete;
// a message that does not exist or belongs to someone else is NotFound from
// the requester's perspective once sender ownership has been ruled out.
func (r *MessageRepo) DeleteMessage(ctx context.Context, messageID, senderID int) (models.MessageDeleteEvent, error) {
	var deleted struct {
		ID             int `db:"id"`
		ConversationID int `db:"conversation_id"`
	}
	err := r.db.GetContext(ctx, &deleted,
		`DELETE FROM messages WHERE id=$1 AND sender_id=$2 RETURNING id, conversation_id`,
		messageID, senderID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.MessageDeleteEvent{}, ErrMessageNotFound
	}
	if err != nil {
		return models.MessageDeleteEvent{}, err
	}

	return models.MessageDeleteEvent{
		MessageID:      deleted.ID,
		ConversationID: deleted.ConversationID,
		DeletedAt:      time.Now().UTC(),
	}, nil
}
