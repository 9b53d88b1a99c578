package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"marketplace-chat/internal/models"
)

var ErrConversationNotFound = errors.New("conversation not found")

// ConversationRepository owns conversation identity: one conversation per
// (listing, unordered participant pair).
type ConversationRepository interface {
	FindOrCreate(ctx context.Context, listingID, senderID, receiverID int) (models.Conversation, error)
	Get(ctx context.Context, conversationID int) (models.Conversation, error)
	IsParticipant(ctx context.Context, conversationID, userID int) (bool, error)
	ListForUser(ctx context.Context, userID int) ([]models.ConversationSummary, error)
}

// ConversationRepo is a sqlx implementation of ConversationRepository.
type ConversationRepo struct {
	db *sqlx.DB
}

func NewConversationRepo(db *sqlx.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

const conversationColumns = `id, listing_id, sender_id, receiver_id, created_at`

// FindOrCreate returns the canonical conversation for the pair, creating it
// with senderID recorded as the initiating party when none exists. Lookup is
// symmetric in the participants. Concurrent first contacts from opposite
// directions collide on the unique (listing, LEAST, GREATEST) index; the
// loser's insert affects no rows and falls back to the lookup.
func (r *ConversationRepo) FindOrCreate(ctx context.Context, listingID, senderID, receiverID int) (models.Conversation, error) {
	if senderID == receiverID {
		return models.Conversation{}, fmt.Errorf("cannot open conversation with self")
	}

	conv, err := r.findByPair(ctx, listingID, senderID, receiverID)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, ErrConversationNotFound) {
		return models.Conversation{}, err
	}

	query := `INSERT INTO conversations (listing_id, sender_id, receiver_id) VALUES ($1, $2, $3)
        ON CONFLICT (listing_id, LEAST(sender_id, receiver_id), GREATEST(sender_id, receiver_id)) DO NOTHING
        RETURNING ` + conversationColumns
	err = r.db.GetContext(ctx, &conv, query, listingID, senderID, receiverID)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, err
	}

	// Lost the creation race; the winner's row is there now.
	return r.findByPair(ctx, listingID, senderID, receiverID)
}

func (r *ConversationRepo) findByPair(ctx context.Context, listingID, partyX, partyY int) (models.Conversation, error) {
	var conv models.Conversation
	query := `SELECT ` + conversationColumns + ` FROM conversations
        WHERE listing_id=$1
        AND ((sender_id=$2 AND receiver_id=$3) OR (sender_id=$3 AND receiver_id=$2))`
	err := r.db.GetContext(ctx, &conv, query, listingID, partyX, partyY)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, ErrConversationNotFound
	}
	return conv, err
}

// Get fetches a conversation by id.
func (r *ConversationRepo) Get(ctx context.Context, conversationID int) (models.Conversation, error) {
	var conv models.Conversation
	err := r.db.GetContext(ctx, &conv, `SELECT `+conversationColumns+` FROM conversations WHERE id=$1`, conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, ErrConversationNotFound
	}
	return conv, err
}

// IsParticipant checks whether a user belongs to the conversation.
func (r *ConversationRepo) IsParticipant(ctx context.Context, conversationID, userID int) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists,
		`SELECT EXISTS(SELECT 1 FROM conversations WHERE id=$1 AND (sender_id=$2 OR receiver_id=$2))`,
		conversationID, userID)
	return exists, err
}

// ListForUser returns conversation summaries for the user, newest first, with
// the count of messages addressed to the user that are still unread.
func (r *ConversationRepo) ListForUser(ctx context.Context, userID int) ([]models.ConversationSummary, error) {
	query := `SELECT c.id, c.listing_id, c.sender_id, c.receiver_id, c.created_at,
            COUNT(m.id) FILTER (WHERE m.receiver_id=$1 AND m.is_read = FALSE) AS unread_count
        FROM conversations c
        LEFT JOIN messages m ON m.conversation_id = c.id
        WHERE c.sender_id=$1 OR c.receiver_id=$1
        GROUP BY c.id
        ORDER BY c.created_at DESC`
	rows, err := r.db.QueryxContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []models.ConversationSummary
	for rows.Next() {
		var row struct {
			models.Conversation
			UnreadCount int `db:"unread_count"`
		}
		if err := rows.StructScan(&row); err != nil {
			return nil, err
		}
		result = append(result, models.ConversationSummary{
			ConversationID: row.ID,
			ListingID:      row.ListingID,
			CounterpartID:  row.OtherParty(userID),
			UnreadCount:    row.UnreadCount,
			CreatedAt:      row.CreatedAt,
		})
	}
	return result, rows.Err()
}
