package models

import "time"

// Conversation is the single negotiation channel between two users about one
// listing. SenderID is the user who opened the conversation; the pair
// {SenderID, ReceiverID} is unique per listing regardless of direction.
type Conversation struct {
	ID         int       `db:"id" json:"id"`
	ListingID  int       `db:"listing_id" json:"listing_id"`
	SenderID   int       `db:"sender_id" json:"sender_id"`
	ReceiverID int       `db:"receiver_id" json:"receiver_id"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// OtherParty returns the participant that is not userID.
func (c Conversation) OtherParty(userID int) int {
	if userID == c.SenderID {
		return c.ReceiverID
	}
	return c.SenderID
}

// IsParticipant reports whether userID belongs to the conversation.
func (c Conversation) IsParticipant(userID int) bool {
	return c.SenderID == userID || c.ReceiverID == userID
}

// ConversationSummary provides an API-friendly view of a conversation for a user.
type ConversationSummary struct {
	ConversationID int       `db:"id" json:"conversation_id"`
	ListingID      int       `db:"listing_id" json:"listing_id"`
	CounterpartID  int       `json:"counterpart_id"`
	UnreadCount    int       `db:"unread_count" json:"unread_count"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}
