package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConversationOtherParty(t *testing.T) {
	conv := Conversation{ID: 5, ListingID: 42, SenderID: 1, ReceiverID: 2}

	tests := []struct {
		name   string
		userID int
		want   int
	}{
		{name: "initiator sends, other party receives", userID: 1, want: 2},
		{name: "receiver-of-record sends, initiator receives", userID: 2, want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, conv.OtherParty(tt.userID))
		})
	}
}

func TestConversationIsParticipant(t *testing.T) {
	conv := Conversation{ID: 5, ListingID: 42, SenderID: 1, ReceiverID: 2}

	assert.True(t, conv.IsParticipant(1))
	assert.True(t, conv.IsParticipant(2))
	assert.False(t, conv.IsParticipant(3))
	assert.False(t, conv.IsParticipant(0))
}
