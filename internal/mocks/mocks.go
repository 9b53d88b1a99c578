package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"marketplace-chat/internal/auth"
	"marketplace-chat/internal/models"
	"marketplace-chat/internal/rabbitmq"
	"marketplace-chat/internal/repositories"
	"marketplace-chat/internal/storage"
)

type ConversationRepositoryMock struct {
	mock.Mock
}

func (m *ConversationRepositoryMock) FindOrCreate(ctx context.Context, listingID, senderID, receiverID int) (models.Conversation, error) {
	args := m.Called(ctx, listingID, senderID, receiverID)
	var conv models.Conversation
	if val := args.Get(0); val != nil {
		conv = val.(models.Conversation)
	}
	return conv, args.Error(1)
}

func (m *ConversationRepositoryMock) Get(ctx context.Context, conversationID int) (models.Conversation, error) {
	args := m.Called(ctx, conversationID)
	var conv models.Conversation
	if val := args.Get(0); val != nil {
		conv = val.(models.Conversation)
	}
	return conv, args.Error(1)
}

func (m *ConversationRepositoryMock) IsParticipant(ctx context.Context, conversationID, userID int) (bool, error) {
	args := m.Called(ctx, conversationID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *ConversationRepositoryMock) ListForUser(ctx context.Context, userID int) ([]models.ConversationSummary, error) {
	args := m.Called(ctx, userID)
	var list []models.ConversationSummary
	if val := args.Get(0); val != nil {
		list = val.([]models.ConversationSummary)
	}
	return list, args.Error(1)
}

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) CreateMessage(ctx context.Context, conversationID, senderID int, content string, files, fileTypes []string, senderIP string) (models.Message, error) {
	args := m.Called(ctx, conversationID, senderID, content, files, fileTypes, senderIP)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) GetMessage(ctx context.Context, messageID int) (models.Message, error) {
	args := m.Called(ctx, messageID)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) ListConversationMessages(ctx context.Context, conversationID int) ([]models.Message, error) {
	args := m.Called(ctx, conversationID)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *MessageRepositoryMock) MarkConversationRead(ctx context.Context, conversationID, readerID int) (int64, error) {
	args := m.Called(ctx, conversationID, readerID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MessageRepositoryMock) DeleteMessage(ctx context.Context, messageID, senderID int) (models.MessageDeleteEvent, error) {
	args := m.Called(ctx, messageID, senderID)
	var event models.MessageDeleteEvent
	if val := args.Get(0); val != nil {
		event = val.(models.MessageDeleteEvent)
	}
	return event, args.Error(1)
}

type StoreMock struct {
	mock.Mock
}

func (m *StoreMock) Upload(ctx context.Context, data []byte, declaredMime string) (storage.Attachment, error) {
	args := m.Called(ctx, data, declaredMime)
	var att storage.Attachment
	if val := args.Get(0); val != nil {
		att = val.(storage.Attachment)
	}
	return att, args.Error(1)
}

func (m *StoreMock) Delete(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

func (m *StoreMock) DeleteMany(ctx context.Context, keys []string) map[string]error {
	args := m.Called(ctx, keys)
	var result map[string]error
	if val := args.Get(0); val != nil {
		result = val.(map[string]error)
	}
	return result
}

type VerifierMock struct {
	mock.Mock
}

func (m *VerifierMock) Verify(token string) (int, error) {
	args := m.Called(token)
	return args.Int(0), args.Error(1)
}

var _ repositories.ConversationRepository = (*ConversationRepositoryMock)(nil)
var _ repositories.MessageRepository = (*MessageRepositoryMock)(nil)
var _ storage.Store = (*StoreMock)(nil)
var _ auth.TokenVerifier = (*VerifierMock)(nil)
var _ rabbitmq.Publisher = (*PublisherMock)(nil)
