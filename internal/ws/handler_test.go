package ws

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"marketplace-chat/internal/auth"
	"marketplace-chat/internal/mocks"
	"marketplace-chat/internal/models"
	"marketplace-chat/internal/moderation"
	"marketplace-chat/internal/repositories"
	"marketplace-chat/internal/storage"
	"marketplace-chat/internal/telemetry"
)

type handlerEnv struct {
	hub       *Hub
	registry  *Registry
	verifier  *mocks.VerifierMock
	convRepo  *mocks.ConversationRepositoryMock
	msgRepo   *mocks.MessageRepositoryMock
	store     *mocks.StoreMock
	publisher *mocks.PublisherMock
	srv       *httptest.Server
}

func newHandlerEnv(t *testing.T) *handlerEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	env := &handlerEnv{
		hub:       NewHub(),
		registry:  NewRegistry(),
		verifier:  new(mocks.VerifierMock),
		convRepo:  new(mocks.ConversationRepositoryMock),
		msgRepo:   new(mocks.MessageRepositoryMock),
		store:     new(mocks.StoreMock),
		publisher: new(mocks.PublisherMock),
	}

	filter := moderation.NewFilter([]string{"scam"})
	audit := telemetry.NewAuditEmitter(env.publisher, "chat.audit", "chat", "test")
	handler := NewHandler(env.hub, env.registry, env.verifier, env.convRepo, env.msgRepo, env.store, filter, env.publisher, audit)

	router := gin.New()
	router.GET("/ws", handler.Handle)
	env.srv = httptest.NewServer(router)
	t.Cleanup(env.srv.Close)
	return env
}

func (e *handlerEnv) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/ws"
	if token != "" {
		url += "?token=" + token
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, conn.SetWriteDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.WriteJSON(v))
}

// roundtrip blocks until the read loop has processed everything sent so far.
func roundtrip(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	sendJSON(t, conn, gin.H{"type": "ping"})
	event := readEvent(t, conn)
	require.Equal(t, TypePong, event["type"])
}

func TestSendMessageEndToEnd(t *testing.T) {
	env := newHandlerEnv(t)

	env.verifier.On("Verify", "token-a").Return(10, nil)
	env.verifier.On("Verify", "token-b").Return(20, nil)

	conv := models.Conversation{ID: 5, ListingID: 42, SenderID: 10, ReceiverID: 20}
	stored := models.Message{ID: 1, ConversationID: 5, SenderID: 10, ReceiverID: 20, Content: "hello there"}

	env.convRepo.On("FindOrCreate", mock.Anything, 42, 10, 20).Return(conv, nil).Once()
	env.msgRepo.On("CreateMessage", mock.Anything, 5, 10, "hello there", mock.Anything, mock.Anything, mock.Anything).
		Return(stored, nil).Once()
	env.publisher.On("Publish", mock.Anything, RoutingKeyMessageCreated, mock.Anything).Return(nil).Once()

	// Party A authenticates inline, party B through an explicit operation.
	connA := env.dial(t, "token-a")
	roundtrip(t, connA)

	connB := env.dial(t, "")
	sendJSON(t, connB, gin.H{"type": TypeAuthenticate, "token": "token-b"})
	roundtrip(t, connB)

	sendJSON(t, connA, gin.H{
		"type":        TypeSendMessage,
		"ref":         "r1",
		"listing_id":  42,
		"receiver_id": 20,
		"content":     "hello there",
	})

	ack := readEvent(t, connA)
	require.Equal(t, TypeAck, ack["type"])
	assert.Equal(t, "r1", ack["ref"])
	assert.Equal(t, true, ack["success"])
	assert.Equal(t, float64(5), ack["conversation_id"])

	// The receiver gets a targeted notification without having joined.
	note := readEvent(t, connB)
	require.Equal(t, TypeMessageNotification, note["type"])
	assert.Equal(t, float64(5), note["conversation_id"])

	// B joins the conversation and marks it read.
	env.convRepo.On("Get", mock.Anything, 5).Return(conv, nil).Once()
	env.msgRepo.On("MarkConversationRead", mock.Anything, 5, 20).Return(int64(1), nil).Once()

	sendJSON(t, connB, gin.H{"type": TypeJoin, "conversation_id": 5})
	roundtrip(t, connB)

	sendJSON(t, connB, gin.H{"type": TypeMarkRead, "conversation_id": 5})
	read := readEvent(t, connB)
	require.Equal(t, TypeMessageRead, read["type"])
	assert.Equal(t, float64(5), read["conversation_id"])

	// Marking again flips nothing and stays silent.
	env.msgRepo.On("MarkConversationRead", mock.Anything, 5, 20).Return(int64(0), nil).Once()
	sendJSON(t, connB, gin.H{"type": TypeMarkRead, "conversation_id": 5})
	expectNoEvent(t, connB)

	env.convRepo.AssertExpectations(t)
	env.msgRepo.AssertExpectations(t)
	env.publisher.AssertExpectations(t)
}

func TestSendMessageModerationRejected(t *testing.T) {
	env := newHandlerEnv(t)

	env.verifier.On("Verify", "token-a").Return(10, nil)
	env.publisher.On("Publish", mock.Anything, "chat.audit", mock.Anything).Return(nil).Once()

	conn := env.dial(t, "token-a")
	sendJSON(t, conn, gin.H{
		"type":        TypeSendMessage,
		"ref":         "r1",
		"listing_id":  42,
		"receiver_id": 20,
		"content":     "great scam opportunity",
	})

	ack := readEvent(t, conn)
	require.Equal(t, TypeAck, ack["type"])
	assert.Equal(t, false, ack["success"])
	assert.Equal(t, CodeModerationRejected, ack["code"])

	// Nothing was uploaded, created or broadcast.
	env.store.AssertNotCalled(t, "Upload", mock.Anything, mock.Anything, mock.Anything)
	env.convRepo.AssertNotCalled(t, "FindOrCreate", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	env.msgRepo.AssertNotCalled(t, "CreateMessage",
		mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	env.publisher.AssertExpectations(t)
}

func TestSendMessageRequiresAuthentication(t *testing.T) {
	env := newHandlerEnv(t)

	conn := env.dial(t, "")
	sendJSON(t, conn, gin.H{
		"type":        TypeSendMessage,
		"ref":         "r1",
		"listing_id":  42,
		"receiver_id": 20,
		"content":     "hello",
	})

	ack := readEvent(t, conn)
	assert.Equal(t, false, ack["success"])
	assert.Equal(t, CodeUnauthenticated, ack["code"])
}

func TestInlineTokenRejectedKeepsConnectionOpen(t *testing.T) {
	env := newHandlerEnv(t)
	env.verifier.On("Verify", "bad").Return(0, auth.ErrInvalidToken)

	conn := env.dial(t, "bad")
	// Still alive and able to authenticate properly.
	roundtrip(t, conn)

	env.verifier.On("Verify", "good").Return(10, nil)
	sendJSON(t, conn, gin.H{"type": TypeAuthenticate, "token": "good"})
	roundtrip(t, conn)
}

func TestAuthenticateFailureClosesConnection(t *testing.T) {
	env := newHandlerEnv(t)
	env.verifier.On("Verify", "bad").Return(0, auth.ErrInvalidToken)

	conn := env.dial(t, "")
	sendJSON(t, conn, gin.H{"type": TypeAuthenticate, "token": "bad"})

	event := readEvent(t, conn)
	require.Equal(t, TypeError, event["type"])
	assert.Equal(t, CodeUnauthenticated, event["code"])

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
}

func TestSendMessageWithAttachment(t *testing.T) {
	env := newHandlerEnv(t)

	env.verifier.On("Verify", "token-a").Return(10, nil)

	conv := models.Conversation{ID: 5, ListingID: 42, SenderID: 10, ReceiverID: 20}
	stored := models.Message{ID: 2, ConversationID: 5, SenderID: 10, ReceiverID: 20, Content: "see attachment",
		Files: []string{"messages/raw/k1"}, FileTypes: []string{storage.KindDocument}}

	env.store.On("Upload", mock.Anything, []byte("hello"), "text/plain").
		Return(storage.Attachment{Key: "messages/raw/k1", StoredMime: "text/plain", Kind: storage.KindDocument}, nil).Once()
	env.convRepo.On("FindOrCreate", mock.Anything, 42, 10, 20).Return(conv, nil).Once()
	env.msgRepo.On("CreateMessage", mock.Anything, 5, 10, "see attachment",
		[]string{"messages/raw/k1"}, []string{storage.KindDocument}, mock.Anything).Return(stored, nil).Once()
	env.publisher.On("Publish", mock.Anything, RoutingKeyMessageCreated, mock.Anything).Return(nil).Once()

	conn := env.dial(t, "token-a")
	sendJSON(t, conn, gin.H{
		"type":        TypeSendMessage,
		"ref":         "r2",
		"listing_id":  42,
		"receiver_id": 20,
		"content":     "see attachment",
		"files": []gin.H{
			{"name": "a.txt", "mime_type": "text/plain", "data": []byte("hello")},
		},
	})

	ack := readEvent(t, conn)
	require.Equal(t, true, ack["success"])
	env.store.AssertExpectations(t)
	env.msgRepo.AssertExpectations(t)
}

func TestSendMessageUploadFailureCleansUp(t *testing.T) {
	env := newHandlerEnv(t)

	env.verifier.On("Verify", "token-a").Return(10, nil)

	env.store.On("Upload", mock.Anything, []byte("one"), "text/plain").
		Return(storage.Attachment{Key: "messages/raw/k1", Kind: storage.KindDocument}, nil).Once()
	env.store.On("Upload", mock.Anything, []byte("two"), "text/plain").
		Return(storage.Attachment{}, assert.AnError).Once()
	env.store.On("DeleteMany", mock.Anything, []string{"messages/raw/k1"}).
		Return(map[string]error{"messages/raw/k1": nil}).Once()

	conn := env.dial(t, "token-a")
	sendJSON(t, conn, gin.H{
		"type":        TypeSendMessage,
		"ref":         "r3",
		"listing_id":  42,
		"receiver_id": 20,
		"content":     "files",
		"files": []gin.H{
			{"name": "a.txt", "mime_type": "text/plain", "data": []byte("one")},
			{"name": "b.txt", "mime_type": "text/plain", "data": []byte("two")},
		},
	})

	ack := readEvent(t, conn)
	assert.Equal(t, false, ack["success"])
	assert.Equal(t, CodeStorageFailure, ack["code"])

	env.store.AssertExpectations(t)
	env.convRepo.AssertNotCalled(t, "FindOrCreate", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestJoinChecks(t *testing.T) {
	env := newHandlerEnv(t)
	env.verifier.On("Verify", "token-a").Return(10, nil)

	conn := env.dial(t, "token-a")

	// Unknown conversation.
	env.convRepo.On("Get", mock.Anything, 99).Return(models.Conversation{}, repositories.ErrConversationNotFound).Once()
	sendJSON(t, conn, gin.H{"type": TypeJoin, "conversation_id": 99})
	event := readEvent(t, conn)
	assert.Equal(t, CodeNotFound, event["code"])

	// Not a participant.
	env.convRepo.On("Get", mock.Anything, 5).
		Return(models.Conversation{ID: 5, SenderID: 20, ReceiverID: 30}, nil).Once()
	sendJSON(t, conn, gin.H{"type": TypeJoin, "conversation_id": 5})
	event = readEvent(t, conn)
	assert.Equal(t, CodeForbidden, event["code"])

	env.convRepo.AssertExpectations(t)
}

func TestSendMessageToExplicitConversation(t *testing.T) {
	env := newHandlerEnv(t)
	env.verifier.On("Verify", "token-a").Return(10, nil)

	conv := models.Conversation{ID: 5, ListingID: 42, SenderID: 20, ReceiverID: 10}
	stored := models.Message{ID: 3, ConversationID: 5, SenderID: 10, ReceiverID: 20, Content: "reply"}

	env.convRepo.On("Get", mock.Anything, 5).Return(conv, nil).Once()
	env.msgRepo.On("CreateMessage", mock.Anything, 5, 10, "reply", mock.Anything, mock.Anything, mock.Anything).
		Return(stored, nil).Once()
	env.publisher.On("Publish", mock.Anything, RoutingKeyMessageCreated, mock.Anything).Return(nil).Once()

	conn := env.dial(t, "token-a")
	sendJSON(t, conn, gin.H{
		"type":            TypeSendMessage,
		"ref":             "r4",
		"conversation_id": 5,
		"content":         "reply",
	})

	ack := readEvent(t, conn)
	require.Equal(t, true, ack["success"])
	assert.Equal(t, float64(5), ack["conversation_id"])

	// The directory is never asked to create anything on the direct path.
	env.convRepo.AssertNotCalled(t, "FindOrCreate", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	env.convRepo.AssertExpectations(t)
	env.msgRepo.AssertExpectations(t)
}

func TestSendMessageToForeignConversation(t *testing.T) {
	env := newHandlerEnv(t)
	env.verifier.On("Verify", "token-a").Return(10, nil)

	env.convRepo.On("Get", mock.Anything, 5).
		Return(models.Conversation{ID: 5, SenderID: 20, ReceiverID: 30}, nil).Once()

	conn := env.dial(t, "token-a")
	sendJSON(t, conn, gin.H{
		"type":            TypeSendMessage,
		"ref":             "r5",
		"conversation_id": 5,
		"content":         "intrusion",
	})

	ack := readEvent(t, conn)
	assert.Equal(t, false, ack["success"])
	assert.Equal(t, CodeForbidden, ack["code"])
	env.msgRepo.AssertNotCalled(t, "CreateMessage",
		mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestDropClientClearsAllRegistrations(t *testing.T) {
	env := newHandlerEnv(t)
	handler := NewHandler(env.hub, env.registry, env.verifier, env.convRepo, env.msgRepo, env.store, moderation.NewFilter(nil), env.publisher, nil)

	_, client := socketPair(t)
	client.userID = 20
	env.registry.Register(20, client)
	env.hub.Join(5, client)
	env.hub.Join(6, client)

	handler.dropClient(client)

	assert.Empty(t, env.registry.ConnectionsFor(20))
	env.hub.mu.RLock()
	defer env.hub.mu.RUnlock()
	assert.Empty(t, env.hub.rooms)
}

func TestBearerToken(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name   string
		header string
		query  string
		want   string
	}{
		{name: "bearer header wins", header: "Bearer htok", query: "qtok", want: "htok"},
		{name: "case-insensitive scheme", header: "bearer htok", want: "htok"},
		{name: "query only", query: "qtok", want: "qtok"},
		{name: "malformed header falls back to query", header: "Basic abc", query: "qtok", want: "qtok"},
		{name: "schemeless header falls back to query", header: "htok", query: "qtok", want: "qtok"},
		{name: "neither", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := gin.CreateTestContext(httptest.NewRecorder())
			target := "/ws"
			if tt.query != "" {
				target += "?token=" + tt.query
			}
			c.Request = httptest.NewRequest(http.MethodGet, target, nil)
			if tt.header != "" {
				c.Request.Header.Set("Authorization", tt.header)
			}
			assert.Equal(t, tt.want, bearerToken(c))
		})
	}
}

func TestUnsupportedOperation(t *testing.T) {
	env := newHandlerEnv(t)

	conn := env.dial(t, "")
	sendJSON(t, conn, gin.H{"type": "subscribe_presence"})

	event := readEvent(t, conn)
	require.Equal(t, TypeError, event["type"])
	assert.Equal(t, CodeUnsupportedType, event["code"])
}
