package ws

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"marketplace-chat/internal/auth"
	"marketplace-chat/internal/models"
	"marketplace-chat/internal/moderation"
	"marketplace-chat/internal/observability"
	"marketplace-chat/internal/rabbitmq"
	"marketplace-chat/internal/repositories"
	"marketplace-chat/internal/storage"
	"marketplace-chat/internal/telemetry"
)

const (
	opTimeout = 15 * time.Second

	// RoutingKeyMessageCreated feeds the notification pipeline.
	RoutingKeyMessageCreated = "chat.message.created"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler owns the realtime connection lifecycle: authentication, group
// membership and routing of inbound operations to the directory and ledger.
type Handler struct {
	hub           *Hub
	registry      *Registry
	verifier      auth.TokenVerifier
	conversations repositories.ConversationRepository
	messages      repositories.MessageRepository
	store         storage.Store
	filter        *moderation.Filter
	publisher     rabbitmq.Publisher
	audit         *telemetry.AuditEmitter
}

// NewHandler constructs the websocket handler.
func NewHandler(
	hub *Hub,
	registry *Registry,
	verifier auth.TokenVerifier,
	conversations repositories.ConversationRepository,
	messages repositories.MessageRepository,
	store storage.Store,
	filter *moderation.Filter,
	publisher rabbitmq.Publisher,
	audit *telemetry.AuditEmitter,
) *Handler {
	return &Handler{
		hub:           hub,
		registry:      registry,
		verifier:      verifier,
		conversations: conversations,
		messages:      messages,
		store:         store,
		filter:        filter,
		publisher:     publisher,
		audit:         audit,
	}
}

// Handle upgrades the connection and starts its read loop. A bearer token
// presented inline (query or Authorization header) is verified
// opportunistically; on failure the connection stays open, unauthenticated,
// and may still issue an explicit authenticate operation.
func (h *Handler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("marketplace-chat/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	token := bearerToken(c)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	client := newClient(conn, observability.IPFromRequest(c.Request))
	observability.IncWSActive()

	if token != "" {
		if userID, err := h.verifier.Verify(token); err == nil {
			client.userID = userID
			h.registry.Register(userID, client)
		} else {
			log.Printf("inline token rejected conn=%s: %v", client.connID, err)
		}
	}

	go h.readLoop(client)
}

// bearerToken prefers a well-formed Authorization header; anything else falls
// back to the token query parameter.
func bearerToken(c *gin.Context) string {
	if header := c.GetHeader("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return parts[1]
		}
	}
	return c.Query("token")
}

// dropClient tears down every registration a connection holds. Used both on
// disconnect and when a server-side write fails mid-fanout; all steps are
// idempotent so the paths may overlap.
func (h *Handler) dropClient(client *Client) {
	client.Close()
	if client.authenticated() {
		h.registry.Unregister(client.userID, client)
	}
	h.hub.RemoveClient(client)
}

func (h *Handler) readLoop(client *Client) {
	defer func() {
		h.dropClient(client)
		observability.DecWSActive()
	}()

	for {
		_, data, err := client.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("websocket read error conn=%s: %v", client.connID, err)
			}
			return
		}

		msgType, msg, err := ParseClientMessage(data)
		if err != nil {
			h.sendError(client, CodeBadRequest, "invalid message format")
			continue
		}

		switch m := msg.(type) {
		case *AuthenticateMsg:
			if !h.handleAuthenticate(client, m) {
				return
			}
		case *JoinMsg:
			h.handleJoin(client, m)
		case *SendMessageMsg:
			h.handleSendMessage(client, m)
		case *MarkReadMsg:
			h.handleMarkRead(client, m)
		default:
			if msgType == TypePing {
				_ = client.Send(PongEvent{Type: TypePong})
				continue
			}
			h.sendError(client, CodeUnsupportedType, "unsupported message type")
		}
	}
}

// handleAuthenticate verifies the token. Success records the identity in the
// registry; failure terminates the connection. Returns false when the read
// loop should stop.
func (h *Handler) handleAuthenticate(client *Client, msg *AuthenticateMsg) bool {
	userID, err := h.verifier.Verify(msg.Token)
	if err != nil {
		log.Printf("authenticate failed conn=%s: %v", client.connID, err)
		h.sendError(client, CodeUnauthenticated, "invalid credentials")
		return false
	}

	if client.authenticated() && client.userID != userID {
		h.registry.Unregister(client.userID, client)
	}
	client.userID = userID
	h.registry.Register(userID, client)
	return true
}

func (h *Handler) handleJoin(client *Client, msg *JoinMsg) {
	if !client.authenticated() {
		h.sendError(client, CodeUnauthenticated, "authentication required")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	conv, err := h.conversations.Get(ctx, msg.ConversationID)
	if errors.Is(err, repositories.ErrConversationNotFound) {
		h.sendError(client, CodeNotFound, "conversation not found")
		return
	}
	if err != nil {
		h.sendError(client, CodePersistenceFailure, "could not load conversation")
		return
	}
	if !conv.IsParticipant(client.userID) {
		h.sendError(client, CodeForbidden, "not a conversation participant")
		return
	}

	h.hub.Join(msg.ConversationID, client)
}

// handleSendMessage runs the full send pipeline. Every outcome is reported to
// the caller through an ack carrying the client's ref.
func (h *Handler) handleSendMessage(client *Client, msg *SendMessageMsg) {
	if !client.authenticated() {
		h.ackError(client, msg.Ref, CodeUnauthenticated, "authentication required")
		return
	}
	if strings.TrimSpace(msg.Content) == "" {
		h.ackError(client, msg.Ref, CodeBadRequest, "message content is empty")
		return
	}
	if msg.ConversationID == 0 && (msg.ReceiverID == 0 || msg.ListingID == 0) {
		h.ackError(client, msg.Ref, CodeBadRequest, "conversation_id or listing_id and receiver_id are required")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	// Moderation is a hard gate: nothing is uploaded, persisted or broadcast
	// for flagged content, and no conversation is created.
	if res := h.filter.Check(msg.Content); res.Flagged {
		observability.IncModerationRejected()
		h.audit.Emit(ctx, client.userID, telemetry.AuditPayload{
			Action: "moderation_rejected",
			Terms:  res.Terms,
		})
		h.ackError(client, msg.Ref, CodeModerationRejected, "message rejected by content moderation")
		return
	}

	keys, kinds, err := h.uploadAttachments(ctx, msg.Files)
	if err != nil {
		h.ackError(client, msg.Ref, CodeStorageFailure, err.Error())
		return
	}

	conversationID, ackCode, err := h.resolveConversation(ctx, client.userID, msg)
	if err != nil {
		h.cleanupKeys(ctx, keys)
		h.ackError(client, msg.Ref, ackCode, err.Error())
		return
	}

	persisted, err := h.messages.CreateMessage(ctx, conversationID, client.userID, msg.Content, keys, kinds, client.ip)
	if err != nil {
		h.cleanupKeys(ctx, keys)
		code := CodePersistenceFailure
		if errors.Is(err, repositories.ErrConversationNotFound) {
			code = CodeNotFound
		}
		h.ackError(client, msg.Ref, code, "could not store message")
		return
	}
	observability.IncMessageSent()

	// The message is durable from here on: fan-out failures are logged, never
	// rolled back.
	h.hub.BroadcastNewMessage(conversationID, persisted)
	h.notifyReceiver(persisted)

	if err := h.publisher.Publish(ctx, RoutingKeyMessageCreated, NewMessageEvent{
		Type:    TypeNewMessage,
		Message: persisted,
	}); err != nil {
		log.Printf("message event publish failed message=%d: %v", persisted.ID, err)
	}

	_ = client.Send(AckEvent{
		Type:           TypeAck,
		Ref:            msg.Ref,
		Success:        true,
		ConversationID: conversationID,
		Message:        &persisted,
	})
}

// resolveConversation returns the target conversation id for a send. An
// explicit conversation_id is honored after a membership check; otherwise the
// directory finds or creates the pair's conversation for the listing.
func (h *Handler) resolveConversation(ctx context.Context, userID int, msg *SendMessageMsg) (int, string, error) {
	if msg.ConversationID != 0 {
		conv, err := h.conversations.Get(ctx, msg.ConversationID)
		if errors.Is(err, repositories.ErrConversationNotFound) {
			return 0, CodeNotFound, errors.New("conversation not found")
		}
		if err != nil {
			return 0, CodePersistenceFailure, errors.New("could not load conversation")
		}
		if !conv.IsParticipant(userID) {
			return 0, CodeForbidden, errors.New("not a conversation participant")
		}
		return conv.ID, "", nil
	}

	conv, err := h.conversations.FindOrCreate(ctx, msg.ListingID, userID, msg.ReceiverID)
	if err != nil {
		return 0, CodePersistenceFailure, errors.New("could not resolve conversation")
	}
	return conv.ID, "", nil
}

// uploadAttachments validates and stores every buffer. A single failure aborts
// the send; already-uploaded keys are cleaned up best-effort.
func (h *Handler) uploadAttachments(ctx context.Context, files []FileUpload) ([]string, []string, error) {
	if len(files) == 0 {
		return nil, nil, nil
	}

	keys := make([]string, 0, len(files))
	kinds := make([]string, 0, len(files))
	for _, f := range files {
		att, err := h.store.Upload(ctx, f.Data, f.MimeType)
		observability.IncAttachmentOp("upload", err)
		if err != nil {
			h.cleanupKeys(ctx, keys)
			return nil, nil, err
		}
		keys = append(keys, att.Key)
		kinds = append(kinds, att.Kind)
	}
	return keys, kinds, nil
}

func (h *Handler) cleanupKeys(ctx context.Context, keys []string) {
	if len(keys) == 0 {
		return
	}
	for key, err := range h.store.DeleteMany(ctx, keys) {
		observability.IncAttachmentOp("delete", err)
		if err != nil {
			log.Printf("attachment cleanup failed key=%s: %v", key, err)
		}
	}
}

// notifyReceiver pushes a targeted notification to every live connection of
// the receiver, covering sessions not joined to the conversation group.
func (h *Handler) notifyReceiver(msg models.Message) {
	event := MessageNotificationEvent{
		Type:           TypeMessageNotification,
		ConversationID: msg.ConversationID,
		Message:        msg,
	}
	for _, conn := range h.registry.ConnectionsFor(msg.ReceiverID) {
		if err := conn.Send(event); err != nil {
			log.Printf("notification write failed conn=%s: %v", conn.connID, err)
			h.dropClient(conn)
		}
	}
	observability.IncWSEvent(TypeMessageNotification)
}

func (h *Handler) handleMarkRead(client *Client, msg *MarkReadMsg) {
	if !client.authenticated() {
		h.sendError(client, CodeUnauthenticated, "authentication required")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	updated, err := h.messages.MarkConversationRead(ctx, msg.ConversationID, client.userID)
	switch {
	case errors.Is(err, repositories.ErrConversationNotFound):
		h.sendError(client, CodeNotFound, "conversation not found")
		return
	case errors.Is(err, repositories.ErrNotConversationReceiver):
		h.sendError(client, CodeForbidden, "only the conversation receiver may mark it read")
		return
	case err != nil:
		log.Printf("mark read failed conversation=%d user=%d: %v", msg.ConversationID, client.userID, err)
		h.sendError(client, CodePersistenceFailure, "could not mark conversation read")
		return
	}

	// Re-marking an already-read conversation flips no rows and triggers no
	// broadcast.
	if updated > 0 {
		h.hub.BroadcastRead(msg.ConversationID)
	}
}

func (h *Handler) sendError(client *Client, code, message string) {
	if err := client.Send(ErrorEvent{Type: TypeError, Code: code, Message: message}); err != nil {
		log.Printf("websocket write error conn=%s: %v", client.connID, err)
	}
}

func (h *Handler) ackError(client *Client, ref, code, message string) {
	if err := client.Send(AckEvent{Type: TypeAck, Ref: ref, Success: false, Code: code, Error: message}); err != nil {
		log.Printf("websocket write error conn=%s: %v", client.connID, err)
	}
}
