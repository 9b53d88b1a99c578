package ws

import (
	"log"
	"sync"

	"marketplace-chat/internal/models"
	"marketplace-chat/internal/observability"
)

// Hub maintains the broadcast groups: the sets of connections currently
// joined to each conversation.
type Hub struct {
	mu    sync.RWMutex
	rooms map[int]map[*Client]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{rooms: make(map[int]map[*Client]struct{})}
}

// Join adds a connection to a conversation's group. Idempotent; a connection
// may be joined to several groups at once.
func (h *Hub) Join(conversationID int, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.rooms[conversationID]; !ok {
		h.rooms[conversationID] = make(map[*Client]struct{})
	}
	h.rooms[conversationID][c] = struct{}{}
}

// Leave removes a connection from one group.
func (h *Hub) Leave(conversationID int, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if room, ok := h.rooms[conversationID]; ok {
		delete(room, c)
		if len(room) == 0 {
			delete(h.rooms, conversationID)
		}
	}
}

// RemoveClient drops the connection from every group it joined.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conversationID, room := range h.rooms {
		delete(room, c)
		if len(room) == 0 {
			delete(h.rooms, conversationID)
		}
	}
}

// BroadcastNewMessage fans a persisted message out to the conversation group.
func (h *Hub) BroadcastNewMessage(conversationID int, msg models.Message) {
	h.broadcast(conversationID, NewMessageEvent{Type: TypeNewMessage, Message: msg})
	observability.IncWSEvent(TypeNewMessage)
}

// BroadcastRead notifies the group that the conversation was marked read.
func (h *Hub) BroadcastRead(conversationID int) {
	h.broadcast(conversationID, MessageReadEvent{Type: TypeMessageRead, ConversationID: conversationID})
	observability.IncWSEvent(TypeMessageRead)
}

// BroadcastDeletion notifies the group that a message was removed.
func (h *Hub) BroadcastDeletion(event models.MessageDeleteEvent) {
	h.broadcast(event.ConversationID, MessageDeletedEvent{
		Type:           TypeMessageDeleted,
		ConversationID: event.ConversationID,
		MessageID:      event.MessageID,
	})
	observability.IncWSEvent(TypeMessageDeleted)
}

func (h *Hub) broadcast(conversationID int, event interface{}) {
	h.mu.RLock()
	room := h.rooms[conversationID]
	clients := make([]*Client, 0, len(room))
	for c := range room {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if err := c.Send(event); err != nil {
			log.Printf("websocket write error conn=%s: %v", c.connID, err)
			c.Close()
			h.Leave(conversationID, c)
		}
	}
}
