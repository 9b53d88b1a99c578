package ws

import (
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Client wraps one websocket connection. userID is zero until the connection
// authenticates; it is only written by the connection's own read loop.
type Client struct {
	conn   *websocket.Conn
	connID string
	ip     string
	userID int

	writeMu sync.Mutex
}

func newClient(conn *websocket.Conn, ip string) *Client {
	return &Client{
		conn:   conn,
		connID: uuid.NewString(),
		ip:     ip,
	}
}

func (c *Client) authenticated() bool {
	return c.userID != 0
}

// Send serializes concurrent writers: broadcasts from other connections'
// handlers and this connection's own responses share the socket.
func (c *Client) Send(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(v)
}

func (c *Client) Close() error {
	return c.conn.Close()
}
