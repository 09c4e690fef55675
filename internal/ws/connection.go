package ws

import (
	"log"

	"github.com/gorilla/websocket"
)

// Connection is one websocket attached to a hub. Binary messages
// carry raw protocol frames in both directions.
type Connection struct {
	id   string
	conn *websocket.Conn
	hub  *Hub
	send chan []byte
}

func NewConnection(conn *websocket.Conn, hub *Hub, id string) *Connection {
	return &Connection{
		id:   id,
		conn: conn,
		hub:  hub,
		send: make(chan []byte, connSendBufferSize),
	}
}

func (c *Connection) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		if err := c.conn.Close(); err != nil {
			log.Printf("[WS] Connection %s close error: %v", c.id, err)
		}
	}()

	for {
		kind, data, err := c.conn.ReadMessage()
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
			log.Printf("[WS] Connection %s unexpected close: %v", c.id, err)
			break
		}
		if err != nil {
			break
		}
		if kind != websocket.BinaryMessage {
			log.Printf("[WS] Connection %s sent non-binary message, ignoring", c.id)
			continue
		}
		c.hub.Deliver(c, data)
	}
}

func (c *Connection) WritePump() {
	defer func() {
		if err := c.conn.Close(); err != nil {
			log.Printf("[WS] Connection %s close error: %v", c.id, err)
		}
	}()

	for frames := range c.send {
		if err := c.conn.WriteMessage(websocket.BinaryMessage, frames); err != nil {
			log.Printf("[WS] Connection %s write error: %v", c.id, err)
			return
		}
	}
	if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
		log.Printf("[WS] Failed to close websocket: %v", err)
	}
}

func (c *Connection) CloseSend() {
	close(c.send)
}
