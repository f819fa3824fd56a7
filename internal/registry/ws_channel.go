package registry

import (
	"sync"

	"github.com/gorilla/websocket"
)

// WSChannel adapts a websocket connection to the Channel interface.
// gorilla/websocket allows one concurrent writer, so writes serialize on a
// per-connection mutex.
type WSChannel struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func NewWSChannel(conn *websocket.Conn) *WSChannel {
	return &WSChannel{conn: conn}
}

func (c *WSChannel) Send(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

func (c *WSChannel) Close() error {
	return c.conn.Close()
}
