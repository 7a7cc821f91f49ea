package signal

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var ErrBackpressure = errors.New("backpressure")

// Conn is the relay's view of one attached link. The registry fans
// envelopes out through it and never blocks on a slow receiver.
type Conn interface {
	ID() string
	TrySend(msg *Message) error
	Close()
}

type wsConn struct {
	id   string
	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	closed bool
}

func newWSConn(id string, conn *websocket.Conn, sendBuf int) *wsConn {
	return &wsConn{
		id:   id,
		conn: conn,
		send: make(chan []byte, sendBuf),
	}
}

func (c *wsConn) ID() string { return c.id }

func (c *wsConn) TrySend(msg *Message) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- b:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *wsConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	if err := c.conn.Close(); err != nil {
		log.Debug().Err(err).Str("module", "signal").Str("id", c.id).Msg("ws close")
	}
	c.mu.Unlock()
}
