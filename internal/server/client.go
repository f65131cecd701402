package server

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"

	"github.com/chathub-io/chathub/internal/bus"
	"github.com/chathub-io/chathub/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 16 * 1024
	sendBufferSize = 256
)

// Client is one authenticated websocket session.
type Client struct {
	id       string
	server   *Server
	conn     *websocket.Conn
	identity Identity

	send chan []byte

	mu     sync.Mutex
	subs   map[string]bus.Subscription
	closed bool

	alive        atomic.Bool
	lastActivity atomic.Int64 // unix ms

	closeOnce sync.Once
}

func newClient(s *Server, conn *websocket.Conn, identity Identity) *Client {
	c := &Client{
		id:       ulid.Make().String(),
		server:   s,
		conn:     conn,
		identity: identity,
		send:     make(chan []byte, sendBufferSize),
		subs:     make(map[string]bus.Subscription),
	}
	c.alive.Store(true)
	c.touch()
	return c
}

func (c *Client) touch() {
	c.alive.Store(true)
	c.lastActivity.Store(time.Now().UnixMilli())
}

// readPump consumes inbound commands until the socket dies.
func (c *Client) readPump() {
	defer func() {
		c.server.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		c.touch()
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.server.logger.Debug().
					Str("conn_id", c.id).
					Err(err).
					Msg("websocket read error")
			}
			return
		}
		c.touch()
		c.server.handleCommand(c, raw)
	}
}

// writePump serializes all socket writes on one goroutine.
func (c *Client) writePump() {
	defer c.conn.Close()
	for {
		msg, ok := <-c.send
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if !ok {
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
		c.server.hub.Metrics().IncrementMessagesSent()
	}
}

// deliver queues an envelope for the client. A full buffer means the
// client is too slow; the envelope is dropped and counted rather than
// blocking the bus. The bus may complete an in-flight dispatch after
// Unsubscribe returns, so deliveries landing after teardown are dropped.
func (c *Client) deliver(env *protocol.Envelope) {
	data, err := env.Encode()
	if err != nil {
		c.server.hub.Metrics().IncrementEventsFailed()
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
		c.server.hub.Metrics().IncrementEventsDelivered()
	default:
		c.server.hub.Metrics().IncrementEventsFailed()
		c.server.hub.Metrics().RecordError("slow_client")
	}
}

// subscribe registers this connection on a room. Idempotent per room.
func (c *Client) subscribe(room string) error {
	c.mu.Lock()
	if _, ok := c.subs[room]; ok {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	sub, err := c.server.hub.Bus().Subscribe(context.Background(), room, c.deliver)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if _, ok := c.subs[room]; ok {
		// Lost the race with a concurrent subscribe for the same room.
		c.mu.Unlock()
		sub.Unsubscribe()
		return nil
	}
	c.subs[room] = sub
	c.mu.Unlock()

	c.server.hub.Metrics().AddSubscriptions(1)
	return nil
}

func (c *Client) unsubscribe(room string) {
	c.mu.Lock()
	sub, ok := c.subs[room]
	if ok {
		delete(c.subs, room)
	}
	c.mu.Unlock()
	if ok {
		sub.Unsubscribe()
		c.server.hub.Metrics().AddSubscriptions(-1)
	}
}

// rooms lists the connection's current subscriptions.
func (c *Client) rooms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.subs))
	for room := range c.subs {
		out = append(out, room)
	}
	return out
}

// ping sends a websocket-level ping for liveness checking. WriteControl
// is safe to call concurrently with the write pump and carries its own
// deadline.
func (c *Client) ping() {
	_ = c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// teardown releases every subscription. Called exactly once from
// unregister.
func (c *Client) teardown() {
	c.mu.Lock()
	subs := c.subs
	c.subs = make(map[string]bus.Subscription)
	c.mu.Unlock()

	for _, sub := range subs {
		sub.Unsubscribe()
	}
	if n := len(subs); n > 0 {
		c.server.hub.Metrics().AddSubscriptions(-n)
	}

	// closed is flipped and send closed under the lock deliver takes, so a
	// late in-flight delivery can never hit the closed channel.
	c.mu.Lock()
	c.closed = true
	c.closeOnce.Do(func() { close(c.send) })
	c.mu.Unlock()
}

// close forcibly terminates the connection; readPump's exit performs the
// cleanup.
func (c *Client) close() {
	c.conn.Close()
}
