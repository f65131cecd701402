// Package chathub is a Go client for the chathub websocket protocol.
package chathub

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"
)

// Envelope mirrors the server's wire format.
type Envelope struct {
	V    int             `json:"v"`
	ID   string          `json:"id"`
	TS   int64           `json:"ts"`
	Type string          `json:"type"`
	Room string          `json:"room,omitempty"`
	Seq  int64           `json:"seq,omitempty"`
	Data json.RawMessage `json:"data"`
}

type command struct {
	Op     string   `json:"op"`
	Rooms  []string `json:"rooms,omitempty"`
	ChatID string   `json:"chatId,omitempty"`
	Action string   `json:"action,omitempty"`
	Seq    int64    `json:"seq,omitempty"`
	Kind   string   `json:"kind,omitempty"`
	TS     int64    `json:"ts,omitempty"`
}

// Client is one hub connection.
type Client struct {
	conn *websocket.Conn

	mu     sync.Mutex // guards writes
	events chan Envelope
	done   chan struct{}
	once   sync.Once
}

// Dial connects and authenticates against a hub at baseURL (http or https
// scheme; the path is appended).
func Dial(ctx context.Context, baseURL, token string) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = "/ws"

	header := http.Header{"Authorization": []string{"Bearer " + token}}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("dial: unauthorized")
		}
		return nil, fmt.Errorf("dial: %w", err)
	}

	c := &Client{
		conn:   conn,
		events: make(chan Envelope, 64),
		done:   make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *Client) readLoop() {
	defer close(c.events)
	for {
		var env Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			return
		}
		select {
		case c.events <- env:
		case <-c.done:
			return
		}
	}
}

// Events returns the stream of envelopes pushed by the hub. The channel
// closes when the connection dies.
func (c *Client) Events() <-chan Envelope {
	return c.events
}

func (c *Client) send(cmd command) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(cmd)
}

// Subscribe requests subscriptions to the given rooms. Denials arrive as
// error envelopes on Events.
func (c *Client) Subscribe(rooms ...string) error {
	return c.send(command{Op: "subscribe", Rooms: rooms})
}

// Unsubscribe drops subscriptions to the given rooms.
func (c *Client) Unsubscribe(rooms ...string) error {
	return c.send(command{Op: "unsubscribe", Rooms: rooms})
}

// Typing reports the user started or stopped composing in a chat.
func (c *Client) Typing(chatID string, start bool) error {
	action := "stop"
	if start {
		action = "start"
	}
	return c.send(command{Op: "typing", ChatID: chatID, Action: action})
}

// AckDelivered advances the delivery watermark for a chat.
func (c *Client) AckDelivered(chatID string, seq int64) error {
	return c.send(command{Op: "ack", ChatID: chatID, Seq: seq, Kind: "delivered"})
}

// AckRead advances the read watermark for a chat.
func (c *Client) AckRead(chatID string, seq int64) error {
	return c.send(command{Op: "ack", ChatID: chatID, Seq: seq, Kind: "read"})
}

// Ping requests an application-level pong.
func (c *Client) Ping(ts int64) error {
	return c.send(command{Op: "ping", TS: ts})
}

// Close tears down the connection.
func (c *Client) Close() error {
	c.once.Do(func() { close(c.done) })
	return c.conn.Close()
}
