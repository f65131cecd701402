package server

import (
	"context"
	"time"

	"github.com/chathub-io/chathub/internal/protocol"
	"github.com/chathub-io/chathub/internal/ratelimit"
)

// commandClass maps an op to its rate-limit operation class.
func commandClass(op protocol.Op) ratelimit.Class {
	switch op {
	case protocol.OpTyping:
		return ratelimit.ClassTyping
	case protocol.OpAck:
		return ratelimit.ClassAck
	case protocol.OpSubscribe:
		return ratelimit.ClassSubscribe
	default:
		return ratelimit.ClassCommand
	}
}

// handleCommand validates, throttles, authorizes and applies one inbound
// client command. All failures are surfaced to the originating connection
// as error envelopes; none of them terminate the connection.
func (s *Server) handleCommand(c *Client, raw []byte) {
	start := time.Now()
	defer func() { s.hub.Metrics().RecordLatency(time.Since(start)) }()
	s.hub.Metrics().IncrementMessagesReceived()

	cmd, err := protocol.ParseCommand(raw)
	if err != nil {
		s.hub.Metrics().RecordError("protocol")
		c.deliver(protocol.NewError(protocol.CodeBadRequest, err.Error()))
		return
	}

	// Liveness probes bypass rate limiting and access control entirely.
	if cmd.Op == protocol.OpPing {
		pong, _ := protocol.New(protocol.EventPong, nil)
		c.deliver(pong)
		return
	}

	class := commandClass(cmd.Op)
	if !s.limiter.Allow(c.identity.ID, class) {
		s.hub.Metrics().RecordError("rate_limit")
		c.deliver(protocol.NewError(protocol.CodeRateLimited, s.limiter.RetryAfter(c.identity.ID, class)))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	switch cmd.Op {
	case protocol.OpSubscribe:
		s.handleSubscribe(ctx, c, cmd.Rooms)
	case protocol.OpUnsubscribe:
		s.handleUnsubscribe(c, cmd.Rooms)
	case protocol.OpTyping:
		s.handleTyping(ctx, c, cmd)
	case protocol.OpAck:
		s.handleAck(ctx, c, cmd)
	}
}

// handleSubscribe processes a batch room by room. A rejected room is
// reported individually and does not abort its siblings; rooms accepted
// before any denial stay subscribed.
func (s *Server) handleSubscribe(ctx context.Context, c *Client, rooms []string) {
	for _, room := range rooms {
		if _, err := protocol.ParseRoom(room); err != nil {
			s.hub.Metrics().RecordError("protocol")
			c.deliver(protocol.NewError(protocol.CodeBadRequest, "invalid room: "+room))
			continue
		}
		if !s.hub.Access().CanSubscribe(ctx, c.identity.ID, c.identity.Role, room) {
			s.hub.Metrics().RecordError("authorization")
			c.deliver(protocol.NewError(protocol.CodeForbidden, "subscribe denied for "+room))
			continue
		}
		if err := c.subscribe(room); err != nil {
			s.hub.Metrics().RecordError("transport")
			s.logger.Error().Err(err).Str("room", room).Msg("subscribe failed")
			c.deliver(protocol.NewError(protocol.CodeInternal, "subscribe failed for "+room))
		}
	}
}

func (s *Server) handleUnsubscribe(c *Client, rooms []string) {
	own := protocol.UserRoom(c.identity.ID)
	for _, room := range rooms {
		// The connection's own user room lives as long as the connection.
		if room == own {
			continue
		}
		c.unsubscribe(room)
	}
}

func (s *Server) handleTyping(ctx context.Context, c *Client, cmd *protocol.Command) {
	room := protocol.ChatRoom(cmd.ChatID)
	if !s.hub.Access().CanPublish(ctx, c.identity.ID, c.identity.Role, room) {
		s.hub.Metrics().RecordError("authorization")
		c.deliver(protocol.NewError(protocol.CodeForbidden, "typing denied for "+room))
		return
	}

	var err error
	start := cmd.Action == protocol.ActionStart
	if start {
		err = s.hub.Presence().StartTyping(ctx, cmd.ChatID, c.identity.ID)
	} else {
		err = s.hub.Presence().StopTyping(ctx, cmd.ChatID, c.identity.ID)
	}
	if err != nil {
		s.hub.Metrics().RecordError("transport")
		s.logger.Error().Err(err).Str("chat_id", cmd.ChatID).Msg("typing state update failed")
		c.deliver(protocol.NewError(protocol.CodeInternal, "typing update failed"))
		return
	}

	if err := s.hub.TypingChanged(ctx, cmd.ChatID, c.identity.ID, start); err != nil {
		s.logger.Error().Err(err).Str("chat_id", cmd.ChatID).Msg("typing publish failed")
		c.deliver(protocol.NewError(protocol.CodeInternal, "typing publish failed"))
	}
}

func (s *Server) handleAck(ctx context.Context, c *Client, cmd *protocol.Command) {
	room := protocol.ChatRoom(cmd.ChatID)
	if !s.hub.Access().CanPublish(ctx, c.identity.ID, c.identity.Role, room) {
		s.hub.Metrics().RecordError("authorization")
		c.deliver(protocol.NewError(protocol.CodeForbidden, "ack denied for "+room))
		return
	}

	var err error
	read := cmd.Kind == protocol.KindRead
	if read {
		err = s.hub.Receipts().RecordRead(ctx, cmd.ChatID, c.identity.ID, cmd.Seq)
	} else {
		err = s.hub.Receipts().RecordDelivery(ctx, cmd.ChatID, c.identity.ID, cmd.Seq)
	}
	if err != nil {
		s.hub.Metrics().RecordError("transport")
		s.logger.Error().Err(err).Str("chat_id", cmd.ChatID).Msg("receipt update failed")
		c.deliver(protocol.NewError(protocol.CodeInternal, "ack failed"))
		return
	}

	if err := s.hub.ReceiptRecorded(ctx, cmd.ChatID, c.identity.ID, cmd.Seq, read); err != nil {
		s.logger.Error().Err(err).Str("chat_id", cmd.ChatID).Msg("receipt publish failed")
		c.deliver(protocol.NewError(protocol.CodeInternal, "receipt publish failed"))
	}
}
