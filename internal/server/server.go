// Package server accepts persistent client connections, authenticates
// them and bridges their commands to the hub.
package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/chathub-io/chathub/internal/hub"
	"github.com/chathub-io/chathub/internal/protocol"
	"github.com/chathub-io/chathub/internal/ratelimit"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Browser origins are enforced upstream by the CORS layer; the hub
	// authenticates every connection itself.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server owns every live connection of this process.
type Server struct {
	hub      *hub.Hub
	verifier TokenVerifier
	limiter  *ratelimit.Limiter
	logger   zerolog.Logger

	mu      sync.Mutex
	clients map[*Client]struct{}
	seen    map[string]struct{} // user ids that have connected before

	heartbeat time.Duration
	done      chan struct{}
	once      sync.Once
}

// New creates a connection server and starts its heartbeat loop.
func New(h *hub.Hub, verifier TokenVerifier, limiter *ratelimit.Limiter, logger zerolog.Logger) *Server {
	s := &Server{
		hub:       h,
		verifier:  verifier,
		limiter:   limiter,
		logger:    logger.With().Str("component", "server").Logger(),
		clients:   make(map[*Client]struct{}),
		seen:      make(map[string]struct{}),
		heartbeat: h.Config().HeartbeatInterval,
		done:      make(chan struct{}),
	}
	if s.heartbeat <= 0 {
		s.heartbeat = 20 * time.Second
	}
	go s.heartbeatLoop()
	return s
}

// HandleWS upgrades an authenticated request to a websocket connection.
// A failed handshake is refused before the connection ever becomes
// active.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	identity, err := s.verifier.Verify(r.Context(), bearerToken(r))
	if err != nil {
		s.hub.Metrics().IncrementConnectionFailures()
		s.logger.Warn().Str("remote", r.RemoteAddr).Msg("websocket handshake rejected")
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.hub.Metrics().IncrementConnectionFailures()
		s.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := newClient(s, conn, *identity)
	s.register(client)

	go client.writePump()
	go client.readPump()
}

func (s *Server) register(c *Client) {
	s.mu.Lock()
	s.clients[c] = struct{}{}
	total := len(s.clients)
	_, returning := s.seen[c.identity.ID]
	s.seen[c.identity.ID] = struct{}{}
	s.mu.Unlock()

	s.hub.Metrics().IncrementConnections()
	if returning {
		s.hub.Metrics().IncrementReconnections()
	}

	// Every connection observes events addressed to its own user.
	if err := c.subscribe(protocol.UserRoom(c.identity.ID)); err != nil {
		s.logger.Error().Err(err).Str("user_id", c.identity.ID).Msg("self-room subscribe failed")
	}

	s.logger.Info().
		Str("conn_id", c.id).
		Str("user_id", c.identity.ID).
		Int("active", total).
		Msg("connection active")
}

func (s *Server) unregister(c *Client) {
	s.mu.Lock()
	_, ok := s.clients[c]
	if ok {
		delete(s.clients, c)
	}
	total := len(s.clients)
	s.mu.Unlock()
	if !ok {
		return
	}

	c.teardown()
	s.hub.Metrics().DecrementConnections()
	s.logger.Info().
		Str("conn_id", c.id).
		Str("user_id", c.identity.ID).
		Int("active", total).
		Msg("connection closed")
}

// heartbeatLoop liveness-checks connections. A connection with no
// activity since the previous cycle is marked provisionally dead and
// pinged; one that stays silent through a full further cycle is forcibly
// terminated, releasing all of its subscriptions.
func (s *Server) heartbeatLoop() {
	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.sweepConnections()
		}
	}
}

func (s *Server) sweepConnections() {
	s.mu.Lock()
	clients := make([]*Client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		if c.alive.Swap(false) {
			c.ping()
			continue
		}
		s.logger.Warn().
			Str("conn_id", c.id).
			Str("user_id", c.identity.ID).
			Msg("heartbeat timeout, terminating connection")
		c.close()
	}
}

// Close terminates every connection and stops the heartbeat.
func (s *Server) Close() {
	s.once.Do(func() { close(s.done) })

	s.mu.Lock()
	clients := make([]*Client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}
