package server

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/chathub-io/chathub/internal/protocol"
)

const sseKeepalive = 15 * time.Second

// HandleSSE is the server-push-only transport for clients that cannot
// hold a bidirectional socket. Rooms are requested at connect time via
// the "rooms" query parameter; each room is authorized individually and
// a denial does not abort the rest.
func (s *Server) HandleSSE(w http.ResponseWriter, r *http.Request) {
	identity, err := s.verifier.Verify(r.Context(), bearerToken(r))
	if err != nil {
		s.hub.Metrics().IncrementConnectionFailures()
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, `{"error":"streaming unsupported"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	events := make(chan *protocol.Envelope, sendBufferSize)
	deliver := func(env *protocol.Envelope) {
		select {
		case events <- env:
			s.hub.Metrics().IncrementEventsDelivered()
		default:
			s.hub.Metrics().IncrementEventsFailed()
			s.hub.Metrics().RecordError("slow_client")
		}
	}

	requested := []string{protocol.UserRoom(identity.ID)}
	if raw := r.URL.Query().Get("rooms"); raw != "" {
		for _, room := range strings.Split(raw, ",") {
			if room = strings.TrimSpace(room); room != "" {
				requested = append(requested, room)
			}
		}
	}

	var subs []func()
	defer func() {
		for _, unsub := range subs {
			unsub()
		}
		s.hub.Metrics().AddSubscriptions(-len(subs))
		s.hub.Metrics().DecrementConnections()
	}()

	seen := make(map[string]bool)
	for _, room := range requested {
		if seen[room] {
			continue
		}
		seen[room] = true
		if _, err := protocol.ParseRoom(room); err != nil {
			deliver(protocol.NewError(protocol.CodeBadRequest, "invalid room: "+room))
			continue
		}
		if room != protocol.UserRoom(identity.ID) &&
			!s.hub.Access().CanSubscribe(r.Context(), identity.ID, identity.Role, room) {
			s.hub.Metrics().RecordError("authorization")
			deliver(protocol.NewError(protocol.CodeForbidden, "subscribe denied for "+room))
			continue
		}
		sub, err := s.hub.Bus().Subscribe(r.Context(), room, deliver)
		if err != nil {
			s.hub.Metrics().RecordError("transport")
			deliver(protocol.NewError(protocol.CodeInternal, "subscribe failed for "+room))
			continue
		}
		subs = append(subs, sub.Unsubscribe)
	}
	s.hub.Metrics().IncrementConnections()
	s.hub.Metrics().AddSubscriptions(len(subs))

	s.logger.Info().
		Str("user_id", identity.ID).
		Int("rooms", len(subs)).
		Msg("sse stream active")

	keepalive := time.NewTicker(sseKeepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-s.done:
			return
		case env := <-events:
			data, err := env.Encode()
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", env.Type, data)
			flusher.Flush()
			s.hub.Metrics().IncrementMessagesSent()
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}
