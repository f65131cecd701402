package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/chathub-io/chathub/internal/access"
	"github.com/chathub-io/chathub/internal/bus"
	"github.com/chathub-io/chathub/internal/config"
	"github.com/chathub-io/chathub/internal/hub"
	"github.com/chathub-io/chathub/internal/metrics"
	"github.com/chathub-io/chathub/internal/presence"
	"github.com/chathub-io/chathub/internal/protocol"
	"github.com/chathub-io/chathub/internal/ratelimit"
	"github.com/chathub-io/chathub/internal/receipts"
	"github.com/chathub-io/chathub/internal/server"
)

func newTestStack(t *testing.T) (*httptest.Server, *hub.Hub) {
	t.Helper()
	cfg := &config.Config{
		Env:               "test",
		BusBackend:        "memory",
		TypingEnabled:     true,
		ReceiptsEnabled:   true,
		PublishMessages:   true,
		HeartbeatInterval: time.Hour,
		AuthTokens:        map[string]string{"tok-u1": "u1:user"},
	}

	collector := metrics.NewCollector()
	b := bus.NewMemory(collector, zerolog.Nop())
	t.Cleanup(func() { b.Close() })
	h := hub.New(cfg, b, presence.NewMemory(presence.DefaultTimeout, zerolog.Nop()),
		receipts.NewMemory(),
		access.NewAuthorizer(access.StaticMembership{"c1": {"u1"}}, zerolog.Nop()),
		collector, zerolog.Nop())

	srv := server.New(h, server.NewStaticVerifier(cfg.AuthTokens), ratelimit.New(nil), zerolog.Nop())
	t.Cleanup(srv.Close)

	ts := httptest.NewServer(NewRouter(cfg, zerolog.Nop(), srv, collector, nil))
	t.Cleanup(ts.Close)
	return ts, h
}

func TestHealthEndpoint(t *testing.T) {
	ts, _ := newTestStack(t)

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var body struct {
		Status  string           `json:"status"`
		Metrics metrics.Snapshot `json:"metrics"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != metrics.StatusHealthy {
		t.Errorf("status = %s", body.Status)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts, _ := newTestStack(t)

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestWebsocketRequiresAuth(t *testing.T) {
	ts, _ := newTestStack(t)

	wsURL := strings.Replace(ts.URL, "http://", "ws://", 1) + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("unauthenticated dial succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %+v", resp)
	}
}

func TestWebsocketPingAndDelivery(t *testing.T) {
	ts, h := newTestStack(t)

	wsURL := strings.Replace(ts.URL, "http://", "ws://", 1) + "/ws?token=tok-u1"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	readEnvelope := func() *protocol.Envelope {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var env protocol.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			t.Fatalf("read: %v", err)
		}
		return &env
	}

	// Application-level ping round trip.
	if err := conn.WriteJSON(map[string]any{"op": "ping", "ts": 123}); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	if env := readEnvelope(); env.Type != protocol.EventPong {
		t.Fatalf("type = %s, want pong", env.Type)
	}

	// Subscribe to a chat room and receive a domain event through it.
	if err := conn.WriteJSON(map[string]any{"op": "subscribe", "rooms": []string{"chat:c1"}}); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}
	// Ping again so its pong confirms the subscribe was processed.
	conn.WriteJSON(map[string]any{"op": "ping"})
	if env := readEnvelope(); env.Type != protocol.EventPong {
		t.Fatalf("type = %s, want pong", env.Type)
	}

	msg := hub.Message{ID: "m1", Seq: 5, Kind: "text", Payload: "hi", AuthorID: "u2", CreatedAt: 1}
	if err := h.MessageCreated(context.Background(), "c1", msg); err != nil {
		t.Fatalf("MessageCreated: %v", err)
	}
	env := readEnvelope()
	if env.Type != protocol.EventMessageCreated || env.Seq != 5 || env.Room != "chat:c1" {
		t.Errorf("envelope = %+v", env)
	}
}
