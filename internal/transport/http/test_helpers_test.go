package http

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/roomwire/internal/auth"
	"github.com/vovakirdan/roomwire/internal/config"
	"github.com/vovakirdan/roomwire/internal/core"
	"github.com/vovakirdan/roomwire/internal/proto"
	"github.com/vovakirdan/roomwire/internal/service/chat"
	"github.com/vovakirdan/roomwire/internal/store/sqlite"
)

type testServer struct {
	ts    *httptest.Server
	auth  *auth.Service
	store *sqlite.SQLiteStore
	hub   *core.Hub
	ws    *WSHandler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	st, err := sqlite.NewWithSetup(":memory:", sqlite.ApplySchema)
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	authService := auth.NewService(st, &auth.JWTConfig{
		Secret:   []byte("test-secret"),
		Issuer:   "test",
		Audience: "test",
		TTL:      time.Hour,
	})

	logger := zerolog.Nop()
	hub := core.NewHub(&logger)
	chatSvc := chat.New(st, hub, hub, chat.DefaultOptions(), &logger)

	cfg := config.Default()
	cfg.Addr = ":0"
	cfg.RateLimitPerMinute = 0

	server := NewServer(hub, chatSvc, authService, st, &cfg, &logger)
	ts := httptest.NewServer(server.Handler)
	t.Cleanup(ts.Close)

	return &testServer{ts: ts, auth: authService, store: st, hub: hub, ws: server.ws}
}

// register creates a user and returns its token and id.
func (s *testServer) register(t *testing.T, username string) (string, int64) {
	t.Helper()

	session, err := s.auth.Register(context.Background(), username, "password123")
	if err != nil {
		t.Fatalf("register %s: %v", username, err)
	}
	return session.Token, session.User.ID
}

func (s *testServer) dial(t *testing.T, ctx context.Context, token string) *websocket.Conn {
	t.Helper()

	wsURL := strings.Replace(s.ts.URL, "http", "ws", 1) + "/ws?token=" + token
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "done") })
	return conn
}

// waitConnected blocks until the hub has registered n connections.
func (s *testServer) waitConnected(t *testing.T, n int) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for s.hub.ClientCount() < n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d connections, have %d", n, s.hub.ClientCount())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

type outbound struct {
	Type  string          `json:"type"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func send(t *testing.T, ctx context.Context, conn *websocket.Conn, event string, data any) {
	t.Helper()

	payload, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal %s: %v", event, err)
	}
	if err := wsjson.Write(ctx, conn, proto.Inbound{Type: event, Data: payload}); err != nil {
		t.Fatalf("send %s: %v", event, err)
	}
}

// readUntil reads frames until one carries the named event, skipping others.
func readUntil(t *testing.T, ctx context.Context, conn *websocket.Conn, event string) outbound {
	t.Helper()

	for {
		var out outbound
		if err := wsjson.Read(ctx, conn, &out); err != nil {
			t.Fatalf("waiting for %s: %v", event, err)
		}
		if out.Event == event {
			return out
		}
	}
}

func decodeData[T any](t *testing.T, out outbound) T {
	t.Helper()

	var v T
	if err := json.Unmarshal(out.Data, &v); err != nil {
		t.Fatalf("decode %s: %v", out.Event, err)
	}
	return v
}
