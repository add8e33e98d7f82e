package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Tyrowin/gochat-gateway/internal/moderation"
	"github.com/Tyrowin/gochat-gateway/internal/ratelimit"
	"github.com/Tyrowin/gochat-gateway/internal/testutil"
	"github.com/Tyrowin/gochat-gateway/internal/upstream"
)

type testGateway struct {
	server   *httptest.Server
	hub      *Hub
	upstream *testutil.Upstream
	wsURL    string
}

func newTestGateway(t *testing.T, limit int) *testGateway {
	t.Helper()

	api := testutil.NewUpstream(t, map[string]string{
		"tok-alice": `{"id":1,"name":"Alice","email":"alice@example.com"}`,
		"tok-bob":   `{"id":2,"name":"Bob"}`,
		"tok-noid":  `{"name":"Ghost"}`,
	})

	client := upstream.New(api.URL(), 2*time.Second, zerolog.Nop())
	hub := startHub(t, HubOptions{
		HistorySize:        50,
		Limiter:            ratelimit.New(limit, 30*time.Second),
		Moderator:          moderation.Default(),
		Persister:          client,
		WarnAllOnRateLimit: true,
	})

	handlers := NewHandlers(HandlerOptions{
		Hub:            hub,
		AllowedOrigins: []string{testutil.TestOrigin},
		Logger:         zerolog.Nop(),
	})
	server := httptest.NewServer(SetupRoutes(handlers, client, zerolog.Nop()))
	t.Cleanup(server.Close)

	return &testGateway{
		server:   server,
		hub:      hub,
		upstream: api,
		wsURL:    testutil.WebSocketURL(server.URL),
	}
}

func (g *testGateway) connect(t *testing.T, token string) *websocket.Conn {
	t.Helper()

	conn, resp, err := testutil.ConnectWebSocket(g.wsURL, token)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("Failed to connect (status %d): %v", status, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestGatewayRejectsUnauthenticated(t *testing.T) {
	g := newTestGateway(t, 5)

	tests := []struct {
		name  string
		token string
	}{
		{"no credential", ""},
		{"unknown token", "tok-mallory"},
		{"identity without id", "tok-noid"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn, resp, err := testutil.ConnectWebSocket(g.wsURL, tt.token)
			if err == nil {
				_ = conn.Close()
				t.Fatal("expected handshake to fail")
			}
			if resp == nil || resp.StatusCode != http.StatusUnauthorized {
				t.Fatalf("expected 401 response, got %+v", resp)
			}
		})
	}

	if n := len(g.hub.Stats().Connections); n != 0 {
		t.Errorf("connections = %d, want 0", n)
	}
}

func TestGatewayRejectsDisallowedOrigin(t *testing.T) {
	g := newTestGateway(t, 5)

	conn, resp, err := testutil.ConnectWebSocketWithOrigin(g.wsURL, "tok-alice", "http://evil.example.com")
	if err == nil {
		_ = conn.Close()
		t.Fatal("expected handshake to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 response, got %+v", resp)
	}
}

func TestGatewayAdmitsClientWithoutOrigin(t *testing.T) {
	g := newTestGateway(t, 5)

	conn, resp, err := testutil.ConnectWebSocketWithOrigin(g.wsURL, "tok-alice", "")
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("Failed to connect without Origin (status %d): %v", status, err)
	}
	defer conn.Close()
	testutil.ExpectEvent(t, conn, EventInit)

	// The credential is still required.
	noToken, resp, err := testutil.ConnectWebSocketWithOrigin(g.wsURL, "", "")
	if err == nil {
		_ = noToken.Close()
		t.Fatal("expected handshake without credential to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 response, got %+v", resp)
	}
}

func TestGatewayQueryToken(t *testing.T) {
	g := newTestGateway(t, 5)

	conn, _, err := testutil.ConnectWebSocket(g.wsURL+"?token=tok-bob", "")
	if err != nil {
		t.Fatalf("Failed to connect with query token: %v", err)
	}
	defer conn.Close()
	testutil.ExpectEvent(t, conn, EventInit)
}

func TestGatewayChatFlow(t *testing.T) {
	g := newTestGateway(t, 5)

	alice := g.connect(t, "tok-alice")
	testutil.ExpectEvent(t, alice, EventInit)
	bob := g.connect(t, "tok-bob")
	testutil.ExpectEvent(t, bob, EventInit)

	if err := testutil.SendChat(alice, "hola pendejo"); err != nil {
		t.Fatal(err)
	}

	for _, conn := range []*websocket.Conn{alice, bob} {
		env := testutil.ExpectEvent(t, conn, EventMessage)
		var msg ChatMessage
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			t.Fatal(err)
		}
		if msg.Text != "hola ***" {
			t.Errorf("text = %q, want %q", msg.Text, "hola ***")
		}
		if msg.UserID != "1" {
			t.Errorf("userId = %q, want 1", msg.UserID)
		}
		if strings.Contains(string(env.Data), "tok-alice") {
			t.Error("credential leaked into broadcast")
		}
		if strings.Contains(string(env.Data), "alice@example.com") {
			t.Errorf("profile field leaked into broadcast: %s", env.Data)
		}
		if msg.User == nil || msg.User.Name != "Alice" {
			t.Errorf("user = %+v, want name Alice", msg.User)
		}
	}

	saved := g.upstream.WaitForSaved(t, 1, 2*time.Second)
	if saved[0].Authorization != "Bearer tok-alice" {
		t.Errorf("persistence authorization = %q", saved[0].Authorization)
	}
	var persisted ChatMessage
	if err := json.Unmarshal(saved[0].Body, &persisted); err != nil {
		t.Fatal(err)
	}
	if persisted.Text != "hola ***" {
		t.Errorf("persisted text = %q", persisted.Text)
	}

	// A late joiner gets the stored message first.
	carol := g.connect(t, "tok-bob")
	env := testutil.ExpectEvent(t, carol, EventInit)
	var snapshot []ChatMessage
	if err := json.Unmarshal(env.Data, &snapshot); err != nil {
		t.Fatal(err)
	}
	if len(snapshot) != 1 || snapshot[0].Text != "hola ***" {
		t.Errorf("snapshot = %+v", snapshot)
	}
}

func TestGatewayRateLimitWarnsEveryone(t *testing.T) {
	g := newTestGateway(t, 1)

	alice := g.connect(t, "tok-alice")
	testutil.ExpectEvent(t, alice, EventInit)
	bob := g.connect(t, "tok-bob")
	testutil.ExpectEvent(t, bob, EventInit)

	for _, text := range []string{"one", "two"} {
		if err := testutil.SendChat(alice, text); err != nil {
			t.Fatal(err)
		}
	}

	for _, conn := range []*websocket.Conn{alice, bob} {
		testutil.ExpectEvent(t, conn, EventMessage)
		testutil.ExpectEvent(t, conn, EventWarning)
	}
}

func TestGatewayLinkRejected(t *testing.T) {
	g := newTestGateway(t, 5)

	alice := g.connect(t, "tok-alice")
	testutil.ExpectEvent(t, alice, EventInit)
	bob := g.connect(t, "tok-bob")
	testutil.ExpectEvent(t, bob, EventInit)

	if err := testutil.SendChat(alice, "gana en http://scam.example.com"); err != nil {
		t.Fatal(err)
	}

	env := testutil.ExpectEvent(t, alice, EventWarning)
	var w Warning
	if err := json.Unmarshal(env.Data, &w); err != nil {
		t.Fatal(err)
	}
	if w.Code != WarningLinkRejected {
		t.Errorf("code = %q", w.Code)
	}
	testutil.ExpectNoMessage(t, bob, 100*time.Millisecond)
}

func TestGatewayEmitBridge(t *testing.T) {
	g := newTestGateway(t, 5)

	alice := g.connect(t, "tok-alice")
	testutil.ExpectEvent(t, alice, EventInit)

	resp := testutil.MakeRequest(t, http.MethodPost, g.server.URL+"/emit",
		strings.NewReader(`{"event":"raffle:sold","data":{"ticket":12}}`))
	testutil.AssertStatusCode(t, resp, http.StatusOK)

	env := testutil.ExpectEvent(t, alice, "raffle:sold")
	if string(env.Data) != `{"ticket":12}` {
		t.Errorf("data = %s", env.Data)
	}

	resp = testutil.MakeRequest(t, http.MethodPost, g.server.URL+"/emit", strings.NewReader(`{}`))
	testutil.AssertStatusCode(t, resp, http.StatusBadRequest)
}

func TestGatewayRoutes(t *testing.T) {
	g := newTestGateway(t, 5)

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/", http.StatusOK},
		{http.MethodGet, "/health", http.StatusOK},
		{http.MethodGet, "/test", http.StatusOK},
		{http.MethodGet, "/metrics", http.StatusOK},
		{http.MethodPost, "/ws", http.StatusMethodNotAllowed},
		{http.MethodGet, "/emit", http.StatusMethodNotAllowed},
		{http.MethodGet, "/nope", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			resp := testutil.MakeRequest(t, tt.method, g.server.URL+tt.path, nil)
			testutil.AssertStatusCode(t, resp, tt.want)
		})
	}
}

func TestGatewayDisconnectUnregisters(t *testing.T) {
	g := newTestGateway(t, 5)

	alice := g.connect(t, "tok-alice")
	testutil.ExpectEvent(t, alice, EventInit)
	if n := len(g.hub.Stats().Connections); n != 1 {
		t.Fatalf("connections = %d, want 1", n)
	}

	if err := testutil.CloseWebSocket(alice); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(g.hub.Stats().Connections) == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("client was not unregistered after close")
}

func TestGatewayPersistenceFailureKeepsBroadcast(t *testing.T) {
	g := newTestGateway(t, 5)
	g.upstream.FailSaves(true)

	alice := g.connect(t, "tok-alice")
	testutil.ExpectEvent(t, alice, EventInit)

	if err := testutil.SendChat(alice, "guardame"); err != nil {
		t.Fatal(err)
	}
	testutil.ExpectEvent(t, alice, EventMessage)
	g.upstream.WaitForSaved(t, 1, 2*time.Second)

	if n := len(g.hub.History()); n != 1 {
		t.Errorf("history length = %d, want 1", n)
	}
}
