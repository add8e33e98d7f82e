// Package testutil provides helpers shared by the gateway's unit and
// integration tests: a fake identity/persistence API, WebSocket dialing and
// envelope assertions.
package testutil

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// TestOrigin is the Origin header sent by ConnectWebSocket by default.
const TestOrigin = "http://localhost:5173"

// Envelope mirrors the gateway wire frame.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Upstream is a fake identity and persistence API backed by httptest.
type Upstream struct {
	Server *httptest.Server

	mu        sync.Mutex
	users     map[string]string
	saved     []SavedMessage
	userCalls int
	saveFail  bool
}

// SavedMessage is one POST /api/chat/messages the fake received.
type SavedMessage struct {
	Authorization string
	Body          json.RawMessage
}

// NewUpstream starts a fake API. users maps bearer tokens to the JSON body
// returned by GET /api/user.
func NewUpstream(t *testing.T, users map[string]string) *Upstream {
	t.Helper()

	u := &Upstream{users: users}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/user", u.handleUser)
	mux.HandleFunc("/api/chat/messages", u.handleSave)
	u.Server = httptest.NewServer(mux)
	t.Cleanup(u.Server.Close)
	return u
}

// URL returns the base URL of the fake API.
func (u *Upstream) URL() string {
	return u.Server.URL
}

// FailSaves makes every persistence call answer 500.
func (u *Upstream) FailSaves(fail bool) {
	u.mu.Lock()
	u.saveFail = fail
	u.mu.Unlock()
}

// UserCalls returns how many identity lookups were served.
func (u *Upstream) UserCalls() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.userCalls
}

// Saved returns a copy of the persistence calls received so far.
func (u *Upstream) Saved() []SavedMessage {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]SavedMessage, len(u.saved))
	copy(out, u.saved)
	return out
}

// WaitForSaved polls until at least n persistence calls arrived.
func (u *Upstream) WaitForSaved(t *testing.T, n int, timeout time.Duration) []SavedMessage {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if saved := u.Saved(); len(saved) >= n {
			return saved
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected %d persistence calls, got %d", n, len(u.Saved()))
	return nil
}

func (u *Upstream) handleUser(w http.ResponseWriter, r *http.Request) {
	u.mu.Lock()
	u.userCalls++
	u.mu.Unlock()

	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	body, ok := u.users[token]
	if !ok {
		http.Error(w, `{"message":"Unauthenticated."}`, http.StatusUnauthorized)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, body)
}

func (u *Upstream) handleSave(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, _ := io.ReadAll(r.Body)

	u.mu.Lock()
	fail := u.saveFail
	u.saved = append(u.saved, SavedMessage{
		Authorization: r.Header.Get("Authorization"),
		Body:          json.RawMessage(body),
	})
	u.mu.Unlock()

	if fail {
		http.Error(w, "boom", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusCreated)
	_, _ = io.WriteString(w, `{"ok":true}`)
}

// WebSocketURL converts an httptest server URL into its /ws endpoint.
func WebSocketURL(serverURL string) string {
	return "ws" + strings.TrimPrefix(serverURL, "http") + "/ws"
}

// ConnectWebSocket dials url with a bearer token and the test origin. The
// handshake response is returned so callers can assert rejection status.
func ConnectWebSocket(url, token string) (*websocket.Conn, *http.Response, error) {
	return ConnectWebSocketWithOrigin(url, token, TestOrigin)
}

// ConnectWebSocketWithOrigin is ConnectWebSocket with an explicit Origin.
// An empty token sends no Authorization header.
func ConnectWebSocketWithOrigin(url, token, origin string) (*websocket.Conn, *http.Response, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	headers := http.Header{}
	if origin != "" {
		headers.Set("Origin", origin)
	}
	if token != "" {
		headers.Set("Authorization", "Bearer "+token)
	}

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, resp, err
}

// ReadEnvelope reads one frame within timeout and decodes it.
func ReadEnvelope(t *testing.T, conn *websocket.Conn, timeout time.Duration) Envelope {
	t.Helper()

	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	var env Envelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("Failed to read envelope: %v", err)
	}
	return env
}

// ExpectEvent reads one frame and fails unless it carries event.
func ExpectEvent(t *testing.T, conn *websocket.Conn, event string) Envelope {
	t.Helper()
	env := ReadEnvelope(t, conn, 2*time.Second)
	if env.Event != event {
		t.Fatalf("Expected event %q, got %q (%s)", event, env.Event, env.Data)
	}
	return env
}

// ExpectNoMessage fails if a frame arrives within wait.
func ExpectNoMessage(t *testing.T, conn *websocket.Conn, wait time.Duration) {
	t.Helper()

	if err := conn.SetReadDeadline(time.Now().Add(wait)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	_, raw, err := conn.ReadMessage()
	if err == nil {
		t.Fatalf("Expected no message, got %s", raw)
	}
	var netErr net.Error
	if !errors.As(err, &netErr) || !netErr.Timeout() {
		t.Fatalf("Expected read timeout, got %v", err)
	}
}

// SendChat sends a chat:message event with text.
func SendChat(conn *websocket.Conn, text string) error {
	data, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return err
	}
	return conn.WriteJSON(Envelope{Event: "chat:message", Data: data})
}

// CloseWebSocket gracefully closes a WebSocket connection.
func CloseWebSocket(conn *websocket.Conn) error {
	err := conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		return err
	}
	return conn.Close()
}

// AssertStatusCode checks if the HTTP response has the expected status code.
func AssertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("Expected status code %d, got %d", expected, resp.StatusCode)
	}
}

// MakeRequest creates and executes an HTTP request, returning the response.
func MakeRequest(t *testing.T, method, url string, body io.Reader) *http.Response {
	t.Helper()

	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	if body == nil {
		body = http.NoBody
	}
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	if body != http.NoBody {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })

	return resp
}
