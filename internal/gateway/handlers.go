// Package gateway exposes HTTP handlers, including WebSocket upgrades, the
// trusted emit endpoint and health checks.
package gateway

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// maxEmitBody caps the size of a POST /emit request body.
const maxEmitBody = 64 << 10

// HandlerOptions configures Handlers.
type HandlerOptions struct {
	Hub            *Hub
	AllowedOrigins []string
	// EmitSecret, when set, must accompany every POST /emit request.
	EmitSecret string
	Logger     zerolog.Logger
}

// Handlers serves the gateway's HTTP surface.
type Handlers struct {
	hub        *Hub
	origins    *originPolicy
	upgrader   websocket.Upgrader
	emitSecret string
	log        zerolog.Logger
}

// NewHandlers creates Handlers bound to a hub.
func NewHandlers(opts HandlerOptions) *Handlers {
	log := opts.Logger.With().Str("component", "http").Logger()
	origins := newOriginPolicy(opts.AllowedOrigins, log)

	return &Handlers{
		hub:     opts.Hub,
		origins: origins,
		upgrader: websocket.Upgrader{
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
			HandshakeTimeout: 10 * time.Second,
			CheckOrigin:      origins.checkOrigin,
		},
		emitSecret: opts.EmitSecret,
		log:        log,
	}
}

// WebSocket upgrades an authenticated request and registers the resulting
// client with the hub. It must be mounted behind AuthGate.
func (h *Handlers) WebSocket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	identity := IdentityFromContext(r.Context())
	if identity == nil {
		jsonError(w, http.StatusUnauthorized, ErrUnauthenticated.Error())
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Str("remote_addr", r.RemoteAddr).Msg("WebSocket upgrade failed")
		return
	}

	client := NewClient(conn, h.hub, identity, tokenFromContext(r.Context()), r.RemoteAddr)
	if err := h.hub.Register(client); err != nil {
		client.log.Warn().Err(err).Msg("rejecting connection")
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
		_ = conn.Close()
	}
}

type emitRequest struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Emit is the bridge endpoint: a trusted caller posts {event, data} and the
// hub fans it out verbatim to every connected client.
func (h *Handlers) Emit(w http.ResponseWriter, r *http.Request) {
	if !h.emitAuthorized(r) {
		h.log.Warn().Str("remote_addr", r.RemoteAddr).Msg("emit rejected: bad secret")
		jsonError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxEmitBody)

	var req emitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req.Event = strings.TrimSpace(req.Event)
	if req.Event == "" {
		jsonError(w, http.StatusBadRequest, "event is required")
		return
	}

	if err := h.hub.Emit(req.Event, req.Data); err != nil {
		h.log.Error().Err(err).Str("event", req.Event).Msg("emit failed")
		jsonError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	h.log.Info().Str("event", req.Event).Int("bytes", len(req.Data)).Msg("event emitted")
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *Handlers) emitAuthorized(r *http.Request) bool {
	if h.emitSecret == "" {
		return true
	}

	presented := bearerToken(r.Header.Get("Authorization"))
	if presented == "" {
		presented = r.Header.Get("X-Emit-Secret")
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(h.emitSecret)) == 1
}

// HealthHandler provides a simple health check endpoint that returns server status.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "Gateway is running!")
}
