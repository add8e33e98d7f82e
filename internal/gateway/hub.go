// Package gateway coordinates client registration, the inbound message
// pipeline, fan-out and the persistence mirror via the Hub type.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Tyrowin/gochat-gateway/internal/history"
	"github.com/Tyrowin/gochat-gateway/internal/metrics"
)

// RateLimiter decides whether a key may send another message at now.
type RateLimiter interface {
	Allow(key string, now time.Time) bool
	Sweep(now time.Time) int
	Window() time.Duration
}

// Moderator applies the link policy and redaction to message text.
type Moderator interface {
	IsLinkAllowed(text string) bool
	Redact(text string) string
}

// Persister mirrors accepted messages to the persistence service.
type Persister interface {
	SaveMessage(ctx context.Context, token string, payload any) error
}

// HubOptions configures a Hub. Nil Limiter, Moderator or Persister disable
// the corresponding stage.
type HubOptions struct {
	HistorySize        int
	Limiter            RateLimiter
	Moderator          Moderator
	Persister          Persister
	WarnAllOnRateLimit bool
	PersistTimeout     time.Duration
	MaxMessageSize     int64
	Logger             zerolog.Logger
	Now                func() time.Time
}

// Hub is the broadcast/bridge engine. A single goroutine (Run) owns the
// pipeline: registration, rate checks, moderation, history appends and
// fan-out are handled one event at a time and never interleave.
type Hub struct {
	clients    map[*Client]bool
	inbound    chan inbound
	emit       chan outbound
	register   chan *Client
	unregister chan *Client

	history        *history.Buffer[ChatMessage]
	limiter        RateLimiter
	moderator      Moderator
	persister      Persister
	warnAll        bool
	persistTimeout time.Duration
	maxMessageSize int64

	log       zerolog.Logger
	now       func() time.Time
	startedAt time.Time

	mutex     sync.RWMutex
	wg        sync.WaitGroup
	persistWG sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewHub creates a Hub ready to Run.
func NewHub(opts HubOptions) *Hub {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.PersistTimeout <= 0 {
		opts.PersistTimeout = 5 * time.Second
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = 4096
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:        make(map[*Client]bool),
		inbound:        make(chan inbound),
		emit:           make(chan outbound),
		register:       make(chan *Client),
		unregister:     make(chan *Client),
		history:        history.New[ChatMessage](opts.HistorySize),
		limiter:        opts.Limiter,
		moderator:      opts.Moderator,
		persister:      opts.Persister,
		warnAll:        opts.WarnAllOnRateLimit,
		persistTimeout: opts.PersistTimeout,
		maxMessageSize: opts.MaxMessageSize,
		log:            opts.Logger.With().Str("component", "hub").Logger(),
		now:            opts.Now,
		startedAt:      opts.Now(),
		ctx:            ctx,
		cancel:         cancel,
		done:           make(chan struct{}),
	}
}

// Register hands an admitted client to the hub. The hub replays history to
// it and starts its pumps.
func (h *Hub) Register(client *Client) error {
	select {
	case h.register <- client:
		return nil
	case <-h.ctx.Done():
		return ErrHubClosed
	}
}

// Emit fans out event with data verbatim to every connected client,
// bypassing rate limiting, moderation and history. It returns once the hub
// has taken the event.
func (h *Hub) Emit(event string, data json.RawMessage) error {
	payload, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	select {
	case h.emit <- outbound{payload: payload}:
		metrics.EventsEmitted.Inc()
		return nil
	case <-h.ctx.Done():
		return ErrHubClosed
	}
}

// History returns a point-in-time copy of the history buffer.
func (h *Hub) History() []ChatMessage {
	return h.history.Snapshot()
}

func (h *Hub) safeSend(client *Client, message []byte) bool {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error().Interface("panic", r).Msg("recovered from panic in safeSend")
		}
	}()

	// Hold the lock during the entire send operation to prevent race conditions
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	_, exists := h.clients[client]
	if !exists || client.closed {
		return false
	}

	select {
	case client.send <- message:
		return true
	default:
		return false
	}
}

// Run starts the hub's event loop. It returns after Shutdown.
func (h *Hub) Run() {
	defer close(h.done)

	var sweep <-chan time.Time
	if h.limiter != nil {
		ticker := time.NewTicker(h.limiter.Window())
		defer ticker.Stop()
		sweep = ticker.C
	}

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			h.handleRegister(client)

		case client := <-h.unregister:
			h.handleUnregister(client)

		case in := <-h.inbound:
			h.handleInbound(in)

		case out := <-h.emit:
			h.fanOut(out.payload)

		case <-sweep:
			if removed := h.limiter.Sweep(h.now()); removed > 0 {
				h.log.Debug().Int("removed", removed).Msg("swept idle rate windows")
			}
		}
	}
}

func (h *Hub) handleRegister(client *Client) {
	if client == nil {
		h.log.Warn().Msg("received nil client registration; skipping")
		return
	}

	h.mutex.Lock()
	client.closed = false
	h.clients[client] = true
	clientCount := len(h.clients)
	h.mutex.Unlock()
	metrics.ConnectedClients.Set(float64(clientCount))

	// The snapshot is queued before the pumps start and before the loop can
	// process any later broadcast, so history always arrives first.
	h.sendInit(client)
	client.log.Info().Int("clients", clientCount).Msg("client registered")

	if client.conn == nil {
		return
	}

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		client.writePump()
	}()
	go func() {
		defer h.wg.Done()
		client.readPump()
	}()
}

func (h *Hub) handleUnregister(client *Client) {
	h.mutex.Lock()
	if _, ok := h.clients[client]; !ok {
		h.mutex.Unlock()
		return
	}
	delete(h.clients, client)
	client.closed = true
	clientCount := len(h.clients)
	h.mutex.Unlock()

	// Close the channel after releasing the lock
	close(client.send)
	metrics.ConnectedClients.Set(float64(clientCount))
	client.log.Info().Int("clients", clientCount).Msg("client unregistered")
}

func (h *Hub) sendInit(client *Client) {
	payload, err := encodeEnvelope(EventInit, h.history.Snapshot())
	if err != nil {
		client.log.Error().Err(err).Msg("error encoding history snapshot")
		return
	}
	if !h.safeSend(client, payload) {
		h.removeFailedClients([]*Client{client})
	}
}

// handleInbound runs one client message through rate limiting, the link
// policy and redaction, then stores, broadcasts and mirrors it.
func (h *Hub) handleInbound(in inbound) {
	client := in.client
	now := h.now()

	if h.limiter != nil && !h.limiter.Allow(client.rateKey(), now) {
		metrics.MessagesSuppressed.WithLabelValues(WarningRateLimited).Inc()
		client.log.Warn().Err(ErrRateLimited).Msg("message suppressed")
		h.warnRateLimited(client)
		return
	}

	text := in.msg.Text
	if h.moderator != nil {
		if !h.moderator.IsLinkAllowed(text) {
			metrics.MessagesSuppressed.WithLabelValues(WarningLinkRejected).Inc()
			client.log.Warn().Err(ErrLinkRejected).Msg("message suppressed")
			h.warn(client, WarningLinkRejected, "Links to external sites are not allowed.")
			return
		}
		text = h.moderator.Redact(text)
	}

	msg := ChatMessage{
		ID:     uuid.NewString(),
		UserID: client.userID(),
		Text:   text,
		SentAt: now.UTC(),
	}
	if client.identity != nil {
		msg.User = &Sender{ID: client.identity.ID, Name: client.identity.Name}
	}

	h.history.Append(msg)
	metrics.HistorySize.Set(float64(h.history.Len()))

	payload, err := encodeEnvelope(EventMessage, msg)
	if err != nil {
		client.log.Error().Err(err).Msg("error encoding message")
		return
	}
	h.fanOut(payload)
	metrics.MessagesAccepted.Inc()

	token := in.msg.Token
	if token == "" {
		token = client.token
	}
	h.persist(msg, token, client.log)
}

func (h *Hub) warnRateLimited(client *Client) {
	const text = "You are sending messages too fast. Please wait a moment."
	if h.warnAll {
		payload, err := encodeEnvelope(EventWarning, Warning{Code: WarningRateLimited, Message: text})
		if err != nil {
			return
		}
		h.fanOut(payload)
		return
	}
	h.warn(client, WarningRateLimited, text)
}

func (h *Hub) warn(client *Client, code, text string) {
	payload, err := encodeEnvelope(EventWarning, Warning{Code: code, Message: text})
	if err != nil {
		return
	}
	if !h.safeSend(client, payload) {
		h.removeFailedClients([]*Client{client})
	}
}

// persist mirrors msg on its own goroutine. Failures are logged only.
func (h *Hub) persist(msg ChatMessage, token string, log zerolog.Logger) {
	if h.persister == nil {
		return
	}

	h.persistWG.Add(1)
	go func() {
		defer h.persistWG.Done()

		ctx, cancel := context.WithTimeout(context.Background(), h.persistTimeout)
		defer cancel()

		start := time.Now()
		err := h.persister.SaveMessage(ctx, token, msg)
		metrics.PersistenceLatency.Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.PersistenceWrites.WithLabelValues("error").Inc()
			log.Error().
				Err(fmt.Errorf("%w: %w", ErrPersistenceWriteFailed, err)).
				Str("message_id", msg.ID).
				Msg("error saving message")
			return
		}
		metrics.PersistenceWrites.WithLabelValues("ok").Inc()
	}()
}

// fanOut delivers payload to every connected client. Clients whose send
// queue is full are dropped so one slow reader cannot stall the loop.
func (h *Hub) fanOut(payload []byte) {
	clients := h.getClientSnapshot()

	var clientsToRemove []*Client
	for _, client := range clients {
		if !h.safeSend(client, payload) {
			clientsToRemove = append(clientsToRemove, client)
		}
	}

	h.log.Debug().Int("clients", len(clients)).Msg("broadcast")
	h.removeFailedClients(clientsToRemove)
}

// getClientSnapshot returns a thread-safe snapshot of all current clients
func (h *Hub) getClientSnapshot() []*Client {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	return clients
}

// removeFailedClients removes clients that failed to receive messages and closes their channels
func (h *Hub) removeFailedClients(clientsToRemove []*Client) {
	if len(clientsToRemove) == 0 {
		return
	}

	h.mutex.Lock()
	var channelsToClose []chan []byte
	for _, client := range clientsToRemove {
		if _, exists := h.clients[client]; exists {
			delete(h.clients, client)
			client.closed = true
			channelsToClose = append(channelsToClose, client.send)
			client.log.Warn().Msg("client removed due to full send buffer")
			metrics.DroppedClients.Inc()
		}
	}
	clientCount := len(h.clients)
	h.mutex.Unlock()
	metrics.ConnectedClients.Set(float64(clientCount))

	// Close channels after releasing the lock
	for _, ch := range channelsToClose {
		close(ch)
	}
}

// ConnectionInfo describes one connected client for diagnostics.
type ConnectionInfo struct {
	ID          string
	UserID      string
	Name        string
	Addr        string
	ConnectedAt time.Time
}

// Stats is a point-in-time view of the hub.
type Stats struct {
	StartedAt   time.Time
	Uptime      time.Duration
	BufferSize  int
	BufferCap   int
	Connections []ConnectionInfo
}

// Stats returns the current connections and buffer size.
func (h *Hub) Stats() Stats {
	h.mutex.RLock()
	conns := make([]ConnectionInfo, 0, len(h.clients))
	for client := range h.clients {
		info := ConnectionInfo{
			ID:          client.id,
			UserID:      client.userID(),
			Addr:        client.addr,
			ConnectedAt: client.connectedAt,
		}
		if client.identity != nil {
			info.Name = client.identity.Name
		}
		conns = append(conns, info)
	}
	h.mutex.RUnlock()

	sort.Slice(conns, func(i, j int) bool {
		return conns[i].ConnectedAt.Before(conns[j].ConnectedAt)
	})

	return Stats{
		StartedAt:   h.startedAt,
		Uptime:      h.now().Sub(h.startedAt),
		BufferSize:  h.history.Len(),
		BufferCap:   h.history.Capacity(),
		Connections: conns,
	}
}

// shutdownClients gracefully closes all active client connections
func (h *Hub) shutdownClients() {
	h.log.Info().Msg("shutting down all client connections")

	clients := h.getClientSnapshot()
	for _, client := range clients {
		if client.conn != nil {
			if err := client.conn.Close(); err != nil && !isExpectedCloseError(err) {
				client.log.Warn().Err(err).Msg("error closing client connection")
			}
		}
	}

	h.log.Info().Int("clients", len(clients)).Msg("closed client connections")
}

// Shutdown stops the hub, closes every connection and waits for the client
// pumps and in-flight persistence writes, up to timeout.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.log.Info().Msg("initiating hub shutdown")

	h.cancel()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-h.done:
	case <-timer.C:
		h.log.Warn().Msg("hub event loop did not stop before timeout")
		return context.DeadlineExceeded
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		h.persistWG.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.log.Info().Msg("hub shutdown completed")
		return nil
	case <-timer.C:
		h.log.Warn().Msg("hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
