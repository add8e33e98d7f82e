// Package gateway defines the wire envelope and message payloads shared by
// the hub, clients and HTTP handlers.
package gateway

import (
	"encoding/json"
	"strings"
	"time"
)

// Event names used on the WebSocket connection.
const (
	EventInit    = "chat:init"
	EventMessage = "chat:message"
	EventWarning = "chat:warning"
)

// Warning codes carried by EventWarning payloads.
const (
	WarningRateLimited  = "rate_limited"
	WarningLinkRejected = "link_rejected"
)

// Envelope is the JSON frame exchanged in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Sender is the public summary of a message author. The identity service
// profile stays inside the gateway.
type Sender struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// ChatMessage is an accepted message as stored in history, broadcast and
// mirrored to the persistence service. Text is always post-moderation.
type ChatMessage struct {
	ID     string    `json:"id"`
	UserID string    `json:"userId"`
	User   *Sender   `json:"user,omitempty"`
	Text   string    `json:"text"`
	SentAt time.Time `json:"sentAt"`
}

// Warning is the payload of EventWarning.
type Warning struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// incomingMessage is the data of a client chat:message event. Token is the
// optional credential used for the persistence call; it is never relayed.
type incomingMessage struct {
	Text  string `json:"text"`
	Token string `json:"token,omitempty"`
}

// inbound pairs a decoded client message with its sender.
type inbound struct {
	client *Client
	msg    incomingMessage
}

// outbound is a fan-out request for an already encoded frame.
type outbound struct {
	payload []byte
}

func encodeEnvelope(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
