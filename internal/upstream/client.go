// Package upstream talks to the external API that owns user identities and
// chat persistence.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

const (
	userPath     = "/api/user"
	messagesPath = "/api/chat/messages"

	// maxResponseBody caps how much of an upstream response is read.
	maxResponseBody = 1 << 20
)

var (
	// ErrRejected is returned when the upstream answers with a non-2xx status.
	ErrRejected = errors.New("upstream rejected request")
	// ErrMalformedIdentity is returned when /api/user does not describe a user.
	ErrMalformedIdentity = errors.New("malformed identity response")
)

// Identity is a user as described by the identity service. Profile holds the
// full response body and is opaque to the gateway.
type Identity struct {
	ID      string          `json:"id"`
	Name    string          `json:"name,omitempty"`
	Profile json.RawMessage `json:"profile"`
}

// Client calls the identity and persistence endpoints of the external API.
type Client struct {
	baseURL string
	http    *http.Client
	log     zerolog.Logger
}

// New creates a Client for baseURL. timeout bounds every call.
func New(baseURL string, timeout time.Duration, log zerolog.Logger) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		log:     log.With().Str("component", "upstream").Logger(),
	}
}

// Authenticate resolves token into an Identity with a single GET /api/user.
func (c *Client) Authenticate(ctx context.Context, token string) (*Identity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+userPath, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build identity request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	body, err := c.do(req)
	c.log.Debug().Dur("latency", time.Since(start)).Err(err).Msg("identity lookup")
	if err != nil {
		return nil, fmt.Errorf("identity lookup: %w", err)
	}

	return parseIdentity(body)
}

// SaveMessage posts payload to /api/chat/messages on behalf of token.
func (c *Client) SaveMessage(ctx context.Context, token string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+messagesPath, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build persistence request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	if _, err := c.do(req); err != nil {
		return fmt.Errorf("save message: %w", err)
	}
	return nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: status %d", ErrRejected, resp.StatusCode)
	}
	return body, nil
}

func parseIdentity(body []byte) (*Identity, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%w: invalid JSON", ErrMalformedIdentity)
	}

	doc := gjson.ParseBytes(body)
	if !doc.IsObject() {
		return nil, fmt.Errorf("%w: not an object", ErrMalformedIdentity)
	}

	id := doc.Get("id")
	if !id.Exists() || id.Type == gjson.Null || id.String() == "" {
		return nil, fmt.Errorf("%w: missing id", ErrMalformedIdentity)
	}

	return &Identity{
		ID:      id.String(),
		Name:    doc.Get("name").String(),
		Profile: json.RawMessage(append([]byte(nil), body...)),
	}, nil
}
