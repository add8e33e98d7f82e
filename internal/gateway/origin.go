// Package gateway normalizes and validates HTTP origins for WebSocket requests
// to enforce configured access control.
package gateway

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
)

// originPolicy is the normalized form of the configured origin allowlist.
type originPolicy struct {
	allowed  map[string]struct{}
	allowAll bool
	log      zerolog.Logger
}

func newOriginPolicy(origins []string, log zerolog.Logger) *originPolicy {
	normalized, allowAll := normalizeOrigins(origins, log)

	p := &originPolicy{
		allowed:  make(map[string]struct{}, len(normalized)),
		allowAll: allowAll,
		log:      log,
	}
	for _, origin := range normalized {
		p.allowed[origin] = struct{}{}
	}
	return p
}

func normalizeOrigins(origins []string, log zerolog.Logger) ([]string, bool) {
	if len(origins) == 0 {
		return nil, false
	}

	normalized := make([]string, 0, len(origins))
	allowAll := false

	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}

		if trimmed == "*" {
			allowAll = true
			continue
		}

		normalizedOrigin, ok := normalizeOrigin(trimmed)
		if !ok {
			log.Warn().Str("origin", origin).Msg("ignoring invalid origin in configuration")
			continue
		}

		normalized = append(normalized, normalizedOrigin)
	}

	return normalized, allowAll
}

func normalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(origin)
	if err != nil {
		return "", false
	}

	if parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}

	normalized := strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host)
	return normalized, true
}

// isAllowed reports whether a present Origin header is on the allowlist.
// Requests without one are not browser requests and are decided elsewhere.
func (p *originPolicy) isAllowed(r *http.Request) bool {
	if p.allowAll {
		return true
	}

	originHeader := r.Header.Get("Origin")
	if originHeader == "" {
		return false
	}

	normalizedOrigin, ok := normalizeOrigin(originHeader)
	if !ok {
		return false
	}

	_, exists := p.allowed[normalizedOrigin]
	return exists
}

// checkOrigin is the upgrader's origin hook. Handshakes without an Origin
// header pass; a present but unlisted origin is refused.
func (p *originPolicy) checkOrigin(r *http.Request) bool {
	if r.Header.Get("Origin") == "" {
		p.log.Debug().Str("remote_addr", r.RemoteAddr).Msg("WebSocket handshake without Origin header")
		return true
	}
	if p.isAllowed(r) {
		return true
	}

	p.log.Warn().Str("origin", r.Header.Get("Origin")).Msg("blocked WebSocket connection from disallowed origin")
	return false
}

// list returns the configured origins for CORS, with "*" when all are allowed.
func (p *originPolicy) list() []string {
	if p.allowAll {
		return []string{"*"}
	}
	out := make([]string, 0, len(p.allowed))
	for origin := range p.allowed {
		out = append(out, origin)
	}
	return out
}
