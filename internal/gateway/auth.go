package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/Tyrowin/gochat-gateway/internal/metrics"
	"github.com/Tyrowin/gochat-gateway/internal/upstream"
)

// Authenticator resolves a bearer credential into an Identity.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*upstream.Identity, error)
}

type contextKey string

const (
	identityContextKey contextKey = "identity"
	tokenContextKey    contextKey = "token"
)

// AuthGate admits a connection attempt only when its bearer credential
// resolves to an identity. It calls the identity service exactly once and
// never retries; rejected attempts get a 401 before any upgrade happens.
func AuthGate(auth Authenticator, log zerolog.Logger) func(http.Handler) http.Handler {
	log = log.With().Str("component", "auth").Logger()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := credentialFromRequest(r)

			identity, err := authenticate(r.Context(), auth, token)
			if err != nil {
				reason := "invalid_credential"
				if errors.Is(err, ErrUnauthenticated) {
					reason = "unauthenticated"
				}
				metrics.AuthFailures.WithLabelValues(reason).Inc()
				log.Warn().
					Err(err).
					Str("remote_addr", r.RemoteAddr).
					Msg("connection rejected")
				jsonError(w, http.StatusUnauthorized, errorMessage(err))
				return
			}

			ctx := context.WithValue(r.Context(), identityContextKey, identity)
			ctx = context.WithValue(ctx, tokenContextKey, token)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func authenticate(ctx context.Context, auth Authenticator, token string) (*upstream.Identity, error) {
	if token == "" {
		return nil, ErrUnauthenticated
	}

	identity, err := auth.Authenticate(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCredential, err)
	}
	if identity == nil {
		return nil, ErrInvalidCredential
	}
	return identity, nil
}

func errorMessage(err error) string {
	if errors.Is(err, ErrUnauthenticated) {
		return ErrUnauthenticated.Error()
	}
	return ErrInvalidCredential.Error()
}

// credentialFromRequest reads the bearer credential from the Authorization
// header, falling back to the token query parameter for browser clients.
func credentialFromRequest(r *http.Request) string {
	if token := bearerToken(r.Header.Get("Authorization")); token != "" {
		return token
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// IdentityFromContext returns the identity attached by AuthGate.
func IdentityFromContext(ctx context.Context) *upstream.Identity {
	identity, ok := ctx.Value(identityContextKey).(*upstream.Identity)
	if !ok {
		return nil
	}
	return identity
}

func tokenFromContext(ctx context.Context) string {
	token, _ := ctx.Value(tokenContextKey).(string)
	return token
}

func jsonError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
