package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(srv.URL+"/", time.Second, zerolog.Nop())
}

// TestAuthenticate covers identity lookups.
func TestAuthenticate(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantID  string
		wantErr error
	}{
		{"numeric id", http.StatusOK, `{"id":7,"name":"Ana","email":"ana@example.com"}`, "7", nil},
		{"string id", http.StatusOK, `{"id":"u-1"}`, "u-1", nil},
		{"unauthorized", http.StatusUnauthorized, `{"message":"Unauthenticated."}`, "", ErrRejected},
		{"server error", http.StatusInternalServerError, ``, "", ErrRejected},
		{"not json", http.StatusOK, `<html>login</html>`, "", ErrMalformedIdentity},
		{"array", http.StatusOK, `[1,2]`, "", ErrMalformedIdentity},
		{"missing id", http.StatusOK, `{"name":"Ana"}`, "", ErrMalformedIdentity},
		{"null id", http.StatusOK, `{"id":null}`, "", ErrMalformedIdentity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/api/user" || r.Method != http.MethodGet {
					t.Errorf("Unexpected request %s %s", r.Method, r.URL.Path)
				}
				if got := r.Header.Get("Authorization"); got != "Bearer tok" {
					t.Errorf("Unexpected Authorization header %q", got)
				}
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			})

			identity, err := client.Authenticate(context.Background(), "tok")
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if identity.ID != tt.wantID {
				t.Errorf("Expected id %q, got %q", tt.wantID, identity.ID)
			}
			if string(identity.Profile) != tt.body {
				t.Errorf("Expected raw profile to be kept, got %s", identity.Profile)
			}
		})
	}
}

// TestAuthenticateTimeout verifies that a slow identity service fails the lookup.
func TestAuthenticateTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	client := New(srv.URL, 50*time.Millisecond, zerolog.Nop())
	if _, err := client.Authenticate(context.Background(), "tok"); err == nil {
		t.Fatal("Expected a timeout error")
	}
}

// TestAuthenticateUnreachable verifies transport failures.
func TestAuthenticateUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client := New(url, time.Second, zerolog.Nop())
	if _, err := client.Authenticate(context.Background(), "tok"); err == nil {
		t.Fatal("Expected an error for an unreachable service")
	}
}

// TestSaveMessage verifies the persistence request shape and failures.
func TestSaveMessage(t *testing.T) {
	t.Run("accepted", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/api/chat/messages" || r.Method != http.MethodPost {
				t.Errorf("Unexpected request %s %s", r.Method, r.URL.Path)
			}
			if got := r.Header.Get("Authorization"); got != "Bearer tok" {
				t.Errorf("Unexpected Authorization header %q", got)
			}
			if got := r.Header.Get("Content-Type"); got != "application/json" {
				t.Errorf("Unexpected Content-Type %q", got)
			}
			var body map[string]string
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Errorf("Invalid body: %v", err)
			}
			if body["text"] != "hola" {
				t.Errorf("Unexpected body %v", body)
			}
			w.WriteHeader(http.StatusCreated)
		})

		if err := client.SaveMessage(context.Background(), "tok", map[string]string{"text": "hola"}); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
	})

	t.Run("rejected", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusUnprocessableEntity)
		})

		err := client.SaveMessage(context.Background(), "tok", map[string]string{"text": "hola"})
		if !errors.Is(err, ErrRejected) {
			t.Fatalf("Expected ErrRejected, got %v", err)
		}
	})

	t.Run("no token", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			if got := r.Header.Get("Authorization"); got != "" {
				t.Errorf("Expected no Authorization header, got %q", got)
			}
			w.WriteHeader(http.StatusOK)
		})

		if err := client.SaveMessage(context.Background(), "", map[string]string{}); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
	})
}
