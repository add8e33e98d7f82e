package gateway

import "errors"

var (
	// ErrUnauthenticated means the connection attempt carried no credential.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrInvalidCredential means the identity service rejected the credential
	// or could not be reached.
	ErrInvalidCredential = errors.New("invalid credential")
	// ErrRateLimited means a message exceeded the sender's window.
	ErrRateLimited = errors.New("rate limited")
	// ErrLinkRejected means a message linked to a domain outside the allowlist.
	ErrLinkRejected = errors.New("link rejected")
	// ErrPersistenceWriteFailed wraps failures of the persistence mirror.
	ErrPersistenceWriteFailed = errors.New("persistence write failed")
	// ErrHubClosed is returned when an event is submitted after shutdown.
	ErrHubClosed = errors.New("hub closed")
)
