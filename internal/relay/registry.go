package relay

import (
	"errors"
	"sync"

	"github.com/emostream/relay/internal/hume"
)

var (
	// ErrSessionExists is returned when a client already has an active session
	ErrSessionExists = errors.New("session already exists")

	// ErrSessionNotFound is returned when no session is registered for a client
	ErrSessionNotFound = errors.New("session not found")
)

// UpstreamSession is the registry's view of one upstream streaming connection
type UpstreamSession interface {
	Connect() error
	SubmitFrame(media string, kind hume.MediaKind)
	Close()
}

// Registry maps each connected client to its single upstream session. It
// enforces at-most-one session per client and drives teardown.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]UpstreamSession
}

// NewRegistry creates an empty session registry
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]UpstreamSession),
	}
}

// Create registers a session for the client. Creation is not idempotent: a
// second session for the same client fails with ErrSessionExists.
func (r *Registry) Create(clientID string, session UpstreamSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[clientID]; exists {
		return ErrSessionExists
	}

	r.sessions[clientID] = session
	return nil
}

// Get returns the client's session, or ErrSessionNotFound.
func (r *Registry) Get(clientID string) (UpstreamSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, exists := r.sessions[clientID]
	if !exists {
		return nil, ErrSessionNotFound
	}

	return session, nil
}

// Destroy closes the client's upstream session and removes the registry
// entry, reporting whether an entry was removed. Calling it again is a no-op,
// not an error.
func (r *Registry) Destroy(clientID string) bool {
	r.mu.Lock()
	session, exists := r.sessions[clientID]
	delete(r.sessions, clientID)
	r.mu.Unlock()

	if exists {
		session.Close()
	}

	return exists
}

// Count returns the number of active sessions
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
