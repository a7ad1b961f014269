package session

import (
	"crypto/rand"
	"log/slog"
	"sync"

	"github.com/aelira-dev/aelira/internal/source"
)

const (
	idLength   = 16
	idAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

// Registry is the process-wide session table. Sessions live for the
// lifetime of the process; a reconnecting client resumes by id.
type Registry struct {
	sources *source.Registry
	log     *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry returns an empty session registry.
func NewRegistry(sources *source.Registry, log *slog.Logger) *Registry {
	return &Registry{
		sources:  sources,
		log:      log,
		sessions: make(map[string]*Session),
	}
}

// Create registers a new session with a fresh id.
func (r *Registry) Create(userID, clientName string, outbound chan []byte) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := generateID()
	for r.sessions[id] != nil {
		id = generateID()
	}
	s := newSession(id, userID, clientName, outbound, r.sources, r.log)
	r.sessions[id] = s
	return s
}

// Resume swaps the outbound channel of an existing session onto a new
// socket. It reports false when the id is unknown.
func (r *Registry) Resume(id string, outbound chan []byte) (*Session, bool) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	r.mu.Unlock()
	if !ok {
		return nil, false
	}
	s.attach(outbound)
	return s, true
}

// Lookup returns a session by id.
func (r *Registry) Lookup(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// All returns a snapshot of the live sessions.
func (r *Registry) All() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// generateID produces a 16-char alphanumeric session id.
func generateID() string {
	raw := make([]byte, idLength)
	rand.Read(raw)
	id := make([]byte, idLength)
	for i, b := range raw {
		id[i] = idAlphabet[int(b)%len(idAlphabet)]
	}
	return string(id)
}
