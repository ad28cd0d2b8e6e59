// Package runtime owns the shared mutable state of the server: the live
// session collection and the group collection. It contains no protocol or
// transport logic.
package runtime

import (
	"sync"

	"github.com/google/uuid"

	"groupchat/domain"
	"groupchat/errors"
)

// SessionRegistry is the set of authenticated, connected users. One mutex
// guards both the collection's shape and the username-uniqueness check, so
// two concurrent logins with the same name serialize here and at most one
// succeeds.
type SessionRegistry struct {
	mu       sync.Mutex
	capacity int
	byConn   map[uuid.UUID]*domain.Session
	byUser   map[string]*domain.Session
}

func NewSessionRegistry(capacity int) *SessionRegistry {
	return &SessionRegistry{
		capacity: capacity,
		byConn:   make(map[uuid.UUID]*domain.Session),
		byUser:   make(map[string]*domain.Session),
	}
}

// Add creates a session for a freshly authenticated connection.
// Fails with ErrAlreadyLoggedIn if a live session already holds the
// username, and with ErrServerFull at capacity.
func (r *SessionRegistry) Add(username string, connID uuid.UUID, sink domain.MessageSink) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byUser[username]; ok {
		return nil, errors.ErrAlreadyLoggedIn
	}
	if len(r.byConn) >= r.capacity {
		return nil, errors.ErrServerFull
	}

	s := domain.NewSession(username, connID, sink)
	r.byConn[connID] = s
	r.byUser[username] = s
	return s, nil
}

// Remove drops the session for this connection. Removing an unknown
// connection is a no-op.
func (r *SessionRegistry) Remove(connID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.byConn[connID]
	if !ok {
		return
	}
	delete(r.byConn, connID)
	delete(r.byUser, s.Username)
}

func (r *SessionRegistry) FindByConn(connID uuid.UUID) (*domain.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byConn[connID]
	return s, ok
}

func (r *SessionRegistry) FindByUsername(username string) (*domain.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byUser[username]
	return s, ok
}

func (r *SessionRegistry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byConn)
}
