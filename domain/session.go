package domain

import (
	"sync/atomic"

	"github.com/google/uuid"
)

// MessageSink is one connection's outbound path. Implementations must be
// safe for concurrent use and must not block indefinitely: a broadcast
// sends to many sinks in sequence after releasing the group lock.
type MessageSink interface {
	Send(record Record) error
}

// Session is the server-side record of one authenticated, connected user.
// It is owned by the session registry and looked up by connection id or
// username. The current group field mirrors the owning Group's member set:
// it is only ever written while holding that Group's lock, and read
// atomically from any goroutine.
type Session struct {
	Username string
	ConnID   uuid.UUID
	Sink     MessageSink

	currentGroup atomic.Value // string
}

func NewSession(username string, connID uuid.UUID, sink MessageSink) *Session {
	s := &Session{Username: username, ConnID: connID, Sink: sink}
	s.currentGroup.Store("")
	return s
}

// CurrentGroup returns the name of the group the session is in, or "".
func (s *Session) CurrentGroup() string {
	v, _ := s.currentGroup.Load().(string)
	return v
}

// setCurrentGroup is called by Group under its own lock, so that the field
// never diverges from the group's member set.
func (s *Session) setCurrentGroup(name string) {
	s.currentGroup.Store(name)
}
