package domain

import (
	"sync"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"groupchat/errors"
)

// Group is one chat room: membership, password and broadcast fan-out.
// Membership and every session's currentGroup pointer are mutated together
// under the group's own lock, so a broadcast snapshot can never observe a
// half-updated membership. The registry lock protects existence, not this.
type Group struct {
	name     string
	creator  string
	capacity int

	verify func(password string) bool

	mu      sync.Mutex
	closed  bool
	members map[uuid.UUID]*Session
}

// Member is a read-only view of one group member, used by listings.
type Member struct {
	Username  string
	IsCreator bool
}

// NewGroup builds an empty group. verify is the password check, prepared by
// the registry so the group never sees plaintext storage concerns.
func NewGroup(name, creator string, capacity int, verify func(password string) bool) *Group {
	return &Group{
		name:     name,
		creator:  creator,
		capacity: capacity,
		verify:   verify,
		members:  make(map[uuid.UUID]*Session),
	}
}

func (g *Group) Name() string    { return g.name }
func (g *Group) Creator() string { return g.creator }

// VerifyPassword checks the supplied password against the stored hash.
func (g *Group) VerifyPassword(password string) bool {
	return g.verify(password)
}

// Join adds the session as a member and points its currentGroup here, both
// under the group lock. Joining a group you are already in succeeds.
func (g *Group) Join(s *Session) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		// Deletion won the race between find and join.
		return errors.ErrGroupNotFound
	}
	if _, ok := g.members[s.ConnID]; ok {
		return nil
	}
	if len(g.members) >= g.capacity {
		return errors.ErrGroupFull
	}
	g.members[s.ConnID] = s
	s.setCurrentGroup(g.name)
	return nil
}

// Leave removes the session and clears its currentGroup.
func (g *Group) Leave(s *Session) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.members[s.ConnID]; !ok {
		return errors.ErrNotMember
	}
	delete(g.members, s.ConnID)
	s.setCurrentGroup("")
	return nil
}

// EvictAll clears the whole membership and marks the group closed, so a
// concurrent Join observes the deletion. Called by the dispatcher right
// before the registry entry is removed.
func (g *Group) EvictAll() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.closed = true
	for id, s := range g.members {
		s.setCurrentGroup("")
		delete(g.members, id)
	}
}

// Broadcast delivers the record to every current member except the excluded
// connection. The member list is snapshotted under the lock and the sends
// happen after it is released: a slow or dead peer must not stall joins,
// leaves or deletes on this group. Delivery is best-effort; a failed send
// surfaces later as that member's own disconnect.
func (g *Group) Broadcast(record Record, exclude uuid.UUID) {
	g.mu.Lock()
	sinks := make([]MessageSink, 0, len(g.members))
	for id, s := range g.members {
		if id == exclude {
			continue
		}
		sinks = append(sinks, s.Sink)
	}
	g.mu.Unlock()

	for _, sink := range sinks {
		_ = sink.Send(record)
	}
}

// MemberCount returns the current membership size.
func (g *Group) MemberCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.members)
}

// Capacity returns the configured membership ceiling.
func (g *Group) Capacity() int { return g.capacity }

// Members returns a snapshot of the membership for listings.
func (g *Group) Members() []Member {
	g.mu.Lock()
	sessions := lo.Values(g.members)
	g.mu.Unlock()

	return lo.Map(sessions, func(s *Session, _ int) Member {
		return Member{Username: s.Username, IsCreator: s.Username == g.creator}
	})
}
