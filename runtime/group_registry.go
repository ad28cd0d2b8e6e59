package runtime

import (
	"fmt"
	"sync"

	"github.com/samber/lo"

	"groupchat/contract"
	"groupchat/domain"
	"groupchat/errors"
)

// GroupRegistry is the ordered collection of live groups. Its mutex
// protects the collection's shape only; each group guards its own
// membership. The lock is held across every check-then-act sequence, so a
// delete cannot interleave with a create or find on the same name.
type GroupRegistry struct {
	mu            sync.Mutex
	maxGroups     int
	groupCapacity int
	hasher        contract.PasswordHasher
	groups        map[string]*domain.Group
	order         []string // creation order, for listings
}

func NewGroupRegistry(maxGroups, groupCapacity int, hasher contract.PasswordHasher) *GroupRegistry {
	return &GroupRegistry{
		maxGroups:     maxGroups,
		groupCapacity: groupCapacity,
		hasher:        hasher,
		groups:        make(map[string]*domain.Group),
	}
}

// Create inserts a new empty group. Name matching is case-sensitive.
func (r *GroupRegistry) Create(name, password, creator string) error {
	if len(name) < domain.MinGroupNameLength {
		return errors.ErrGroupNameTooShort
	}

	encoded, err := r.hasher.Hash(password)
	if err != nil {
		return fmt.Errorf("hashing group password: %w", err)
	}
	verify := func(supplied string) bool {
		match, cmpErr := r.hasher.Compare(supplied, encoded)
		return cmpErr == nil && match
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.groups[name]; ok {
		return errors.ErrGroupExists
	}
	if len(r.groups) >= r.maxGroups {
		return errors.ErrGroupRegistryFull
	}

	r.groups[name] = domain.NewGroup(name, creator, r.groupCapacity, verify)
	r.order = append(r.order, name)
	return nil
}

// Delete removes the registry entry. The caller must already have evicted
// and notified the members: this step only affects existence.
func (r *GroupRegistry) Delete(name, requester string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.groups[name]
	if !ok {
		return errors.ErrGroupNotFound
	}
	if g.Creator() != requester {
		return errors.ErrNotOwner
	}

	delete(r.groups, name)
	r.order = lo.Without(r.order, name)
	return nil
}

func (r *GroupRegistry) Find(name string) (*domain.Group, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.groups[name]
	return g, ok
}

// Snapshot returns the live groups in creation order.
func (r *GroupRegistry) Snapshot() []*domain.Group {
	r.mu.Lock()
	defer r.mu.Unlock()

	return lo.FilterMap(r.order, func(name string, _ int) (*domain.Group, bool) {
		g, ok := r.groups[name]
		return g, ok
	})
}

func (r *GroupRegistry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.groups)
}
