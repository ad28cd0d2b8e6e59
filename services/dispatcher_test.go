package services_test

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"groupchat/domain"
	"groupchat/errors"
	"groupchat/moderation"
	"groupchat/observability"
	"groupchat/runtime"
	"groupchat/services"
)

// fakeStore is an in-memory credential store, enough for dispatcher tests.
type fakeStore struct {
	mu    sync.Mutex
	users map[string]string
}

func (s *fakeStore) Exists(username string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.users[username]
	return ok, nil
}

func (s *fakeStore) Insert(username, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[username]; ok {
		return errors.ErrUsernameTaken
	}
	s.users[username] = passwordHash
	return nil
}

func (s *fakeStore) FetchHash(username string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	hash, ok := s.users[username]
	if !ok {
		return "", errors.ErrUnknownUser
	}
	return hash, nil
}

// plainHasher is a deterministic stand-in; argon2 has its own tests.
type plainHasher struct{}

func (plainHasher) Hash(password string) (string, error) { return "plain:" + password, nil }
func (plainHasher) Compare(password, encodedHash string) (bool, error) {
	return encodedHash == "plain:"+password, nil
}

type recordingSink struct {
	mu      sync.Mutex
	records []domain.Record
}

func (s *recordingSink) Send(record domain.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, record)
	return nil
}

func (s *recordingSink) Records() []domain.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Record(nil), s.records...)
}

func (s *recordingSink) Last() domain.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.records) == 0 {
		return domain.Record{}
	}
	return s.records[len(s.records)-1]
}

func (s *recordingSink) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = nil
}

type harness struct {
	t          *testing.T
	dispatcher *services.Dispatcher
	sessions   *runtime.SessionRegistry
	groups     *runtime.GroupRegistry
}

type testClient struct {
	id   uuid.UUID
	sink *recordingSink
}

func newHarness(t *testing.T, maxClients, maxGroups, groupCapacity int) *harness {
	return newHarnessWithModerator(t, maxClients, maxGroups, groupCapacity, nil)
}

func newHarnessWithModerator(t *testing.T, maxClients, maxGroups, groupCapacity int, moderator *moderation.Moderator) *harness {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := &fakeStore{users: make(map[string]string)}
	hasher := plainHasher{}
	sessions := runtime.NewSessionRegistry(maxClients)
	groups := runtime.NewGroupRegistry(maxGroups, groupCapacity, hasher)
	monitoring := observability.NewMonitoringManager(logger)
	authSvc := services.NewAuthService(store, hasher, time.Hour)

	d := services.NewDispatcher(logger, authSvc, sessions, groups, moderator, monitoring, domain.MaxTextLength)
	return &harness{t: t, dispatcher: d, sessions: sessions, groups: groups}
}

func (h *harness) connect() *testClient {
	c := &testClient{id: uuid.New(), sink: &recordingSink{}}
	h.dispatcher.Attach(c.id, c.sink)
	return c
}

// loginAs connects, registers and logs in a user, clearing the responses.
func (h *harness) loginAs(username string) *testClient {
	c := h.connect()
	h.dispatcher.Handle(c.id, domain.Record{Kind: domain.KindRegister, Username: username, Password: "s3cret"})
	require.Equal(h.t, domain.KindSuccess, c.sink.Last().Kind, "register %s: %s", username, c.sink.Last().Text)
	h.dispatcher.Handle(c.id, domain.Record{Kind: domain.KindLogin, Username: username, Password: "s3cret"})
	require.Equal(h.t, domain.KindSuccess, c.sink.Last().Kind, "login %s: %s", username, c.sink.Last().Text)
	c.sink.Clear()
	return c
}

func TestDispatcher_RegisterAndLogin(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, 10, 10, 10)

	alice := h.connect()
	h.dispatcher.Handle(alice.id, domain.Record{Kind: domain.KindRegister, Username: "alice", Password: "s3cret"})
	req.Equal(domain.NewSuccess("Registration successful"), alice.sink.Last())

	// Duplicate registration.
	h.dispatcher.Handle(alice.id, domain.Record{Kind: domain.KindRegister, Username: "alice", Password: "other1"})
	req.Equal(domain.KindError, alice.sink.Last().Kind)
	req.Equal("Registration failed: username already taken", alice.sink.Last().Text)

	// Wrong password.
	h.dispatcher.Handle(alice.id, domain.Record{Kind: domain.KindLogin, Username: "alice", Password: "wrong1"})
	req.Equal("Invalid username or password", alice.sink.Last().Text)

	// Successful login returns the session token in the password field.
	h.dispatcher.Handle(alice.id, domain.Record{Kind: domain.KindLogin, Username: "alice", Password: "s3cret"})
	resp := alice.sink.Last()
	req.Equal(domain.KindSuccess, resp.Kind)
	req.Equal("Login successful", resp.Text)
	req.NotEmpty(resp.Password)

	// Logging in twice on the same connection.
	h.dispatcher.Handle(alice.id, domain.Record{Kind: domain.KindLogin, Username: "alice", Password: "s3cret"})
	req.Equal("Already logged in", alice.sink.Last().Text)

	// The same account from a second connection.
	intruder := h.connect()
	h.dispatcher.Handle(intruder.id, domain.Record{Kind: domain.KindLogin, Username: "alice", Password: "s3cret"})
	req.Equal("User already logged in", intruder.sink.Last().Text)
}

func TestDispatcher_LoginValidation(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, 10, 10, 10)

	c := h.connect()
	h.dispatcher.Handle(c.id, domain.Record{Kind: domain.KindLogin, Username: "al", Password: "s3cret"})
	req.Equal(domain.KindError, c.sink.Last().Kind)

	h.dispatcher.Handle(c.id, domain.Record{Kind: domain.KindRegister, Username: "alice", Password: strings.Repeat("x", 65)})
	req.Equal(domain.KindError, c.sink.Last().Kind)
}

func TestDispatcher_ServerFull(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, 1, 10, 10)

	h.loginAs("alice")

	bob := h.connect()
	h.dispatcher.Handle(bob.id, domain.Record{Kind: domain.KindRegister, Username: "bob", Password: "s3cret"})
	h.dispatcher.Handle(bob.id, domain.Record{Kind: domain.KindLogin, Username: "bob", Password: "s3cret"})
	req.Equal("Server full, try again later", bob.sink.Last().Text)
}

func TestDispatcher_RequiresAuthentication(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, 10, 10, 10)

	c := h.connect()
	for _, kind := range []domain.Kind{
		domain.KindCreateGroup, domain.KindEnterGroup, domain.KindLeaveGroup,
		domain.KindDeleteGroup, domain.KindMessage, domain.KindDirectMessage,
		domain.KindListGroups, domain.KindListMembers,
	} {
		h.dispatcher.Handle(c.id, domain.Record{
			Kind: kind, Username: "bob", Group: "general", Password: "s3cret", Text: "hi",
		})
		req.Equal(domain.KindError, c.sink.Last().Kind, "kind %s", kind)
		req.Equal("Not authenticated", c.sink.Last().Text, "kind %s", kind)
	}
}

func TestDispatcher_GroupLifecycleAndBroadcast(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, 10, 10, 10)

	alice := h.loginAs("alice")
	bob := h.loginAs("bob")

	// Alice creates and enters the group.
	h.dispatcher.Handle(alice.id, domain.Record{Kind: domain.KindCreateGroup, Group: "general", Password: "gr0up"})
	req.Equal(domain.NewSuccess("Group created successfully"), alice.sink.Last())
	h.dispatcher.Handle(alice.id, domain.Record{Kind: domain.KindEnterGroup, Group: "general", Password: "gr0up"})
	req.Equal("Joined group successfully", alice.sink.Last().Text)
	alice.sink.Clear()

	// Bob cannot enter with the wrong password.
	h.dispatcher.Handle(bob.id, domain.Record{Kind: domain.KindEnterGroup, Group: "general", Password: "wrong1"})
	req.Equal("Incorrect group password", bob.sink.Last().Text)

	// Bob joins; Alice is notified.
	h.dispatcher.Handle(bob.id, domain.Record{Kind: domain.KindEnterGroup, Group: "general", Password: "gr0up"})
	req.Equal("Joined group successfully", bob.sink.Last().Text)
	req.Equal(domain.KindNotification, alice.sink.Last().Kind)
	req.Equal("bob has joined the group", alice.sink.Last().Text)
	alice.sink.Clear()
	bob.sink.Clear()

	// Alice's message reaches Bob only; Alice gets a silent ack.
	h.dispatcher.Handle(alice.id, domain.Record{Kind: domain.KindMessage, Text: "hello there"})
	req.Equal(domain.NewSuccess(""), alice.sink.Last())

	records := bob.sink.Records()
	req.Len(records, 1)
	req.Equal(domain.KindMessage, records[0].Kind)
	req.Equal("alice", records[0].Username)
	req.Equal("hello there", records[0].Text)
	req.False(records[0].Timestamp.IsZero())
}

func TestDispatcher_MessageRequiresGroup(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, 10, 10, 10)

	alice := h.loginAs("alice")
	h.dispatcher.Handle(alice.id, domain.Record{Kind: domain.KindMessage, Text: "hello"})
	req.Equal("Not in any group", alice.sink.Last().Text)

	h.dispatcher.Handle(alice.id, domain.Record{Kind: domain.KindMessage, Text: strings.Repeat("x", domain.MaxTextLength+1)})
	req.Equal(domain.KindError, alice.sink.Last().Kind)
}

func TestDispatcher_SwitchGroups(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, 10, 10, 10)

	alice := h.loginAs("alice")
	bob := h.loginAs("bob")

	h.dispatcher.Handle(alice.id, domain.Record{Kind: domain.KindCreateGroup, Group: "first", Password: "gr0up"})
	h.dispatcher.Handle(alice.id, domain.Record{Kind: domain.KindCreateGroup, Group: "second", Password: "gr0up"})
	h.dispatcher.Handle(alice.id, domain.Record{Kind: domain.KindEnterGroup, Group: "first", Password: "gr0up"})
	h.dispatcher.Handle(bob.id, domain.Record{Kind: domain.KindEnterGroup, Group: "first", Password: "gr0up"})
	alice.sink.Clear()

	// Switching groups leaves the old one and notifies its members.
	h.dispatcher.Handle(bob.id, domain.Record{Kind: domain.KindEnterGroup, Group: "second", Password: "gr0up"})
	req.Equal("Joined group successfully", bob.sink.Last().Text)
	req.Equal("bob has left the group first", alice.sink.Last().Text)

	bobSession, ok := h.sessions.FindByConn(bob.id)
	req.True(ok)
	req.Equal("second", bobSession.CurrentGroup())

	first, _ := h.groups.Find("first")
	req.Equal(1, first.MemberCount())
}

func TestDispatcher_LeaveGroup(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, 10, 10, 10)

	alice := h.loginAs("alice")
	bob := h.loginAs("bob")

	h.dispatcher.Handle(alice.id, domain.Record{Kind: domain.KindLeaveGroup})
	req.Equal("Not in any group", alice.sink.Last().Text)

	h.dispatcher.Handle(alice.id, domain.Record{Kind: domain.KindCreateGroup, Group: "general", Password: "gr0up"})
	h.dispatcher.Handle(alice.id, domain.Record{Kind: domain.KindEnterGroup, Group: "general", Password: "gr0up"})
	h.dispatcher.Handle(bob.id, domain.Record{Kind: domain.KindEnterGroup, Group: "general", Password: "gr0up"})
	alice.sink.Clear()

	h.dispatcher.Handle(bob.id, domain.Record{Kind: domain.KindLeaveGroup})
	req.Equal("Left group successfully", bob.sink.Last().Text)
	req.Equal("bob has left the group", alice.sink.Last().Text)

	bobSession, _ := h.sessions.FindByConn(bob.id)
	req.Equal("", bobSession.CurrentGroup())
}

func TestDispatcher_DeleteGroup(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, 10, 10, 10)

	alice := h.loginAs("alice")
	bob := h.loginAs("bob")

	h.dispatcher.Handle(alice.id, domain.Record{Kind: domain.KindCreateGroup, Group: "doomed", Password: "gr0up"})
	h.dispatcher.Handle(alice.id, domain.Record{Kind: domain.KindEnterGroup, Group: "doomed", Password: "gr0up"})
	h.dispatcher.Handle(bob.id, domain.Record{Kind: domain.KindEnterGroup, Group: "doomed", Password: "gr0up"})
	alice.sink.Clear()
	bob.sink.Clear()

	// Only the creator may delete.
	h.dispatcher.Handle(bob.id, domain.Record{Kind: domain.KindDeleteGroup, Group: "doomed"})
	req.Equal("Failed to delete group: not owner", bob.sink.Last().Text)

	h.dispatcher.Handle(bob.id, domain.Record{Kind: domain.KindDeleteGroup, Group: "ghost"})
	req.Equal("Group does not exist", bob.sink.Last().Text)
	bob.sink.Clear()

	// The owner's delete notifies every member, including the owner.
	h.dispatcher.Handle(alice.id, domain.Record{Kind: domain.KindDeleteGroup, Group: "doomed"})
	req.Equal("Group deleted successfully", alice.sink.Last().Text)

	notice := "Group 'doomed' is being deleted by owner. You have been removed from it."
	req.Equal(notice, bob.sink.Last().Text)
	records := alice.sink.Records()
	req.Equal(notice, records[0].Text)

	_, ok := h.groups.Find("doomed")
	req.False(ok)

	bobSession, _ := h.sessions.FindByConn(bob.id)
	req.Equal("", bobSession.CurrentGroup())

	// Messaging into the void after deletion.
	h.dispatcher.Handle(bob.id, domain.Record{Kind: domain.KindMessage, Text: "anyone?"})
	req.Equal("Not in any group", bob.sink.Last().Text)
}

func TestDispatcher_DirectMessage(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, 10, 10, 10)

	alice := h.loginAs("alice")
	bob := h.loginAs("bob")

	h.dispatcher.Handle(alice.id, domain.Record{Kind: domain.KindDirectMessage, Username: "alice", Text: "hi me"})
	req.Equal("Cannot send direct message to yourself.", alice.sink.Last().Text)

	h.dispatcher.Handle(alice.id, domain.Record{Kind: domain.KindDirectMessage, Username: "ghost", Text: "hello?"})
	req.Equal("Recipient not found or not online.", alice.sink.Last().Text)

	// Direct messages work regardless of group membership.
	h.dispatcher.Handle(alice.id, domain.Record{Kind: domain.KindDirectMessage, Username: "bob", Text: "psst"})
	req.Equal("Direct message sent to bob", alice.sink.Last().Text)

	dm := bob.sink.Last()
	req.Equal(domain.KindDirectMessage, dm.Kind)
	req.Equal("alice", dm.Username)
	req.Equal("psst", dm.Text)
}

func TestDispatcher_Listings(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, 10, 10, 10)

	alice := h.loginAs("alice")
	bob := h.loginAs("bob")

	h.dispatcher.Handle(alice.id, domain.Record{Kind: domain.KindListGroups})
	req.Equal(domain.KindNotification, alice.sink.Last().Kind)
	req.Equal("No groups available.", alice.sink.Last().Text)

	h.dispatcher.Handle(alice.id, domain.Record{Kind: domain.KindCreateGroup, Group: "general", Password: "gr0up"})
	h.dispatcher.Handle(alice.id, domain.Record{Kind: domain.KindCreateGroup, Group: "random", Password: "gr0up"})
	h.dispatcher.Handle(alice.id, domain.Record{Kind: domain.KindEnterGroup, Group: "general", Password: "gr0up"})
	h.dispatcher.Handle(bob.id, domain.Record{Kind: domain.KindEnterGroup, Group: "general", Password: "gr0up"})

	h.dispatcher.Handle(alice.id, domain.Record{Kind: domain.KindListGroups})
	listing := alice.sink.Last().Text
	req.Equal(
		"Available groups (2):\n- general (Creator: alice, Members: 2/10)\n- random (Creator: alice, Members: 0/10)",
		listing,
	)

	h.dispatcher.Handle(bob.id, domain.Record{Kind: domain.KindListMembers})
	req.Equal(
		"Members in 'general' (2/10):\n- alice (Creator)\n- bob",
		bob.sink.Last().Text,
	)

	// Members listing needs a current group.
	clara := h.loginAs("clara")
	h.dispatcher.Handle(clara.id, domain.Record{Kind: domain.KindListMembers})
	req.Equal("Not in any group", clara.sink.Last().Text)
}

func TestDispatcher_LogoutAndDisconnect(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, 10, 10, 10)

	alice := h.loginAs("alice")
	bob := h.loginAs("bob")

	h.dispatcher.Handle(alice.id, domain.Record{Kind: domain.KindCreateGroup, Group: "general", Password: "gr0up"})
	h.dispatcher.Handle(alice.id, domain.Record{Kind: domain.KindEnterGroup, Group: "general", Password: "gr0up"})
	h.dispatcher.Handle(bob.id, domain.Record{Kind: domain.KindEnterGroup, Group: "general", Password: "gr0up"})
	alice.sink.Clear()

	// Logout leaves the group with a notification and frees the username.
	h.dispatcher.Handle(bob.id, domain.Record{Kind: domain.KindLogout})
	req.Equal("Logged out", bob.sink.Last().Text)
	req.Equal("bob has left the group", alice.sink.Last().Text)
	_, ok := h.sessions.FindByUsername("bob")
	req.False(ok)

	// Logout twice is harmless.
	h.dispatcher.Handle(bob.id, domain.Record{Kind: domain.KindLogout})
	req.Equal("Logged out", bob.sink.Last().Text)
	alice.sink.Clear()

	// Disconnect runs the same teardown without a response.
	h.dispatcher.OnDisconnect(alice.id)
	_, ok = h.sessions.FindByUsername("alice")
	req.False(ok)
	req.Equal(0, h.sessions.Count())

	general, _ := h.groups.Find("general")
	req.Equal(0, general.MemberCount())

	// The username is immediately reusable.
	again := h.connect()
	h.dispatcher.Handle(again.id, domain.Record{Kind: domain.KindLogin, Username: "alice", Password: "s3cret"})
	req.Equal("Login successful", again.sink.Last().Text)
}

func TestDispatcher_DisconnectNotifiesGroup(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, 10, 10, 10)

	alice := h.loginAs("alice")
	bob := h.loginAs("bob")

	h.dispatcher.Handle(alice.id, domain.Record{Kind: domain.KindCreateGroup, Group: "general", Password: "gr0up"})
	h.dispatcher.Handle(alice.id, domain.Record{Kind: domain.KindEnterGroup, Group: "general", Password: "gr0up"})
	h.dispatcher.Handle(bob.id, domain.Record{Kind: domain.KindEnterGroup, Group: "general", Password: "gr0up"})
	alice.sink.Clear()

	h.dispatcher.OnDisconnect(bob.id)
	req.Equal("bob has disconnected", alice.sink.Last().Text)
}

func TestDispatcher_UnknownCommand(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, 10, 10, 10)

	c := h.connect()
	h.dispatcher.Handle(c.id, domain.Record{Kind: "teleport"})
	req.Equal("Unknown command", c.sink.Last().Text)
}

func TestDispatcher_CensorsMessages(t *testing.T) {
	req := require.New(t)
	moderator, err := moderation.NewModerator([]string{"idiot"}, '*')
	require.NoError(t, err)
	h := newHarnessWithModerator(t, 10, 10, 10, moderator)

	alice := h.loginAs("alice")
	bob := h.loginAs("bob")
	h.dispatcher.Handle(alice.id, domain.Record{Kind: domain.KindCreateGroup, Group: "general", Password: "gr0up"})
	h.dispatcher.Handle(alice.id, domain.Record{Kind: domain.KindEnterGroup, Group: "general", Password: "gr0up"})
	h.dispatcher.Handle(bob.id, domain.Record{Kind: domain.KindEnterGroup, Group: "general", Password: "gr0up"})
	bob.sink.Clear()

	h.dispatcher.Handle(alice.id, domain.Record{Kind: domain.KindMessage, Text: "you absolute idiot"})
	req.Equal("you absolute *****", bob.sink.Last().Text)
}

func TestDispatcher_ConcurrentBroadcasts(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, 50, 10, 50)

	members := make([]*testClient, 0, 10)
	for i := 0; i < 10; i++ {
		c := h.loginAs(fmt.Sprintf("user%d", i))
		members = append(members, c)
	}

	h.dispatcher.Handle(members[0].id, domain.Record{Kind: domain.KindCreateGroup, Group: "general", Password: "gr0up"})
	for _, c := range members {
		h.dispatcher.Handle(c.id, domain.Record{Kind: domain.KindEnterGroup, Group: "general", Password: "gr0up"})
	}
	for _, c := range members {
		c.sink.Clear()
	}

	var wg sync.WaitGroup
	for _, c := range members {
		wg.Add(1)
		go func(c *testClient) {
			defer wg.Done()
			h.dispatcher.Handle(c.id, domain.Record{Kind: domain.KindMessage, Text: "ping"})
		}(c)
	}
	wg.Wait()

	// Every member receives one message per other sender, none from itself.
	for _, c := range members {
		var chat int
		for _, rec := range c.sink.Records() {
			if rec.Kind == domain.KindMessage {
				chat++
			}
		}
		req.Equal(len(members)-1, chat)
	}
}
