package services

import (
	stderrors "errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"groupchat/auth"
	"groupchat/domain"
	"groupchat/errors"
	"groupchat/moderation"
	"groupchat/observability"
	"groupchat/runtime"
)

// Dispatcher is the per-connection protocol state machine. It validates
// every inbound record, applies it to the registries, and emits exactly
// one direct response per command plus zero or more notifications.
//
// The connection worker calls Attach once on connect, Handle once per
// received record, and OnDisconnect exactly once when the transport
// closes. All errors are recovered here and turned into error responses;
// none crash the worker.
type Dispatcher struct {
	log           *slog.Logger
	auth          IAuthService
	sessions      *runtime.SessionRegistry
	groups        *runtime.GroupRegistry
	moderator     *moderation.Moderator // nil disables masking
	metrics       *observability.MonitoringManager
	maxTextLength int
	clock         func() time.Time

	mu    sync.Mutex
	conns map[uuid.UUID]domain.MessageSink
}

func NewDispatcher(
	log *slog.Logger,
	authService IAuthService,
	sessions *runtime.SessionRegistry,
	groups *runtime.GroupRegistry,
	moderator *moderation.Moderator,
	metrics *observability.MonitoringManager,
	maxTextLength int,
) *Dispatcher {
	return &Dispatcher{
		log:           log,
		auth:          authService,
		sessions:      sessions,
		groups:        groups,
		moderator:     moderator,
		metrics:       metrics,
		maxTextLength: maxTextLength,
		clock:         time.Now,
		conns:         make(map[uuid.UUID]domain.MessageSink),
	}
}

// Attach registers the connection's outbound sink. Responses for commands
// received before authentication go through this table; sessions keep
// their own reference after login.
func (d *Dispatcher) Attach(connID uuid.UUID, sink domain.MessageSink) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.conns[connID] = sink
}

// Handle applies one inbound record and sends the direct response.
func (d *Dispatcher) Handle(connID uuid.UUID, rec domain.Record) {
	var resp domain.Record

	switch rec.Kind {
	case domain.KindRegister:
		resp = d.handleRegister(rec)
	case domain.KindLogin:
		resp = d.handleLogin(connID, rec)
	case domain.KindLogout:
		resp = d.handleLogout(connID)
	case domain.KindCreateGroup:
		resp = d.handleCreateGroup(connID, rec)
	case domain.KindEnterGroup:
		resp = d.handleEnterGroup(connID, rec)
	case domain.KindLeaveGroup:
		resp = d.handleLeaveGroup(connID)
	case domain.KindDeleteGroup:
		resp = d.handleDeleteGroup(connID, rec)
	case domain.KindMessage:
		resp = d.handleChatMessage(connID, rec)
	case domain.KindDirectMessage:
		resp = d.handleDirectMessage(connID, rec)
	case domain.KindListGroups:
		resp = d.handleListGroups(connID)
	case domain.KindListMembers:
		resp = d.handleListMembers(connID)
	default:
		resp = domain.NewError("Unknown command")
	}

	d.respond(connID, resp)
}

// OnDisconnect runs the connection teardown: notify the session's group,
// leave it, then drop the session and the sink. Mirrors LeaveGroup.
func (d *Dispatcher) OnDisconnect(connID uuid.UUID) {
	if sess, ok := d.sessions.FindByConn(connID); ok {
		if cur := sess.CurrentGroup(); cur != "" {
			if g, found := d.groups.Find(cur); found {
				g.Broadcast(domain.NewNotification(
					fmt.Sprintf("%s has disconnected", sess.Username)), connID)
				_ = g.Leave(sess)
			}
		}
		d.sessions.Remove(connID)
	}

	d.mu.Lock()
	delete(d.conns, connID)
	d.mu.Unlock()
}

func (d *Dispatcher) handleRegister(rec domain.Record) domain.Record {
	if err := d.auth.Register(rec.Username, rec.Password); err != nil {
		return errorRecord(err)
	}
	return domain.NewSuccess("Registration successful")
}

func (d *Dispatcher) handleLogin(connID uuid.UUID, rec domain.Record) domain.Record {
	creds := auth.Credentials{Username: rec.Username, Password: rec.Password}
	if err := auth.ValidateCredentials(creds); err != nil {
		return errorRecord(err)
	}

	if _, ok := d.sessions.FindByConn(connID); ok {
		return domain.NewError("Already logged in")
	}

	// Cheap pre-check; the registry re-checks under its own lock, which is
	// what actually enforces single-login under concurrency.
	if _, ok := d.sessions.FindByUsername(rec.Username); ok {
		return errorRecord(errors.ErrAlreadyLoggedIn)
	}

	token, err := d.auth.Login(rec.Username, rec.Password)
	if err != nil {
		return errorRecord(err)
	}

	sink := d.sinkFor(connID)
	if sink == nil {
		d.log.Warn("Login on unattached connection", "conn", connID)
		return domain.NewError("Connection not ready")
	}

	if _, err := d.sessions.Add(rec.Username, connID, sink); err != nil {
		return errorRecord(err)
	}

	resp := domain.NewSuccess("Login successful")
	// The fixed record has no token slot; the password field carries it
	// back to the client.
	resp.Password = string(token)
	return resp
}

func (d *Dispatcher) handleLogout(connID uuid.UUID) domain.Record {
	sess, ok := d.sessions.FindByConn(connID)
	if !ok {
		// Repeated logout is a no-op.
		return domain.NewSuccess("Logged out")
	}

	if cur := sess.CurrentGroup(); cur != "" {
		if g, found := d.groups.Find(cur); found {
			g.Broadcast(domain.NewNotification(
				fmt.Sprintf("%s has left the group", sess.Username)), connID)
			_ = g.Leave(sess)
		}
	}
	d.sessions.Remove(connID)
	return domain.NewSuccess("Logged out")
}

func (d *Dispatcher) handleCreateGroup(connID uuid.UUID, rec domain.Record) domain.Record {
	access := auth.GroupAccess{Name: rec.Group, Password: rec.Password}
	if err := auth.ValidateGroupAccess(access); err != nil {
		return errorRecord(err)
	}

	sess, ok := d.sessions.FindByConn(connID)
	if !ok {
		return errorRecord(errors.ErrNotAuthenticated)
	}

	if err := d.groups.Create(rec.Group, rec.Password, sess.Username); err != nil {
		return errorRecord(err)
	}
	return domain.NewSuccess("Group created successfully")
}

func (d *Dispatcher) handleEnterGroup(connID uuid.UUID, rec domain.Record) domain.Record {
	access := auth.GroupAccess{Name: rec.Group, Password: rec.Password}
	if err := auth.ValidateGroupAccess(access); err != nil {
		return errorRecord(err)
	}

	sess, ok := d.sessions.FindByConn(connID)
	if !ok {
		return errorRecord(errors.ErrNotAuthenticated)
	}

	// Leaving the previous group happens first, and its members are told.
	if cur := sess.CurrentGroup(); cur != "" {
		if old, found := d.groups.Find(cur); found {
			old.Broadcast(domain.NewNotification(
				fmt.Sprintf("%s has left the group %s", sess.Username, old.Name())), connID)
			_ = old.Leave(sess)
		}
	}

	g, found := d.groups.Find(rec.Group)
	if !found {
		return errorRecord(errors.ErrGroupNotFound)
	}
	if !g.VerifyPassword(rec.Password) {
		return errorRecord(errors.ErrWrongPassword)
	}
	if err := g.Join(sess); err != nil {
		return errorRecord(err)
	}

	g.Broadcast(domain.NewNotification(
		fmt.Sprintf("%s has joined the group", sess.Username)), connID)
	return domain.NewSuccess("Joined group successfully")
}

func (d *Dispatcher) handleLeaveGroup(connID uuid.UUID) domain.Record {
	sess, ok := d.sessions.FindByConn(connID)
	if !ok {
		return errorRecord(errors.ErrNotAuthenticated)
	}

	cur := sess.CurrentGroup()
	if cur == "" {
		return errorRecord(errors.ErrNotInGroup)
	}

	g, found := d.groups.Find(cur)
	if !found {
		// The group vanished under us; the eviction already cleared the
		// session's group field.
		return domain.NewError("Current group not found (might have been deleted)")
	}

	g.Broadcast(domain.NewNotification(
		fmt.Sprintf("%s has left the group", sess.Username)), connID)
	if err := g.Leave(sess); err != nil {
		return errorRecord(err)
	}
	return domain.NewSuccess("Left group successfully")
}

func (d *Dispatcher) handleDeleteGroup(connID uuid.UUID, rec domain.Record) domain.Record {
	if err := auth.ValidateGroupName(rec.Group); err != nil {
		return errorRecord(err)
	}

	sess, ok := d.sessions.FindByConn(connID)
	if !ok {
		return errorRecord(errors.ErrNotAuthenticated)
	}

	g, found := d.groups.Find(rec.Group)
	if !found {
		return errorRecord(errors.ErrGroupNotFound)
	}
	if g.Creator() != sess.Username {
		return errorRecord(errors.ErrNotOwner)
	}

	// Members are notified and evicted before the registry entry goes
	// away; the registry delete itself has no membership side effects.
	g.Broadcast(domain.NewNotification(fmt.Sprintf(
		"Group '%s' is being deleted by owner. You have been removed from it.", g.Name())),
		uuid.Nil)
	g.EvictAll()

	if err := d.groups.Delete(rec.Group, sess.Username); err != nil {
		return errorRecord(err)
	}
	return domain.NewSuccess("Group deleted successfully")
}

func (d *Dispatcher) handleChatMessage(connID uuid.UUID, rec domain.Record) domain.Record {
	sess, ok := d.sessions.FindByConn(connID)
	if !ok {
		return errorRecord(errors.ErrNotAuthenticated)
	}

	if err := auth.ValidateText(rec.Text, d.maxTextLength); err != nil {
		return errorRecord(err)
	}

	cur := sess.CurrentGroup()
	if cur == "" {
		return errorRecord(errors.ErrNotInGroup)
	}

	g, found := d.groups.Find(cur)
	if !found {
		return domain.NewError("Your current group no longer exists. Please leave and join another.")
	}

	text := rec.Text
	if d.moderator != nil {
		text = d.moderator.Censor(text)
		if text != rec.Text {
			d.metrics.IncrCensored()
		}
	}

	d.metrics.IncrGroupMessage()
	g.Broadcast(domain.Record{
		Kind:      domain.KindMessage,
		Username:  sess.Username,
		Text:      text,
		Timestamp: d.clock().UTC(),
	}, connID)

	// The sender gets a silent ack; their own message is never echoed.
	return domain.NewSuccess("")
}

func (d *Dispatcher) handleDirectMessage(connID uuid.UUID, rec domain.Record) domain.Record {
	sess, ok := d.sessions.FindByConn(connID)
	if !ok {
		return errorRecord(errors.ErrNotAuthenticated)
	}

	if rec.Username == "" || len(rec.Username) > domain.MaxUsernameLength {
		return domain.NewError("Invalid recipient username or message length.")
	}
	if err := auth.ValidateText(rec.Text, d.maxTextLength); err != nil {
		return errorRecord(err)
	}
	if rec.Username == sess.Username {
		return errorRecord(errors.ErrSelfTarget)
	}

	recipient, online := d.sessions.FindByUsername(rec.Username)
	if !online {
		return errorRecord(errors.ErrRecipientOffline)
	}

	d.metrics.IncrDirectMessage()
	_ = recipient.Sink.Send(domain.Record{
		Kind:      domain.KindDirectMessage,
		Username:  sess.Username,
		Text:      rec.Text,
		Timestamp: d.clock().UTC(),
	})
	return domain.NewSuccess(fmt.Sprintf("Direct message sent to %s", recipient.Username))
}

func (d *Dispatcher) handleListGroups(connID uuid.UUID) domain.Record {
	if _, ok := d.sessions.FindByConn(connID); !ok {
		return errorRecord(errors.ErrNotAuthenticated)
	}

	groups := d.groups.Snapshot()
	if len(groups) == 0 {
		return domain.NewNotification("No groups available.")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Available groups (%d):", len(groups))
	for _, g := range groups {
		fmt.Fprintf(&b, "\n- %s (Creator: %s, Members: %d/%d)",
			g.Name(), g.Creator(), g.MemberCount(), g.Capacity())
	}
	return domain.NewNotification(b.String())
}

func (d *Dispatcher) handleListMembers(connID uuid.UUID) domain.Record {
	sess, ok := d.sessions.FindByConn(connID)
	if !ok {
		return errorRecord(errors.ErrNotAuthenticated)
	}

	cur := sess.CurrentGroup()
	if cur == "" {
		return errorRecord(errors.ErrNotInGroup)
	}

	g, found := d.groups.Find(cur)
	if !found {
		return domain.NewError("Your current group no longer exists.")
	}

	members := g.Members()
	sort.Slice(members, func(i, j int) bool { return members[i].Username < members[j].Username })

	var b strings.Builder
	fmt.Fprintf(&b, "Members in '%s' (%d/%d):", g.Name(), len(members), g.Capacity())
	for _, m := range members {
		if m.IsCreator {
			fmt.Fprintf(&b, "\n- %s (Creator)", m.Username)
		} else {
			fmt.Fprintf(&b, "\n- %s", m.Username)
		}
	}
	return domain.NewNotification(b.String())
}

func (d *Dispatcher) respond(connID uuid.UUID, resp domain.Record) {
	sink := d.sinkFor(connID)
	if sink == nil {
		d.log.Warn("Response for unattached connection dropped", "conn", connID)
		return
	}
	if err := sink.Send(resp); err != nil {
		// The connection's own write path failed; its worker will notice
		// and run the disconnect teardown.
		d.log.Debug("Direct response delivery failed", "conn", connID, "error", err)
	}
}

func (d *Dispatcher) sinkFor(connID uuid.UUID) domain.MessageSink {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[connID]
}

// errorTexts maps the error taxonomy to the human-readable payloads of
// error responses.
var errorTexts = map[error]string{
	errors.ErrUsernameTaken:      "Registration failed: username already taken",
	errors.ErrInvalidCredentials: "Invalid username or password",
	errors.ErrAlreadyLoggedIn:    "User already logged in",
	errors.ErrServerFull:         "Server full, try again later",
	errors.ErrNotAuthenticated:   "Not authenticated",
	errors.ErrGroupNameTooShort:  "Group name too short",
	errors.ErrGroupExists:        "Group already exists",
	errors.ErrGroupRegistryFull:  "Maximum number of groups reached",
	errors.ErrGroupNotFound:      "Group does not exist",
	errors.ErrNotOwner:           "Failed to delete group: not owner",
	errors.ErrGroupFull:          "Failed to join group (group full)",
	errors.ErrNotInGroup:         "Not in any group",
	errors.ErrNotMember:          "Not a member of the group",
	errors.ErrWrongPassword:      "Incorrect group password",
	errors.ErrSelfTarget:         "Cannot send direct message to yourself.",
	errors.ErrRecipientOffline:   "Recipient not found or not online.",
	errors.ErrTokenGeneration:    "Internal error, try again later",
}

func errorRecord(err error) domain.Record {
	for sentinel, text := range errorTexts {
		if stderrors.Is(err, sentinel) {
			return domain.NewError(text)
		}
	}
	return domain.NewError(err.Error())
}
