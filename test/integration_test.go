// Package test wires the real components together: BadgerDB credentials,
// argon2 hashing, moderation and the dispatcher, without the transport.
package test

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"groupchat/auth"
	"groupchat/domain"
	"groupchat/moderation"
	"groupchat/observability"
	"groupchat/repositories"
	"groupchat/runtime"
	"groupchat/services"
)

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

func (s *recordingSink) Last() domain.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.records) == 0 {
		return domain.Record{}
	}
	return s.records[len(s.records)-1]
}

func TestFullStack_RegisterToBroadcast(t *testing.T) {
	req := require.New(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	opts := badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR)
	db, err := badger.Open(opts)
	req.NoError(err)
	t.Cleanup(func() { _ = db.Close() })

	words, _, err := moderation.LoadWordlists()
	req.NoError(err)
	moderator, err := moderation.NewModerator(words, '*')
	req.NoError(err)

	hasher := auth.Argon2Hasher{}
	credentials := repositories.NewCredentialRepository(db)
	sessions := runtime.NewSessionRegistry(100)
	groups := runtime.NewGroupRegistry(50, 100, hasher)
	monitoring := observability.NewMonitoringManager(logger)
	authSvc := services.NewAuthService(credentials, hasher, time.Hour)
	dispatcher := services.NewDispatcher(logger, authSvc, sessions, groups, moderator, monitoring, domain.MaxTextLength)

	aliceID, aliceSink := uuid.New(), &recordingSink{}
	bobID, bobSink := uuid.New(), &recordingSink{}
	dispatcher.Attach(aliceID, aliceSink)
	dispatcher.Attach(bobID, bobSink)

	// Register and log in both users against the real store and hasher.
	dispatcher.Handle(aliceID, domain.Record{Kind: domain.KindRegister, Username: "alice", Password: "s3cret"})
	req.Equal(domain.KindSuccess, aliceSink.Last().Kind, aliceSink.Last().Text)
	dispatcher.Handle(aliceID, domain.Record{Kind: domain.KindLogin, Username: "alice", Password: "s3cret"})
	loginResp := aliceSink.Last()
	req.Equal(domain.KindSuccess, loginResp.Kind, loginResp.Text)

	claims, err := auth.ValidateToken(loginResp.Password)
	req.NoError(err)
	req.Equal("alice", claims.Username)

	dispatcher.Handle(bobID, domain.Record{Kind: domain.KindRegister, Username: "bob", Password: "hunter2"})
	dispatcher.Handle(bobID, domain.Record{Kind: domain.KindLogin, Username: "bob", Password: "hunter2"})
	req.Equal(domain.KindSuccess, bobSink.Last().Kind, bobSink.Last().Text)

	// Stored credentials are argon2-encoded, never plaintext.
	hash, err := credentials.FetchHash("alice")
	req.NoError(err)
	req.NotContains(hash, "s3cret")
	req.Contains(hash, "$argon2id$")

	// Group flow with the real group password hashing.
	dispatcher.Handle(aliceID, domain.Record{Kind: domain.KindCreateGroup, Group: "general", Password: "gr0up"})
	dispatcher.Handle(aliceID, domain.Record{Kind: domain.KindEnterGroup, Group: "general", Password: "gr0up"})
	req.Equal("Joined group successfully", aliceSink.Last().Text)

	dispatcher.Handle(bobID, domain.Record{Kind: domain.KindEnterGroup, Group: "general", Password: "wrong1"})
	req.Equal("Incorrect group password", bobSink.Last().Text)
	dispatcher.Handle(bobID, domain.Record{Kind: domain.KindEnterGroup, Group: "general", Password: "gr0up"})
	req.Equal("Joined group successfully", bobSink.Last().Text)

	// A moderated word arrives masked.
	dispatcher.Handle(aliceID, domain.Record{Kind: domain.KindMessage, Text: "what a stupid bug"})
	msg := bobSink.Last()
	req.Equal(domain.KindMessage, msg.Kind)
	req.Equal("what a ****** bug", msg.Text)
	req.Equal("alice", msg.Username)
}

func TestFullStack_CredentialsSurviveReopen(t *testing.T) {
	req := require.New(t)
	dir := t.TempDir()

	open := func() *badger.DB {
		db, err := badger.Open(badger.DefaultOptions(dir).WithLoggingLevel(badger.ERROR))
		req.NoError(err)
		return db
	}

	db := open()
	hasher := auth.Argon2Hasher{}
	authSvc := services.NewAuthService(repositories.NewCredentialRepository(db), hasher, time.Hour)
	req.NoError(authSvc.Register("alice", "s3cret"))
	req.NoError(db.Close())

	// Accounts persist across restarts; live state (sessions, groups) does not.
	db = open()
	defer db.Close()
	authSvc = services.NewAuthService(repositories.NewCredentialRepository(db), hasher, time.Hour)

	_, err := authSvc.Login("alice", "s3cret")
	req.NoError(err)
	_, err = authSvc.Login("alice", "wrong1")
	req.Error(err)
}
