package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/database"
	"github.com/mama165/sdk-go/logs"

	"groupchat/auth"
	"groupchat/internal"
	"groupchat/moderation"
	"groupchat/observability"
	"groupchat/repositories"
	"groupchat/runtime"
	"groupchat/runtime/workers"
	"groupchat/server"
	"groupchat/services"
)

// Exit codes to provide meaningful status to the operating system or service manager (e.g., systemd).
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

func main() {
	// The main function acts as a thin wrapper.
	// Its only responsibility is to call run() and handle the OS exit code.
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Server terminated with error: %v\n", err)
	}
	os.Exit(code)
}

// run initializes all components, manages the server lifecycle, and centralizes error reporting.
// Deferred cleanup (database close) executes before the process exits, and
// the initialization logic stays testable outside of main.
func run() (int, error) {
	// 1. Configuration & Logger
	_ = godotenv.Load()

	var config internal.Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}

	charReplacement, err := internal.CharacterRune(config.CharReplacement)
	if err != nil {
		return exitConfig, err
	}

	logger := logs.GetLoggerFromString(config.LogLevel)

	ctx := context.Background()

	// 2. Database (BadgerDB)
	db, err := badger.Open(buildBadgerOpts(config, logger, ctx))
	if err != nil {
		return exitRuntime, fmt.Errorf("database opening failed: %w", err)
	}

	if logger.Enabled(ctx, slog.LevelDebug) {
		endpoint := "/inspect"
		logger.Info("Debug Badger inspector available",
			"url", fmt.Sprintf("http://localhost:%d%s", config.DebugPort, endpoint))
		database.StartDebugServer(db, config.DebugPort, endpoint, userMapper)
	}

	defer func() {
		// Defer ensures the database lock is released and buffers are flushed before the function returns.
		logger.Info("Closing BadgerDB...")
		_ = db.Close()
	}()

	// 3. Moderation
	var moderator *moderation.Moderator
	if config.ModerationEnabled {
		words, languages, err := moderation.LoadWordlists()
		if err != nil {
			return exitRuntime, fmt.Errorf("loading wordlists failed: %w", err)
		}
		moderator, err = moderation.NewModerator(words, charReplacement)
		if err != nil {
			return exitRuntime, fmt.Errorf("building moderator failed: %w", err)
		}
		logger.Info("Moderation enabled", "words", len(words), "languages", languages)
	}

	// 4. Registries & Services
	hasher := auth.Argon2Hasher{}
	credentials := repositories.NewCredentialRepository(db)
	sessions := runtime.NewSessionRegistry(config.MaxClients)
	groups := runtime.NewGroupRegistry(config.MaxGroups, config.GroupCapacity, hasher)
	monitoring := observability.NewMonitoringManager(logger)

	authService := services.NewAuthService(credentials, hasher, config.AuthTokenDuration)
	dispatcher := services.NewDispatcher(
		logger, authService, sessions, groups, moderator, monitoring,
		config.MaxMessageLength,
	)

	// 5. Context & Signals
	// NotifyContext captures OS signals and cancels the context to trigger a shutdown.
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 6. Supervision (background workers)
	sup := workers.NewSupervisor(logger)
	sup.Add(workers.NewStatsWorker(logger, monitoring, sessions, groups, config.MetricInterval))

	supDone := make(chan struct{})
	go func() {
		sup.Run(ctx)
		close(supDone)
	}()

	// 7. Websocket server
	// The record payload travels as JSON; the read limit leaves headroom
	// above the maximum message length for the envelope fields.
	srv := server.New(logger, dispatcher, config.Host, config.Port,
		config.SendBufferSize, int64(config.MaxMessageLength)*2+1024)

	errChan := make(chan error, 1)
	go func() {
		if err := srv.Serve(); err != nil {
			errChan <- err
		}
	}()

	// 8. Wait for Stop or Error
	// The execution blocks here until either a signal is received or the server crashes.
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-errChan:
		return exitRuntime, err
	}

	// 9. Final Cleanup (Graceful Shutdown)
	logger.Info("Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Forced shutdown", "error", err)
	}
	sup.Stop()
	<-supDone
	logger.Info("Program stopped cleanly")

	return exitOK, nil
}

func buildBadgerOpts(config internal.Config, logger *slog.Logger, ctx context.Context) badger.Options {
	options := badger.DefaultOptions(config.BadgerFilepath)

	if logger.Enabled(ctx, slog.LevelDebug) {
		options = options.WithLoggingLevel(badger.DEBUG).
			WithBypassLockGuard(true)
	} else {
		options = options.WithLoggingLevel(badger.INFO)
	}

	return options
}

// userMapper renders user records in the debug inspector without
// exposing password hashes.
func userMapper(key string, val []byte) database.InspectRow {
	row := database.DefaultMapper(key, val)

	var u struct {
		Username  string    `json:"username"`
		CreatedAt time.Time `json:"created_at"`
	}
	if err := json.Unmarshal(val, &u); err != nil {
		row.Detail = "Error: unmarshal failed"
		return row
	}

	row.Type = "USER"
	row.EntityID = u.Username
	row.Detail = fmt.Sprintf("registered %s", u.CreatedAt.Format(time.RFC3339))
	return row
}
