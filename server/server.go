// Package server exposes the websocket endpoint of the chat service.
// Each upgrade spawns a connection with its own read and write pumps;
// all protocol logic lives in the dispatcher.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"groupchat/services"
)

type Server struct {
	log            *slog.Logger
	dispatcher     *services.Dispatcher
	httpServer     *http.Server
	upgrader       websocket.Upgrader
	sendBufferSize int
	maxMessageSize int64
}

func New(
	log *slog.Logger,
	dispatcher *services.Dispatcher,
	host string,
	port int,
	sendBufferSize int,
	maxMessageSize int64,
) *Server {
	s := &Server{
		log:        log,
		dispatcher: dispatcher,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		sendBufferSize: sendBufferSize,
		maxMessageSize: maxMessageSize,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/healthz", handleHealth)

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", host, port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Serve blocks until the listener fails or Shutdown is called.
func (s *Server) Serve() error {
	s.log.Info("Starting websocket server", "address", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("websocket server error: %w", err)
	}
	return nil
}

// Shutdown stops the listener, then force-closes remaining connections.
// Hijacked websocket connections are not covered by http.Server.Shutdown,
// so the graceful phase only waits for in-flight upgrades.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	if closeErr := s.httpServer.Close(); err == nil {
		err = closeErr
	}
	return err
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("Websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	ws.SetReadLimit(s.maxMessageSize)

	conn := newConnection(s.log.With("remote", r.RemoteAddr), ws, s.sendBufferSize)
	s.log.Debug("Client connected", "remote", r.RemoteAddr, "conn", conn.id)

	s.dispatcher.Attach(conn.id, conn)
	go conn.writePump()
	go conn.readPump(s.dispatcher)
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprint(w, "ok")
}
