package server

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"groupchat/domain"
	"groupchat/services"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// connection wraps one websocket client. It is the MessageSink handed to
// the dispatcher: Send enqueues on a buffered channel drained by the
// write pump, so broadcasts never block on a slow socket.
type connection struct {
	id   uuid.UUID
	ws   *websocket.Conn
	log  *slog.Logger
	send chan domain.Record
	done chan struct{}
}

func newConnection(log *slog.Logger, ws *websocket.Conn, bufferSize int) *connection {
	return &connection{
		id:   uuid.New(),
		ws:   ws,
		log:  log,
		send: make(chan domain.Record, bufferSize),
		done: make(chan struct{}),
	}
}

// Send enqueues a record for delivery. A full buffer means the client is
// not keeping up; the record is dropped and the caller gets an error.
func (c *connection) Send(record domain.Record) error {
	select {
	case <-c.done:
		return fmt.Errorf("connection %s closed", c.id)
	default:
	}

	select {
	case c.send <- record:
		return nil
	default:
		return fmt.Errorf("send buffer full for connection %s", c.id)
	}
}

// readPump decodes inbound records and feeds them to the dispatcher. It
// owns the teardown: when the socket dies, the dispatcher runs the
// disconnect sequence exactly once.
func (c *connection) readPump(dispatcher *services.Dispatcher) {
	defer func() {
		close(c.done)
		dispatcher.OnDisconnect(c.id)
		_ = c.ws.Close()
	}()

	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var rec domain.Record
		if err := c.ws.ReadJSON(&rec); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure) {
				c.log.Warn("Unexpected websocket close", "error", err)
			} else {
				c.log.Debug("Connection closed", "error", err)
			}
			return
		}

		dispatcher.Handle(c.id, rec)
	}
}

// writePump drains the send channel onto the socket and keeps the
// connection alive with periodic pings.
func (c *connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case rec := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(rec); err != nil {
				c.log.Debug("Write failed", "error", err)
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
