package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/piyushagarwal-55/flowforge/core"
	"github.com/piyushagarwal-55/flowforge/sse"
)

const (
	wsWriteWait    = 10 * time.Second
	wsPingInterval = 15 * time.Second
)

// handleExecutionSocket streams one execution's log events over a websocket
// as JSON text frames. The socket is closed with a normal closure after the
// terminal event.
func (s *Server) handleExecutionSocket(w http.ResponseWriter, r *http.Request) {
	executionID := r.PathValue("execution_id")
	after, err := sse.ParseCursor(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_CURSOR", err.Error())
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "execution_id", executionID, "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// The read loop only drains control frames and notices disconnects.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	_, err = sse.Follow(ctx, s.logStore, s.bus, executionID, after, wsPingInterval, socketSink{conn})
	switch {
	case err == nil:
		closeSocket(conn)
	case ctx.Err() == nil:
		s.logger.Debug("websocket stream ended", "execution_id", executionID, "error", err)
	}
}

type socketSink struct {
	conn *websocket.Conn
}

func (s socketSink) Send(evt core.LogEvent) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return s.conn.WriteJSON(evt)
}

func (s socketSink) Heartbeat() error {
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
}

func closeSocket(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "execution finished")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteWait))
}
