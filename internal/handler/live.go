package handler

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/shrimpsizemoose/trekker/logger"

	"rollcall/internal/live"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Callers are authenticated by token, not by cookie, so any origin may connect.
	CheckOrigin: func(*http.Request) bool { return true },
}

// openLive checks ownership, builds the snapshot and subscribes. Events marked
// between the snapshot read and the subscription are missed until the viewer
// reconnects.
func (h *Handler) openLive(c *gin.Context) (*live.Snapshot, *live.Subscription, bool) {
	ctx := c.Request.Context()
	sessionID := c.Param("id")
	if _, err := h.Sessions.Owned(ctx, subject(c), sessionID); err != nil {
		fail(c, err)
		return nil, nil, false
	}
	snap, err := h.Snapshots.Build(ctx, sessionID)
	if err != nil {
		fail(c, err)
		return nil, nil, false
	}
	return snap, h.Bus.Subscribe(sessionID), true
}

// liveSSE streams the live roster as server-sent events.
func (h *Handler) liveSSE(c *gin.Context) {
	snap, sub, ok := h.openLive(c)
	if !ok {
		return
	}
	defer sub.Close()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	if !sendSSE(c, live.InitialState{Snapshot: snap}) {
		return
	}
	c.Writer.Flush()

	heartbeat := time.NewTicker(h.Heartbeat)
	defer heartbeat.Stop()
	ctx := c.Request.Context()

	c.Stream(func(io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case <-sub.Done():
			return false
		case evt := <-sub.C():
			return sendSSE(c, evt)
		case <-heartbeat.C:
			c.SSEvent("heartbeat", gin.H{"at": time.Now().UTC()})
			return true
		}
	})
}

func sendSSE(c *gin.Context, evt live.Event) bool {
	name, body, err := live.Encode(evt)
	if err != nil {
		logger.Error.Printf("encode live event for session %s: %v", evt.Topic(), err)
		return false
	}
	c.SSEvent(name, json.RawMessage(body))
	return true
}

// liveWS streams the live roster over a WebSocket as typed JSON envelopes.
func (h *Handler) liveWS(c *gin.Context) {
	snap, sub, ok := h.openLive(c)
	if !ok {
		return
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		sub.Close()
		logger.Error.Printf("websocket upgrade for session %s: %v", sub.SessionID(), err)
		return
	}
	closed := make(chan struct{})
	go h.readPump(conn, closed)
	h.writePump(conn, sub, snap, closed)
}

// readPump discards client frames and notices when the peer goes away.
func (h *Handler) readPump(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug.Printf("websocket read: %v", err)
			}
			return
		}
	}
}

func (h *Handler) writePump(conn *websocket.Conn, sub *live.Subscription, snap *live.Snapshot, closed <-chan struct{}) {
	ping := time.NewTicker(pingPeriod)
	defer func() {
		ping.Stop()
		sub.Close()
		_ = conn.Close()
	}()

	if !writeEvent(conn, live.InitialState{Snapshot: snap}) {
		return
	}
	for {
		select {
		case <-closed:
			return
		case <-sub.Done():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case evt := <-sub.C():
			if !writeEvent(conn, evt) {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func writeEvent(conn *websocket.Conn, evt live.Event) bool {
	frame, err := live.EncodeEnvelope(evt)
	if err != nil {
		logger.Error.Printf("encode live event for session %s: %v", evt.Topic(), err)
		return false
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, frame) == nil
}
