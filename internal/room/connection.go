package room

import (
	"encoding/base64"
	"encoding/json"
	"sync"
	"time"

	"github.com/ParchmentLabs/drafthub/backend/internal/docs"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	sendBufferSize = 32
	writeWait      = 10 * time.Second
)

// connection is one live websocket member of a room, annotated with the
// authenticated user and the permission level granted at admission.
type connection struct {
	ws     *websocket.Conn
	userID string
	level  docs.Level
	room   *room

	send      chan []byte
	closeOnce sync.Once
	closed    chan struct{}
}

func newConnection(ws *websocket.Conn, userID string, level docs.Level, owner *room) *connection {
	return &connection{
		ws:     ws,
		userID: userID,
		level:  level,
		room:   owner,
		send:   make(chan []byte, sendBufferSize),
		closed: make(chan struct{}),
	}
}

// enqueue hands a frame to the write pump. A member that cannot keep up is
// forcibly closed rather than allowed to reorder or drop frames.
func (c *connection) enqueue(frame []byte) {
	select {
	case c.send <- frame:
	default:
		c.room.manager.logger.Warn("closing slow connection",
			zap.String("draft_id", c.room.draftID),
			zap.String("user_id", c.userID))
		c.forceClose(websocket.CloseGoingAway, "send buffer overflow")
	}
}

func (c *connection) enqueueMessage(message Message) {
	frame, err := json.Marshal(message)
	if err != nil {
		c.room.manager.logger.Error("message encode failed", zap.Error(err))
		return
	}
	c.enqueue(frame)
}

func (c *connection) forceClose(code int, reason string) {
	c.closeOnce.Do(func() {
		close(c.closed)
		closeWithCode(c.ws, code, reason)
	})
}

// readPump consumes client frames until the connection drops or misses its
// heartbeat grace window. It runs on the handler goroutine.
func (c *connection) readPump() {
	grace := c.room.manager.heartbeatGrace
	_ = c.ws.SetReadDeadline(time.Now().Add(grace))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(grace))
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			return
		}

		var message Message
		if err := json.Unmarshal(raw, &message); err != nil {
			c.enqueueMessage(Message{Type: MessageTypeUpdateRejected, Reason: RejectReasonInvalidUpdate})
			continue
		}
		if message.Type != MessageTypeUpdate {
			continue
		}

		payload, err := base64.StdEncoding.DecodeString(message.PayloadB64)
		if err != nil || len(payload) == 0 {
			c.enqueueMessage(Message{Type: MessageTypeUpdateRejected, Reason: RejectReasonInvalidUpdate})
			continue
		}
		c.room.handleUpdate(c, payload)
	}
}

// writePump serializes all outbound frames and drives the heartbeat.
func (c *connection) writePump() {
	ticker := time.NewTicker(c.room.manager.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case frame := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.forceClose(websocket.CloseAbnormalClosure, "write failed")
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.forceClose(websocket.CloseAbnormalClosure, "ping failed")
				return
			}
		case <-c.closed:
			return
		}
	}
}
