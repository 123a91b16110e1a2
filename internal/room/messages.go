package room

import (
	"time"

	"github.com/gorilla/websocket"
)

// Message is the typed envelope exchanged over a document connection.
// Update payloads travel base64-encoded; attribution always comes from the
// authenticated connection, never from the payload.
type Message struct {
	Type       string `json:"type"`
	UserID     string `json:"user_id,omitempty"`
	Event      string `json:"event,omitempty"`
	PayloadB64 string `json:"payload,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

const (
	// MessageTypeStateSync carries the full encoded state, sent once on join.
	MessageTypeStateSync = "state-sync"
	// MessageTypeUpdate carries one merged binary delta.
	MessageTypeUpdate = "update"
	// MessageTypePresence announces a member joining or leaving.
	MessageTypePresence = "presence"
	// MessageTypeUpdateRejected tells the sender its update was not applied.
	MessageTypeUpdateRejected = "update-rejected"

	// PresenceEventJoin marks a member joining the room.
	PresenceEventJoin = "join"
	// PresenceEventLeave marks a member leaving the room.
	PresenceEventLeave = "leave"
)

// Close reasons surfaced to clients for diagnostics. Draft-not-found is the
// single reason for a missing draft, a foreign-tenant draft, and an absent
// grant; the three must stay indistinguishable.
const (
	CloseReasonMissingToken      = "missing access token"
	CloseReasonInvalidToken      = "invalid access token"
	CloseReasonMissingDocumentID = "missing document id"
	CloseReasonDraftNotFound     = "document not found"
	CloseReasonServerShutdown    = "server shutting down"

	// RejectReasonInsufficientLevel is sent when a view- or comment-level
	// member submits a content update.
	RejectReasonInsufficientLevel = "permission level does not allow edits"
	// RejectReasonInvalidUpdate is sent when an update payload fails to decode.
	RejectReasonInvalidUpdate = "update payload is invalid"
)

const closeWriteWait = 5 * time.Second

// ClosePolicyViolation sends a policy-violation close frame with the given
// reason and closes the connection.
func ClosePolicyViolation(ws *websocket.Conn, reason string) {
	closeWithCode(ws, websocket.ClosePolicyViolation, reason)
}

func closeWithCode(ws *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(closeWriteWait)
	_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	_ = ws.Close()
}
