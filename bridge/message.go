// Package bridge implements the identity handshake between an embedded mini-app
// (the guest frame) and the window that hosts it.
//
// The guest announces itself to its parent, waits for a message of the
// configured type, extracts either a plain email or a signed launch token from
// it, and on success records the identity in a session.Store and acknowledges
// receipt to the sender. Everything else arriving on the channel is ignored.
package bridge

import (
	"context"
	"encoding/json"
)

// Message type tags exchanged with the host window.
const (
	TypeIframeResponse = "IFRAME_RESPONSE"
	TypeSetEmail       = "SET_EMAIL"
	TypeRequestEmail   = "REQUEST_EMAIL"
	TypeEmailReceived  = "EMAIL_RECEIVED"
)

// WildcardOrigin matches every origin, both in allow-lists and as a post target.
const WildcardOrigin = "*"

// Window is anything a message can be posted to. Implementations must be
// comparable (pointer types) because event sources are compared by identity.
type Window interface {
	PostMessage(msg any, targetOrigin string) error
}

// MessageEvent is one inbound message. Origin is supplied by the channel,
// never by the sender's payload.
type MessageEvent struct {
	Origin string
	Data   json.RawMessage
	Source Window
}

// MessageHandler receives events in delivery order.
type MessageHandler func(ctx context.Context, ev MessageEvent)

// Frame is the guest's own window.
type Frame interface {
	Window
	// Parent returns the embedding window, or nil when the frame is top-level.
	Parent() Window
	// AddMessageListener registers h and returns a func that unregisters it.
	AddMessageListener(h MessageHandler) (remove func())
}

type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type emailData struct {
	Email json.RawMessage `json:"email"`
}

type tokenData struct {
	LaunchToken  json.RawMessage `json:"launch_token"`
	AppSessionID string          `json:"app_session_id"`
}

// Announcement is posted to the parent on mount.
type Announcement struct {
	Type string `json:"type"`
}

// Acknowledgment is posted back to the sender after a successful handshake.
type Acknowledgment struct {
	Type    string `json:"type"`
	Email   string `json:"email"`
	Success bool   `json:"success"`
}
