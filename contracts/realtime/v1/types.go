// Package v1 defines the Connexa realtime wire contract.
//
// This package is intentionally stable and dependency-light.
// It is shared between the server gateway and clients so the wire
// protocol stays authoritative in one place.
package v1

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// Event names (wire-stable). The set is extensible: a server or client
// receiving an unrecognized name must drop the frame silently.
const (
	// EventNewMessage carries a chat message (client -> server on send,
	// server -> participants on fan-out).
	EventNewMessage = "NEW_MESSAGE"

	// EventTypingStart / EventTypingStop are best-effort typing
	// indicators. Never persisted, never echoed to their own sender.
	EventTypingStart = "TYPING_START"
	EventTypingStop  = "TYPING_STOP"

	// EventError is sent to the originating connection only.
	EventError = "ERROR"

	// EventConnected is pushed by the server once a connection is active.
	// Clients also raise it locally on (re)connect.
	EventConnected = "CONNECTED"

	// EventDisconnected and EventReconnecting are client-local status
	// events raised by the socket manager; the server never sends them.
	EventDisconnected = "DISCONNECTED"
	EventReconnecting = "RECONNECTING"

	// EventUserOnline / EventUserOffline announce presence transitions
	// to currently connected users.
	EventUserOnline  = "USER_ONLINE"
	EventUserOffline = "USER_OFFLINE"
)

// Frame is the canonical bidirectional wire wrapper.
type Frame struct {
	Type    string          `json:"type"`
	Content json.RawMessage `json:"content,omitempty"`
}

// Validate performs structural validation only. Unknown types are valid
// by design (forward compatibility); payload shape is the handler's job.
func (f Frame) Validate() error {
	if strings.TrimSpace(f.Type) == "" {
		return errors.New("missing type")
	}
	return nil
}

// NewFrame marshals content into a Frame of the given type.
func NewFrame(typ string, content any) (Frame, error) {
	if content == nil {
		return Frame{Type: typ}, nil
	}
	raw, err := json.Marshal(content)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Type: typ, Content: raw}, nil
}

// ---- Payloads ----

// NewMessagePayload is the client -> server body of EventNewMessage.
// Content is required for TEXT messages, MediaURL for every other type.
type NewMessagePayload struct {
	ConversationID string `json:"conversationId"`
	Content        string `json:"content,omitempty"`
	MediaURL       string `json:"mediaUrl,omitempty"`
	Type           string `json:"type"`
}

// TypingPayload is the client -> server body of typing events.
type TypingPayload struct {
	ConversationID string `json:"conversationId"`
}

// TypingEventPayload is the server -> client body of typing events.
type TypingEventPayload struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
}

// ErrorPayload is sent to the originating connection on failures.
type ErrorPayload struct {
	Error string `json:"error"`
}

// ConnectedPayload acknowledges a fully active connection.
type ConnectedPayload struct {
	UserID    string `json:"userId"`
	SessionID string `json:"sessionId"`
}

// PresencePayload is the body of USER_ONLINE / USER_OFFLINE.
// LastSeen is set only on USER_OFFLINE.
type PresencePayload struct {
	UserID   string     `json:"userId"`
	LastSeen *time.Time `json:"lastSeen,omitempty"`
}
