// Package server defines the JSON event envelopes exchanged with clients and
// utility helpers reused across client and hub logic.
package server

import (
	"strings"

	"github.com/veilchat/veilchat/internal/storage"
)

// Inbound event names.
const (
	EventProposeIdentity = "proposeIdentity"
	EventSendMessage     = "sendMessage"
	EventTyping          = "typing"
)

// Outbound event names.
const (
	EventIdentityConfirmed = "identityConfirmed"
	EventMessage           = "message"
	EventTypingStatus      = "typingStatus"
	EventHistorySnapshot   = "historySnapshot"
	EventError             = "error"
)

// ClientEvent is the envelope for everything a client sends over the socket.
// Fields beyond Event are populated depending on the event name.
type ClientEvent struct {
	Event     string `json:"event"`
	Identity  string `json:"identity,omitempty"`
	Body      string `json:"body,omitempty"`
	Recipient string `json:"recipient,omitempty"`
	IsTyping  bool   `json:"isTyping,omitempty"`
}

// ServerEvent is the envelope for everything the server pushes to a client.
type ServerEvent struct {
	Event    string            `json:"event"`
	Identity string            `json:"identity,omitempty"`
	IsTyping *bool             `json:"isTyping,omitempty"`
	Message  *storage.Message  `json:"message,omitempty"`
	History  []storage.Message `json:"history,omitempty"`
	Reason   string            `json:"reason,omitempty"`
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
