package server

import "encoding/json"

// TypingBroadcaster forwards transient typing signals to every registered
// connection except the sender. Signals are never persisted and never touch
// the message router.
//
// The server holds no timers for typing state: it forwards whatever boolean
// it receives. Clearing a stale indicator after ~3s of silence is the
// receiving client's concern, and debouncing keystrokes into start/stop
// signals is the sending client's.
type TypingBroadcaster struct {
	hub *Hub
}

// NewTypingBroadcaster creates a broadcaster delivering through hub.
func NewTypingBroadcaster(hub *Hub) *TypingBroadcaster {
	return &TypingBroadcaster{hub: hub}
}

// Signal fans the sender's typing state out to everyone else. Connections
// without a confirmed identity are silently ignored.
func (t *TypingBroadcaster) Signal(sender *Client, isTyping bool) {
	session, ok := t.hub.registry.SessionOf(sender)
	if !ok {
		return
	}

	payload, err := json.Marshal(ServerEvent{
		Event:    EventTypingStatus,
		Identity: session.Identity,
		IsTyping: &isTyping,
	})
	if err != nil {
		t.hub.log.Error("failed to encode typing event", "error", err)
		return
	}
	t.hub.fanOut(payload, sender)
}
