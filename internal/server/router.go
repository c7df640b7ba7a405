// Package server routes outbound message intents: public broadcasts, directed
// messages, and the system notices produced around the connection lifecycle.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/veilchat/veilchat/internal/storage"
)

// ErrNoSession is returned when a connection tries to send before its
// identity has been confirmed.
var ErrNoSession = errors.New("connection has no confirmed identity")

// ErrEmptyBody is returned when a message body is empty after trimming.
var ErrEmptyBody = errors.New("message body is empty")

// ErrBadRecipient is returned when a directed message names a recipient that
// fails the identity grammar.
var ErrBadRecipient = errors.New("recipient identity is malformed")

// Router accepts message intents, persists them, and fans them out to the
// correct live connections. Persist-then-fan-out ordering is mandatory: a
// message that cannot be persisted is never delivered.
type Router struct {
	hub   *Hub
	store storage.Store
	log   *slog.Logger
}

// NewRouter creates a Router delivering through hub and persisting to store.
func NewRouter(hub *Hub, store storage.Store, log *slog.Logger) *Router {
	return &Router{hub: hub, store: store, log: log}
}

// Route persists and delivers a user message from sender. An empty recipient
// means public broadcast to every registered connection, sender included. A
// set recipient means delivery to the recipient (if live) and back to the
// sender, and to nobody else; an offline recipient still gets the message
// persisted, with only the sender's self-echo delivered live.
func (r *Router) Route(ctx context.Context, sender *Client, body, recipient string) error {
	session, ok := r.hub.registry.SessionOf(sender)
	if !ok {
		r.hub.deliver(sender, ServerEvent{Event: EventError, Reason: "identity not confirmed"})
		return ErrNoSession
	}

	body = strings.TrimSpace(body)
	if body == "" {
		r.hub.deliver(sender, ServerEvent{Event: EventError, Reason: "message body is empty"})
		return ErrEmptyBody
	}

	if recipient != "" && !IsWellFormedIdentity(recipient) {
		r.hub.deliver(sender, ServerEvent{Event: EventError, Reason: "recipient identity is malformed"})
		return ErrBadRecipient
	}

	msg := storage.Message{
		ID:        uuid.NewString(),
		Body:      body,
		Kind:      storage.KindUser,
		Sender:    session.Identity,
		Recipient: recipient,
		CreatedAt: time.Now().UTC(),
	}

	if err := r.store.AppendMessage(ctx, msg); err != nil {
		r.log.Error("failed to persist message", "sender", session.Identity, "error", err)
		r.hub.deliver(sender, ServerEvent{Event: EventError, Reason: "message could not be saved"})
		return fmt.Errorf("persist message: %w", err)
	}

	if recipient == "" {
		r.broadcast(msg)
		return nil
	}

	if target := r.hub.registry.Resolve(recipient); target != nil && target != sender {
		r.hub.deliver(target, ServerEvent{Event: EventMessage, Message: &msg})
	}
	r.hub.deliver(sender, ServerEvent{Event: EventMessage, Message: &msg})
	return nil
}

// AnnounceJoin persists and broadcasts the join notice for identity. A
// persistence failure is logged and swallowed; it never blocks the
// connection lifecycle, but it does suppress the broadcast.
func (r *Router) AnnounceJoin(ctx context.Context, identity string) {
	r.announce(ctx, identity, fmt.Sprintf("%s joined the chat", identity))
}

// AnnounceLeave persists and broadcasts the leave notice for identity.
func (r *Router) AnnounceLeave(ctx context.Context, identity string) {
	r.announce(ctx, identity, fmt.Sprintf("%s left the chat", identity))
}

func (r *Router) announce(ctx context.Context, identity, text string) {
	msg := storage.Message{
		ID:        uuid.NewString(),
		Body:      text,
		Kind:      storage.KindSystem,
		Sender:    identity,
		CreatedAt: time.Now().UTC(),
	}
	if err := r.store.AppendMessage(ctx, msg); err != nil {
		r.log.Warn("failed to persist system notice", "identity", identity, "error", err)
		return
	}
	r.broadcast(msg)
}

func (r *Router) broadcast(msg storage.Message) {
	payload, err := json.Marshal(ServerEvent{Event: EventMessage, Message: &msg})
	if err != nil {
		r.log.Error("failed to encode message event", "error", err)
		return
	}
	r.hub.fanOut(payload, nil)
}
