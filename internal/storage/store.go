// Package storage defines the persistence surface required by the chat core:
// an append-only message log and an ephemeral session table.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("storage: record not found")

// MessageKind distinguishes user-authored messages from server notices.
type MessageKind string

const (
	// KindUser marks a message typed by a connected client.
	KindUser MessageKind = "user"
	// KindSystem marks join/leave notices produced by the server.
	KindSystem MessageKind = "system"
)

// Message is an immutable chat message. An empty Recipient means the message
// is public; a set Recipient restricts delivery to sender and recipient.
type Message struct {
	ID        string      `json:"id"`
	Body      string      `json:"body"`
	Kind      MessageKind `json:"kind"`
	Sender    string      `json:"sender"`
	Recipient string      `json:"recipient,omitempty"`
	CreatedAt time.Time   `json:"createdAt"`
}

// Session binds a connection key to the anonymous identity it holds and the
// time it connected. Sessions are ephemeral: one row per live connection,
// removed on disconnect.
type Session struct {
	ConnKey     string    `json:"connKey"`
	Identity    string    `json:"identity"`
	ConnectedAt time.Time `json:"connectedAt"`
}

// Stats summarizes stored data for the stats endpoint.
type Stats struct {
	TotalMessages int `json:"totalMessages"`
	TotalSessions int `json:"totalSessions"`
	TodayMessages int `json:"todayMessages"`
}

// Store is the durable collaborator the chat core requires. Implementations
// must be safe for concurrent use.
type Store interface {
	// AppendMessage persists a message. Messages are never mutated or
	// reordered after a successful append.
	AppendMessage(ctx context.Context, msg Message) error

	// RecentMessages returns at most limit messages, the most recently
	// created ones, in ascending creation order.
	RecentMessages(ctx context.Context, limit int) ([]Message, error)

	// PruneMessagesOlderThan hard-deletes messages created before horizon
	// and returns the number of deleted rows.
	PruneMessagesOlderThan(ctx context.Context, horizon time.Time) (int, error)

	// UpsertSession inserts or refreshes a session row keyed by ConnKey.
	UpsertSession(ctx context.Context, session Session) error

	// DeleteSession removes the session for the given connection key.
	// Deleting a missing session is not an error.
	DeleteSession(ctx context.Context, connKey string) error

	// ListSessions returns all currently stored sessions.
	ListSessions(ctx context.Context) ([]Session, error)

	// FindSessionByIdentity returns the session holding identity, or
	// ErrNotFound. Used as a defensive uniqueness check during identity
	// reconciliation, since a prior process instance may not have cleaned
	// up its rows.
	FindSessionByIdentity(ctx context.Context, identity string) (*Session, error)

	// Stats reports aggregate counters over stored messages and sessions.
	Stats(ctx context.Context) (Stats, error)

	// Close releases underlying resources.
	Close() error
}
