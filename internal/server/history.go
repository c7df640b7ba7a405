// Package server provides bounded message-history retrieval and the scheduled
// retention sweep over the durable message log.
package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/veilchat/veilchat/internal/storage"
)

// HistoryService retrieves the bounded window of recent messages, in strict
// ascending creation order.
type HistoryService struct {
	store storage.Store
	limit int
	log   *slog.Logger
}

// NewHistoryService creates a HistoryService with the given window size.
func NewHistoryService(store storage.Store, limit int, log *slog.Logger) *HistoryService {
	return &HistoryService{store: store, limit: limit, log: log}
}

// RecentMessages returns at most the configured window of messages, oldest
// first.
func (s *HistoryService) RecentMessages(ctx context.Context) ([]storage.Message, error) {
	return s.store.RecentMessages(ctx, s.limit)
}

// SendSnapshot pushes the history backlog to a newly confirmed connection.
// It must only be called after the identity confirmation has gone out, since
// the client needs its identity to classify snapshot entries. A storage
// failure degrades to an empty snapshot rather than a broken connection.
//
// The store's window is identity-free, so the directed-delivery rule is
// enforced here: a message with a recipient reaches only its sender and its
// recipient, snapshots included.
func (s *HistoryService) SendSnapshot(ctx context.Context, client *Client) {
	messages, err := s.RecentMessages(ctx)
	if err != nil {
		s.log.Warn("failed to load history snapshot", "error", err)
		messages = nil
	}
	messages = visibleTo(messages, client.Identity())
	client.hub.deliver(client, ServerEvent{Event: EventHistorySnapshot, History: messages})
}

// visibleTo drops directed messages that do not involve identity. The store
// returns its own copy of the window, so filtering in place is safe.
func visibleTo(messages []storage.Message, identity string) []storage.Message {
	kept := messages[:0]
	for _, msg := range messages {
		if msg.Recipient != "" && msg.Sender != identity && msg.Recipient != identity {
			continue
		}
		kept = append(kept, msg)
	}
	return kept
}

// Pruner hard-deletes messages older than the retention horizon on a fixed
// schedule. Deletion is non-recoverable; the deleted row count is the only
// observable result.
type Pruner struct {
	store     storage.Store
	retention time.Duration
	interval  time.Duration
	log       *slog.Logger
}

// NewPruner creates a Pruner sweeping every interval with the given retention.
func NewPruner(store storage.Store, retention, interval time.Duration, log *slog.Logger) *Pruner {
	return &Pruner{store: store, retention: retention, interval: interval, log: log}
}

// Run sweeps on a ticker until ctx is cancelled. The sweep is idempotent: a
// second pass over an already-pruned log deletes nothing.
func (p *Pruner) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Sweep(ctx)
		}
	}
}

// Sweep runs a single retention pass.
func (p *Pruner) Sweep(ctx context.Context) {
	horizon := time.Now().UTC().Add(-p.retention)
	deleted, err := p.store.PruneMessagesOlderThan(ctx, horizon)
	if err != nil {
		p.log.Error("retention sweep failed", "error", err)
		return
	}
	p.log.Info("retention sweep completed", "deleted", deleted, "horizon", horizon)
}
