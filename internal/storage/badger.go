package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v4"
)

const (
	messagePrefix = "msg:"
	sessionPrefix = "session:"

	// pruneBatchSize bounds the number of deletes per transaction so a
	// large sweep cannot exceed Badger's transaction limits.
	pruneBatchSize = 1000
)

// BadgerStore implements Store on top of an embedded BadgerDB. Message keys
// embed the creation timestamp so that key order matches creation order and
// the recent window can be read with a single reverse iteration.
type BadgerStore struct {
	db  *badger.DB
	log *slog.Logger
}

// OpenBadger opens (or creates) a BadgerStore at path. An empty path opens an
// in-memory database, which is what the tests use.
func OpenBadger(path string, log *slog.Logger) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %q: %w", path, err)
	}
	return &BadgerStore{db: db, log: log}, nil
}

func messageKey(createdAt time.Time, id string) []byte {
	return []byte(fmt.Sprintf("%s%020d:%s", messagePrefix, createdAt.UnixNano(), id))
}

// messageKeyTime extracts the creation timestamp embedded in a message key.
func messageKeyTime(key []byte) (time.Time, error) {
	rest := bytes.TrimPrefix(key, []byte(messagePrefix))
	sep := bytes.IndexByte(rest, ':')
	if sep < 0 {
		return time.Time{}, fmt.Errorf("malformed message key %q", key)
	}
	nanos, err := strconv.ParseInt(string(rest[:sep]), 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("malformed message key %q: %w", key, err)
	}
	return time.Unix(0, nanos).UTC(), nil
}

func sessionKey(connKey string) []byte {
	return []byte(sessionPrefix + connKey)
}

// AppendMessage persists msg under a creation-time-ordered key.
func (s *BadgerStore) AppendMessage(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message %s: %w", msg.ID, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(messageKey(msg.CreatedAt, msg.ID), data)
	})
}

// RecentMessages walks the message keyspace backwards to find the most recent
// limit entries, then returns them in ascending creation order.
func (s *BadgerStore) RecentMessages(ctx context.Context, limit int) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, nil
	}

	var newestFirst []Message
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = []byte(messagePrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		// Seek past the last possible message key, then walk back.
		seek := append([]byte(messagePrefix), 0xff)
		for it.Seek(seek); it.ValidForPrefix([]byte(messagePrefix)) && len(newestFirst) < limit; it.Next() {
			var msg Message
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &msg)
			})
			if err != nil {
				return err
			}
			newestFirst = append(newestFirst, msg)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read recent messages: %w", err)
	}

	for i, j := 0, len(newestFirst)-1; i < j; i, j = i+1, j-1 {
		newestFirst[i], newestFirst[j] = newestFirst[j], newestFirst[i]
	}
	return newestFirst, nil
}

// PruneMessagesOlderThan deletes every message created before horizon.
// Key order matches creation order, so the scan stops at the first key that
// is new enough to keep.
func (s *BadgerStore) PruneMessagesOlderThan(ctx context.Context, horizon time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var stale [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(messagePrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek([]byte(messagePrefix)); it.ValidForPrefix([]byte(messagePrefix)); it.Next() {
			key := it.Item().KeyCopy(nil)
			createdAt, err := messageKeyTime(key)
			if err != nil {
				s.log.Warn("skipping malformed message key during prune", "key", string(key))
				continue
			}
			if !createdAt.Before(horizon) {
				break
			}
			stale = append(stale, key)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("scan for stale messages: %w", err)
	}

	deleted := 0
	for start := 0; start < len(stale); start += pruneBatchSize {
		end := min(start+pruneBatchSize, len(stale))
		err := s.db.Update(func(txn *badger.Txn) error {
			for _, key := range stale[start:end] {
				if err := txn.Delete(key); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return deleted, fmt.Errorf("delete stale messages: %w", err)
		}
		deleted += end - start
	}
	return deleted, nil
}

// UpsertSession stores or refreshes the session row for its connection key.
func (s *BadgerStore) UpsertSession(ctx context.Context, session Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session %s: %w", session.ConnKey, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(sessionKey(session.ConnKey), data)
	})
}

// DeleteSession removes the session row; missing rows are ignored.
func (s *BadgerStore) DeleteSession(ctx context.Context, connKey string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(sessionKey(connKey))
	})
}

// ListSessions returns every stored session.
func (s *BadgerStore) ListSessions(ctx context.Context) ([]Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var sessions []Session
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(sessionPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek([]byte(sessionPrefix)); it.ValidForPrefix([]byte(sessionPrefix)); it.Next() {
			var session Session
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &session)
			})
			if err != nil {
				return err
			}
			sessions = append(sessions, session)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

// FindSessionByIdentity scans the session table for a row holding identity.
func (s *BadgerStore) FindSessionByIdentity(ctx context.Context, identity string) (*Session, error) {
	sessions, err := s.ListSessions(ctx)
	if err != nil {
		return nil, err
	}
	for i := range sessions {
		if sessions[i].Identity == identity {
			return &sessions[i], nil
		}
	}
	return nil, ErrNotFound
}

// Stats counts stored messages and sessions. Today's message count uses the
// local midnight boundary, matching what the stats page displays.
func (s *BadgerStore) Stats(ctx context.Context) (Stats, error) {
	if err := ctx.Err(); err != nil {
		return Stats{}, err
	}

	midnight := time.Now()
	midnight = time.Date(midnight.Year(), midnight.Month(), midnight.Day(), 0, 0, 0, 0, midnight.Location())

	var stats Stats
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek([]byte(messagePrefix)); it.ValidForPrefix([]byte(messagePrefix)); it.Next() {
			stats.TotalMessages++
			createdAt, err := messageKeyTime(it.Item().Key())
			if err == nil && !createdAt.Before(midnight) {
				stats.TodayMessages++
			}
		}
		for it.Seek([]byte(sessionPrefix)); it.ValidForPrefix([]byte(sessionPrefix)); it.Next() {
			stats.TotalSessions++
		}
		return nil
	})
	if err != nil {
		return Stats{}, fmt.Errorf("collect stats: %w", err)
	}
	return stats, nil
}

// Close closes the underlying database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
