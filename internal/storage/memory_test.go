package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestMemoryRecentMessagesWindow(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	for i := 0; i < 5; i++ {
		msg := testMessage(fmt.Sprintf("m%d", i), base.Add(time.Duration(i)*time.Second))
		require.NoError(t, store.AppendMessage(ctx, msg))
	}

	messages, err := store.RecentMessages(ctx, 3)
	require.NoError(t, err)
	require.Len(t, messages, 3)
	require.Equal(t, "m2", messages[0].Body)
	require.Equal(t, "m4", messages[2].Body)
}

func TestMemoryPruneIdempotent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.AppendMessage(ctx, testMessage("old", now.Add(-10*24*time.Hour))))
	require.NoError(t, store.AppendMessage(ctx, testMessage("new", now)))

	deleted, err := store.PruneMessagesOlderThan(ctx, now.Add(-7*24*time.Hour))
	require.NoError(t, err)
	require.Equal(t, 1, deleted)

	deleted, err = store.PruneMessagesOlderThan(ctx, now.Add(-7*24*time.Hour))
	require.NoError(t, err)
	require.Zero(t, deleted)
}

func TestMemorySessions(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	session := Session{ConnKey: uuid.NewString(), Identity: "CalmSeal#404", ConnectedAt: time.Now().UTC()}
	require.NoError(t, store.UpsertSession(ctx, session))

	found, err := store.FindSessionByIdentity(ctx, "CalmSeal#404")
	require.NoError(t, err)
	require.Equal(t, session.ConnKey, found.ConnKey)

	_, err = store.FindSessionByIdentity(ctx, "Missing#000")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.DeleteSession(ctx, session.ConnKey))
	sessions, err := store.ListSessions(ctx)
	require.NoError(t, err)
	require.Empty(t, sessions)
}

func TestMemoryFailAppends(t *testing.T) {
	store := NewMemoryStore()
	store.FailAppends = errors.New("disk on fire")

	err := store.AppendMessage(context.Background(), testMessage("doomed", time.Now().UTC()))
	require.ErrorContains(t, err, "disk on fire")

	messages, err := store.RecentMessages(context.Background(), 10)
	require.NoError(t, err)
	require.Empty(t, messages)
}
