package server

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/veilchat/veilchat/internal/storage"
)

func TestConfirmIdentityRunsFullProtocol(t *testing.T) {
	store := storage.NewMemoryStore()
	hub := newTestHub(t, store)
	client := addClient(hub, "")

	hub.ConfirmIdentity(context.Background(), client, "")

	confirmed := recvEvent(t, client)
	require.Equal(t, EventIdentityConfirmed, confirmed.Event)
	require.True(t, IsWellFormedIdentity(confirmed.Identity))

	join := recvEvent(t, client)
	require.Equal(t, EventMessage, join.Event)
	require.Equal(t, storage.KindSystem, join.Message.Kind)
	require.Contains(t, join.Message.Body, confirmed.Identity)

	snapshot := recvEvent(t, client)
	require.Equal(t, EventHistorySnapshot, snapshot.Event)
	// The join notice is persisted before the snapshot is read,
	// so the snapshot already contains it.
	require.Len(t, snapshot.History, 1)

	session, err := store.FindSessionByIdentity(context.Background(), confirmed.Identity)
	require.NoError(t, err)
	require.Equal(t, client.Key(), session.ConnKey)
	require.Equal(t, confirmed.Identity, client.Identity())
}

func TestConfirmIdentityHonorsProposal(t *testing.T) {
	hub := newTestHub(t, storage.NewMemoryStore())
	client := addClient(hub, "")

	hub.ConfirmIdentity(context.Background(), client, "NimbleSwan#808")

	confirmed := recvEvent(t, client)
	require.Equal(t, "NimbleSwan#808", confirmed.Identity)
}

func TestConfirmIdentityIgnoresRepeatedProposal(t *testing.T) {
	hub := newTestHub(t, storage.NewMemoryStore())
	client := addClient(hub, "")

	hub.ConfirmIdentity(context.Background(), client, "NimbleSwan#808")
	firstIdentity := recvEvent(t, client).Identity
	recvEvent(t, client) // join notice
	recvEvent(t, client) // history snapshot

	hub.ConfirmIdentity(context.Background(), client, "OtherName#123")
	expectNoEvent(t, client)
	require.Equal(t, firstIdentity, client.Identity())
}

func TestConfirmIdentityEvictsPriorHolder(t *testing.T) {
	hub := newTestHub(t, storage.NewMemoryStore())
	first := addClient(hub, "")
	second := addClient(hub, "")

	hub.ConfirmIdentity(context.Background(), first, "SilentRaven#432")
	require.Equal(t, "SilentRaven#432", recvEvent(t, first).Identity)

	// The reconciler rejects the live proposal, so force the race the
	// registry must resolve: a direct registration under the same name.
	hub.registry.Register(second, "SilentRaven#432")
	second.setIdentity("SilentRaven#432")
	first.setIdentity("")

	require.Same(t, second, hub.registry.Resolve("SilentRaven#432"))
	_, ok := hub.registry.SessionOf(first)
	require.False(t, ok)
}

func TestDisconnectRemovesSessionAndAnnouncesLeave(t *testing.T) {
	store := storage.NewMemoryStore()
	hub := newTestHub(t, store)
	leaving := addClient(hub, "")
	watcher := addClient(hub, "QuietOwl#777")

	hub.ConfirmIdentity(context.Background(), leaving, "SwiftFox#482")
	recvEvent(t, leaving) // confirmation
	recvEvent(t, leaving) // own join notice
	recvEvent(t, leaving) // snapshot
	recvEvent(t, watcher) // join notice

	hub.disconnect(leaving)

	leave := recvEvent(t, watcher)
	require.Equal(t, EventMessage, leave.Event)
	require.Equal(t, storage.KindSystem, leave.Message.Kind)
	require.Contains(t, leave.Message.Body, "SwiftFox#482")
	require.Contains(t, leave.Message.Body, "left")

	require.Eventually(t, func() bool {
		_, err := store.FindSessionByIdentity(context.Background(), "SwiftFox#482")
		return err != nil
	}, time.Second, 10*time.Millisecond, "session row must be deleted after disconnect")

	require.False(t, hub.registry.IdentityLive("SwiftFox#482"))
}

func TestDisconnectIsIdempotent(t *testing.T) {
	hub := newTestHub(t, storage.NewMemoryStore())
	client := addClient(hub, "SwiftFox#482")

	hub.disconnect(client)
	hub.disconnect(client)

	require.Zero(t, hub.registry.Count())
}

func TestSafeSendRefusesUnknownOrClosedClients(t *testing.T) {
	hub := newTestHub(t, storage.NewMemoryStore())
	stranger := NewClient(nil, hub, "addr")

	require.False(t, hub.safeSend(stranger, []byte("{}")))

	known := addClient(hub, "SwiftFox#482")
	require.True(t, hub.safeSend(known, []byte("{}")))

	hub.disconnect(known)
	require.False(t, hub.safeSend(known, []byte("{}")))
}

func TestHubShutdownCompletes(t *testing.T) {
	hub := newTestHub(t, storage.NewMemoryStore())
	go hub.Run()

	require.NoError(t, hub.Shutdown(time.Second))
}
