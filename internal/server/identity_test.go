package server

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/veilchat/veilchat/internal/storage"
)

func TestIdentityGrammar(t *testing.T) {
	valid := []string{
		"SwiftFox#482",
		"QuietOwl#1234",
		"Anônimo#123",
		"Überfuchs#999",
		"a#100",
	}
	for _, s := range valid {
		require.True(t, IsWellFormedIdentity(s), "expected %q to be well-formed", s)
	}

	invalid := []string{
		"",
		"SwiftFox",
		"SwiftFox#",
		"SwiftFox#12",
		"SwiftFox#12345",
		"Swift Fox#123",
		"Swift1Fox#123",
		"#123",
		"SwiftFox#12a",
		"SwiftFox##123",
	}
	for _, s := range invalid {
		require.False(t, IsWellFormedIdentity(s), "expected %q to be rejected", s)
	}
}

func TestMintIdentityMatchesGrammar(t *testing.T) {
	for i := 0; i < 200; i++ {
		require.True(t, IsWellFormedIdentity(mintIdentity()))
	}
}

func TestReconcileAcceptsFreeProposal(t *testing.T) {
	hub := newTestHub(t, storage.NewMemoryStore())
	reconciler := hub.reconciler

	result := reconciler.Reconcile(context.Background(), "GentleHeron#321")
	require.Equal(t, "GentleHeron#321", result.Identity)
	require.True(t, result.Reclaimed)
	require.False(t, result.ResidualRisk)
}

func TestReconcileRejectsLiveProposal(t *testing.T) {
	hub := newTestHub(t, storage.NewMemoryStore())
	addClient(hub, "GentleHeron#321")

	result := hub.reconciler.Reconcile(context.Background(), "GentleHeron#321")
	require.NotEqual(t, "GentleHeron#321", result.Identity)
	require.True(t, IsWellFormedIdentity(result.Identity))
	require.False(t, result.Reclaimed)
}

func TestReconcileIgnoresMalformedProposal(t *testing.T) {
	hub := newTestHub(t, storage.NewMemoryStore())

	result := hub.reconciler.Reconcile(context.Background(), "not an identity")
	require.True(t, IsWellFormedIdentity(result.Identity))
	require.False(t, result.Reclaimed)
}

func TestReconcileRejectsProposalHeldByStaleSession(t *testing.T) {
	// A prior process instance may have left session rows behind; the
	// durable table is checked defensively.
	store := storage.NewMemoryStore()
	require.NoError(t, store.UpsertSession(context.Background(), storage.Session{
		ConnKey:  "stale-conn",
		Identity: "HiddenMole#404",
	}))
	hub := newTestHub(t, store)

	result := hub.reconciler.Reconcile(context.Background(), "HiddenMole#404")
	require.NotEqual(t, "HiddenMole#404", result.Identity)
}

type downStore struct {
	*storage.MemoryStore
}

func (d *downStore) FindSessionByIdentity(context.Context, string) (*storage.Session, error) {
	return nil, errors.New("store unreachable")
}

func TestReconcileDegradesToRegistryWhenStoreDown(t *testing.T) {
	hub := newTestHub(t, &downStore{storage.NewMemoryStore()})

	result := hub.reconciler.Reconcile(context.Background(), "LivelyTapir#808")
	require.Equal(t, "LivelyTapir#808", result.Identity)
	require.True(t, result.Reclaimed)
}

func TestReconcileResidualRiskAfterExhaustedAttempts(t *testing.T) {
	hub := newTestHub(t, storage.NewMemoryStore())
	addClient(hub, "StuckFox#111")

	// Every minted candidate collides with the live identity.
	hub.reconciler.mint = func() string { return "StuckFox#111" }

	result := hub.reconciler.Reconcile(context.Background(), "")
	require.Equal(t, "StuckFox#111", result.Identity,
		"exhausted retries accept the last candidate even on residual collision")
	require.True(t, result.ResidualRisk)
}

func TestConcurrentReconcileNeverYieldsTwoSessionsPerIdentity(t *testing.T) {
	hub := newTestHub(t, storage.NewMemoryStore())

	const workers = 16
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := NewClient(nil, hub, "race-addr")
			result := hub.reconciler.Reconcile(context.Background(), "RapidViper#555")
			hub.registry.Register(client, result.Identity)
		}()
	}
	wg.Wait()

	// Whatever interleaving happened, each identity maps to exactly one
	// session: Register evicts the loser of any race.
	seen := make(map[string]int)
	for _, client := range hub.registry.Snapshot() {
		session, ok := hub.registry.SessionOf(client)
		require.True(t, ok)
		seen[session.Identity]++
	}
	for identity, count := range seen {
		require.Equal(t, 1, count, "identity %s has %d live sessions", identity, count)
	}
}
