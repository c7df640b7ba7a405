// Package server implements anonymous identity assignment: the grammar for
// valid identities, the random generator, and the reconciliation protocol
// that restores a reconnecting client's previous identity when possible.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"regexp"

	"github.com/samber/lo"

	"github.com/veilchat/veilchat/internal/storage"
)

// identityPattern is the canonical identity grammar: one or more letters
// (diacritics permitted), a '#', and a 3-4 digit suffix. Anything a client
// proposes that fails this grammar is treated as if no proposal was made.
var identityPattern = regexp.MustCompile(`^\p{L}+#\d{3,4}$`)

// IsWellFormedIdentity reports whether s matches the identity grammar.
func IsWellFormedIdentity(s string) bool {
	return identityPattern.MatchString(s)
}

var identityAdjectives = []string{
	"Amber", "Bold", "Brisk", "Calm", "Clever", "Crimson", "Dappled",
	"Eager", "Fleet", "Gentle", "Hidden", "Ivory", "Jolly", "Keen",
	"Lively", "Mellow", "Nimble", "Quiet", "Rapid", "Silent", "Swift",
	"Umber", "Vivid", "Wild",
}

var identityAnimals = []string{
	"Badger", "Bison", "Crane", "Falcon", "Fox", "Gecko", "Heron",
	"Ibis", "Jackal", "Lynx", "Marten", "Mole", "Otter", "Owl",
	"Panda", "Raven", "Seal", "Stoat", "Swan", "Tapir", "Viper",
	"Vole", "Wolf", "Wren",
}

// mintIdentity composes a random identity such as "SwiftFox#482".
func mintIdentity() string {
	suffix := 100 + rand.IntN(9900)
	return fmt.Sprintf("%s%s#%d", lo.Sample(identityAdjectives), lo.Sample(identityAnimals), suffix)
}

// AssignResult is the outcome of a reconciliation. ResidualRisk marks the
// accepted-risk case where the bounded retry budget was exhausted and the
// last candidate was kept despite a possible collision.
type AssignResult struct {
	Identity     string
	Reclaimed    bool
	ResidualRisk bool
}

// IdentityReconciler decides the one canonical identity for a connection,
// resolving conflicts between a client-asserted identity and server-known
// uniqueness.
type IdentityReconciler struct {
	registry *Registry
	store    storage.Store
	log      *slog.Logger
	attempts int

	// mint is swappable so tests can force collisions.
	mint func() string
}

// NewIdentityReconciler wires the reconciler against the live registry and
// the durable session table. attempts bounds the regeneration loop.
func NewIdentityReconciler(registry *Registry, store storage.Store, log *slog.Logger, attempts int) *IdentityReconciler {
	if attempts <= 0 {
		attempts = 30
	}
	return &IdentityReconciler{
		registry: registry,
		store:    store,
		log:      log,
		attempts: attempts,
		mint:     mintIdentity,
	}
}

// Reconcile returns the identity the connection will hold. A well-formed
// proposal that no live connection holds is accepted verbatim, restoring the
// client's previous self across reconnects. Otherwise a fresh identity is
// minted, re-rolling on collision up to the attempt budget. Reconcile never
// fails: a connection always leaves with an identity.
func (r *IdentityReconciler) Reconcile(ctx context.Context, proposed string) AssignResult {
	if IsWellFormedIdentity(proposed) && !r.isLive(ctx, proposed) {
		return AssignResult{Identity: proposed, Reclaimed: true}
	}

	var candidate string
	for attempt := 0; attempt < r.attempts; attempt++ {
		candidate = r.mint()
		if !r.isLive(ctx, candidate) {
			return AssignResult{Identity: candidate}
		}
	}

	// Retry budget exhausted: keep the last candidate even though it may
	// still collide. The registry's last-writer-wins eviction keeps the
	// one-session-per-identity invariant if the collision materializes.
	r.log.Warn("identity generation attempts exhausted, accepting candidate with residual collision risk",
		"identity", candidate, "attempts", r.attempts)
	return AssignResult{Identity: candidate, ResidualRisk: true}
}

// isLive checks the registry first and then, defensively, the durable session
// table, since a prior process instance may not have cleaned up its rows.
// Storage unavailability degrades to registry-only uniqueness; it never
// blocks the login.
func (r *IdentityReconciler) isLive(ctx context.Context, identity string) bool {
	if r.registry.IdentityLive(identity) {
		return true
	}
	if r.store == nil {
		return false
	}

	_, err := r.store.FindSessionByIdentity(ctx, identity)
	if err == nil {
		return true
	}
	if !errors.Is(err, storage.ErrNotFound) {
		r.log.Warn("session store unavailable during identity uniqueness check, using registry only",
			"error", err)
	}
	return false
}
