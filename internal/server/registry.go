// Package server maintains the presence registry: the in-memory bidirectional
// mapping between live connections and the identities they hold.
package server

import (
	"sync"
	"time"

	"github.com/veilchat/veilchat/internal/storage"
)

// Registry is the single source of truth for which identities are currently
// reachable. It is the only shared mutable structure in the core; all access
// goes through its mutex.
type Registry struct {
	mu         sync.RWMutex
	byIdentity map[string]*Client
	sessions   map[*Client]storage.Session
}

// NewRegistry creates an empty presence registry.
func NewRegistry() *Registry {
	return &Registry{
		byIdentity: make(map[string]*Client),
		sessions:   make(map[*Client]storage.Session),
	}
}

// Register binds client to identity, returning the session it created and the
// client that previously held the identity, if any. Eviction is
// last-writer-wins: reconciliation enforces uniqueness up front, but a race
// between reconciliation and registration must still never leave two live
// sessions per identity. Callers persist the returned session rather than
// re-reading it, since a concurrent eviction may already have replaced it.
func (r *Registry) Register(client *Client, identity string) (storage.Session, *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	evicted := r.byIdentity[identity]
	if evicted == client {
		evicted = nil
	}
	if evicted != nil {
		delete(r.sessions, evicted)
	}

	// A client re-registering under a new identity releases its old one.
	if prior, ok := r.sessions[client]; ok && r.byIdentity[prior.Identity] == client {
		delete(r.byIdentity, prior.Identity)
	}

	session := storage.Session{
		ConnKey:     client.key,
		Identity:    identity,
		ConnectedAt: time.Now().UTC(),
	}
	r.byIdentity[identity] = client
	r.sessions[client] = session
	return session, evicted
}

// Unregister removes the client's session and returns it. The identity slot
// is only cleared if this client still owns it, so an eviction that has
// already been overwritten is left intact.
func (r *Registry) Unregister(client *Client) (storage.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[client]
	if !ok {
		return storage.Session{}, false
	}
	delete(r.sessions, client)
	if r.byIdentity[session.Identity] == client {
		delete(r.byIdentity, session.Identity)
	}
	return session, true
}

// Resolve returns the live connection holding identity, or nil. A nil result
// means the recipient is currently offline, which is not an error.
func (r *Registry) Resolve(identity string) *Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byIdentity[identity]
}

// IdentityLive reports whether any live connection currently holds identity.
func (r *Registry) IdentityLive(identity string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byIdentity[identity]
	return ok
}

// SessionOf returns the session bound to client, if it has one.
func (r *Registry) SessionOf(client *Client) (storage.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	session, ok := r.sessions[client]
	return session, ok
}

// Snapshot returns all currently registered connections. The slice is a copy
// and safe to iterate without holding the registry lock.
func (r *Registry) Snapshot() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	clients := make([]*Client, 0, len(r.sessions))
	for client := range r.sessions {
		clients = append(clients, client)
	}
	return clients
}

// Count returns the number of registered connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
