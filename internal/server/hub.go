// Package server coordinates connection registration, identity confirmation,
// message fan-out, and connection cleanup for the chat service via the Hub type.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/veilchat/veilchat/internal/storage"
)

// Hub manages all WebSocket client connections. It owns the presence
// registry, launches the per-connection pumps, and provides the fan-out
// primitives used by the router and the typing broadcaster. Map access is
// guarded by a mutex; everything else is connection-local or delegated to
// the store's own concurrency control.
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client

	registry   *Registry
	reconciler *IdentityReconciler
	router     *Router
	history    *HistoryService
	typing     *TypingBroadcaster
	store      storage.Store
	cfg        *Config
	log        *slog.Logger

	mutex  sync.RWMutex
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewHub creates a Hub wired against the given store and configuration. The
// returned Hub is ready to manage connections once Run is started.
func NewHub(cfg *Config, store storage.Store, log *slog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	registry := NewRegistry()

	h := &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		registry:   registry,
		store:      store,
		cfg:        cfg,
		log:        log,
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	h.reconciler = NewIdentityReconciler(registry, store, log, cfg.IdentityAttempts)
	h.router = NewRouter(h, store, log)
	h.history = NewHistoryService(store, cfg.HistoryLimit, log)
	h.typing = NewTypingBroadcaster(h)
	return h
}

// Registry exposes the hub's presence registry.
func (h *Hub) Registry() *Registry {
	return h.registry
}

// Router exposes the hub's message router.
func (h *Hub) Router() *Router {
	return h.router
}

// Typing exposes the hub's typing broadcaster.
func (h *Hub) Typing() *TypingBroadcaster {
	return h.typing
}

// Run starts the hub's main event loop, handling client registration and
// unregistration. This method should be called in a separate goroutine as it
// runs until Shutdown.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			if client == nil {
				h.log.Warn("received nil client registration, skipping")
				continue
			}

			h.mutex.Lock()
			client.closed = false
			h.clients[client] = true
			clientCount := len(h.clients)
			h.mutex.Unlock()
			h.log.Info("client connected", "addr", client.addr, "clients", clientCount)

			h.wg.Add(2)
			go func() {
				defer h.wg.Done()
				client.writePump()
			}()
			go func() {
				defer h.wg.Done()
				client.readPump()
			}()

		case client := <-h.unregister:
			h.disconnect(client)
		}
	}
}

// ConfirmIdentity runs the connect-time identity protocol for a client: it
// reconciles the proposal, registers the session, mirrors it to the store,
// confirms the identity to the client, and only then announces the join and
// pushes the history snapshot. It runs on the client's read goroutine, the
// one task allowed to block on storage.
func (h *Hub) ConfirmIdentity(ctx context.Context, client *Client, proposed string) {
	if _, ok := h.registry.SessionOf(client); ok {
		// The confirmation already went out once; it stays authoritative.
		h.log.Debug("ignoring repeated identity proposal", "addr", client.addr)
		return
	}

	result := h.reconciler.Reconcile(ctx, proposed)
	session, evicted := h.registry.Register(client, result.Identity)
	if evicted != nil {
		evicted.setIdentity("")
		h.log.Warn("evicted prior session holding identity",
			"identity", result.Identity, "evictedAddr", evicted.addr)
	}
	client.setIdentity(result.Identity)

	if err := h.store.UpsertSession(ctx, session); err != nil {
		// Registry and store may diverge here; the next reconnect heals it.
		h.log.Warn("failed to persist session", "identity", result.Identity, "error", err)
	}

	h.log.Info("identity confirmed",
		"identity", result.Identity,
		"reclaimed", result.Reclaimed,
		"residualRisk", result.ResidualRisk)
	client.sendEvent(ServerEvent{Event: EventIdentityConfirmed, Identity: result.Identity})

	// Give the client time to process its identity before it has to
	// classify broadcasts as "mine" vs "others'".
	select {
	case <-time.After(h.cfg.JoinNoticeDelay):
	case <-ctx.Done():
		return
	}

	h.router.AnnounceJoin(ctx, result.Identity)
	h.history.SendSnapshot(ctx, client)
}

// disconnect removes the client from the hub and tears down its session. The
// storage cleanup and leave notice happen off the hub loop so a slow store
// cannot stall other registrations.
func (h *Hub) disconnect(client *Client) {
	if !h.dropClient(client) {
		return
	}

	session, hadSession := h.registry.Unregister(client)

	h.mutex.RLock()
	clientCount := len(h.clients)
	h.mutex.RUnlock()
	h.log.Info("client disconnected", "addr", client.addr, "clients", clientCount)

	if !hadSession || h.ctx.Err() != nil {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.store.DeleteSession(ctx, session.ConnKey); err != nil {
			h.log.Warn("failed to delete session", "identity", session.Identity, "error", err)
		}
		h.router.AnnounceLeave(ctx, session.Identity)
	}()
}

// dropClient removes the client from the connection map and closes its send
// channel exactly once. It reports whether the client was still present.
func (h *Hub) dropClient(client *Client) bool {
	h.mutex.Lock()
	if _, ok := h.clients[client]; !ok {
		h.mutex.Unlock()
		return false
	}
	delete(h.clients, client)
	client.closed = true
	h.mutex.Unlock()

	// Close the channel after releasing the lock.
	close(client.send)
	return true
}

func (h *Hub) safeSend(client *Client, payload []byte) bool {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("recovered from panic in safeSend", "panic", r)
		}
	}()

	// Hold the lock during the entire send so an unregister cannot close
	// the channel mid-send.
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	_, exists := h.clients[client]
	if !exists || client.closed {
		return false
	}

	select {
	case client.send <- payload:
		return true
	default:
		return false
	}
}

// fanOut delivers payload to every registered connection except the one
// given (nil means no exclusion). Clients whose buffers are full are dropped,
// matching the best-effort delivery contract.
func (h *Hub) fanOut(payload []byte, except *Client) {
	var failed []*Client
	for _, client := range h.registry.Snapshot() {
		if client == except {
			continue
		}
		if !h.safeSend(client, payload) {
			failed = append(failed, client)
		}
	}
	for _, client := range failed {
		h.log.Warn("dropping client with full send buffer", "addr", client.addr)
		h.disconnect(client)
	}
}

// deliver encodes and sends an event to a single client, dropping the client
// if its buffer is full.
func (h *Hub) deliver(client *Client, ev ServerEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		h.log.Error("failed to encode event", "event", ev.Event, "error", err)
		return
	}
	if !h.safeSend(client, payload) {
		h.log.Warn("dropping client with full send buffer", "addr", client.addr)
		h.disconnect(client)
	}
}

// shutdownClients closes all active client connections.
func (h *Hub) shutdownClients() {
	h.log.Info("shutting down all client connections")

	h.mutex.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mutex.Unlock()

	for _, client := range clients {
		if client.conn != nil {
			if err := client.conn.Close(); err != nil && !isExpectedCloseError(err) {
				h.log.Warn("error closing client connection", "addr", client.addr, "error", err)
			}
		}
	}

	h.log.Info("closed client connections", "count", len(clients))
}

// Shutdown initiates graceful shutdown of the hub and waits for all client
// goroutines to finish, or until the timeout is reached.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.log.Info("initiating hub shutdown")

	h.cancel()
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.log.Info("hub shutdown completed")
		return nil
	case <-time.After(timeout):
		h.log.Warn("hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
