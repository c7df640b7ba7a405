// Package server assembles the chat service: hub, retention pruner, and the
// HTTP surface in front of them.
package server

import (
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/veilchat/veilchat/internal/storage"
)

// ChatService owns the hub, the retention pruner, and the HTTP handlers.
// Exactly one instance exists per process; there is no ambient global state.
type ChatService struct {
	cfg      *Config
	hub      *Hub
	store    storage.Store
	log      *slog.Logger
	upgrader websocket.Upgrader
	pruner   *Pruner
}

// NewChatService wires a ChatService against the given store and config.
func NewChatService(cfg *Config, store storage.Store, log *slog.Logger) *ChatService {
	hub := NewHub(cfg, store, log)
	policy := newOriginPolicy(cfg.AllowedOrigins, log)

	return &ChatService{
		cfg:   cfg,
		hub:   hub,
		store: store,
		log:   log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     policy.checkOrigin,
		},
		pruner: NewPruner(store, cfg.Retention, cfg.PruneInterval, log),
	}
}

// Hub returns the service's hub, mainly for tests and shutdown coordination.
func (s *ChatService) Hub() *Hub {
	return s.hub
}

// Start launches the hub loop and the retention sweep. Both stop when the
// hub shuts down.
func (s *ChatService) Start() {
	go s.hub.Run()
	go s.pruner.Run(s.hub.ctx)
	s.log.Info("hub started and ready to manage connections")
}

// Shutdown gracefully stops the hub, closing all client connections and
// waiting for their goroutines up to timeout.
func (s *ChatService) Shutdown(timeout time.Duration) error {
	return s.hub.Shutdown(timeout)
}
