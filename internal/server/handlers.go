// Package server exposes the HTTP handlers: the WebSocket upgrade endpoint,
// the REST endpoints over stored data, and the health check.
package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
)

// WebSocketHandler upgrades the HTTP connection and hands the client to the
// hub, which launches its read/write pumps.
func (s *ChatService) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "addr", r.RemoteAddr, "error", err)
		return
	}

	client := NewClient(conn, s.hub, r.RemoteAddr)
	s.hub.register <- client
}

// MessagesHandler serves the bounded recent-message window, oldest first.
// The endpoint is unauthenticated, so directed messages are withheld.
func (s *ChatService) MessagesHandler(w http.ResponseWriter, r *http.Request) {
	messages, err := s.hub.history.RecentMessages(r.Context())
	if err != nil {
		s.log.Error("failed to load messages", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "failed to load messages")
		return
	}
	writeJSON(w, http.StatusOK, visibleTo(messages, ""))
}

// ActiveUsersHandler lists the sessions currently stored, sorted by identity.
func (s *ChatService) ActiveUsersHandler(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.store.ListSessions(r.Context())
	if err != nil {
		s.log.Error("failed to list sessions", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "failed to list active users")
		return
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].Identity < sessions[j].Identity
	})
	writeJSON(w, http.StatusOK, sessions)
}

// StatsHandler reports aggregate message and session counters.
func (s *ChatService) StatsHandler(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		s.log.Error("failed to collect stats", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "failed to collect stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// HealthHandler provides a simple health check endpoint.
func (s *ChatService) HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprint(w, "veilchat server is running!")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, reason string) {
	writeJSON(w, status, map[string]string{"error": reason})
}
