// Package server wires HTTP handlers into a ServeMux for the chat
// application via routing helpers.
package server

import "net/http"

// SetupRoutes configures and returns an HTTP ServeMux with all application
// routes: health check, WebSocket endpoint, and the REST API.
func (s *ChatService) SetupRoutes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.HealthHandler)
	mux.HandleFunc("/ws", s.WebSocketHandler)
	mux.HandleFunc("/api/messages", s.MessagesHandler)
	mux.HandleFunc("/api/active-users", s.ActiveUsersHandler)
	mux.HandleFunc("/api/stats", s.StatsHandler)
	return mux
}
