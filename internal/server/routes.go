// Package server wires HTTP handlers into a ServeMux for the RoomChat
// application via routing helpers.
package server

import (
	"net/http"
	"time"
)

// SetupRoutes configures all HTTP routes for the server.
func (s *Server) SetupRoutes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("GET /rooms/{roomID}/users", s.handleRoomUsers)
	mux.HandleFunc("GET /users/{userID}/rate-limits", s.handleRateLimitStatus)
	mux.HandleFunc("POST /users/{userID}/rate-limits/reset", s.handleRateLimitReset)
	mux.HandleFunc("/", s.handleHealth)
	return mux
}

// CreateServer creates and configures the HTTP server with conservative
// read and write timeouts. WebSocket connections are not affected by these
// once the protocol upgrade has happened.
func CreateServer(port string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}
