// Package server exposes HTTP handlers, including WebSocket upgrades, health
// checks, presence queries, and rate limit administration.
package server

import (
	"encoding/json"
	"log"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/roomchat/internal/presence"
	"github.com/Tyrowin/roomchat/internal/pubsub"
	"github.com/Tyrowin/roomchat/internal/ratelimit"
	"github.com/Tyrowin/roomchat/internal/store"
)

// Deps carries the external collaborators the server needs. Callers choose
// the concrete implementations, so tests can run against in-memory versions
// while production wires Redis and Postgres.
type Deps struct {
	Store    store.PersistenceStore
	Counters ratelimit.CounterStore
	Channel  pubsub.Channel
}

// Server owns the full request-handling stack: the WebSocket hub, the event
// router, the presence registry, the rate limiter, and the HTTP endpoints
// that expose them.
type Server struct {
	config   *Config
	presence *presence.Registry
	limiter  *ratelimit.Limiter
	fanout   *pubsub.Fanout
	hub      *Hub
	router   *Router
	origins  *originPolicy
	upgrader websocket.Upgrader
}

// NewServer wires the server's components together from the given
// configuration and dependencies.
func NewServer(config *Config, deps Deps) *Server {
	reg := presence.NewRegistry()
	limiter := ratelimit.NewLimiter(deps.Counters, config.Windows(), ratelimit.WithLocalFallback())
	fanout := pubsub.NewFanout(deps.Channel)
	hub := NewHub(reg)
	router := NewRouter(reg, limiter, deps.Store, fanout, hub)
	origins := newOriginPolicy(config.AllowedOrigins)

	s := &Server{
		config:   config,
		presence: reg,
		limiter:  limiter,
		fanout:   fanout,
		hub:      hub,
		router:   router,
		origins:  origins,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     origins.check,
	}
	return s
}

// Start launches the hub's event loop. Call once before serving traffic.
func (s *Server) Start() {
	go s.hub.Run()
}

// Hub returns the connection hub, primarily so the shutdown path can drain
// it after the HTTP listener stops.
func (s *Server) Hub() *Hub {
	return s.hub
}

// handleWebSocket upgrades an HTTP request to a WebSocket connection and
// registers the resulting client with the hub. Connection attempts count
// against the per-IP global rate limit before the upgrade happens.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ip := clientIP(r)
	res := s.limiter.Check(r.Context(), ip, ratelimit.ActionGlobal)
	if !res.Allowed {
		log.Printf("Global rate limit exceeded for %s", ip)
		retryAfter := int(time.Until(res.ResetAt).Seconds())
		if retryAfter < 1 {
			retryAfter = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		http.Error(w, "Too many requests", http.StatusTooManyRequests)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Error upgrading connection from %s: %v", r.RemoteAddr, err)
		return
	}

	client := NewClient(conn, s.hub, s.router, r.RemoteAddr, s.config.MaxMessageSize)
	s.router.Attach(client)
	s.hub.GetRegisterChan() <- client
}

// handleHealth responds to health checks with a simple status message.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("RoomChat server is running!")); err != nil {
		log.Printf("Error writing health response: %v", err)
	}
}

// handleRoomUsers returns the current member list of a room.
func (s *Server) handleRoomUsers(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("roomID")
	if roomID == "" {
		http.Error(w, "Room id is required", http.StatusBadRequest)
		return
	}

	users := s.presence.List(roomID)
	writeJSON(w, http.StatusOK, map[string]any{
		"roomId":     roomID,
		"users":      users,
		"totalUsers": len(users),
	})
}

// rateLimitStatusBody is the JSON shape of the rate limit status endpoint.
type rateLimitStatusBody struct {
	Count     int64 `json:"count"`
	Remaining int   `json:"remaining"`
	ResetTime int64 `json:"resetTime"`
}

// handleRateLimitStatus reports a user's current counter state for each
// user-scoped action without consuming any of the allowance.
func (s *Server) handleRateLimitStatus(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")
	if userID == "" {
		http.Error(w, "User id is required", http.StatusBadRequest)
		return
	}

	status, err := s.limiter.Status(r.Context(), userID)
	if err != nil {
		log.Printf("Error reading rate limit status for %s: %v", userID, err)
		http.Error(w, "Failed to read rate limit status", http.StatusInternalServerError)
		return
	}

	body := make(map[string]rateLimitStatusBody, len(status))
	for action, st := range status {
		body[string(action)] = rateLimitStatusBody{
			Count:     st.Count,
			Remaining: st.Remaining,
			ResetTime: st.ResetAt.UnixMilli(),
		}
	}
	writeJSON(w, http.StatusOK, body)
}

// handleRateLimitReset clears a user's counter for one action, restoring
// the full window immediately.
func (s *Server) handleRateLimitReset(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")
	if userID == "" {
		http.Error(w, "User id is required", http.StatusBadRequest)
		return
	}

	var req struct {
		Action string `json:"action"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	action := ratelimit.Action(req.Action)
	if action != ratelimit.ActionMessages && action != ratelimit.ActionJoins {
		http.Error(w, "Unknown action", http.StatusBadRequest)
		return
	}

	if err := s.limiter.Reset(r.Context(), userID, action); err != nil {
		log.Printf("Error resetting %s limit for %s: %v", action, userID, err)
		http.Error(w, "Failed to reset rate limit", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// clientIP extracts the remote IP so per-IP limits are not skewed by the
// ephemeral port.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("Error writing JSON response: %v", err)
	}
}
