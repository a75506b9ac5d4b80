package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Tyrowin/roomchat/internal/protocol"
	"github.com/Tyrowin/roomchat/internal/pubsub"
	"github.com/Tyrowin/roomchat/internal/ratelimit"
	"github.com/Tyrowin/roomchat/internal/store"
)

func newTestServer(cfg *Config) *Server {
	if cfg == nil {
		cfg = NewConfig()
	}
	mem := store.NewMemoryStore()
	mem.AddUser(store.User{ID: "u1", Username: "alice"})

	return NewServer(cfg, Deps{
		Store:    mem,
		Counters: ratelimit.NewMemoryCounterStore(),
		Channel:  pubsub.NewMemoryChannel(),
	})
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(nil)
	mux := s.SetupRoutes()

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "running") {
		t.Errorf("Unexpected health body: %q", rec.Body.String())
	}
}

func TestRoomUsersEndpoint(t *testing.T) {
	s := newTestServer(nil)
	mux := s.SetupRoutes()
	s.presence.Add("general", protocol.UserInfo{UserID: "u1", Username: "alice", ConnectionID: "c1"})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/rooms/general/users", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}

	var body struct {
		RoomID     string              `json:"roomId"`
		Users      []protocol.UserInfo `json:"users"`
		TotalUsers int                 `json:"totalUsers"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if body.RoomID != "general" || body.TotalUsers != 1 {
		t.Errorf("Unexpected body: %+v", body)
	}
	if len(body.Users) != 1 || body.Users[0].Username != "alice" {
		t.Errorf("Unexpected users: %+v", body.Users)
	}
}

func TestRoomUsersEndpointEmptyRoom(t *testing.T) {
	s := newTestServer(nil)
	mux := s.SetupRoutes()

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/rooms/nowhere/users", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}

	var body struct {
		TotalUsers int `json:"totalUsers"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if body.TotalUsers != 0 {
		t.Errorf("Expected empty room, got %d users", body.TotalUsers)
	}
}

func TestRateLimitStatusEndpoint(t *testing.T) {
	s := newTestServer(nil)
	mux := s.SetupRoutes()

	ctx := context.Background()
	s.limiter.Check(ctx, "u1", ratelimit.ActionMessages)
	s.limiter.Check(ctx, "u1", ratelimit.ActionMessages)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/users/u1/rate-limits", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}

	var body map[string]rateLimitStatusBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	msgs, ok := body["messages"]
	if !ok {
		t.Fatalf("Expected a messages entry, got %v", body)
	}
	if msgs.Count != 2 || msgs.Remaining != 8 {
		t.Errorf("Unexpected messages status: %+v", msgs)
	}
	if _, ok := body["joins"]; !ok {
		t.Errorf("Expected a joins entry, got %v", body)
	}

	// Reading the status must not consume allowance.
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/users/u1/rate-limits", nil))
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if body["messages"].Count != 2 {
		t.Errorf("Status read changed the counter: %+v", body["messages"])
	}
}

func TestRateLimitResetEndpoint(t *testing.T) {
	s := newTestServer(nil)
	mux := s.SetupRoutes()

	ctx := context.Background()
	s.limiter.Check(ctx, "u1", ratelimit.ActionMessages)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/users/u1/rate-limits/reset", strings.NewReader(`{"action":"messages"}`))
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}

	status, err := s.limiter.Status(ctx, "u1")
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if status[ratelimit.ActionMessages].Count != 0 {
		t.Errorf("Expected counter cleared after reset, got %+v", status[ratelimit.ActionMessages])
	}
}

func TestRateLimitResetRejectsUnknownAction(t *testing.T) {
	s := newTestServer(nil)
	mux := s.SetupRoutes()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/users/u1/rate-limits/reset", strings.NewReader(`{"action":"global"}`))
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for unknown action, got %d", rec.Code)
	}
}

func TestWebSocketEndpointRejectsNonGet(t *testing.T) {
	s := newTestServer(nil)
	mux := s.SetupRoutes()

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("POST", "/ws", nil))

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected status 405, got %d", rec.Code)
	}
}

// TestWebSocketGlobalRateLimit verifies that connection attempts beyond the
// per-IP limit are refused with 429 and a Retry-After header before any
// protocol upgrade is attempted.
func TestWebSocketGlobalRateLimit(t *testing.T) {
	cfg := NewConfig()
	cfg.RateLimit.GlobalPerIP = 1
	cfg.RateLimit.Window = time.Minute
	s := newTestServer(cfg)
	mux := s.SetupRoutes()

	// First attempt consumes the allowance; the upgrade itself fails
	// because this is not a WebSocket handshake, which is fine here.
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/ws", nil))
	if rec.Code == http.StatusTooManyRequests {
		t.Fatalf("First attempt should not be rate limited")
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/ws", nil))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("Expected status 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("Expected a Retry-After header on 429")
	}
}
