// Package testhelpers provides common utilities and helper functions for testing the RoomChat server.
//
// This package contains reusable test utilities that are shared across the
// integration tests. It provides functions for creating fully wired test
// backends over in-memory collaborators, making HTTP requests, and driving
// WebSocket sessions to reduce code duplication in test files.
package testhelpers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/roomchat/internal/protocol"
	"github.com/Tyrowin/roomchat/internal/pubsub"
	"github.com/Tyrowin/roomchat/internal/ratelimit"
	"github.com/Tyrowin/roomchat/internal/server"
	"github.com/Tyrowin/roomchat/internal/store"
)

// Backend bundles a running test server with the in-memory collaborators it
// was wired over, so tests can seed users and share the broker between
// instances.
type Backend struct {
	Server  *server.Server
	HTTP    *httptest.Server
	Store   *store.MemoryStore
	Channel *pubsub.MemoryChannel
}

// Close shuts the HTTP listener down.
func (b *Backend) Close() {
	b.HTTP.Close()
}

// URL returns the backend's base HTTP URL.
func (b *Backend) URL() string {
	return b.HTTP.URL
}

// WebSocketURL returns the backend's WebSocket endpoint URL.
func (b *Backend) WebSocketURL() string {
	return "ws" + strings.TrimPrefix(b.HTTP.URL, "http") + "/ws"
}

// NewBackend creates a fully wired test backend over in-memory
// collaborators and starts it on an httptest listener. A nil config gets
// the defaults, whose origin allow list matches the test dialer's origin.
func NewBackend(t *testing.T, cfg *server.Config) *Backend {
	t.Helper()
	return newBackend(t, cfg, store.NewMemoryStore(), pubsub.NewMemoryChannel())
}

// NewPeerBackend creates a second backend that shares the given backend's
// message broker and persistence store, simulating another instance of the
// service behind the same infrastructure.
func NewPeerBackend(t *testing.T, peer *Backend, cfg *server.Config) *Backend {
	t.Helper()
	return newBackend(t, cfg, peer.Store, peer.Channel.Join())
}

func newBackend(t *testing.T, cfg *server.Config, st *store.MemoryStore, channel *pubsub.MemoryChannel) *Backend {
	t.Helper()

	if cfg == nil {
		cfg = server.NewConfig()
	}

	srv := server.NewServer(cfg, server.Deps{
		Store:    st,
		Counters: ratelimit.NewMemoryCounterStore(),
		Channel:  channel,
	})
	srv.Start()

	ts := httptest.NewServer(srv.SetupRoutes())
	t.Cleanup(ts.Close)

	return &Backend{Server: srv, HTTP: ts, Store: st, Channel: channel}
}

// SeedUser adds a user record to the backend's store.
func (b *Backend) SeedUser(id, username string) {
	b.Store.AddUser(store.User{ID: id, Username: username})
}

// MakeRequest creates and executes an HTTP request, returning the response.
// It includes a 5-second timeout and fails the test if the request cannot
// be created or executed successfully.
func MakeRequest(t *testing.T, method, url string) *http.Response {
	t.Helper()

	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	req, err := http.NewRequest(method, url, http.NoBody)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}

	return resp
}

// ConnectWebSocket creates a WebSocket connection to the specified URL with
// a test origin header. The connection is closed automatically when the
// test finishes.
func ConnectWebSocket(t *testing.T, url string) *websocket.Conn {
	t.Helper()

	conn, err := DialWebSocket(url)
	if err != nil {
		t.Fatalf("Failed to connect to %s: %v", url, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// DialWebSocket attempts a WebSocket connection and returns the raw dial
// error, for tests that expect the handshake to be refused.
func DialWebSocket(url string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	headers := http.Header{}
	headers.Set("Origin", "http://localhost:8080")

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

// SendEvent sends a framed event over the WebSocket connection.
func SendEvent(t *testing.T, conn *websocket.Conn, event string, payload any) {
	t.Helper()

	frame, err := protocol.Encode(event, payload)
	if err != nil {
		t.Fatalf("Failed to encode %s event: %v", event, err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		t.Fatalf("Failed to send %s event: %v", event, err)
	}
}

// ReadFrame reads the next frame from the connection, failing the test if
// nothing arrives within the timeout.
func ReadFrame(t *testing.T, conn *websocket.Conn, timeout time.Duration) protocol.Frame {
	t.Helper()

	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Failed to read frame: %v", err)
	}

	var frame protocol.Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		t.Fatalf("Received undecodable frame %q: %v", raw, err)
	}
	return frame
}

// ReadUntil reads frames until one carries the wanted event name, failing
// the test if it does not arrive within the timeout.
func ReadUntil(t *testing.T, conn *websocket.Conn, event string, timeout time.Duration) protocol.Frame {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			t.Fatalf("Timed out waiting for %s event", event)
		}
		frame := ReadFrame(t, conn, remaining)
		if frame.Event == event {
			return frame
		}
	}
}

// DecodePayload unmarshals a frame's payload into the given value.
func DecodePayload(t *testing.T, frame protocol.Frame, into any) {
	t.Helper()
	if err := json.Unmarshal(frame.Data, into); err != nil {
		t.Fatalf("Failed to decode %s payload: %v", frame.Event, err)
	}
}

// JoinRoom performs a join and waits for the confirmation.
func JoinRoom(t *testing.T, conn *websocket.Conn, userID, roomID string) {
	t.Helper()

	SendEvent(t, conn, protocol.EventJoin, protocol.JoinRequest{UserID: userID, RoomID: roomID})
	ReadUntil(t, conn, protocol.EventJoinSuccess, 2*time.Second)
}
