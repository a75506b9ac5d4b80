package server

import (
	"testing"
	"time"

	"github.com/Tyrowin/roomchat/internal/presence"
	"github.com/Tyrowin/roomchat/internal/protocol"
)

// TestNewHub tests the hub creation function. It verifies that NewHub
// returns a properly initialized Hub with all necessary channels and data
// structures.
func TestNewHub(t *testing.T) {
	hub := NewHub(presence.NewRegistry())

	if hub == nil {
		t.Fatal("NewHub() returned nil")
	}
	if hub.GetRegisterChan() == nil {
		t.Error("Register channel is nil")
	}
	if hub.GetUnregisterChan() == nil {
		t.Error("Unregister channel is nil")
	}
}

// TestHubRunIgnoresNilRegistration verifies that a nil client sent to the
// register channel is skipped without panicking.
func TestHubRunIgnoresNilRegistration(t *testing.T) {
	hub := NewHub(presence.NewRegistry())
	go hub.Run()

	select {
	case hub.GetRegisterChan() <- nil:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Register channel blocked on nil client")
	}

	if err := hub.Shutdown(time.Second); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
}

func TestSendToUnknownConnectionIsDropped(t *testing.T) {
	hub := NewHub(presence.NewRegistry())

	// Must not panic or block.
	hub.SendTo("missing", []byte(`{"event":"ping"}`))
}

// TestDeliverToRoomTargetsMembersOnly verifies that room delivery resolves
// recipients through the presence registry, so clients connected to the hub
// but not in the room receive nothing.
func TestDeliverToRoomTargetsMembersOnly(t *testing.T) {
	reg := presence.NewRegistry()
	hub := NewHub(reg)

	member := NewClient(nil, hub, nil, "127.0.0.1:50001", 4096)
	outsider := NewClient(nil, hub, nil, "127.0.0.1:50002", 4096)
	hub.mutex.Lock()
	hub.clients[member.id] = member
	hub.clients[outsider.id] = outsider
	hub.mutex.Unlock()

	reg.Add("general", protocol.UserInfo{UserID: "u1", Username: "alice", ConnectionID: member.id})

	frame := []byte(`{"event":"message"}`)
	hub.DeliverToRoom("general", frame)

	select {
	case got := <-member.send:
		if string(got) != string(frame) {
			t.Errorf("Member received wrong frame: %q", got)
		}
	default:
		t.Error("Expected the room member to receive the frame")
	}

	select {
	case got := <-outsider.send:
		t.Errorf("Outsider should receive nothing, got %q", got)
	default:
	}
}

// TestDeliverToRoomRemovesClientsWithFullBuffers verifies that a client
// whose send buffer is full is dropped from the hub instead of blocking
// delivery to the rest of the room.
func TestDeliverToRoomRemovesClientsWithFullBuffers(t *testing.T) {
	reg := presence.NewRegistry()
	hub := NewHub(reg)

	slow := NewClient(nil, hub, nil, "127.0.0.1:50003", 4096)
	hub.mutex.Lock()
	hub.clients[slow.id] = slow
	hub.mutex.Unlock()
	reg.Add("general", protocol.UserInfo{UserID: "u1", Username: "alice", ConnectionID: slow.id})

	for i := 0; i < cap(slow.send); i++ {
		slow.send <- []byte("backlog")
	}

	hub.DeliverToRoom("general", []byte(`{"event":"message"}`))

	hub.mutex.RLock()
	_, stillThere := hub.clients[slow.id]
	hub.mutex.RUnlock()
	if stillThere {
		t.Error("Expected the client with a full buffer to be removed")
	}
	if !slow.closed {
		t.Error("Expected the removed client to be marked closed")
	}
}

// TestHubShutdownCompletes verifies that shutdown terminates the run loop
// within the timeout when no clients are connected.
func TestHubShutdownCompletes(t *testing.T) {
	hub := NewHub(presence.NewRegistry())
	go hub.Run()

	if err := hub.Shutdown(time.Second); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
}
