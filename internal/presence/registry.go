// Package presence tracks which users are joined to which rooms on this
// server instance.
//
// The registry is purely in-memory bookkeeping: each process tracks only the
// connections local to it, and cross-instance presence is not unified here.
// A Registry is always constructor-injected into its consumers so tests can
// run isolated instances.
package presence

import (
	"sort"
	"sync"

	"github.com/Tyrowin/roomchat/internal/protocol"
)

// Registry maintains the per-room member sets. All methods are safe for
// concurrent use.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]map[string]protocol.UserInfo
}

// NewRegistry creates an empty presence registry.
func NewRegistry() *Registry {
	return &Registry{
		rooms: make(map[string]map[string]protocol.UserInfo),
	}
}

// Add records a user as a member of a room. Re-adding a user id that is
// already present is a no-op, so duplicate join events never create duplicate
// membership entries. It reports whether the user was newly added.
func (r *Registry) Add(roomID string, user protocol.UserInfo) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[roomID]
	if !ok {
		members = make(map[string]protocol.UserInfo)
		r.rooms[roomID] = members
	}
	if _, exists := members[user.UserID]; exists {
		return false
	}
	members[user.UserID] = user
	return true
}

// Remove deletes a user from a room and reports whether the user was a
// member. Removing the last member deletes the room entry entirely, so a
// room never lingers with zero members.
func (r *Registry) Remove(roomID, userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.removeLocked(roomID, userID)
}

func (r *Registry) removeLocked(roomID, userID string) bool {
	members, ok := r.rooms[roomID]
	if !ok {
		return false
	}
	if _, exists := members[userID]; !exists {
		return false
	}
	delete(members, userID)
	if len(members) == 0 {
		delete(r.rooms, roomID)
	}
	return true
}

// RemoveAllForConnection scans every room for members registered under the
// given connection id and removes them all. One socket can hold several
// memberships in one room under different user ids, so the returned map
// carries every removed user id per room, letting the caller broadcast each
// departure. Used on disconnect; calling it again for the same connection
// returns an empty map, which keeps cleanup idempotent.
func (r *Registry) RemoveAllForConnection(connectionID string) map[string][]string {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := make(map[string][]string)
	for roomID, members := range r.rooms {
		for userID, info := range members {
			if info.ConnectionID == connectionID {
				removed[roomID] = append(removed[roomID], userID)
				r.removeLocked(roomID, userID)
			}
		}
	}
	for _, userIDs := range removed {
		sort.Strings(userIDs)
	}
	return removed
}

// Member returns the membership record for a user in a room.
func (r *Registry) Member(roomID, userID string) (protocol.UserInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members, ok := r.rooms[roomID]
	if !ok {
		return protocol.UserInfo{}, false
	}
	info, exists := members[userID]
	return info, exists
}

// List returns a snapshot of the room's current members, ordered by username
// (then user id) so repeated user list broadcasts are deterministic.
func (r *Registry) List(roomID string) []protocol.UserInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.rooms[roomID]
	users := make([]protocol.UserInfo, 0, len(members))
	for _, info := range members {
		users = append(users, info)
	}
	sort.Slice(users, func(i, j int) bool {
		if users[i].Username != users[j].Username {
			return users[i].Username < users[j].Username
		}
		return users[i].UserID < users[j].UserID
	})
	return users
}

// IsMember reports whether the user is currently joined to the room.
func (r *Registry) IsMember(roomID, userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members, ok := r.rooms[roomID]
	if !ok {
		return false
	}
	_, exists := members[userID]
	return exists
}

// RoomCount returns the number of rooms with at least one member.
func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.rooms)
}
