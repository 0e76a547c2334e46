package client

import (
	"sync"

	"github.com/dialoguehq/dialogue/internal/v1/room"
	"github.com/dialoguehq/dialogue/internal/v1/types"
)

// Registry keeps the forward map (connection to client) and the reverse
// index (user to its connections) strictly in sync on Add/Remove.
type Registry struct {
	mu     sync.RWMutex
	byConn map[types.ConnectionID]*ConnectedClient
	byUser map[types.UserID]map[types.ConnectionID]bool
}

// NewRegistry builds an empty client Registry.
func NewRegistry() *Registry {
	return &Registry{
		byConn: make(map[types.ConnectionID]*ConnectedClient),
		byUser: make(map[types.UserID]map[types.ConnectionID]bool),
	}
}

// Add indexes c by both its connection id and user id.
func (reg *Registry) Add(c *ConnectedClient) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.byConn[c.ConnectionID()] = c
	set, ok := reg.byUser[c.UserID()]
	if !ok {
		set = make(map[types.ConnectionID]bool)
		reg.byUser[c.UserID()] = set
	}
	set[c.ConnectionID()] = true
}

// Remove purges connID from both indices.
func (reg *Registry) Remove(connID types.ConnectionID) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	c, ok := reg.byConn[connID]
	if !ok {
		return
	}
	delete(reg.byConn, connID)
	if set, ok := reg.byUser[c.UserID()]; ok {
		delete(set, connID)
		if len(set) == 0 {
			delete(reg.byUser, c.UserID())
		}
	}
}

// Get returns the client for connID, if connected.
func (reg *Registry) Get(connID types.ConnectionID) (*ConnectedClient, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	c, ok := reg.byConn[connID]
	return c, ok
}

// All returns a snapshot slice of every currently connected client.
func (reg *Registry) All() []*ConnectedClient {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	out := make([]*ConnectedClient, 0, len(reg.byConn))
	for _, c := range reg.byConn {
		out = append(out, c)
	}
	return out
}

// ClientsByUserID resolves every connection id in the reverse index for
// uid through the forward map, silently skipping any that turned stale.
func (reg *Registry) ClientsByUserID(uid types.UserID) []*ConnectedClient {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	ids, ok := reg.byUser[uid]
	if !ok {
		return nil
	}
	out := make([]*ConnectedClient, 0, len(ids))
	for id := range ids {
		if c, ok := reg.byConn[id]; ok {
			out = append(out, c)
		}
	}
	return out
}

// ClientRooms returns the union of joined rooms across every connection of
// uid.
func (reg *Registry) ClientRooms(uid types.UserID) []types.RoomID {
	union := make(map[types.RoomID]bool)
	for _, c := range reg.ClientsByUserID(uid) {
		for _, rid := range c.JoinedRooms() {
			union[rid] = true
		}
	}
	out := make([]types.RoomID, 0, len(union))
	for rid := range union {
		out = append(out, rid)
	}
	return out
}

// IsInRoom reports whether any connection belonging to uid has joined rid.
func (reg *Registry) IsInRoom(uid types.UserID, rid types.RoomID) bool {
	for _, c := range reg.ClientsByUserID(uid) {
		if c.IsJoined(rid) {
			return true
		}
	}
	return false
}

// LeaveAll forces every connection of uid out of every room any of them
// had joined. callback, if non-nil, is invoked once per distinct room
// before any connection is made to leave it.
func (reg *Registry) LeaveAll(uid types.UserID, roomReg *room.Registry, callback func(types.RoomID)) {
	clients := reg.ClientsByUserID(uid)
	seen := make(map[types.RoomID]bool)
	for _, c := range clients {
		for _, rid := range c.JoinedRooms() {
			if !seen[rid] {
				seen[rid] = true
				if callback != nil {
					callback(rid)
				}
			}
		}
	}
	for _, c := range clients {
		for _, rid := range c.JoinedRooms() {
			c.Leave(rid, roomReg)
		}
	}
}
