package room

import (
	"context"
	"log/slog"
	"sync"

	"github.com/dialoguehq/dialogue/internal/v1/hooks"
	"github.com/dialoguehq/dialogue/internal/v1/metrics"
	"github.com/dialoguehq/dialogue/internal/v1/types"
)

// Registry owns every live room and its participant set.
type Registry struct {
	mu        sync.RWMutex
	rooms     map[types.RoomID]*Room
	eventHook hooks.EventHooks
	roomHooks hooks.RoomHooks
}

// NewRegistry builds an empty Registry. eventHooks is handed to every room
// created through Register; roomHooks fire around registration itself.
func NewRegistry(eventHooks hooks.EventHooks, roomHooks hooks.RoomHooks) *Registry {
	return &Registry{
		rooms:     make(map[types.RoomID]*Room),
		eventHook: eventHooks,
		roomHooks: roomHooks,
	}
}

// Register creates a room from config, replacing any existing room with
// the same id, and fires rooms.onCreated.
func (reg *Registry) Register(ctx context.Context, config types.RoomConfig) *Room {
	r := New(config, reg.eventHook)

	reg.mu.Lock()
	reg.rooms[config.ID] = r
	reg.mu.Unlock()

	metrics.ActiveRooms.Set(float64(reg.Count()))
	slog.Info("room registered", "room", config.ID)

	if reg.roomHooks.OnCreated != nil {
		go reg.roomHooks.OnCreated(ctx, config.ID)
	}
	return r
}

// Get returns the room with id, if any.
func (reg *Registry) Get(id types.RoomID) (*Room, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	r, ok := reg.rooms[id]
	return r, ok
}

// All returns a snapshot slice of every live room.
func (reg *Registry) All() []*Room {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	out := make([]*Room, 0, len(reg.rooms))
	for _, r := range reg.rooms {
		out = append(out, r)
	}
	return out
}

// Count returns the number of live rooms.
func (reg *Registry) Count() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.rooms)
}

// AddParticipant inserts client into room id. It returns false, without
// mutating anything, when the room is absent or already full.
func (reg *Registry) AddParticipant(id types.RoomID, client types.ClientInterface) bool {
	r, ok := reg.Get(id)
	if !ok {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.isFullLocked() {
		return false
	}
	r.addParticipantLocked(client)
	return true
}

// RemoveParticipant removes connID from room id, if both exist.
func (reg *Registry) RemoveParticipant(id types.RoomID, connID types.ConnectionID) {
	r, ok := reg.Get(id)
	if !ok {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeParticipantLocked(connID)
}

// RemoveFromAllRooms removes connID from every room it happens to be in.
func (reg *Registry) RemoveFromAllRooms(connID types.ConnectionID) {
	for _, r := range reg.All() {
		r.mu.Lock()
		_, present := r.participants[connID]
		if present {
			r.removeParticipantLocked(connID)
		}
		r.mu.Unlock()
	}
}

// Unregister evicts every participant, clears the room's history, emits
// dialogue:roomDeleted to every former participant, deletes the room, and
// fires rooms.onDeleted. It returns false if the room did not exist.
func (reg *Registry) Unregister(ctx context.Context, id types.RoomID) bool {
	reg.mu.Lock()
	r, ok := reg.rooms[id]
	if !ok {
		reg.mu.Unlock()
		return false
	}
	delete(reg.rooms, id)
	reg.mu.Unlock()

	for _, client := range r.Participants() {
		client.NotifyRoomDeleted(id)
	}

	r.ClearHistory()
	metrics.RoomParticipants.DeleteLabelValues(string(id))
	metrics.ActiveRooms.Set(float64(reg.Count()))
	slog.Info("room unregistered", "room", id)

	if reg.roomHooks.OnDeleted != nil {
		go reg.roomHooks.OnDeleted(ctx, id)
	}
	return true
}
