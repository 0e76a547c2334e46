// Package client implements ConnectedClient, the per-connection state
// machine for joined rooms and subscriptions, and the client registry that
// indexes connections by id and by authenticated user.
package client

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/dialoguehq/dialogue/internal/v1/room"
	"github.com/dialoguehq/dialogue/internal/v1/types"
	"github.com/dialoguehq/dialogue/internal/v1/wire"
)

// Transport is the narrow, outbound-only view of a connection that
// ConnectedClient needs. It must never block the caller; a full send
// buffer is the transport's problem to drop or disconnect on, not the
// routing core's.
type Transport interface {
	Send(frame wire.Frame)
	Close()
}

// ConnectedClient is one authenticated connection's view of the system:
// which rooms it has joined and, per room, which event names it is
// subscribed to. It implements types.ClientInterface and therefore holds
// only ids and this narrow Transport back to its connection — never a
// direct reference to a *room.Room, to avoid a Room-Client reference
// cycle.
type ConnectedClient struct {
	mu            sync.RWMutex
	connID        types.ConnectionID
	userID        types.UserID
	auth          types.AuthData
	meta          map[string]any
	transport     Transport
	joinedRooms   map[types.RoomID]bool
	subscriptions map[types.RoomID]map[types.EventName]bool
}

// New creates a ConnectedClient bound to transport.
func New(connID types.ConnectionID, userID types.UserID, auth types.AuthData, transport Transport) *ConnectedClient {
	return &ConnectedClient{
		connID:        connID,
		userID:        userID,
		auth:          auth,
		transport:     transport,
		joinedRooms:   make(map[types.RoomID]bool),
		subscriptions: make(map[types.RoomID]map[types.EventName]bool),
	}
}

// ConnectionID implements types.ClientInterface.
func (c *ConnectedClient) ConnectionID() types.ConnectionID { return c.connID }

// UserID implements types.ClientInterface.
func (c *ConnectedClient) UserID() types.UserID { return c.userID }

// Auth returns the AuthData produced at handshake.
func (c *ConnectedClient) Auth() types.AuthData { return c.auth }

// Subscribed implements types.ClientInterface: "*" in the room's
// subscription set or the event's own name both count.
func (c *ConnectedClient) Subscribed(roomID types.RoomID, event types.EventName) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	set, ok := c.subscriptions[roomID]
	if !ok {
		return false
	}
	return set[types.Wildcard] || set[event]
}

// Emit implements types.ClientInterface by forwarding msg as a
// dialogue:event frame.
func (c *ConnectedClient) Emit(msg types.EventMessage) {
	c.sendFrame(wire.EventEvent, msg)
}

// NotifyRoomDeleted implements types.ClientInterface by sending a
// dialogue:roomDeleted frame, distinct from Emit's dialogue:event envelope.
func (c *ConnectedClient) NotifyRoomDeleted(roomID types.RoomID) {
	c.sendFrame(wire.EventRoomDeleted, wire.RoomDeletedPayload{RoomID: string(roomID)})
}

func (c *ConnectedClient) sendFrame(event string, payload any) {
	c.transport.Send(wire.NewFrame(event, payload))
}

// SendFrame pushes a server-initiated frame directly to this client's
// transport. It is the dispatcher's entry point for frames that aren't tied
// to one of the join/leave/subscribe primitives below (dialogue:connected,
// dialogue:history, dialogue:historyResponse, dialogue:rooms, and
// dialogue:error responses to a rejected verb).
func (c *ConnectedClient) SendFrame(event string, payload any) {
	c.sendFrame(event, payload)
}

// JoinedRooms returns a snapshot of the rooms this client currently
// belongs to.
func (c *ConnectedClient) JoinedRooms() []types.RoomID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]types.RoomID, 0, len(c.joinedRooms))
	for id := range c.joinedRooms {
		out = append(out, id)
	}
	return out
}

// IsJoined reports whether the client currently belongs to roomID.
func (c *ConnectedClient) IsJoined(roomID types.RoomID) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.joinedRooms[roomID]
}

// Join attempts to add the client to roomID via reg. A missing room is
// logged and ignored. Re-joining an already-joined room re-emits the
// join acknowledgement, which keeps reconnect UIs idempotent. A capacity
// failure is reported directly to this client as ROOM_FULL.
func (c *ConnectedClient) Join(roomID types.RoomID, reg *room.Registry) {
	r, ok := reg.Get(roomID)
	if !ok {
		slog.Warn("join requested for unknown room", "room", roomID, "connectionId", c.connID)
		return
	}

	if c.IsJoined(roomID) {
		c.sendFrame(wire.EventJoined, wire.JoinedPayload{RoomID: string(roomID), RoomName: r.Config().Name})
		return
	}

	if !reg.AddParticipant(roomID, c) {
		c.sendFrame(wire.EventError, wire.ErrorPayload{
			Code:    wire.CodeRoomFull,
			Message: fmt.Sprintf("room '%s' is full", roomID),
		})
		return
	}

	cfg := r.Config()
	c.mu.Lock()
	c.joinedRooms[roomID] = true
	c.subscriptions[roomID] = make(map[types.EventName]bool)
	c.mu.Unlock()

	for _, name := range cfg.DefaultSubscriptions {
		c.Subscribe(roomID, name)
	}

	c.sendFrame(wire.EventJoined, wire.JoinedPayload{RoomID: string(roomID), RoomName: cfg.Name})
}

// Leave removes the client from roomID via reg and acknowledges.
func (c *ConnectedClient) Leave(roomID types.RoomID, reg *room.Registry) {
	reg.RemoveParticipant(roomID, c.connID)
	c.mu.Lock()
	delete(c.joinedRooms, roomID)
	delete(c.subscriptions, roomID)
	c.mu.Unlock()
	c.sendFrame(wire.EventLeft, wire.LeftPayload{RoomID: string(roomID)})
}

// Subscribe adds event ("*" for every event) to the client's subscription
// set for roomID. It is a silent, logged no-op if the client hasn't
// joined that room.
func (c *ConnectedClient) Subscribe(roomID types.RoomID, event types.EventName) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.joinedRooms[roomID] {
		slog.Warn("subscribe requested for unjoined room", "room", roomID, "connectionId", c.connID)
		return
	}
	set, ok := c.subscriptions[roomID]
	if !ok {
		set = make(map[types.EventName]bool)
		c.subscriptions[roomID] = set
	}
	set[event] = true
}

// SubscribeAll is Subscribe(roomID, "*").
func (c *ConnectedClient) SubscribeAll(roomID types.RoomID) {
	c.Subscribe(roomID, types.Wildcard)
}

// Unsubscribe removes event from the client's subscription set for
// roomID, if present.
func (c *ConnectedClient) Unsubscribe(roomID types.RoomID, event types.EventName) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if set, ok := c.subscriptions[roomID]; ok {
		delete(set, event)
	}
}

// Disconnect removes the client from every room it had joined, then clears
// its local joined-room and subscription state, then closes its transport.
func (c *ConnectedClient) Disconnect(reg *room.Registry) {
	reg.RemoveFromAllRooms(c.connID)
	c.mu.Lock()
	c.joinedRooms = make(map[types.RoomID]bool)
	c.subscriptions = make(map[types.RoomID]map[types.EventName]bool)
	c.mu.Unlock()
	c.transport.Close()
}
