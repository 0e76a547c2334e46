package client

import (
	"context"
	"testing"

	"github.com/dialoguehq/dialogue/internal/v1/hooks"
	"github.com/dialoguehq/dialogue/internal/v1/room"
	"github.com/dialoguehq/dialogue/internal/v1/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_AddGetRemove(t *testing.T) {
	reg := NewRegistry()
	c := New("conn-1", "alice", types.AuthData{}, &fakeTransport{})
	reg.Add(c)

	got, ok := reg.Get("conn-1")
	require.True(t, ok)
	assert.Same(t, c, got)

	reg.Remove("conn-1")
	_, ok = reg.Get("conn-1")
	assert.False(t, ok)
}

func TestRegistry_ClientsByUserIDMultipleConnections(t *testing.T) {
	reg := NewRegistry()
	c1 := New("conn-1", "alice", types.AuthData{}, &fakeTransport{})
	c2 := New("conn-2", "alice", types.AuthData{}, &fakeTransport{})
	reg.Add(c1)
	reg.Add(c2)

	clients := reg.ClientsByUserID("alice")
	assert.Len(t, clients, 2)
}

func TestRegistry_ClientRoomsAndIsInRoom(t *testing.T) {
	roomReg := room.NewRegistry(hooks.EventHooks{}, hooks.RoomHooks{})
	roomReg.Register(context.Background(), types.RoomConfig{ID: "chat"})
	roomReg.Register(context.Background(), types.RoomConfig{ID: "lobby"})

	reg := NewRegistry()
	c1 := New("conn-1", "alice", types.AuthData{}, &fakeTransport{})
	c2 := New("conn-2", "alice", types.AuthData{}, &fakeTransport{})
	reg.Add(c1)
	reg.Add(c2)

	c1.Join("chat", roomReg)
	c2.Join("lobby", roomReg)

	rooms := reg.ClientRooms("alice")
	assert.ElementsMatch(t, []types.RoomID{"chat", "lobby"}, rooms)
	assert.True(t, reg.IsInRoom("alice", "chat"))
	assert.True(t, reg.IsInRoom("alice", "lobby"))
	assert.False(t, reg.IsInRoom("bob", "chat"))
}

func TestRegistry_LeaveAllInvokesCallbackBeforeMutationAndClearsEveryConnection(t *testing.T) {
	roomReg := room.NewRegistry(hooks.EventHooks{}, hooks.RoomHooks{})
	roomReg.Register(context.Background(), types.RoomConfig{ID: "chat"})

	reg := NewRegistry()
	c1 := New("conn-1", "alice", types.AuthData{}, &fakeTransport{})
	c2 := New("conn-2", "alice", types.AuthData{}, &fakeTransport{})
	reg.Add(c1)
	reg.Add(c2)
	c1.Join("chat", roomReg)
	c2.Join("chat", roomReg)

	var callbackRooms []types.RoomID
	var stillJoinedAtCallback bool
	reg.LeaveAll("alice", roomReg, func(rid types.RoomID) {
		callbackRooms = append(callbackRooms, rid)
		stillJoinedAtCallback = c1.IsJoined(rid)
	})

	assert.Equal(t, []types.RoomID{"chat"}, callbackRooms)
	assert.True(t, stillJoinedAtCallback, "callback must run before any connection leaves")
	assert.False(t, c1.IsJoined("chat"))
	assert.False(t, c2.IsJoined("chat"))
}
