package dialogue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/dialoguehq/dialogue/internal/v1/client"
	"github.com/dialoguehq/dialogue/internal/v1/hooks"
	"github.com/dialoguehq/dialogue/internal/v1/types"
	"github.com/dialoguehq/dialogue/internal/v1/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	mu     sync.Mutex
	sent   []wire.Frame
	closed bool
}

func (f *fakeTransport) Send(frame wire.Frame) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, frame)
}

func (f *fakeTransport) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeTransport) frames() []wire.Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]wire.Frame, len(f.sent))
	copy(out, f.sent)
	return out
}

func frame(event string, payload any) wire.Frame {
	return wire.NewFrame(event, payload)
}

func connect(t *testing.T, d *Dispatcher, authPayload any) (*client.ConnectedClient, *fakeTransport) {
	t.Helper()
	tr := &fakeTransport{}
	c, err := d.HandleConnect(context.Background(), nil, authPayload, tr)
	require.NoError(t, err)
	return c, tr
}

func TestHandleConnect_NoAuthHookFallsBackToConnectionID(t *testing.T) {
	d := New(hooks.Hooks{}, 0, 0)
	c, tr := connect(t, d, nil)

	assert.Equal(t, types.UserID(c.ConnectionID()), c.UserID())

	frames := tr.frames()
	require.Len(t, frames, 1)
	assert.Equal(t, wire.EventConnected, frames[0].Event)
}

func TestHandleConnect_FallbackPrefersAuthPayloadUserID(t *testing.T) {
	d := New(hooks.Hooks{}, 0, 0)
	c, _ := connect(t, d, map[string]any{"userId": "alice"})
	assert.Equal(t, types.UserID("alice"), c.UserID())
}

func TestHandleConnect_AuthHookRejectionReturnsError(t *testing.T) {
	d := New(hooks.Hooks{
		Auth: func(ctx context.Context, rawSocket any, authData any) (types.AuthData, error) {
			return types.AuthData{}, errors.New("denied")
		},
	}, 0, 0)

	_, err := d.HandleConnect(context.Background(), nil, nil, &fakeTransport{})
	assert.Error(t, err)
}

func lastFrame(tr *fakeTransport) wire.Frame {
	frames := tr.frames()
	return frames[len(frames)-1]
}

func errorCode(t *testing.T, f wire.Frame) string {
	t.Helper()
	require.Equal(t, wire.EventError, f.Event)
	var payload wire.ErrorPayload
	require.NoError(t, json.Unmarshal(f.Payload, &payload))
	return payload.Code
}

func TestHandleFrame_JoinMissingRoomSendsRoomNotFound(t *testing.T) {
	d := New(hooks.Hooks{}, 0, 0)
	c, tr := connect(t, d, map[string]any{"userId": "alice"})

	d.HandleFrame(context.Background(), c, frame(wire.VerbJoin, wire.JoinRequest{RoomID: "missing"}))

	assert.Equal(t, wire.CodeRoomNotFound, errorCode(t, lastFrame(tr)))
}

func TestHandleFrame_JoinThenTriggerFansOut(t *testing.T) {
	d := New(hooks.Hooks{}, 0, 0)
	d.Rooms.Register(context.Background(), types.RoomConfig{
		ID:                   "chat",
		DefaultSubscriptions: []types.EventName{"*"},
	})

	c, tr := connect(t, d, map[string]any{"userId": "alice"})
	d.HandleFrame(context.Background(), c, frame(wire.VerbJoin, wire.JoinRequest{RoomID: "chat"}))

	d.HandleFrame(context.Background(), c, frame(wire.VerbTrigger, wire.TriggerRequest{
		RoomID: "chat",
		Event:  "message",
		Data:   "hi",
	}))

	var sawEvent bool
	for _, f := range tr.frames() {
		if f.Event == wire.EventEvent {
			sawEvent = true
		}
	}
	assert.True(t, sawEvent)
}

func TestHandleFrame_JoinRunsBeforeJoinHook(t *testing.T) {
	d := New(hooks.Hooks{
		Client: hooks.ClientHooks{
			BeforeJoin: func(ctx context.Context, c types.ClientInterface, roomID types.RoomID, r hooks.RoomView) error {
				return errors.New("not allowed in")
			},
		},
	}, 0, 0)
	d.Rooms.Register(context.Background(), types.RoomConfig{ID: "chat"})
	c, tr := connect(t, d, map[string]any{"userId": "alice"})

	d.HandleFrame(context.Background(), c, frame(wire.VerbJoin, wire.JoinRequest{RoomID: "chat"}))

	assert.Equal(t, wire.CodeJoinDenied, errorCode(t, lastFrame(tr)))
	assert.False(t, c.IsJoined("chat"))
}

func TestHandleFrame_JoinSyncsHistoryOnJoin(t *testing.T) {
	d := New(hooks.Hooks{}, 0, 0)
	d.Rooms.Register(context.Background(), types.RoomConfig{
		ID:                "chat",
		SyncHistoryOnJoin: types.SyncHistoryAll,
		Events: []types.EventDefinition{
			types.NewEventDefinition("message", nil, &types.HistoryPolicy{Enabled: true, Limit: 10}),
		},
	})

	seeder, _ := connect(t, d, map[string]any{"userId": "seed"})
	d.HandleFrame(context.Background(), seeder, frame(wire.VerbJoin, wire.JoinRequest{RoomID: "chat"}))
	d.HandleFrame(context.Background(), seeder, frame(wire.VerbTrigger, wire.TriggerRequest{
		RoomID: "chat", Event: "message", Data: "hi",
	}))

	c, tr := connect(t, d, map[string]any{"userId": "joiner"})
	d.HandleFrame(context.Background(), c, frame(wire.VerbJoin, wire.JoinRequest{RoomID: "chat"}))

	var sawHistory bool
	for _, f := range tr.frames() {
		if f.Event == wire.EventHistory {
			sawHistory = true
		}
	}
	assert.True(t, sawHistory)
}

func TestHandleFrame_TriggerUnknownRoomSendsRoomNotFound(t *testing.T) {
	d := New(hooks.Hooks{}, 0, 0)
	c, tr := connect(t, d, map[string]any{"userId": "alice"})

	d.HandleFrame(context.Background(), c, frame(wire.VerbTrigger, wire.TriggerRequest{RoomID: "missing", Event: "x"}))

	assert.Equal(t, wire.CodeRoomNotFound, errorCode(t, lastFrame(tr)))
}

func TestHandleFrame_CreateRoomThenDeleteRoomRequiresCreator(t *testing.T) {
	d := New(hooks.Hooks{}, 0, 0)
	c1, tr1 := connect(t, d, map[string]any{"userId": "alice"})

	d.HandleFrame(context.Background(), c1, frame(wire.VerbCreateRoom, wire.CreateRoomRequest{ID: "room-1", Name: "Room 1"}))
	assert.Equal(t, wire.EventRoomCreated, lastFrame(tr1).Event)

	c2, tr2 := connect(t, d, map[string]any{"userId": "bob"})
	d.HandleFrame(context.Background(), c2, frame(wire.VerbDeleteRoom, wire.DeleteRoomRequest{RoomID: "room-1"}))
	assert.Equal(t, wire.CodePermissionDenied, errorCode(t, lastFrame(tr2)))

	_, stillExists := d.Rooms.Get("room-1")
	assert.True(t, stillExists)

	d.HandleFrame(context.Background(), c1, frame(wire.VerbDeleteRoom, wire.DeleteRoomRequest{RoomID: "room-1"}))
	_, stillExists = d.Rooms.Get("room-1")
	assert.False(t, stillExists)
}

func TestHandleFrame_CreateRoomBroadcastsToOtherClients(t *testing.T) {
	d := New(hooks.Hooks{}, 0, 0)
	c1, _ := connect(t, d, map[string]any{"userId": "alice"})
	_, tr2 := connect(t, d, map[string]any{"userId": "bob"})

	d.HandleFrame(context.Background(), c1, frame(wire.VerbCreateRoom, wire.CreateRoomRequest{ID: "room-1", Name: "Room 1"}))

	var sawCreated bool
	for _, f := range tr2.frames() {
		if f.Event == wire.EventRoomCreated {
			sawCreated = true
		}
	}
	assert.True(t, sawCreated)
}

func TestHandleFrame_CreateRoomDuplicateIDRejected(t *testing.T) {
	d := New(hooks.Hooks{}, 0, 0)
	c, tr := connect(t, d, map[string]any{"userId": "alice"})

	d.HandleFrame(context.Background(), c, frame(wire.VerbCreateRoom, wire.CreateRoomRequest{ID: "room-1"}))
	d.HandleFrame(context.Background(), c, frame(wire.VerbCreateRoom, wire.CreateRoomRequest{ID: "room-1"}))

	assert.Equal(t, wire.CodeRoomExists, errorCode(t, lastFrame(tr)))
}

func TestHandleFrame_GetHistoryReturnsTriggeredEvents(t *testing.T) {
	d := New(hooks.Hooks{}, 0, 0)
	d.Rooms.Register(context.Background(), types.RoomConfig{
		ID: "chat",
		Events: []types.EventDefinition{
			types.NewEventDefinition("message", nil, &types.HistoryPolicy{Enabled: true, Limit: 10}),
		},
	})
	c, tr := connect(t, d, map[string]any{"userId": "alice"})
	d.HandleFrame(context.Background(), c, frame(wire.VerbJoin, wire.JoinRequest{RoomID: "chat"}))
	d.HandleFrame(context.Background(), c, frame(wire.VerbTrigger, wire.TriggerRequest{RoomID: "chat", Event: "message", Data: "hi"}))

	d.HandleFrame(context.Background(), c, frame(wire.VerbGetHistory, wire.GetHistoryRequest{RoomID: "chat", EventName: "message"}))

	last := lastFrame(tr)
	require.Equal(t, wire.EventHistoryResponse, last.Event)
	var payload wire.HistoryResponsePayload
	require.NoError(t, json.Unmarshal(last.Payload, &payload))
	assert.Len(t, payload.Events, 1)
}

func TestHandleFrame_GetHistoryRateLimited(t *testing.T) {
	d := New(hooks.Hooks{}, 1, 0)
	d.Rooms.Register(context.Background(), types.RoomConfig{ID: "chat"})
	c, tr := connect(t, d, map[string]any{"userId": "alice"})

	d.HandleFrame(context.Background(), c, frame(wire.VerbGetHistory, wire.GetHistoryRequest{RoomID: "chat"}))
	d.HandleFrame(context.Background(), c, frame(wire.VerbGetHistory, wire.GetHistoryRequest{RoomID: "chat"}))

	assert.Equal(t, wire.CodeRateLimited, errorCode(t, lastFrame(tr)))
}

func TestHandleFrame_UnknownVerbSendsInvalidRequest(t *testing.T) {
	d := New(hooks.Hooks{}, 0, 0)
	c, tr := connect(t, d, map[string]any{"userId": "alice"})

	d.HandleFrame(context.Background(), c, frame("dialogue:bogus", map[string]any{}))

	assert.Equal(t, wire.CodeInvalidRequest, errorCode(t, lastFrame(tr)))
}

func TestHandleFrame_ListRoomsReturnsRegisteredRooms(t *testing.T) {
	d := New(hooks.Hooks{}, 0, 0)
	d.Rooms.Register(context.Background(), types.RoomConfig{ID: "chat", Name: "Chat"})
	c, tr := connect(t, d, map[string]any{"userId": "alice"})

	d.HandleFrame(context.Background(), c, frame(wire.VerbListRooms, nil))

	last := lastFrame(tr)
	require.Equal(t, wire.EventRooms, last.Event)
	var payload []wire.RoomCreatedPayload
	require.NoError(t, json.Unmarshal(last.Payload, &payload))
	require.Len(t, payload, 1)
	assert.Equal(t, "chat", payload[0].ID)
}

func TestHandleDisconnect_RemovesClientFromRegistry(t *testing.T) {
	d := New(hooks.Hooks{}, 0, 0)
	c, _ := connect(t, d, map[string]any{"userId": "alice"})

	d.HandleDisconnect(context.Background(), c, nil)

	_, ok := d.Clients.Get(c.ConnectionID())
	assert.False(t, ok)
}
