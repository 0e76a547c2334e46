package room

import (
	"sync"

	"github.com/dialoguehq/dialogue/internal/v1/types"
)

// mockClient implements types.ClientInterface for testing.
type mockClient struct {
	mu                 sync.Mutex
	connID             types.ConnectionID
	userID             types.UserID
	subs               map[types.RoomID]map[types.EventName]bool
	received           []types.EventMessage
	deletedRoomNotices []types.RoomID
}

func newMockClient(connID types.ConnectionID, userID types.UserID) *mockClient {
	return &mockClient{
		connID: connID,
		userID: userID,
		subs:   make(map[types.RoomID]map[types.EventName]bool),
	}
}

func (m *mockClient) ConnectionID() types.ConnectionID { return m.connID }
func (m *mockClient) UserID() types.UserID              { return m.userID }

func (m *mockClient) subscribe(roomID types.RoomID, event types.EventName) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.subs[roomID]
	if !ok {
		set = make(map[types.EventName]bool)
		m.subs[roomID] = set
	}
	set[event] = true
}

func (m *mockClient) Subscribed(roomID types.RoomID, event types.EventName) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.subs[roomID]
	if !ok {
		return false
	}
	return set[types.Wildcard] || set[event]
}

func (m *mockClient) Emit(msg types.EventMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.received = append(m.received, msg)
}

func (m *mockClient) messages() []types.EventMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.EventMessage, len(m.received))
	copy(out, m.received)
	return out
}

func (m *mockClient) NotifyRoomDeleted(roomID types.RoomID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletedRoomNotices = append(m.deletedRoomNotices, roomID)
}

func (m *mockClient) roomDeletedNotices() []types.RoomID {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.RoomID, len(m.deletedRoomNotices))
	copy(out, m.deletedRoomNotices)
	return out
}
