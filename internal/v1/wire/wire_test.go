package wire

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFrame(t *testing.T) {
	f := NewFrame(EventJoined, JoinedPayload{RoomID: "chat", RoomName: "Chat Room"})
	assert.Equal(t, EventJoined, f.Event)

	var payload JoinedPayload
	require.NoError(t, json.Unmarshal(f.Payload, &payload))
	assert.Equal(t, "chat", payload.RoomID)
	assert.Equal(t, "Chat Room", payload.RoomName)
}
