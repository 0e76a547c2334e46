// Package wire defines the JSON frame envelope and event/verb names carried
// over the bidirectional transport, and the error codes a Frame's payload
// may carry. Both the client and dialogue packages depend on this package
// so neither has to depend on the other just to agree on frame shapes.
package wire

import "encoding/json"

// Frame is the outer envelope for every message in either direction: an
// event or verb name plus its JSON payload.
type Frame struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewFrame marshals payload into a Frame. It panics only if payload is not
// marshalable, which would be a programming error at every call site in
// this codebase (all payloads are plain structs/maps).
func NewFrame(event string, payload any) Frame {
	data, err := json.Marshal(payload)
	if err != nil {
		panic("wire: payload not marshalable: " + err.Error())
	}
	return Frame{Event: event, Payload: data}
}

// Server-to-client frame names.
const (
	EventConnected       = "dialogue:connected"
	EventJoined          = "dialogue:joined"
	EventLeft            = "dialogue:left"
	EventEvent           = "dialogue:event"
	EventHistory         = "dialogue:history"
	EventHistoryResponse = "dialogue:historyResponse"
	EventRooms           = "dialogue:rooms"
	EventRoomCreated     = "dialogue:roomCreated"
	EventRoomDeleted     = "dialogue:roomDeleted"
	EventError           = "dialogue:error"
)

// Client-to-server verb names.
const (
	VerbJoin         = "dialogue:join"
	VerbLeave        = "dialogue:leave"
	VerbSubscribe    = "dialogue:subscribe"
	VerbSubscribeAll = "dialogue:subscribeAll"
	VerbUnsubscribe  = "dialogue:unsubscribe"
	VerbTrigger      = "dialogue:trigger"
	VerbGetHistory   = "dialogue:getHistory"
	VerbListRooms    = "dialogue:listRooms"
	VerbCreateRoom   = "dialogue:createRoom"
	VerbDeleteRoom   = "dialogue:deleteRoom"
)

// Error codes carried in a dialogue:error payload.
const (
	CodeRoomNotFound     = "ROOM_NOT_FOUND"
	CodeRoomExists       = "ROOM_EXISTS"
	CodeRoomFull         = "ROOM_FULL"
	CodeJoinDenied       = "JOIN_DENIED"
	CodeEventNotAllowed  = "EVENT_NOT_ALLOWED"
	CodeValidationFailed = "VALIDATION_FAILED"
	CodePermissionDenied = "PERMISSION_DENIED"
	CodeInvalidRequest   = "INVALID_REQUEST"
	CodeRateLimited      = "RATE_LIMITED"
)

// ErrorPayload is the dialogue:error frame payload.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

// ConnectedPayload is the dialogue:connected frame payload.
type ConnectedPayload struct {
	ClientID string `json:"clientId"`
	UserID   string `json:"userId"`
}

// JoinedPayload is the dialogue:joined frame payload.
type JoinedPayload struct {
	RoomID   string `json:"roomId"`
	RoomName string `json:"roomName"`
}

// LeftPayload is the dialogue:left frame payload.
type LeftPayload struct {
	RoomID string `json:"roomId"`
}

// RoomDeletedPayload is the dialogue:roomDeleted frame payload.
type RoomDeletedPayload struct {
	RoomID string `json:"roomId"`
}

// HistoryPayload is the dialogue:history frame payload, sent only to the
// joining socket when a room's syncHistoryOnJoin policy is non-zero.
type HistoryPayload struct {
	RoomID string `json:"roomId"`
	Events []any  `json:"events"`
}

// HistoryResponsePayload is the dialogue:historyResponse frame payload
// answering a getHistory request.
type HistoryResponsePayload struct {
	RoomID    string `json:"roomId"`
	EventName string `json:"eventName,omitempty"`
	Events    []any  `json:"events"`
	Start     int    `json:"start"`
	End       int    `json:"end"`
}

// RoomCreatedPayload is the dialogue:roomCreated frame payload, also used as
// one entry of a dialogue:rooms listing.
type RoomCreatedPayload struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Size        int    `json:"size"`
	MaxSize     int    `json:"maxSize,omitempty"`
	CreatedByID string `json:"createdById,omitempty"`
}

// JoinRequest is the dialogue:join verb payload.
type JoinRequest struct {
	RoomID string `json:"roomId"`
}

// LeaveRequest is the dialogue:leave verb payload.
type LeaveRequest struct {
	RoomID string `json:"roomId"`
}

// SubscribeRequest is the dialogue:subscribe / dialogue:unsubscribe verb
// payload.
type SubscribeRequest struct {
	RoomID    string `json:"roomId"`
	EventName string `json:"eventName"`
}

// SubscribeAllRequest is the dialogue:subscribeAll verb payload.
type SubscribeAllRequest struct {
	RoomID string `json:"roomId"`
}

// TriggerRequest is the dialogue:trigger verb payload.
type TriggerRequest struct {
	RoomID string `json:"roomId"`
	Event  string `json:"event"`
	Data   any    `json:"data"`
}

// GetHistoryRequest is the dialogue:getHistory verb payload. Start/End
// default to 0/50 when absent.
type GetHistoryRequest struct {
	RoomID    string `json:"roomId"`
	EventName string `json:"eventName,omitempty"`
	Start     *int   `json:"start,omitempty"`
	End       *int   `json:"end,omitempty"`
}

// CreateRoomRequest is the dialogue:createRoom verb payload.
type CreateRoomRequest struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MaxSize     int    `json:"maxSize,omitempty"`
}

// DeleteRoomRequest is the dialogue:deleteRoom verb payload.
type DeleteRoomRequest struct {
	RoomID string `json:"roomId"`
}
