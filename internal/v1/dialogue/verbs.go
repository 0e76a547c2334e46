package dialogue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/dialoguehq/dialogue/internal/v1/client"
	"github.com/dialoguehq/dialogue/internal/v1/metrics"
	"github.com/dialoguehq/dialogue/internal/v1/ratelimit"
	"github.com/dialoguehq/dialogue/internal/v1/types"
	"github.com/dialoguehq/dialogue/internal/v1/wire"
)

const defaultHistoryEnd = 50

// HandleFrame routes one inbound wire.Frame from an already-Connected client
// to its verb handler. Unmarshal failures and unknown verbs are reported to
// the sender as dialogue:error, never propagated to the transport.
func (d *Dispatcher) HandleFrame(ctx context.Context, c *client.ConnectedClient, frame wire.Frame) {
	switch frame.Event {
	case wire.VerbJoin:
		d.handleJoin(ctx, c, frame.Payload)
	case wire.VerbLeave:
		d.handleLeave(c, frame.Payload)
	case wire.VerbSubscribe:
		d.handleSubscribe(c, frame.Payload)
	case wire.VerbSubscribeAll:
		d.handleSubscribeAll(c, frame.Payload)
	case wire.VerbUnsubscribe:
		d.handleUnsubscribe(c, frame.Payload)
	case wire.VerbTrigger:
		d.handleTrigger(ctx, c, frame.Payload)
	case wire.VerbGetHistory:
		d.handleGetHistory(ctx, c, frame.Payload)
	case wire.VerbListRooms:
		d.handleListRooms(c)
	case wire.VerbCreateRoom:
		d.handleCreateRoom(ctx, c, frame.Payload)
	case wire.VerbDeleteRoom:
		d.handleDeleteRoom(ctx, c, frame.Payload)
	default:
		slog.Debug("dialogue: no handler for verb", "event", frame.Event, "connectionId", c.ConnectionID())
		c.SendFrame(wire.EventError, wire.ErrorPayload{
			Code:    wire.CodeInvalidRequest,
			Message: fmt.Sprintf("unknown verb '%s'", frame.Event),
		})
	}
}

func (d *Dispatcher) sendError(c *client.ConnectedClient, code, message string) {
	c.SendFrame(wire.EventError, wire.ErrorPayload{Code: code, Message: message})
}

func decode[T any](raw json.RawMessage) (T, error) {
	var v T
	err := json.Unmarshal(raw, &v)
	return v, err
}

// handleJoin resolves the target room, runs beforeJoin, delegates the
// actual join to client.Join (which covers re-join and capacity), fires
// onJoined, and replays history if the room's syncHistoryOnJoin policy asks
// for it.
func (d *Dispatcher) handleJoin(ctx context.Context, c *client.ConnectedClient, raw json.RawMessage) {
	req, err := decode[wire.JoinRequest](raw)
	if err != nil {
		d.sendError(c, wire.CodeInvalidRequest, "malformed join request")
		return
	}
	roomID := types.RoomID(req.RoomID)

	r, ok := d.Rooms.Get(roomID)
	if !ok {
		d.sendError(c, wire.CodeRoomNotFound, fmt.Sprintf("room '%s' does not exist", roomID))
		return
	}

	if d.hooks.Client.BeforeJoin != nil {
		if err := d.hooks.Client.BeforeJoin(ctx, c, roomID, r); err != nil {
			d.sendError(c, wire.CodeJoinDenied, err.Error())
			return
		}
	}

	c.Join(roomID, d.Rooms)
	if !c.IsJoined(roomID) {
		// Join rejected: either the room was full, already reported to the
		// client as ROOM_FULL by client.Join, or it was deleted after the
		// lookup above, which client.Join only logs.
		return
	}

	if d.hooks.Client.OnJoined != nil {
		go d.hooks.Client.OnJoined(ctx, c, roomID)
	}

	d.syncHistoryOnJoin(ctx, c, r)
}

func (d *Dispatcher) syncHistoryOnJoin(ctx context.Context, c *client.ConnectedClient, r roomView) {
	cfg := r.Config()
	var limit int
	switch cfg.SyncHistoryOnJoin {
	case types.SyncHistoryNone:
		return
	case types.SyncHistoryLimit:
		limit = cfg.SyncHistoryLimitN
	case types.SyncHistoryAll:
		limit = 0
	default:
		return
	}

	entries := r.HistoryAll(limit)
	events := make([]any, len(entries))
	for i, e := range entries {
		events[i] = e
	}
	c.SendFrame(wire.EventHistory, wire.HistoryPayload{
		RoomID: string(cfg.ID),
		Events: events,
	})
}

func (d *Dispatcher) handleLeave(c *client.ConnectedClient, raw json.RawMessage) {
	req, err := decode[wire.LeaveRequest](raw)
	if err != nil {
		d.sendError(c, wire.CodeInvalidRequest, "malformed leave request")
		return
	}
	roomID := types.RoomID(req.RoomID)
	wasJoined := c.IsJoined(roomID)
	c.Leave(roomID, d.Rooms)
	if wasJoined && d.hooks.Client.OnLeft != nil {
		go d.hooks.Client.OnLeft(context.Background(), c, roomID)
	}
}

func (d *Dispatcher) handleSubscribe(c *client.ConnectedClient, raw json.RawMessage) {
	req, err := decode[wire.SubscribeRequest](raw)
	if err != nil {
		d.sendError(c, wire.CodeInvalidRequest, "malformed subscribe request")
		return
	}
	c.Subscribe(types.RoomID(req.RoomID), types.EventName(req.EventName))
}

func (d *Dispatcher) handleSubscribeAll(c *client.ConnectedClient, raw json.RawMessage) {
	req, err := decode[wire.SubscribeAllRequest](raw)
	if err != nil {
		d.sendError(c, wire.CodeInvalidRequest, "malformed subscribeAll request")
		return
	}
	c.SubscribeAll(types.RoomID(req.RoomID))
}

func (d *Dispatcher) handleUnsubscribe(c *client.ConnectedClient, raw json.RawMessage) {
	req, err := decode[wire.SubscribeRequest](raw)
	if err != nil {
		d.sendError(c, wire.CodeInvalidRequest, "malformed unsubscribe request")
		return
	}
	c.Unsubscribe(types.RoomID(req.RoomID), types.EventName(req.EventName))
}

// handleTrigger looks the room up, rejects an event missing from the room's
// allow-list as EVENT_NOT_ALLOWED, runs the room's full trigger pipeline,
// and relays any other trigger failure to the sender only as
// VALIDATION_FAILED. Every other outcome (fan-out, history, handlers) is
// the room's responsibility.
func (d *Dispatcher) handleTrigger(ctx context.Context, c *client.ConnectedClient, raw json.RawMessage) {
	req, err := decode[wire.TriggerRequest](raw)
	if err != nil {
		d.sendError(c, wire.CodeInvalidRequest, "malformed trigger request")
		return
	}

	r, ok := d.Rooms.Get(types.RoomID(req.RoomID))
	if !ok {
		d.sendError(c, wire.CodeRoomNotFound, fmt.Sprintf("room '%s' does not exist", req.RoomID))
		return
	}

	if !types.IsEventAllowed(types.EventName(req.Event), r.Config().Events) {
		d.sendError(c, wire.CodeEventNotAllowed, fmt.Sprintf("Event '%s' is not allowed in room '%s'", req.Event, req.RoomID))
		return
	}

	if err := r.Trigger(ctx, types.EventName(req.Event), req.Data, c.UserID(), nil); err != nil {
		d.sendError(c, wire.CodeValidationFailed, err.Error())
	}
}

// handleGetHistory is rate-limited per connection; it answers with
// dialogue:historyResponse over the requested (or default 0-50) newest-first
// range.
func (d *Dispatcher) handleGetHistory(ctx context.Context, c *client.ConnectedClient, raw json.RawMessage) {
	req, err := decode[wire.GetHistoryRequest](raw)
	if err != nil {
		d.sendError(c, wire.CodeInvalidRequest, "malformed getHistory request")
		return
	}

	if !d.historyLimiter.IsAllowed(string(c.ConnectionID())) {
		metrics.RateLimitExceeded.WithLabelValues("dialogue:getHistory").Inc()
		d.sendError(c, wire.CodeRateLimited, "too many history requests")
		return
	}
	metrics.RateLimitRequests.WithLabelValues("dialogue:getHistory").Inc()

	r, ok := d.Rooms.Get(types.RoomID(req.RoomID))
	if !ok {
		d.sendError(c, wire.CodeRoomNotFound, fmt.Sprintf("room '%s' does not exist", req.RoomID))
		return
	}

	start, end := 0, defaultHistoryEnd
	if req.Start != nil {
		start = *req.Start
	}
	if req.End != nil {
		end = *req.End
	}

	entries, err := r.History(ctx, types.EventName(req.EventName), start, end)
	if err != nil {
		d.sendError(c, wire.CodeInvalidRequest, err.Error())
		return
	}

	events := make([]any, len(entries))
	for i, e := range entries {
		events[i] = e
	}
	c.SendFrame(wire.EventHistoryResponse, wire.HistoryResponsePayload{
		RoomID:    req.RoomID,
		EventName: req.EventName,
		Events:    events,
		Start:     start,
		End:       end,
	})
}

func (d *Dispatcher) handleListRooms(c *client.ConnectedClient) {
	rooms := d.Rooms.All()
	payload := make([]wire.RoomCreatedPayload, len(rooms))
	for i, r := range rooms {
		cfg := r.Config()
		payload[i] = wire.RoomCreatedPayload{
			ID:          string(cfg.ID),
			Name:        cfg.Name,
			Description: cfg.Description,
			Size:        r.Size(),
			MaxSize:     cfg.MaxSize,
			CreatedByID: string(cfg.CreatedByID),
		}
	}
	c.SendFrame(wire.EventRooms, payload)
}

// handleCreateRoom opens a wildcard-events room owned by the requesting
// client. The new room's dialogue:roomCreated frame is sent both to the
// creator directly and broadcast to every already-connected client tracked
// by the dispatcher, so a room-browser UI stays in sync without polling
// listRooms; a deployment that wants dynamically created rooms to carry a
// real allow-list instead of the open wildcard must register them through
// its own RoomHooks.OnCreated rather than this verb.
func (d *Dispatcher) handleCreateRoom(ctx context.Context, c *client.ConnectedClient, raw json.RawMessage) {
	req, err := decode[wire.CreateRoomRequest](raw)
	if err != nil {
		d.sendError(c, wire.CodeInvalidRequest, "malformed createRoom request")
		return
	}
	roomID := types.RoomID(req.ID)
	if _, exists := d.Rooms.Get(roomID); exists {
		d.sendError(c, wire.CodeRoomExists, fmt.Sprintf("room '%s' already exists", roomID))
		return
	}

	cfg := types.RoomConfig{
		ID:          roomID,
		Name:        req.Name,
		Description: req.Description,
		MaxSize:     req.MaxSize,
		CreatedByID: c.UserID(),
	}
	r := d.Rooms.Register(ctx, cfg)

	payload := wire.RoomCreatedPayload{
		ID:          string(cfg.ID),
		Name:        cfg.Name,
		Description: cfg.Description,
		Size:        r.Size(),
		MaxSize:     cfg.MaxSize,
		CreatedByID: string(cfg.CreatedByID),
	}
	c.SendFrame(wire.EventRoomCreated, payload)
	d.broadcastRoomCreated(payload)
}

func (d *Dispatcher) broadcastRoomCreated(payload wire.RoomCreatedPayload) {
	for _, other := range d.Clients.All() {
		other.SendFrame(wire.EventRoomCreated, payload)
	}
}

// handleDeleteRoom only lets a room's creator delete it.
func (d *Dispatcher) handleDeleteRoom(ctx context.Context, c *client.ConnectedClient, raw json.RawMessage) {
	req, err := decode[wire.DeleteRoomRequest](raw)
	if err != nil {
		d.sendError(c, wire.CodeInvalidRequest, "malformed deleteRoom request")
		return
	}
	roomID := types.RoomID(req.RoomID)

	r, ok := d.Rooms.Get(roomID)
	if !ok {
		d.sendError(c, wire.CodeRoomNotFound, fmt.Sprintf("room '%s' does not exist", roomID))
		return
	}
	if r.Config().CreatedByID != c.UserID() {
		d.sendError(c, wire.CodePermissionDenied, "only the room's creator may delete it")
		return
	}

	d.Rooms.Unregister(ctx, roomID)
}

// roomView is the subset of *room.Room the dialogue package needs for
// syncHistoryOnJoin, matched structurally rather than imported to keep this
// file's dependency surface minimal.
type roomView interface {
	Config() types.RoomConfig
	HistoryAll(limit int) []types.EventMessage
}
