// Package room implements the trigger pipeline and room registry: the
// engine that validates, transforms, fans out, and records events for one
// room at a time.
package room

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/dialoguehq/dialogue/internal/v1/history"
	"github.com/dialoguehq/dialogue/internal/v1/hooks"
	"github.com/dialoguehq/dialogue/internal/v1/metrics"
	"github.com/dialoguehq/dialogue/internal/v1/types"
)

// Handler is a server-local callback registered through Room.On. It runs
// fire-and-forget after fan-out and history push; a returned error is
// logged, never propagated to the trigger caller.
type Handler func(ctx context.Context, msg types.EventMessage) error

// Room holds one room's configuration, participant set, and server-side
// handler set. It validates incoming events, applies beforeEach, fans out
// to subscribed participants, pushes to history, and calls afterEach.
type Room struct {
	mu           sync.RWMutex
	config       types.RoomConfig
	participants map[types.ConnectionID]types.ClientInterface
	history      *history.Store
	eventHooks   hooks.EventHooks

	handlers      map[types.EventName]map[hooks.HandlerId]Handler
	nextHandlerID uint64

	now func() time.Time
}

// New builds a Room for config, wiring eventHooks' OnCleanup/OnLoad into
// its history store.
func New(config types.RoomConfig, eventHooks hooks.EventHooks) *Room {
	return &Room{
		config:       config,
		participants: make(map[types.ConnectionID]types.ClientInterface),
		history:      history.New(config.ID, eventHooks.ExternalStore()),
		eventHooks:   eventHooks,
		handlers:     make(map[types.EventName]map[hooks.HandlerId]Handler),
		now:          time.Now,
	}
}

// ID returns the room's identifier.
func (r *Room) ID() types.RoomID { return r.config.ID }

// Config returns a copy of the room's static configuration.
func (r *Room) Config() types.RoomConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.config
}

// Size returns the current participant count.
func (r *Room) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.participants)
}

// IsFull reports whether the room has reached its configured capacity. A
// MaxSize of zero means unbounded.
func (r *Room) IsFull() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.isFullLocked()
}

func (r *Room) isFullLocked() bool {
	return r.config.MaxSize > 0 && len(r.participants) >= r.config.MaxSize
}

// Participants returns a snapshot slice of the room's current clients.
func (r *Room) Participants() []types.ClientInterface {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.ClientInterface, 0, len(r.participants))
	for _, c := range r.participants {
		out = append(out, c)
	}
	return out
}

// addParticipantLocked inserts client into the room. Caller must hold mu.
func (r *Room) addParticipantLocked(client types.ClientInterface) {
	r.participants[client.ConnectionID()] = client
	metrics.RoomParticipants.WithLabelValues(string(r.config.ID)).Set(float64(len(r.participants)))
}

// removeParticipantLocked removes connID from the room. Caller must hold
// mu.
func (r *Room) removeParticipantLocked(connID types.ConnectionID) {
	delete(r.participants, connID)
	if len(r.participants) > 0 {
		metrics.RoomParticipants.WithLabelValues(string(r.config.ID)).Set(float64(len(r.participants)))
	} else {
		metrics.RoomParticipants.DeleteLabelValues(string(r.config.ID))
	}
}

// On registers handler for event ("*" for every event) and returns its
// HandlerId plus an unsubscribe thunk that removes it and cleans up the
// per-event set if it becomes empty.
func (r *Room) On(event types.EventName, handler Handler) (hooks.HandlerId, func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextHandlerID++
	id := hooks.HandlerId(fmt.Sprintf("%s:%d", event, r.nextHandlerID))

	set, ok := r.handlers[event]
	if !ok {
		set = make(map[hooks.HandlerId]Handler)
		r.handlers[event] = set
	}
	set[id] = handler

	unsubscribe := func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		set, ok := r.handlers[event]
		if !ok {
			return
		}
		delete(set, id)
		if len(set) == 0 {
			delete(r.handlers, event)
		}
	}
	return id, unsubscribe
}

// Trigger runs the full validate/beforeEach/fan-out/history/afterEach
// pipeline for one event. It is fully synchronous, afterEach included,
// except for the fire-and-forget handler and OnTriggered dispatch, so the
// hot path never awaits external I/O itself.
func (r *Room) Trigger(ctx context.Context, event types.EventName, data any, from types.UserID, meta map[string]any) error {
	start := r.now()
	defer func() {
		metrics.TriggerDuration.WithLabelValues(string(event)).Observe(r.now().Sub(start).Seconds())
	}()

	r.mu.RLock()
	def, allowed := types.LookupEventDefinition(event, r.config.Events)
	if !types.IsEventAllowed(event, r.config.Events) {
		r.mu.RUnlock()
		return fmt.Errorf("Event '%s' is not allowed in room '%s'", event, r.config.ID)
	}
	if !allowed {
		def = types.EventDefinition{Name: event}
	}
	r.mu.RUnlock()

	coerced, err := types.ValidateEventData(def, data)
	if err != nil {
		return err
	}

	if from == "" {
		from = "system"
	}
	msg := types.EventMessage{
		Event:     event,
		RoomID:    r.config.ID,
		Data:      coerced,
		From:      from,
		Timestamp: r.now().UnixMilli(),
		Meta:      meta,
	}

	if r.eventHooks.BeforeEach != nil {
		transformed, err := r.eventHooks.BeforeEach(ctx, r.config.ID, msg, from)
		if err != nil {
			return err
		}
		msg = transformed
	}

	recipients := r.fanOut(msg)

	if def.History != nil {
		r.history.Push(ctx, event, msg, def.History)
	}

	r.dispatchHandlers(ctx, event, msg)

	if r.eventHooks.OnTriggered != nil {
		go r.eventHooks.OnTriggered(r.config.ID, msg)
	}

	metrics.EventsTriggered.WithLabelValues(string(r.config.ID), string(event)).Inc()

	if r.eventHooks.AfterEach != nil {
		r.eventHooks.AfterEach(ctx, r.config.ID, msg, recipients)
	}

	return nil
}

// fanOut emits msg to every participant subscribed to its event name (or
// the wildcard) and returns the recipient count.
func (r *Room) fanOut(msg types.EventMessage) int {
	r.mu.RLock()
	targets := make([]types.ClientInterface, 0, len(r.participants))
	for _, c := range r.participants {
		if c.Subscribed(r.config.ID, msg.Event) {
			targets = append(targets, c)
		}
	}
	r.mu.RUnlock()

	for _, c := range targets {
		c.Emit(msg)
	}
	return len(targets)
}

// dispatchHandlers fires every handler registered for msg.Event and the
// wildcard, one goroutine per handler, swallowing and logging any error.
func (r *Room) dispatchHandlers(ctx context.Context, event types.EventName, msg types.EventMessage) {
	r.mu.RLock()
	var targets []Handler
	if set, ok := r.handlers[event]; ok {
		for _, h := range set {
			targets = append(targets, h)
		}
	}
	if event != types.Wildcard {
		if set, ok := r.handlers[types.Wildcard]; ok {
			for _, h := range set {
				targets = append(targets, h)
			}
		}
	}
	r.mu.RUnlock()

	for _, h := range targets {
		h := h
		go func() {
			if err := h(ctx, msg); err != nil {
				slog.Error("room handler failed", "room", r.config.ID, "event", event, "error", err)
			}
		}()
	}
}

// History returns entries for event over the newest-first range
// [start, end), falling back to external storage per history.Store.Get
// when the in-memory buffer can't fill the range.
func (r *Room) History(ctx context.Context, event types.EventName, start, end int) ([]types.EventMessage, error) {
	return r.history.Get(ctx, event, start, end)
}

// HistoryAll concatenates every event type's buffered history, newest
// first by timestamp, truncated to limit (0 means unbounded). It is used
// only for syncHistoryOnJoin and never consults external storage.
func (r *Room) HistoryAll(limit int) []types.EventMessage {
	r.mu.RLock()
	events := make([]types.EventName, 0, len(r.config.Events))
	for _, def := range r.config.Events {
		if def.Name == types.Wildcard {
			events = events[:0]
			break
		}
		events = append(events, def.Name)
	}
	r.mu.RUnlock()

	var all []types.EventMessage
	if len(events) == 0 {
		all = r.historyAcrossKnownEvents()
	} else {
		for _, name := range events {
			all = append(all, r.history.GetAll(name)...)
		}
	}

	sortByTimestampDescending(all)
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all
}

// historyAcrossKnownEvents is the fallback used when a room's allow-list is
// empty or holds the wildcard (so its event set isn't known ahead of time): it
// relies on the history store already having buckets only for events that
// were actually triggered.
func (r *Room) historyAcrossKnownEvents() []types.EventMessage {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.history.AllEvents()
}

func sortByTimestampDescending(msgs []types.EventMessage) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Timestamp > msgs[j].Timestamp
	})
}

// ClearHistory discards every buffered entry, first handing each non-empty
// event type's entries to the external store's OnCleanup when one is
// configured; used by Registry.Unregister.
func (r *Room) ClearHistory() {
	r.history.ClearRoom()
}
