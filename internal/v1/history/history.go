// Package history implements the bounded, in-memory event history buffer
// each room keeps per event type, with an optional external store used to
// absorb evicted entries and extend paginated reads past the in-memory
// window.
package history

import (
	"container/list"
	"context"
	"log/slog"
	"sync"

	"github.com/dialoguehq/dialogue/internal/v1/metrics"
	"github.com/dialoguehq/dialogue/internal/v1/types"
)

// DefaultLimit bounds a single event type's in-memory buffer when a room's
// HistoryPolicy doesn't set one explicitly.
const DefaultLimit = 100

type bucket struct {
	entries *list.List
	limit   int
}

// Store holds the per-(room, event) FIFO buffers for one room. It is safe
// for concurrent use.
type Store struct {
	mu      sync.RWMutex
	roomID  types.RoomID
	buckets map[types.EventName]*bucket
	store   types.ExternalStore
}

// New creates an empty history Store for roomID. externalStore may be nil,
// in which case eviction is silent and paginated reads never fall back
// past the in-memory window.
func New(roomID types.RoomID, externalStore types.ExternalStore) *Store {
	return &Store{
		roomID:  roomID,
		buckets: make(map[types.EventName]*bucket),
		store:   externalStore,
	}
}

// Push appends msg to event's buffer, trimming and spilling the oldest
// entry to the external store (fire-and-forget) once limit is exceeded.
// A nil policy, or a zero or negative Limit, uses DefaultLimit; a policy
// with Enabled false retains nothing for this event.
func (s *Store) Push(ctx context.Context, event types.EventName, msg types.EventMessage, policy *types.HistoryPolicy) {
	limit := DefaultLimit
	if policy != nil {
		if !policy.Enabled {
			return
		}
		if policy.Limit > 0 {
			limit = policy.Limit
		}
	}

	s.mu.Lock()
	b, ok := s.buckets[event]
	if !ok {
		b = &bucket{entries: list.New(), limit: limit}
		s.buckets[event] = b
	}
	b.limit = limit
	b.entries.PushBack(msg)

	var evicted []types.EventMessage
	for b.entries.Len() > b.limit {
		front := b.entries.Front()
		evicted = append(evicted, front.Value.(types.EventMessage))
		b.entries.Remove(front)
	}
	s.mu.Unlock()

	if len(evicted) > 0 {
		metrics.HistoryEvictions.WithLabelValues(string(s.roomID), string(event)).Add(float64(len(evicted)))
		if s.store != nil {
			go func() {
				defer func() {
					if r := recover(); r != nil {
						slog.Error("history eviction callback panicked", "room", s.roomID, "event", event, "panic", r)
					}
				}()
				s.store.OnCleanup(ctx, s.roomID, event, evicted)
			}()
		}
	}
}

// Count returns the number of in-memory entries buffered for event.
func (s *Store) Count(event types.EventName) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.buckets[event]
	if !ok {
		return 0
	}
	return b.entries.Len()
}

// Get returns entries for event over the half-open newest-first range
// [start, end), where 0 is the newest in-memory entry. When the in-memory
// buffer can't fill the whole range and an external store is configured,
// Get translates the remainder into the external store's own zero-based
// index space (k entries back from the oldest in-memory entry) and
// appends whatever ExternalStore.OnLoad returns, in the order returned.
func (s *Store) Get(ctx context.Context, event types.EventName, start, end int) ([]types.EventMessage, error) {
	if end <= start {
		return nil, nil
	}

	s.mu.RLock()
	b, ok := s.buckets[event]
	var inMemory []types.EventMessage
	if ok {
		inMemory = make([]types.EventMessage, 0, b.entries.Len())
		for e := b.entries.Back(); e != nil; e = e.Prev() {
			inMemory = append(inMemory, e.Value.(types.EventMessage))
		}
	}
	s.mu.RUnlock()

	k := len(inMemory)
	var result []types.EventMessage
	if start < k {
		upper := end
		if upper > k {
			upper = k
		}
		result = append(result, inMemory[start:upper]...)
	}

	if len(result) == end-start || s.store == nil {
		return result, nil
	}

	extStart := start
	if k > extStart {
		extStart = k
	}
	extStart -= k
	external, err := s.store.OnLoad(ctx, s.roomID, event, extStart, end-k)
	if err != nil {
		slog.Error("external history load failed, returning in-memory portion only", "room", s.roomID, "event", event, "error", err)
		return result, nil
	}
	return append(result, external...), nil
}

// GetAll returns every in-memory entry for event, oldest first. It does
// not consult the external store.
func (s *Store) GetAll(event types.EventName) []types.EventMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.buckets[event]
	if !ok {
		return nil
	}
	out := make([]types.EventMessage, 0, b.entries.Len())
	for e := b.entries.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(types.EventMessage))
	}
	return out
}

// AllEvents concatenates every event type's in-memory buffer into one
// slice, in no particular cross-type order (callers that care about
// ordering, such as syncHistoryOnJoin, sort the result themselves).
func (s *Store) AllEvents() []types.EventMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []types.EventMessage
	for _, b := range s.buckets {
		for e := b.entries.Front(); e != nil; e = e.Next() {
			out = append(out, e.Value.(types.EventMessage))
		}
	}
	return out
}

// ClearRoom drops every buffered entry across all event types. When an
// external store is configured, each non-empty event type's entries are
// handed to its OnCleanup, oldest first, before ClearRoom returns.
func (s *Store) ClearRoom() {
	s.mu.Lock()
	old := s.buckets
	s.buckets = make(map[types.EventName]*bucket)
	s.mu.Unlock()

	if s.store == nil {
		return
	}
	for event, b := range old {
		if b.entries.Len() == 0 {
			continue
		}
		batch := make([]types.EventMessage, 0, b.entries.Len())
		for e := b.entries.Front(); e != nil; e = e.Next() {
			batch = append(batch, e.Value.(types.EventMessage))
		}
		s.store.OnCleanup(context.Background(), s.roomID, event, batch)
	}
}
