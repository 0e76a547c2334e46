// Package hooks defines the small structs of optional function values that
// let a deployment extend the dialogue core, replacing the closure-heavy
// callback style a dynamic-language original would use with a shape the
// Go compiler can check: every hook group is a struct, every field is
// independently optional (nil means "not configured"), and handler
// registration hands back an opaque HandlerId rather than relying on
// function identity.
package hooks

import (
	"context"

	"github.com/dialoguehq/dialogue/internal/v1/types"
)

// HandlerId is an opaque token returned by registration functions (such as
// Room.On) so a caller can remove a handler later without comparing
// function values.
type HandlerId string

// RoomView is the read-only room surface exposed to hooks: enough to
// answer questions (size, participants, config) without handing out the
// mutation methods only the core itself should call.
type RoomView interface {
	ID() types.RoomID
	Size() int
	Participants() []types.ClientInterface
	Config() types.RoomConfig
}

// DialogueContext is a read-only view of rooms and clients. It never
// exposes a way to mutate state directly. No hook in this package receives
// it: every hook gets a plain context.Context plus its own arguments.
type DialogueContext interface {
	Room(id types.RoomID) (RoomView, bool)
	Client(id types.ConnectionID) (types.ClientInterface, bool)
	Rooms() []RoomView
}

// AuthHook authenticates a handshake. rawSocket is the transport-level
// connection (a *websocket.Conn in practice, passed as any so this package
// stays independent of the transport library); authData is whatever the
// client sent as its handshake auth payload. Returning an error rejects
// the connection before it reaches Connected.
type AuthHook func(ctx context.Context, rawSocket any, authData any) (types.AuthData, error)

// SocketHooks fire around the transport-level lifecycle and receive only
// the raw socket, not the ConnectedClient.
type SocketHooks struct {
	// OnConnect runs after a successful upgrade and authentication, fire-
	// and-forget, once the client has been registered.
	OnConnect func(ctx context.Context, rawSocket any)
	// OnDisconnect runs once the transport connection is gone, fire-and-
	// forget, after ClientHooks.OnDisconnected.
	OnDisconnect func(ctx context.Context, rawSocket any)
}

// ClientHooks fire around a ConnectedClient's lifecycle within rooms.
type ClientHooks struct {
	// BeforeJoin runs synchronously after the target room is resolved and
	// before the client actually joins. An error aborts the join and is
	// reported to the caller as JOIN_DENIED.
	BeforeJoin func(ctx context.Context, client types.ClientInterface, roomID types.RoomID, room RoomView) error
	// OnConnected fires fire-and-forget once a client is registered.
	OnConnected func(ctx context.Context, client types.ClientInterface)
	// OnDisconnected fires fire-and-forget when a client is about to be
	// removed from every room and purged from the registries.
	OnDisconnected func(ctx context.Context, client types.ClientInterface)
	// OnJoined fires fire-and-forget after a client successfully joins a
	// room.
	OnJoined func(ctx context.Context, client types.ClientInterface, roomID types.RoomID)
	// OnLeft fires fire-and-forget after a client leaves a room through the
	// dialogue:leave verb. It does not fire for the rooms a client is
	// removed from by disconnect cleanup.
	OnLeft func(ctx context.Context, client types.ClientInterface, roomID types.RoomID)
}

// EventHooks fire around a room's trigger pipeline. BeforeEach and
// AfterEach run synchronously and must never perform blocking I/O: the
// trigger hot path (validate, beforeEach, fan-out, history push,
// afterEach) completes without awaiting anything external. OnTriggered
// and OnCleanup are fire-and-forget; OnLoad may suspend and is the one
// point in the pipeline allowed to perform external I/O.
type EventHooks struct {
	// BeforeEach may replace msg (mutating only Data and Meta) or reject
	// the trigger by returning an error, which is relayed to the caller
	// and aborts fan-out, history push, and every hook after it.
	BeforeEach func(ctx context.Context, roomID types.RoomID, msg types.EventMessage, from types.UserID) (types.EventMessage, error)
	// AfterEach runs once fan-out and history push have both completed,
	// receiving the (possibly transformed) message and how many clients
	// received it.
	AfterEach func(ctx context.Context, roomID types.RoomID, msg types.EventMessage, recipientCount int)
	// OnTriggered fires once per successful trigger, independent of
	// whether any handler is registered via Room.On.
	OnTriggered func(roomID types.RoomID, msg types.EventMessage)
	// OnCleanup fires after history eviction with the evicted batch, in
	// push order. A nil OnCleanup disables external spillover for this
	// room: evicted entries are dropped. history.Store has no external
	// store at all only when OnLoad is nil too.
	OnCleanup func(ctx context.Context, roomID types.RoomID, event types.EventName, evicted []types.EventMessage)
	// OnLoad extends a paginated history read past the in-memory window.
	OnLoad func(ctx context.Context, roomID types.RoomID, event types.EventName, start, end int) ([]types.EventMessage, error)
}

// externalStoreAdapter lets a room hand its EventHooks' OnCleanup/OnLoad
// functions to history.Store, which only knows about types.ExternalStore.
type externalStoreAdapter struct {
	onCleanup func(ctx context.Context, roomID types.RoomID, event types.EventName, evicted []types.EventMessage)
	onLoad    func(ctx context.Context, roomID types.RoomID, event types.EventName, start, end int) ([]types.EventMessage, error)
}

func (a externalStoreAdapter) OnCleanup(ctx context.Context, roomID types.RoomID, event types.EventName, evicted []types.EventMessage) {
	if a.onCleanup != nil {
		a.onCleanup(ctx, roomID, event, evicted)
	}
}

func (a externalStoreAdapter) OnLoad(ctx context.Context, roomID types.RoomID, event types.EventName, start, end int) ([]types.EventMessage, error) {
	if a.onLoad == nil {
		return nil, nil
	}
	return a.onLoad(ctx, roomID, event, start, end)
}

// ExternalStore adapts h's OnCleanup/OnLoad functions to a
// types.ExternalStore for history.Store. It returns nil, disabling the
// external fallback entirely, when neither hook is configured.
func (h EventHooks) ExternalStore() types.ExternalStore {
	if h.OnCleanup == nil && h.OnLoad == nil {
		return nil
	}
	return externalStoreAdapter{onCleanup: h.OnCleanup, onLoad: h.OnLoad}
}

// RoomHooks fire around a room's own lifecycle in the registry, as opposed
// to a client's membership within one.
type RoomHooks struct {
	// OnCreated fires fire-and-forget after Registry.Register creates a
	// room.
	OnCreated func(ctx context.Context, roomID types.RoomID)
	// OnDeleted fires fire-and-forget after Registry.Unregister removes a
	// room, once every former participant has been notified.
	OnDeleted func(ctx context.Context, roomID types.RoomID)
}

// Hooks bundles every optional extension point a deployment can configure.
// A zero-value Hooks disables every hook; the core falls back to the
// documented default behavior (most visibly, the authentication fallback
// when Auth is nil).
type Hooks struct {
	Auth   AuthHook
	Socket SocketHooks
	Client ClientHooks
	Event  EventHooks
	Room   RoomHooks
}
