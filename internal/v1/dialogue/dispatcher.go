// Package dialogue is the protocol dispatcher: it runs the per-connection
// Handshaking -> Authenticating -> Connected -> Disconnected state machine,
// authenticates using the configured hook (or the legacy fallback), and
// routes every inbound wire verb to the client/room packages that actually
// implement it.
package dialogue

import (
	"context"
	"time"

	"github.com/dialoguehq/dialogue/internal/v1/auth"
	"github.com/dialoguehq/dialogue/internal/v1/client"
	"github.com/dialoguehq/dialogue/internal/v1/hooks"
	"github.com/dialoguehq/dialogue/internal/v1/metrics"
	"github.com/dialoguehq/dialogue/internal/v1/ratelimit"
	"github.com/dialoguehq/dialogue/internal/v1/room"
	"github.com/dialoguehq/dialogue/internal/v1/types"
	"github.com/dialoguehq/dialogue/internal/v1/wire"
	"github.com/google/uuid"
)

// historySweepInterval is how often the history rate limiter purges
// expired per-connection entries.
const historySweepInterval = time.Minute

// Dispatcher owns the room and client registries and is the single entry
// point a transport adapter calls into for connect, inbound frame, and
// disconnect events.
type Dispatcher struct {
	Rooms   *room.Registry
	Clients *client.Registry
	hooks   hooks.Hooks

	// historyLimiter throttles dialogue:getHistory per connection id.
	historyLimiter *ratelimit.Limiter
}

// New builds a Dispatcher. h's Auth hook, if set, authenticates every
// handshake; a nil Auth falls back to the legacy userId/token/connection-id
// extraction. A non-positive historyMax uses ratelimit.DefaultHistoryMax and
// a non-positive historyWindow uses ratelimit.DefaultHistoryWindow.
func New(h hooks.Hooks, historyMax int, historyWindow time.Duration) *Dispatcher {
	if historyMax <= 0 {
		historyMax = ratelimit.DefaultHistoryMax
	}
	if historyWindow <= 0 {
		historyWindow = ratelimit.DefaultHistoryWindow
	}
	d := &Dispatcher{
		Rooms:          room.NewRegistry(h.Event, h.Room),
		Clients:        client.NewRegistry(),
		hooks:          h,
		historyLimiter: ratelimit.New(historyMax, historyWindow),
	}
	d.historyLimiter.StartSweeper(historySweepInterval)
	return d
}

// Close detaches the history rate limiter's sweeper goroutine. Callers
// should invoke it once during process shutdown.
func (d *Dispatcher) Close() {
	d.historyLimiter.Stop()
}

// HandleConnect runs the Handshaking and Authenticating states: it
// authenticates authPayload, builds and indexes the ConnectedClient, fires
// socket.onConnect then clients.onConnected, and returns the client already
// in the Connected state with a dialogue:connected frame sent.
func (d *Dispatcher) HandleConnect(ctx context.Context, rawSocket any, authPayload any, transport client.Transport) (*client.ConnectedClient, error) {
	connID := types.ConnectionID(uuid.New().String())

	authData, userID, err := d.authenticate(ctx, rawSocket, authPayload, connID)
	if err != nil {
		return nil, err
	}

	c := client.New(connID, userID, authData, transport)
	d.Clients.Add(c)
	metrics.IncConnection()

	if d.hooks.Socket.OnConnect != nil {
		go d.hooks.Socket.OnConnect(ctx, rawSocket)
	}
	if d.hooks.Client.OnConnected != nil {
		go d.hooks.Client.OnConnected(ctx, c)
	}

	c.SendFrame(wire.EventConnected, wire.ConnectedPayload{
		ClientID: string(connID),
		UserID:   string(userID),
	})
	return c, nil
}

// HandleDisconnect runs the terminal Disconnected transition: clients.
// onDisconnected, socket.onDisconnect, remove the client from every room it
// had joined, then purge both registries.
func (d *Dispatcher) HandleDisconnect(ctx context.Context, c *client.ConnectedClient, rawSocket any) {
	if d.hooks.Client.OnDisconnected != nil {
		d.hooks.Client.OnDisconnected(ctx, c)
	}
	if d.hooks.Socket.OnDisconnect != nil {
		d.hooks.Socket.OnDisconnect(ctx, rawSocket)
	}

	c.Disconnect(d.Rooms)
	d.Clients.Remove(c.ConnectionID())
	metrics.DecConnection()
}

// authenticate runs the configured Auth hook, falling back to the legacy
// userId/token/connection-id extraction when none is configured. connID is
// the connection id already assigned to this connection, so the fallback's
// "else the transport's connection id" branch resolves to the same id the
// client is ultimately registered under.
func (d *Dispatcher) authenticate(ctx context.Context, rawSocket any, authPayload any, connID types.ConnectionID) (types.AuthData, types.UserID, error) {
	if d.hooks.Auth != nil {
		authData, err := d.hooks.Auth(ctx, rawSocket, authPayload)
		if err != nil {
			return types.AuthData{}, "", err
		}
		return authData, types.UserID(authData.JWT.Sub), nil
	}
	return types.AuthData{}, auth.ResolveUserID(authPayload, connID), nil
}
