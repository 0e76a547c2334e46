// Package transport adapts the dialogue protocol dispatcher to a concrete
// wire: a gorilla/websocket connection carrying JSON wire.Frame messages.
package transport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/dialoguehq/dialogue/internal/v1/client"
	"github.com/dialoguehq/dialogue/internal/v1/dialogue"
	"github.com/dialoguehq/dialogue/internal/v1/logging"
	"github.com/dialoguehq/dialogue/internal/v1/wire"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 256
)

// wsConnection is the narrow slice of *websocket.Conn this package needs,
// matched structurally so tests can fake it without dialing a real socket.
type wsConnection interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
}

// socket implements client.Transport over a wsConnection: Send never blocks
// the caller, dropping onto a full channel rather than stalling the routing
// core on a slow reader.
type socket struct {
	conn   wsConnection
	send   chan wire.Frame
	closed chan struct{}
	once   sync.Once
}

func newSocket(conn wsConnection) *socket {
	return &socket{
		conn:   conn,
		send:   make(chan wire.Frame, sendBuffer),
		closed: make(chan struct{}),
	}
}

// Send implements client.Transport.
func (s *socket) Send(frame wire.Frame) {
	select {
	case s.send <- frame:
	default:
		slog.Warn("transport: send buffer full, dropping frame", "event", frame.Event)
	}
}

// Close implements client.Transport.
func (s *socket) Close() {
	s.once.Do(func() { close(s.closed) })
}

func (s *socket) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			data, err := json.Marshal(frame)
			if err != nil {
				slog.Error("transport: failed to marshal frame", "event", frame.Event, "error", err)
				continue
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.closed:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			s.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// Handler wires the protocol dispatcher to HTTP WebSocket upgrades.
type Handler struct {
	dispatcher *dialogue.Dispatcher
	upgrader   websocket.Upgrader
}

// NewHandler builds a Handler bound to d, accepting upgrades only from an
// Origin header matching allowedOrigins (a missing header, e.g. a
// non-browser client, is always allowed).
func NewHandler(d *dialogue.Dispatcher, allowedOrigins []string) *Handler {
	return &Handler{
		dispatcher: d,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return validateOrigin(r, allowedOrigins) == nil
			},
			WriteBufferPool: &sync.Pool{
				New: func() any { return make([]byte, 4096) },
			},
		},
	}
}

// ServeWs upgrades the request, authenticates and registers the connection
// through the dispatcher, and runs its read/write pumps until the socket
// closes.
func (h *Handler) ServeWs(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Error(c.Request.Context(), "transport: upgrade failed", zap.Error(err))
		return
	}

	token := c.Query("token")
	authPayload := any(map[string]any{"token": token})

	ctx := c.Request.Context()
	tr := newSocket(conn)
	dialogueClient, err := h.dispatcher.HandleConnect(ctx, conn, authPayload, tr)
	if err != nil {
		logging.Warn(ctx, "transport: authentication rejected", zap.Error(err))
		conn.Close()
		return
	}

	go tr.writePump()
	h.readPump(ctx, conn, tr, dialogueClient)
}

func (h *Handler) readPump(ctx context.Context, conn wsConnection, tr *socket, c *client.ConnectedClient) {
	defer func() {
		h.dispatcher.HandleDisconnect(ctx, c, conn)
		tr.Close()
	}()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var frame wire.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			slog.Warn("transport: malformed frame", "error", err)
			continue
		}
		h.dispatcher.HandleFrame(ctx, c, frame)
	}
}

// validateOrigin checks the request's Origin header against allowedOrigins
// by scheme+host; a missing Origin header allows non-browser clients.
func validateOrigin(r *http.Request, allowedOrigins []string) error {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return nil
	}
	originURL, err := url.Parse(origin)
	if err != nil {
		return err
	}
	for _, allowed := range allowedOrigins {
		allowedURL, err := url.Parse(allowed)
		if err != nil {
			continue
		}
		if originURL.Scheme == allowedURL.Scheme && originURL.Host == allowedURL.Host {
			return nil
		}
	}
	return errOriginNotAllowed(origin)
}

type errOriginNotAllowed string

func (e errOriginNotAllowed) Error() string { return "origin not allowed: " + string(e) }
