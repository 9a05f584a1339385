package collab

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/codepair/collab/internal/application/constant"
)

// Close codes surfaced to clients during admission and teardown.
const (
	CloseAuthFailed = 4000 // room id missing, room unknown, or auth rejected
	CloseRoomClosed = 4001 // room no longer open, or at capacity
)

const (
	pingInterval   = 30 * time.Second
	pongWait       = 60 * time.Second
	writeWait      = 10 * time.Second
	maxMessageSize = 1 << 20
	sendBufferSize = 64
)

// ConnState tracks a connection through its lifecycle.
type ConnState int32

const (
	StateHandshaking ConnState = iota
	StateActive
	StateClosing
	StateClosed
)

// Conn wraps one websocket connection attached to a room session.
type Conn struct {
	ws      *websocket.Conn
	session *Session

	send   chan []byte
	state  atomic.Int32
	closed chan struct{}

	controlledMu sync.Mutex
	controlled   map[uint64]struct{}

	closeOnce sync.Once
}

func NewConn(ws *websocket.Conn, session *Session) *Conn {
	return &Conn{
		ws:         ws,
		session:    session,
		send:       make(chan []byte, sendBufferSize),
		closed:     make(chan struct{}),
		controlled: make(map[uint64]struct{}),
	}
}

func (c *Conn) State() ConnState {
	return ConnState(c.state.Load())
}

func (c *Conn) setState(st ConnState) {
	c.state.Store(int32(st))
}

// Run services the connection until it closes. It must be called exactly
// once, after the connection has been registered with its session.
func (c *Conn) Run() {
	go c.writePump()
	c.readLoop()
}

func (c *Conn) readLoop() {
	defer c.close()

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}
		if mt != websocket.BinaryMessage {
			continue
		}
		select {
		case c.session.inbox <- inboundFrame{conn: c, data: data}:
		case <-c.session.done:
			return
		}
	}
}

// writePump drains the send queue and doubles as the heartbeat supervisor:
// a ping every pingInterval, while the pong handler pushes the read deadline
// out. A peer that stops answering times the read loop out, which is the
// only signal that a silently dropped socket leaves behind.
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer c.close()

	for {
		select {
		case frame := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.closed:
			return
		}
	}
}

// enqueue queues a frame for delivery. A consumer that cannot keep up is
// dropped through the normal close path.
func (c *Conn) enqueue(frame []byte) {
	if c.State() >= StateClosing {
		return
	}
	select {
	case c.send <- frame:
	default:
		slog.Warn("send queue full, dropping connection",
			slog.String(constant.RoomID, c.session.roomID),
		)
		c.close()
	}
}

// trackClients records which awareness client ids this connection controls,
// so they can be cleaned out of the shared state when it dies.
func (c *Conn) trackClients(updated, removed []uint64) {
	c.controlledMu.Lock()
	defer c.controlledMu.Unlock()
	for _, id := range updated {
		c.controlled[id] = struct{}{}
	}
	for _, id := range removed {
		delete(c.controlled, id)
	}
}

func (c *Conn) controlledIDs() []uint64 {
	c.controlledMu.Lock()
	defer c.controlledMu.Unlock()
	ids := make([]uint64, 0, len(c.controlled))
	for id := range c.controlled {
		ids = append(ids, id)
	}
	return ids
}

// close tears the connection down exactly once: deregister from the session
// (which broadcasts the awareness departure and may drain the room), then
// release the socket.
func (c *Conn) close() {
	c.closeOnce.Do(func() {
		c.setState(StateClosing)
		close(c.closed)
		c.session.RemoveConn(c)
		_ = c.ws.Close()
		c.setState(StateClosed)
	})
}

// closeWithCode sends a coded close frame before tearing down.
func (c *Conn) closeWithCode(code int, reason string) {
	_ = c.ws.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(writeWait),
	)
	c.close()
}

func (c *Conn) logReadError(err error) {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		switch closeErr.Code {
		case websocket.CloseNormalClosure, websocket.CloseGoingAway:
			slog.Info("peer disconnected",
				slog.String(constant.RoomID, c.session.roomID),
			)
			return
		}
	}
	if c.State() >= StateClosing {
		return
	}
	slog.Warn("websocket read",
		slog.String(constant.RoomID, c.session.roomID),
		slog.Any(constant.Error, err),
	)
}

// CloseWithCode rejects a raw websocket that never got attached to a
// session, e.g. during admission.
func CloseWithCode(ws *websocket.Conn, code int, reason string) {
	_ = ws.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(writeWait),
	)
	_ = ws.Close()
}
