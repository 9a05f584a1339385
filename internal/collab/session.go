// Package collab ties the replicated document to its live connections.
package collab

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/codepair/collab/internal/application/constant"
	"github.com/codepair/collab/internal/application/metric"
	"github.com/codepair/collab/internal/awareness"
	"github.com/codepair/collab/internal/crdt"
	"github.com/codepair/collab/internal/protocol"
)

// ErrSessionFull is returned by AddConn when the room is at capacity.
var ErrSessionFull = errors.New("session at capacity")

// SessionState mirrors the room lifecycle: a session is created
// uninitialized, loads its durable state, serves connections, and drains
// back to uninitialized when the last connection leaves.
type SessionState int32

const (
	SessionUninitialized SessionState = iota
	SessionLoading
	SessionActive
	SessionDraining
)

type inboundFrame struct {
	conn *Conn
	data []byte
}

// Session is the in-memory side of one room. Document mutations go through
// the single goroutine consuming the inbox.
type Session struct {
	roomID string
	reg    *Registry

	doc *crdt.Doc
	aw  *awareness.State

	mu    sync.RWMutex
	conns map[*Conn]struct{}
	refs  int // guarded by the registry's mutex

	state  atomic.Int32
	loaded atomic.Bool

	loadOnce sync.Once
	loadErr  error

	inbox   chan inboundFrame
	persist chan []byte
	done    chan struct{}
	wg      sync.WaitGroup
}

func newSession(reg *Registry, roomID string) *Session {
	s := &Session{
		roomID:  roomID,
		reg:     reg,
		doc:     crdt.NewDoc(crdt.WithGC(reg.gc)),
		aw:      awareness.New(),
		conns:   make(map[*Conn]struct{}),
		inbox:   make(chan inboundFrame, 256),
		persist: make(chan []byte, 256),
		done:    make(chan struct{}),
	}
	s.doc.OnError(func(err error) {
		slog.Warn("document error",
			slog.String(constant.RoomID, roomID),
			slog.Any(constant.Error, err),
		)
	})
	return s
}

func (s *Session) RoomID() string {
	return s.roomID
}

func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

// Doc exposes the underlying document replica. Mutating it from outside the
// session loop is only safe in tests.
func (s *Session) Doc() *crdt.Doc {
	return s.doc
}

func (s *Session) Awareness() *awareness.State {
	return s.aw
}

func (s *Session) ensureLoaded(ctx context.Context) error {
	s.loadOnce.Do(func() {
		s.state.Store(int32(SessionLoading))
		s.loadErr = s.load(ctx)
		if s.loadErr == nil {
			s.state.Store(int32(SessionActive))
		}
	})
	return s.loadErr
}

// load replays the room's durable update log into the fresh document and
// hooks subsequent document changes into the async persistence path.
func (s *Session) load(ctx context.Context) error {
	updates, err := s.reg.store.LoadUpdates(ctx, s.roomID)
	if err != nil {
		return fmt.Errorf("load updates: %w", err)
	}
	for _, u := range updates {
		if err := s.doc.ApplyUpdate(u); err != nil {
			// A corrupt log entry costs that entry, not the room.
			slog.Error("skip corrupt persisted update",
				slog.String(constant.RoomID, s.roomID),
				slog.Any(constant.Error, err),
			)
		}
	}

	s.doc.OnUpdate(func(update []byte) {
		select {
		case s.persist <- update:
		case <-s.done:
		default:
			slog.Warn("persist queue full, deferring to final flush",
				slog.String(constant.RoomID, s.roomID),
			)
		}
	})

	s.loaded.Store(true)
	metric.IncrementActiveRooms()

	s.wg.Add(2)
	go s.run()
	go s.persistLoop()
	return nil
}

func (s *Session) run() {
	defer s.wg.Done()
	for {
		select {
		case f := <-s.inbox:
			s.handleFrame(f)
		case <-s.done:
			return
		}
	}
}

func (s *Session) handleFrame(f inboundFrame) {
	msg, err := protocol.Decode(f.data)
	if err != nil {
		// Framing violations cost the offending connection its socket; the
		// document and the other replica are untouched.
		slog.Warn("malformed frame",
			slog.String(constant.RoomID, s.roomID),
			slog.Any(constant.Error, err),
		)
		f.conn.closeWithCode(websocket.CloseProtocolError, "malformed frame")
		return
	}

	switch msg.Kind {
	case protocol.MessageSync:
		reply, err := protocol.HandleSync(s.doc, msg)
		if err != nil {
			// Payload-level decode errors are diagnostic only; relay is
			// append-only merge, so the connection stays up.
			s.doc.RaiseError(err)
			return
		}
		if reply != nil {
			f.conn.enqueue(reply)
		}
		if msg.Step != protocol.SyncStep1 {
			metric.IncUpdatesApplied()
			s.broadcast(f.data, f.conn)
		}

	case protocol.MessageAwareness:
		updated, removed, err := s.aw.ApplyUpdate(msg.Payload)
		if err != nil {
			s.doc.RaiseError(err)
			return
		}
		f.conn.trackClients(updated, removed)
		if len(updated)+len(removed) > 0 {
			s.broadcast(f.data, f.conn)
		}
	}
}

// broadcast fans a frame out to every connection except the originator.
func (s *Session) broadcast(frame []byte, except *Conn) {
	s.mu.RLock()
	targets := make([]*Conn, 0, len(s.conns))
	for c := range s.conns {
		if c != except {
			targets = append(targets, c)
		}
	}
	s.mu.RUnlock()

	for _, c := range targets {
		c.enqueue(frame)
	}
}

// AddConn registers a connection and performs the server side of the sync
// handshake: announce our state vector, then push the current awareness
// snapshot so the new peer sees existing participants immediately.
func (s *Session) AddConn(c *Conn, capacity int) error {
	s.mu.Lock()
	if len(s.conns) >= capacity {
		s.mu.Unlock()
		return ErrSessionFull
	}
	s.conns[c] = struct{}{}
	s.mu.Unlock()

	metric.IncrementWSActiveConnections()

	c.enqueue(protocol.EncodeSyncStep1(s.doc.EncodeStateVector()))
	if clients := s.aw.Clients(); len(clients) > 0 {
		c.enqueue(protocol.EncodeAwareness(s.aw.EncodeAll()))
	}
	c.setState(StateActive)
	return nil
}

// RemoveConn deregisters a connection, clears its awareness entries (and
// broadcasts the departure), and releases the session reference.
func (s *Session) RemoveConn(c *Conn) {
	s.mu.Lock()
	if _, ok := s.conns[c]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.conns, c)
	s.mu.Unlock()

	metric.DecrementWSActiveConnections()

	if diff := s.aw.RemoveClients(c.controlledIDs()); diff != nil {
		s.broadcast(protocol.EncodeAwareness(diff), c)
	}

	s.reg.Release(s)
}

func (s *Session) ConnCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

func (s *Session) closeConns(code int, reason string) {
	s.mu.RLock()
	conns := make([]*Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.RUnlock()

	for _, c := range conns {
		c.closeWithCode(code, reason)
	}
}

func (s *Session) persistLoop() {
	defer s.wg.Done()
	for {
		select {
		case update := <-s.persist:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := s.reg.store.AppendUpdate(ctx, s.roomID, update)
			cancel()
			if err != nil {
				// The state this update carried is still covered by the
				// final flush.
				metric.IncPersistFailures()
				slog.Error("append update",
					slog.String(constant.RoomID, s.roomID),
					slog.Any(constant.Error, err),
				)
			}
		case <-s.done:
			return
		}
	}
}

// teardown runs once the last reference is gone: stop the loops, then flush
// the full document state so the async append path's gap is closed before
// the in-memory replica is released.
func (s *Session) teardown() {
	s.state.Store(int32(SessionDraining))
	close(s.done)
	s.wg.Wait()

	if s.loaded.Load() {
		metric.DecrementActiveRooms()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.reg.store.Compact(ctx, s.roomID, s.doc.EncodeStateAsUpdate()); err != nil {
			metric.IncPersistFailures()
			slog.Error("flush document",
				slog.String(constant.RoomID, s.roomID),
				slog.Any(constant.Error, err),
			)
		}
	}
	s.state.Store(int32(SessionUninitialized))
}
