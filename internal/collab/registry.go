package collab

import (
	"context"
	"sync"
)

// Registry maps room ids to live sessions with reference counting. A room's
// session is materialized from durable storage on first attach and drained
// (final flush, then eviction) when the last reference is released.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	draining map[string]chan struct{}
	drain    sync.WaitGroup

	store Store
	gc    bool
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithDocGC controls tombstone garbage collection on the documents this
// registry creates.
func WithDocGC(enabled bool) RegistryOption {
	return func(r *Registry) { r.gc = enabled }
}

func NewRegistry(store Store, opts ...RegistryOption) *Registry {
	r := &Registry{
		sessions: make(map[string]*Session),
		draining: make(map[string]chan struct{}),
		store:    store,
		gc:       true,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Attach returns the live session for a room, loading it from storage on
// first use. Every successful Attach must eventually be paired with a
// Release; connection teardown does this through Session.RemoveConn.
//
// A reconnect that races the previous session's drain waits for the drain
// to finish, so the fresh session always loads the flushed state.
func (r *Registry) Attach(ctx context.Context, roomID string) (*Session, error) {
	for {
		r.mu.Lock()
		if s, ok := r.sessions[roomID]; ok {
			s.refs++
			r.mu.Unlock()

			if err := s.ensureLoaded(ctx); err != nil {
				r.Release(s)
				return nil, err
			}
			return s, nil
		}

		drained, draining := r.draining[roomID]
		if !draining {
			s := newSession(r, roomID)
			s.refs = 1
			r.sessions[roomID] = s
			r.mu.Unlock()

			if err := s.ensureLoaded(ctx); err != nil {
				r.Release(s)
				return nil, err
			}
			return s, nil
		}
		r.mu.Unlock()

		select {
		case <-drained:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Release drops one reference. The last release evicts the session and
// drains it in the background; the room stays marked as draining until the
// final flush lands, and Shutdown waits for all drains.
func (r *Registry) Release(s *Session) {
	r.mu.Lock()
	s.refs--
	if s.refs > 0 {
		r.mu.Unlock()
		return
	}
	delete(r.sessions, s.roomID)
	drained := make(chan struct{})
	r.draining[s.roomID] = drained
	r.mu.Unlock()

	r.drain.Add(1)
	go func() {
		defer r.drain.Done()
		s.teardown()

		r.mu.Lock()
		delete(r.draining, s.roomID)
		r.mu.Unlock()
		close(drained)
	}()
}

// Occupancy reports how many connections are attached to a room right now.
// Admission uses it for the early capacity check; Session.AddConn is the
// authoritative one.
func (r *Registry) Occupancy(roomID string) int {
	r.mu.Lock()
	s, ok := r.sessions[roomID]
	r.mu.Unlock()
	if !ok {
		return 0
	}
	return s.ConnCount()
}

// Rooms reports the number of live sessions.
func (r *Registry) Rooms() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Shutdown closes every connection and blocks until all sessions have
// flushed and drained.
func (r *Registry) Shutdown(code int, reason string) {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	for _, s := range sessions {
		s.closeConns(code, reason)
	}
	r.drain.Wait()
}
