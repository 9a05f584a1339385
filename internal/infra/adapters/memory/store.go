package memory

import (
	"context"
	"sync"
)

// Store keeps document update logs in process memory. Used by tests and by
// deployments that accept losing documents on restart.
type Store struct {
	mu   sync.RWMutex
	logs map[string][][]byte
}

func NewStore() *Store {
	return &Store{logs: make(map[string][][]byte)}
}

func (s *Store) LoadUpdates(_ context.Context, roomID string) ([][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log := s.logs[roomID]
	out := make([][]byte, len(log))
	copy(out, log)
	return out, nil
}

func (s *Store) AppendUpdate(_ context.Context, roomID string, update []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logs[roomID] = append(s.logs[roomID], update)
	return nil
}

func (s *Store) Compact(_ context.Context, roomID string, snapshot []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logs[roomID] = [][]byte{snapshot}
	return nil
}

// LogLen reports how many entries a room's log currently holds.
func (s *Store) LogLen(roomID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.logs[roomID])
}
