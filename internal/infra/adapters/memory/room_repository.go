package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/codepair/collab/internal/domain/models"
	"github.com/codepair/collab/internal/infra/adapters/postgres/repository"
)

// RoomRepository is the in-memory room record table, used by tests and the
// memory storage driver.
type RoomRepository struct {
	mu    sync.RWMutex
	rooms map[string]*models.Room
}

func NewRoomRepository() *RoomRepository {
	return &RoomRepository{rooms: make(map[string]*models.Room)}
}

func (r *RoomRepository) Create(_ context.Context, room *models.Room) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.rooms[room.ID]; exists {
		return fmt.Errorf("room %s already exists", room.ID)
	}
	cp := *room
	r.rooms[room.ID] = &cp
	return nil
}

func (r *RoomRepository) GetByID(_ context.Context, id string) (*models.Room, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room, ok := r.rooms[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *room
	cp.Participants = append(models.Participants{}, room.Participants...)
	return &cp, nil
}

func (r *RoomRepository) SetOpen(_ context.Context, id string, open bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[id]
	if !ok {
		return repository.ErrNotFound
	}
	room.Open = open
	return nil
}

func (r *RoomRepository) SetForfeit(_ context.Context, id string, userID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[id]
	if !ok {
		return repository.ErrNotFound
	}
	for i := range room.Participants {
		if room.Participants[i].ID == userID {
			room.Participants[i].Forfeited = true
			return nil
		}
	}
	return fmt.Errorf("user %s is not a participant of room %s: %w", userID, id, repository.ErrNotFound)
}
