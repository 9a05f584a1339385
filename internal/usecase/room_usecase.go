package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/codepair/collab/internal/domain/models"
	"github.com/codepair/collab/internal/infra/adapters/postgres/repository"
)

var (
	ErrRoomNotFound = errors.New("room not found")
	ErrRoomClosed   = errors.New("room closed")
	ErrRoomFull     = errors.New("room full")
)

type RoomUsecase interface {
	Create(ctx context.Context, input *models.CreateRoomInput) (*models.Room, error)
	Get(ctx context.Context, id string) (*models.Room, error)
	Close(ctx context.Context, id string) error
	Forfeit(ctx context.Context, id string, userID uuid.UUID) error

	// Admit validates a connection attempt against the persisted room record
	// and the room's current occupancy.
	Admit(ctx context.Context, id string, occupancy int) (*models.Room, error)
}

type roomUsecase struct {
	roomRepo repository.RoomRepository
}

func NewRoomUsecase(roomRepo repository.RoomRepository) RoomUsecase {
	return &roomUsecase{roomRepo: roomRepo}
}

func (uc *roomUsecase) Create(ctx context.Context, input *models.CreateRoomInput) (*models.Room, error) {
	room := models.NewRoom(input)

	if err := uc.roomRepo.Create(ctx, room); err != nil {
		return nil, fmt.Errorf("create room: %w", err)
	}

	return room, nil
}

func (uc *roomUsecase) Get(ctx context.Context, id string) (*models.Room, error) {
	room, err := uc.roomRepo.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get room: %w", err)
	}
	return room, nil
}

func (uc *roomUsecase) Close(ctx context.Context, id string) error {
	err := uc.roomRepo.SetOpen(ctx, id, false)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrRoomNotFound
	}
	return err
}

func (uc *roomUsecase) Forfeit(ctx context.Context, id string, userID uuid.UUID) error {
	err := uc.roomRepo.SetForfeit(ctx, id, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrRoomNotFound
	}
	return err
}

func (uc *roomUsecase) Admit(ctx context.Context, id string, occupancy int) (*models.Room, error) {
	if id == "" {
		return nil, ErrRoomNotFound
	}

	room, err := uc.roomRepo.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get room: %w", err)
	}

	if !room.Open {
		return nil, ErrRoomClosed
	}
	if occupancy >= room.Capacity() {
		return nil, ErrRoomFull
	}

	return room, nil
}
