package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/codepair/collab/internal/domain/models"
)

// ErrNotFound is returned when a room id has no persisted record.
var ErrNotFound = errors.New("room not found")

type RoomRepository interface {
	Create(ctx context.Context, room *models.Room) error
	GetByID(ctx context.Context, id string) (*models.Room, error)
	SetOpen(ctx context.Context, id string, open bool) error
	SetForfeit(ctx context.Context, id string, userID uuid.UUID) error
}

type roomRepo struct {
	db *sqlx.DB
}

func NewRoomRepo(db *sqlx.DB) RoomRepository {
	return &roomRepo{db: db}
}

func (r *roomRepo) Create(ctx context.Context, room *models.Room) error {
	query := `
		INSERT INTO rooms (id, participants, question_id, open, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	res, err := r.db.ExecContext(ctx, query,
		room.ID, room.Participants, room.QuestionID, room.Open, room.CreatedAt)
	if err != nil {
		return fmt.Errorf("create room: %w", err)
	}

	if aff, err := res.RowsAffected(); aff == 0 || err != nil {
		return fmt.Errorf("create room no rows affected: %w", err)
	}

	return nil
}

func (r *roomRepo) GetByID(ctx context.Context, id string) (*models.Room, error) {
	var room models.Room

	query := "SELECT id, participants, question_id, open, created_at FROM rooms WHERE id = $1"

	err := r.db.GetContext(ctx, &room, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get room by id: %w", err)
	}

	return &room, nil
}

func (r *roomRepo) SetOpen(ctx context.Context, id string, open bool) error {
	res, err := r.db.ExecContext(ctx, "UPDATE rooms SET open = $2 WHERE id = $1", id, open)
	if err != nil {
		return fmt.Errorf("set room open: %w", err)
	}

	if aff, _ := res.RowsAffected(); aff == 0 {
		return ErrNotFound
	}

	return nil
}

// SetForfeit flips the forfeit flag on one participant inside the jsonb
// column using a transactional read-modify-write.
func (r *roomRepo) SetForfeit(ctx context.Context, id string, userID uuid.UUID) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var room models.Room
	query := "SELECT id, participants, question_id, open, created_at FROM rooms WHERE id = $1 FOR UPDATE"
	err = tx.GetContext(ctx, &room, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get room for update: %w", err)
	}

	found := false
	for i := range room.Participants {
		if room.Participants[i].ID == userID {
			room.Participants[i].Forfeited = true
			found = true
		}
	}
	if !found {
		return fmt.Errorf("user %s is not a participant of room %s: %w", userID, id, ErrNotFound)
	}

	if _, err := tx.ExecContext(ctx, "UPDATE rooms SET participants = $2 WHERE id = $1", id, room.Participants); err != nil {
		return fmt.Errorf("update participants: %w", err)
	}

	return tx.Commit()
}
