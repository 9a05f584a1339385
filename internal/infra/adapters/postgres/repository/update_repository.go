package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// DocumentUpdateRepository is the postgres-backed document update log. It
// implements collab.Store: an append-only table replayed on load and
// collapsed to a single snapshot row on compaction.
type DocumentUpdateRepository struct {
	db *sqlx.DB
}

func NewDocumentUpdateRepo(db *sqlx.DB) *DocumentUpdateRepository {
	return &DocumentUpdateRepository{db: db}
}

func (r *DocumentUpdateRepository) LoadUpdates(ctx context.Context, roomID string) ([][]byte, error) {
	var payloads [][]byte

	query := "SELECT payload FROM document_updates WHERE room_id = $1 ORDER BY id"

	if err := r.db.SelectContext(ctx, &payloads, query, roomID); err != nil {
		return nil, fmt.Errorf("load updates: %w", err)
	}

	return payloads, nil
}

func (r *DocumentUpdateRepository) AppendUpdate(ctx context.Context, roomID string, update []byte) error {
	query := "INSERT INTO document_updates (room_id, payload) VALUES ($1, $2)"

	if _, err := r.db.ExecContext(ctx, query, roomID, update); err != nil {
		return fmt.Errorf("append update: %w", err)
	}

	return nil
}

func (r *DocumentUpdateRepository) Compact(ctx context.Context, roomID string, snapshot []byte) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, "DELETE FROM document_updates WHERE room_id = $1", roomID); err != nil {
		return fmt.Errorf("clear update log: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO document_updates (room_id, payload) VALUES ($1, $2)", roomID, snapshot); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}

	return tx.Commit()
}
