package collab

import "context"

// Store is the durable update log behind a room's document. Implementations
// must be append-only; readers reconstruct a document by replaying the log
// in any order. Compact atomically replaces a room's log with a single
// snapshot update.
type Store interface {
	// LoadUpdates returns the room's persisted updates, oldest first, or an
	// empty slice when the room has no durable state yet.
	LoadUpdates(ctx context.Context, roomID string) ([][]byte, error)

	AppendUpdate(ctx context.Context, roomID string, update []byte) error

	Compact(ctx context.Context, roomID string, snapshot []byte) error
}
