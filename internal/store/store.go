// Package store owns the durable per-board operation log. Sequence
// numbers are assigned here, atomically with the append, and restart from
// 1 after a clear.
package store

import (
	"context"
	"errors"

	"whiteboard-backend/internal/model"
)

// ErrStoreUnavailable wraps any persistence-layer failure. An append that
// returns it must be treated as unconfirmed and never broadcast.
var ErrStoreUnavailable = errors.New("operation store unavailable")

// OperationStore is the durable, ordered log of drawing operations.
//
// Append serializes concurrent callers on the same board (no two callers
// receive the same sequence) while different boards never contend.
// ReadFrom returns operations with sequence > since in increasing order;
// an empty board yields an empty slice, not an error.
type OperationStore interface {
	Append(ctx context.Context, boardID string, op model.Operation) (int64, error)
	ReadFrom(ctx context.Context, boardID string, since int64) ([]model.Operation, error)
	ReadAll(ctx context.Context, boardID string) ([]model.Operation, error)
	Clear(ctx context.Context, boardID string) error
	CurrentSequence(ctx context.Context, boardID string) (int64, error)
	// Restore seeds an empty board log, used only for cold-start
	// rehydration from the file mirror. A non-empty log is left untouched.
	Restore(ctx context.Context, boardID string, ops []model.Operation) error
}
