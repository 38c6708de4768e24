package store

import (
	"context"
	"sync"

	"whiteboard-backend/internal/model"
)

// MemoryStore is an in-process OperationStore for single-node runs
// without Redis and for tests. Same contract, no durability.
type MemoryStore struct {
	mu     sync.RWMutex
	boards map[string]*boardLog
}

type boardLog struct {
	mu  sync.Mutex
	ops []model.Operation
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{boards: make(map[string]*boardLog)}
}

func (s *MemoryStore) board(boardID string) *boardLog {
	s.mu.RLock()
	b, ok := s.boards[boardID]
	s.mu.RUnlock()
	if ok {
		return b
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.boards[boardID]; ok {
		return b
	}
	b = &boardLog{}
	s.boards[boardID] = b
	return b
}

func (s *MemoryStore) Append(ctx context.Context, boardID string, op model.Operation) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, wrapErr(err)
	}

	b := s.board(boardID)
	b.mu.Lock()
	defer b.mu.Unlock()

	op.BoardID = boardID
	op.Sequence = int64(len(b.ops)) + 1
	b.ops = append(b.ops, op)
	return op.Sequence, nil
}

func (s *MemoryStore) ReadFrom(ctx context.Context, boardID string, since int64) ([]model.Operation, error) {
	if err := ctx.Err(); err != nil {
		return nil, wrapErr(err)
	}
	if since < 0 {
		since = 0
	}

	b := s.board(boardID)
	b.mu.Lock()
	defer b.mu.Unlock()

	if since >= int64(len(b.ops)) {
		return []model.Operation{}, nil
	}
	ops := make([]model.Operation, len(b.ops)-int(since))
	copy(ops, b.ops[since:])
	return ops, nil
}

func (s *MemoryStore) ReadAll(ctx context.Context, boardID string) ([]model.Operation, error) {
	return s.ReadFrom(ctx, boardID, 0)
}

func (s *MemoryStore) Clear(ctx context.Context, boardID string) error {
	if err := ctx.Err(); err != nil {
		return wrapErr(err)
	}

	b := s.board(boardID)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ops = nil
	return nil
}

func (s *MemoryStore) CurrentSequence(ctx context.Context, boardID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, wrapErr(err)
	}

	b := s.board(boardID)
	b.mu.Lock()
	defer b.mu.Unlock()
	return int64(len(b.ops)), nil
}

func (s *MemoryStore) Restore(ctx context.Context, boardID string, ops []model.Operation) error {
	if err := ctx.Err(); err != nil {
		return wrapErr(err)
	}
	if len(ops) == 0 {
		return nil
	}

	b := s.board(boardID)
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.ops) > 0 {
		return nil
	}
	for i, op := range ops {
		op.BoardID = boardID
		op.Sequence = int64(i) + 1
		b.ops = append(b.ops, op)
	}
	return nil
}
