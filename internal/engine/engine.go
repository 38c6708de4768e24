// Package engine sequences, persists and fans out whiteboard operations.
// It owns the per-board critical section: append and broadcast run as one
// unit per board, so broadcast delivery order always matches append order,
// while different boards proceed fully in parallel.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"whiteboard-backend/internal/mirror"
	"whiteboard-backend/internal/model"
	"whiteboard-backend/internal/store"
)

// ErrPersistenceFailed means the store could not confirm the append; the
// operation was not broadcast and the client may resubmit. The engine
// never retries on its own: it does not deduplicate by content, so a
// retry with unknown outcome is the caller's decision.
var ErrPersistenceFailed = errors.New("persistence failed")

// Broadcaster is the outbound side of the transport collaborator. Send
// failures to individual recipients are the implementation's problem and
// must not surface here.
type Broadcaster interface {
	// BroadcastOperation delivers a sequenced operation to every room
	// member, including the author: all clients render from the one
	// authoritative feed.
	BroadcastOperation(boardID string, op model.Operation)
	// BroadcastClear tells every room member the board was wiped.
	BroadcastClear(boardID string)
}

// Engine is the synchronization core.
type Engine struct {
	store          store.OperationStore
	mirror         *mirror.Service
	broadcaster    Broadcaster
	persistTimeout time.Duration

	mu     sync.Mutex
	boards map[string]*sync.Mutex
}

func New(st store.OperationStore, mi *mirror.Service, bc Broadcaster, persistTimeout time.Duration) *Engine {
	return &Engine{
		store:          st,
		mirror:         mi,
		broadcaster:    bc,
		persistTimeout: persistTimeout,
		boards:         make(map[string]*sync.Mutex),
	}
}

// boardLock returns the mutex serializing writes for one board.
func (e *Engine) boardLock(boardID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()

	lock, ok := e.boards[boardID]
	if !ok {
		lock = &sync.Mutex{}
		e.boards[boardID] = lock
	}
	return lock
}

// SubmitOperation validates, sequences, persists and broadcasts one
// drawing action. It returns the assigned sequence, or 0 with
// model.ErrInvalidOperation / ErrPersistenceFailed.
func (e *Engine) SubmitOperation(ctx context.Context, boardID string, op model.Operation) (int64, error) {
	if err := op.Validate(); err != nil {
		return 0, err
	}

	if op.Tool == model.ToolClear {
		return 0, e.Clear(ctx, boardID)
	}

	lock := e.boardLock(boardID)
	lock.Lock()
	defer lock.Unlock()

	op.BoardID = boardID
	if op.CreatedAt.IsZero() {
		op.CreatedAt = time.Now().UTC()
	}

	pctx, cancel := context.WithTimeout(ctx, e.persistTimeout)
	defer cancel()

	seq, err := e.store.Append(pctx, boardID, op)
	if err != nil {
		// Unconfirmed writes are never broadcast.
		return 0, fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
	}

	op.Sequence = seq
	e.broadcaster.BroadcastOperation(boardID, op)
	e.mirror.Schedule(boardID)
	return seq, nil
}

// Clear wipes the board's log, resets its sequence to 0 and announces the
// clear to the whole room, sender included.
func (e *Engine) Clear(ctx context.Context, boardID string) error {
	lock := e.boardLock(boardID)
	lock.Lock()
	defer lock.Unlock()

	pctx, cancel := context.WithTimeout(ctx, e.persistTimeout)
	defer cancel()

	if err := e.store.Clear(pctx, boardID); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
	}

	e.mirror.Remove(boardID)
	e.broadcaster.BroadcastClear(boardID)
	log.Printf("[Engine] Cleared board %s", boardID)
	return nil
}

// CatchUp returns the operations a client missed. since <= 0 or a since
// ahead of the current sequence both mean a full replay.
func (e *Engine) CatchUp(ctx context.Context, boardID string, since int64) ([]model.Operation, error) {
	if since <= 0 {
		return e.readAll(ctx, boardID)
	}

	current, err := e.store.CurrentSequence(ctx, boardID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
	}
	if since > current {
		return e.readAll(ctx, boardID)
	}

	ops, err := e.store.ReadFrom(ctx, boardID, since)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
	}
	return ops, nil
}

// CurrentState returns the full operation list and the current sequence,
// rehydrating an empty log from the file mirror first (cold start).
func (e *Engine) CurrentState(ctx context.Context, boardID string) ([]model.Operation, int64, error) {
	current, err := e.store.CurrentSequence(ctx, boardID)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
	}

	if current == 0 {
		// Rehydration holds the board's write lock so a concurrent
		// submit cannot slot in before the mirrored history: either it
		// waits and lands after the restore, or it landed first and the
		// re-check below skips the restore entirely.
		lock := e.boardLock(boardID)
		lock.Lock()
		current, err = e.store.CurrentSequence(ctx, boardID)
		if err == nil && current == 0 {
			if mirrored, lerr := e.mirror.Load(boardID); lerr != nil {
				log.Printf("[Engine] Mirror load failed for board %s: %v", boardID, lerr)
			} else if len(mirrored) > 0 {
				if rerr := e.store.Restore(ctx, boardID, mirrored); rerr != nil {
					log.Printf("[Engine] Rehydration failed for board %s: %v", boardID, rerr)
				}
			}
		}
		lock.Unlock()
		if err != nil {
			return nil, 0, fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
		}
	}

	ops, err := e.readAll(ctx, boardID)
	if err != nil {
		return nil, 0, err
	}
	return ops, int64(len(ops)), nil
}

// Recover serves a reconnecting client. When since is ahead of the
// current sequence the log was cleared behind the client's back; reload
// is then true and ops holds the full authoritative state to start from.
func (e *Engine) Recover(ctx context.Context, boardID string, since int64) (ops []model.Operation, current int64, reload bool, err error) {
	current, err = e.store.CurrentSequence(ctx, boardID)
	if err != nil {
		return nil, 0, false, fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
	}

	if since < 0 || since > current {
		ops, err = e.readAll(ctx, boardID)
		return ops, current, true, err
	}

	ops, err = e.store.ReadFrom(ctx, boardID, since)
	if err != nil {
		return nil, 0, false, fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
	}
	return ops, current, false, nil
}

func (e *Engine) readAll(ctx context.Context, boardID string) ([]model.Operation, error) {
	ops, err := e.store.ReadAll(ctx, boardID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
	}
	return ops, nil
}
