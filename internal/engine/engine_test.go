package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"whiteboard-backend/internal/mirror"
	"whiteboard-backend/internal/model"
	"whiteboard-backend/internal/store"
)

// recordingBroadcaster captures what the engine fans out.
type recordingBroadcaster struct {
	mu     sync.Mutex
	ops    []model.Operation
	clears []string
}

func (r *recordingBroadcaster) BroadcastOperation(boardID string, op model.Operation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, op)
}

func (r *recordingBroadcaster) BroadcastClear(boardID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clears = append(r.clears, boardID)
}

func (r *recordingBroadcaster) opCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ops)
}

// failingStore refuses every write.
type failingStore struct {
	store.OperationStore
}

func (f *failingStore) Append(ctx context.Context, boardID string, op model.Operation) (int64, error) {
	return 0, store.ErrStoreUnavailable
}

func (f *failingStore) Clear(ctx context.Context, boardID string) error {
	return store.ErrStoreUnavailable
}

func newTestEngine(t *testing.T) (*Engine, *store.MemoryStore, *recordingBroadcaster) {
	t.Helper()
	st := store.NewMemoryStore()
	mi, err := mirror.New(false, "", 0, nil)
	if err != nil {
		t.Fatalf("mirror: %v", err)
	}
	bc := &recordingBroadcaster{}
	return New(st, mi, bc, time.Second), st, bc
}

func penOp() model.Operation {
	return model.Operation{Tool: model.ToolPen, Payload: []byte(`{"points":[[0,0],[1,1]]}`), Author: "alice"}
}

func TestSubmitAssignsSequenceAndBroadcasts(t *testing.T) {
	eng, _, bc := newTestEngine(t)
	ctx := context.Background()

	seq, err := eng.SubmitOperation(ctx, "abc", penOp())
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if seq != 1 {
		t.Errorf("expected sequence 1, got %d", seq)
	}

	ops, current, err := eng.CurrentState(ctx, "abc")
	if err != nil {
		t.Fatalf("current state failed: %v", err)
	}
	if current != 1 || len(ops) != 1 {
		t.Fatalf("expected 1 operation at sequence 1, got %d ops, current %d", len(ops), current)
	}
	if ops[0].Sequence != 1 || ops[0].Tool != model.ToolPen {
		t.Errorf("stored operation wrong: seq %d tool %q", ops[0].Sequence, ops[0].Tool)
	}
	if ops[0].BoardID != "abc" {
		t.Errorf("expected board id stamped on operation, got %q", ops[0].BoardID)
	}
	if ops[0].CreatedAt.IsZero() {
		t.Error("expected createdAt to be stamped")
	}

	if bc.opCount() != 1 {
		t.Fatalf("expected 1 broadcast, got %d", bc.opCount())
	}
	if bc.ops[0].Sequence != 1 {
		t.Errorf("broadcast carried sequence %d, want 1", bc.ops[0].Sequence)
	}
}

func TestCatchUpReturnsMissedOperations(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := eng.SubmitOperation(ctx, "x", penOp()); err != nil {
			t.Fatalf("submit failed: %v", err)
		}
	}

	ops, err := eng.CatchUp(ctx, "x", 0)
	if err != nil {
		t.Fatalf("catch up failed: %v", err)
	}
	if len(ops) != 3 {
		t.Fatalf("expected 3 operations, got %d", len(ops))
	}
	for i, op := range ops {
		if op.Sequence != int64(i)+1 {
			t.Errorf("expected sequence %d at index %d, got %d", i+1, i, op.Sequence)
		}
	}

	// partial catch-up
	ops, err = eng.CatchUp(ctx, "x", 1)
	if err != nil {
		t.Fatalf("catch up failed: %v", err)
	}
	if len(ops) != 2 || ops[0].Sequence != 2 {
		t.Fatalf("expected operations 2..3, got %d ops starting at %d", len(ops), ops[0].Sequence)
	}

	// already caught up
	ops, err = eng.CatchUp(ctx, "x", 3)
	if err != nil {
		t.Fatalf("catch up failed: %v", err)
	}
	if len(ops) != 0 {
		t.Errorf("expected no missed operations, got %d", len(ops))
	}

	// ahead of the log means full replay
	ops, err = eng.CatchUp(ctx, "x", 99)
	if err != nil {
		t.Fatalf("catch up failed: %v", err)
	}
	if len(ops) != 3 {
		t.Errorf("expected full replay of 3 operations, got %d", len(ops))
	}
}

func TestClearResetsBoard(t *testing.T) {
	eng, _, bc := newTestEngine(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := eng.SubmitOperation(ctx, "y", penOp()); err != nil {
			t.Fatalf("submit failed: %v", err)
		}
	}

	seq, err := eng.SubmitOperation(ctx, "y", model.Operation{Tool: model.ToolClear})
	if err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	if seq != 0 {
		t.Errorf("clear is not a log entry, expected sequence 0, got %d", seq)
	}

	ops, current, err := eng.CurrentState(ctx, "y")
	if err != nil {
		t.Fatalf("current state failed: %v", err)
	}
	if current != 0 || len(ops) != 0 {
		t.Errorf("expected empty board after clear, got %d ops, current %d", len(ops), current)
	}

	if len(bc.clears) != 1 || bc.clears[0] != "y" {
		t.Errorf("expected one clear broadcast for y, got %v", bc.clears)
	}

	// next submission restarts at 1
	seq, err = eng.SubmitOperation(ctx, "y", penOp())
	if err != nil {
		t.Fatalf("submit after clear failed: %v", err)
	}
	if seq != 1 {
		t.Errorf("expected sequence 1 after clear, got %d", seq)
	}
}

func TestInvalidOperationRejected(t *testing.T) {
	eng, st, bc := newTestEngine(t)
	ctx := context.Background()

	if _, err := eng.SubmitOperation(ctx, "abc", penOp()); err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	_, err := eng.SubmitOperation(ctx, "abc", model.Operation{Tool: "teleport", Payload: []byte(`{}`)})
	if !errors.Is(err, model.ErrInvalidOperation) {
		t.Fatalf("expected ErrInvalidOperation, got %v", err)
	}

	current, _ := st.CurrentSequence(ctx, "abc")
	if current != 1 {
		t.Errorf("rejected operation advanced the sequence to %d", current)
	}
	if bc.opCount() != 1 {
		t.Errorf("rejected operation was broadcast (%d broadcasts)", bc.opCount())
	}
}

func TestPersistenceFailureNotBroadcast(t *testing.T) {
	mi, _ := mirror.New(false, "", 0, nil)
	bc := &recordingBroadcaster{}
	eng := New(&failingStore{}, mi, bc, time.Second)

	_, err := eng.SubmitOperation(context.Background(), "abc", penOp())
	if !errors.Is(err, ErrPersistenceFailed) {
		t.Fatalf("expected ErrPersistenceFailed, got %v", err)
	}
	if bc.opCount() != 0 {
		t.Errorf("unconfirmed operation was broadcast")
	}

	err = eng.Clear(context.Background(), "abc")
	if !errors.Is(err, ErrPersistenceFailed) {
		t.Fatalf("expected ErrPersistenceFailed on clear, got %v", err)
	}
	if len(bc.clears) != 0 {
		t.Errorf("unconfirmed clear was broadcast")
	}
}

func TestConcurrentSubmitsStayContiguous(t *testing.T) {
	eng, _, bc := newTestEngine(t)
	ctx := context.Background()

	const n = 50
	seqs := make(chan int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seq, err := eng.SubmitOperation(ctx, "busy", penOp())
			if err != nil {
				t.Errorf("submit failed: %v", err)
				return
			}
			seqs <- seq
		}()
	}
	wg.Wait()
	close(seqs)

	seen := make(map[int64]bool)
	for seq := range seqs {
		if seen[seq] {
			t.Errorf("sequence %d assigned twice", seq)
		}
		seen[seq] = true
	}
	for want := int64(1); want <= n; want++ {
		if !seen[want] {
			t.Errorf("sequence %d missing", want)
		}
	}

	if bc.opCount() != n {
		t.Errorf("expected %d broadcasts, got %d", n, bc.opCount())
	}

	// broadcast order matches sequence order per board
	bc.mu.Lock()
	defer bc.mu.Unlock()
	for i, op := range bc.ops {
		if op.Sequence != int64(i)+1 {
			t.Fatalf("broadcast %d carried sequence %d, want %d", i, op.Sequence, i+1)
		}
	}
}

func TestBoardsSequenceIndependently(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for b := 0; b < 4; b++ {
		wg.Add(1)
		go func(b int) {
			defer wg.Done()
			board := fmt.Sprintf("board-%d", b)
			for i := 0; i < 10; i++ {
				if _, err := eng.SubmitOperation(ctx, board, penOp()); err != nil {
					t.Errorf("submit to %s failed: %v", board, err)
				}
			}
		}(b)
	}
	wg.Wait()

	for b := 0; b < 4; b++ {
		board := fmt.Sprintf("board-%d", b)
		_, current, err := eng.CurrentState(ctx, board)
		if err != nil {
			t.Fatalf("current state failed: %v", err)
		}
		if current != 10 {
			t.Errorf("board %s: expected sequence 10, got %d", board, current)
		}
	}
}

func TestRecoverAfterClearForcesReload(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if _, err := eng.SubmitOperation(ctx, "z", penOp()); err != nil {
			t.Fatalf("submit failed: %v", err)
		}
	}
	if err := eng.Clear(ctx, "z"); err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := eng.SubmitOperation(ctx, "z", penOp()); err != nil {
			t.Fatalf("submit failed: %v", err)
		}
	}

	// client last saw sequence 7 from before the clear
	ops, current, reload, err := eng.Recover(ctx, "z", 7)
	if err != nil {
		t.Fatalf("recover failed: %v", err)
	}
	if !reload {
		t.Error("expected reload=true when client is ahead of the log")
	}
	if current != 2 || len(ops) != 2 {
		t.Errorf("expected full state of 2 ops at sequence 2, got %d ops, current %d", len(ops), current)
	}
}

func TestRecoverWithinLog(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := eng.SubmitOperation(ctx, "w", penOp()); err != nil {
			t.Fatalf("submit failed: %v", err)
		}
	}

	ops, current, reload, err := eng.Recover(ctx, "w", 3)
	if err != nil {
		t.Fatalf("recover failed: %v", err)
	}
	if reload {
		t.Error("expected incremental recovery, got reload")
	}
	if current != 5 || len(ops) != 2 {
		t.Errorf("expected ops 4..5, got %d ops, current %d", len(ops), current)
	}

	_, _, reload, err = eng.Recover(ctx, "w", -1)
	if err != nil {
		t.Fatalf("recover failed: %v", err)
	}
	if !reload {
		t.Error("negative sequence must force a reload")
	}
}

// gatedRestoreStore holds its restore open between the emptiness check
// and the writes, the window a multi-step restore leaves.
type gatedRestoreStore struct {
	*store.MemoryStore
	entered chan struct{}
	gate    chan struct{}
}

func (s *gatedRestoreStore) Restore(ctx context.Context, boardID string, ops []model.Operation) error {
	n, err := s.CurrentSequence(ctx, boardID)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	s.entered <- struct{}{}
	<-s.gate

	for _, op := range ops {
		if _, err := s.Append(ctx, boardID, op); err != nil {
			return err
		}
	}
	return nil
}

func TestRehydrationBlocksConcurrentSubmits(t *testing.T) {
	dir := t.TempDir()
	mirrored := []model.Operation{
		{Tool: model.ToolPen, Payload: []byte(`{"points":[[0,0]]}`), Author: "old"},
		{Tool: model.ToolPen, Payload: []byte(`{"points":[[1,1]]}`), Author: "old"},
	}
	data, err := json.Marshal(mirrored)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "abc.json"), data, 0o644); err != nil {
		t.Fatal(err)
	}

	st := &gatedRestoreStore{
		MemoryStore: store.NewMemoryStore(),
		entered:     make(chan struct{}),
		gate:        make(chan struct{}),
	}
	mi, err := mirror.New(true, dir, time.Hour, st)
	if err != nil {
		t.Fatalf("mirror: %v", err)
	}
	defer mi.Close()
	eng := New(st, mi, &recordingBroadcaster{}, time.Second)
	ctx := context.Background()

	stateDone := make(chan struct{})
	go func() {
		defer close(stateDone)
		if _, _, err := eng.CurrentState(ctx, "abc"); err != nil {
			t.Errorf("current state failed: %v", err)
		}
	}()
	<-st.entered

	submitDone := make(chan struct{})
	go func() {
		defer close(submitDone)
		op := penOp()
		op.Author = "new"
		if _, err := eng.SubmitOperation(ctx, "abc", op); err != nil {
			t.Errorf("submit failed: %v", err)
		}
	}()

	// The draw must queue behind the rehydration, not slip into its
	// window: mirrored history never follows a newer operation.
	select {
	case <-submitDone:
		t.Error("submit completed while rehydration was in flight")
	case <-time.After(100 * time.Millisecond):
	}

	close(st.gate)
	<-stateDone
	<-submitDone

	ops, err := st.ReadAll(ctx, "abc")
	if err != nil {
		t.Fatalf("read all failed: %v", err)
	}
	want := []string{"old", "old", "new"}
	if len(ops) != len(want) {
		t.Fatalf("expected %d operations, got %d", len(want), len(ops))
	}
	for i, op := range ops {
		if op.Author != want[i] {
			t.Errorf("position %d: expected author %q, got %q", i, want[i], op.Author)
		}
		if op.Sequence != int64(i)+1 {
			t.Errorf("position %d: expected sequence %d, got %d", i, i+1, op.Sequence)
		}
	}
}

func TestCurrentStateRehydratesFromMirror(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	// first life: submit, let the mirror flush
	stA := store.NewMemoryStore()
	miA, err := mirror.New(true, dir, 5*time.Millisecond, stA)
	if err != nil {
		t.Fatalf("mirror: %v", err)
	}
	engA := New(stA, miA, &recordingBroadcaster{}, time.Second)

	for i := 0; i < 3; i++ {
		if _, err := engA.SubmitOperation(ctx, "abc", penOp()); err != nil {
			t.Fatalf("submit failed: %v", err)
		}
	}
	miA.Close()

	if _, err := os.Stat(filepath.Join(dir, "abc.json")); err != nil {
		t.Fatalf("mirror file missing: %v", err)
	}

	// second life: fresh store, same folder
	stB := store.NewMemoryStore()
	miB, err := mirror.New(true, dir, 5*time.Millisecond, stB)
	if err != nil {
		t.Fatalf("mirror: %v", err)
	}
	defer miB.Close()
	engB := New(stB, miB, &recordingBroadcaster{}, time.Second)

	ops, current, err := engB.CurrentState(ctx, "abc")
	if err != nil {
		t.Fatalf("current state failed: %v", err)
	}
	if current != 3 || len(ops) != 3 {
		t.Fatalf("expected rehydrated board with 3 ops, got %d ops, current %d", len(ops), current)
	}

	// the log keeps growing from where the mirror left off
	seq, err := engB.SubmitOperation(ctx, "abc", penOp())
	if err != nil {
		t.Fatalf("submit after rehydration failed: %v", err)
	}
	if seq != 4 {
		t.Errorf("expected sequence 4 after rehydration, got %d", seq)
	}
}
