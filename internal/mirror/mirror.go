// Package mirror maintains a best-effort file copy of each board's
// operation log, used only to rehydrate the primary store after a cold
// start. Writes are debounced per board and never sit on the submit path.
package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"whiteboard-backend/internal/model"
)

// Snapshotter supplies the current full log for a board; the operation
// store satisfies it.
type Snapshotter interface {
	ReadAll(ctx context.Context, boardID string) ([]model.Operation, error)
}

// Service debounces and writes per-board JSON files.
type Service struct {
	enabled  bool
	folder   string
	debounce time.Duration
	source   Snapshotter

	mu      sync.Mutex
	pending map[string]*time.Timer
	wg      sync.WaitGroup
	closed  bool
}

// New creates the mirror service and ensures the target folder exists.
// A disabled service accepts all calls and does nothing.
func New(enabled bool, folder string, debounce time.Duration, source Snapshotter) (*Service, error) {
	s := &Service{
		enabled:  enabled,
		folder:   folder,
		debounce: debounce,
		source:   source,
		pending:  make(map[string]*time.Timer),
	}
	if !enabled {
		return s, nil
	}

	if err := os.MkdirAll(folder, 0o755); err != nil {
		return nil, fmt.Errorf("create mirror folder: %w", err)
	}
	log.Printf("[Mirror] Writing board files to %s (debounce %v)", folder, debounce)
	return s, nil
}

// boardPath maps a board id to its file, refusing path traversal.
func (s *Service) boardPath(boardID string) (string, error) {
	name := boardID + ".json"
	if boardID == "" || strings.ContainsAny(boardID, `/\`) || name != filepath.Base(name) {
		return "", fmt.Errorf("unsafe board id %q", boardID)
	}
	return filepath.Join(s.folder, name), nil
}

// Schedule queues a mirror write for the board. Repeated calls within the
// debounce window coalesce into one write.
func (s *Service) Schedule(boardID string) {
	if !s.enabled {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	// A pending timer can only be reused while it is still armed. Once
	// Stop reports it fired, its callback owns the wg slot and is about
	// to run; re-arming it would run the flush twice for one slot.
	if timer, ok := s.pending[boardID]; ok && timer.Stop() {
		timer.Reset(s.debounce)
		return
	}

	s.wg.Add(1)
	var timer *time.Timer
	timer = time.AfterFunc(s.debounce, func() {
		defer s.wg.Done()
		s.mu.Lock()
		// Only drop the entry if it is still ours; a fired timer may
		// have been replaced by a newer schedule.
		if s.pending[boardID] == timer {
			delete(s.pending, boardID)
		}
		s.mu.Unlock()
		s.write(boardID)
	})
	s.pending[boardID] = timer
}

func (s *Service) write(boardID string) {
	path, err := s.boardPath(boardID)
	if err != nil {
		log.Printf("[Mirror] %v", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ops, err := s.source.ReadAll(ctx, boardID)
	if err != nil {
		log.Printf("[Mirror] Failed to snapshot board %s: %v", boardID, err)
		return
	}
	if len(ops) == 0 {
		return
	}

	data, err := json.Marshal(ops)
	if err != nil {
		log.Printf("[Mirror] Failed to encode board %s: %v", boardID, err)
		return
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		log.Printf("[Mirror] Failed to write board %s: %v", boardID, err)
	}
}

// Load reads the mirrored log for a board. A missing file is not an
// error; it yields an empty slice.
func (s *Service) Load(boardID string) ([]model.Operation, error) {
	if !s.enabled {
		return nil, nil
	}

	path, err := s.boardPath(boardID)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var ops []model.Operation
	if err := json.Unmarshal(data, &ops); err != nil {
		return nil, fmt.Errorf("corrupt mirror file for board %s: %w", boardID, err)
	}
	return ops, nil
}

// Remove drops the mirrored file and any pending write, used on clear.
func (s *Service) Remove(boardID string) {
	if !s.enabled {
		return
	}

	s.mu.Lock()
	if timer, ok := s.pending[boardID]; ok {
		if timer.Stop() {
			s.wg.Done()
		}
		delete(s.pending, boardID)
	}
	s.mu.Unlock()

	path, err := s.boardPath(boardID)
	if err != nil {
		log.Printf("[Mirror] %v", err)
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("[Mirror] Failed to remove board %s: %v", boardID, err)
	}
}

// Close flushes every pending write before returning.
func (s *Service) Close() {
	if !s.enabled {
		return
	}

	s.mu.Lock()
	s.closed = true
	flush := make([]string, 0, len(s.pending))
	for boardID, timer := range s.pending {
		if timer.Stop() {
			s.wg.Done()
			flush = append(flush, boardID)
		}
		delete(s.pending, boardID)
	}
	s.mu.Unlock()

	for _, boardID := range flush {
		s.write(boardID)
	}
	s.wg.Wait()
	log.Println("[Mirror] Stopped")
}
