// Package room tracks which live connection is viewing which whiteboard.
// Pure in-memory bookkeeping: non-authoritative, rebuilt from live
// connections after a restart.
package room

import (
	"log"
	"sync"
)

// Registry maps board ids to member connection ids. A connection belongs
// to at most one room; joining another room leaves the first.
type Registry struct {
	mu      sync.RWMutex
	rooms   map[string]map[string]bool
	roomFor map[string]string
}

func NewRegistry() *Registry {
	return &Registry{
		rooms:   make(map[string]map[string]bool),
		roomFor: make(map[string]string),
	}
}

// Join adds the connection to the board's room. Idempotent.
func (r *Registry) Join(boardID, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.roomFor[connID]; ok {
		if prev == boardID {
			return
		}
		r.removeLocked(prev, connID)
	}

	members, ok := r.rooms[boardID]
	if !ok {
		members = make(map[string]bool)
		r.rooms[boardID] = members
		log.Printf("[Room] Opened room %s", boardID)
	}
	members[connID] = true
	r.roomFor[connID] = boardID
}

// Leave removes the connection from whatever room it is in. Idempotent.
func (r *Registry) Leave(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	boardID, ok := r.roomFor[connID]
	if !ok {
		return
	}
	r.removeLocked(boardID, connID)
}

func (r *Registry) removeLocked(boardID, connID string) {
	delete(r.roomFor, connID)
	members, ok := r.rooms[boardID]
	if !ok {
		return
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(r.rooms, boardID)
		log.Printf("[Room] Closed room %s (empty)", boardID)
	}
}

// MembersOf returns a snapshot of the room's member connection ids.
func (r *Registry) MembersOf(boardID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := make([]string, 0, len(r.rooms[boardID]))
	for connID := range r.rooms[boardID] {
		members = append(members, connID)
	}
	return members
}

// RoomOf returns the board the connection has joined, if any.
func (r *Registry) RoomOf(connID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	boardID, ok := r.roomFor[connID]
	return boardID, ok
}

// MemberCount returns the number of live members in the room.
func (r *Registry) MemberCount(boardID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[boardID])
}
