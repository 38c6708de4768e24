package room

import (
	"fmt"
	"sync"
	"testing"
)

func TestJoinAndLeave(t *testing.T) {
	r := NewRegistry()

	r.Join("abc", "conn-1")
	r.Join("abc", "conn-2")

	if got := r.MemberCount("abc"); got != 2 {
		t.Errorf("expected 2 members, got %d", got)
	}
	if board, ok := r.RoomOf("conn-1"); !ok || board != "abc" {
		t.Errorf("expected conn-1 in abc, got %q ok=%v", board, ok)
	}

	r.Leave("conn-1")
	if got := r.MemberCount("abc"); got != 1 {
		t.Errorf("expected 1 member after leave, got %d", got)
	}
	if _, ok := r.RoomOf("conn-1"); ok {
		t.Error("conn-1 should not be in a room after leave")
	}
}

func TestJoinIsIdempotent(t *testing.T) {
	r := NewRegistry()

	r.Join("abc", "conn-1")
	r.Join("abc", "conn-1")
	r.Join("abc", "conn-1")

	if got := r.MemberCount("abc"); got != 1 {
		t.Errorf("expected 1 member, got %d", got)
	}
}

func TestJoinSwitchesRooms(t *testing.T) {
	r := NewRegistry()

	r.Join("abc", "conn-1")
	r.Join("xyz", "conn-1")

	if got := r.MemberCount("abc"); got != 0 {
		t.Errorf("expected abc empty after switch, got %d members", got)
	}
	if got := r.MemberCount("xyz"); got != 1 {
		t.Errorf("expected 1 member in xyz, got %d", got)
	}
	if board, _ := r.RoomOf("conn-1"); board != "xyz" {
		t.Errorf("expected conn-1 in xyz, got %q", board)
	}
}

func TestLeaveUnknownConnection(t *testing.T) {
	r := NewRegistry()
	// must not panic or corrupt state
	r.Leave("nobody")
	if got := r.MemberCount("abc"); got != 0 {
		t.Errorf("expected 0 members, got %d", got)
	}
}

func TestMembersOfReturnsSnapshot(t *testing.T) {
	r := NewRegistry()
	r.Join("abc", "conn-1")
	r.Join("abc", "conn-2")

	members := r.MembersOf("abc")
	if len(members) != 2 {
		t.Fatalf("expected 2 members, got %d", len(members))
	}

	seen := map[string]bool{}
	for _, m := range members {
		seen[m] = true
	}
	if !seen["conn-1"] || !seen["conn-2"] {
		t.Errorf("unexpected member set %v", members)
	}
}

func TestConcurrentJoinLeave(t *testing.T) {
	r := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			connID := fmt.Sprintf("conn-%d", i)
			board := fmt.Sprintf("board-%d", i%5)
			r.Join(board, connID)
			r.Join(fmt.Sprintf("board-%d", (i+1)%5), connID)
			if i%2 == 0 {
				r.Leave(connID)
			}
		}(i)
	}
	wg.Wait()

	total := 0
	for i := 0; i < 5; i++ {
		total += r.MemberCount(fmt.Sprintf("board-%d", i))
	}
	if total != 25 {
		t.Errorf("expected 25 remaining members, got %d", total)
	}
}
