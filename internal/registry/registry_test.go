package registry

import (
	"net"
	"sync"
	"testing"

	"github.com/chatcore/reactorchat/internal/protocol"
	"github.com/chatcore/reactorchat/internal/session"
)

func newTestSession(t *testing.T) (*session.Session, net.Conn) {
	t.Helper()
	server, client := net.Pipe()
	return session.New(server, protocol.DefaultMaxBodySize), client
}

func TestAddLookupRemove(t *testing.T) {
	r := New()
	s, client := newTestSession(t)
	defer client.Close()

	r.Add(s)
	if got := r.Lookup(s.Conn); got != s {
		t.Fatalf("expected Lookup to return the added session")
	}
	if r.Count() != 1 {
		t.Fatalf("expected Count 1, got %d", r.Count())
	}

	removed := r.Remove(s.Conn)
	if removed != s {
		t.Fatal("expected Remove to return the session")
	}
	if r.Lookup(s.Conn) != nil {
		t.Fatal("expected Lookup to return nil after Remove")
	}
	if r.Remove(s.Conn) != nil {
		t.Fatal("expected a second Remove to return nil")
	}
}

func TestTryBindNameRejectsCollision(t *testing.T) {
	r := New()
	s1, c1 := newTestSession(t)
	s2, c2 := newTestSession(t)
	defer c1.Close()
	defer c2.Close()

	r.Add(s1)
	r.Add(s2)

	if !r.TryBindName(s1, "alice") {
		t.Fatal("expected first bind to succeed")
	}
	if r.TryBindName(s2, "alice") {
		t.Fatal("expected second bind of the same name to collide")
	}
	if s2.Name() != "" {
		t.Fatal("expected s2 to remain anonymous after a collision")
	}
}

func TestTryBindNameConcurrentOnlyOneWins(t *testing.T) {
	r := New()
	const n = 50
	sessions := make([]*session.Session, n)
	conns := make([]net.Conn, n)
	for i := 0; i < n; i++ {
		s, c := newTestSession(t)
		sessions[i] = s
		conns[i] = c
		r.Add(s)
	}
	defer func() {
		for _, c := range conns {
			c.Close()
		}
	}()

	var wg sync.WaitGroup
	results := make([]bool, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = r.TryBindName(sessions[i], "contested")
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, ok := range results {
		if ok {
			wins++
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}
}

func TestOnlineNamesExcludingAndSnapshot(t *testing.T) {
	r := New()
	alice, ca := newTestSession(t)
	bob, cb := newTestSession(t)
	defer ca.Close()
	defer cb.Close()

	r.Add(alice)
	r.Add(bob)
	r.TryBindName(alice, "alice")

	names := r.OnlineNamesExcluding(bob.Conn)
	if len(names) != 1 || names[0] != "alice" {
		t.Fatalf("expected [alice], got %v", names)
	}

	r.TryBindName(bob, "bob")
	snap := r.Snapshot(alice.Conn)
	if len(snap) != 1 || snap[0] != bob {
		t.Fatalf("expected snapshot to contain only bob, got %v", snap)
	}
}

func TestRemoveUnbindsName(t *testing.T) {
	r := New()
	s, c := newTestSession(t)
	defer c.Close()

	r.Add(s)
	r.TryBindName(s, "alice")
	r.Remove(s.Conn)

	s2, c2 := newTestSession(t)
	defer c2.Close()
	r.Add(s2)
	if !r.TryBindName(s2, "alice") {
		t.Fatal("expected name to be reusable after the original holder was removed")
	}
}
