// Package registry implements the Membership Registry of spec.md §4.F: the
// authoritative map of live sessions and assigned names, with atomic
// name-collision detection and happens-before removal ordering.
package registry

import (
	"net"
	"sort"
	"sync"

	"github.com/chatcore/reactorchat/internal/session"
)

// Registry maps a connection to its Session and enforces that no two
// sessions hold the same non-empty name at any instant (spec.md invariant 1).
type Registry struct {
	mu     sync.Mutex
	byConn map[net.Conn]*session.Session
	byName map[string]*session.Session
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		byConn: make(map[net.Conn]*session.Session),
		byName: make(map[string]*session.Session),
	}
}

// Add inserts s under the registry lock. It is the caller's responsibility
// to call Add exactly once per accepted connection, before the session's
// read pump starts.
func (r *Registry) Add(s *session.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byConn[s.Conn] = s
}

// Remove atomically deletes the entry for conn from both maps and returns
// the removed session, or nil if absent. Callers must treat a non-nil
// return as the happens-before point required before closing the socket or
// enqueuing a synthetic EXIT broadcast (spec.md §5 ordering guarantees).
func (r *Registry) Remove(conn net.Conn) *session.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byConn[conn]
	if !ok {
		return nil
	}
	delete(r.byConn, conn)
	if name := s.Name(); name != "" {
		// Only delete if this session still owns the name; a later
		// rebind under the same name cannot happen since names are
		// set exactly once, but guard anyway for safety.
		if cur, ok := r.byName[name]; ok && cur == s {
			delete(r.byName, name)
		}
	}
	return s
}

// Lookup returns the session registered for conn, or nil.
func (r *Registry) Lookup(conn net.Conn) *session.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byConn[conn]
}

// TryBindName attempts to claim name for s. It returns false (Collision) if
// another session already holds that non-empty name; the binding and the
// collision check happen atomically under the registry lock, satisfying
// spec.md invariant 1.
func (r *Registry) TryBindName(s *session.Session, name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if name == "" {
		return false
	}
	if _, collide := r.byName[name]; collide {
		return false
	}
	if !s.SetName(name) {
		// Name already bound on this session (should not happen on a
		// correctly-driven JOIN path, but never silently double-bind).
		return false
	}
	r.byName[name] = s
	return true
}

// OnlineNamesExcluding returns a sorted snapshot of every bound name other
// than the one held by excludeConn (if any), for the JOIN welcome protocol
// (spec.md §4.F step 3).
func (r *Registry) OnlineNamesExcluding(excludeConn net.Conn) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var excludeName string
	if s, ok := r.byConn[excludeConn]; ok {
		excludeName = s.Name()
	}

	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		if name == excludeName {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Snapshot returns every currently-registered session whose name is
// non-empty, excluding excludeConn. Broadcast eligibility (spec.md §4.F)
// restricts delivery to named sessions only. The snapshot is taken under
// the lock but enqueuing to its members happens outside it, per spec.md §5's
// shared-resource policy.
func (r *Registry) Snapshot(excludeConn net.Conn) []*session.Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*session.Session, 0, len(r.byName))
	for _, s := range r.byName {
		if s.Conn == excludeConn {
			continue
		}
		out = append(out, s)
	}
	return out
}

// Count returns the number of currently-registered connections, named or
// anonymous.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byConn)
}

// AllConns returns every currently-registered connection, for shutdown
// teardown (spec.md §5: "close all session sockets").
func (r *Registry) AllConns() []net.Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]net.Conn, 0, len(r.byConn))
	for c := range r.byConn {
		out = append(out, c)
	}
	return out
}
