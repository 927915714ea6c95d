// Package broadcast implements the Broadcast Fabric of spec.md §4.G: fan a
// byte vector out to a set of recipients with per-recipient FIFO ordering
// preserved, without blocking on slow recipients.
package broadcast

import (
	"net"

	"github.com/chatcore/reactorchat/internal/registry"
	"github.com/chatcore/reactorchat/internal/session"
)

// Fabric fans frames out to the sessions held in a Registry. It holds no
// state of its own; Registry.Snapshot is the source of truth for who is
// eligible to receive a given broadcast.
type Fabric struct {
	reg *registry.Registry
}

// New returns a Fabric backed by reg.
func New(reg *registry.Registry) *Fabric {
	return &Fabric{reg: reg}
}

// Broadcast enqueues frame to every named session in the registry except
// excludeConn. Enqueue is O(1) per recipient: each recipient's own write
// pump goroutine (session.Session.writePump) drains its queue independently,
// so a slow or stalled peer never blocks this call. A recipient that is
// removed between the snapshot and its enqueue simply misses the frame,
// which spec.md §4.G states is not an error.
func (f *Fabric) Broadcast(excludeConn net.Conn, frame []byte) {
	for _, s := range f.reg.Snapshot(excludeConn) {
		// Send's error (session already closing) is exactly the "recipient
		// removed between snapshot and enqueue" case and is intentionally
		// ignored here.
		_ = s.Send(frame)
	}
}

// Unicast enqueues frame to exactly one session: the per-session replies
// (LOGIN_OK/FAIL, REGISTER_OK/FAIL, INITIAL, PING_OK) that spec.md §4.E
// routes back to the originating connection only.
func (f *Fabric) Unicast(target *session.Session, frame []byte) error {
	return target.Send(frame)
}
