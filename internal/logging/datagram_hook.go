package logging

import (
	"net"

	"github.com/sirupsen/logrus"
)

// DatagramHook ships one formatted log entry per Unix domain datagram to an
// external logger daemon, the target-language equivalent of the original's
// preprocessor logging macros shipping to a socket path (spec.md §6, §9).
// The daemon itself, its rotation, and its startup are out of scope; this
// hook only owns the client side of the transport.
type DatagramHook struct {
	conn      *net.UnixConn
	formatter logrus.Formatter
	levels    []logrus.Level
}

// NewDatagramHook dials a unixgram socket at path. The connection is
// best-effort: a send failure later (daemon restarted, socket removed) is
// swallowed by Fire rather than propagated, since logging must never be
// able to break the chat core.
func NewDatagramHook(path string) (*DatagramHook, error) {
	addr := &net.UnixAddr{Name: path, Net: "unixgram"}
	conn, err := net.DialUnix("unixgram", nil, addr)
	if err != nil {
		return nil, err
	}
	return &DatagramHook{
		conn:      conn,
		formatter: &logrus.JSONFormatter{},
		levels:    logrus.AllLevels,
	}, nil
}

// Levels implements logrus.Hook.
func (h *DatagramHook) Levels() []logrus.Level {
	return h.levels
}

// Fire implements logrus.Hook: format the entry and ship it as exactly one
// datagram. Datagram sockets reject writes larger than the kernel's
// SO_SNDBUF in one call, so a single entry that somehow exceeds that limit
// is dropped rather than split, which would violate "one datagram per
// record".
func (h *DatagramHook) Fire(entry *logrus.Entry) error {
	b, err := h.formatter.Format(entry)
	if err != nil {
		return err
	}
	// Send failures are swallowed, as NewDatagramHook documents.
	_, _ = h.conn.Write(b)
	return nil
}

// Close releases the underlying socket.
func (h *DatagramHook) Close() error {
	return h.conn.Close()
}
