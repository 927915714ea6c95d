package auth

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"io"
	"net"
	"time"

	"github.com/pkg/errors"
)

// netRequest/netResponse define the length-prefixed JSON wire contract
// between NetAdapter and a remote credential service. This format is this
// implementation's own choice: spec.md §6 explicitly leaves the Auth
// boundary's transport, RPC framework, and codec out of scope, so nothing
// here is a wire-compatibility requirement.
type netRequest struct {
	Op         string `json:"op"`
	Name       string `json:"name"`
	Credential []byte `json:"credential"`
}

type netResponse struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// NetAdapter dials a remote credential service over TCP for every call,
// mirroring the split between the chat core (ClientHandler) and a separate
// AuthServer process in the original design, while leaving that service's
// own implementation and transport format out of scope per spec.md §6.
type NetAdapter struct {
	Addr    string
	Timeout time.Duration
}

// NewNetAdapter returns a NetAdapter dialing addr with timeout bounding
// every call, satisfying spec.md §5's "must time out internally".
func NewNetAdapter(addr string, timeout time.Duration) *NetAdapter {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &NetAdapter{Addr: addr, Timeout: timeout}
}

// Login implements Adapter.
func (a *NetAdapter) Login(ctx context.Context, name string, credential []byte) (bool, string) {
	return a.call(ctx, "LOGIN", name, credential)
}

// Register implements Adapter.
func (a *NetAdapter) Register(ctx context.Context, name string, credential []byte) (bool, string) {
	return a.call(ctx, "REGISTER", name, credential)
}

func (a *NetAdapter) call(ctx context.Context, op, name string, credential []byte) (bool, string) {
	ctx, cancel := context.WithTimeout(ctx, a.Timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", a.Addr)
	if err != nil {
		return false, "auth service unreachable: " + err.Error()
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	if err := writeFrame(conn, netRequest{Op: op, Name: name, Credential: credential}); err != nil {
		return false, "auth request failed: " + err.Error()
	}

	var resp netResponse
	if err := readFrame(conn, &resp); err != nil {
		return false, "auth response failed: " + err.Error()
	}
	return resp.OK, resp.Message
}

func writeFrame(w io.Writer, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "encoding auth frame")
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return errors.Wrap(err, "writing auth frame length")
	}
	if _, err := w.Write(payload); err != nil {
		return errors.Wrap(err, "writing auth frame body")
	}
	return nil
}

func readFrame(r io.Reader, v interface{}) error {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return errors.Wrap(err, "reading auth frame length")
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	const maxFrame = 1 << 20
	if n > maxFrame {
		return errors.Errorf("auth frame of %d bytes exceeds maximum %d", n, maxFrame)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return errors.Wrap(err, "reading auth frame body")
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return errors.Wrap(err, "decoding auth frame")
	}
	return nil
}
