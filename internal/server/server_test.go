package server

import (
	"bufio"
	"io"
	"net"
	"testing"
	"time"

	"github.com/chatcore/reactorchat/internal/protocol"
)

func startTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	srv := New(Config{ListenAddr: "127.0.0.1:0"})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	srv.ln = ln
	addr := ln.Addr().String()

	go func() {
		srv.acceptLoop()
		srv.wg.Wait()
		srv.pool.Shutdown()
	}()

	t.Cleanup(srv.Shutdown)
	return srv, addr
}

func dial(t *testing.T, addr string) (net.Conn, *bufio.Reader) {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	return conn, bufio.NewReaderSize(conn, 64*1024)
}

func send(t *testing.T, conn net.Conn, kind protocol.Kind, sender string, body []byte) {
	t.Helper()
	frame, err := protocol.Encode(kind, sender, body, protocol.DefaultMaxBodySize)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := conn.Write(frame); err != nil {
		t.Fatal(err)
	}
}

func recv(t *testing.T, r *bufio.Reader) (protocol.Header, []byte) {
	t.Helper()
	hdrBuf := make([]byte, protocol.HeaderSize)
	if _, err := io.ReadFull(r, hdrBuf); err != nil {
		t.Fatalf("reading header: %v", err)
	}
	h, _, err := protocol.ParseHeader(hdrBuf, protocol.DefaultMaxBodySize)
	if err != nil {
		t.Fatal(err)
	}
	body := make([]byte, h.Length)
	if h.Length > 0 {
		if _, err := io.ReadFull(r, body); err != nil {
			t.Fatal(err)
		}
	}
	return h, body
}

func withDeadline(t *testing.T, conn net.Conn, fn func()) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	fn()
	conn.SetReadDeadline(time.Time{})
}

// TestScenarioS1TwoUserChat implements spec.md §8 scenario S1.
func TestScenarioS1TwoUserChat(t *testing.T) {
	_, addr := startTestServer(t)

	c1, r1 := dial(t, addr)
	defer c1.Close()
	send(t, c1, protocol.Join, "alice", nil)

	c2, r2 := dial(t, addr)
	send(t, c2, protocol.Join, "bob", nil)

	var h protocol.Header
	var body []byte
	withDeadline(t, c2, func() { h, body = recv(t, r2) })
	if h.Kind != protocol.Initial || string(body) != "alice" {
		t.Fatalf("expected INITIAL{alice}, got kind=%v body=%q", h.Kind, body)
	}

	withDeadline(t, c1, func() { h, _ = recv(t, r1) })
	if h.Kind != protocol.Join || h.SenderName() != "bob" {
		t.Fatalf("expected JOIN{bob} at c1, got kind=%v sender=%q", h.Kind, h.SenderName())
	}

	send(t, c2, protocol.GroupMsg, "bob", []byte("hi"))
	withDeadline(t, c1, func() { h, body = recv(t, r1) })
	if h.Kind != protocol.GroupMsg || h.SenderName() != "bob" || string(body) != "hi" {
		t.Fatalf("expected GROUP_MSG{bob,hi} at c1, got kind=%v sender=%q body=%q", h.Kind, h.SenderName(), body)
	}

	c2.Close()
	withDeadline(t, c1, func() { h, _ = recv(t, r1) })
	if h.Kind != protocol.Exit || h.SenderName() != "bob" {
		t.Fatalf("expected EXIT{bob} at c1, got kind=%v sender=%q", h.Kind, h.SenderName())
	}
}

// TestScenarioS2NameCollision implements spec.md §8 scenario S2.
func TestScenarioS2NameCollision(t *testing.T) {
	_, addr := startTestServer(t)

	c1, r1 := dial(t, addr)
	defer c1.Close()
	send(t, c1, protocol.Join, "alice", nil)

	c2, _ := dial(t, addr)
	defer c2.Close()
	send(t, c2, protocol.Join, "alice", nil)

	buf := make([]byte, 1)
	c2.SetReadDeadline(time.Now().Add(time.Second))
	_, err := c2.Read(buf)
	if err == nil {
		t.Fatal("expected the colliding connection to be closed, not to deliver data")
	}

	c1.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, err = c1.Read(buf)
	if err == nil {
		t.Fatal("expected c1 to see no event from the rejected collision")
	}
	_ = r1
}

// TestScenarioS3InterleavedTraffic implements spec.md §8 scenario S3.
func TestScenarioS3InterleavedTraffic(t *testing.T) {
	_, addr := startTestServer(t)

	c1, r1 := dial(t, addr)
	defer c1.Close()
	send(t, c1, protocol.Join, "alice", nil)

	c2, r2 := dial(t, addr)
	defer c2.Close()
	send(t, c2, protocol.Join, "bob", nil)
	withDeadline(t, c2, func() { recv(t, r2) }) // INITIAL
	withDeadline(t, c1, func() { recv(t, r1) }) // JOIN{bob}

	send(t, c1, protocol.FileStart, "alice", protocol.EncodeFileInfo(protocol.FileInfo{Filename: "x.bin", Size: 10}))
	send(t, c1, protocol.FileData, "alice", []byte("AAAAA"))
	send(t, c1, protocol.GroupMsg, "alice", []byte("hi"))
	send(t, c1, protocol.FileData, "alice", []byte("BBBBB"))
	send(t, c1, protocol.FileEnd, "alice", nil)

	wantKinds := []protocol.Kind{protocol.FileStart, protocol.FileData, protocol.GroupMsg, protocol.FileData, protocol.FileEnd}
	wantBodies := []string{"", "AAAAA", "hi", "BBBBB", ""}
	for i, wantKind := range wantKinds {
		var h protocol.Header
		var body []byte
		withDeadline(t, c2, func() { h, body = recv(t, r2) })
		if h.Kind != wantKind {
			t.Fatalf("frame %d: expected kind %v, got %v", i, wantKind, h.Kind)
		}
		if h.SenderName() != "alice" {
			t.Fatalf("frame %d: expected sender alice, got %q", i, h.SenderName())
		}
		if wantKind == protocol.FileData && string(body) != wantBodies[i] {
			t.Fatalf("frame %d: expected body %q, got %q", i, wantBodies[i], body)
		}
	}
}

// TestScenarioS4LoginRegister implements spec.md §8 scenario S4: an
// anonymous session (no prior JOIN) sends LOGIN and the server invokes the
// Auth Adapter using the frame's sender name directly.
func TestScenarioS4LoginRegister(t *testing.T) {
	_, addr := startTestServer(t)

	c, r := dial(t, addr)
	defer c.Close()

	send(t, c, protocol.Login, "alice", []byte("secret"))
	var h protocol.Header
	var body []byte
	withDeadline(t, c, func() { h, body = recv(t, r) })
	if h.Kind != protocol.LoginOK {
		t.Fatalf("expected LOGIN_OK with a non-empty credential, got %v", h.Kind)
	}
	if len(body) != 0 {
		t.Fatalf("expected an empty LOGIN_OK body, got %q", body)
	}

	send(t, c, protocol.Login, "alice", nil)
	withDeadline(t, c, func() { h, _ = recv(t, r) })
	if h.Kind != protocol.LoginFail {
		t.Fatalf("expected LOGIN_FAIL with an empty credential, got %v", h.Kind)
	}
}

func TestScenarioS6PingThroughput(t *testing.T) {
	_, addr := startTestServer(t)

	c, r := dial(t, addr)
	defer c.Close()

	for i := 0; i < 5; i++ {
		send(t, c, protocol.Ping, "", nil)
		var h protocol.Header
		withDeadline(t, c, func() { h, _ = recv(t, r) })
		if h.Kind != protocol.PingOK {
			t.Fatalf("expected PING_OK, got %v", h.Kind)
		}
	}
}

// TestInvariantNameSetExactlyOnceViaJoin exercises spec.md invariant 3: a
// second JOIN on an already-named session cannot rebind the name, because
// Registry.TryBindName's underlying Session.SetName refuses a second write.
// The registry treats that refusal exactly like a name collision: terminal
// disconnect.
func TestInvariantNameSetExactlyOnceViaJoin(t *testing.T) {
	_, addr := startTestServer(t)

	c, _ := dial(t, addr)
	defer c.Close()
	send(t, c, protocol.Join, "alice", nil)
	send(t, c, protocol.Join, "mallory", nil)

	buf := make([]byte, 1)
	c.SetReadDeadline(time.Now().Add(time.Second))
	if _, err := c.Read(buf); err == nil {
		t.Fatal("expected the connection to be closed after a second JOIN attempt")
	}
}

func TestInvariantRemovedSessionReceivesNoFurtherBroadcast(t *testing.T) {
	_, addr := startTestServer(t)

	c1, _ := dial(t, addr)
	send(t, c1, protocol.Join, "alice", nil)
	c1.Close()

	time.Sleep(50 * time.Millisecond)

	c2, _ := dial(t, addr)
	defer c2.Close()
	send(t, c2, protocol.Join, "bob", nil)

	// OnJoin skips INITIAL when no one else is online, so bob must receive
	// nothing at all; an INITIAL still naming alice would arrive here.
	buf := make([]byte, 1)
	c2.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	n, err := c2.Read(buf)
	if ne, ok := err.(net.Error); !ok || !ne.Timeout() {
		t.Fatalf("expected no INITIAL since alice already departed, got n=%d err=%v", n, err)
	}
}
