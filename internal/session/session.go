// Package session implements per-connection state and the read/write pump
// goroutines that replace the reactor-driven read/write callbacks of the
// original design (see the goroutine substitution note in SPEC_FULL.md §1).
// Each Session owns one net.Conn; a read pump goroutine frames the inbound
// byte stream and dispatches to a Handler, and a write pump goroutine drains
// an unbounded FIFO outbound queue.
package session

import (
	"bufio"
	"io"
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/chatcore/reactorchat/internal/protocol"
)

// fileSubstate tracks an in-progress FILE_START..FILE_END transfer from this
// session, mirroring spec.md §3's "receiving? current FileInfo; received-byte
// counter" per-connection state.
type fileSubstate struct {
	mu        sync.Mutex
	receiving bool
	info      protocol.FileInfo
	received  uint64
}

func (f *fileSubstate) start(info protocol.FileInfo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receiving = true
	f.info = info
	f.received = 0
}

// account records a chunk of sz bytes against the open transfer. ok is false
// if no transfer is open, or if sz would push the running total past the
// declared FileInfo.Size, in which case the caller must drop the frame
// (spec.md §8 invariant 4: concatenated FILE_DATA lengths must not exceed
// the declared file size).
func (f *fileSubstate) account(sz int) (ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.receiving {
		return false
	}
	if f.received+uint64(sz) > f.info.Size {
		return false
	}
	f.received += uint64(sz)
	return true
}

// end closes the open transfer, reporting whether one was open.
func (f *fileSubstate) end() (wasReceiving bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	wasReceiving = f.receiving
	f.receiving = false
	f.info = protocol.FileInfo{}
	f.received = 0
	return wasReceiving
}

func (f *fileSubstate) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receiving = false
	f.info = protocol.FileInfo{}
	f.received = 0
}

// Session is the server-side state for one client connection: identity,
// a FIFO outbound queue, and the file-transfer substate, per spec.md §3.
type Session struct {
	Conn       net.Conn
	RemoteAddr string
	CorrelID   string

	MaxBodySize uint64

	nameMu sync.RWMutex
	name   string

	file fileSubstate

	outMu     sync.Mutex
	outCond   *sync.Cond
	outQueue  [][]byte
	closed    bool
	closeOnce sync.Once
	closeErr  error
}

// New constructs a Session wrapping conn. maxBodySize bounds every frame
// this session will parse or emit.
func New(conn net.Conn, maxBodySize uint64) *Session {
	s := &Session{
		Conn:        conn,
		RemoteAddr:  conn.RemoteAddr().String(),
		CorrelID:    uuid.NewString(),
		MaxBodySize: maxBodySize,
	}
	s.outCond = sync.NewCond(&s.outMu)
	return s
}

// Name returns the session's bound name, or "" if still anonymous.
func (s *Session) Name() string {
	s.nameMu.RLock()
	defer s.nameMu.RUnlock()
	return s.name
}

// Anonymous reports whether JOIN has not yet succeeded for this session.
func (s *Session) Anonymous() bool {
	return s.Name() == ""
}

// SetName binds the session's name exactly once. It returns false if a name
// is already bound, matching spec.md invariant 3 ("set exactly once").
func (s *Session) SetName(name string) bool {
	s.nameMu.Lock()
	defer s.nameMu.Unlock()
	if s.name != "" {
		return false
	}
	s.name = name
	return true
}

// Send appends frame to the outbound queue. It never blocks on I/O; the
// write pump goroutine drains the queue independently. It returns an error
// if the session is already closed.
func (s *Session) Send(frame []byte) error {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	if s.closed {
		return errors.New("session: send on closed session")
	}
	s.outQueue = append(s.outQueue, frame)
	s.outCond.Signal()
	return nil
}

// Close shuts down the underlying connection and wakes the write pump so it
// can exit. Safe to call more than once and from any goroutine.
func (s *Session) Close(err error) error {
	s.closeOnce.Do(func() {
		s.outMu.Lock()
		s.closed = true
		s.closeErr = err
		s.outCond.Broadcast()
		s.outMu.Unlock()
	})
	return s.Conn.Close()
}

// Handler receives dispatched, fully-framed events from a Session's read
// pump. Implementations (the server's composition root) own the registry,
// broadcast fabric, and auth adapter; Session itself holds no policy.
type Handler interface {
	OnLogin(s *Session, senderName string, body []byte)
	OnRegister(s *Session, senderName string, body []byte)
	OnJoin(s *Session, proposedName string)
	OnGroupMsg(s *Session, body []byte)
	OnPing(s *Session)
	OnFileStart(s *Session, info protocol.FileInfo)
	OnFileData(s *Session, chunk []byte)
	OnFileEnd(s *Session)
	// OnExit is called for an explicit client EXIT frame as well as for
	// peer-closed/socket-fatal termination (err is nil for EXIT and clean
	// peer-closed EOF). It runs the handle_error/cleanup sequence once.
	OnExit(s *Session, err error)
}

// Serve runs the read pump on the calling goroutine after starting the
// write pump in the background. It returns once the connection has been
// fully torn down (read loop exited and write pump has drained and quit).
func (s *Session) Serve(h Handler) {
	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		s.writePump()
	}()

	err := s.readPump(h)
	h.OnExit(s, err)
	s.Close(err)
	<-writeDone
}

// readPump is the per-connection state machine of spec.md §4.E, adapted to
// blocking reads: the TCP stream is reliable and ordered, so framing reduces
// to "read the header, then read exactly Length more bytes" with no
// accumulate-and-rescan buffer required. This is the 1:1 goroutine
// substitute for the edge-triggered "drain until EAGAIN" read loop.
func (s *Session) readPump(h Handler) error {
	r := bufio.NewReaderSize(s.Conn, 64*1024)
	headerBuf := make([]byte, protocol.HeaderSize)

	for {
		if _, err := io.ReadFull(r, headerBuf); err != nil {
			return normalizeReadErr(err)
		}

		hdr, _, err := protocol.ParseHeader(headerBuf, s.MaxBodySize)
		if err != nil {
			return errors.Wrap(err, "session: protocol violation")
		}

		body := make([]byte, hdr.Length)
		if hdr.Length > 0 {
			if _, err := io.ReadFull(r, body); err != nil {
				return normalizeReadErr(err)
			}
		}

		if stop := s.dispatch(h, hdr, body); stop {
			return nil
		}
	}
}

// dispatch handles one fully-framed message and reports whether the read
// loop must stop (true only after EXIT).
func (s *Session) dispatch(h Handler, hdr protocol.Header, body []byte) (stop bool) {
	switch hdr.Kind {
	case protocol.FileStart:
		info, err := protocol.DecodeFileInfo(body)
		if err != nil {
			return false
		}
		s.file.start(info)
		h.OnFileStart(s, info)
	case protocol.FileData:
		if !s.file.account(len(body)) {
			return false
		}
		h.OnFileData(s, body)
	case protocol.FileEnd:
		if s.file.end() {
			h.OnFileEnd(s)
		}
	case protocol.Login:
		h.OnLogin(s, hdr.SenderName(), body)
	case protocol.Register:
		h.OnRegister(s, hdr.SenderName(), body)
	case protocol.Join:
		h.OnJoin(s, hdr.SenderName())
	case protocol.GroupMsg:
		h.OnGroupMsg(s, body)
	case protocol.Exit:
		s.file.reset()
		return true
	case protocol.Ping:
		h.OnPing(s)
	default:
		// Unknown kinds cannot reach here: ParseHeader already rejects
		// them as ErrInvalidFrame.
	}
	return false
}

// writePump drains the outbound queue to the connection in FIFO order,
// matching the per-recipient ordering the Broadcast Fabric (§4.G) requires.
func (s *Session) writePump() {
	for {
		s.outMu.Lock()
		for len(s.outQueue) == 0 && !s.closed {
			s.outCond.Wait()
		}
		if len(s.outQueue) == 0 && s.closed {
			s.outMu.Unlock()
			return
		}
		pending := s.outQueue
		s.outQueue = nil
		s.outMu.Unlock()

		for _, frame := range pending {
			if _, err := s.Conn.Write(frame); err != nil {
				s.Close(err)
				return
			}
		}
	}
}

func normalizeReadErr(err error) error {
	if err == io.EOF {
		return nil
	}
	return err
}
