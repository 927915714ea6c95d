// Package server is the composition root: it owns the listener, the
// Membership Registry, the Broadcast Fabric, the Auth Adapter worker pool,
// and drives the Listener/Acceptor (spec.md §4.H) and Connection Session
// Logic (§4.E) together. It plays the role the teacher's server/main.go and
// the original ReactorServer play, minus the reactor itself (see the
// goroutine substitution note in SPEC_FULL.md §1).
package server

import (
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/chatcore/reactorchat/internal/auth"
	"github.com/chatcore/reactorchat/internal/broadcast"
	"github.com/chatcore/reactorchat/internal/protocol"
	"github.com/chatcore/reactorchat/internal/registry"
	"github.com/chatcore/reactorchat/internal/session"
	"github.com/chatcore/reactorchat/internal/workerpool"
)

// Config supplies everything the composition root needs to construct a
// Server. Threads is the already-resolved Auth Adapter worker pool size;
// the CLI layer resolves "0 means 2x hardware parallelism, minimum 4"
// (spec.md §6) before reaching here, so Server uses it directly rather than
// rescaling it again.
type Config struct {
	ListenAddr  string
	MaxBodySize uint64
	Threads     int
	AuthAdapter auth.Adapter
	AuthTimeout time.Duration
	Logger      *logrus.Logger
}

// Server is the running chat core for one listen address.
type Server struct {
	cfg      Config
	reg      *registry.Registry
	fab      *broadcast.Fabric
	pool     *workerpool.Pool
	log      *logrus.Logger
	ln       net.Listener
	wg       sync.WaitGroup
	stopCh   chan struct{}
	stopOnce sync.Once
}

// New constructs a Server from cfg. It does not start listening; call Run.
func New(cfg Config) *Server {
	if cfg.MaxBodySize == 0 {
		cfg.MaxBodySize = protocol.DefaultMaxBodySize
	}
	if cfg.AuthAdapter == nil {
		cfg.AuthAdapter = auth.NopAdapter{}
	}
	if cfg.AuthTimeout == 0 {
		cfg.AuthTimeout = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}

	reg := registry.New()
	return &Server{
		cfg:    cfg,
		reg:    reg,
		fab:    broadcast.New(reg),
		pool:   workerpool.New(int64(cfg.Threads)),
		log:    cfg.Logger,
		stopCh: make(chan struct{}),
	}
}

// Run binds the listen address and accepts connections until Shutdown is
// called. It blocks until the accept loop has exited and every session has
// been torn down, matching spec.md §5's shutdown ordering (stop accepting,
// close session sockets, join workers).
func (s *Server) Run() error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return errors.Wrap(err, "server: listen")
	}
	s.ln = ln
	s.log.WithField("addr", s.cfg.ListenAddr).Info("chatserver listening")

	s.acceptLoop()
	s.wg.Wait()
	s.pool.Shutdown()
	return nil
}

// acceptLoop implements the Listener/Acceptor of spec.md §4.H: loop
// accepting until a fatal error (or Shutdown closes the listener), logging
// and continuing past transient per-connection accept errors.
func (s *Server) acceptLoop() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			select {
			case <-s.stopCh:
				return
			default:
			}
			if ne, ok := err.(net.Error); ok && ne.Temporary() {
				s.log.WithError(err).Warn("transient accept error")
				continue
			}
			s.log.WithError(err).Info("accept loop exiting")
			return
		}

		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

// handleConn registers a newly-accepted connection as a Session and drives
// it to completion.
func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()

	sess := session.New(conn, s.cfg.MaxBodySize)
	s.reg.Add(sess)
	s.log.WithFields(logrus.Fields{
		"remote": sess.RemoteAddr,
		"correl": sess.CorrelID,
	}).Debug("connection accepted")

	sess.Serve(s)
}

// Shutdown stops the accept loop and closes every live session's socket,
// which unblocks each session's read pump with a peer-closed-style error
// and lets OnExit drive registry cleanup and EXIT broadcasts.
func (s *Server) Shutdown() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		if s.ln != nil {
			s.ln.Close()
		}
		for _, conn := range s.reg.AllConns() {
			conn.Close()
		}
	})
}
