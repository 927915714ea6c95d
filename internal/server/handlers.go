package server

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/chatcore/reactorchat/internal/protocol"
	"github.com/chatcore/reactorchat/internal/session"
)

// serverSender is the sender name the core stamps on its own frames
// (INITIAL, PING_OK, _OK/_FAIL replies), matching spec.md §3's
// sender="SERVER" contract. A synthetic EXIT carries the departing user's
// name instead.
const serverSender = "SERVER"

// OnLogin implements session.Handler, dispatching the Auth Adapter call
// through the bounded worker pool (spec.md §4.D narrowed to this path).
// senderName is the frame header's sender field, per spec.md §4.E ("invoke
// Auth Adapter with sender name and body bytes") — LOGIN/REGISTER need no
// prior JOIN.
func (s *Server) OnLogin(sess *session.Session, senderName string, body []byte) {
	s.runAuth(sess, senderName, body, s.cfg.AuthAdapter.Login, protocol.LoginOK, protocol.LoginFail)
}

// OnRegister implements session.Handler.
func (s *Server) OnRegister(sess *session.Session, senderName string, body []byte) {
	s.runAuth(sess, senderName, body, s.cfg.AuthAdapter.Register, protocol.RegisterOK, protocol.RegisterFail)
}

type authCall func(ctx context.Context, name string, credential []byte) (bool, string)

func (s *Server) runAuth(sess *session.Session, name string, body []byte, call authCall, okKind, failKind protocol.Kind) {
	err := s.pool.Submit(context.Background(), func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, s.cfg.AuthTimeout)
		defer cancel()
		ok, msg := call(ctx, name, body)
		if ok {
			s.unicastFrame(sess, okKind, serverSender, nil)
			return
		}
		s.log.WithFields(logrus.Fields{"name": name}).Info("auth call failed: " + msg)
		s.unicastFrame(sess, failKind, serverSender, []byte(msg))
	})
	if err != nil {
		s.log.WithError(err).Warn("auth adapter unavailable")
		s.unicastReply(sess, failKind, "auth adapter unavailable: "+err.Error())
	}
}

// OnJoin implements the JOIN protocol of spec.md §4.F.
func (s *Server) OnJoin(sess *session.Session, proposedName string) {
	if !s.reg.TryBindName(sess, proposedName) {
		s.log.WithField("name", proposedName).Info("join collision, disconnecting")
		sess.Close(nil)
		return
	}

	others := s.reg.OnlineNamesExcluding(sess.Conn)
	if len(others) > 0 {
		initial, err := protocol.Encode(protocol.Initial, serverSender, []byte(strings.Join(others, ",")), s.cfg.MaxBodySize)
		if err == nil {
			s.fab.Unicast(sess, initial)
		}
	}

	joinFrame, err := protocol.Encode(protocol.Join, proposedName, nil, s.cfg.MaxBodySize)
	if err != nil {
		return
	}
	s.fab.Broadcast(sess.Conn, joinFrame)
}

// OnGroupMsg implements spec.md §4.E's GROUP_MSG dispatch: rejected for
// anonymous sessions, otherwise rewrapped with the server-trusted sender
// name and broadcast.
func (s *Server) OnGroupMsg(sess *session.Session, body []byte) {
	name := sess.Name()
	if name == "" {
		s.log.Warn("GROUP_MSG from anonymous session dropped")
		return
	}
	frame, err := protocol.Encode(protocol.GroupMsg, name, body, s.cfg.MaxBodySize)
	if err != nil {
		s.log.WithError(err).Warn("failed to encode outbound GROUP_MSG")
		return
	}
	s.fab.Broadcast(sess.Conn, frame)
}

// OnPing implements spec.md §4.E's PING dispatch.
func (s *Server) OnPing(sess *session.Session) {
	s.unicastFrame(sess, protocol.PingOK, serverSender, nil)
}

// OnFileStart relays a FILE_START to every peer with the server-trusted
// sender, as spec.md §4.E requires.
func (s *Server) OnFileStart(sess *session.Session, info protocol.FileInfo) {
	name := sess.Name()
	if name == "" {
		s.log.Warn("FILE_START from anonymous session dropped")
		return
	}
	frame, err := protocol.EncodeFileStart(name, info, s.cfg.MaxBodySize)
	if err != nil {
		s.log.WithError(err).Warn("failed to encode outbound FILE_START")
		return
	}
	s.fab.Broadcast(sess.Conn, frame)
}

// OnFileData relays one chunk, never buffering the whole transfer (spec.md
// §4.E: "the server relays chunk-by-chunk").
func (s *Server) OnFileData(sess *session.Session, chunk []byte) {
	name := sess.Name()
	if name == "" {
		return
	}
	frame, err := protocol.EncodeFileData(name, chunk, s.cfg.MaxBodySize)
	if err != nil {
		s.log.WithError(err).Warn("FILE_DATA chunk exceeds the configured maximum, dropping")
		return
	}
	s.fab.Broadcast(sess.Conn, frame)
}

// OnFileEnd relays FILE_END. session.Session already verified a transfer
// was open before calling this (dispatch only fires OnFileEnd when
// fileSubstate.end reports wasReceiving).
func (s *Server) OnFileEnd(sess *session.Session) {
	name := sess.Name()
	if name == "" {
		return
	}
	frame, err := protocol.EncodeFileEnd(name, s.cfg.MaxBodySize)
	if err != nil {
		return
	}
	s.fab.Broadcast(sess.Conn, frame)
}

// OnExit runs the handle_error/cleanup sequence of spec.md §4.E's
// Termination clause for every way a session ends: explicit EXIT, EOF,
// socket-fatal error, or server shutdown. Registry removal happens-before
// the EXIT broadcast, satisfying spec.md §5's ordering guarantee.
func (s *Server) OnExit(sess *session.Session, err error) {
	removed := s.reg.Remove(sess.Conn)
	if removed == nil {
		return
	}

	name := removed.Name()
	if err != nil {
		s.log.WithFields(logrus.Fields{"name": name, "remote": removed.RemoteAddr}).WithError(err).Info("session terminated")
	} else {
		s.log.WithFields(logrus.Fields{"name": name, "remote": removed.RemoteAddr}).Info("session closed")
	}

	if name == "" {
		return
	}
	exitFrame, encErr := protocol.Encode(protocol.Exit, name, nil, s.cfg.MaxBodySize)
	if encErr != nil {
		return
	}
	s.fab.Broadcast(sess.Conn, exitFrame)
}

func (s *Server) unicastFrame(sess *session.Session, kind protocol.Kind, sender string, body []byte) {
	frame, err := protocol.Encode(kind, sender, body, s.cfg.MaxBodySize)
	if err != nil {
		s.log.WithError(err).Warn("failed to encode outbound frame")
		return
	}
	s.fab.Unicast(sess, frame)
}

func (s *Server) unicastReply(sess *session.Session, kind protocol.Kind, message string) {
	s.unicastFrame(sess, kind, serverSender, []byte(message))
}
