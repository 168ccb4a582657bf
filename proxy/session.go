package proxy

import (
	"net"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/dream-overflow/o3dnet/message"
	"github.com/dream-overflow/o3dnet/netconn"
)

// Session wraps a server-accepted Connection with a stable id, a
// server back-reference, and the two flags driving its authentication
// lifecycle (spec.md §3's Session type).
type Session struct {
	*netconn.Connection
	server *Server
	id     int32

	valid     int32 // bool, atomic
	cancelled int32 // bool, atomic

	challenge [ChallengeSize]byte
}

func newSession(server *Server, conn net.Conn) *Session {
	s := &Session{server: server}

	random := uuid.New()
	copy(s.challenge[:], random[:])

	s.Connection = netconn.NewSession(conn,
		netconn.WithFactory(server.factory),
		netconn.WithAdapter(server.adapter),
		netconn.WithLogger(server.logger),
	)

	// The challenge queues immediately; handle_write sends it as soon as
	// the byte-order handshake brings the Connection to RUNNING.
	s.Connection.Push(NewChallengeOut(server.Version(), s.challenge))
	return s
}

// ID returns the session's id, stable for its lifetime.
func (s *Session) ID() int32 { return s.id }

// SetValid marks the session authenticated, called by CertificateIn.Run
// on a matching certificate.
func (s *Session) SetValid() { atomic.StoreInt32(&s.valid, 1) }

// IsValid reports whether the session has completed authentication.
func (s *Session) IsValid() bool { return atomic.LoadInt32(&s.valid) == 1 }

// Cancel marks the session for removal on its next tick, called by
// CertificateIn.Run on a mismatched certificate or by Server.TerminateSession.
func (s *Session) Cancel() { atomic.StoreInt32(&s.cancelled, 1) }

// IsCancelled reports whether the session has been marked for removal.
func (s *Session) IsCancelled() bool { return atomic.LoadInt32(&s.cancelled) == 1 }

// Challenge returns the 16-byte challenge generated for this session.
func (s *Session) Challenge() [ChallengeSize]byte { return s.challenge }

// tick is the function the worker pool invokes at the server's configured
// cadence, implementing spec.md §4.7's session tick function.
func (s *Session) tick() int {
	if s.IsCancelled() {
		s.server.removeSession(s.id)
		return -1
	}

	s.Connection.Tick()
	if !s.Connection.IsReady() {
		s.server.removeSession(s.id)
		return -1
	}

	msg, ok := s.Connection.Pop()
	if !ok {
		return 0
	}

	if err := msg.Run(s); err != nil {
		if errors.Is(err, message.ErrRunMessage) {
			s.server.logger.WithError(err).WithField("session_id", s.id).Warn("session removed: message rejected")
			s.server.removeSession(s.id)
			return -1
		}
		s.server.logger.WithError(err).WithField("session_id", s.id).Warn("message run failed")
		return 0
	}
	msg.Consume()
	return 0
}
