package proxy

import (
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/dream-overflow/o3dnet/codec"
	"github.com/dream-overflow/o3dnet/listener"
	"github.com/dream-overflow/o3dnet/message"
	"github.com/dream-overflow/o3dnet/workerpool"
)

// ErrInvalidParameter is returned for a bad public API call, such as an
// unknown session id.
var ErrInvalidParameter = errors.New("proxy: invalid parameter")

// DefaultPoolSize is the worker pool size used when no WithPoolSize option
// is given.
const DefaultPoolSize = 4

// Option configures a Server at construction time.
type Option func(*Server)

// WithPoolSize sets the fixed worker pool size driving session ticks.
func WithPoolSize(n int) Option { return func(s *Server) { s.poolSize = n } }

// WithTickDelay sets the periodic tick delay applied to every session.
func WithTickDelay(d time.Duration) Option { return func(s *Server) { s.tickDelay = d } }

// WithVersion sets the protocol version advertised in ChallengeOut.
func WithVersion(v int32) Option { return func(s *Server) { s.version = v } }

// WithCertificate sets the opaque certificate bytes sessions must match.
func WithCertificate(cert []byte) Option { return func(s *Server) { s.certificate = cert } }

// WithLogger overrides the server's logger. Defaults to logrus's standard
// logger.
func WithLogger(l logrus.FieldLogger) Option { return func(s *Server) { s.logger = l } }

// WithFactory overrides the server's message factory. The built-in
// CertificateIn handler is still registered under AuthCode after options
// run, so a caller supplying their own factory must not already use that
// code.
func WithFactory(f *codec.Factory) Option { return func(s *Server) { s.factory = f } }

// WithAdapter overrides the server's read/write adapter.
func WithAdapter(a codec.Adapter) Option { return func(s *Server) { s.adapter = a } }

// Server is the authenticated, multi-session proxy server of spec.md
// §4.7: a session registry keyed by a smallest-free-integer id, a worker
// pool driving session ticks, and a challenge/certificate auth handshake
// run on every freshly-accepted connection.
type Server struct {
	mu       sync.Mutex
	sessions map[int32]*Session
	ids      *idAllocator

	version     int32
	certificate []byte

	poolSize  int
	tickDelay time.Duration

	factory *codec.Factory
	adapter codec.Adapter
	logger  logrus.FieldLogger

	port uint16
	pool *workerpool.Pool
	ln   *listener.Listener
}

// New returns a Server bound to port once Start is called.
func New(port uint16, opts ...Option) *Server {
	s := &Server{
		sessions:  make(map[int32]*Session),
		ids:       newIDAllocator(),
		poolSize:  DefaultPoolSize,
		tickDelay: workerpool.DefaultTickDelay,
		factory:   codec.NewFactory(),
		adapter:   codec.NewDefaultAdapter(nil),
		logger:    logrus.StandardLogger(),
		port:      port,
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.factory.Register(&CertificateIn{}); err != nil {
		s.logger.WithError(err).Warn("proxy: failed to register built-in certificate handler")
	}
	return s
}

// Register adds an application message prototype to the server's factory,
// in addition to the built-in auth handler.
func (s *Server) Register(proto message.Prototype) error {
	return s.factory.Register(proto)
}

// Start lazily constructs the worker pool and listener and begins
// accepting connections on af ("tcp", "tcp4" or "tcp6").
func (s *Server) Start(af string) error {
	s.mu.Lock()
	if s.pool == nil {
		s.pool = workerpool.New(s.poolSize, workerpool.WithLogger(s.logger))
	}
	s.mu.Unlock()

	s.ln = listener.New(s.port, listener.AcceptorFunc(s.accept),
		listener.WithAddressFamily(af), listener.WithLogger(s.logger))
	return s.ln.Start()
}

// Addr returns the listener's bound address, including an OS-assigned
// ephemeral port when the Server was constructed with port 0. Only
// meaningful after a successful Start.
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Stop stops accepting connections, then cancels every session's scheduled
// tick. A session tick already running when Stop is called is not waited
// for.
func (s *Server) Stop() {
	if s.ln != nil {
		s.ln.Stop()
	}
	s.mu.Lock()
	pool := s.pool
	s.mu.Unlock()
	if pool != nil {
		pool.Stop()
	}
}

func (s *Server) accept(conn net.Conn) error {
	session := newSession(s, conn)
	s.Schedule(session)
	return nil
}

// Schedule allocates an id for session, registers it in the worker pool at
// the server's configured tick cadence, and inserts it into the session
// map.
func (s *Server) Schedule(session *Session) int32 {
	id := s.ids.acquire()
	session.id = id

	s.mu.Lock()
	s.sessions[id] = session
	pool := s.pool
	s.mu.Unlock()

	pool.Schedule(0, s.tickDelay, session.tick)
	return id
}

func (s *Server) removeSession(id int32) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
	s.ids.release(id)
}

// Send pushes msg to a single session's outgoing queue. The registry lock
// is released before the push to avoid lock inversion with the session's
// own queue mutex.
func (s *Server) Send(id int32, msg message.Message) error {
	s.mu.Lock()
	session, ok := s.sessions[id]
	s.mu.Unlock()
	if !ok {
		return errors.Wrapf(ErrInvalidParameter, "unknown session %d", id)
	}
	session.Push(msg)
	return nil
}

// Multicast pushes msg to every session under the registry lock. The
// caller must have set msg's consume counter to the current session count
// first, so the message releases exactly once after the last session
// frames it.
func (s *Server) Multicast(msg message.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, session := range s.sessions {
		session.Push(msg)
	}
}

// GetNumSessions reports the current session count.
func (s *Server) GetNumSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// SetVersion sets the protocol version advertised to new sessions.
func (s *Server) SetVersion(v int32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.version = v
}

// Version returns the configured protocol version.
func (s *Server) Version() int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// SetCertificate sets the opaque certificate bytes sessions must match.
func (s *Server) SetCertificate(cert []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.certificate = cert
}

// Certificate returns the configured certificate bytes.
func (s *Server) Certificate() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.certificate
}

// TerminateSession marks a session's cancel flag; the scheduler observes
// and removes it on its next tick.
func (s *Server) TerminateSession(id int32) {
	s.mu.Lock()
	session, ok := s.sessions[id]
	s.mu.Unlock()
	if ok {
		session.Cancel()
	}
}
