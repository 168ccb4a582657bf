// Copyright (c) Dream Overflow. All rights reserved.
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE file.

// Package listener implements Listener: bind, listen, and poll for
// incoming sockets, handing each one to a configured acceptor (spec.md
// §4.5).
package listener

import (
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ErrInvalidParameter is returned for a bad public API call, such as an
// unsupported address family.
var ErrInvalidParameter = errors.New("listener: invalid parameter")

// State is one of the four listener lifecycle states.
type State int32

const (
	StateInactive State = iota
	StateStarting
	StateListening
	StateStopping
)

// Acceptor receives each socket the Listener accepts. A failing acceptor
// (returning a non-nil error) is logged and otherwise ignored: the
// Listener keeps polling.
type Acceptor interface {
	Accept(conn net.Conn) error
}

// AcceptorFunc adapts a plain function to the Acceptor interface.
type AcceptorFunc func(conn net.Conn) error

func (f AcceptorFunc) Accept(conn net.Conn) error { return f(conn) }

// Listener binds a TCP port and repeatedly polls for incoming connections,
// handing each to its Acceptor.
type Listener struct {
	af       string
	port     uint16
	acceptor Acceptor
	logger   logrus.FieldLogger

	ln    *net.TCPListener
	state int32 // State, atomic

	stopCh chan struct{}
	doneCh chan struct{}
}

// Option configures a Listener at construction time.
type Option func(*Listener)

// WithAddressFamily selects "tcp", "tcp4" or "tcp6". Defaults to "tcp".
func WithAddressFamily(af string) Option {
	return func(l *Listener) { l.af = af }
}

// WithLogger overrides the logger used for accept failures. Defaults to
// logrus's standard logger.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(l *Listener) { l.logger = logger }
}

// New returns a Listener bound to port once Start is called, handing each
// accepted socket to acceptor.
func New(port uint16, acceptor Acceptor, opts ...Option) *Listener {
	l := &Listener{
		af:       "tcp",
		port:     port,
		acceptor: acceptor,
		logger:   logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	atomic.StoreInt32(&l.state, int32(StateInactive))
	return l
}

// State reports the listener's current lifecycle state.
func (l *Listener) State() State {
	return State(atomic.LoadInt32(&l.state))
}

// Addr returns the bound socket address. Only meaningful once Start has
// returned without error; useful for reading back an OS-assigned ephemeral
// port (port 0 at construction).
func (l *Listener) Addr() net.Addr {
	if l.ln == nil {
		return nil
	}
	return l.ln.Addr()
}

// Start binds the configured port and begins polling for connections in a
// new goroutine.
func (l *Listener) Start() error {
	switch l.af {
	case "tcp", "tcp4", "tcp6":
	default:
		return errors.Wrapf(ErrInvalidParameter, "address family %q", l.af)
	}

	atomic.StoreInt32(&l.state, int32(StateStarting))
	addr, err := net.ResolveTCPAddr(l.af, net.JoinHostPort("", strconv.Itoa(int(l.port))))
	if err != nil {
		atomic.StoreInt32(&l.state, int32(StateInactive))
		return errors.Wrap(err, "listener: resolve")
	}
	ln, err := net.ListenTCP(l.af, addr)
	if err != nil {
		atomic.StoreInt32(&l.state, int32(StateInactive))
		return errors.Wrap(err, "listener: listen")
	}
	l.ln = ln
	l.stopCh = make(chan struct{})
	l.doneCh = make(chan struct{})
	atomic.StoreInt32(&l.state, int32(StateListening))
	go l.loop()
	return nil
}

// loop polls for incoming connections with a 10ms accept deadline, so a
// Stop request is observed promptly even with no traffic.
func (l *Listener) loop() {
	defer close(l.doneCh)
	for {
		select {
		case <-l.stopCh:
			return
		default:
		}

		l.ln.SetDeadline(time.Now().Add(10 * time.Millisecond))
		conn, err := l.ln.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			select {
			case <-l.stopCh:
				return
			default:
				l.logger.WithError(err).Warn("listener: accept failed")
				continue
			}
		}

		if err := l.acceptor.Accept(conn); err != nil {
			l.logger.WithError(err).Warn("listener: acceptor rejected connection")
		}
	}
}

// Stop halts polling and closes the bound socket.
func (l *Listener) Stop() {
	if l.State() != StateListening {
		return
	}
	atomic.StoreInt32(&l.state, int32(StateStopping))
	close(l.stopCh)
	if l.ln != nil {
		l.ln.Close()
	}
	<-l.doneCh
	atomic.StoreInt32(&l.state, int32(StateInactive))
}
