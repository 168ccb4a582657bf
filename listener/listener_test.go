package listener

import (
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestListenerAcceptsConnections(t *testing.T) {
	var accepted int32
	done := make(chan struct{}, 1)
	l := New(0, AcceptorFunc(func(conn net.Conn) error {
		atomic.AddInt32(&accepted, 1)
		conn.Close()
		select {
		case done <- struct{}{}:
		default:
		}
		return nil
	}))

	// port 0 picks an ephemeral port; Start binds it.
	require.NoError(t, l.Start())
	defer l.Stop()
	require.Equal(t, StateListening, l.State())

	addr := l.ln.Addr().String()
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	defer conn.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("acceptor never invoked")
	}
	require.EqualValues(t, 1, atomic.LoadInt32(&accepted))
}

func TestListenerInvalidAddressFamily(t *testing.T) {
	l := New(0, AcceptorFunc(func(conn net.Conn) error { return nil }), WithAddressFamily("udp"))
	err := l.Start()
	require.ErrorIs(t, err, ErrInvalidParameter)
}

func TestListenerStopIsIdempotentAfterNeverStarting(t *testing.T) {
	l := New(0, AcceptorFunc(func(conn net.Conn) error { return nil }))
	l.Stop()
	require.Equal(t, StateInactive, l.State())
}
