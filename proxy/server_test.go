package proxy

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dream-overflow/o3dnet/buffer"
	"github.com/dream-overflow/o3dnet/message"
)

const echoCode = 50

// echoMessage is a minimal application message used only by these tests: it
// carries a single int32 payload and reports every received value on a
// channel baked in at registration time, so Run's side effect is
// observable without a shared mutable fixture.
type echoMessage struct {
	message.Base
	Payload int32
	results chan int32
}

func newEchoMessage(payload int32) *echoMessage {
	m := &echoMessage{Payload: payload}
	m.SetMessageSize(4)
	return m
}

func (m *echoMessage) Code() uint32 { return echoCode }

func (m *echoMessage) ReadFrom(buf *buffer.FrameBuffer) (message.Message, error) {
	v, err := buf.ReadInt32()
	if err != nil {
		return m, err
	}
	m.Payload = v
	return nil, nil
}

func (m *echoMessage) WriteTo(buf *buffer.FrameBuffer) (message.Message, error) {
	return nil, buf.WriteInt32(m.Payload)
}

func (m *echoMessage) Run(any) error {
	if m.results != nil {
		m.results <- m.Payload
	}
	return nil
}

func (m *echoMessage) MakeInstance() message.Prototype {
	return &echoMessage{results: m.results}
}

func dialClient(t *testing.T, addr net.Addr, version int32, cert []byte, results chan int32) *Client {
	t.Helper()
	client := NewClient(WithClientVersion(version), WithClientCertificate(cert))
	require.NoError(t, client.Register(&echoMessage{results: results}))
	tcpAddr := addr.(*net.TCPAddr)
	client.Dial("127.0.0.1", uint16(tcpAddr.Port))
	return client
}

func waitForSessions(t *testing.T, server *Server, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		server.mu.Lock()
		defer server.mu.Unlock()
		if len(server.sessions) != n {
			return false
		}
		for _, s := range server.sessions {
			if !s.IsValid() {
				return false
			}
		}
		return true
	}, 2*time.Second, 5*time.Millisecond)
}

func TestServerMulticastReachesAllValidatedSessions(t *testing.T) {
	cert := []byte("shared-secret")
	server := New(0, WithVersion(9), WithCertificate(cert), WithPoolSize(2), WithTickDelay(2*time.Millisecond))
	require.NoError(t, server.Start("tcp4"))
	defer server.Stop()

	const n = 3
	results := make([]chan int32, n)
	clients := make([]*Client, n)
	for i := 0; i < n; i++ {
		results[i] = make(chan int32, 1)
		clients[i] = dialClient(t, server.Addr(), 9, cert, results[i])
	}
	defer func() {
		for _, c := range clients {
			c.Disconnect()
		}
	}()

	waitForSessions(t, server, n)

	msg := newEchoMessage(42)
	msg.SetForMulticast(uint32(n))
	server.Multicast(msg)

	for i := 0; i < n; i++ {
		select {
		case v := <-results[i]:
			require.EqualValues(t, 42, v)
		case <-time.After(2 * time.Second):
			t.Fatalf("client %d never received the multicast message", i)
		}
	}
}

func TestServerSendReachesOnlyTargetSession(t *testing.T) {
	cert := []byte("shared-secret")
	server := New(0, WithVersion(1), WithCertificate(cert), WithPoolSize(2), WithTickDelay(2*time.Millisecond))
	require.NoError(t, server.Start("tcp4"))
	defer server.Stop()

	resultsA := make(chan int32, 1)
	resultsB := make(chan int32, 1)
	clientA := dialClient(t, server.Addr(), 1, cert, resultsA)
	clientB := dialClient(t, server.Addr(), 1, cert, resultsB)
	defer clientA.Disconnect()
	defer clientB.Disconnect()

	waitForSessions(t, server, 2)

	server.mu.Lock()
	var targetID int32 = -1
	for id := range server.sessions {
		targetID = id
		break
	}
	server.mu.Unlock()
	require.NotEqual(t, int32(-1), targetID)

	require.NoError(t, server.Send(targetID, newEchoMessage(7)))

	select {
	case v := <-resultsA:
		require.EqualValues(t, 7, v)
	case v := <-resultsB:
		require.EqualValues(t, 7, v)
	case <-time.After(2 * time.Second):
		t.Fatal("target session never received the unicast message")
	}

	select {
	case <-resultsA:
		t.Fatal("unexpected message on the non-target client")
	case <-resultsB:
		t.Fatal("unexpected message on the non-target client")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestServerSendUnknownSessionFails(t *testing.T) {
	server := New(0)
	err := server.Send(999, newEchoMessage(1))
	require.Error(t, err)
}

func TestServerTerminateSessionRemovesIt(t *testing.T) {
	cert := []byte("secret")
	server := New(0, WithVersion(1), WithCertificate(cert), WithPoolSize(1), WithTickDelay(2*time.Millisecond))
	require.NoError(t, server.Start("tcp4"))
	defer server.Stop()

	results := make(chan int32, 1)
	client := dialClient(t, server.Addr(), 1, cert, results)
	defer client.Disconnect()

	waitForSessions(t, server, 1)

	server.mu.Lock()
	var id int32
	for sid := range server.sessions {
		id = sid
	}
	server.mu.Unlock()

	server.TerminateSession(id)

	require.Eventually(t, func() bool {
		return server.GetNumSessions() == 0
	}, 2*time.Second, 5*time.Millisecond)
}
