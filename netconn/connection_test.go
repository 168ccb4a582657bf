package netconn

import (
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dream-overflow/o3dnet/buffer"
	"github.com/dream-overflow/o3dnet/codec"
	"github.com/dream-overflow/o3dnet/internal/byteorder"
	"github.com/dream-overflow/o3dnet/message"
)

const pingCode = 0x10

type pingMessage struct {
	message.Base
	value int32
}

func (p *pingMessage) Code() uint32 { return pingCode }

func (p *pingMessage) ReadFrom(buf *buffer.FrameBuffer) (message.Message, error) {
	v, err := buf.ReadInt32()
	if err != nil {
		return p, err
	}
	p.value = v
	return nil, nil
}

func (p *pingMessage) WriteTo(buf *buffer.FrameBuffer) (message.Message, error) {
	return nil, buf.WriteInt32(p.value)
}

func (p *pingMessage) MakeInstance() message.Prototype {
	return &pingMessage{}
}

func newPipeConnections(t *testing.T) (*Connection, *Connection) {
	t.Helper()
	serverConn, clientConn := net.Pipe()

	serverFactory := codec.NewFactory()
	require.NoError(t, serverFactory.Register(&pingMessage{}))
	clientFactory := codec.NewFactory()
	require.NoError(t, clientFactory.Register(&pingMessage{}))

	adapter := codec.NewDefaultAdapter(nil)

	session := newConnection(roleServer, WithFactory(serverFactory), WithAdapter(adapter))
	session.conn = serverConn

	client := newConnection(roleClient, WithFactory(clientFactory), WithAdapter(adapter))
	client.conn = clientConn

	return session, client
}

func waitReady(t *testing.T, c *Connection) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.IsReady() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("connection never became ready")
}

func TestConnectionExecuteLoopback(t *testing.T) {
	c := newConnection(roleClient, WithFactory(codec.NewFactory()))
	msg := &pingMessage{value: 42}
	require.True(t, c.Execute(msg))
	got, ok := c.Pop()
	require.True(t, ok)
	require.Equal(t, msg, got)
}

func TestHandshakeSameNativeOrderKeepsOrder(t *testing.T) {
	session, client := newPipeConnections(t)
	errCh := make(chan error, 1)
	go func() { errCh <- session.handshake() }()
	require.NoError(t, client.handshake())
	require.NoError(t, <-errCh)
	require.Equal(t, byteorder.Native(), client.readBuf.ByteOrder())
	require.Equal(t, byteorder.Native(), client.writeBuf.ByteOrder())
}

func TestHandshakeFlipsWhenDecodedValueIsNotOne(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	client := newConnection(roleClient, WithFactory(codec.NewFactory()))
	client.conn = clientConn

	native := byteorder.Native()
	opposite := binary.ByteOrder(binary.BigEndian)
	if native == binary.BigEndian {
		opposite = binary.LittleEndian
	}

	go func() {
		header := make([]byte, 4)
		opposite.PutUint32(header, 1)
		serverConn.Write(header)
	}()

	require.NoError(t, client.handshake())
	require.Equal(t, opposite, client.readBuf.ByteOrder())
	require.Equal(t, opposite, client.writeBuf.ByteOrder())
}

func TestConnectionPingPong(t *testing.T) {
	session, client := newPipeConnections(t)
	session.Start()
	client.Start()
	defer session.Shutdown()
	defer client.Shutdown()

	waitReady(t, session)
	waitReady(t, client)

	require.True(t, client.Push(&pingMessage{value: 1}))

	deadline := time.Now().Add(2 * time.Second)
	var received *pingMessage
	for time.Now().Before(deadline) {
		if msg, ok := session.Pop(); ok {
			received = msg.(*pingMessage)
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.NotNil(t, received)
	require.EqualValues(t, 1, received.value)

	require.True(t, session.Push(&pingMessage{value: 2}))

	deadline = time.Now().Add(2 * time.Second)
	received = nil
	for time.Now().Before(deadline) {
		if msg, ok := client.Pop(); ok {
			received = msg.(*pingMessage)
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.NotNil(t, received)
	require.EqualValues(t, 2, received.value)
}
