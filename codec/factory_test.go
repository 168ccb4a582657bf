package codec

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dream-overflow/o3dnet/buffer"
	"github.com/dream-overflow/o3dnet/message"
)

type echoMessage struct {
	message.Base
	payload []byte
}

func (e *echoMessage) Code() uint32 { return 5 }

func (e *echoMessage) ReadFrom(buf *buffer.FrameBuffer) (message.Message, error) {
	e.payload = make([]byte, e.MessageSize())
	if err := buf.ReadBytes(e.payload); err != nil {
		return e, err
	}
	return nil, nil
}

func (e *echoMessage) WriteTo(buf *buffer.FrameBuffer) (message.Message, error) {
	return nil, buf.WriteBytes(e.payload)
}

func (e *echoMessage) MakeInstance() message.Prototype {
	return &echoMessage{}
}

func TestFactoryRegisterAndLookup(t *testing.T) {
	f := NewFactory()
	require.NoError(t, f.Register(&echoMessage{}))
	proto, ok := f.Lookup(5)
	require.True(t, ok)
	require.EqualValues(t, 5, proto.Code())
}

func TestFactoryRegisterDuplicateFails(t *testing.T) {
	f := NewFactory()
	require.NoError(t, f.Register(&echoMessage{}))
	err := f.Register(&echoMessage{})
	require.ErrorIs(t, err, ErrFactory)
}

func TestFactoryDecodeUnregisteredCodeYieldsGenericDrain(t *testing.T) {
	f := NewFactory()
	buf := buffer.New(32)
	require.NoError(t, EncodeCode(buf, 999))
	require.NoError(t, buf.WriteUint16(3))
	require.NoError(t, buf.WriteBytes([]byte{1, 2, 3}))
	buf.Flip()

	msg, ok, err := f.Decode(buf)
	require.NoError(t, err)
	require.True(t, ok)
	drain, isDrain := msg.(*GenericDrain)
	require.True(t, isDrain)
	require.EqualValues(t, 3, drain.MessageSize())
}

func TestFactoryDecodeNeedsMoreBytesForHeader(t *testing.T) {
	f := NewFactory()
	require.NoError(t, f.Register(&echoMessage{}))
	buf := buffer.New(32)
	require.NoError(t, buf.WriteUint8(5)) // only the 1-byte code, no size yet
	buf.Flip()

	msg, ok, err := f.Decode(buf)
	require.NoError(t, err)
	require.False(t, ok)
	require.Nil(t, msg)
	require.Equal(t, 0, buf.Position(), "decode must not consume a partial header")
}

func TestFactoryDecodeRegisteredCode(t *testing.T) {
	f := NewFactory()
	require.NoError(t, f.Register(&echoMessage{}))
	buf := buffer.New(32)
	require.NoError(t, EncodeCode(buf, 5))
	require.NoError(t, buf.WriteUint16(4))
	require.NoError(t, buf.WriteBytes([]byte{9, 9, 9, 9}))
	buf.Flip()

	msg, ok, err := f.Decode(buf)
	require.NoError(t, err)
	require.True(t, ok)
	echo, isEcho := msg.(*echoMessage)
	require.True(t, isEcho)
	require.EqualValues(t, 4, echo.MessageSize())
}
