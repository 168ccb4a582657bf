package codec

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/dream-overflow/o3dnet/buffer"
	"github.com/dream-overflow/o3dnet/message"
)

// Adapter frames a message's payload on the wire. The code and declared
// size are handled by Factory.Decode/EncodeCode; an Adapter's job is the
// payload itself: wait for it to be fully buffered on read, and check for
// room before writing it.
type Adapter interface {
	// ReadFrom resumes decoding msg's payload. msg must already have its
	// declared size set (Factory.Decode does this for a freshly built
	// message). Returns msg itself to mean "not enough bytes yet", nil to
	// mean "fully decoded".
	ReadFrom(buf *buffer.FrameBuffer, msg message.Message) (message.Message, error)

	// WriteTo encodes msg's code, declared size and payload into buf in one
	// shot if there is room, or returns msg unchanged to mean "try again
	// once the buffer has drained".
	WriteTo(buf *buffer.FrameBuffer, msg message.Message) (message.Message, error)
}

// DefaultAdapter is the envelope adapter described by spec.md §4.2.
type DefaultAdapter struct {
	logger logrus.FieldLogger
}

// NewDefaultAdapter returns an adapter logging through logger, or through
// logrus's standard logger if logger is nil.
func NewDefaultAdapter(logger logrus.FieldLogger) *DefaultAdapter {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &DefaultAdapter{logger: logger}
}

// ReadFrom checks that the declared payload is fully buffered before
// delegating to msg.ReadFrom, so a message's own ReadFrom is only ever
// invoked with its whole payload (or a stable prefix of it) available.
func (a *DefaultAdapter) ReadFrom(buf *buffer.FrameBuffer, msg message.Message) (message.Message, error) {
	sized, ok := msg.(message.Sized)
	if !ok {
		return nil, errors.New("codec: message does not declare a size")
	}
	if buf.Available() < int(sized.MessageSize()) {
		return msg, nil
	}
	return msg.ReadFrom(buf)
}

// WriteTo requires free >= size+6 (worst-case 4-byte code + 2-byte size)
// before committing to the write, so a partially-written frame never lands
// on the wire.
func (a *DefaultAdapter) WriteTo(buf *buffer.FrameBuffer, msg message.Message) (message.Message, error) {
	sized, ok := msg.(message.Sized)
	var size uint16
	if ok {
		size = sized.MessageSize()
	}
	if buf.Free() < int(size)+6 {
		return msg, nil
	}
	if err := EncodeCode(buf, msg.Code()); err != nil {
		return nil, err
	}
	if err := buf.WriteUint16(size); err != nil {
		return nil, err
	}
	start := buf.Limit()
	pending, err := msg.WriteTo(buf)
	if err != nil {
		return nil, err
	}
	if written := buf.Limit() - start; uint16(written) != size {
		a.logger.WithFields(logrus.Fields{
			"code":         msg.Code(),
			"declared":     size,
			"written":      written,
			"dump":         msg.String(),
		}).Warn("message wrote a different number of bytes than declared")
	}
	return pending, nil
}
