package codec

import (
	"github.com/pkg/errors"

	"github.com/dream-overflow/o3dnet/buffer"
	"github.com/dream-overflow/o3dnet/message"
)

// Factory is a sparse prototype registry indexed by message code, mirroring
// o3dnet's DefaultNetMessageFactory. A code with no registered prototype
// decodes to a GenericDrain instead of failing the connection.
type Factory struct {
	protos []message.Prototype
}

// NewFactory returns an empty factory. GenericDrain is handled directly by
// Decode and never needs registering.
func NewFactory() *Factory {
	return &Factory{}
}

// Register binds a prototype to its own Code(). Registering the same code
// twice is an error.
func (f *Factory) Register(proto message.Prototype) error {
	code := proto.Code()
	if code > 0x1FFFFF {
		return errors.Wrapf(ErrFactory, "code %d out of range", code)
	}
	if int(code) >= len(f.protos) {
		grown := make([]message.Prototype, code+1)
		copy(grown, f.protos)
		f.protos = grown
	}
	if f.protos[code] != nil {
		return errors.Wrapf(ErrFactory, "code %d already registered", code)
	}
	f.protos[code] = proto
	return nil
}

// Lookup returns the prototype registered for code, if any.
func (f *Factory) Lookup(code uint32) (message.Prototype, bool) {
	if int(code) >= len(f.protos) || f.protos[code] == nil {
		return nil, false
	}
	return f.protos[code], true
}

// newInstance builds a fresh message for a decoded code: a clone of the
// registered prototype, or a GenericDrain when the code is unrecognized.
func (f *Factory) newInstance(code uint32) message.Message {
	if proto, ok := f.Lookup(code); ok {
		return proto.MakeInstance()
	}
	return NewGenericDrain()
}

// Decode peeks at buf for a complete envelope header (the variable-width
// code plus the 16-bit declared size) and, only once the whole header is
// available, consumes the code and size bytes and returns a freshly built message
// with its declared size already set. It never consumes a partial header:
// callers should treat ok == false as "wait for more bytes", identical in
// spirit to the framer package's resumable header parse, but peek-based
// since FrameBuffer supports lookahead where a plain io.Reader would not.
func (f *Factory) Decode(buf *buffer.FrameBuffer) (msg message.Message, ok bool, err error) {
	if buf.Available() < 1 {
		return nil, false, nil
	}
	b0, err := buf.PeekUint8(0)
	if err != nil {
		return nil, false, err
	}
	n := codeLen(b0)
	if n == 0 {
		return nil, false, errors.Wrap(ErrFactory, "invalid code leading byte")
	}
	if buf.Available() < n+2 {
		return nil, false, nil
	}
	code, err := DecodeCode(buf)
	if err != nil {
		return nil, false, err
	}
	size, err := buf.ReadUint16()
	if err != nil {
		return nil, false, err
	}
	msg = f.newInstance(code)
	if sized, ok := msg.(message.Sized); ok {
		sized.SetMessageSize(size)
	}
	return msg, true, nil
}
