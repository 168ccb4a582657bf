package codec

import (
	"fmt"

	"github.com/dream-overflow/o3dnet/buffer"
	"github.com/dream-overflow/o3dnet/message"
)

// DrainCode is the reserved code bound to GenericDrain, conventionally
// 0xFFFF, matching o3dnet's GenericMessageIn.
const DrainCode = 0xFFFF

// GenericDrain discards an unrecognized payload by length rather than
// failing the connection: any code with no registered prototype decodes to
// one of these. It tracks how many declared bytes are still owed across
// possibly several partial reads.
type GenericDrain struct {
	message.Base
	rest int
}

// NewGenericDrain returns a fresh, unsized drain message.
func NewGenericDrain() *GenericDrain {
	return &GenericDrain{}
}

// Code always reports DrainCode, regardless of the wire code that produced
// this instance.
func (g *GenericDrain) Code() uint32 { return DrainCode }

// SetMessageSize also primes the drain counter.
func (g *GenericDrain) SetMessageSize(size uint16) {
	g.Base.SetMessageSize(size)
	g.rest = int(size)
}

// ReadFrom discards min(rest, available) bytes per call, returning itself
// until the whole declared payload has been drained.
func (g *GenericDrain) ReadFrom(buf *buffer.FrameBuffer) (message.Message, error) {
	if g.rest == 0 {
		return nil, nil
	}
	n := g.rest
	if avail := buf.Available(); avail < n {
		n = avail
	}
	if n > 0 {
		if err := buf.SetPosition(buf.Position() + n); err != nil {
			return g, err
		}
		g.rest -= n
	}
	if g.rest > 0 {
		return g, nil
	}
	return nil, nil
}

// WriteTo is never called: a GenericDrain is never sent, only received.
func (g *GenericDrain) WriteTo(buf *buffer.FrameBuffer) (message.Message, error) {
	return nil, nil
}

// Run is a no-op: an unrecognized message carries no behavior.
func (g *GenericDrain) Run(any) error { return nil }

func (g *GenericDrain) String() string {
	return fmt.Sprintf("GenericDrain{rest=%d}", g.rest)
}

// MakeInstance returns a fresh drain. Not normally registered, since Decode
// constructs drains directly for unrecognized codes, but kept so
// GenericDrain satisfies message.Prototype and can be registered under
// DrainCode for symmetry with o3dnet's own registration of GenericMessageIn.
func (g *GenericDrain) MakeInstance() message.Prototype {
	return NewGenericDrain()
}
