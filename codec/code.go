// Copyright (c) Dream Overflow. All rights reserved.
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE file.

// Package codec implements the wire envelope on top of a buffer.FrameBuffer:
// a variable-width message code, a prototype registry that turns a decoded
// code into a fresh message.Message, and the adapter that frames payloads
// with a 16-bit declared size (spec.md §4.2).
package codec

import (
	"github.com/pkg/errors"

	"github.com/dream-overflow/o3dnet/buffer"
)

// ErrFactory is returned for registry errors (duplicate registration or a
// code outside the representable range) and for a malformed code on the
// wire (an invalid leading or continuation byte).
var ErrFactory = errors.New("codec: factory error")

// codeLen returns the total number of bytes the variable-width code
// occupies given its leading byte, UTF-8-style: the number of leading one
// bits in the first byte (0 meaning a single plain byte) is the encoded
// width.
func codeLen(first byte) int {
	switch {
	case first&0x80 == 0x00:
		return 1
	case first&0xE0 == 0xC0:
		return 2
	case first&0xF0 == 0xE0:
		return 3
	case first&0xF8 == 0xF0:
		return 4
	default:
		return 0 // not a valid leading byte
	}
}

// EncodeCode writes code to buf using the variable-width scheme: 1 byte for
// codes below 0x80, 2 bytes below 0x800, 3 bytes below 0x8000, and 4 bytes
// for the remainder up to 0x1FFFFF.
func EncodeCode(buf *buffer.FrameBuffer, code uint32) error {
	switch {
	case code < 0x80:
		return buf.WriteUint8(uint8(code))
	case code < 0x800:
		if err := buf.WriteUint8(0xC0 | uint8(code>>6)); err != nil {
			return err
		}
		return buf.WriteUint8(0x80 | uint8(code&0x3F))
	case code < 0x8000:
		if err := buf.WriteUint8(0xE0 | uint8(code>>12)); err != nil {
			return err
		}
		if err := buf.WriteUint8(0x80 | uint8((code>>6)&0x3F)); err != nil {
			return err
		}
		return buf.WriteUint8(0x80 | uint8(code&0x3F))
	case code <= 0x1FFFFF:
		if err := buf.WriteUint8(0xF0 | uint8(code>>18)); err != nil {
			return err
		}
		if err := buf.WriteUint8(0x80 | uint8((code>>12)&0x3F)); err != nil {
			return err
		}
		if err := buf.WriteUint8(0x80 | uint8((code>>6)&0x3F)); err != nil {
			return err
		}
		return buf.WriteUint8(0x80 | uint8(code&0x3F))
	default:
		return errors.Wrap(ErrFactory, "code out of range")
	}
}

// DecodeCode reads a variable-width code from buf. Callers that need to
// tolerate a code split across TCP reads should use Factory.Decode instead,
// which peeks ahead before consuming anything.
func DecodeCode(buf *buffer.FrameBuffer) (uint32, error) {
	b0, err := buf.ReadUint8()
	if err != nil {
		return 0, err
	}
	n := codeLen(b0)
	switch n {
	case 1:
		return uint32(b0), nil
	case 0:
		return 0, errors.Wrap(ErrFactory, "invalid code leading byte")
	}
	code := uint32(b0) & (0xFF >> uint(n+1))
	for i := 1; i < n; i++ {
		bn, err := buf.ReadUint8()
		if err != nil {
			return 0, err
		}
		if bn&0xC0 != 0x80 {
			return 0, errors.Wrap(ErrFactory, "invalid code continuation byte")
		}
		code = code<<6 | uint32(bn&0x3F)
	}
	return code, nil
}
