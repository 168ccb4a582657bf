// Copyright (c) Dream Overflow. All rights reserved.
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE file.

// Package buffer implements FrameBuffer, a fixed-capacity byte arena with
// independent read and write cursors, byte-order-aware scalar I/O, and the
// compact/flip discipline the connection and codec packages rely on to
// reassemble frames across TCP reads.
//
// A FrameBuffer is not safe for concurrent use; each Connection owns one
// read buffer and one write buffer, both touched only by its I/O goroutine.
package buffer

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/dream-overflow/o3dnet/internal/byteorder"
)

// ErrOverflow is returned for both write overflow (requested bytes exceed
// free space) and read underflow (requested bytes exceed available data).
// The design uses a single overflow error kind for both directions, per
// spec.md ("Overflow on write ... fails with BufferOverflow. Underflow on
// read ... fails with BufferOverflow (same kind...")).
var ErrOverflow = errors.New("buffer: overflow")

// FrameBuffer is a fixed-capacity byte array with a read cursor (position)
// and a write cursor (limit), matching o3dnet's ArrayNetBuffer.
type FrameBuffer struct {
	data  []byte
	write int // aka "limit"
	read  int // aka "position"
	order binary.ByteOrder
}

// Option configures a new FrameBuffer.
type Option func(*FrameBuffer)

// WithByteOrder sets the initial byte order. Default is the machine's
// native order, matching ArrayNetBuffer's constructor.
func WithByteOrder(order binary.ByteOrder) Option {
	return func(b *FrameBuffer) { b.order = order }
}

// New allocates a FrameBuffer with the given capacity.
func New(capacity int, opts ...Option) *FrameBuffer {
	b := &FrameBuffer{
		data:  make([]byte, capacity),
		order: byteorder.Native(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Capacity returns the total number of bytes the buffer can hold.
func (b *FrameBuffer) Capacity() int { return len(b.data) }

// Available returns the number of unread bytes currently in the buffer.
func (b *FrameBuffer) Available() int { return b.write - b.read }

// Free reports the buffer's logical free space, as if compact() had already
// run. Scalar writes, however, are only ever appended to the physical tail
// (capacity-write); call Compact before a write if Free() overstates what a
// single write can actually take.
func (b *FrameBuffer) Free() int { return len(b.data) - b.write + b.read }

// tailFree is the physically contiguous space available to a write without
// first compacting the buffer.
func (b *FrameBuffer) tailFree() int { return len(b.data) - b.write }

// Position returns the read cursor.
func (b *FrameBuffer) Position() int { return b.read }

// SetPosition sets the read cursor. p must not exceed the write cursor.
func (b *FrameBuffer) SetPosition(p int) error {
	if p < 0 || p > b.write {
		return errors.Wrap(ErrOverflow, "set position")
	}
	b.read = p
	return nil
}

// Limit returns the write cursor.
func (b *FrameBuffer) Limit() int { return b.write }

// SetLimit sets the write cursor. l must be strictly less than capacity.
func (b *FrameBuffer) SetLimit(l int) error {
	if l < 0 || l >= len(b.data) {
		return errors.Wrap(ErrOverflow, "set limit")
	}
	b.write = l
	return nil
}

// ByteOrder returns the buffer's configured byte order.
func (b *FrameBuffer) ByteOrder() binary.ByteOrder { return b.order }

// SetByteOrder reconfigures the byte order used by subsequent scalar I/O.
// Used once, right after the connect-time byte-order handshake.
func (b *FrameBuffer) SetByteOrder(order binary.ByteOrder) { b.order = order }

// Bytes returns the underlying array, for bulk operations (e.g. socket
// reads directly into the write-side tail).
func (b *FrameBuffer) Bytes() []byte { return b.data }

// PeekUint8 returns the byte at read+offset without moving the read cursor,
// used by the codec to size a variable-width message code before
// committing to decode it.
func (b *FrameBuffer) PeekUint8(offset int) (uint8, error) {
	if offset < 0 || offset >= b.Available() {
		return 0, errors.Wrap(ErrOverflow, "peek")
	}
	return b.data[b.read+offset], nil
}

// WriteTail returns the writable tail slice, sized to what Write* calls may
// actually use before an overflow.
func (b *FrameBuffer) WriteTail() []byte { return b.data[b.write:] }

// Advance moves the write cursor forward by n bytes, e.g. after a socket
// Read wrote n bytes directly into WriteTail().
func (b *FrameBuffer) Advance(n int) error {
	if n < 0 || n > b.tailFree() {
		return errors.Wrap(ErrOverflow, "advance")
	}
	b.write += n
	return nil
}

// Compact shifts unread bytes to the head of the array and resets the read
// cursor to zero, reclaiming the space already consumed.
func (b *FrameBuffer) Compact() {
	if b.write > b.read && b.read > 0 {
		copy(b.data, b.data[b.read:b.write])
		b.write -= b.read
		b.read = 0
	} else if b.read >= b.write {
		b.write = 0
		b.read = 0
	}
}

// Flip resets the read cursor to the start of the buffer, leaving the
// write cursor untouched. Used to re-read a just-written scratch buffer
// (e.g. the byte-order handshake header).
func (b *FrameBuffer) Flip() { b.read = 0 }

// Reset empties the buffer entirely.
func (b *FrameBuffer) Reset() { b.read, b.write = 0, 0 }

func (b *FrameBuffer) requireWrite(n int) error {
	if n > b.tailFree() {
		return errors.Wrap(ErrOverflow, "write")
	}
	return nil
}

func (b *FrameBuffer) requireRead(n int) error {
	if n > b.Available() {
		return errors.Wrap(ErrOverflow, "read")
	}
	return nil
}

// WriteInt8 writes a signed byte.
func (b *FrameBuffer) WriteInt8(v int8) error { return b.WriteUint8(uint8(v)) }

// WriteUint8 writes an unsigned byte.
func (b *FrameBuffer) WriteUint8(v uint8) error {
	if err := b.requireWrite(1); err != nil {
		return err
	}
	b.data[b.write] = v
	b.write++
	return nil
}

// WriteInt16 writes a signed 16-bit integer in the buffer's byte order.
func (b *FrameBuffer) WriteInt16(v int16) error { return b.WriteUint16(uint16(v)) }

// WriteUint16 writes an unsigned 16-bit integer in the buffer's byte order.
func (b *FrameBuffer) WriteUint16(v uint16) error {
	if err := b.requireWrite(2); err != nil {
		return err
	}
	b.order.PutUint16(b.data[b.write:], v)
	b.write += 2
	return nil
}

// WriteInt32 writes a signed 32-bit integer in the buffer's byte order.
func (b *FrameBuffer) WriteInt32(v int32) error { return b.WriteUint32(uint32(v)) }

// WriteUint32 writes an unsigned 32-bit integer in the buffer's byte order.
func (b *FrameBuffer) WriteUint32(v uint32) error {
	if err := b.requireWrite(4); err != nil {
		return err
	}
	b.order.PutUint32(b.data[b.write:], v)
	b.write += 4
	return nil
}

// WriteInt64 writes a signed 64-bit integer in the buffer's byte order.
func (b *FrameBuffer) WriteInt64(v int64) error { return b.WriteUint64(uint64(v)) }

// WriteUint64 writes an unsigned 64-bit integer in the buffer's byte order.
func (b *FrameBuffer) WriteUint64(v uint64) error {
	if err := b.requireWrite(8); err != nil {
		return err
	}
	b.order.PutUint64(b.data[b.write:], v)
	b.write += 8
	return nil
}

// WriteBool writes a boolean as a single byte, 1 or 0.
func (b *FrameBuffer) WriteBool(v bool) error {
	if v {
		return b.WriteUint8(1)
	}
	return b.WriteUint8(0)
}

// WriteBytes appends a raw byte slice.
func (b *FrameBuffer) WriteBytes(p []byte) error {
	if err := b.requireWrite(len(p)); err != nil {
		return err
	}
	copy(b.data[b.write:], p)
	b.write += len(p)
	return nil
}

// WriteUTF8 writes a UTF-8 string as a 16-bit length prefix followed by the
// raw bytes. The prefix is always written, even for an empty string.
func (b *FrameBuffer) WriteUTF8(s string) error {
	if len(s) > 1<<16-1 {
		return errors.Wrap(ErrOverflow, "write utf8: too long")
	}
	if err := b.requireWrite(2 + len(s)); err != nil {
		return err
	}
	if err := b.WriteUint16(uint16(len(s))); err != nil {
		return err
	}
	return b.WriteBytes([]byte(s))
}

// ReadInt8 reads a signed byte.
func (b *FrameBuffer) ReadInt8() (int8, error) {
	v, err := b.ReadUint8()
	return int8(v), err
}

// ReadUint8 reads an unsigned byte.
func (b *FrameBuffer) ReadUint8() (uint8, error) {
	if err := b.requireRead(1); err != nil {
		return 0, err
	}
	v := b.data[b.read]
	b.read++
	return v, nil
}

// ReadInt16 reads a signed 16-bit integer in the buffer's byte order.
func (b *FrameBuffer) ReadInt16() (int16, error) {
	v, err := b.ReadUint16()
	return int16(v), err
}

// ReadUint16 reads an unsigned 16-bit integer in the buffer's byte order.
func (b *FrameBuffer) ReadUint16() (uint16, error) {
	if err := b.requireRead(2); err != nil {
		return 0, err
	}
	v := b.order.Uint16(b.data[b.read:])
	b.read += 2
	return v, nil
}

// ReadInt32 reads a signed 32-bit integer in the buffer's byte order.
func (b *FrameBuffer) ReadInt32() (int32, error) {
	v, err := b.ReadUint32()
	return int32(v), err
}

// ReadUint32 reads an unsigned 32-bit integer in the buffer's byte order.
func (b *FrameBuffer) ReadUint32() (uint32, error) {
	if err := b.requireRead(4); err != nil {
		return 0, err
	}
	v := b.order.Uint32(b.data[b.read:])
	b.read += 4
	return v, nil
}

// ReadInt64 reads a signed 64-bit integer in the buffer's byte order.
func (b *FrameBuffer) ReadInt64() (int64, error) {
	v, err := b.ReadUint64()
	return int64(v), err
}

// ReadUint64 reads an unsigned 64-bit integer in the buffer's byte order.
func (b *FrameBuffer) ReadUint64() (uint64, error) {
	if err := b.requireRead(8); err != nil {
		return 0, err
	}
	v := b.order.Uint64(b.data[b.read:])
	b.read += 8
	return v, nil
}

// ReadBool reads a single byte and reports whether it is non-zero.
func (b *FrameBuffer) ReadBool() (bool, error) {
	v, err := b.ReadUint8()
	return v != 0, err
}

// ReadBytes reads exactly len(p) bytes into p.
func (b *FrameBuffer) ReadBytes(p []byte) error {
	if err := b.requireRead(len(p)); err != nil {
		return err
	}
	copy(p, b.data[b.read:b.read+len(p)])
	b.read += len(p)
	return nil
}

// ReadUTF8 reads a 16-bit length prefix followed by that many bytes and
// returns the decoded string. An empty length still consumes the 2-byte
// prefix and yields an empty string.
func (b *FrameBuffer) ReadUTF8() (string, error) {
	n, err := b.ReadUint16()
	if err != nil {
		return "", err
	}
	if n == 0 {
		return "", nil
	}
	if err := b.requireRead(int(n)); err != nil {
		return "", err
	}
	s := string(b.data[b.read : b.read+int(n)])
	b.read += int(n)
	return s, nil
}
