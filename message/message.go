// Copyright (c) Dream Overflow. All rights reserved.
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE file.

// Package message defines the contract user payloads implement to travel
// through a Connection: reading/writing themselves from/to a FrameBuffer,
// running on a consumer, and the reference-style consume counter that lets
// one message instance be delivered to several sessions (multicast).
package message

import (
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/dream-overflow/o3dnet/buffer"
)

// ErrRunMessage is returned by Run when a message rejects its own payload.
// On the client proxy this is caught and logged; on a server session it
// terminates and removes the session (spec.md §4.7, §4.8).
var ErrRunMessage = errors.New("message: run rejected payload")

// Message is the contract every payload type implements. ReadFrom and
// WriteTo return the message itself (non-nil) to signal "not finished yet -
// call me again once more bytes are available/room is free", and nil to
// signal completion. This mirrors o3dnet's NetMessage::readFromBuffer /
// writeToBuffer, which return `this` for a partial frame and nullptr when
// done.
type Message interface {
	// Code returns the message's wire code, a stable identifier 0..2^21-1.
	Code() uint32

	// ReadFrom decodes the payload from buf. Returning the message itself
	// means "insufficient bytes buffered, call again once more arrive";
	// returning nil means fully decoded.
	ReadFrom(buf *buffer.FrameBuffer) (Message, error)

	// WriteTo encodes the payload into buf. Returning the message itself
	// means "buffer too small, call again once drained"; nil means fully
	// written.
	WriteTo(buf *buffer.FrameBuffer) (Message, error)

	// Run lets the application process the message. ctx is the consumer
	// context (the Connection, the proxy Session, or the proxy Client).
	Run(ctx any) error

	// Consume is called once after Run for an incoming message, and once
	// after the I/O loop finishes writing an outgoing message. It reports
	// whether the message's reference count has reached zero and can be
	// released.
	Consume() bool

	// String returns a short diagnostic dump, used only in warning logs.
	String() string
}

// Sized is implemented by messages that carry an explicit declared payload
// size: on the incoming path codec.Factory.Decode sets it before ReadFrom
// runs; an outgoing message sets its own size before it is sent.
type Sized interface {
	MessageSize() uint16
	SetMessageSize(uint16)
}

// Prototype is implemented by incoming message types: the factory clones a
// fresh instance per decoded frame from a single registered prototype.
type Prototype interface {
	Message
	Sized
	MakeInstance() Prototype
}

// Base is an embeddable struct implementing the consume-counter and size
// bookkeeping common to every message type, mirroring o3dnet's
// AbstractNetMessage. The consume counter is accessed with atomics: a
// multicast message is shared by pointer across every session's Connection,
// each ticked by a possibly-concurrent worker-pool goroutine.
type Base struct {
	size    uint16
	consume int32 // atomic
}

// MessageSize returns the declared payload size.
func (b *Base) MessageSize() uint16 { return b.size }

// SetMessageSize sets the declared payload size, called by
// codec.Factory.Decode on the incoming path and by the message itself when
// encoding.
func (b *Base) SetMessageSize(size uint16) { b.size = size }

// SetForMulticast arms the message to survive until `counter` sends have
// each called Consume(), for fan-out to several sessions at once.
func (b *Base) SetForMulticast(counter uint32) { atomic.StoreInt32(&b.consume, int32(counter)) }

// SetForRetransmission resets the consume counter to 1 (single send).
func (b *Base) SetForRetransmission() { atomic.StoreInt32(&b.consume, 1) }

// Consume decrements the reference count (defaulting to 1 the first time
// it is called) and reports whether it has reached zero.
func (b *Base) Consume() bool {
	atomic.CompareAndSwapInt32(&b.consume, 0, 1)
	return atomic.AddInt32(&b.consume, -1) == 0
}

// String returns the empty diagnostic dump by default.
func (b *Base) String() string { return "" }

// Run is a no-op by default; concrete message types override it.
func (b *Base) Run(any) error { return nil }
