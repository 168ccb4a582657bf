// Copyright (c) Dream Overflow. All rights reserved.
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE file.

// Package netconn implements Connection, the client/session state machine
// shared by both ends of a framed TCP stream: connect-or-accept, a
// byte-order handshake, a non-blocking I/O loop moving frames between the
// socket and two cross-thread SpscQueues, and a drain on shutdown.
package netconn

import "github.com/pkg/errors"

// Error kinds, matching spec.md §7's taxonomy. Each one is the sentinel an
// internal failure is wrapped around; callers use errors.Is against these,
// not against the wrapped OS/codec error.
var (
	// ErrConnectionDenied covers resolver/dial failure and a malformed
	// byte-order handshake.
	ErrConnectionDenied = errors.New("netconn: connection denied")

	// ErrSocket covers any OS socket failure, including a closed peer.
	ErrSocket = errors.New("netconn: socket error")

	// ErrInternal covers a codec or buffer inconsistency detected by the
	// I/O loop itself.
	ErrInternal = errors.New("netconn: internal error")
)

// Cause records why a Connection shut down, for logging and for the
// user-visible connected/disconnected/connection_denied distinction.
type Cause int

const (
	CauseNone Cause = iota
	CauseConnectionDenied
	CauseDisconnected
	CauseInternalError
	CauseRequested
)

func (c Cause) String() string {
	switch c {
	case CauseConnectionDenied:
		return "connection_denied"
	case CauseDisconnected:
		return "disconnected"
	case CauseInternalError:
		return "internal_error"
	case CauseRequested:
		return "requested"
	default:
		return "none"
	}
}
