package netconn

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dream-overflow/o3dnet/codec"
)

// DefaultReadTimeout is the read-pending timeout used when no
// WithReadTimeout option is given, matching spec.md §6's default of
// 10,000 microseconds.
const DefaultReadTimeout = 10000 * time.Microsecond

// DefaultBufferCapacity is the read/write FrameBuffer size used when no
// WithBufferCapacity option is given.
const DefaultBufferCapacity = 2048

// AddressFamily selects which socket family a client dial uses.
type AddressFamily string

const (
	AddressFamilyUnspec AddressFamily = "tcp"
	AddressFamilyIPv4   AddressFamily = "tcp4"
	AddressFamilyIPv6   AddressFamily = "tcp6"
)

// Option configures a Connection at construction time.
type Option func(*Connection)

// WithReadTimeout sets how long a single socket Read call may block before
// the I/O loop moves on to handle_write and sleeps.
func WithReadTimeout(d time.Duration) Option {
	return func(c *Connection) { c.readTimeout = d }
}

// WithFactory sets the message factory used to decode incoming frames.
// Required; a Connection with no factory cannot enter RUNNING.
func WithFactory(f *codec.Factory) Option {
	return func(c *Connection) { c.factory = f }
}

// WithAdapter sets the read/write adapter. Optional: when absent, payload
// read/write falls through to the message object directly.
func WithAdapter(a codec.Adapter) Option {
	return func(c *Connection) { c.adapter = a }
}

// WithLogger overrides the logger used for connected/disconnected/
// connection_denied transitions. Defaults to logrus's standard logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(c *Connection) { c.logger = l }
}

// WithAddressFamily selects the socket family a client dial uses. Only
// meaningful for client connections; ignored for accepted sessions.
func WithAddressFamily(af AddressFamily) Option {
	return func(c *Connection) { c.af = af }
}

// WithBufferCapacity overrides the read/write FrameBuffer size.
func WithBufferCapacity(n int) Option {
	return func(c *Connection) { c.bufferCapacity = n }
}

// WithQueueCapacity overrides the incoming/outgoing SpscQueue capacity.
func WithQueueCapacity(n int) Option {
	return func(c *Connection) { c.queueCapacity = n }
}
