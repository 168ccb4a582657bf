package netconn

import (
	"encoding/binary"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/dream-overflow/o3dnet/buffer"
	"github.com/dream-overflow/o3dnet/codec"
	"github.com/dream-overflow/o3dnet/internal/byteorder"
	"github.com/dream-overflow/o3dnet/message"
	"github.com/dream-overflow/o3dnet/queue"
)

// role distinguishes which side of the byte-order handshake a Connection
// plays: a client dials and reads the handshake header, an accepted
// session already has a socket and writes it.
type role int

const (
	roleClient role = iota
	roleServer
)

// State is one of the four I/O loop states of spec.md §4.4.
type State int32

const (
	StateIdle         State = -1
	StateConnecting   State = 1
	StateDisconnecting State = 2
	StateRunning      State = 3
)

// Connection is the client/session state machine: greet/negotiate, then a
// non-blocking I/O loop moving frames between a socket and two
// cross-thread SpscQueues, then drain on shutdown. The same type backs
// both a dialing client and a server-accepted session; role selects which
// half of the byte-order handshake it performs.
type Connection struct {
	role role
	host string
	port uint16
	af   AddressFamily

	conn net.Conn

	readBuf      *buffer.FrameBuffer
	writeBuf     *buffer.FrameBuffer
	readPending  message.Message
	writePending message.Message

	incoming *queue.SpscQueue[message.Message]
	outgoing *queue.SpscQueue[message.Message]

	factory *codec.Factory
	adapter codec.Adapter

	current int32 // State, atomic
	next    int32 // State, atomic

	shutdown  int32 // bool, atomic
	torndown  int32 // bool, atomic
	cause     Cause
	lastErr   error

	readTimeout    time.Duration
	bufferCapacity int
	queueCapacity  int

	logger logrus.FieldLogger

	done chan struct{}
}

func newConnection(r role, opts ...Option) *Connection {
	c := &Connection{
		role:           r,
		af:             AddressFamilyUnspec,
		readTimeout:    DefaultReadTimeout,
		bufferCapacity: DefaultBufferCapacity,
		queueCapacity:  queue.DefaultCapacity,
		logger:         logrus.StandardLogger(),
		done:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.readBuf = buffer.New(c.bufferCapacity)
	c.writeBuf = buffer.New(c.bufferCapacity)
	c.incoming = queue.New[message.Message](c.queueCapacity)
	c.outgoing = queue.New[message.Message](c.queueCapacity)
	atomic.StoreInt32(&c.current, int32(StateIdle))
	atomic.StoreInt32(&c.next, int32(StateConnecting))
	return c
}

// NewClient returns a Connection that dials host:port on the first loop
// iteration. Callers must call Start (or run Run in a goroutine) to begin
// the I/O loop.
func NewClient(host string, port uint16, opts ...Option) *Connection {
	c := newConnection(roleClient, opts...)
	c.host = host
	c.port = port
	return c
}

// NewSession wraps an already-accepted socket, performing the server side
// of the byte-order handshake on the first loop iteration.
func NewSession(conn net.Conn, opts ...Option) *Connection {
	c := newConnection(roleServer, opts...)
	c.conn = conn
	return c
}

// Start runs the I/O loop in a new goroutine.
func (c *Connection) Start() {
	go c.Run()
}

// Run executes the I/O loop until the Connection shuts down. It blocks;
// callers typically invoke it via Start. A server Session is ticked
// differently: the worker pool calls Tick directly once per schedule
// instead of running Run in a background goroutine (spec.md §5: "the tick
// thread plays the I/O role").
func (c *Connection) Run() {
	defer close(c.done)
	for {
		c.Tick()
		if atomic.LoadInt32(&c.shutdown) != 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// Tick runs one iteration of the I/O loop body: the pending state
// transition (if any), then handle_read/handle_write while RUNNING, then
// tears the Connection down exactly once if that iteration caused a
// shutdown. Safe to call repeatedly after shutdown (a no-op).
func (c *Connection) Tick() {
	if atomic.LoadInt32(&c.shutdown) != 0 {
		return
	}

	next := State(atomic.LoadInt32(&c.next))
	current := State(atomic.LoadInt32(&c.current))
	if next != current {
		atomic.StoreInt32(&c.current, int32(next))
		c.transition(next)
	}

	if atomic.LoadInt32(&c.shutdown) == 0 && State(atomic.LoadInt32(&c.current)) == StateRunning {
		if err := c.handleRead(); err != nil {
			c.fail(causeFor(err, CauseDisconnected), err)
		}
		if atomic.LoadInt32(&c.shutdown) == 0 {
			if err := c.handleWrite(); err != nil {
				c.fail(causeFor(err, CauseDisconnected), err)
			}
		}
	}

	if atomic.LoadInt32(&c.shutdown) != 0 {
		c.teardownOnce()
	}
}

// causeFor maps an error produced by handleRead/handleWrite to the cause
// recorded on shutdown: a codec/buffer inconsistency is InternalError,
// anything else (socket failure) is Disconnected.
func causeFor(err error, fallback Cause) Cause {
	if errors.Is(err, ErrInternal) {
		return CauseInternalError
	}
	return fallback
}

func (c *Connection) transition(next State) {
	switch next {
	case StateConnecting:
		if c.factory == nil {
			c.fail(CauseInternalError, errors.Wrap(ErrInternal, "no message factory"))
			return
		}
		if c.role == roleClient && c.conn == nil {
			addr := net.JoinHostPort(c.host, strconv.Itoa(int(c.port)))
			conn, err := net.Dial(string(c.af), addr)
			if err != nil {
				c.fail(CauseConnectionDenied, errors.Wrap(ErrConnectionDenied, err.Error()))
				return
			}
			c.conn = conn
		}
		if err := c.handshake(); err != nil {
			c.fail(CauseConnectionDenied, err)
			return
		}
		atomic.StoreInt32(&c.next, int32(StateRunning))
		c.logger.WithField("remote", c.remoteAddr()).Info("connected")
	case StateDisconnecting:
		c.fail(CauseRequested, nil)
	}
}

// handshake performs the one-message byte-order negotiation: the server
// writes int32(1) in its native order; the client reads 4 bytes (looping
// across partial reads, per the Open Question in spec.md §9) within a
// 2-second deadline and flips its buffers' byte order if the decoded value
// under native order isn't 1.
func (c *Connection) handshake() error {
	native := byteorder.Native()
	if c.role == roleServer {
		header := make([]byte, 4)
		native.PutUint32(header, 1)
		if err := c.conn.SetWriteDeadline(time.Now().Add(2 * time.Second)); err != nil {
			return errors.Wrap(ErrConnectionDenied, err.Error())
		}
		_, err := c.conn.Write(header)
		c.conn.SetWriteDeadline(time.Time{})
		if err != nil {
			return errors.Wrap(ErrConnectionDenied, err.Error())
		}
		return nil
	}

	if err := c.conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		return errors.Wrap(ErrConnectionDenied, err.Error())
	}
	header := make([]byte, 4)
	read := 0
	for read < 4 {
		n, err := c.conn.Read(header[read:])
		if err != nil {
			c.conn.SetReadDeadline(time.Time{})
			return errors.Wrap(ErrConnectionDenied, err.Error())
		}
		read += n
	}
	c.conn.SetReadDeadline(time.Time{})

	if native.Uint32(header) != 1 {
		swapped := binary.ByteOrder(binary.LittleEndian)
		if native == binary.LittleEndian {
			swapped = binary.BigEndian
		}
		c.readBuf.SetByteOrder(swapped)
		c.writeBuf.SetByteOrder(swapped)
	}
	return nil
}

// handleRead implements spec.md §4.4's handle_read.
func (c *Connection) handleRead() error {
	tail := c.readBuf.WriteTail()
	if len(tail) == 0 {
		return nil
	}
	if c.readTimeout > 0 {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
			return errors.Wrap(ErrSocket, err.Error())
		}
	}
	n, err := c.conn.Read(tail)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil
		}
		return errors.Wrap(ErrSocket, err.Error())
	}
	if n == 0 {
		return errors.Wrap(ErrSocket, "closed")
	}
	if err := c.readBuf.Advance(n); err != nil {
		return errors.Wrap(ErrInternal, err.Error())
	}

	if c.readPending != nil {
		pending, err := c.readFrame(c.readPending)
		if err != nil {
			return errors.Wrap(ErrInternal, err.Error())
		}
		if pending == nil {
			c.incoming.Push(c.readPending)
			c.readPending = nil
		} else {
			c.readPending = pending
		}
	}

	for c.readPending == nil && c.readBuf.Available() > 0 {
		msg, ok, err := c.factory.Decode(c.readBuf)
		if err != nil {
			return errors.Wrap(ErrInternal, err.Error())
		}
		if !ok {
			break
		}
		pending, err := c.readFrame(msg)
		if err != nil {
			return errors.Wrap(ErrInternal, err.Error())
		}
		if pending == nil {
			c.incoming.Push(msg)
		} else {
			c.readPending = pending
		}
	}

	c.readBuf.Compact()
	return nil
}

func (c *Connection) readFrame(msg message.Message) (message.Message, error) {
	if c.adapter != nil {
		return c.adapter.ReadFrom(c.readBuf, msg)
	}
	return msg.ReadFrom(c.readBuf)
}

// handleWrite implements spec.md §4.4's handle_write.
func (c *Connection) handleWrite() error {
	for c.writeBuf.Free() > 2 {
		msg := c.writePending
		c.writePending = nil
		if msg == nil {
			m, ok := c.outgoing.Pop()
			if !ok {
				break
			}
			msg = m
		}
		pending, err := c.writeFrame(msg)
		if err != nil {
			return errors.Wrap(ErrInternal, err.Error())
		}
		if pending != nil {
			c.writePending = pending
			break
		}
		msg.Consume()
	}

	if c.writeBuf.Available() > 0 {
		out := c.writeBuf.Bytes()[c.writeBuf.Position():c.writeBuf.Limit()]
		n, err := c.conn.Write(out)
		if n > 0 {
			if serr := c.writeBuf.SetPosition(c.writeBuf.Position() + n); serr != nil {
				return errors.Wrap(ErrInternal, serr.Error())
			}
		}
		if err != nil {
			if ne, ok := err.(net.Error); !ok || !ne.Timeout() {
				return errors.Wrap(ErrSocket, err.Error())
			}
		}
	}

	c.writeBuf.Compact()
	return nil
}

func (c *Connection) writeFrame(msg message.Message) (message.Message, error) {
	if c.adapter != nil {
		return c.adapter.WriteTo(c.writeBuf, msg)
	}
	return msg.WriteTo(c.writeBuf)
}

// IsReady reports whether the Connection is connected and accepting
// application traffic: the single queryable steady-state indicator.
func (c *Connection) IsReady() bool {
	return atomic.LoadInt32(&c.shutdown) == 0 && State(atomic.LoadInt32(&c.current)) == StateRunning
}

// Push enqueues msg for delivery to the peer.
func (c *Connection) Push(msg message.Message) bool {
	return c.outgoing.Push(msg)
}

// Pop dequeues the next message delivered by the peer, if any.
func (c *Connection) Pop() (message.Message, bool) {
	return c.incoming.Pop()
}

// Execute is a local loopback: it pushes msg directly into the incoming
// queue without wire transit.
func (c *Connection) Execute(msg message.Message) bool {
	return c.incoming.Push(msg)
}

// Shutdown requests an orderly disconnect, observed on the loop's next
// iteration.
func (c *Connection) Shutdown() {
	atomic.StoreInt32(&c.next, int32(StateDisconnecting))
}

// Wait blocks until the I/O loop has exited and the socket is closed.
func (c *Connection) Wait() {
	<-c.done
}

// Cause reports why the Connection shut down. Meaningless while IsReady.
func (c *Connection) Cause() Cause { return c.cause }

func (c *Connection) fail(cause Cause, err error) {
	if !atomic.CompareAndSwapInt32(&c.shutdown, 0, 1) {
		return
	}
	c.cause = cause
	c.lastErr = err
}

func (c *Connection) teardownOnce() {
	if !atomic.CompareAndSwapInt32(&c.torndown, 0, 1) {
		return
	}
	if c.conn != nil {
		c.conn.Close()
	}
	switch c.cause {
	case CauseConnectionDenied:
		c.logger.WithError(c.lastErr).Warn("connection_denied")
	case CauseDisconnected, CauseInternalError:
		c.logger.WithError(c.lastErr).WithField("remote", c.remoteAddr()).Info("disconnected")
	case CauseRequested:
		// clean shutdown: emit nothing, per spec.md §7.
	}
	if c.readPending != nil {
		c.readPending.Consume()
		c.readPending = nil
	}
	if c.writePending != nil {
		c.writePending.Consume()
		c.writePending = nil
	}
	for {
		msg, ok := c.incoming.Pop()
		if !ok {
			break
		}
		msg.Consume()
	}
	for {
		msg, ok := c.outgoing.Pop()
		if !ok {
			break
		}
		msg.Consume()
	}
}

func (c *Connection) remoteAddr() string {
	if c.conn == nil {
		return ""
	}
	return c.conn.RemoteAddr().String()
}
