package proxy

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/dream-overflow/o3dnet/codec"
	"github.com/dream-overflow/o3dnet/message"
	"github.com/dream-overflow/o3dnet/netconn"
)

// ClientOption configures a Client at construction time.
type ClientOption func(*Client)

// WithClientVersion sets the protocol version the client advertises back to
// ChallengeIn.Run for comparison against the server's own version.
func WithClientVersion(v int32) ClientOption { return func(c *Client) { c.version = v } }

// WithClientCertificate sets the certificate bytes sent in reply to a
// challenge.
func WithClientCertificate(cert []byte) ClientOption {
	return func(c *Client) { c.certificate = cert }
}

// WithClientLogger overrides the client's logger.
func WithClientLogger(l logrus.FieldLogger) ClientOption { return func(c *Client) { c.logger = l } }

// WithClientFactory overrides the client's message factory. The built-in
// ChallengeIn handler is still registered under AuthCode after options run.
func WithClientFactory(f *codec.Factory) ClientOption { return func(c *Client) { c.factory = f } }

// WithClientAdapter overrides the client's read/write adapter.
func WithClientAdapter(a codec.Adapter) ClientOption { return func(c *Client) { c.adapter = a } }

// Client is the counterpart to Server: it dials a proxy server, runs the
// challenge/certificate handshake driven by ChallengeIn.Run, and then
// drains application messages in a background consumer loop (spec.md
// §4.8).
type Client struct {
	mu          sync.Mutex
	version     int32
	certificate []byte

	factory *codec.Factory
	adapter codec.Adapter
	logger  logrus.FieldLogger

	conn *netconn.Connection
	done chan struct{}
}

// NewClient returns a Client ready to Dial host:port.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		factory: codec.NewFactory(),
		adapter: codec.NewDefaultAdapter(nil),
		logger:  logrus.StandardLogger(),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.factory.Register(&ChallengeIn{}); err != nil {
		c.logger.WithError(err).Warn("proxy: failed to register built-in challenge handler")
	}
	return c
}

// Register adds an application message prototype to the client's factory,
// in addition to the built-in auth handler.
func (c *Client) Register(proto message.Prototype) error {
	return c.factory.Register(proto)
}

// Dial connects to host:port and starts the Connection's I/O loop along
// with a background consumer that runs every received message, including
// the auth handshake driven by ChallengeIn.
func (c *Client) Dial(host string, port uint16) {
	c.conn = netconn.NewClient(host, port,
		netconn.WithFactory(c.factory),
		netconn.WithAdapter(c.adapter),
		netconn.WithLogger(c.logger),
	)
	c.conn.Start()
	go c.consume()
}

func (c *Client) consume() {
	for {
		select {
		case <-c.done:
			return
		default:
		}
		if !c.conn.IsReady() {
			time.Sleep(5 * time.Millisecond)
			continue
		}
		msg, ok := c.conn.Pop()
		if !ok {
			time.Sleep(5 * time.Millisecond)
			continue
		}
		if err := msg.Run(c); err != nil {
			if errors.Is(err, message.ErrRunMessage) {
				c.logger.WithError(err).Warn("proxy client: message rejected")
				continue
			}
			c.logger.WithError(err).Warn("proxy client: message run failed")
			continue
		}
		msg.Consume()
	}
}

// Version returns the client's configured protocol version.
func (c *Client) Version() int32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.version
}

// Certificate returns the client's configured certificate bytes.
func (c *Client) Certificate() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.certificate
}

// Connection returns the underlying netconn.Connection, used by
// ChallengeIn.Run to push the certificate reply.
func (c *Client) Connection() *netconn.Connection { return c.conn }

// Send pushes an application message to the server.
func (c *Client) Send(msg message.Message) {
	c.conn.Push(msg)
}

// IsReady reports whether the underlying connection has completed the
// byte-order handshake and is exchanging frames.
func (c *Client) IsReady() bool {
	return c.conn != nil && c.conn.IsReady()
}

// Disconnect shuts down the connection and stops the consumer loop.
func (c *Client) Disconnect() {
	close(c.done)
	if c.conn != nil {
		c.conn.Shutdown()
		c.conn.Wait()
	}
}
