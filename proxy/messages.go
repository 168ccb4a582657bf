package proxy

import (
	"bytes"

	"github.com/pkg/errors"

	"github.com/dream-overflow/o3dnet/buffer"
	"github.com/dream-overflow/o3dnet/message"
)

// AuthCode is the wire code shared by the challenge and certificate
// messages. It is safe to reuse across the client's and the server's
// factories because each side only ever registers the message it
// receives: a Client registers ChallengeIn under AuthCode, a Server
// registers CertificateIn under AuthCode (spec.md §4.7 step 1-4).
const AuthCode = 1

// ChallengeSize is the length in bytes of a session's authentication
// challenge.
const ChallengeSize = 16

// ChallengeOut is sent by a freshly-accepted Session to its client,
// carrying the server's protocol version and a random challenge.
type ChallengeOut struct {
	message.Base
	Version   int32
	Challenge [ChallengeSize]byte
}

func (m *ChallengeOut) Code() uint32 { return AuthCode }

func (m *ChallengeOut) ReadFrom(buf *buffer.FrameBuffer) (message.Message, error) {
	return nil, errors.New("proxy: ChallengeOut is never received")
}

func (m *ChallengeOut) WriteTo(buf *buffer.FrameBuffer) (message.Message, error) {
	if err := buf.WriteInt32(m.Version); err != nil {
		return m, err
	}
	return nil, buf.WriteBytes(m.Challenge[:])
}

func (m *ChallengeOut) Run(any) error { return nil }

func (m *ChallengeOut) MakeInstance() message.Prototype { return &ChallengeOut{} }

// sizeOfChallengeOut is the wire size of a ChallengeOut payload: a 4-byte
// version plus a 16-byte challenge.
const sizeOfChallengeOut = 4 + ChallengeSize

// NewChallengeOut returns a ChallengeOut ready to send.
func NewChallengeOut(version int32, challenge [ChallengeSize]byte) *ChallengeOut {
	m := &ChallengeOut{Version: version, Challenge: challenge}
	m.SetMessageSize(sizeOfChallengeOut)
	return m
}

// ChallengeIn is registered in a Client's factory under AuthCode. Its Run
// checks the server's advertised version against the client's configured
// one and replies with the client's certificate.
type ChallengeIn struct {
	message.Base
	Version   int32
	Challenge [ChallengeSize]byte
}

func (m *ChallengeIn) Code() uint32 { return AuthCode }

func (m *ChallengeIn) ReadFrom(buf *buffer.FrameBuffer) (message.Message, error) {
	v, err := buf.ReadInt32()
	if err != nil {
		return m, err
	}
	m.Version = v
	if err := buf.ReadBytes(m.Challenge[:]); err != nil {
		return m, err
	}
	return nil, nil
}

func (m *ChallengeIn) WriteTo(buf *buffer.FrameBuffer) (message.Message, error) {
	return nil, errors.New("proxy: ChallengeIn is never sent")
}

// Run compares the received version against the Client's configured
// version, replying with the configured certificate on a match. ctx must
// be a *Client.
func (m *ChallengeIn) Run(ctx any) error {
	client, ok := ctx.(*Client)
	if !ok {
		return errors.New("proxy: ChallengeIn.Run requires a *Client context")
	}
	if m.Version != client.Version() {
		return errors.Wrap(message.ErrRunMessage, "proxy client/server version mismatch")
	}
	client.Connection().Push(NewCertificateOut(client.Certificate()))
	return nil
}

func (m *ChallengeIn) MakeInstance() message.Prototype { return &ChallengeIn{} }

// CertificateOut is sent by a Client in reply to a ChallengeIn, carrying
// its opaque certificate bytes.
type CertificateOut struct {
	message.Base
	Certificate []byte
}

func (m *CertificateOut) Code() uint32 { return AuthCode }

func (m *CertificateOut) ReadFrom(buf *buffer.FrameBuffer) (message.Message, error) {
	return nil, errors.New("proxy: CertificateOut is never received")
}

func (m *CertificateOut) WriteTo(buf *buffer.FrameBuffer) (message.Message, error) {
	return nil, buf.WriteBytes(m.Certificate)
}

func (m *CertificateOut) Run(any) error { return nil }

func (m *CertificateOut) MakeInstance() message.Prototype { return &CertificateOut{} }

// NewCertificateOut returns a CertificateOut ready to send.
func NewCertificateOut(certificate []byte) *CertificateOut {
	m := &CertificateOut{Certificate: certificate}
	m.SetMessageSize(uint16(len(certificate)))
	return m
}

// CertificateIn is registered in a Server's factory under AuthCode. Its
// Run byte-compares the received certificate against the server's
// configured one, cancelling the session on any mismatch.
type CertificateIn struct {
	message.Base
	Certificate []byte
}

func (m *CertificateIn) Code() uint32 { return AuthCode }

func (m *CertificateIn) ReadFrom(buf *buffer.FrameBuffer) (message.Message, error) {
	m.Certificate = make([]byte, m.MessageSize())
	if err := buf.ReadBytes(m.Certificate); err != nil {
		return m, err
	}
	return nil, nil
}

func (m *CertificateIn) WriteTo(buf *buffer.FrameBuffer) (message.Message, error) {
	return nil, errors.New("proxy: CertificateIn is never sent")
}

// Run byte-compares the received certificate against the server's
// configured one, cancelling the session on a mismatch and validating it
// otherwise. ctx must be a *Session.
func (m *CertificateIn) Run(ctx any) error {
	session, ok := ctx.(*Session)
	if !ok {
		return errors.New("proxy: CertificateIn.Run requires a *Session context")
	}
	expected := session.server.Certificate()
	if !bytes.Equal(m.Certificate, expected) {
		session.Cancel()
		session.server.logger.WithField("session_id", session.ID()).Warn("session cancelled: invalid certificate")
		return nil
	}
	session.SetValid()
	session.server.logger.WithField("session_id", session.ID()).Info("session validated")
	return nil
}

func (m *CertificateIn) MakeInstance() message.Prototype { return &CertificateIn{} }
