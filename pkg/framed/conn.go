// Package framed unifies the four carriers shrubbery accepts connections
// over — raw TCP, TLS-over-TCP, WebSocket, and TLS-WebSocket — behind one
// bidirectional Frame stream, each doing its own in-band version handshake
// before the first Frame is exchanged.
package framed

import (
	"crypto/tls"
	"io"
	"net"

	"github.com/dzfranklin/shrubbery/pkg/codec"
	"github.com/dzfranklin/shrubbery/pkg/frame"
)

// Conn is a bidirectional Frame stream over any carrier. It exposes nothing
// carrier-specific above read/write.
type Conn interface {
	ReadFrame() (frame.Frame, error)
	WriteFrame(frame.Frame) error
	Close() error
}

// HandshakeLine is the exact bytes exchanged on the raw and TLS carriers
// before any frame. The accepter reads these seven bytes before decoding
// frames; anything else closes the connection.
const HandshakeLine = "shrub1\n"

// HandshakeText is the WebSocket carriers' equivalent: the literal text of
// the first WebSocket message, with no trailing newline.
const HandshakeText = "shrub1"

// AcceptShrub performs the accept-side handshake on a raw TCP connection and
// returns a Conn ready to exchange frames. Both endpoints write the
// handshake line to each other: the accepter reads it first, then echoes
// its own copy back.
func AcceptShrub(nc net.Conn) (Conn, error) {
	if err := readHandshakeLine(nc); err != nil {
		return nil, err
	}
	if _, err := nc.Write([]byte(HandshakeLine)); err != nil {
		return nil, err
	}
	return newLineConn(nc), nil
}

// EstablishShrub performs the connect-side handshake on a raw TCP
// connection: write the handshake line, then read the accepter's echo of
// it before exchanging frames.
func EstablishShrub(nc net.Conn) (Conn, error) {
	if _, err := nc.Write([]byte(HandshakeLine)); err != nil {
		return nil, err
	}
	if err := readHandshakeLine(nc); err != nil {
		return nil, err
	}
	return newLineConn(nc), nil
}

// AcceptShrubSecure performs a server-side TLS handshake, then the shrub
// version handshake, over nc.
func AcceptShrubSecure(nc net.Conn, cfg *tls.Config) (Conn, error) {
	tc := tls.Server(nc, cfg)
	if err := tc.Handshake(); err != nil {
		return nil, err
	}
	return AcceptShrub(tc)
}

func readHandshakeLine(r io.Reader) error {
	buf := make([]byte, len(HandshakeLine))
	if _, err := io.ReadFull(r, buf); err != nil {
		return err
	}
	if string(buf) != HandshakeLine {
		return &codec.InvalidDataError{Message: "expected shrub version header"}
	}
	return nil
}

type lineConn struct {
	nc net.Conn
	r  *codec.Reader
	w  *codec.Writer
}

func newLineConn(nc net.Conn) Conn {
	return &lineConn{nc: nc, r: codec.NewReader(nc), w: codec.NewWriter(nc)}
}

func (c *lineConn) ReadFrame() (frame.Frame, error)  { return c.r.ReadFrame() }
func (c *lineConn) WriteFrame(f frame.Frame) error   { return c.w.WriteFrame(f) }
func (c *lineConn) Close() error                     { return c.nc.Close() }
