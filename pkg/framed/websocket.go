package framed

import (
	"encoding/json"
	"errors"
	"io"
	"net"

	"github.com/gorilla/websocket"

	"github.com/dzfranklin/shrubbery/pkg/codec"
	"github.com/dzfranklin/shrubbery/pkg/frame"
)

// wsBufferSize matches gorilla/websocket's own Upgrader defaults; shrubbery
// frames are small JSON objects so the default is generous.
const wsBufferSize = 4096

// AcceptWebSocketServer bridges an already-upgraded connection (the HTTP
// multiplexer has already written the 101 response) into a gorilla/websocket
// Conn and performs the accept-side shrub version handshake as the first
// text message, per spec's in-band WebSocket handshake.
//
// The HTTP/1.1 parse and Sec-WebSocket-Accept computation happen in
// pkg/httpmux, not here; gorilla/websocket only needs to take over framing
// on the raw socket afterwards.
func AcceptWebSocketServer(nc net.Conn) (Conn, error) {
	wc := websocket.NewConn(nc, true, wsBufferSize, wsBufferSize)
	if err := acceptHandshakeText(wc); err != nil {
		return nil, err
	}
	return &wsConn{c: wc}, nil
}

// EstablishWebSocketClient bridges a connection the caller has already
// completed the client-side HTTP upgrade on, and writes the connect-side
// shrub version handshake message. Used by test harnesses exercising the
// WebSocket carrier end-to-end.
func EstablishWebSocketClient(nc net.Conn) (Conn, error) {
	wc := websocket.NewConn(nc, false, wsBufferSize, wsBufferSize)
	if err := wc.WriteMessage(websocket.TextMessage, []byte(HandshakeText)); err != nil {
		return nil, err
	}
	return &wsConn{c: wc}, nil
}

func acceptHandshakeText(c *websocket.Conn) error {
	mt, data, err := c.ReadMessage()
	if err != nil {
		return err
	}
	if mt == websocket.BinaryMessage {
		return &codec.InvalidDataError{Message: "unexpected binary message before handshake"}
	}
	if string(data) != HandshakeText {
		return &codec.InvalidDataError{Message: "expected shrub version message"}
	}
	return nil
}

type wsConn struct {
	c *websocket.Conn
}

func (w *wsConn) ReadFrame() (frame.Frame, error) {
	for {
		mt, data, err := w.c.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived) {
				return frame.Frame{}, io.EOF
			}
			if errors.Is(err, io.EOF) {
				return frame.Frame{}, io.EOF
			}
			return frame.Frame{}, err
		}

		switch mt {
		case websocket.TextMessage:
			var f frame.Frame
			if err := json.Unmarshal(data, &f); err != nil {
				return frame.Frame{}, &codec.InvalidDataError{Message: "malformed frame json", Cause: err}
			}
			return f, nil
		case websocket.BinaryMessage:
			return frame.Frame{}, &codec.InvalidDataError{Message: "unexpected binary message"}
		default:
			// Control frames (ping/pong/close) are handled by gorilla's
			// default handlers and never reach here in practice; ignore
			// anything unexpected rather than treating it as fatal.
			continue
		}
	}
}

func (w *wsConn) WriteFrame(f frame.Frame) error {
	b, err := json.Marshal(f)
	if err != nil {
		return &codec.InvalidDataError{Message: "could not serialize frame", Cause: err}
	}
	return w.c.WriteMessage(websocket.TextMessage, b)
}

func (w *wsConn) Close() error {
	return w.c.Close()
}
