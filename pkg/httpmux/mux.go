// Package httpmux implements the minimal HTTP/1.1 front door shrubbery runs
// on its WebSocket ports: just enough request parsing to dispatch GET
// /socket (WebSocket upgrade) and GET /core.wasm (static asset), closing
// silently on anything it can't make sense of rather than answering with an
// HTTP error.
package httpmux

import (
	"bufio"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
)

const maxHeaders = 64

const websocketAcceptMagic = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// Mux dispatches the two routes shrubbery exposes over plain HTTP.
type Mux struct {
	// CoreWasm is served verbatim as application/wasm at GET /core.wasm.
	CoreWasm []byte

	// Accept is invoked, with the 101 response already written, once a
	// GET /socket request is validated. It receives the raw connection;
	// the caller is expected to bridge it into the WebSocket carrier
	// (pkg/framed.AcceptWebSocketServer) and hand it to a session.
	Accept func(nc net.Conn)
}

// Handle reads one HTTP/1.1 request from nc and dispatches it. It takes
// ownership of nc: on any malformed input it closes nc and returns without
// writing a response, matching the spec's silent-close behavior. On success
// it either writes a complete response itself (static asset, 404) and
// closes nc, or writes the 101 upgrade response and calls Accept, handing nc
// off without closing it.
func (m *Mux) Handle(nc net.Conn) {
	br := bufio.NewReader(nc)

	method, path, ok := readRequestLine(br)
	if !ok {
		nc.Close()
		return
	}

	headers, ok := readHeaders(br)
	if !ok {
		nc.Close()
		return
	}

	switch {
	case method == "GET" && path == "/core.wasm":
		m.respondCoreWasm(nc)
		nc.Close()
	case method == "GET" && path == "/socket":
		version := headers.Get("Sec-WebSocket-Version")
		key := headers.Get("Sec-WebSocket-Key")
		if version != "13" || key == "" {
			nc.Close()
			return
		}
		if err := writeUpgradeResponse(nc, deriveAcceptKey(key)); err != nil {
			nc.Close()
			return
		}
		if m.Accept != nil {
			m.Accept(nc)
		} else {
			nc.Close()
		}
	default:
		respondNotFound(nc)
		nc.Close()
	}
}

func readRequestLine(br *bufio.Reader) (method, path string, ok bool) {
	line, err := br.ReadString('\n')
	if err != nil {
		return "", "", false
	}
	line = strings.TrimRight(line, "\r\n")
	parts := strings.Split(line, " ")
	if len(parts) != 3 {
		return "", "", false
	}
	if !strings.HasPrefix(parts[2], "HTTP/1.") {
		return "", "", false
	}
	if parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

func readHeaders(br *bufio.Reader) (http.Header, bool) {
	headers := make(http.Header)
	for count := 0; ; count++ {
		if count > maxHeaders {
			return nil, false
		}
		line, err := br.ReadString('\n')
		if err != nil {
			return nil, false
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			return headers, true
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, false
		}
		headers.Add(strings.TrimSpace(name), strings.TrimSpace(value))
	}
}

func (m *Mux) respondCoreWasm(nc net.Conn) {
	head := buildResponseHead(200, "OK", map[string]string{
		"Content-Type":   "application/wasm",
		"Content-Length": strconv.Itoa(len(m.CoreWasm)),
	})
	if _, err := nc.Write(head); err != nil {
		return
	}
	nc.Write(m.CoreWasm)
}

func respondNotFound(nc net.Conn) {
	body := []byte("Not Found")
	head := buildResponseHead(404, "Not Found", map[string]string{
		"Content-Type":   "text/plain",
		"Content-Length": strconv.Itoa(len(body)),
	})
	nc.Write(head)
	nc.Write(body)
}

func writeUpgradeResponse(nc net.Conn, acceptKey string) error {
	head := buildResponseHead(101, "Switching Protocols", map[string]string{
		"Upgrade":              "websocket",
		"Connection":           "Upgrade",
		"Sec-WebSocket-Accept": acceptKey,
	})
	_, err := nc.Write(head)
	return err
}

func buildResponseHead(status int, reason string, headers map[string]string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "HTTP/1.1 %d %s\r\n", status, reason)
	for name, value := range headers {
		fmt.Fprintf(&b, "%s: %s\r\n", name, value)
	}
	b.WriteString("\r\n")
	return []byte(b.String())
}

// deriveAcceptKey computes Sec-WebSocket-Accept per RFC 6455 §1.3.
func deriveAcceptKey(key string) string {
	h := sha1.New()
	h.Write([]byte(key))
	h.Write([]byte(websocketAcceptMagic))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}
