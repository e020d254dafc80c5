package httpmux

import (
	"bufio"
	"net"
	"strings"
	"testing"
	"time"
)

func TestDeriveAcceptKey_RFCExample(t *testing.T) {
	got := deriveAcceptKey("dGhlIHNhbXBsZSBub25jZQ==")
	want := "s3pPLMBiTxaQ9kYGzzhZRbK+xOo="
	if got != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestMux_CoreWasm(t *testing.T) {
	serverNc, clientNc := net.Pipe()
	mux := &Mux{CoreWasm: []byte("TODO")}
	go mux.Handle(serverNc)

	clientNc.Write([]byte("GET /core.wasm HTTP/1.1\r\nHost: x\r\n\r\n"))
	resp := readAll(t, clientNc)
	if !strings.HasPrefix(resp, "HTTP/1.1 200 OK") {
		t.Fatalf("response = %q", resp)
	}
	if !strings.Contains(resp, "application/wasm") {
		t.Errorf("missing content-type: %q", resp)
	}
	if !strings.HasSuffix(resp, "TODO") {
		t.Errorf("missing body: %q", resp)
	}
}

func TestMux_NotFound(t *testing.T) {
	serverNc, clientNc := net.Pipe()
	mux := &Mux{}
	go mux.Handle(serverNc)

	clientNc.Write([]byte("GET /nope HTTP/1.1\r\n\r\n"))
	resp := readAll(t, clientNc)
	if !strings.HasPrefix(resp, "HTTP/1.1 404 Not Found") {
		t.Fatalf("response = %q", resp)
	}
}

func TestMux_SocketUpgrade(t *testing.T) {
	serverNc, clientNc := net.Pipe()
	accepted := make(chan net.Conn, 1)
	mux := &Mux{Accept: func(nc net.Conn) { accepted <- nc }}
	go mux.Handle(serverNc)

	req := "GET /socket HTTP/1.1\r\n" +
		"Sec-WebSocket-Version: 13\r\n" +
		"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n" +
		"\r\n"
	clientNc.Write([]byte(req))

	br := bufio.NewReader(clientNc)
	statusLine, err := br.ReadString('\n')
	if err != nil {
		t.Fatalf("read status: %v", err)
	}
	if !strings.HasPrefix(statusLine, "HTTP/1.1 101") {
		t.Fatalf("status line = %q", statusLine)
	}

	select {
	case <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("Accept was not called")
	}
}

func TestMux_SocketUpgrade_MissingKeyClosesSilently(t *testing.T) {
	serverNc, clientNc := net.Pipe()
	mux := &Mux{Accept: func(nc net.Conn) { t.Error("Accept should not be called") }}
	go mux.Handle(serverNc)

	clientNc.Write([]byte("GET /socket HTTP/1.1\r\nSec-WebSocket-Version: 13\r\n\r\n"))

	buf := make([]byte, 1)
	clientNc.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, err := clientNc.Read(buf)
	if err == nil {
		t.Fatal("expected connection to be closed without a response")
	}
}

func readAll(t *testing.T, nc net.Conn) string {
	t.Helper()
	nc.SetReadDeadline(time.Now().Add(2 * time.Second))
	var b strings.Builder
	buf := make([]byte, 4096)
	for {
		n, err := nc.Read(buf)
		if n > 0 {
			b.Write(buf[:n])
		}
		if err != nil {
			break
		}
	}
	return b.String()
}
