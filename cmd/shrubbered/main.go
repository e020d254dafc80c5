// Command shrubbered runs the shrubbery session server: four listeners
// (raw TCP, TLS TCP, plain WebSocket, TLS WebSocket) sharing one
// authorizer, document-worker registry, and storage backend.
package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/dzfranklin/shrubbery/pkg/authorizer"
	"github.com/dzfranklin/shrubbery/pkg/docmanager"
	"github.com/dzfranklin/shrubbery/pkg/framed"
	"github.com/dzfranklin/shrubbery/pkg/httpmux"
	"github.com/dzfranklin/shrubbery/pkg/session"
	"github.com/dzfranklin/shrubbery/pkg/storage"
)

// coreWasm is served at GET /core.wasm. Editor client delivery is out of
// scope; a placeholder keeps the route wired and testable.
var coreWasm = []byte("TODO")

func main() {
	dataDir := flag.String("data-dir", "", "directory for the server's persistent state (required)")
	port := flag.Int("port", 49243, "port for the raw shrubbery protocol (no TLS)")
	securePort := flag.Int("secure-port", 49244, "port for the TLS-wrapped shrubbery protocol")
	wsPort := flag.Int("ws-port", 8080, "port for the plain HTTP/WebSocket protocol")
	wssPort := flag.Int("wss-port", 8443, "port for the TLS HTTP/WebSocket protocol")
	tlsCert := flag.String("tls-cert", "", "PEM certificate file for the TLS listeners")
	tlsKey := flag.String("tls-key", "", "PEM key file for the TLS listeners")
	flag.Parse()

	if *dataDir == "" {
		fmt.Fprintln(os.Stderr, "shrubbered: -data-dir is required")
		os.Exit(2)
	}

	if err := run(*dataDir, *port, *securePort, *wsPort, *wssPort, *tlsCert, *tlsKey); err != nil {
		log.Fatalf("shrubbered: %v", err)
	}
}

func run(dataDir string, port, securePort, wsPort, wssPort int, tlsCert, tlsKey string) error {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	log.Printf("[shrubbered] using data directory %s", dataDir)

	rootToken, err := loadOrCreateRootToken(dataDir)
	if err != nil {
		return fmt.Errorf("root token: %w", err)
	}
	authz := authorizer.New(rootToken, nil)

	db, err := storage.Open(filepath.Join(dataDir, "shrubbery.db"))
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer db.Close()
	docs := docmanager.NewManager(nil)

	var tlsConfig *tls.Config
	if tlsCert != "" && tlsKey != "" {
		cert, err := tls.LoadX509KeyPair(tlsCert, tlsKey)
		if err != nil {
			return fmt.Errorf("load TLS identity: %w", err)
		}
		tlsConfig = &tls.Config{Certificates: []tls.Certificate{cert}}
	} else {
		log.Printf("[shrubbered] no -tls-cert/-tls-key provided, secure listeners are disabled")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	var listeners []net.Listener

	accept := func(ln net.Listener, name string, acceptConn func(net.Conn) (framed.Conn, error)) {
		log.Printf("[shrubbered] listening on %s for %s", ln.Addr(), name)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				nc, err := ln.Accept()
				if err != nil {
					return
				}
				go func() {
					conn, err := acceptConn(nc)
					if err != nil {
						log.Printf("[shrubbered] %s: handshake failed: %v", name, err)
						nc.Close()
						return
					}
					sess := session.New(conn, authz, docs, nil)
					if err := sess.Serve(ctx); err != nil {
						log.Printf("[shrubbered] %s: session ended: %v", name, err)
					}
				}()
			}
		}()
	}

	rawLn, err := net.Listen("tcp", ":"+strconv.Itoa(port))
	if err != nil {
		return fmt.Errorf("listen raw: %w", err)
	}
	listeners = append(listeners, rawLn)
	accept(rawLn, "the shrubbery protocol (no TLS)", func(nc net.Conn) (framed.Conn, error) {
		return framed.AcceptShrub(nc)
	})

	if tlsConfig != nil {
		secureLn, err := net.Listen("tcp", ":"+strconv.Itoa(securePort))
		if err != nil {
			return fmt.Errorf("listen secure: %w", err)
		}
		listeners = append(listeners, secureLn)
		accept(secureLn, "the shrubbery protocol (TLS)", func(nc net.Conn) (framed.Conn, error) {
			return framed.AcceptShrubSecure(nc, tlsConfig)
		})
	}

	wsLn, err := net.Listen("tcp", ":"+strconv.Itoa(wsPort))
	if err != nil {
		return fmt.Errorf("listen ws: %w", err)
	}
	listeners = append(listeners, wsLn)
	mux := &httpmux.Mux{CoreWasm: coreWasm}
	mux.Accept = func(nc net.Conn) {
		conn, err := framed.AcceptWebSocketServer(nc)
		if err != nil {
			log.Printf("[shrubbered] ws: handshake failed: %v", err)
			nc.Close()
			return
		}
		sess := session.New(conn, authz, docs, nil)
		if err := sess.Serve(ctx); err != nil {
			log.Printf("[shrubbered] ws: session ended: %v", err)
		}
	}
	log.Printf("[shrubbered] listening on ws://%s as a HTTP/WebSocket server", wsLn.Addr())
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			nc, err := wsLn.Accept()
			if err != nil {
				return
			}
			go mux.Handle(nc)
		}
	}()

	if tlsConfig != nil {
		wssLn, err := net.Listen("tcp", ":"+strconv.Itoa(wssPort))
		if err != nil {
			return fmt.Errorf("listen wss: %w", err)
		}
		listeners = append(listeners, wssLn)
		log.Printf("[shrubbered] listening on wss://%s as a HTTPS/WebSocket Secure server", wssLn.Addr())
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				nc, err := wssLn.Accept()
				if err != nil {
					return
				}
				go func() {
					tc := tls.Server(nc, tlsConfig)
					if err := tc.Handshake(); err != nil {
						log.Printf("[shrubbered] wss: TLS handshake failed: %v", err)
						nc.Close()
						return
					}
					mux.Handle(tc)
				}()
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("[shrubbered] received shutdown signal, closing listeners")

	cancel()
	for _, ln := range listeners {
		ln.Close()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		log.Printf("[shrubbered] shutdown timed out waiting for listeners to drain")
	}

	return nil
}

func loadOrCreateRootToken(dataDir string) (string, error) {
	path := filepath.Join(dataDir, "root_token")
	contents, err := os.ReadFile(path)
	if err == nil {
		log.Printf("[shrubbered] loaded root token from %s", path)
		return trimNewline(string(contents)), nil
	}
	if !os.IsNotExist(err) {
		return "", err
	}

	token, err := authorizer.RandomRootToken()
	if err != nil {
		return "", fmt.Errorf("generate root token: %w", err)
	}
	if err := os.WriteFile(path, []byte(token+"\n"), 0600); err != nil {
		return "", err
	}
	log.Printf("[shrubbered] no root token found, generated a new one and wrote it to %s", path)
	return token, nil
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}
