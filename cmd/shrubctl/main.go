// Command shrubctl is a thin administrative client for a running
// shrubbered server: it authenticates with a root (or delegated) token
// and issues a single MintToken or RevokeTokensForUser request.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dzfranklin/shrubbery/pkg/frame"
	"github.com/dzfranklin/shrubbery/pkg/framed"
)

func main() {
	host := flag.String("host", "localhost", "server host")
	port := flag.Int("port", 49243, "server port (raw shrubbery protocol)")
	tokenFlag := flag.String("token", "", "authentication token, or a path prefixed with @, or - for stdin; defaults to ~/.config/shrubbery/token")
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		usage()
		os.Exit(2)
	}

	if err := run(*host, *port, *tokenFlag, args[0], args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "shrubctl: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `usage: shrubctl [-host H] [-port P] [-token T] <command> [args]

commands:
  mint-token [-lifetime seconds] [-info json] <user>
  revoke-tokens-for-user <user>
`)
}

func run(host string, port int, tokenFlag, cmd string, args []string) error {
	token, err := resolveToken(tokenFlag)
	if err != nil {
		return fmt.Errorf("resolve token: %w", err)
	}

	nc, err := net.Dial("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	conn, err := framed.EstablishShrub(nc)
	if err != nil {
		return fmt.Errorf("handshake: %w", err)
	}
	defer conn.Close()

	if err := authenticate(conn, token); err != nil {
		return err
	}

	switch cmd {
	case "mint-token":
		return mintToken(conn, args)
	case "revoke-tokens-for-user":
		return revokeTokensForUser(conn, args)
	default:
		usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func authenticate(conn framed.Conn, token string) error {
	if err := conn.WriteFrame(frame.New(-1, frame.Authenticate{Token: token})); err != nil {
		return fmt.Errorf("send Authenticate: %w", err)
	}
	reply, err := readReply(conn, -1)
	if err != nil {
		return err
	}
	switch t := reply.Type.(type) {
	case frame.Ok:
		return nil
	case frame.Error:
		return fmt.Errorf("error authenticating: %s", t.ErrorMessage)
	default:
		return fmt.Errorf("unexpected reply frame: %T", reply.Type)
	}
}

func mintToken(conn framed.Conn, args []string) error {
	fs := flag.NewFlagSet("mint-token", flag.ExitOnError)
	lifetime := fs.Int("lifetime", 3600, "token lifetime in seconds")
	info := fs.String("info", "", "JSON-encoded user info")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("mint-token requires exactly one argument: <user>")
	}
	user := fs.Arg(0)

	var rawInfo json.RawMessage
	if *info != "" {
		rawInfo = json.RawMessage(*info)
	}

	f := frame.New(-2, frame.MintToken{User: user, Info: rawInfo, LifetimeSeconds: uint64(*lifetime)})
	if err := conn.WriteFrame(f); err != nil {
		return fmt.Errorf("send MintToken: %w", err)
	}
	reply, err := readReply(conn, -2)
	if err != nil {
		return err
	}
	switch t := reply.Type.(type) {
	case frame.MintTokenResponse:
		fmt.Println(t.Token)
		return nil
	case frame.Error:
		return fmt.Errorf("error minting token: %s", t.ErrorMessage)
	default:
		return fmt.Errorf("unexpected reply frame: %T", reply.Type)
	}
}

func revokeTokensForUser(conn framed.Conn, args []string) error {
	fs := flag.NewFlagSet("revoke-tokens-for-user", flag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("revoke-tokens-for-user requires exactly one argument: <user>")
	}
	user := fs.Arg(0)

	f := frame.New(-2, frame.RevokeTokensForUser{User: user})
	if err := conn.WriteFrame(f); err != nil {
		return fmt.Errorf("send RevokeTokensForUser: %w", err)
	}
	reply, err := readReply(conn, -2)
	if err != nil {
		return err
	}
	switch t := reply.Type.(type) {
	case frame.Ok:
		fmt.Println("ok")
		return nil
	case frame.Error:
		return fmt.Errorf("error revoking tokens: %s", t.ErrorMessage)
	default:
		return fmt.Errorf("unexpected reply frame: %T", reply.Type)
	}
}

// readReply discards frames that are not a reply to id, matching the
// original CLI's tolerance of unrelated frames arriving interleaved.
func readReply(conn framed.Conn, id int32) (frame.Frame, error) {
	for {
		f, err := conn.ReadFrame()
		if err != nil {
			return frame.Frame{}, fmt.Errorf("read reply: %w", err)
		}
		if f.ReplyTo == nil || *f.ReplyTo != id {
			continue
		}
		return f, nil
	}
}

func resolveToken(tokenFlag string) (string, error) {
	if tokenFlag == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		tokenFlag = filepath.Join(home, ".config", "shrubbery", "token")
	}

	switch {
	case tokenFlag == "-":
		data, err := readAllStdin()
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(data), nil
	case strings.HasPrefix(tokenFlag, "@"):
		data, err := os.ReadFile(tokenFlag[1:])
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(data)), nil
	default:
		if data, err := os.ReadFile(tokenFlag); err == nil {
			return strings.TrimSpace(string(data)), nil
		}
		return tokenFlag, nil
	}
}

func readAllStdin() (string, error) {
	buf := make([]byte, 0, 256)
	chunk := make([]byte, 256)
	for {
		n, err := os.Stdin.Read(chunk)
		buf = append(buf, chunk[:n]...)
		if err != nil {
			break
		}
	}
	return string(buf), nil
}
