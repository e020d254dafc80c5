package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/dzfranklin/shrubbery/pkg/authorizer"
	"github.com/dzfranklin/shrubbery/pkg/docmanager"
	"github.com/dzfranklin/shrubbery/pkg/frame"
	"github.com/dzfranklin/shrubbery/pkg/framed"
)

// presenceChanCapacity is the session's inbound presence-broadcast buffer.
// Distinct from (and larger than) a worker's own length-1 presence-ingress
// channel: it absorbs bursts from every document this session has open.
const presenceChanCapacity = 12

// Session owns one accepted connection for its entire lifetime: the
// PreAuth-to-Active state transition, then the frame dispatch loop.
type Session struct {
	conn       framed.Conn
	authorizer *authorizer.Authorizer
	docs       *docmanager.Manager
	log        *log.Logger

	auth        authorizer.Entry
	open        map[frame.DocId]*docmanager.DocHandle
	presenceTx  chan []frame.PresenceFrame
	nextFrameID int32
}

// New wraps an already-established carrier. Serve must be called to run it.
func New(conn framed.Conn, authz *authorizer.Authorizer, docs *docmanager.Manager, logger *log.Logger) *Session {
	if logger == nil {
		logger = log.Default()
	}
	return &Session{
		conn:       conn,
		authorizer: authz,
		docs:       docs,
		log:        logger,
		open:       make(map[frame.DocId]*docmanager.DocHandle),
		presenceTx: make(chan []frame.PresenceFrame, presenceChanCapacity),
	}
}

type readResult struct {
	frame frame.Frame
	err   error
}

// Serve blocks until the connection closes or ctx is cancelled. The first
// frame read must be Authenticate; every frame after that is dispatched.
// Serve always closes conn before returning.
func (s *Session) Serve(ctx context.Context) error {
	defer s.conn.Close()

	first, err := s.conn.ReadFrame()
	if err != nil {
		return fmt.Errorf("session: read first frame: %w", err)
	}

	auth, ok := first.Type.(frame.Authenticate)
	if !ok {
		s.write(frame.NewReply(1, first.Id, frame.Error{ErrorMessage: "Expected Authenticate frame"}))
		return fmt.Errorf("session: expected Authenticate, got %T", first.Type)
	}
	entry, authOk := s.authorizer.Authenticate(auth.Token)
	if !authOk {
		s.write(frame.NewReply(1, first.Id, frame.Error{ErrorMessage: "invalid token"}))
		return fmt.Errorf("session: invalid token")
	}
	s.auth = entry
	s.nextFrameID = 1
	if err := s.writeReply(first.Id, frame.Ok{}); err != nil {
		return fmt.Errorf("session: reply to Authenticate: %w", err)
	}
	s.log.Printf("[session] authenticated as %s", entry.User)

	reads := make(chan readResult, 1)
	go s.readPump(reads)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case res, ok := <-reads:
			if !ok {
				return nil
			}
			if res.err != nil {
				return fmt.Errorf("session: read: %w", res.err)
			}
			if err := s.dispatch(res.frame); err != nil {
				s.log.Printf("[session] error processing frame %d: %v", res.frame.Id, err)
				if writeErr := s.writeReply(res.frame.Id, frame.Error{ErrorMessage: err.Error()}); writeErr != nil {
					return fmt.Errorf("session: write error reply: %w", writeErr)
				}
				var se *shrubErr
				if errors.As(err, &se) && se.Kind.fatal() {
					return se
				}
			}

		case batch := <-s.presenceTx:
			// Greedily coalesce any further immediately-available batches so
			// the egress stays at most one frame behind actual state.
		drain:
			for {
				select {
				case more := <-s.presenceTx:
					batch = append(batch, more...)
				default:
					break drain
				}
			}
			if err := s.write(frame.New(s.nextFrameID, frame.Presence{Updates: batch})); err != nil {
				return fmt.Errorf("session: write presence broadcast: %w", err)
			}
			s.nextFrameID++
		}
	}
}

// readPump is the only goroutine that calls conn.ReadFrame, bridging its
// blocking reads into Serve's select loop.
func (s *Session) readPump(out chan<- readResult) {
	defer close(out)
	for {
		f, err := s.conn.ReadFrame()
		out <- readResult{frame: f, err: err}
		if err != nil {
			return
		}
	}
}

func (s *Session) dispatch(f frame.Frame) error {
	switch t := f.Type.(type) {
	case frame.Error:
		return ErrUnexpectedErrorFrame

	case frame.MintToken:
		if s.auth.User != "root" {
			return ErrForbidden
		}
		if t.User == "root" {
			// A minted token for "root" would authenticate as root.
			return ErrForbidden
		}
		s.log.Printf("[session] minting token for user %s, lifetime %ds", t.User, t.LifetimeSeconds)
		token, err := s.authorizer.MintToken(authorizer.Entry{
			User:   t.User,
			Expiry: time.Now().Add(time.Duration(t.LifetimeSeconds) * time.Second),
			Info:   t.Info,
		})
		if err != nil {
			return backendErr("mint token", err)
		}
		return s.writeReply(f.Id, frame.MintTokenResponse{Token: token})

	case frame.RevokeTokensForUser:
		if s.auth.User != "root" {
			return ErrForbidden
		}
		if t.User == "root" {
			return ErrCannotRevokeRoot
		}
		s.log.Printf("[session] revoking tokens for user %s", t.User)
		s.authorizer.RevokeTokensForUser(t.User)
		return s.writeReply(f.Id, frame.Ok{})

	case frame.Open:
		handle, err := s.docs.Open(context.Background(), t.Doc, s.auth.User, s.auth.Info, s.presenceTx)
		if err != nil {
			return backendErr(fmt.Sprintf("open %s", t.Doc), err)
		}
		s.open[t.Doc] = handle
		return s.writeReply(f.Id, frame.Ok{})

	case frame.UpdatePresence:
		handle, ok := s.open[t.Doc]
		if !ok {
			return ErrDocNotOpen
		}
		if err := handle.UpdatePresence(context.Background(), t.Presence); err != nil {
			return backendErr("update presence", err)
		}
		return nil

	default:
		s.log.Printf("[session] ignoring unexpected frame type %q", f.Type.Tag())
		return nil
	}
}

func (s *Session) writeReply(replyTo int32, t frame.FrameType) error {
	err := s.write(frame.NewReply(s.nextFrameID, replyTo, t))
	s.nextFrameID++
	return err
}

func (s *Session) write(f frame.Frame) error {
	return s.conn.WriteFrame(f)
}
