package session

// shrubErrKind classifies a dispatch error by SPEC_FULL.md's error taxonomy:
// it decides whether the triggering frame gets an Error reply and the
// session continues, or whether Serve closes the connection after that
// reply.
type shrubErrKind int

const (
	kindAuthorization shrubErrKind = iota
	kindSemantics
	kindBackend
)

// fatal reports whether this kind should end the session once its Error
// reply has gone out, rather than continue dispatching further frames.
func (k shrubErrKind) fatal() bool {
	return k == kindBackend
}

// shrubErr is the dispatch-facing error type: Message is what goes out on
// the wire in an Error frame, Kind decides fatal-vs-per-frame handling, and
// Cause (when present) is the underlying plumbing error, unwrapped for
// errors.Is/errors.As.
type shrubErr struct {
	Kind    shrubErrKind
	Message string
	Cause   error
}

func (e *shrubErr) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *shrubErr) Unwrap() error { return e.Cause }

var (
	// ErrForbidden guards root-only frame types (MintToken,
	// RevokeTokensForUser) against a non-root principal, and refuses a
	// MintToken whose user is "root".
	ErrForbidden = &shrubErr{Kind: kindAuthorization, Message: "forbidden"}

	// ErrDocNotOpen is returned when UpdatePresence names a DocId the
	// session never successfully opened.
	ErrDocNotOpen = &shrubErr{Kind: kindSemantics, Message: "doc not open"}

	// ErrCannotRevokeRoot guards against RevokeTokensForUser targeting the
	// root principal.
	ErrCannotRevokeRoot = &shrubErr{Kind: kindAuthorization, Message: "cannot use RevokeTokensForUser on root"}

	// ErrUnexpectedErrorFrame is returned when a client sends an Error
	// frame, which is a server-to-client-only variant.
	ErrUnexpectedErrorFrame = &shrubErr{Kind: kindSemantics, Message: "unexpected error frame"}
)

// backendErr wraps a document-worker or authorizer-backend failure: the
// triggering frame still gets a best-effort Error reply, but Serve closes
// the connection afterward rather than continuing to dispatch.
func backendErr(message string, cause error) *shrubErr {
	return &shrubErr{Kind: kindBackend, Message: message, Cause: cause}
}
