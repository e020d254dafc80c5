// Package authorizer is the bearer-token authority: one immortal root token
// plus zero or more minted user tokens with expiries.
package authorizer

import (
	"crypto/rand"
	"encoding/json"
	"log"
	"sync"
	"time"
)

const alphanumAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

const tokenLen = 30

// rootLifetime is long enough to never expire in practice, standing in for
// the original's effectively-infinite root entry.
const rootLifetime = 100 * 365 * 24 * time.Hour

// Entry is an authenticated principal: the user it belongs to, when it
// expires, and optional caller-supplied metadata carried through to
// PresenceFrame.info.
type Entry struct {
	User   string
	Expiry time.Time
	Info   json.RawMessage
}

// Authorizer holds the root token and the minted-token tables behind a
// single mutex. It is created once at startup and shared by pointer across
// every session; all of its state sits behind the mutex.
type Authorizer struct {
	mu       sync.Mutex
	rootToken string
	byToken  map[string]Entry
	byUser   map[string][]string

	log *log.Logger
}

// New constructs an Authorizer around an already-resolved root token.
func New(rootToken string, logger *log.Logger) *Authorizer {
	if logger == nil {
		logger = log.Default()
	}
	return &Authorizer{
		rootToken: rootToken,
		byToken:   make(map[string]Entry),
		byUser:    make(map[string][]string),
		log:       logger,
	}
}

// RandomRootToken generates a fresh root token in the shrubtoken1:ROOT...
// format, for first-run bootstrap.
func RandomRootToken() (string, error) {
	rnd, err := randomAlphanum(tokenLen)
	if err != nil {
		return "", err
	}
	return "shrubtoken1:ROOT" + rnd, nil
}

// MintToken issues a new token bound to entry and records it under both the
// token table and the by-user index.
func (a *Authorizer) MintToken(entry Entry) (string, error) {
	rnd, err := randomAlphanum(tokenLen)
	if err != nil {
		return "", err
	}
	token := "shrubtoken1:" + rnd

	a.mu.Lock()
	defer a.mu.Unlock()
	a.byToken[token] = entry
	a.byUser[entry.User] = append(a.byUser[entry.User], token)
	return token, nil
}

// Authenticate returns the Entry for token, or ok=false if the token is
// unknown or expired. The root token always authenticates to a synthetic
// entry that is never stored in the tables.
func (a *Authorizer) Authenticate(token string) (Entry, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.rootToken != "" && token == a.rootToken {
		return Entry{User: "root", Expiry: time.Now().Add(rootLifetime)}, true
	}

	entry, ok := a.byToken[token]
	if !ok {
		return Entry{}, false
	}
	if time.Now().After(entry.Expiry) {
		return Entry{}, false
	}
	return entry, true
}

// RevokeTokensForUser removes every token belonging to user. It is a no-op
// for "root": the root principal is never revocable or impersonable via a
// minted token.
func (a *Authorizer) RevokeTokensForUser(user string) {
	if user == "root" {
		a.log.Printf("[authorizer] revokeTokensForUser has no effect on root")
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	tokens, ok := a.byUser[user]
	if !ok {
		return
	}
	for _, token := range tokens {
		delete(a.byToken, token)
	}
	delete(a.byUser, user)
}

func randomAlphanum(n int) (string, error) {
	raw := make([]byte, n)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	out := make([]byte, n)
	for i, b := range raw {
		out[i] = alphanumAlphabet[int(b)%len(alphanumAlphabet)]
	}
	return string(out), nil
}
