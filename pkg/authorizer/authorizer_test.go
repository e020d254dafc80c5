package authorizer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAuthenticate_RootToken(t *testing.T) {
	a := New("shrubtoken1:ROOTsecret", nil)

	entry, ok := a.Authenticate("shrubtoken1:ROOTsecret")
	require.True(t, ok)
	require.Equal(t, "root", entry.User)
	require.True(t, entry.Expiry.After(time.Now().Add(24*time.Hour)))
}

func TestAuthenticate_UnknownTokenFails(t *testing.T) {
	a := New("root-token", nil)
	_, ok := a.Authenticate("shrubtoken1:bogus")
	require.False(t, ok)
}

func TestMintTokenThenAuthenticate(t *testing.T) {
	a := New("root-token", nil)

	token, err := a.MintToken(Entry{User: "alice", Expiry: time.Now().Add(time.Hour)})
	require.NoError(t, err)
	require.Contains(t, token, "shrubtoken1:")

	entry, ok := a.Authenticate(token)
	require.True(t, ok)
	require.Equal(t, "alice", entry.User)
}

func TestAuthenticate_ExpiredTokenFails(t *testing.T) {
	a := New("root-token", nil)

	token, err := a.MintToken(Entry{User: "alice", Expiry: time.Now().Add(-time.Second)})
	require.NoError(t, err)

	_, ok := a.Authenticate(token)
	require.False(t, ok)
}

func TestRevokeTokensForUser_RemovesAllThatUsersTokens(t *testing.T) {
	a := New("root-token", nil)

	t1, err := a.MintToken(Entry{User: "alice", Expiry: time.Now().Add(time.Hour)})
	require.NoError(t, err)
	t2, err := a.MintToken(Entry{User: "alice", Expiry: time.Now().Add(time.Hour)})
	require.NoError(t, err)
	tOther, err := a.MintToken(Entry{User: "bob", Expiry: time.Now().Add(time.Hour)})
	require.NoError(t, err)

	a.RevokeTokensForUser("alice")

	_, ok1 := a.Authenticate(t1)
	_, ok2 := a.Authenticate(t2)
	require.False(t, ok1)
	require.False(t, ok2)

	_, okOther := a.Authenticate(tOther)
	require.True(t, okOther)
}

func TestRevokeTokensForUser_RootIsNoOp(t *testing.T) {
	a := New("root-token", nil)
	a.RevokeTokensForUser("root")

	entry, ok := a.Authenticate("root-token")
	require.True(t, ok)
	require.Equal(t, "root", entry.User)
}

func TestRandomRootToken_HasExpectedPrefix(t *testing.T) {
	token, err := RandomRootToken()
	require.NoError(t, err)
	require.Contains(t, token, "shrubtoken1:ROOT")
}

func TestMintToken_TokensAreUnique(t *testing.T) {
	a := New("root-token", nil)
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		token, err := a.MintToken(Entry{User: "alice", Expiry: time.Now().Add(time.Hour)})
		require.NoError(t, err)
		require.False(t, seen[token], "token collision")
		seen[token] = true
	}
}
