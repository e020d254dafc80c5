package docmanager

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/dzfranklin/shrubbery/pkg/frame"
	"github.com/stretchr/testify/require"
)

func TestOpen_AssignsIncreasingClientIDs(t *testing.T) {
	m := NewManager(nil)
	doc := frame.NewDocId()
	ctx := context.Background()

	h1, err := m.Open(ctx, doc, "alice", nil, make(chan []frame.PresenceFrame, 1))
	require.NoError(t, err)
	require.Equal(t, uint32(1), h1.ClientID)

	h2, err := m.Open(ctx, doc, "bob", nil, make(chan []frame.PresenceFrame, 1))
	require.NoError(t, err)
	require.Equal(t, uint32(2), h2.ClientID)
}

func TestOpen_DifferentDocsGetIndependentWorkers(t *testing.T) {
	m := NewManager(nil)
	ctx := context.Background()

	h1, err := m.Open(ctx, frame.NewDocId(), "alice", nil, make(chan []frame.PresenceFrame, 1))
	require.NoError(t, err)
	h2, err := m.Open(ctx, frame.NewDocId(), "alice", nil, make(chan []frame.PresenceFrame, 1))
	require.NoError(t, err)

	require.Equal(t, uint32(1), h1.ClientID)
	require.Equal(t, uint32(1), h2.ClientID)
}

func TestUpdatePresence_FannedOutToOtherClientsNotSender(t *testing.T) {
	m := NewManager(nil)
	doc := frame.NewDocId()
	ctx := context.Background()

	rx1 := make(chan []frame.PresenceFrame, 4)
	rx2 := make(chan []frame.PresenceFrame, 4)

	h1, err := m.Open(ctx, doc, "alice", nil, rx1)
	require.NoError(t, err)
	h2, err := m.Open(ctx, doc, "bob", nil, rx2)
	require.NoError(t, err)

	require.NoError(t, h1.UpdatePresence(ctx, json.RawMessage(`{"cursor":1}`)))

	select {
	case snapshot := <-rx2:
		require.Len(t, snapshot, 1)
		require.Equal(t, h1.ClientID, snapshot[0].Client)
		require.Equal(t, "alice", snapshot[0].User)
	case <-time.After(2 * time.Second):
		t.Fatal("bob did not receive alice's presence update")
	}

	select {
	case <-rx1:
		t.Fatal("alice should not receive her own presence update")
	case <-time.After(100 * time.Millisecond):
	}

	_ = h2
}

func TestUpdatePresence_MultipleUpdatesAllDelivered(t *testing.T) {
	m := NewManager(nil)
	doc := frame.NewDocId()
	ctx := context.Background()

	rx := make(chan []frame.PresenceFrame, 8)
	h1, err := m.Open(ctx, doc, "alice", nil, make(chan []frame.PresenceFrame, 1))
	require.NoError(t, err)
	_, err = m.Open(ctx, doc, "bob", nil, rx)
	require.NoError(t, err)

	require.NoError(t, h1.UpdatePresence(ctx, json.RawMessage(`{"cursor":1}`)))
	require.NoError(t, h1.UpdatePresence(ctx, json.RawMessage(`{"cursor":2}`)))

	var last []frame.PresenceFrame
	for i := 0; i < 2; i++ {
		select {
		case last = <-rx:
		case <-time.After(2 * time.Second):
			t.Fatal("did not receive expected presence broadcast")
		}
	}
	require.Len(t, last, 1)
	require.JSONEq(t, `{"cursor":2}`, string(last[0].Presence))
}
