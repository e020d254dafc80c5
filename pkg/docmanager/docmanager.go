// Package docmanager is the registry of per-document workers: one
// independent goroutine per open DocId that owns the subscriber set for
// that document and fans presence updates out under lossy,
// backpressure-resistant semantics.
//
// Worker lifecycle note (SPEC_FULL.md §9, open question 2): a worker's
// request channel is never explicitly closed by the Manager once created —
// this mirrors the upstream design exactly, where the registry's stored
// sender is itself a live reference that keeps the channel open forever in
// the steady state. The registryEntry.done / reqCh-closed checks below exist
// to evict an entry whose worker has exited for some other reason (panic
// recovery, future lifecycle hook), but under normal operation a worker
// persists for the lifetime of the process once spawned.
package docmanager

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/dzfranklin/shrubbery/pkg/frame"
)

// presenceTick pairs a presence update with the instant it arrived, used to
// evict stale entries from a worker's presence map.
type presenceTick struct {
	at    time.Time
	frame frame.PresenceFrame
}

type openRequest struct {
	user       string
	userInfo   json.RawMessage
	presenceTx chan<- []frame.PresenceFrame
	replyTx    chan *DocHandle
}

// DocHandle is a session's subscription to one open document: its assigned
// per-worker client id, and a sender for delivering presence updates into
// the worker.
type DocHandle struct {
	Doc      frame.DocId
	ClientID uint32

	user            string
	userInfo        json.RawMessage
	presenceIngress chan<- presenceTick
	workerDone      <-chan struct{}
}

// UpdatePresence forwards a presence update to this document's worker. A
// send failure because the worker is gone is propagated as an error, since
// the session that owns this handle treats that as fatal.
func (h *DocHandle) UpdatePresence(ctx context.Context, presence json.RawMessage) error {
	f := frame.PresenceFrame{
		Client:   h.ClientID,
		Doc:      h.Doc,
		User:     h.user,
		Info:     h.userInfo,
		Presence: presence,
	}
	select {
	case h.presenceIngress <- presenceTick{at: time.Now(), frame: f}:
		return nil
	case <-h.workerDone:
		return errWorkerGone
	case <-ctx.Done():
		return ctx.Err()
	}
}

type registryEntry struct {
	tx   chan openRequest
	done chan struct{}
}

// Manager is the process-wide registry mapping DocId to the worker handling
// it. At most one worker exists per DocId at any moment.
type Manager struct {
	mu    sync.Mutex
	opens map[frame.DocId]registryEntry
	log   *log.Logger
}

// NewManager constructs an empty registry.
func NewManager(logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.Default()
	}
	return &Manager{
		opens: make(map[frame.DocId]registryEntry),
		log:   logger,
	}
}

// Open returns the DocHandle for doc, spawning its worker on first access.
// It retries internally if it races a worker that is in the process of
// exiting, per spec §4.5.
func (m *Manager) Open(
	ctx context.Context,
	doc frame.DocId,
	user string,
	userInfo json.RawMessage,
	presenceTx chan<- []frame.PresenceFrame,
) (*DocHandle, error) {
	for {
		entry := m.getOrSpawn(doc)

		replyTx := make(chan *DocHandle, 1)
		req := openRequest{user: user, userInfo: userInfo, presenceTx: presenceTx, replyTx: replyTx}

		select {
		case entry.tx <- req:
		case <-entry.done:
			continue
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		select {
		case handle := <-replyTx:
			return handle, nil
		case <-entry.done:
			continue
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (m *Manager) getOrSpawn(doc frame.DocId) registryEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entry, ok := m.opens[doc]; ok {
		select {
		case <-entry.done:
			delete(m.opens, doc)
		default:
			return entry
		}
	}

	entry := registryEntry{tx: make(chan openRequest, 1), done: make(chan struct{})}
	m.opens[doc] = entry
	go runWorker(doc, entry.tx, entry.done, m.log)
	return entry
}
