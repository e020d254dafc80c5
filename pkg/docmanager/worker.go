package docmanager

import (
	"errors"
	"log"
	"time"

	"github.com/dzfranklin/shrubbery/pkg/frame"
)

// errWorkerGone is returned by DocHandle.UpdatePresence when the owning
// worker has exited.
var errWorkerGone = errors.New("docmanager: worker is gone")

// presenceStaleness is how long a client's last presence tick is held before
// the worker evicts it from its broadcast snapshot.
const presenceStaleness = 30 * time.Second

// broadcastInterval is how often the worker re-sends a full presence
// snapshot to every connected client, independent of new updates arriving.
const broadcastInterval = 10 * time.Second

type client struct {
	tx chan<- []frame.PresenceFrame
}

// runWorker owns one document's subscriber set for as long as it runs. It
// serves open requests, ingests presence updates from handles already
// issued, and periodically broadcasts a full presence snapshot. See the
// package doc comment for why, in the steady state, this loop has no
// reachable exit: reqCh is never closed once the registry creates it.
func runWorker(doc frame.DocId, reqCh <-chan openRequest, done chan<- struct{}, logger *log.Logger) {
	defer close(done)

	var nextHandleID uint32 = 1
	clients := make(map[uint32]client)
	presenceMap := make(map[uint32]presenceTick)
	presenceIngress := make(chan presenceTick, 1)

	ticker := time.NewTicker(broadcastInterval)
	defer ticker.Stop()

	// deliver sends snapshot to every client except excluding, dropping (not
	// blocking on) any client whose presence channel is full.
	deliver := func(snapshot []frame.PresenceFrame, excluding uint32) {
		for id, c := range clients {
			if id == excluding {
				continue
			}
			select {
			case c.tx <- snapshot:
			default:
				logger.Printf("[docmanager] doc %s: dropping presence broadcast to slow client %d", doc, id)
			}
		}
	}

	for {
		select {
		case req, ok := <-reqCh:
			if !ok {
				return
			}
			id := nextHandleID
			nextHandleID++
			clients[id] = client{tx: req.presenceTx}
			req.replyTx <- &DocHandle{
				Doc:             doc,
				ClientID:        id,
				user:            req.user,
				userInfo:        req.userInfo,
				presenceIngress: presenceIngress,
				workerDone:      done,
			}

		case tick := <-presenceIngress:
			// Only the frame that just arrived fans out here; the full
			// snapshot is the periodic ticker's job below.
			presenceMap[tick.frame.Client] = tick
			deliver([]frame.PresenceFrame{tick.frame}, tick.frame.Client)

		case <-ticker.C:
			now := time.Now()
			for id, tick := range presenceMap {
				if now.Sub(tick.at) > presenceStaleness {
					delete(presenceMap, id)
				}
			}
			if len(presenceMap) == 0 {
				continue
			}
			snapshot := make([]frame.PresenceFrame, 0, len(presenceMap))
			for _, tick := range presenceMap {
				snapshot = append(snapshot, tick.frame)
			}
			deliver(snapshot, 0)
		}
	}
}
