package room

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"sync"
	"time"

	"github.com/ParchmentLabs/drafthub/backend/internal/crdt"
	"github.com/ParchmentLabs/drafthub/backend/internal/docs"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	persistTimeout     = 10 * time.Second
	persistMaxAttempts = 3
	persistBackoff     = 250 * time.Millisecond

	snapshotDescription = "automatic checkpoint"
)

type persistPayload struct {
	seq       uint64
	stateBlob []byte
	plainText string
}

// room owns the authoritative replicated state for one draft while at least
// one connection is live. Every mutation of state, membership, or tracking
// counters goes through mu; different rooms proceed fully in parallel.
type room struct {
	draftID  string
	tenantID string
	manager  *Manager

	mu      sync.Mutex
	state   *crdt.State
	members map[*connection]bool
	retired bool

	// snapshotMu serializes the decide-reset-write snapshot path so two
	// concurrent merges cannot both act on the same threshold crossing.
	snapshotMu sync.Mutex

	retireOnce sync.Once

	// persistSeq stamps each captured state with the merge it reflects; it is
	// guarded by mu. newestEnqueuedSeq, guarded by enqueueMu, is the highest
	// sequence ever handed to the persist loop.
	persistSeq        uint64
	enqueueMu         sync.Mutex
	newestEnqueuedSeq uint64

	persistCh chan persistPayload
	done      chan struct{}
	loopDone  chan struct{}
}

func newRoom(draftID, tenantID string, state *crdt.State, manager *Manager) *room {
	r := &room{
		draftID:   draftID,
		tenantID:  tenantID,
		manager:   manager,
		state:     state,
		members:   make(map[*connection]bool),
		persistCh: make(chan persistPayload, 1),
		done:      make(chan struct{}),
		loopDone:  make(chan struct{}),
	}
	go r.persistLoop()
	return r
}

// addMember admits a connection, hands it the current state, and announces
// its presence. It fails when the room already retired so the caller can
// recreate the room.
func (r *room) addMember(c *connection) bool {
	r.mu.Lock()
	if r.retired {
		r.mu.Unlock()
		return false
	}
	r.members[c] = true

	// The state snapshot is taken under the lock: a new member always sees
	// every merge applied before it joined.
	c.enqueueMessage(Message{
		Type:       MessageTypeStateSync,
		PayloadB64: base64.StdEncoding.EncodeToString(r.state.Encode()),
	})
	r.broadcastLocked(c, Message{
		Type:   MessageTypePresence,
		Event:  PresenceEventJoin,
		UserID: c.userID,
	})
	r.mu.Unlock()
	return true
}

// removeMember drops a connection and, when the room empties, retires the
// room: final persistence, tracking cleanup, and deregistration.
func (r *room) removeMember(c *connection) {
	r.mu.Lock()
	if !r.members[c] {
		r.mu.Unlock()
		return
	}
	delete(r.members, c)
	empty := len(r.members) == 0
	var final persistPayload
	if empty {
		r.retired = true
		final = r.capturePersistLocked()
	} else {
		r.broadcastLocked(nil, Message{
			Type:   MessageTypePresence,
			Event:  PresenceEventLeave,
			UserID: c.userID,
		})
	}
	r.mu.Unlock()

	if empty {
		r.retire(final)
	}
}

// retire stops the persist loop, writes the final state synchronously, and
// discards tracking. The persist loop drains before the final write so saves
// for this room are never reordered.
func (r *room) retire(final persistPayload) {
	r.retireOnce.Do(func() {
		r.manager.dropRoom(r)
		close(r.done)
		<-r.loopDone
		r.persist(final)
		r.manager.tracker.Cleanup(r.draftID)
		r.manager.logger.Info("room closed", zap.String("draft_id", r.draftID))
	})
}

// broadcastLocked sends to every member except skip. Callers hold r.mu.
func (r *room) broadcastLocked(skip *connection, message Message) {
	frame, err := json.Marshal(message)
	if err != nil {
		r.manager.logger.Error("broadcast encode failed", zap.Error(err))
		return
	}
	for member := range r.members {
		if member == skip {
			continue
		}
		member.enqueue(frame)
	}
}

// handleUpdate runs the merge path for one incoming delta: merge, record,
// broadcast to everyone else, queue persistence, and snapshot when due.
func (r *room) handleUpdate(c *connection, payload []byte) {
	if !c.level.AtLeast(docs.LevelEdit) {
		r.manager.logger.Warn("update rejected for insufficient level",
			zap.String("draft_id", r.draftID),
			zap.String("user_id", c.userID),
			zap.String("level", string(c.level)))
		c.enqueueMessage(Message{Type: MessageTypeUpdateRejected, Reason: RejectReasonInsufficientLevel})
		return
	}

	pending, ok := r.applyUpdate(c, payload)
	if !ok {
		return
	}
	r.enqueuePersist(pending)
	r.maybeSnapshot()
}

// applyUpdate merges one delta into the room state under the lock. The unlock
// is deferred so a failing merge can never leave the room wedged.
func (r *room) applyUpdate(c *connection, payload []byte) (persistPayload, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	applied, err := r.state.Merge(payload)
	if err != nil {
		c.enqueueMessage(Message{Type: MessageTypeUpdateRejected, Reason: RejectReasonInvalidUpdate})
		return persistPayload{}, false
	}
	if applied == 0 {
		// Duplicate delivery; the merge is idempotent and nothing changed.
		return persistPayload{}, false
	}

	r.manager.tracker.RecordChange(r.draftID, c.userID, len(payload))
	r.broadcastLocked(c, Message{
		Type:       MessageTypeUpdate,
		UserID:     c.userID,
		PayloadB64: base64.StdEncoding.EncodeToString(payload),
	})
	return r.capturePersistLocked(), true
}

// capturePersistLocked snapshots the current state for persistence. Callers
// hold r.mu; the sequence records which merge the bytes reflect.
func (r *room) capturePersistLocked() persistPayload {
	r.persistSeq++
	return persistPayload{
		seq:       r.persistSeq,
		stateBlob: r.state.Encode(),
		plainText: r.state.PlainText(),
	}
}

// maybeSnapshot writes a durable version when the tracker says one is due.
// Contributor name resolution happens outside the room's exclusive section;
// the decide-reset-write sequence itself is serialized by snapshotMu.
func (r *room) maybeSnapshot() {
	r.snapshotMu.Lock()
	defer r.snapshotMu.Unlock()

	if !r.manager.tracker.ShouldSnapshot(r.draftID) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	contributors := r.manager.tracker.ContributorsAndReset(ctx, r.draftID)
	if len(contributors) == 0 {
		return
	}

	r.mu.Lock()
	stateBlob := r.state.Encode()
	plainText := r.state.PlainText()
	r.mu.Unlock()

	snapshotContributors := make([]docs.SnapshotContributor, 0, len(contributors))
	for _, contributor := range contributors {
		snapshotContributors = append(snapshotContributors, docs.SnapshotContributor{
			UserID:      contributor.UserID,
			DisplayName: contributor.DisplayName,
			ChangeBytes: contributor.ChangeBytes,
		})
	}

	version, err := r.manager.history.WriteSnapshot(ctx, docs.SnapshotRequest{
		DraftID:      r.draftID,
		TenantID:     r.tenantID,
		StateBlob:    stateBlob,
		PlainText:    plainText,
		CreatedBy:    contributors[0].UserID,
		Description:  snapshotDescription,
		Contributors: snapshotContributors,
	})
	if err != nil {
		// Return the counted bytes so attribution survives and a later merge
		// retries the snapshot.
		r.manager.tracker.Recredit(r.draftID, contributors)
		r.manager.logger.Error("snapshot write failed",
			zap.String("draft_id", r.draftID),
			zap.Error(err))
		return
	}
	r.manager.logger.Info("snapshot written",
		zap.String("draft_id", r.draftID),
		zap.Int64("version", version),
		zap.Int("contributors", len(contributors)))
}

// enqueuePersist hands the latest encoded state to the persist loop. The
// channel holds only the newest pending write; a payload older than the
// newest ever enqueued is dropped so persisted state never moves backwards.
func (r *room) enqueuePersist(payload persistPayload) {
	r.enqueueMu.Lock()
	defer r.enqueueMu.Unlock()
	if payload.seq <= r.newestEnqueuedSeq {
		return
	}
	r.newestEnqueuedSeq = payload.seq
	for {
		select {
		case r.persistCh <- payload:
			return
		default:
			select {
			case <-r.persistCh:
			default:
			}
		}
	}
}

func (r *room) persistLoop() {
	defer close(r.loopDone)
	for {
		select {
		case payload := <-r.persistCh:
			r.persist(payload)
		case <-r.done:
			select {
			case payload := <-r.persistCh:
				r.persist(payload)
			default:
			}
			return
		}
	}
}

// persist writes state with bounded retries. Failures leave a durability lag
// but never block the merge path.
func (r *room) persist(payload persistPayload) {
	if payload.stateBlob == nil {
		return
	}
	backoff := persistBackoff
	for attempt := 1; attempt <= persistMaxAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		err := r.manager.store.SaveEncoded(ctx, r.draftID, r.tenantID, payload.stateBlob, payload.plainText)
		cancel()
		if err == nil {
			return
		}
		r.manager.logger.Error("state persistence failed",
			zap.String("draft_id", r.draftID),
			zap.Int("attempt", attempt),
			zap.Error(err))
		if attempt < persistMaxAttempts {
			time.Sleep(backoff)
			backoff *= 2
		}
	}
}

// shutdown closes every member with a server-shutdown reason and persists the
// room's state.
func (r *room) shutdown() {
	r.mu.Lock()
	r.retired = true
	members := make([]*connection, 0, len(r.members))
	for member := range r.members {
		members = append(members, member)
	}
	r.members = make(map[*connection]bool)
	final := r.capturePersistLocked()
	r.mu.Unlock()

	for _, member := range members {
		member.forceClose(websocket.CloseGoingAway, CloseReasonServerShutdown)
	}
	r.retire(final)
}
