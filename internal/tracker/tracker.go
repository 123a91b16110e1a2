package tracker

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultSnapshotInterval is the elapsed time after which pending
	// changes force a snapshot.
	DefaultSnapshotInterval = 5 * time.Minute
	// DefaultByteThreshold is the cumulative change volume that forces a
	// snapshot regardless of elapsed time.
	DefaultByteThreshold = 100
)

var noOpLogger = zap.NewNop()

// NameResolver resolves a user id to a display name for attribution.
type NameResolver interface {
	DisplayName(ctx context.Context, userID string) string
}

// Contributor attributes cumulative change volume to one user since the last
// snapshot.
type Contributor struct {
	UserID      string
	DisplayName string
	ChangeBytes int64
}

type docTracking struct {
	byUser         map[string]int64
	totalBytes     int64
	lastSnapshotAt time.Time
	lastResetTotal int64
}

// Config describes the dependencies and thresholds of the Tracker.
type Config struct {
	SnapshotInterval time.Duration
	ByteThreshold    int64
	Clock            func() time.Time
	Names            NameResolver
	Logger           *zap.Logger
}

// Tracker observes merged updates per draft and decides when a durable
// snapshot must be written. It never chooses what the snapshot contains, only
// when one is due.
type Tracker struct {
	mu        sync.Mutex
	docs      map[string]*docTracking
	interval  time.Duration
	threshold int64
	clock     func() time.Time
	names     NameResolver
	logger    *zap.Logger
}

// New constructs a Tracker, applying defaults for unset thresholds.
func New(cfg Config) *Tracker {
	interval := cfg.SnapshotInterval
	if interval <= 0 {
		interval = DefaultSnapshotInterval
	}
	threshold := cfg.ByteThreshold
	if threshold <= 0 {
		threshold = DefaultByteThreshold
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Tracker{
		docs:      make(map[string]*docTracking),
		interval:  interval,
		threshold: threshold,
		clock:     clock,
		names:     cfg.Names,
		logger:    logger,
	}
}

// Initialize creates empty tracking state for a draft. Re-initializing an
// actively tracked draft is a no-op.
func (t *Tracker) Initialize(draftID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.docs[draftID]; exists {
		return
	}
	t.docs[draftID] = &docTracking{
		byUser:         make(map[string]int64),
		lastSnapshotAt: t.clock().UTC(),
	}
}

// RecordChange adds byteSize to the user's and the draft's running totals.
// An untracked draft is a warning, not a crash.
func (t *Tracker) RecordChange(draftID, userID string, byteSize int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tracking, exists := t.docs[draftID]
	if !exists {
		t.logger.Warn("change recorded for untracked draft",
			zap.String("draft_id", draftID),
			zap.String("user_id", userID))
		return
	}
	tracking.byUser[userID] += int64(byteSize)
	tracking.totalBytes += int64(byteSize)
}

// ShouldSnapshot reports whether pending changes warrant a durable snapshot:
// some change volume, and either the interval has elapsed since the last
// snapshot or the byte threshold has been reached.
func (t *Tracker) ShouldSnapshot(draftID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	tracking, exists := t.docs[draftID]
	if !exists || tracking.totalBytes == 0 {
		return false
	}
	if tracking.totalBytes >= t.threshold {
		return true
	}
	return t.clock().UTC().Sub(tracking.lastSnapshotAt) >= t.interval
}

// ContributorsAndReset resolves tracked users to display names, returns them
// sorted by descending change volume, and atomically clears the per-user map.
// The pre-reset total is retained to detect drift between resets.
func (t *Tracker) ContributorsAndReset(ctx context.Context, draftID string) []Contributor {
	t.mu.Lock()
	tracking, exists := t.docs[draftID]
	if !exists {
		t.mu.Unlock()
		t.logger.Warn("contributor reset for untracked draft", zap.String("draft_id", draftID))
		return nil
	}
	counted := make(map[string]int64, len(tracking.byUser))
	for userID, byteCount := range tracking.byUser {
		counted[userID] = byteCount
	}
	tracking.lastResetTotal = tracking.totalBytes
	tracking.byUser = make(map[string]int64)
	tracking.totalBytes = 0
	tracking.lastSnapshotAt = t.clock().UTC()
	t.mu.Unlock()

	// Name resolution does I/O and runs outside the lock.
	contributors := make([]Contributor, 0, len(counted))
	for userID, byteCount := range counted {
		displayName := userID
		if t.names != nil {
			displayName = t.names.DisplayName(ctx, userID)
		}
		contributors = append(contributors, Contributor{
			UserID:      userID,
			DisplayName: displayName,
			ChangeBytes: byteCount,
		})
	}
	sort.Slice(contributors, func(i, j int) bool {
		if contributors[i].ChangeBytes != contributors[j].ChangeBytes {
			return contributors[i].ChangeBytes > contributors[j].ChangeBytes
		}
		return contributors[i].UserID < contributors[j].UserID
	})
	return contributors
}

// Recredit returns change volume to the draft's running totals after a failed
// snapshot write so attribution is not lost. Recrediting an untracked draft is
// a no-op.
func (t *Tracker) Recredit(draftID string, contributors []Contributor) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tracking, exists := t.docs[draftID]
	if !exists {
		return
	}
	for _, contributor := range contributors {
		tracking.byUser[contributor.UserID] += contributor.ChangeBytes
		tracking.totalBytes += contributor.ChangeBytes
	}
}

// SnapshotBaseline reports the total change volume consumed by the most
// recent reset. A baseline that disagrees with the bytes attributed in the
// written snapshot indicates drift between tracking and history.
func (t *Tracker) SnapshotBaseline(draftID string) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	tracking, exists := t.docs[draftID]
	if !exists {
		return 0
	}
	return tracking.lastResetTotal
}

// Cleanup discards tracking state entirely. Called when a room closes.
func (t *Tracker) Cleanup(draftID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.docs, draftID)
}
