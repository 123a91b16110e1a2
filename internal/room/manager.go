package room

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ParchmentLabs/drafthub/backend/internal/crdt"
	"github.com/ParchmentLabs/drafthub/backend/internal/docs"
	"github.com/ParchmentLabs/drafthub/backend/internal/tracker"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	defaultHeartbeatInterval = 30 * time.Second
	defaultHeartbeatGrace    = 60 * time.Second
)

var (
	errMissingDocsService = errors.New("room: docs service is required")
	errMissingStateStore  = errors.New("room: state store is required")
	errMissingTracker     = errors.New("room: change tracker is required")

	noOpLogger = zap.NewNop()
)

// ManagerConfig describes the dependencies and tuning of the room manager.
type ManagerConfig struct {
	Docs              *docs.Service
	Store             *crdt.Store
	Tracker           *tracker.Tracker
	Logger            *zap.Logger
	HeartbeatInterval time.Duration
	HeartbeatGrace    time.Duration
}

// Manager is the network-facing orchestrator: it authorizes joins through the
// permission gate, owns one room per actively edited draft, and coordinates
// shutdown.
type Manager struct {
	history *docs.Service
	store   *crdt.Store
	tracker *tracker.Tracker
	logger  *zap.Logger

	heartbeatInterval time.Duration
	heartbeatGrace    time.Duration

	mu     sync.Mutex
	rooms  map[string]*room
	closed bool
}

// NewManager validates the configuration and returns a Manager.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Docs == nil {
		return nil, errMissingDocsService
	}
	if cfg.Store == nil {
		return nil, errMissingStateStore
	}
	if cfg.Tracker == nil {
		return nil, errMissingTracker
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	interval := cfg.HeartbeatInterval
	if interval <= 0 {
		interval = defaultHeartbeatInterval
	}
	grace := cfg.HeartbeatGrace
	if grace <= interval {
		grace = interval * 2
	}

	return &Manager{
		history:           cfg.Docs,
		store:             cfg.Store,
		tracker:           cfg.Tracker,
		logger:            logger,
		heartbeatInterval: interval,
		heartbeatGrace:    grace,
		rooms:             make(map[string]*room),
	}, nil
}

// Join admits an authenticated connection to the draft's room and blocks
// until the connection closes. Any resolvable level joins; LevelNone closes
// the connection with the same reason used for a nonexistent draft.
func (m *Manager) Join(ctx context.Context, ws *websocket.Conn, userID, tenantID, draftID string) {
	if m.isClosed() {
		closeWithCode(ws, websocket.CloseGoingAway, CloseReasonServerShutdown)
		return
	}

	level, err := m.history.Resolve(ctx, draftID, userID, tenantID)
	if err != nil {
		m.logger.Error("permission resolution failed",
			zap.String("draft_id", draftID),
			zap.String("user_id", userID),
			zap.Error(err))
		closeWithCode(ws, websocket.CloseInternalServerErr, "internal error")
		return
	}
	if level == docs.LevelNone {
		ClosePolicyViolation(ws, CloseReasonDraftNotFound)
		return
	}

	for {
		r, err := m.roomFor(ctx, draftID, tenantID)
		if err != nil {
			if errors.Is(err, docs.ErrDraftNotFound) {
				ClosePolicyViolation(ws, CloseReasonDraftNotFound)
				return
			}
			m.logger.Error("room open failed", zap.String("draft_id", draftID), zap.Error(err))
			closeWithCode(ws, websocket.CloseInternalServerErr, "internal error")
			return
		}

		c := newConnection(ws, userID, level, r)
		if !r.addMember(c) {
			// Lost a race with the room retiring; open a fresh room.
			continue
		}

		m.logger.Info("connection joined",
			zap.String("draft_id", draftID),
			zap.String("user_id", userID),
			zap.String("level", string(level)))

		go c.writePump()
		c.readPump()
		r.removeMember(c)
		c.forceClose(websocket.CloseNormalClosure, "")

		m.logger.Info("connection left",
			zap.String("draft_id", draftID),
			zap.String("user_id", userID))
		return
	}
}

// roomFor returns the live room for a draft, creating it lazily. Corrupt
// persisted state is recovered as an empty document with a warning rather
// than locking every future connection out of the draft.
func (m *Manager) roomFor(ctx context.Context, draftID, tenantID string) (*room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.rooms[draftID]; ok {
		return existing, nil
	}

	state, err := m.store.Load(ctx, draftID, tenantID)
	if err != nil {
		if !errors.Is(err, crdt.ErrCorruptState) {
			return nil, err
		}
		m.logger.Warn("persisted state corrupt, recovering with empty document",
			zap.String("draft_id", draftID),
			zap.Error(err))
		state = crdt.NewState()
	}

	m.tracker.Initialize(draftID)
	r := newRoom(draftID, tenantID, state, m)
	m.rooms[draftID] = r
	m.logger.Info("room opened", zap.String("draft_id", draftID))
	return r, nil
}

func (m *Manager) dropRoom(r *room) {
	m.mu.Lock()
	if m.rooms[r.draftID] == r {
		delete(m.rooms, r.draftID)
	}
	m.mu.Unlock()
}

func (m *Manager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// RoomCount reports the number of live rooms.
func (m *Manager) RoomCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rooms)
}

// Shutdown closes every open connection with a server-shutdown reason and
// persists every active room's state before releasing them.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	m.closed = true
	rooms := make([]*room, 0, len(m.rooms))
	for _, r := range m.rooms {
		rooms = append(rooms, r)
	}
	m.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		for _, r := range rooms {
			r.shutdown()
		}
		close(finished)
	}()

	select {
	case <-finished:
	case <-ctx.Done():
		m.logger.Warn("shutdown deadline reached before all rooms persisted")
	}
}
