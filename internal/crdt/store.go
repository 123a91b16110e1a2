package crdt

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ParchmentLabs/drafthub/backend/internal/docs"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase = errors.New("crdt: database handle is required")

	noOpLogger = zap.NewNop()
)

// StoreConfig describes the dependencies of the state store.
type StoreConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Store persists replicated document state on the draft row. Load and Save
// are tenant-scoped; corrupt persisted bytes surface as ErrCorruptState so
// the caller can choose between hard failure and recovery.
type Store struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewStore validates the configuration and returns a Store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Store{db: cfg.Database, clock: clock, logger: logger}, nil
}

// Load decodes the persisted state for a draft, or returns a fresh state when
// none has been persisted yet.
func (s *Store) Load(ctx context.Context, draftID, tenantID string) (*State, error) {
	var draft docs.Draft
	err := s.db.WithContext(ctx).
		Where("draft_id = ? AND tenant_id = ?", draftID, tenantID).
		Take(&draft).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, docs.ErrDraftNotFound
	}
	if err != nil {
		s.logger.Error("state load failed", zap.String("draft_id", draftID), zap.Error(err))
		return nil, fmt.Errorf("crdt: load state: %w", err)
	}
	if len(draft.StateBlob) == 0 {
		return NewState(), nil
	}
	state, decodeErr := Decode(draft.StateBlob)
	if decodeErr != nil {
		return nil, decodeErr
	}
	return state, nil
}

// Save writes the encoded state and its plain-text projection to the draft
// row.
func (s *Store) Save(ctx context.Context, draftID, tenantID string, state *State) error {
	return s.SaveEncoded(ctx, draftID, tenantID, state.Encode(), state.PlainText())
}

// SaveEncoded writes pre-encoded state bytes. Callers that must not hold a
// lock while persisting encode first and hand the bytes here.
func (s *Store) SaveEncoded(ctx context.Context, draftID, tenantID string, stateBlob []byte, plainText string) error {
	result := s.db.WithContext(ctx).
		Model(&docs.Draft{}).
		Where("draft_id = ? AND tenant_id = ?", draftID, tenantID).
		Updates(map[string]interface{}{
			"state_blob":   stateBlob,
			"plain_text":   plainText,
			"updated_at_s": s.clock().UTC().Unix(),
		})
	if result.Error != nil {
		s.logger.Error("state save failed", zap.String("draft_id", draftID), zap.Error(result.Error))
		return fmt.Errorf("crdt: save state: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return docs.ErrDraftNotFound
	}
	return nil
}
