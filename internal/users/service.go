package users

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase = errors.New("users: database handle is required")
	errMissingUserID   = errors.New("users: user identifier is required")

	noOpLogger = zap.NewNop()
)

// ServiceConfig describes the dependencies of the user directory.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service is the user directory: it stores identities observed during
// authentication and resolves user ids to display names for attribution.
type Service struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewService validates the configuration and returns a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
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
	return &Service{db: cfg.Database, clock: clock, logger: logger}, nil
}

// EnsureIdentity upserts the profile attributes seen at authentication time.
func (s *Service) EnsureIdentity(ctx context.Context, identity Identity) error {
	if strings.TrimSpace(identity.UserID) == "" {
		return errMissingUserID
	}
	now := s.clock().UTC().Unix()
	identity.CreatedAtSeconds = now
	identity.UpdatedAtSeconds = now
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"tenant_id", "email", "display_name", "updated_at_s"}),
		}).
		Create(&identity).Error
}

// DisplayName resolves a user id to a human-readable name. An unknown user
// falls back to the raw id so attribution never fails on a missing profile.
func (s *Service) DisplayName(ctx context.Context, userID string) string {
	var identity Identity
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Take(&identity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return userID
	}
	if err != nil {
		s.logger.Warn("display name lookup failed", zap.String("user_id", userID), zap.Error(err))
		return userID
	}
	if strings.TrimSpace(identity.DisplayName) == "" {
		return userID
	}
	return identity.DisplayName
}
