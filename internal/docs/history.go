package docs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opWriteSnapshot  = "docs.write_snapshot"
	opListVersions   = "docs.list_versions"
	opGetVersion     = "docs.get_version"
	opRestoreVersion = "docs.restore_version"

	// DefaultVersionListLimit bounds ListVersions when no limit is given.
	DefaultVersionListLimit = 50
)

// SnapshotRequest describes one durable checkpoint to be written.
type SnapshotRequest struct {
	DraftID      string
	TenantID     string
	StateBlob    []byte
	PlainText    string
	CreatedBy    string
	Description  string
	Contributors []SnapshotContributor
}

// WriteSnapshot appends an immutable version and advances the draft's current
// version in the same transaction. Version numbers per draft are gap-free:
// the new version is always currentVersion+1 under a row lock.
func (s *Service) WriteSnapshot(ctx context.Context, request SnapshotRequest) (int64, error) {
	if !validIdentifier(request.DraftID) || !validIdentifier(request.TenantID) {
		return 0, newServiceError(opWriteSnapshot, "invalid_identifier", errInvalidIdentifier)
	}

	contributors := request.Contributors
	if contributors == nil {
		contributors = []SnapshotContributor{}
	}
	contributorsJSON, err := json.Marshal(contributors)
	if err != nil {
		s.logError(opWriteSnapshot, "contributors_encode_failed", err, zap.String(fieldDraftID, request.DraftID))
		return 0, newServiceError(opWriteSnapshot, "contributors_encode_failed", err)
	}

	var version int64
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var draft Draft
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where(queryDraftTenant, request.DraftID, request.TenantID).
			Take(&draft).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrDraftNotFound
		}
		if err != nil {
			s.logError(opWriteSnapshot, "draft_lock_failed", err, zap.String(fieldDraftID, request.DraftID))
			return newServiceError(opWriteSnapshot, "draft_lock_failed", err)
		}

		version = draft.CurrentVersion + 1
		snapshot := Snapshot{
			DraftID:          request.DraftID,
			Version:          version,
			StateBlob:        request.StateBlob,
			PlainText:        request.PlainText,
			CreatedBy:        request.CreatedBy,
			Description:      request.Description,
			ContributorsJSON: string(contributorsJSON),
			CreatedAtSeconds: s.clock().UTC().Unix(),
		}
		if err := tx.Create(&snapshot).Error; err != nil {
			s.logError(opWriteSnapshot, "snapshot_insert_failed", err, zap.String(fieldDraftID, request.DraftID))
			return newServiceError(opWriteSnapshot, "snapshot_insert_failed", err)
		}

		updates := map[string]interface{}{
			"current_version": version,
			"state_blob":      request.StateBlob,
			"plain_text":      request.PlainText,
			"updated_at_s":    s.clock().UTC().Unix(),
		}
		if err := tx.Model(&Draft{}).
			Where(queryDraftTenant, request.DraftID, request.TenantID).
			Updates(updates).Error; err != nil {
			s.logError(opWriteSnapshot, "draft_update_failed", err, zap.String(fieldDraftID, request.DraftID))
			return newServiceError(opWriteSnapshot, "draft_update_failed", err)
		}
		return nil
	})
	if txErr != nil {
		return 0, txErr
	}
	return version, nil
}

// ListVersions returns snapshots in descending version order. A non-positive
// limit falls back to DefaultVersionListLimit; explicit limits are honored.
func (s *Service) ListVersions(ctx context.Context, draftID, tenantID string, limit int) ([]Snapshot, error) {
	if _, err := s.GetDraft(ctx, draftID, tenantID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultVersionListLimit
	}

	var snapshots []Snapshot
	if err := s.db.WithContext(ctx).
		Where("draft_id = ?", draftID).
		Order("version DESC").
		Limit(limit).
		Find(&snapshots).Error; err != nil {
		s.logError(opListVersions, "query_failed", err, zap.String(fieldDraftID, draftID))
		return nil, newServiceError(opListVersions, "query_failed", err)
	}
	return snapshots, nil
}

// GetVersion returns one snapshot by version number.
func (s *Service) GetVersion(ctx context.Context, draftID, tenantID string, version int64) (Snapshot, error) {
	if _, err := s.GetDraft(ctx, draftID, tenantID); err != nil {
		return Snapshot{}, err
	}

	var snapshot Snapshot
	err := s.db.WithContext(ctx).
		Where("draft_id = ? AND version = ?", draftID, version).
		Take(&snapshot).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Snapshot{}, ErrVersionNotFound
	}
	if err != nil {
		s.logError(opGetVersion, "query_failed", err, zap.String(fieldDraftID, draftID))
		return Snapshot{}, newServiceError(opGetVersion, "query_failed", err)
	}
	return snapshot, nil
}

// Contributors decodes the snapshot's contributor attribution.
func (snapshot Snapshot) Contributors() ([]SnapshotContributor, error) {
	if snapshot.ContributorsJSON == "" {
		return []SnapshotContributor{}, nil
	}
	var contributors []SnapshotContributor
	if err := json.Unmarshal([]byte(snapshot.ContributorsJSON), &contributors); err != nil {
		return nil, err
	}
	return contributors, nil
}

// RestoreVersion copies an old version's content forward as a new snapshot at
// the next version number. History is append-only and never rewritten.
func (s *Service) RestoreVersion(ctx context.Context, draftID, tenantID string, version int64, requesterID string) (int64, error) {
	old, err := s.GetVersion(ctx, draftID, tenantID, version)
	if err != nil {
		return 0, err
	}

	newVersion, err := s.WriteSnapshot(ctx, SnapshotRequest{
		DraftID:     draftID,
		TenantID:    tenantID,
		StateBlob:   old.StateBlob,
		PlainText:   old.PlainText,
		CreatedBy:   requesterID,
		Description: fmt.Sprintf("restored from version %d", version),
	})
	if err != nil {
		s.logError(opRestoreVersion, "snapshot_write_failed", err,
			zap.String(fieldDraftID, draftID),
			zap.Int64("version", version))
		return 0, err
	}
	return newVersion, nil
}
