package docs

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opResolve = "docs.resolve_level"
	opIsOwner = "docs.is_owner"

	queryGrant = "draft_id = ? AND user_id = ?"
)

// Resolve maps a (draft, user, tenant) triple to a permission level. The
// project creator resolves to owner; otherwise an explicit grant decides.
// A missing draft, a tenant mismatch, and an absent grant all resolve to
// LevelNone so that callers cannot distinguish them. Results are never cached
// across calls because grants can change between connection attempts.
func (s *Service) Resolve(ctx context.Context, draftID, userID, tenantID string) (Level, error) {
	var draft Draft
	err := s.db.WithContext(ctx).
		Where(queryDraftTenant, draftID, tenantID).
		Take(&draft).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return LevelNone, nil
	}
	if err != nil {
		s.logError(opResolve, "draft_lookup_failed", err, zap.String(fieldDraftID, draftID))
		return LevelNone, newServiceError(opResolve, "draft_lookup_failed", err)
	}

	owner, err := s.isOwnerOfProject(ctx, draft.ProjectID, userID, tenantID)
	if err != nil {
		return LevelNone, err
	}
	if owner {
		return LevelOwner, nil
	}

	var grant Collaborator
	err = s.db.WithContext(ctx).
		Where(queryGrant, draftID, userID).
		Take(&grant).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return LevelNone, nil
	}
	if err != nil {
		s.logError(opResolve, "grant_lookup_failed", err,
			zap.String(fieldDraftID, draftID),
			zap.String(fieldUserID, userID))
		return LevelNone, newServiceError(opResolve, "grant_lookup_failed", err)
	}

	level, parseErr := ParseLevel(grant.Level)
	if parseErr != nil {
		s.logError(opResolve, "stored_level_invalid", parseErr, zap.String(fieldDraftID, draftID))
		return LevelNone, newServiceError(opResolve, "stored_level_invalid", parseErr)
	}
	return level, nil
}

// IsOwner reports whether the user created the draft's parent project. The
// derivation is an explicit method so alternate storage backends can
// reimplement it without touching resolution logic.
func (s *Service) IsOwner(ctx context.Context, draftID, userID, tenantID string) (bool, error) {
	draft, err := s.GetDraft(ctx, draftID, tenantID)
	if err != nil {
		if errors.Is(err, ErrDraftNotFound) {
			return false, nil
		}
		return false, err
	}
	return s.isOwnerOfProject(ctx, draft.ProjectID, userID, tenantID)
}

func (s *Service) isOwnerOfProject(ctx context.Context, projectID, userID, tenantID string) (bool, error) {
	var project Project
	err := s.db.WithContext(ctx).
		Where("project_id = ? AND tenant_id = ? AND creator_id = ?", projectID, tenantID, userID).
		Take(&project).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		s.logError(opIsOwner, "project_lookup_failed", err, zap.String(fieldProjectID, projectID))
		return false, newServiceError(opIsOwner, "project_lookup_failed", err)
	}
	return true, nil
}
