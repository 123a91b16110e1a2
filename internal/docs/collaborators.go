package docs

import (
	"context"

	"go.uber.org/zap"
	"gorm.io/gorm/clause"
)

const (
	opAddCollaborator    = "docs.add_collaborator"
	opUpdateCollaborator = "docs.update_collaborator"
	opRemoveCollaborator = "docs.remove_collaborator"
	opListCollaborators  = "docs.list_collaborators"
)

// requireOwner resolves the requester and enforces the owner-only contract of
// the collaborator surface. LevelNone surfaces as ErrDraftNotFound so that
// unauthorized callers cannot probe draft existence.
func (s *Service) requireOwner(ctx context.Context, draftID, requesterID, tenantID string) error {
	level, err := s.Resolve(ctx, draftID, requesterID, tenantID)
	if err != nil {
		return err
	}
	switch level {
	case LevelOwner:
		return nil
	case LevelNone:
		return ErrDraftNotFound
	default:
		return ErrForbidden
	}
}

// rejectOwnerTarget blocks any mutation aimed at the implicit owner,
// regardless of who asks.
func (s *Service) rejectOwnerTarget(ctx context.Context, draftID, targetID, tenantID string) error {
	owner, err := s.IsOwner(ctx, draftID, targetID, tenantID)
	if err != nil {
		return err
	}
	if owner {
		return ErrOwnerImmutable
	}
	return nil
}

// AddCollaborator grants a permission level to a user. The requester must
// resolve to owner; the owner can never be granted an explicit level.
// Re-granting an existing collaborator updates the stored level.
func (s *Service) AddCollaborator(ctx context.Context, draftID, targetID string, level Level, requesterID, tenantID string) error {
	if !validIdentifier(targetID) {
		return newServiceError(opAddCollaborator, "invalid_identifier", errInvalidIdentifier)
	}
	if !level.AtLeast(LevelView) || level == LevelOwner {
		return ErrInvalidLevel
	}
	if err := s.requireOwner(ctx, draftID, requesterID, tenantID); err != nil {
		return err
	}
	if err := s.rejectOwnerTarget(ctx, draftID, targetID, tenantID); err != nil {
		return err
	}

	now := s.clock().UTC().Unix()
	grant := Collaborator{
		DraftID:          draftID,
		UserID:           targetID,
		Level:            string(level),
		GrantedBy:        requesterID,
		CreatedAtSeconds: now,
		UpdatedAtSeconds: now,
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "draft_id"}, {Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"level", "granted_by", "updated_at_s"}),
		}).
		Create(&grant).Error
	if err != nil {
		s.logError(opAddCollaborator, "upsert_failed", err,
			zap.String(fieldDraftID, draftID),
			zap.String(fieldUserID, targetID))
		return newServiceError(opAddCollaborator, "upsert_failed", err)
	}
	return nil
}

// UpdateCollaboratorLevel changes an existing grant's level.
func (s *Service) UpdateCollaboratorLevel(ctx context.Context, draftID, targetID string, level Level, requesterID, tenantID string) error {
	if !level.AtLeast(LevelView) || level == LevelOwner {
		return ErrInvalidLevel
	}
	if err := s.requireOwner(ctx, draftID, requesterID, tenantID); err != nil {
		return err
	}
	if err := s.rejectOwnerTarget(ctx, draftID, targetID, tenantID); err != nil {
		return err
	}

	result := s.db.WithContext(ctx).
		Model(&Collaborator{}).
		Where(queryGrant, draftID, targetID).
		Updates(map[string]interface{}{
			"level":        string(level),
			"granted_by":   requesterID,
			"updated_at_s": s.clock().UTC().Unix(),
		})
	if result.Error != nil {
		s.logError(opUpdateCollaborator, "update_failed", result.Error,
			zap.String(fieldDraftID, draftID),
			zap.String(fieldUserID, targetID))
		return newServiceError(opUpdateCollaborator, "update_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrCollaboratorNotFound
	}
	return nil
}

// RemoveCollaborator revokes an explicit grant. Removing the owner is
// rejected unconditionally.
func (s *Service) RemoveCollaborator(ctx context.Context, draftID, targetID, requesterID, tenantID string) error {
	if err := s.requireOwner(ctx, draftID, requesterID, tenantID); err != nil {
		return err
	}
	if err := s.rejectOwnerTarget(ctx, draftID, targetID, tenantID); err != nil {
		return err
	}

	result := s.db.WithContext(ctx).
		Where(queryGrant, draftID, targetID).
		Delete(&Collaborator{})
	if result.Error != nil {
		s.logError(opRemoveCollaborator, "delete_failed", result.Error,
			zap.String(fieldDraftID, draftID),
			zap.String(fieldUserID, targetID))
		return newServiceError(opRemoveCollaborator, "delete_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrCollaboratorNotFound
	}
	return nil
}

// ListCollaborators returns every explicit grant on the draft.
func (s *Service) ListCollaborators(ctx context.Context, draftID, requesterID, tenantID string) ([]Collaborator, error) {
	if err := s.requireOwner(ctx, draftID, requesterID, tenantID); err != nil {
		return nil, err
	}

	var grants []Collaborator
	if err := s.db.WithContext(ctx).
		Where("draft_id = ?", draftID).
		Order("user_id ASC").
		Find(&grants).Error; err != nil {
		s.logError(opListCollaborators, "query_failed", err, zap.String(fieldDraftID, draftID))
		return nil, newServiceError(opListCollaborators, "query_failed", err)
	}
	return grants, nil
}
