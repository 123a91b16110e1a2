package docs

import (
	"context"
	"errors"
	"testing"
)

func TestAddCollaboratorRequiresOwner(t *testing.T) {
	service, _ := newTestService(t, []string{"project-1", "draft-1"})
	draftID := seedDraft(t, service, "tenant-1", "owner-1")
	mustGrant(t, service, draftID, "editor-1", LevelEdit, "owner-1", "tenant-1")

	err := service.AddCollaborator(context.Background(), draftID, "viewer-1", LevelView, "editor-1", "tenant-1")
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("editor grant attempt: expected ErrForbidden, got %v", err)
	}

	err = service.AddCollaborator(context.Background(), draftID, "viewer-1", LevelView, "stranger-1", "tenant-1")
	if !errors.Is(err, ErrDraftNotFound) {
		t.Fatalf("stranger grant attempt: expected ErrDraftNotFound, got %v", err)
	}
}

func TestAddCollaboratorUpsertsExistingGrant(t *testing.T) {
	service, db := newTestService(t, []string{"project-1", "draft-1"})
	draftID := seedDraft(t, service, "tenant-1", "owner-1")

	mustGrant(t, service, draftID, "user-1", LevelView, "owner-1", "tenant-1")
	mustGrant(t, service, draftID, "user-1", LevelEdit, "owner-1", "tenant-1")

	var grants []Collaborator
	if err := db.Where("draft_id = ?", draftID).Find(&grants).Error; err != nil {
		t.Fatalf("failed to read grants: %v", err)
	}
	if len(grants) != 1 {
		t.Fatalf("expected one grant row, got %d", len(grants))
	}
	if grants[0].Level != string(LevelEdit) {
		t.Fatalf("expected upserted level edit, got %q", grants[0].Level)
	}
}

func TestOwnerGrantIsImmutable(t *testing.T) {
	service, _ := newTestService(t, []string{"project-1", "draft-1"})
	draftID := seedDraft(t, service, "tenant-1", "owner-1")

	if err := service.AddCollaborator(context.Background(), draftID, "owner-1", LevelView, "owner-1", "tenant-1"); !errors.Is(err, ErrOwnerImmutable) {
		t.Fatalf("grant to owner: expected ErrOwnerImmutable, got %v", err)
	}
	if err := service.UpdateCollaboratorLevel(context.Background(), draftID, "owner-1", LevelEdit, "owner-1", "tenant-1"); !errors.Is(err, ErrOwnerImmutable) {
		t.Fatalf("update of owner: expected ErrOwnerImmutable, got %v", err)
	}
	if err := service.RemoveCollaborator(context.Background(), draftID, "owner-1", "owner-1", "tenant-1"); !errors.Is(err, ErrOwnerImmutable) {
		t.Fatalf("removal of owner: expected ErrOwnerImmutable, got %v", err)
	}
}

func TestUpdateCollaboratorLevel(t *testing.T) {
	service, _ := newTestService(t, []string{"project-1", "draft-1"})
	draftID := seedDraft(t, service, "tenant-1", "owner-1")
	mustGrant(t, service, draftID, "user-1", LevelView, "owner-1", "tenant-1")

	if err := service.UpdateCollaboratorLevel(context.Background(), draftID, "user-1", LevelComment, "owner-1", "tenant-1"); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	level, err := service.Resolve(context.Background(), draftID, "user-1", "tenant-1")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if level != LevelComment {
		t.Fatalf("expected comment level, got %q", level)
	}

	err = service.UpdateCollaboratorLevel(context.Background(), draftID, "unknown-1", LevelView, "owner-1", "tenant-1")
	if !errors.Is(err, ErrCollaboratorNotFound) {
		t.Fatalf("update of missing grant: expected ErrCollaboratorNotFound, got %v", err)
	}
}

func TestRemoveCollaboratorRevokesAccess(t *testing.T) {
	service, _ := newTestService(t, []string{"project-1", "draft-1"})
	draftID := seedDraft(t, service, "tenant-1", "owner-1")
	mustGrant(t, service, draftID, "user-1", LevelEdit, "owner-1", "tenant-1")

	if err := service.RemoveCollaborator(context.Background(), draftID, "user-1", "owner-1", "tenant-1"); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	level, err := service.Resolve(context.Background(), draftID, "user-1", "tenant-1")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if level != LevelNone {
		t.Fatalf("expected no level after revocation, got %q", level)
	}

	err = service.RemoveCollaborator(context.Background(), draftID, "user-1", "owner-1", "tenant-1")
	if !errors.Is(err, ErrCollaboratorNotFound) {
		t.Fatalf("second removal: expected ErrCollaboratorNotFound, got %v", err)
	}
}

func TestListCollaboratorsIsOwnerOnly(t *testing.T) {
	service, _ := newTestService(t, []string{"project-1", "draft-1"})
	draftID := seedDraft(t, service, "tenant-1", "owner-1")
	mustGrant(t, service, draftID, "bob", LevelEdit, "owner-1", "tenant-1")
	mustGrant(t, service, draftID, "alice", LevelView, "owner-1", "tenant-1")

	grants, err := service.ListCollaborators(context.Background(), draftID, "owner-1", "tenant-1")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(grants) != 2 {
		t.Fatalf("expected 2 grants, got %d", len(grants))
	}
	if grants[0].UserID != "alice" || grants[1].UserID != "bob" {
		t.Fatalf("grants not ordered by user id: %q, %q", grants[0].UserID, grants[1].UserID)
	}

	if _, err := service.ListCollaborators(context.Background(), draftID, "bob", "tenant-1"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("collaborator list attempt: expected ErrForbidden, got %v", err)
	}
	if _, err := service.ListCollaborators(context.Background(), draftID, "owner-1", "tenant-2"); !errors.Is(err, ErrDraftNotFound) {
		t.Fatalf("foreign tenant list attempt: expected ErrDraftNotFound, got %v", err)
	}
}
