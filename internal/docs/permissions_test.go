package docs

import (
	"context"
	"testing"
)

func TestResolveProjectCreatorIsOwner(t *testing.T) {
	service, _ := newTestService(t, []string{"project-1", "draft-1"})
	draftID := seedDraft(t, service, "tenant-1", "owner-1")

	level, err := service.Resolve(context.Background(), draftID, "owner-1", "tenant-1")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if level != LevelOwner {
		t.Fatalf("expected owner level, got %q", level)
	}
}

func TestResolveExplicitGrant(t *testing.T) {
	service, _ := newTestService(t, []string{"project-1", "draft-1"})
	draftID := seedDraft(t, service, "tenant-1", "owner-1")
	mustGrant(t, service, draftID, "editor-1", LevelEdit, "owner-1", "tenant-1")

	level, err := service.Resolve(context.Background(), draftID, "editor-1", "tenant-1")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if level != LevelEdit {
		t.Fatalf("expected edit level, got %q", level)
	}
}

func TestResolveWithoutStandingIsNone(t *testing.T) {
	service, _ := newTestService(t, []string{"project-1", "draft-1"})
	draftID := seedDraft(t, service, "tenant-1", "owner-1")

	level, err := service.Resolve(context.Background(), draftID, "stranger-1", "tenant-1")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if level != LevelNone {
		t.Fatalf("expected no level, got %q", level)
	}
}

// A draft in another tenant and a draft that does not exist must resolve
// identically, so a caller cannot probe which of the two it hit.
func TestResolveForeignTenantMatchesMissingDraft(t *testing.T) {
	service, _ := newTestService(t, []string{"project-1", "draft-1"})
	draftID := seedDraft(t, service, "tenant-1", "owner-1")
	mustGrant(t, service, draftID, "editor-1", LevelEdit, "owner-1", "tenant-1")

	foreign, err := service.Resolve(context.Background(), draftID, "editor-1", "tenant-2")
	if err != nil {
		t.Fatalf("resolve across tenants failed: %v", err)
	}
	missing, err := service.Resolve(context.Background(), "no-such-draft", "editor-1", "tenant-1")
	if err != nil {
		t.Fatalf("resolve of missing draft failed: %v", err)
	}
	if foreign != LevelNone || missing != LevelNone {
		t.Fatalf("expected LevelNone for both, got %q and %q", foreign, missing)
	}
}

func TestResolveOwnerEvenAcrossTenantBoundaryFails(t *testing.T) {
	service, _ := newTestService(t, []string{"project-1", "draft-1"})
	draftID := seedDraft(t, service, "tenant-1", "owner-1")

	level, err := service.Resolve(context.Background(), draftID, "owner-1", "tenant-2")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if level != LevelNone {
		t.Fatalf("owner must not resolve outside the tenant, got %q", level)
	}
}

func TestIsOwner(t *testing.T) {
	service, _ := newTestService(t, []string{"project-1", "draft-1"})
	draftID := seedDraft(t, service, "tenant-1", "owner-1")
	mustGrant(t, service, draftID, "editor-1", LevelEdit, "owner-1", "tenant-1")

	owner, err := service.IsOwner(context.Background(), draftID, "owner-1", "tenant-1")
	if err != nil {
		t.Fatalf("IsOwner failed: %v", err)
	}
	if !owner {
		t.Fatalf("project creator should be owner")
	}

	owner, err = service.IsOwner(context.Background(), draftID, "editor-1", "tenant-1")
	if err != nil {
		t.Fatalf("IsOwner failed: %v", err)
	}
	if owner {
		t.Fatalf("explicit collaborator should not be owner")
	}
}
