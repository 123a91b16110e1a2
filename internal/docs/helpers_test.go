package docs

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type staticIDGenerator struct {
	ids   []string
	index int
}

func (g *staticIDGenerator) NewID() (string, error) {
	if g.index >= len(g.ids) {
		return "", errors.New("exhausted ids")
	}
	id := g.ids[g.index]
	g.index++
	return id, nil
}

func newTestService(t *testing.T, ids []string) (*Service, *gorm.DB) {
	t.Helper()
	dsn := fmt.Sprintf("file:docs_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	if err := db.AutoMigrate(&Project{}, &Draft{}, &Collaborator{}, &Snapshot{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	service, err := NewService(ServiceConfig{
		Database:   db,
		Clock:      func() time.Time { return time.Unix(1700000000, 0) },
		IDProvider: &staticIDGenerator{ids: ids},
	})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}
	return service, db
}

// seedDraft creates a project owned by ownerID and one draft inside it,
// returning the draft id.
func seedDraft(t *testing.T, service *Service, tenantID, ownerID string) string {
	t.Helper()
	projectID, err := service.CreateProject(context.Background(), tenantID, ownerID, "test project")
	if err != nil {
		t.Fatalf("failed to create project: %v", err)
	}
	draftID, err := service.CreateDraft(context.Background(), tenantID, projectID)
	if err != nil {
		t.Fatalf("failed to create draft: %v", err)
	}
	return draftID
}

func mustGrant(t *testing.T, service *Service, draftID, targetID string, level Level, ownerID, tenantID string) {
	t.Helper()
	if err := service.AddCollaborator(context.Background(), draftID, targetID, level, ownerID, tenantID); err != nil {
		t.Fatalf("failed to grant %s to %s: %v", level, targetID, err)
	}
}
