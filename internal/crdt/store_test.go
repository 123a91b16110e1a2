package crdt

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ParchmentLabs/drafthub/backend/internal/docs"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func newTestStore(t *testing.T) (*Store, *gorm.DB) {
	t.Helper()
	dsn := fmt.Sprintf("file:crdt_store_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	if err := db.AutoMigrate(&docs.Draft{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	store, err := NewStore(StoreConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to construct store: %v", err)
	}
	return store, db
}

func seedDraft(t *testing.T, db *gorm.DB, draftID, tenantID string, blob []byte) {
	t.Helper()
	draft := docs.Draft{
		DraftID:   draftID,
		TenantID:  tenantID,
		ProjectID: "project-1",
		StateBlob: blob,
	}
	if err := db.Create(&draft).Error; err != nil {
		t.Fatalf("failed to seed draft: %v", err)
	}
}

func TestStoreLoadMissingDraft(t *testing.T) {
	store, _ := newTestStore(t)

	if _, err := store.Load(context.Background(), "absent", "tenant-1"); !errors.Is(err, docs.ErrDraftNotFound) {
		t.Fatalf("expected ErrDraftNotFound, got %v", err)
	}
}

func TestStoreLoadEmptyBlobYieldsFreshState(t *testing.T) {
	store, db := newTestStore(t)
	seedDraft(t, db, "draft-1", "tenant-1", nil)

	state, err := store.Load(context.Background(), "draft-1", "tenant-1")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if state.Len() != 0 {
		t.Fatalf("expected empty document, got %d runes", state.Len())
	}
}

func TestStoreSaveLoadRoundTrip(t *testing.T) {
	store, db := newTestStore(t)
	seedDraft(t, db, "draft-1", "tenant-1", nil)

	state := NewState()
	state.AppendText("alice", "persisted text")
	if err := store.Save(context.Background(), "draft-1", "tenant-1", state); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	loaded, err := store.Load(context.Background(), "draft-1", "tenant-1")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if got := loaded.PlainText(); got != "persisted text" {
		t.Fatalf("unexpected text after round trip: %q", got)
	}

	var draft docs.Draft
	if err := db.Where("draft_id = ?", "draft-1").Take(&draft).Error; err != nil {
		t.Fatalf("failed to read draft row: %v", err)
	}
	if draft.PlainText != "persisted text" {
		t.Fatalf("plain text projection not stored: %q", draft.PlainText)
	}
}

func TestStoreSaveIsTenantScoped(t *testing.T) {
	store, db := newTestStore(t)
	seedDraft(t, db, "draft-1", "tenant-1", nil)

	err := store.SaveEncoded(context.Background(), "draft-1", "tenant-2", NewState().Encode(), "")
	if !errors.Is(err, docs.ErrDraftNotFound) {
		t.Fatalf("expected ErrDraftNotFound for foreign tenant, got %v", err)
	}
}

func TestStoreLoadCorruptBlob(t *testing.T) {
	store, db := newTestStore(t)
	seedDraft(t, db, "draft-1", "tenant-1", []byte("not a state blob"))

	if _, err := store.Load(context.Background(), "draft-1", "tenant-1"); !errors.Is(err, ErrCorruptState) {
		t.Fatalf("expected ErrCorruptState, got %v", err)
	}
}
