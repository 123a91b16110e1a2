package docs

import (
	"errors"
	"fmt"
	"strings"
)

const maxIdentifierLength = 190

// ErrInvalidLevel indicates an unrecognized permission level.
var ErrInvalidLevel = errors.New("docs: invalid permission level")

// Level is a permission level granted on a draft. Explicit grants form the
// total order view < comment < edit; the implicit owner dominates all of them.
type Level string

const (
	// LevelNone means the caller has no standing on the draft. It is also
	// returned for drafts that do not exist or belong to another tenant.
	LevelNone Level = ""
	// LevelView permits joining a draft room as a read-only observer.
	LevelView Level = "view"
	// LevelComment permits viewing and commenting.
	LevelComment Level = "comment"
	// LevelEdit permits submitting content updates.
	LevelEdit Level = "edit"
	// LevelOwner is the implicit level of the parent project's creator.
	LevelOwner Level = "owner"
)

var levelRank = map[Level]int{
	LevelView:    1,
	LevelComment: 2,
	LevelEdit:    3,
}

// ParseLevel validates a grantable permission level. Owner is implicit and
// never parsed from input.
func ParseLevel(raw string) (Level, error) {
	level := Level(strings.ToLower(strings.TrimSpace(raw)))
	switch level {
	case LevelView, LevelComment, LevelEdit:
		return level, nil
	default:
		return LevelNone, fmt.Errorf("%w: %q", ErrInvalidLevel, raw)
	}
}

// AtLeast reports whether the level satisfies the required level.
func (l Level) AtLeast(required Level) bool {
	if l == LevelOwner {
		return true
	}
	return levelRank[l] >= levelRank[required] && levelRank[l] > 0
}

// Project records the owning container for drafts. The creator of a project
// is the implicit owner of every draft inside it.
type Project struct {
	ProjectID        string `gorm:"column:project_id;primaryKey;size:190;not null"`
	TenantID         string `gorm:"column:tenant_id;size:190;not null;index:idx_projects_tenant"`
	CreatorID        string `gorm:"column:creator_id;size:190;not null"`
	Name             string `gorm:"column:name;size:190;not null;default:''"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Project) TableName() string {
	return "projects"
}

// Draft models the persisted collaborative document.
type Draft struct {
	DraftID          string `gorm:"column:draft_id;primaryKey;size:190;not null"`
	TenantID         string `gorm:"column:tenant_id;size:190;not null;index:idx_drafts_tenant"`
	ProjectID        string `gorm:"column:project_id;size:190;not null;index:idx_drafts_project"`
	CurrentVersion   int64  `gorm:"column:current_version;not null;default:0"`
	StateBlob        []byte `gorm:"column:state_blob;type:blob"`
	PlainText        string `gorm:"column:plain_text;type:text;not null;default:''"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null;default:0"`
}

// TableName provides the explicit table binding for GORM.
func (Draft) TableName() string {
	return "drafts"
}

// Collaborator is an explicit permission grant on one draft. The implicit
// owner never appears as a collaborator row.
type Collaborator struct {
	DraftID          string `gorm:"column:draft_id;primaryKey;size:190;not null"`
	UserID           string `gorm:"column:user_id;primaryKey;size:190;not null"`
	Level            string `gorm:"column:level;size:32;not null"`
	GrantedBy        string `gorm:"column:granted_by;size:190;not null"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Collaborator) TableName() string {
	return "draft_collaborators"
}

// Snapshot is an immutable, versioned checkpoint of a draft's content.
// Version numbers per draft are gap-free and strictly increasing from 1.
type Snapshot struct {
	DraftID          string `gorm:"column:draft_id;primaryKey;size:190;not null"`
	Version          int64  `gorm:"column:version;primaryKey;not null"`
	StateBlob        []byte `gorm:"column:state_blob;type:blob;not null"`
	PlainText        string `gorm:"column:plain_text;type:text;not null;default:''"`
	CreatedBy        string `gorm:"column:created_by;size:190;not null"`
	Description      string `gorm:"column:description;size:500;not null;default:''"`
	ContributorsJSON string `gorm:"column:contributors_json;type:text;not null;default:'[]'"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Snapshot) TableName() string {
	return "draft_snapshots"
}

// SnapshotContributor attributes cumulative change volume to one user within
// a snapshot.
type SnapshotContributor struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	ChangeBytes int64  `json:"change_bytes"`
}

func validIdentifier(value string) bool {
	trimmed := strings.TrimSpace(value)
	return trimmed != "" && len(trimmed) <= maxIdentifierLength
}
