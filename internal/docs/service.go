package docs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrDraftNotFound covers a missing draft and a draft owned by another
	// tenant. The two are deliberately indistinguishable to callers.
	ErrDraftNotFound = errors.New("docs: draft not found")
	// ErrProjectNotFound indicates a missing or foreign-tenant project.
	ErrProjectNotFound = errors.New("docs: project not found")
	// ErrVersionNotFound indicates a missing snapshot version.
	ErrVersionNotFound = errors.New("docs: version not found")
	// ErrCollaboratorNotFound indicates a missing explicit grant.
	ErrCollaboratorNotFound = errors.New("docs: collaborator not found")
	// ErrForbidden indicates the caller has standing on the draft but an
	// insufficient level for the attempted action.
	ErrForbidden = errors.New("docs: insufficient permission")
	// ErrOwnerImmutable indicates an attempt to grant, change, or revoke the
	// implicit owner. Rejected unconditionally, not by permission level.
	ErrOwnerImmutable = errors.New("docs: owner grant is immutable")

	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errInvalidIdentifier = errors.New("identifier is empty or too long")

	noOpLogger = zap.NewNop()
)

const (
	opServiceNew    = "docs.service.new"
	opCreateProject = "docs.create_project"
	opCreateDraft   = "docs.create_draft"
	opGetDraft      = "docs.get_draft"

	fieldDraftID   = "draft_id"
	fieldProjectID = "project_id"
	fieldTenantID  = "tenant_id"
	fieldUserID    = "user_id"

	queryDraftTenant   = "draft_id = ? AND tenant_id = ?"
	queryProjectTenant = "project_id = ? AND tenant_id = ?"
)

// ServiceError wraps a failure with a machine-readable operation.reason code.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the operation.reason code.
func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// IDProvider issues identifiers for new projects and drafts.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig describes the dependencies of the docs service.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service owns drafts, permission grants, and version history. Every query it
// issues carries a tenant-scoped predicate; no lookup may cross tenants.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewService validates the configuration and returns a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// CreateProject records a new project and returns its identifier. The
// creator becomes the implicit owner of every draft created inside it.
func (s *Service) CreateProject(ctx context.Context, tenantID, creatorID, name string) (string, error) {
	if !validIdentifier(tenantID) || !validIdentifier(creatorID) {
		return "", newServiceError(opCreateProject, "invalid_identifier", errInvalidIdentifier)
	}
	projectID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreateProject, "id_generation_failed", err)
		return "", newServiceError(opCreateProject, "id_generation_failed", err)
	}
	project := Project{
		ProjectID:        projectID,
		TenantID:         tenantID,
		CreatorID:        creatorID,
		Name:             name,
		CreatedAtSeconds: s.clock().UTC().Unix(),
	}
	if err := s.db.WithContext(ctx).Create(&project).Error; err != nil {
		s.logError(opCreateProject, "insert_failed", err, zap.String(fieldTenantID, tenantID))
		return "", newServiceError(opCreateProject, "insert_failed", err)
	}
	return projectID, nil
}

// CreateDraft records a new, empty draft under an existing project.
func (s *Service) CreateDraft(ctx context.Context, tenantID, projectID string) (string, error) {
	if !validIdentifier(tenantID) || !validIdentifier(projectID) {
		return "", newServiceError(opCreateDraft, "invalid_identifier", errInvalidIdentifier)
	}

	var project Project
	err := s.db.WithContext(ctx).
		Where(queryProjectTenant, projectID, tenantID).
		Take(&project).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrProjectNotFound
	}
	if err != nil {
		s.logError(opCreateDraft, "project_lookup_failed", err, zap.String(fieldProjectID, projectID))
		return "", newServiceError(opCreateDraft, "project_lookup_failed", err)
	}

	draftID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreateDraft, "id_generation_failed", err)
		return "", newServiceError(opCreateDraft, "id_generation_failed", err)
	}
	draft := Draft{
		DraftID:          draftID,
		TenantID:         tenantID,
		ProjectID:        projectID,
		CurrentVersion:   0,
		UpdatedAtSeconds: s.clock().UTC().Unix(),
	}
	if err := s.db.WithContext(ctx).Create(&draft).Error; err != nil {
		s.logError(opCreateDraft, "insert_failed", err, zap.String(fieldDraftID, draftID))
		return "", newServiceError(opCreateDraft, "insert_failed", err)
	}
	return draftID, nil
}

// GetDraft loads a draft within the caller's tenant.
func (s *Service) GetDraft(ctx context.Context, draftID, tenantID string) (Draft, error) {
	var draft Draft
	err := s.db.WithContext(ctx).
		Where(queryDraftTenant, draftID, tenantID).
		Take(&draft).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Draft{}, ErrDraftNotFound
	}
	if err != nil {
		s.logError(opGetDraft, "query_failed", err, zap.String(fieldDraftID, draftID))
		return Draft{}, newServiceError(opGetDraft, "query_failed", err)
	}
	return draft, nil
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("docs service error", attrs...)
}
