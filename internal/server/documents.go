package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/ParchmentLabs/drafthub/backend/internal/docs"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type createProjectPayload struct {
	Name string `json:"name"`
}

func (h *httpHandler) handleCreateProject(c *gin.Context) {
	userID, tenantID := h.caller(c)

	var request createProjectPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	projectID, err := h.docs.CreateProject(c.Request.Context(), tenantID, userID, request.Name)
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"project_id": projectID})
}

type createDocumentPayload struct {
	ProjectID string `json:"project_id"`
}

func (h *httpHandler) handleCreateDocument(c *gin.Context) {
	_, tenantID := h.caller(c)

	var request createDocumentPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.ProjectID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	documentID, err := h.docs.CreateDraft(c.Request.Context(), tenantID, request.ProjectID)
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"document_id": documentID})
}

type collaboratorPayload struct {
	UserID string `json:"user_id"`
	Level  string `json:"level"`
}

type collaboratorView struct {
	UserID           string `json:"user_id"`
	Level            string `json:"level"`
	GrantedBy        string `json:"granted_by"`
	CreatedAtSeconds int64  `json:"created_at_s"`
	UpdatedAtSeconds int64  `json:"updated_at_s"`
}

func (h *httpHandler) handleAddCollaborator(c *gin.Context) {
	userID, tenantID := h.caller(c)
	draftID := c.Param("id")

	var request collaboratorPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.UserID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	level, err := docs.ParseLevel(request.Level)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_level"})
		return
	}

	if err := h.docs.AddCollaborator(c.Request.Context(), draftID, request.UserID, level, userID, tenantID); err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "granted"})
}

func (h *httpHandler) handleUpdateCollaborator(c *gin.Context) {
	userID, tenantID := h.caller(c)
	draftID := c.Param("id")
	targetID := c.Param("userID")

	var request collaboratorPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	level, err := docs.ParseLevel(request.Level)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_level"})
		return
	}

	if err := h.docs.UpdateCollaboratorLevel(c.Request.Context(), draftID, targetID, level, userID, tenantID); err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}

func (h *httpHandler) handleRemoveCollaborator(c *gin.Context) {
	userID, tenantID := h.caller(c)
	draftID := c.Param("id")
	targetID := c.Param("userID")

	if err := h.docs.RemoveCollaborator(c.Request.Context(), draftID, targetID, userID, tenantID); err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "removed"})
}

func (h *httpHandler) handleListCollaborators(c *gin.Context) {
	userID, tenantID := h.caller(c)
	draftID := c.Param("id")

	grants, err := h.docs.ListCollaborators(c.Request.Context(), draftID, userID, tenantID)
	if err != nil {
		h.renderError(c, err)
		return
	}

	views := make([]collaboratorView, 0, len(grants))
	for _, grant := range grants {
		views = append(views, collaboratorView{
			UserID:           grant.UserID,
			Level:            grant.Level,
			GrantedBy:        grant.GrantedBy,
			CreatedAtSeconds: grant.CreatedAtSeconds,
			UpdatedAtSeconds: grant.UpdatedAtSeconds,
		})
	}
	c.JSON(http.StatusOK, gin.H{"collaborators": views})
}

type versionView struct {
	Version          int64                      `json:"version"`
	PlainText        string                     `json:"plain_text"`
	CreatedBy        string                     `json:"created_by"`
	Description      string                     `json:"description"`
	Contributors     []docs.SnapshotContributor `json:"contributors"`
	CreatedAtSeconds int64                      `json:"created_at_s"`
}

func (h *httpHandler) versionView(snapshot docs.Snapshot) versionView {
	contributors, err := snapshot.Contributors()
	if err != nil {
		h.logger.Warn("stored contributors invalid",
			zap.String("draft_id", snapshot.DraftID))
		contributors = []docs.SnapshotContributor{}
	}
	return versionView{
		Version:          snapshot.Version,
		PlainText:        snapshot.PlainText,
		CreatedBy:        snapshot.CreatedBy,
		Description:      snapshot.Description,
		Contributors:     contributors,
		CreatedAtSeconds: snapshot.CreatedAtSeconds,
	}
}

// requireLevel resolves the caller's level and enforces a minimum. LevelNone
// renders as not-found so callers cannot probe draft existence.
func (h *httpHandler) requireLevel(c *gin.Context, draftID string, required docs.Level) bool {
	userID, tenantID := h.caller(c)
	level, err := h.docs.Resolve(c.Request.Context(), draftID, userID, tenantID)
	if err != nil {
		h.renderError(c, err)
		return false
	}
	if level == docs.LevelNone {
		h.renderError(c, docs.ErrDraftNotFound)
		return false
	}
	if !level.AtLeast(required) {
		h.renderError(c, docs.ErrForbidden)
		return false
	}
	return true
}

func (h *httpHandler) handleListVersions(c *gin.Context) {
	_, tenantID := h.caller(c)
	draftID := c.Param("id")

	if !h.requireLevel(c, draftID, docs.LevelView) {
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_limit"})
			return
		}
		limit = parsed
	}

	snapshots, err := h.docs.ListVersions(c.Request.Context(), draftID, tenantID, limit)
	if err != nil {
		h.renderError(c, err)
		return
	}

	views := make([]versionView, 0, len(snapshots))
	for _, snapshot := range snapshots {
		views = append(views, h.versionView(snapshot))
	}
	c.JSON(http.StatusOK, gin.H{"versions": views})
}

func (h *httpHandler) handleGetVersion(c *gin.Context) {
	_, tenantID := h.caller(c)
	draftID := c.Param("id")

	version, err := strconv.ParseInt(c.Param("version"), 10, 64)
	if err != nil || version < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_version"})
		return
	}

	if !h.requireLevel(c, draftID, docs.LevelView) {
		return
	}

	snapshot, err := h.docs.GetVersion(c.Request.Context(), draftID, tenantID, version)
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.versionView(snapshot))
}

func (h *httpHandler) handleRestoreVersion(c *gin.Context) {
	userID, tenantID := h.caller(c)
	draftID := c.Param("id")

	version, err := strconv.ParseInt(c.Param("version"), 10, 64)
	if err != nil || version < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_version"})
		return
	}

	if !h.requireLevel(c, draftID, docs.LevelEdit) {
		return
	}

	newVersion, err := h.docs.RestoreVersion(c.Request.Context(), draftID, tenantID, version, userID)
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"version": newVersion})
}
