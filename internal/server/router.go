package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/ParchmentLabs/drafthub/backend/internal/auth"
	"github.com/ParchmentLabs/drafthub/backend/internal/docs"
	"github.com/ParchmentLabs/drafthub/backend/internal/room"
	"github.com/ParchmentLabs/drafthub/backend/internal/users"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	userIDContextKey   = "drafthub_user_id"
	tenantIDContextKey = "drafthub_tenant_id"
)

var (
	errMissingTokenManager  = errors.New("token manager dependency required")
	errMissingDocsService   = errors.New("docs service dependency required")
	errMissingUsersService  = errors.New("users service dependency required")
	errMissingRoomManager   = errors.New("room manager dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

// TokenManager issues and validates access tokens.
type TokenManager interface {
	IssueAccessToken(ctx context.Context, userID, tenantID, displayName string) (string, int64, error)
	ValidateToken(token string) (auth.AccessClaims, error)
}

// Dependencies wires the HTTP surface to the core services.
type Dependencies struct {
	TokenManager TokenManager
	DocsService  *docs.Service
	UsersService *users.Service
	RoomManager  *room.Manager
	Logger       *zap.Logger
}

// NewHTTPHandler builds the gin router for the collaboration server.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.DocsService == nil {
		return nil, errMissingDocsService
	}
	if deps.UsersService == nil {
		return nil, errMissingUsersService
	}
	if deps.RoomManager == nil {
		return nil, errMissingRoomManager
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		tokens: deps.TokenManager,
		docs:   deps.DocsService,
		users:  deps.UsersService,
		rooms:  deps.RoomManager,
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	router.POST("/auth/token", handler.handleIssueToken)
	router.GET("/ws", handler.handleRealtime)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/projects", handler.handleCreateProject)
	protected.POST("/documents", handler.handleCreateDocument)
	protected.GET("/documents/:id/collaborators", handler.handleListCollaborators)
	protected.POST("/documents/:id/collaborators", handler.handleAddCollaborator)
	protected.PUT("/documents/:id/collaborators/:userID", handler.handleUpdateCollaborator)
	protected.DELETE("/documents/:id/collaborators/:userID", handler.handleRemoveCollaborator)
	protected.GET("/documents/:id/versions", handler.handleListVersions)
	protected.GET("/documents/:id/versions/:version", handler.handleGetVersion)
	protected.POST("/documents/:id/versions/:version/restore", handler.handleRestoreVersion)

	return router, nil
}

type httpHandler struct {
	tokens   TokenManager
	docs     *docs.Service
	users    *users.Service
	rooms    *room.Manager
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	claims, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, claims.UserID)
	c.Set(tenantIDContextKey, claims.TenantID)
	c.Next()
}

// handleRealtime is the per-document connection endpoint. The access token
// and document id arrive as query parameters; failures close the socket with
// a policy-violation code and a diagnostic reason.
func (h *httpHandler) handleRealtime(c *gin.Context) {
	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	token := strings.TrimSpace(c.Query("access_token"))
	if token == "" {
		room.ClosePolicyViolation(ws, room.CloseReasonMissingToken)
		return
	}
	documentID := strings.TrimSpace(c.Query("document_id"))
	if documentID == "" {
		room.ClosePolicyViolation(ws, room.CloseReasonMissingDocumentID)
		return
	}
	claims, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("realtime token rejected", zap.Error(err))
		room.ClosePolicyViolation(ws, room.CloseReasonInvalidToken)
		return
	}

	h.rooms.Join(c.Request.Context(), ws, claims.UserID, claims.TenantID, documentID)
}

type issueTokenPayload struct {
	UserID      string `json:"user_id"`
	TenantID    string `json:"tenant_id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
}

type issueTokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

func (h *httpHandler) handleIssueToken(c *gin.Context) {
	var request issueTokenPayload
	if err := c.ShouldBindJSON(&request); err != nil ||
		strings.TrimSpace(request.UserID) == "" ||
		strings.TrimSpace(request.TenantID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	token, expiresIn, err := h.tokens.IssueAccessToken(c.Request.Context(), request.UserID, request.TenantID, request.DisplayName)
	if err != nil {
		h.logger.Error("failed to issue access token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	if err := h.users.EnsureIdentity(c.Request.Context(), users.Identity{
		UserID:      request.UserID,
		TenantID:    request.TenantID,
		Email:       request.Email,
		DisplayName: request.DisplayName,
	}); err != nil {
		h.logger.Warn("identity upsert failed", zap.String("user_id", request.UserID), zap.Error(err))
	}

	c.JSON(http.StatusOK, issueTokenResponse{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
	})
}

func (h *httpHandler) caller(c *gin.Context) (userID, tenantID string) {
	return c.GetString(userIDContextKey), c.GetString(tenantIDContextKey)
}

func (h *httpHandler) renderError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, docs.ErrDraftNotFound),
		errors.Is(err, docs.ErrProjectNotFound),
		errors.Is(err, docs.ErrVersionNotFound),
		errors.Is(err, docs.ErrCollaboratorNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	case errors.Is(err, docs.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	case errors.Is(err, docs.ErrOwnerImmutable):
		c.JSON(http.StatusConflict, gin.H{"error": "owner_immutable"})
	case errors.Is(err, docs.ErrInvalidLevel):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_level"})
	default:
		h.logger.Error("request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal"})
	}
}
