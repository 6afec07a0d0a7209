package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/J9-tops/secure-wallet-api/internal/auth"
	"github.com/J9-tops/secure-wallet-api/internal/service"
	"github.com/J9-tops/secure-wallet-api/internal/storage"
)

type APIKeyHandler struct {
	Service KeyService
	Logger  *slog.Logger
}

// KeyService is the application surface the api-key routes call.
type KeyService interface {
	Create(ctx context.Context, userID uuid.UUID, name string, permissions []string, expiryCode string) (*service.CreatedKey, error)
	Rollover(ctx context.Context, userID, keyID uuid.UUID, expiryCode string) (*service.CreatedKey, error)
	Revoke(ctx context.Context, userID, keyID uuid.UUID) error
	List(ctx context.Context, userID uuid.UUID) ([]storage.APIKey, error)
	CountActive(ctx context.Context, userID uuid.UUID) (int, error)
}

func NewAPIKeyHandler(svc KeyService, logger *slog.Logger) *APIKeyHandler {
	return &APIKeyHandler{Service: svc, Logger: logger}
}

type createKeyRequest struct {
	Name        string   `json:"name"`
	Permissions []string `json:"permissions"`
	Expiry      string   `json:"expiry"`
}

type rolloverRequest struct {
	Expiry string `json:"expiry"`
}

type keyResponse struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Prefix      string   `json:"prefix"`
	Permissions []string `json:"permissions"`
	Active      bool     `json:"active"`
	Revoked     bool     `json:"revoked"`
	ExpiresAt   string   `json:"expires_at"`
	LastUsedAt  *string  `json:"last_used_at,omitempty"`
}

type createdKeyResponse struct {
	keyResponse
	// The plaintext key appears exactly once, in this response.
	Key string `json:"key"`
}

func (h *APIKeyHandler) Create(c *gin.Context) {
	principal, ok := auth.FromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse{Code: "UNAUTHORIZED", Message: "authentication required"})
		return
	}

	var req createKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Code: "INVALID_REQUEST", Message: "invalid payload"})
		return
	}

	created, err := h.Service.Create(c.Request.Context(), principal.UserID, req.Name, req.Permissions, req.Expiry)
	if err != nil {
		respondError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusCreated, createdKeyResponse{
		keyResponse: toKeyResponse(created.Key),
		Key:         created.Secret,
	})
}

func (h *APIKeyHandler) Rollover(c *gin.Context) {
	principal, ok := auth.FromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse{Code: "UNAUTHORIZED", Message: "authentication required"})
		return
	}

	keyID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Code: "INVALID_REQUEST", Message: "invalid key id"})
		return
	}

	var req rolloverRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Code: "INVALID_REQUEST", Message: "invalid payload"})
		return
	}

	created, err := h.Service.Rollover(c.Request.Context(), principal.UserID, keyID, req.Expiry)
	if err != nil {
		respondError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, createdKeyResponse{
		keyResponse: toKeyResponse(created.Key),
		Key:         created.Secret,
	})
}

func (h *APIKeyHandler) Revoke(c *gin.Context) {
	principal, ok := auth.FromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse{Code: "UNAUTHORIZED", Message: "authentication required"})
		return
	}

	keyID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Code: "INVALID_REQUEST", Message: "invalid key id"})
		return
	}

	if err := h.Service.Revoke(c.Request.Context(), principal.UserID, keyID); err != nil {
		respondError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"revoked": true})
}

func (h *APIKeyHandler) List(c *gin.Context) {
	principal, ok := auth.FromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse{Code: "UNAUTHORIZED", Message: "authentication required"})
		return
	}

	keys, err := h.Service.List(c.Request.Context(), principal.UserID)
	if err != nil {
		respondError(c, h.Logger, err)
		return
	}

	out := make([]keyResponse, 0, len(keys))
	for i := range keys {
		out = append(out, toKeyResponse(&keys[i]))
	}
	c.JSON(http.StatusOK, gin.H{"keys": out})
}

func toKeyResponse(key *storage.APIKey) keyResponse {
	resp := keyResponse{
		ID:          key.ID.String(),
		Name:        key.Name,
		Prefix:      key.KeyPrefix,
		Permissions: key.Permissions,
		Active:      key.ActiveAt(time.Now()),
		Revoked:     key.IsRevoked,
		ExpiresAt:   key.ExpiresAt.UTC().Format(time.RFC3339),
	}
	if key.LastUsedAt != nil {
		formatted := key.LastUsedAt.UTC().Format(time.RFC3339)
		resp.LastUsedAt = &formatted
	}
	return resp
}
