package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/innonkaduri/kidsafe-peek-sub001/internal/service"
)

// AuthHandler exchanges pre-shared client secrets for JWTs.
type AuthHandler struct {
	tokens service.TokenService
	logger *zap.Logger
}

func NewAuthHandler(tokens service.TokenService, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{tokens: tokens, logger: logger}
}

type tokenRequest struct {
	ClientName string `json:"client_name" binding:"required"`
	Secret     string `json:"secret" binding:"required"`
}

// IssueToken handles POST /api/auth/token.
func (h *AuthHandler) IssueToken(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	token, expiresAt, err := h.tokens.IssueToken(req.ClientName, req.Secret)
	if err != nil {
		if errors.Is(err, service.ErrClientNotFound) || errors.Is(err, service.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid client credentials"})
			return
		}
		h.logger.Error("Token issuance failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token, "expires_at": expiresAt})
}
