package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tcredex/ledgerd/internal/auth"
	"go.uber.org/zap"
)

// AuthHandler exchanges API key credentials for short-lived scoped tokens.
type AuthHandler struct {
	keyring *auth.Keyring
	tokens  *auth.TokenIssuer
	logger  *zap.Logger
}

// NewAuthHandler creates an AuthHandler.
func NewAuthHandler(keyring *auth.Keyring, tokens *auth.TokenIssuer, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{keyring: keyring, tokens: tokens, logger: logger}
}

// Register mounts the auth routes on the provided router group.
func (h *AuthHandler) Register(rg *gin.RouterGroup) {
	rg.POST("/auth/token", h.ExchangeToken)
}

type tokenRequest struct {
	KeyID  string `json:"key_id" binding:"required"`
	Secret string `json:"secret" binding:"required"`
}

// ExchangeToken handles POST /auth/token. The response never distinguishes
// an unknown key id from a wrong secret.
func (h *AuthHandler) ExchangeToken(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "key_id and secret are required"})
		return
	}

	scopes, err := h.keyring.Verify(req.KeyID, req.Secret)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	tok, err := h.tokens.Issue(req.KeyID, scopes)
	if err != nil {
		h.logger.Error("issue token", zap.String("key_id", req.KeyID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":      tok,
		"token_type": "Bearer",
		"scopes":     scopes,
		"expires_in": int(h.tokens.TTL() / time.Second),
	})
}
