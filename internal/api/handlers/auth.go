package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/wagate/server/internal/crypto"
	"github.com/wagate/server/internal/logger"
	"github.com/wagate/server/pkg/types"
)

// tokenTTL bounds issued operator tokens.
const tokenTTL = 24 * time.Hour

// AuthHandler exchanges the operator access key for a bearer token.
type AuthHandler struct {
	jwtManager    *crypto.JWTManager
	accessKeyHash string
}

// NewAuthHandler hashes the configured access key once at construction so
// the plaintext never sits in handler state.
func NewAuthHandler(jwtManager *crypto.JWTManager, accessKey string) (*AuthHandler, error) {
	hash, err := crypto.HashAccessKey(accessKey)
	if err != nil {
		return nil, err
	}
	return &AuthHandler{jwtManager: jwtManager, accessKeyHash: hash}, nil
}

// IssueToken handles POST /v1/auth/token
func (h *AuthHandler) IssueToken(c *gin.Context) {
	var req types.TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.ErrorResponse{Error: "accessKey is required"})
		return
	}

	if !crypto.VerifyAccessKey(h.accessKeyHash, req.AccessKey) {
		logger.Warnf("token request with invalid access key from %s", c.ClientIP())
		c.JSON(http.StatusUnauthorized, types.ErrorResponse{Error: "invalid access key"})
		return
	}

	token, err := h.jwtManager.IssueToken("operator", tokenTTL)
	if err != nil {
		logger.Errorf("token issuance failed: %v", err)
		c.JSON(http.StatusInternalServerError, types.ErrorResponse{Error: "failed to issue token"})
		return
	}

	c.JSON(http.StatusOK, types.TokenResponse{Success: true, Token: token})
}
