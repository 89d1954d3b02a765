package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "github.com/wfunc/tile-arena/internal/errors"
	"github.com/wfunc/tile-arena/internal/utils"
)

// AuthHandler 开发联调用的令牌签发
type AuthHandler struct {
	tokens *utils.JWTManager
	log    *zap.Logger
}

// NewAuthHandler 创建认证处理器
func NewAuthHandler(tokens *utils.JWTManager, log *zap.Logger) *AuthHandler {
	return &AuthHandler{tokens: tokens, log: log}
}

// TokenRequest 签发令牌请求
type TokenRequest struct {
	ParticipantID string `json:"participantId" binding:"required,max=128"`
	DisplayName   string `json:"displayName" binding:"max=64"`
}

// TokenResponse 签发令牌响应
type TokenResponse struct {
	Token         string `json:"token"`
	ParticipantID string `json:"participantId"`
	ExpiresIn     int64  `json:"expiresIn"`
}

// IssueToken 签发参与者令牌
// @Summary 签发开发令牌
// @Description 仅在 security.dev_tokens 开启时可用
// @Tags Auth
// @Accept json
// @Produce json
// @Param request body TokenRequest true "参与者"
// @Success 200 {object} TokenResponse
// @Failure 400 {object} ErrorResponse
// @Router /api/v1/auth/token [post]
func (h *AuthHandler) IssueToken(c *gin.Context) {
	var req TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	token, err := h.tokens.GenerateToken(req.ParticipantID, req.DisplayName)
	if err != nil {
		respondError(c, h.log, apperrors.Wrap(err, apperrors.ErrInvalidParam))
		return
	}

	h.log.Info("签发开发令牌", zap.String("participant_id", req.ParticipantID))
	c.JSON(http.StatusOK, TokenResponse{
		Token:         token,
		ParticipantID: req.ParticipantID,
		ExpiresIn:     int64(h.tokens.TokenExpiry().Seconds()),
	})
}
