package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	apperrors "github.com/wfunc/tile-arena/internal/errors"
	"github.com/wfunc/tile-arena/internal/utils"
)

const (
	contextParticipantID = "participantID"
	contextToken         = "token"
)

// TokenVerifier 校验令牌并返回参与者ID
type TokenVerifier interface {
	VerifyParticipant(token string) (string, error)
}

// AuthMiddleware JWT认证中间件
type AuthMiddleware struct {
	verifier TokenVerifier
}

// NewAuthMiddleware 创建认证中间件
func NewAuthMiddleware(verifier TokenVerifier) *AuthMiddleware {
	return &AuthMiddleware{verifier: verifier}
}

// RequireAuth 需要认证的中间件
func (m *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := ExtractToken(c)
		if token == "" {
			abort(c, apperrors.New(apperrors.ErrAuthentication, "缺少认证令牌"))
			return
		}

		participantID, err := m.verifier.VerifyParticipant(token)
		if err != nil {
			abort(c, tokenError(err))
			return
		}

		c.Set(contextParticipantID, participantID)
		c.Set(contextToken, token)
		c.Next()
	}
}

// OptionalAuth 可选认证，无令牌时按观战处理；令牌无效仍然拒绝
func (m *AuthMiddleware) OptionalAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := ExtractToken(c)
		if token != "" {
			participantID, err := m.verifier.VerifyParticipant(token)
			if err != nil {
				abort(c, tokenError(err))
				return
			}
			c.Set(contextParticipantID, participantID)
			c.Set(contextToken, token)
		}
		c.Next()
	}
}

// ExtractToken 从请求中提取令牌
func ExtractToken(c *gin.Context) string {
	// 1. Authorization: Bearer
	bearerToken := c.GetHeader("Authorization")
	if bearerToken != "" {
		parts := strings.Split(bearerToken, " ")
		if len(parts) == 2 && strings.ToLower(parts[0]) == "bearer" {
			return parts[1]
		}
	}

	// 2. X-Access-Token
	if token := c.GetHeader("X-Access-Token"); token != "" {
		return token
	}

	// 3. Cookie
	if token, err := c.Cookie("access_token"); err == nil && token != "" {
		return token
	}

	// 4. Query参数，浏览器WebSocket无法设置请求头
	if token := c.Query("token"); token != "" {
		return token
	}

	return ""
}

// GetParticipantID 从上下文获取参与者ID
func GetParticipantID(c *gin.Context) (string, bool) {
	if v, exists := c.Get(contextParticipantID); exists {
		if id, ok := v.(string); ok && id != "" {
			return id, true
		}
	}
	return "", false
}

// IsAuthenticated 检查是否已认证
func IsAuthenticated(c *gin.Context) bool {
	_, ok := GetParticipantID(c)
	return ok
}

func tokenError(err error) *apperrors.AppError {
	if errors.Is(err, utils.ErrExpiredToken) {
		return apperrors.Wrap(err, apperrors.ErrTokenExpired)
	}
	return apperrors.Wrap(err, apperrors.ErrTokenInvalid)
}

func abort(c *gin.Context, err *apperrors.AppError) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"code":    err.Slug(),
		"message": err.Message,
	})
}
