package api

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "github.com/wfunc/tile-arena/internal/errors"
)

// ErrorResponse 错误响应
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// SuccessResponse 成功响应
type SuccessResponse struct {
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// respondError 按错误码返回HTTP状态，内部错误只记日志不返回细节
func respondError(c *gin.Context, log *zap.Logger, err error) {
	appErr, ok := apperrors.As(err)
	if !ok {
		appErr = apperrors.Wrap(err, apperrors.ErrUnknown)
	}

	resp := ErrorResponse{Code: appErr.Slug(), Message: appErr.Message}
	if apperrors.IsClientError(appErr) {
		resp.Details = appErr.Details
	} else {
		log.Error("请求处理失败",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err))
	}
	c.JSON(appErr.HTTPStatus(), resp)
}

// bindError 请求参数校验失败
func bindError(c *gin.Context, err error) {
	c.JSON(400, ErrorResponse{
		Code:    "invalid_param",
		Message: "请求参数错误",
		Details: err.Error(),
	})
}
