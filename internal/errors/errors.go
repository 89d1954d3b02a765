package errors

import (
	stderrors "errors"
	"fmt"
	"runtime"
	"strings"
	"time"
)

// ErrorCode 错误码类型
type ErrorCode int

// 错误码定义（按模块分组）
const (
	// 通用错误 (1000-1999)
	ErrUnknown          ErrorCode = 1000
	ErrInvalidParam     ErrorCode = 1001
	ErrNotFound         ErrorCode = 1002
	ErrAlreadyExists    ErrorCode = 1003
	ErrPermissionDenied ErrorCode = 1004
	ErrTimeout          ErrorCode = 1005
	ErrCanceled         ErrorCode = 1006

	// 对局错误 (2000-2999)，只回复给发送方
	ErrMatchNotFound      ErrorCode = 2000
	ErrMatchNotOpen       ErrorCode = 2001
	ErrMatchFull          ErrorCode = 2002
	ErrAlreadyJoined      ErrorCode = 2003
	ErrNotParticipant     ErrorCode = 2004
	ErrMatchNotInProgress ErrorCode = 2005
	ErrInvalidDirection   ErrorCode = 2006
	ErrMoveNotApplied     ErrorCode = 2007
	ErrMatchStarting      ErrorCode = 2008
	ErrNotCancellable     ErrorCode = 2009
	ErrInvalidWager       ErrorCode = 2010
	ErrInvalidRoomCode    ErrorCode = 2011
	ErrNotHost            ErrorCode = 2012
	ErrMatchEnded         ErrorCode = 2013

	// 通信错误 (4000-4999)
	ErrWebSocketSend     ErrorCode = 4001
	ErrWebSocketClosed   ErrorCode = 4003
	ErrMessageFormat     ErrorCode = 4007
	ErrUnknownMessage    ErrorCode = 4008
	ErrIdentityMismatch  ErrorCode = 4009
	ErrSettlementPublish ErrorCode = 4010

	// 数据库错误 (5000-5999)
	ErrDatabaseConnect  ErrorCode = 5000
	ErrDatabaseQuery    ErrorCode = 5001
	ErrDatabaseInsert   ErrorCode = 5002
	ErrDatabaseUpdate   ErrorCode = 5003
	ErrTransaction      ErrorCode = 5005
	ErrDataIntegrity    ErrorCode = 5006
	ErrStoreUnavailable ErrorCode = 5007

	// 配置错误 (6000-6999)
	ErrConfigLoad     ErrorCode = 6000
	ErrConfigValidate ErrorCode = 6002
	ErrConfigMissing  ErrorCode = 6003

	// 安全错误 (7000-7999)
	ErrAuthentication ErrorCode = 7000
	ErrAuthorization  ErrorCode = 7001
	ErrTokenExpired   ErrorCode = 7002
	ErrTokenInvalid   ErrorCode = 7003
)

// 错误码消息映射
var errorMessages = map[ErrorCode]string{
	ErrUnknown:          "未知错误",
	ErrInvalidParam:     "无效的参数",
	ErrNotFound:         "资源未找到",
	ErrAlreadyExists:    "资源已存在",
	ErrPermissionDenied: "权限不足",
	ErrTimeout:          "操作超时",
	ErrCanceled:         "操作已取消",

	ErrMatchNotFound:      "对局不存在",
	ErrMatchNotOpen:       "对局未开放加入",
	ErrMatchFull:          "对局人数已满",
	ErrAlreadyJoined:      "已加入该对局",
	ErrNotParticipant:     "不是该对局的玩家",
	ErrMatchNotInProgress: "对局未在进行中",
	ErrInvalidDirection:   "无效的方向",
	ErrMoveNotApplied:     "移动未生效",
	ErrMatchStarting:      "对局即将开始，不能修改准备状态",
	ErrNotCancellable:     "对局当前状态不可取消",
	ErrInvalidWager:       "无效的下注金额",
	ErrInvalidRoomCode:    "无效的房间码",
	ErrNotHost:            "只有房主可以执行此操作",
	ErrMatchEnded:         "对局已结束",

	ErrWebSocketSend:     "WebSocket发送失败",
	ErrWebSocketClosed:   "WebSocket连接已关闭",
	ErrMessageFormat:     "消息格式错误",
	ErrUnknownMessage:    "未知的消息类型",
	ErrIdentityMismatch:  "玩家身份与连接不符",
	ErrSettlementPublish: "结算通知失败",

	ErrDatabaseConnect:  "数据库连接失败",
	ErrDatabaseQuery:    "数据库查询失败",
	ErrDatabaseInsert:   "数据库插入失败",
	ErrDatabaseUpdate:   "数据库更新失败",
	ErrTransaction:      "事务处理失败",
	ErrDataIntegrity:    "数据完整性错误",
	ErrStoreUnavailable: "存储不可用",

	ErrConfigLoad:     "配置加载失败",
	ErrConfigValidate: "配置验证失败",
	ErrConfigMissing:  "配置项缺失",

	ErrAuthentication: "认证失败",
	ErrAuthorization:  "授权失败",
	ErrTokenExpired:   "令牌已过期",
	ErrTokenInvalid:   "无效的令牌",
}

// 协议错误标识，随error消息发给客户端
var errorSlugs = map[ErrorCode]string{
	ErrInvalidParam:       "invalid_param",
	ErrMatchNotFound:      "match_not_found",
	ErrMatchNotOpen:       "match_not_open",
	ErrMatchFull:          "match_full",
	ErrAlreadyJoined:      "already_joined",
	ErrNotParticipant:     "not_participant",
	ErrMatchNotInProgress: "match_not_in_progress",
	ErrInvalidDirection:   "invalid_direction",
	ErrMoveNotApplied:     "move_not_applied",
	ErrMatchStarting:      "match_starting",
	ErrNotCancellable:     "not_cancellable",
	ErrInvalidWager:       "invalid_wager",
	ErrInvalidRoomCode:    "invalid_room_code",
	ErrNotHost:            "not_host",
	ErrMatchEnded:         "match_ended",
	ErrMessageFormat:      "message_format",
	ErrUnknownMessage:     "unknown_message",
	ErrIdentityMismatch:   "identity_mismatch",
	ErrAuthentication:     "unauthenticated",
	ErrTokenExpired:       "token_expired",
	ErrTokenInvalid:       "token_invalid",
}

// AppError 应用错误结构
type AppError struct {
	Code    ErrorCode    `json:"code"`            // 错误码
	Message string       `json:"message"`         // 错误消息
	Details string       `json:"details"`         // 详细信息
	Cause   error        `json:"-"`               // 原始错误
	Stack   []StackFrame `json:"stack,omitempty"` // 调用栈
}

// StackFrame 调用栈帧
type StackFrame struct {
	Function string `json:"function"`
	File     string `json:"file"`
	Line     int    `json:"line"`
}

// Error 实现error接口
func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%d] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

// Unwrap 返回原始错误
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithDetails 添加详细信息
func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

// WithCause 添加原因错误
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	if cause != nil && e.Details == "" {
		e.Details = cause.Error()
	}
	return e
}

// Slug 协议错误标识
func (e *AppError) Slug() string {
	if slug, ok := errorSlugs[e.Code]; ok {
		return slug
	}
	return "internal"
}

// New 创建新的应用错误
func New(code ErrorCode, details ...string) *AppError {
	message, ok := errorMessages[code]
	if !ok {
		message = errorMessages[ErrUnknown]
	}

	err := &AppError{
		Code:    code,
		Message: message,
	}
	if len(details) > 0 {
		err.Details = strings.Join(details, "; ")
	}

	err.captureStack(2)
	return err
}

// Newf 创建格式化的应用错误
func Newf(code ErrorCode, format string, args ...interface{}) *AppError {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap 包装错误，已是AppError时保留原始错误码
func Wrap(err error, code ErrorCode, details ...string) *AppError {
	if err == nil {
		return nil
	}

	if appErr, ok := As(err); ok {
		if len(details) > 0 {
			appErr.Details = strings.Join(details, "; ") + "; " + appErr.Details
		}
		return appErr
	}

	appErr := New(code, details...)
	appErr.Cause = err
	if appErr.Details == "" {
		appErr.Details = err.Error()
	}
	return appErr
}

// Wrapf 包装格式化错误
func Wrapf(err error, code ErrorCode, format string, args ...interface{}) *AppError {
	return Wrap(err, code, fmt.Sprintf(format, args...))
}

// As 从错误链中取出AppError
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// Is 判断错误是否为指定错误码
func Is(err error, code ErrorCode) bool {
	appErr, ok := As(err)
	return ok && appErr.Code == code
}

// GetCode 获取错误码
func GetCode(err error) ErrorCode {
	if err == nil {
		return 0
	}
	if appErr, ok := As(err); ok {
		return appErr.Code
	}
	return ErrUnknown
}

// captureStack 捕获调用栈
func (e *AppError) captureStack(skip int) {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(skip+1, pcs)
	if n == 0 {
		return
	}

	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		// 跳过runtime和本包的调用
		if !strings.Contains(frame.Function, "runtime.") &&
			!strings.Contains(frame.Function, "tile-arena/internal/errors") {
			e.Stack = append(e.Stack, StackFrame{
				Function: frame.Function,
				File:     frame.File,
				Line:     frame.Line,
			})
		}
		if !more || len(e.Stack) >= 10 {
			break
		}
	}
}

// GetStack 获取格式化的调用栈
func (e *AppError) GetStack() string {
	if len(e.Stack) == 0 {
		return ""
	}

	var builder strings.Builder
	for i, frame := range e.Stack {
		builder.WriteString(fmt.Sprintf("%d. %s\n   %s:%d\n",
			i+1, frame.Function, frame.File, frame.Line))
	}
	return builder.String()
}

// HTTPStatus 返回对应的HTTP状态码
func (e *AppError) HTTPStatus() int {
	switch {
	case e.Code == ErrNotFound, e.Code == ErrMatchNotFound:
		return 404
	case e.Code == ErrPermissionDenied, e.Code == ErrNotHost, e.Code == ErrIdentityMismatch:
		return 403
	case e.Code == ErrTimeout:
		return 408
	case e.Code == ErrInvalidParam, e.Code == ErrInvalidWager, e.Code == ErrInvalidRoomCode,
		e.Code == ErrInvalidDirection, e.Code == ErrMessageFormat, e.Code == ErrUnknownMessage:
		return 400
	case e.Code >= 2000 && e.Code <= 2999, e.Code == ErrAlreadyExists:
		return 409
	case e.Code >= 7000 && e.Code <= 7999:
		return 401
	case e.Code >= 5000 && e.Code <= 5999:
		return 503
	default:
		return 500
	}
}

// IsClientError 是否为客户端协议错误，只回复给发送方
func IsClientError(err error) bool {
	code := GetCode(err)
	switch {
	case code == ErrInvalidParam:
		return true
	case code >= 2000 && code <= 2999:
		return true
	case code == ErrMessageFormat, code == ErrUnknownMessage, code == ErrIdentityMismatch:
		return true
	case code >= 7000 && code <= 7999:
		return true
	default:
		return false
	}
}

// IsRetryable 判断错误是否可重试
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	switch GetCode(err) {
	case ErrTimeout,
		ErrDatabaseConnect,
		ErrDatabaseUpdate,
		ErrDatabaseInsert,
		ErrTransaction,
		ErrStoreUnavailable,
		ErrSettlementPublish:
		return true
	default:
		return false
	}
}

// IsCritical 判断是否为严重错误
func IsCritical(err error) bool {
	switch GetCode(err) {
	case ErrDatabaseConnect, ErrConfigLoad, ErrConfigMissing, ErrDataIntegrity:
		return true
	default:
		return false
	}
}

// ErrorResponse API错误响应结构
type ErrorResponse struct {
	Success   bool      `json:"success"`
	Error     *AppError `json:"error,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	Timestamp int64     `json:"timestamp"`
}

// NewErrorResponse 创建错误响应
func NewErrorResponse(err *AppError, requestID string) *ErrorResponse {
	return &ErrorResponse{
		Success:   false,
		Error:     err,
		RequestID: requestID,
		Timestamp: time.Now().Unix(),
	}
}
