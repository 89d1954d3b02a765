package websocket

import (
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin/binding"

	apperrors "github.com/wfunc/tile-arena/internal/errors"
	"github.com/wfunc/tile-arena/internal/game"
)

// 客户端消息类型
const (
	MessageTypeJoinRoom   = "join-room"
	MessageTypeLeaveRoom  = "leave-room"
	MessageTypeSetReady   = "set-ready"
	MessageTypeSubmitMove = "submit-move"
	MessageTypeSpectate   = "spectate"
	MessageTypePing       = "ping"
)

// 服务端消息类型，房间事件直接使用game.EventType
const (
	MessageTypeConnected = "connected"
	MessageTypePong      = "pong"
	MessageTypeError     = "error"
	MessageTypeLeft      = "left-room"
)

// Message 消息信封
type Message struct {
	Type      string          `json:"type"`
	MatchID   string          `json:"matchId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// NewMessage 创建消息，data为nil时不带数据
func NewMessage(msgType, matchID string, data interface{}) (*Message, error) {
	msg := &Message{Type: msgType, MatchID: matchID, Timestamp: time.Now().UnixMilli()}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		msg.Data = raw
	}
	return msg, nil
}

// EventMessage 房间事件转为消息
func EventMessage(ev game.Event) (*Message, error) {
	msg, err := NewMessage(string(ev.Type), ev.MatchID, ev.Data)
	if err != nil {
		return nil, err
	}
	msg.Timestamp = ev.Timestamp
	return msg, nil
}

// JoinRoomData join-room
type JoinRoomData struct {
	MatchID       string `json:"matchId" binding:"required"`
	ParticipantID string `json:"participantId"`
}

// LeaveRoomData leave-room
type LeaveRoomData struct {
	MatchID string `json:"matchId" binding:"required"`
}

// SetReadyData set-ready
type SetReadyData struct {
	MatchID       string `json:"matchId" binding:"required"`
	ParticipantID string `json:"participantId" binding:"required"`
	Ready         *bool  `json:"ready" binding:"required"`
}

// SubmitMoveData submit-move
type SubmitMoveData struct {
	MatchID       string `json:"matchId" binding:"required"`
	ParticipantID string `json:"participantId" binding:"required"`
	Direction     string `json:"direction" binding:"required"`
}

// SpectateData spectate
type SpectateData struct {
	MatchID string `json:"matchId" binding:"required"`
}

// PingData ping
type PingData struct {
	Nonce string `json:"nonce,omitempty"`
}

// ErrorData error消息内容
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
	// RequestType 引发错误的消息类型
	RequestType string `json:"requestType,omitempty"`
}

// ClientMessage 解码后的客户端消息
type ClientMessage struct {
	Type    string
	Payload interface{}
}

// DecodeClientMessage 解码并校验客户端消息
func DecodeClientMessage(data []byte) (*ClientMessage, error) {
	var env Message
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrMessageFormat)
	}
	if env.Type == "" {
		return nil, apperrors.New(apperrors.ErrMessageFormat, "消息类型不能为空")
	}

	var payload interface{}
	switch env.Type {
	case MessageTypeJoinRoom:
		payload = &JoinRoomData{}
	case MessageTypeLeaveRoom:
		payload = &LeaveRoomData{}
	case MessageTypeSetReady:
		payload = &SetReadyData{}
	case MessageTypeSubmitMove:
		payload = &SubmitMoveData{}
	case MessageTypeSpectate:
		payload = &SpectateData{}
	case MessageTypePing:
		payload = &PingData{}
	default:
		return nil, apperrors.Newf(apperrors.ErrUnknownMessage, "type=%s", env.Type)
	}

	raw := env.Data
	if len(raw) == 0 || string(raw) == "null" {
		raw = []byte("{}")
	}
	if err := json.Unmarshal(raw, payload); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrMessageFormat)
	}
	// 信封上的matchId作为默认值
	if env.MatchID != "" {
		fillMatchID(payload, env.MatchID)
	}
	if err := binding.Validator.ValidateStruct(payload); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrMessageFormat)
	}
	return &ClientMessage{Type: env.Type, Payload: payload}, nil
}

func fillMatchID(payload interface{}, matchID string) {
	switch p := payload.(type) {
	case *JoinRoomData:
		if p.MatchID == "" {
			p.MatchID = matchID
		}
	case *LeaveRoomData:
		if p.MatchID == "" {
			p.MatchID = matchID
		}
	case *SetReadyData:
		if p.MatchID == "" {
			p.MatchID = matchID
		}
	case *SubmitMoveData:
		if p.MatchID == "" {
			p.MatchID = matchID
		}
	case *SpectateData:
		if p.MatchID == "" {
			p.MatchID = matchID
		}
	}
}

// NewErrorData 把错误转为error消息内容
func NewErrorData(err error, requestType string) ErrorData {
	appErr, ok := apperrors.As(err)
	if !ok {
		appErr = apperrors.Wrap(err, apperrors.ErrUnknown)
	}
	data := ErrorData{
		Code:        appErr.Slug(),
		Message:     appErr.Message,
		RequestType: requestType,
	}
	// 内部错误不向客户端暴露细节
	if apperrors.IsClientError(appErr) {
		data.Details = appErr.Details
	}
	return data
}
