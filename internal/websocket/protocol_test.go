package websocket

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/wfunc/tile-arena/internal/errors"
	"github.com/wfunc/tile-arena/internal/game"
)

// TestDecodeClientMessage 测试客户端消息解码
func TestDecodeClientMessage(t *testing.T) {
	msg, err := DecodeClientMessage([]byte(`{"type":"submit-move","data":{"matchId":"m1","participantId":"p1","direction":"left"}}`))
	require.NoError(t, err)
	assert.Equal(t, MessageTypeSubmitMove, msg.Type)

	move, ok := msg.Payload.(*SubmitMoveData)
	require.True(t, ok)
	assert.Equal(t, "m1", move.MatchID)
	assert.Equal(t, "p1", move.ParticipantID)
	assert.Equal(t, "left", move.Direction)
}

func TestDecodeClientMessageEnvelopeMatchID(t *testing.T) {
	msg, err := DecodeClientMessage([]byte(`{"type":"spectate","matchId":"m9"}`))
	require.NoError(t, err)
	spec, ok := msg.Payload.(*SpectateData)
	require.True(t, ok)
	assert.Equal(t, "m9", spec.MatchID)

	// 数据中的matchId优先
	msg, err = DecodeClientMessage([]byte(`{"type":"leave-room","matchId":"m9","data":{"matchId":"m1"}}`))
	require.NoError(t, err)
	assert.Equal(t, "m1", msg.Payload.(*LeaveRoomData).MatchID)
}

func TestDecodeClientMessageSetReady(t *testing.T) {
	msg, err := DecodeClientMessage([]byte(`{"type":"set-ready","matchId":"m1","data":{"participantId":"p1","ready":false}}`))
	require.NoError(t, err)
	ready := msg.Payload.(*SetReadyData)
	require.NotNil(t, ready.Ready)
	assert.False(t, *ready.Ready)

	_, err = DecodeClientMessage([]byte(`{"type":"set-ready","matchId":"m1","data":{"participantId":"p1"}}`))
	assert.True(t, apperrors.Is(err, apperrors.ErrMessageFormat))
}

func TestDecodeClientMessageErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		code apperrors.ErrorCode
	}{
		{"非法JSON", `{"type":`, apperrors.ErrMessageFormat},
		{"缺少类型", `{"data":{}}`, apperrors.ErrMessageFormat},
		{"未知类型", `{"type":"teleport"}`, apperrors.ErrUnknownMessage},
		{"缺少matchId", `{"type":"spectate"}`, apperrors.ErrMessageFormat},
		{"缺少方向", `{"type":"submit-move","matchId":"m1","data":{"participantId":"p1"}}`, apperrors.ErrMessageFormat},
		{"数据类型错误", `{"type":"join-room","data":"m1"}`, apperrors.ErrMessageFormat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeClientMessage([]byte(tt.raw))
			require.Error(t, err)
			assert.Equal(t, tt.code, apperrors.GetCode(err))
			assert.True(t, apperrors.IsClientError(err))
		})
	}
}

func TestDecodeClientMessagePing(t *testing.T) {
	msg, err := DecodeClientMessage([]byte(`{"type":"ping"}`))
	require.NoError(t, err)
	assert.Equal(t, &PingData{}, msg.Payload)
}

func TestEventMessage(t *testing.T) {
	at := time.UnixMilli(1700000000123)
	ev := game.NewEvent(game.EventMilestone, "m1", game.MilestonePayload{ParticipantID: "p1", TileValue: 2048}, at)

	msg, err := EventMessage(ev)
	require.NoError(t, err)
	assert.Equal(t, "milestone", msg.Type)
	assert.Equal(t, "m1", msg.MatchID)
	assert.Equal(t, int64(1700000000123), msg.Timestamp)

	var payload game.MilestonePayload
	require.NoError(t, json.Unmarshal(msg.Data, &payload))
	assert.Equal(t, 2048, payload.TileValue)
}

func TestNewErrorData(t *testing.T) {
	data := NewErrorData(apperrors.New(apperrors.ErrMatchFull, "max=2"), MessageTypeJoinRoom)
	assert.Equal(t, "match_full", data.Code)
	assert.Equal(t, "max=2", data.Details)
	assert.Equal(t, MessageTypeJoinRoom, data.RequestType)
	assert.NotEmpty(t, data.Message)

	// 内部错误不带细节
	data = NewErrorData(apperrors.New(apperrors.ErrStoreUnavailable, "dial tcp 10.0.0.1"), MessageTypeSubmitMove)
	assert.Empty(t, data.Details)

	data = NewErrorData(errors.New("boom"), "")
	assert.NotEmpty(t, data.Code)
	assert.Empty(t, data.Details)
}
