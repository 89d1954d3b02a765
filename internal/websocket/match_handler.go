package websocket

import (
	"context"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/wfunc/tile-arena/internal/errors"
	"github.com/wfunc/tile-arena/internal/game"
)

// MatchHandler 处理对局相关的客户端消息
type MatchHandler struct {
	hub         *Hub
	coordinator *game.Coordinator
	pipeline    *game.MovePipeline
	logger      *zap.Logger
	timeout     time.Duration
}

// NewMatchHandler 创建对局消息处理器
func NewMatchHandler(hub *Hub, coordinator *game.Coordinator, pipeline *game.MovePipeline, logger *zap.Logger) *MatchHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MatchHandler{
		hub:         hub,
		coordinator: coordinator,
		pipeline:    pipeline,
		logger:      logger,
		timeout:     10 * time.Second,
	}
}

// HandleClientMessage 处理客户端消息；协议错误只回复给发送方
func (h *MatchHandler) HandleClientMessage(client *Client, data []byte) {
	msg, err := DecodeClientMessage(data)
	if err != nil {
		h.logger.Warn("解析消息失败", zap.String("client_id", client.ID), zap.Error(err))
		h.sendError(client, "", "", err)
		return
	}

	h.logger.Debug("收到WebSocket消息",
		zap.String("client_id", client.ID),
		zap.String("type", msg.Type),
		zap.String("participant_id", client.ParticipantID))

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	var matchID string
	switch p := msg.Payload.(type) {
	case *JoinRoomData:
		matchID = p.MatchID
		err = h.handleJoinRoom(ctx, client, p)
	case *LeaveRoomData:
		matchID = p.MatchID
		h.hub.Unsubscribe(p.MatchID, client.ID)
		err = client.SendMessage(MessageTypeLeft, p.MatchID, nil)
	case *SetReadyData:
		matchID = p.MatchID
		err = h.handleSetReady(ctx, client, p)
	case *SubmitMoveData:
		matchID = p.MatchID
		err = h.handleSubmitMove(ctx, client, p)
	case *SpectateData:
		matchID = p.MatchID
		err = h.subscribeWithSnapshot(ctx, client, p.MatchID)
	case *PingData:
		err = client.SendMessage(MessageTypePong, "", p)
	}

	if err != nil {
		h.sendError(client, msg.Type, matchID, err)
	}
}

// handleJoinRoom 订阅房间；已认证且尚未加入的玩家会加入对局
func (h *MatchHandler) handleJoinRoom(ctx context.Context, client *Client, p *JoinRoomData) error {
	if p.ParticipantID != "" {
		if err := h.authorize(client, p.ParticipantID); err != nil {
			return err
		}
	}

	if !client.Spectator() {
		view, err := h.coordinator.Snapshot(ctx, p.MatchID)
		if err != nil {
			return err
		}
		if !isMember(view, client.ParticipantID) {
			if _, err := h.coordinator.JoinMatch(ctx, p.MatchID, client.ParticipantID); err != nil {
				return err
			}
		}
	}
	return h.subscribeWithSnapshot(ctx, client, p.MatchID)
}

func (h *MatchHandler) handleSetReady(ctx context.Context, client *Client, p *SetReadyData) error {
	if err := h.authorize(client, p.ParticipantID); err != nil {
		return err
	}
	_, err := h.coordinator.SetReady(ctx, p.MatchID, p.ParticipantID, *p.Ready)
	return err
}

func (h *MatchHandler) handleSubmitMove(ctx context.Context, client *Client, p *SubmitMoveData) error {
	if err := h.authorize(client, p.ParticipantID); err != nil {
		return err
	}
	_, err := h.pipeline.HandleMove(ctx, p.MatchID, p.ParticipantID, p.Direction)
	return err
}

// subscribeWithSnapshot 先订阅再发送快照，订阅之后的事件不会遗漏
func (h *MatchHandler) subscribeWithSnapshot(ctx context.Context, client *Client, matchID string) error {
	if _, err := h.coordinator.Snapshot(ctx, matchID); err != nil {
		return err
	}
	if err := h.hub.Subscribe(matchID, client.ID); err != nil {
		return apperrors.Wrap(err, apperrors.ErrWebSocketClosed)
	}
	view, err := h.coordinator.Snapshot(ctx, matchID)
	if err != nil {
		return err
	}
	return client.SendMessage(string(game.EventRoomSnapshot), matchID, view)
}

// authorize 消息中的玩家ID必须与连接认证的身份一致
func (h *MatchHandler) authorize(client *Client, participantID string) error {
	if client.Spectator() {
		return apperrors.New(apperrors.ErrAuthentication, "观战连接不能执行玩家操作")
	}
	if participantID != client.ParticipantID {
		return apperrors.Newf(apperrors.ErrIdentityMismatch, "participant=%s", participantID)
	}
	return nil
}

func (h *MatchHandler) sendError(client *Client, requestType, matchID string, err error) {
	if !apperrors.IsClientError(err) {
		h.logger.Error("处理WebSocket消息失败",
			zap.String("client_id", client.ID),
			zap.String("type", requestType),
			zap.String("match_id", matchID),
			zap.Error(err))
	}
	if sendErr := client.SendMessage(MessageTypeError, matchID, NewErrorData(err, requestType)); sendErr != nil {
		h.logger.Debug("发送错误消息失败", zap.String("client_id", client.ID), zap.Error(sendErr))
	}
}

func isMember(view *game.MatchView, participantID string) bool {
	for _, p := range view.Players {
		if p.ParticipantID == participantID {
			return true
		}
	}
	return false
}
