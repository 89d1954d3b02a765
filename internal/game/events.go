package game

import (
	"context"
	"time"
)

// EventType 服务端广播事件类型
type EventType string

const (
	EventRoomSnapshot   EventType = "room-snapshot"
	EventPlayerJoined   EventType = "player-joined"
	EventReadyChanged   EventType = "ready-changed"
	EventMatchStarting  EventType = "match-starting"
	EventMatchStarted   EventType = "match-started"
	EventMoveApplied    EventType = "move-applied"
	EventMilestone      EventType = "milestone"
	EventMatchEnded     EventType = "match-ended"
	EventMatchCancelled EventType = "match-cancelled"
)

// Event 房间事件
type Event struct {
	Type      EventType   `json:"type"`
	MatchID   string      `json:"matchId"`
	Data      interface{} `json:"data"`
	Timestamp int64       `json:"timestamp"`
}

// NewEvent 创建事件，时间戳为毫秒
func NewEvent(t EventType, matchID string, data interface{}, at time.Time) Event {
	return Event{Type: t, MatchID: matchID, Data: data, Timestamp: at.UnixMilli()}
}

// PlayerJoinedPayload 玩家加入
type PlayerJoinedPayload struct {
	ParticipantID  string `json:"participantId"`
	JoinOrder      int    `json:"joinOrder"`
	CurrentPlayers int    `json:"currentPlayers"`
	MaxPlayers     int    `json:"maxPlayers"`
	TotalPot       int64  `json:"totalPot"`
}

// ReadyChangedPayload 准备状态变化
type ReadyChangedPayload struct {
	ParticipantID string `json:"participantId"`
	Ready         bool   `json:"ready"`
}

// MatchStartingPayload 开始倒计时
type MatchStartingPayload struct {
	CountdownSeconds int `json:"countdownSeconds"`
}

// MatchStartedPayload 对局开始，附带每个玩家的初始棋盘
type MatchStartedPayload struct {
	StartTimestamp  int64        `json:"startTimestamp"`
	DurationSeconds int          `json:"durationSeconds"`
	EndsAt          int64        `json:"endsAt"`
	Players         []PlayerView `json:"players"`
}

// MoveAppliedPayload 一步移动生效
type MoveAppliedPayload struct {
	ParticipantID string  `json:"participantId"`
	Direction     string  `json:"direction"`
	Grid          [][]int `json:"grid"`
	Score         int     `json:"score"`
	HighestTile   int     `json:"highestTile"`
	MoveCount     int     `json:"moveCount"`
	GameOver      bool    `json:"gameOver"`
}

// MilestonePayload 首次达到目标方块
type MilestonePayload struct {
	ParticipantID string `json:"participantId"`
	TileValue     int    `json:"tileValue"`
}

// MatchEndedPayload 对局结束
type MatchEndedPayload struct {
	WinnerID      string       `json:"winnerId"`
	WinnerScore   int          `json:"winnerScore"`
	WinnerTile    int          `json:"winnerTile"`
	RankedPlayers []RankedView `json:"rankedPlayers"`
}

// MatchCancelledPayload 对局取消
type MatchCancelledPayload struct {
	CancelledBy string `json:"cancelledBy,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// Publisher 房间事件发布，实现方不得阻塞调用方
type Publisher interface {
	Publish(ctx context.Context, matchID string, ev Event)
}

// PublisherFunc 函数适配
type PublisherFunc func(ctx context.Context, matchID string, ev Event)

// Publish 实现Publisher
func (f PublisherFunc) Publish(ctx context.Context, matchID string, ev Event) {
	f(ctx, matchID, ev)
}

// multiPublisher 依次发布到多个目标
type multiPublisher []Publisher

// MultiPublisher 组合多个发布者，忽略nil
func MultiPublisher(publishers ...Publisher) Publisher {
	out := make(multiPublisher, 0, len(publishers))
	for _, p := range publishers {
		if p != nil {
			out = append(out, p)
		}
	}
	return out
}

func (m multiPublisher) Publish(ctx context.Context, matchID string, ev Event) {
	for _, p := range m {
		p.Publish(ctx, matchID, ev)
	}
}
