package game

import (
	"context"
	"time"
)

// SettlementKind 结算类型
type SettlementKind string

const (
	SettlementPayout SettlementKind = "payout"
	SettlementRefund SettlementKind = "refund"
)

// SettlementRequest 交给外部结算服务的请求
type SettlementRequest struct {
	MatchID      string         `json:"matchId"`
	Kind         SettlementKind `json:"kind"`
	WinnerID     string         `json:"winnerId,omitempty"`
	Wager        int64          `json:"wager"`
	TotalPot     int64          `json:"totalPot"`
	Participants []string       `json:"participants"`
	At           time.Time      `json:"at"`
}

// Settler 结算投递，Enqueue不得阻塞
type Settler interface {
	Enqueue(ctx context.Context, req SettlementRequest) error
}
