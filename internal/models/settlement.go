package models

import (
	"time"
)

// 结算状态
const (
	SettlementPending = "pending"
	SettlementSent    = "sent"
	SettlementFailed  = "failed"
)

// Settlement 结算通知记录，每个对局一条
type Settlement struct {
	BaseModel
	MatchID      string      `gorm:"uniqueIndex;size:64;not null" json:"match_id"`
	Kind         string      `gorm:"size:16;not null" json:"kind"` // payout, refund
	WinnerID     string      `gorm:"size:128" json:"winner_id"`
	Wager        int64       `json:"wager"`
	TotalPot     int64       `json:"total_pot"`
	Fee          int64       `json:"fee"`
	Payout       int64       `json:"payout"`
	Participants StringsJSON `gorm:"type:text" json:"participants"`
	Status       string      `gorm:"size:16;not null;index" json:"status"`
	Attempts     int         `gorm:"default:0" json:"attempts"`
	LastError    string      `gorm:"size:500" json:"last_error,omitempty"`
	SentAt       *time.Time  `json:"sent_at,omitempty"`
}

// TableName 指定表名
func (Settlement) TableName() string {
	return "settlements"
}
