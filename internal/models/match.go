package models

import (
	"time"
)

// 对局状态
const (
	MatchStatusOpen       = "open"
	MatchStatusStarting   = "starting"
	MatchStatusInProgress = "in_progress"
	MatchStatusEnded      = "ended"
	MatchStatusCancelled  = "cancelled"
)

// Match 对局表
type Match struct {
	BaseModel
	MatchID          string        `gorm:"uniqueIndex;size:64;not null" json:"match_id"`
	RoomCode         string        `gorm:"index;size:8" json:"room_code"`
	HostID           string        `gorm:"size:128" json:"host_id"`
	Wager            int64         `gorm:"default:0" json:"wager"`
	MaxPlayers       int           `gorm:"not null" json:"max_players"`
	CurrentPlayers   int           `gorm:"default:0" json:"current_players"`
	TotalPot         int64         `gorm:"default:0" json:"total_pot"`
	DurationSeconds  int           `gorm:"not null" json:"duration_seconds"`
	Status           string        `gorm:"size:20;not null;index" json:"status"`
	Seed             int64         `json:"-"`
	RequiresApproval bool          `json:"requires_approval"`
	Authoritative    bool          `gorm:"default:true" json:"authoritative"`
	WinnerID         string        `gorm:"size:128;index" json:"winner_id"`
	StartedAt        *time.Time    `json:"started_at,omitempty"`
	EndedAt          *time.Time    `json:"ended_at,omitempty"`
	Players          []MatchPlayer `gorm:"foreignKey:MatchID;references:MatchID" json:"players,omitempty"`
}

// TableName 指定表名
func (Match) TableName() string {
	return "matches"
}

// Unfinished 是否仍需恢复
func (m *Match) Unfinished() bool {
	return m.Status == MatchStatusOpen || m.Status == MatchStatusStarting || m.Status == MatchStatusInProgress
}

// MatchStatusRank 状态先后，用于拒绝回退的写入
func MatchStatusRank(status string) int {
	switch status {
	case MatchStatusOpen:
		return 0
	case MatchStatusStarting:
		return 1
	case MatchStatusInProgress:
		return 2
	case MatchStatusEnded, MatchStatusCancelled:
		return 3
	}
	return -1
}

// MatchPlayer 对局玩家表
type MatchPlayer struct {
	BaseModel
	MatchID       string    `gorm:"uniqueIndex:idx_match_participant;size:64;not null" json:"match_id"`
	ParticipantID string    `gorm:"uniqueIndex:idx_match_participant;size:128;not null" json:"participant_id"`
	JoinOrder     int       `gorm:"not null" json:"join_order"`
	Ready         bool      `json:"ready"`
	Score         int       `gorm:"default:0" json:"score"`
	HighestTile   int       `gorm:"default:0" json:"highest_tile"`
	MoveCount     int       `gorm:"default:0" json:"move_count"`
	GameOver      bool      `json:"game_over"`
	ReachedTarget bool      `json:"reached_target"`
	Grid          GridJSON  `gorm:"type:text" json:"grid"`
	Finalized     bool      `json:"finalized"`
	FinalGrid     GridJSON  `gorm:"type:text" json:"final_grid"`
	JoinedAt      time.Time `json:"joined_at"`
}

// TableName 指定表名
func (MatchPlayer) TableName() string {
	return "match_players"
}

// SupersededBy 已保存的行是否可以被next覆盖
func (p *MatchPlayer) SupersededBy(next *MatchPlayer) bool {
	return !p.Finalized && next.MoveCount >= p.MoveCount
}

// MatchMove 已生效的移动，用于按种子复盘
type MatchMove struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	MatchID       string    `gorm:"index:idx_move_seq;size:64;not null" json:"match_id"`
	ParticipantID string    `gorm:"index:idx_move_seq;size:128;not null" json:"participant_id"`
	MoveNumber    int       `gorm:"index:idx_move_seq;not null" json:"move_number"`
	Direction     string    `gorm:"size:8;not null" json:"direction"`
	Points        int       `json:"points"`
	Score         int       `json:"score"`
	CreatedAt     time.Time `json:"created_at"`
}

// TableName 指定表名
func (MatchMove) TableName() string {
	return "match_moves"
}
