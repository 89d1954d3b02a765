package store

import (
	"time"

	"github.com/wfunc/tile-arena/internal/game/puzzle"
)

// Status 对局状态
type Status string

const (
	StatusOpen       Status = "open"        // 等待玩家加入和准备
	StatusStarting   Status = "starting"    // 倒计时中
	StatusInProgress Status = "in_progress" // 对局进行中
	StatusEnded      Status = "ended"       // 已结束，已判定胜者
	StatusCancelled  Status = "cancelled"   // 开始前被取消
)

// 合法的状态转换，状态只能前进
var statusTransitions = map[Status][]Status{
	StatusOpen:       {StatusStarting, StatusCancelled},
	StatusStarting:   {StatusInProgress, StatusCancelled},
	StatusInProgress: {StatusEnded},
}

// CanTransition 是否允许从from转换到to
func CanTransition(from, to Status) bool {
	for _, next := range statusTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal 是否为终态
func (s Status) Terminal() bool {
	return s == StatusEnded || s == StatusCancelled
}

// Rank 状态在生命周期中的先后，终态最大
func (s Status) Rank() int {
	switch s {
	case StatusOpen:
		return 0
	case StatusStarting:
		return 1
	case StatusInProgress:
		return 2
	case StatusEnded, StatusCancelled:
		return 3
	}
	return -1
}

// SupersededBy 已保存的玩家状态是否可以被next覆盖。定格后不再变化，移动数不回退
func (p *Player) SupersededBy(next *Player) bool {
	return !p.Finalized && next.Puzzle.MoveCount >= p.Puzzle.MoveCount
}

// Valid 是否为已知状态
func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusStarting, StatusInProgress, StatusEnded, StatusCancelled:
		return true
	}
	return false
}

// Player 对局中的玩家
type Player struct {
	ParticipantID string
	JoinOrder     int
	Ready         bool
	Puzzle        puzzle.State
	Finalized     bool
	FinalGrid     puzzle.Grid
	JoinedAt      time.Time
}

// Match 对局
type Match struct {
	ID               string
	RoomCode         string
	HostID           string
	Wager            int64
	MaxPlayers       int
	TotalPot         int64
	Duration         time.Duration
	Status           Status
	Seed             uint64
	RequiresApproval bool
	Authoritative    bool
	WinnerID         string
	CreatedAt        time.Time
	StartedAt        time.Time
	EndedAt          time.Time
	// Players 按加入顺序排列
	Players []Player
}

// CurrentPlayers 当前人数
func (m *Match) CurrentPlayers() int {
	return len(m.Players)
}

// Full 是否满员
func (m *Match) Full() bool {
	return len(m.Players) >= m.MaxPlayers
}

// AllReady 所有已加入的玩家都已准备
func (m *Match) AllReady() bool {
	if len(m.Players) == 0 {
		return false
	}
	for i := range m.Players {
		if !m.Players[i].Ready {
			return false
		}
	}
	return true
}

// Player 查找玩家
func (m *Match) Player(participantID string) (*Player, bool) {
	for i := range m.Players {
		if m.Players[i].ParticipantID == participantID {
			return &m.Players[i], true
		}
	}
	return nil, false
}

// Clone 深拷贝
func (m *Match) Clone() *Match {
	if m == nil {
		return nil
	}
	c := *m
	c.Players = append([]Player(nil), m.Players...)
	return &c
}

// EndsAt 计时结束时间
func (m *Match) EndsAt() time.Time {
	if m.StartedAt.IsZero() {
		return time.Time{}
	}
	return m.StartedAt.Add(m.Duration)
}

// NewMatch 创建对局参数
type NewMatch struct {
	ID         string
	HostID     string
	Wager      int64
	MaxPlayers int
	Duration   time.Duration
	Seed       uint64
}

// Ranked 终局排名中的一行
type Ranked struct {
	Rank          int
	ParticipantID string
	JoinOrder     int
	Score         int
	HighestTile   int
	MoveCount     int
	FinalGrid     puzzle.Grid
}

// Result 终局结果
type Result struct {
	WinnerID string
	Ranked   []Ranked
	EndedAt  time.Time
}

// Winner 第一名
func (r *Result) Winner() (Ranked, bool) {
	if r == nil || len(r.Ranked) == 0 {
		return Ranked{}, false
	}
	return r.Ranked[0], true
}

// Filter 对局列表过滤条件
type Filter struct {
	Status Status
	Limit  int
	Offset int
}
