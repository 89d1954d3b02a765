package store

import (
	"context"
)

// Mutation 在状态转换的同一把锁内执行，可修改对局；返回ErrGuardFailed表示放弃转换
type Mutation func(m *Match) error

// MoveFunc 在同一把锁内读改写玩家棋局；返回错误则不写入
type MoveFunc func(p *Player) error

// Store 对局状态存储，所有方法并发安全
type Store interface {
	CreateMatch(ctx context.Context, req NewMatch) (*Match, error)
	GetMatch(ctx context.Context, matchID string) (*Match, error)
	GetMatchByRoomCode(ctx context.Context, code string) (*Match, error)
	ListMatches(ctx context.Context, filter Filter) ([]*Match, error)

	// AddPlayer 原子地检查容量并分配下一个加入顺序
	AddPlayer(ctx context.Context, matchID, participantID string) (*Match, *Player, error)
	SetReady(ctx context.Context, matchID, participantID string, ready bool) (*Match, error)

	// CompareAndTransitionStatus 当前状态等于expected时转换到next。
	// 状态不符或mutation返回ErrGuardFailed时返回(false, nil)。
	CompareAndTransitionStatus(ctx context.Context, matchID string, expected, next Status, mutate Mutation) (bool, error)

	// RecordMove 仅在对局进行中时更新玩家棋局
	RecordMove(ctx context.Context, matchID, participantID string, fn MoveFunc) (*Player, error)

	// Finalize 写入胜者和终局棋盘，相同结果重复写入是空操作
	Finalize(ctx context.Context, matchID string, result Result) error

	SetAuthoritative(ctx context.Context, matchID string, authoritative bool) error
	Restore(ctx context.Context, m *Match) error
}
