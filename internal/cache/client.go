package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wfunc/tile-arena/internal/config"
)

// NewClient 创建Redis客户端并检查连接
func NewClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return rdb, nil
}

// Keys 键名
type Keys struct {
	Prefix string
}

// Match 对局快照哈希
func (k Keys) Match(matchID string) string {
	return k.join("match", matchID)
}

// Moves 玩家移动列表
func (k Keys) Moves(matchID, participantID string) string {
	return k.join("moves", matchID, participantID)
}

// Unfinished 未结束对局集合
func (k Keys) Unfinished() string {
	return k.join("matches", "unfinished")
}

// Room 房间事件频道
func (k Keys) Room(matchID string) string {
	return k.join("room", matchID)
}

// Result 终局结果
func (k Keys) Result(matchID string) string {
	return k.join("result", matchID)
}

func (k Keys) join(parts ...string) string {
	key := k.Prefix
	for _, p := range parts {
		if key == "" {
			key = p
			continue
		}
		key += ":" + p
	}
	return key
}
