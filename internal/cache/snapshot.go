package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wfunc/tile-arena/internal/game"
	"github.com/wfunc/tile-arena/internal/store"
)

const (
	fieldMatch        = "match"
	fieldPlayerPrefix = "player:"
)

// SnapshotCache 对局快照缓存，作为数据库前的缓存层
type SnapshotCache struct {
	rdb  redis.UniversalClient
	keys Keys
	ttl  time.Duration
}

// NewSnapshotCache 创建快照缓存
func NewSnapshotCache(rdb redis.UniversalClient, prefix string, ttl time.Duration) *SnapshotCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &SnapshotCache{rdb: rdb, keys: Keys{Prefix: prefix}, ttl: ttl}
}

// saveMatchScript 状态不回退；已定格或移动数更大的玩家字段保持不变
// KEYS[1] 对局哈希；ARGV: 对局JSON, 状态序, TTL秒, 之后每三个为 字段, 玩家JSON, 移动数
var saveMatchScript = redis.NewScript(`
local ranks = {open = 0, starting = 1, in_progress = 2, ended = 3, cancelled = 3}
local cur = redis.call("HGET", KEYS[1], "match")
if cur then
  local m = cjson.decode(cur)
  if (ranks[m.Status] or -1) > tonumber(ARGV[2]) then
    return 0
  end
end
redis.call("HSET", KEYS[1], "match", ARGV[1])
redis.call("EXPIRE", KEYS[1], ARGV[3])
local i = 4
while i <= #ARGV do
  local prev = redis.call("HGET", KEYS[1], ARGV[i])
  local keep = false
  if prev then
    local p = cjson.decode(prev)
    local moves = 0
    if type(p.Puzzle) == "table" and tonumber(p.Puzzle.move_count) then
      moves = tonumber(p.Puzzle.move_count)
    end
    keep = p.Finalized == true or moves > tonumber(ARGV[i + 2])
  end
  if not keep then
    redis.call("HSET", KEYS[1], ARGV[i], ARGV[i + 1])
  end
  i = i + 3
end
return 1
`)

// savePlayerScript 对局不存在返回-1，过期写入返回0
// KEYS[1] 对局哈希；ARGV: 字段, 玩家JSON, 移动数
var savePlayerScript = redis.NewScript(`
if redis.call("HEXISTS", KEYS[1], "match") == 0 then
  return -1
end
local prev = redis.call("HGET", KEYS[1], ARGV[1])
if prev then
  local p = cjson.decode(prev)
  local moves = 0
  if type(p.Puzzle) == "table" and tonumber(p.Puzzle.move_count) then
    moves = tonumber(p.Puzzle.move_count)
  end
  if p.Finalized == true or moves > tonumber(ARGV[3]) then
    return 0
  end
end
redis.call("HSET", KEYS[1], ARGV[1], ARGV[2])
return 1
`)

// SaveMatch 写入对局和全部玩家
func (c *SnapshotCache) SaveMatch(ctx context.Context, m *store.Match) error {
	header := m.Clone()
	header.Players = nil
	data, err := json.Marshal(header)
	if err != nil {
		return err
	}

	ttl := int64(c.ttl / time.Second)
	if ttl < 1 {
		ttl = 1
	}
	args := []interface{}{data, m.Status.Rank(), ttl}
	for i := range m.Players {
		raw, err := json.Marshal(m.Players[i])
		if err != nil {
			return err
		}
		args = append(args, fieldPlayerPrefix+m.Players[i].ParticipantID, raw, m.Players[i].Puzzle.MoveCount)
	}

	written, err := saveMatchScript.Run(ctx, c.rdb, []string{c.keys.Match(m.ID)}, args...).Int()
	if err != nil {
		return err
	}
	if written == 0 {
		return nil
	}
	if m.Status.Terminal() {
		return c.rdb.SRem(ctx, c.keys.Unfinished(), m.ID).Err()
	}
	return c.rdb.SAdd(ctx, c.keys.Unfinished(), m.ID).Err()
}

// SavePlayer 只写入单个玩家
func (c *SnapshotCache) SavePlayer(ctx context.Context, matchID string, p *store.Player) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	res, err := savePlayerScript.Run(ctx, c.rdb, []string{c.keys.Match(matchID)},
		fieldPlayerPrefix+p.ParticipantID, raw, p.Puzzle.MoveCount).Int()
	if err != nil {
		return err
	}
	if res < 0 {
		return fmt.Errorf("%w: %s", game.ErrNotPersisted, matchID)
	}
	return nil
}

// AppendMove 追加移动
func (c *SnapshotCache) AppendMove(ctx context.Context, matchID string, rec game.MoveRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	key := c.keys.Moves(matchID, rec.ParticipantID)
	_, err = c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, raw)
		pipe.Expire(ctx, key, c.ttl)
		return nil
	})
	return err
}

// LoadMatch 读取对局快照
func (c *SnapshotCache) LoadMatch(ctx context.Context, matchID string) (*store.Match, error) {
	fields, err := c.rdb.HGetAll(ctx, c.keys.Match(matchID)).Result()
	if err != nil {
		return nil, err
	}
	return decodeMatch(matchID, fields)
}

// LoadUnfinished 读取未结束的对局
func (c *SnapshotCache) LoadUnfinished(ctx context.Context) ([]*store.Match, error) {
	ids, err := c.rdb.SMembers(ctx, c.keys.Unfinished()).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*store.Match, 0, len(ids))
	for _, id := range ids {
		m, err := c.LoadMatch(ctx, id)
		if errors.Is(err, game.ErrNotPersisted) {
			_ = c.rdb.SRem(ctx, c.keys.Unfinished(), id).Err()
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ListMoves 读取玩家移动
func (c *SnapshotCache) ListMoves(ctx context.Context, matchID, participantID string) ([]game.MoveRecord, error) {
	raws, err := c.rdb.LRange(ctx, c.keys.Moves(matchID, participantID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]game.MoveRecord, 0, len(raws))
	for _, raw := range raws {
		var rec game.MoveRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("解析移动记录失败: %w", err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// decodeMatch 从哈希字段还原对局
func decodeMatch(matchID string, fields map[string]string) (*store.Match, error) {
	raw, ok := fields[fieldMatch]
	if !ok {
		return nil, fmt.Errorf("%w: %s", game.ErrNotPersisted, matchID)
	}
	var m store.Match
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("解析对局快照失败: %w", err)
	}
	for field, value := range fields {
		if !strings.HasPrefix(field, fieldPlayerPrefix) {
			continue
		}
		var p store.Player
		if err := json.Unmarshal([]byte(value), &p); err != nil {
			return nil, fmt.Errorf("解析玩家快照失败: %w", err)
		}
		m.Players = append(m.Players, p)
	}
	sort.Slice(m.Players, func(i, j int) bool { return m.Players[i].JoinOrder < m.Players[j].JoinOrder })
	return &m, nil
}

var _ game.Persister = (*SnapshotCache)(nil)
