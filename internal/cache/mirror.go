package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/wfunc/tile-arena/internal/game"
)

const defaultMirrorQueue = 1024

type mirrorItem struct {
	matchID string
	event   game.Event
}

// RedisMirror 把房间事件转发到Redis频道，并保存终局结果供外部查询
type RedisMirror struct {
	rdb       redis.UniversalClient
	keys      Keys
	resultTTL time.Duration
	logger    *zap.Logger

	queue     chan mirrorItem
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
	dropped   int64
	mu        sync.Mutex
}

// NewRedisMirror 创建镜像并启动后台协程
func NewRedisMirror(rdb redis.UniversalClient, prefix string, resultTTL time.Duration, logger *zap.Logger) *RedisMirror {
	if logger == nil {
		logger = zap.NewNop()
	}
	if resultTTL <= 0 {
		resultTTL = 24 * time.Hour
	}
	m := &RedisMirror{
		rdb:       rdb,
		keys:      Keys{Prefix: prefix},
		resultTTL: resultTTL,
		logger:    logger,
		queue:     make(chan mirrorItem, defaultMirrorQueue),
		done:      make(chan struct{}),
	}
	m.wg.Add(1)
	go m.run()
	return m
}

// Publish 入队，队列满时丢弃
func (m *RedisMirror) Publish(ctx context.Context, matchID string, ev game.Event) {
	select {
	case <-m.done:
		return
	default:
	}
	select {
	case m.queue <- mirrorItem{matchID: matchID, event: ev}:
	default:
		m.mu.Lock()
		m.dropped++
		m.mu.Unlock()
		m.logger.Warn("Redis镜像队列已满，丢弃事件",
			zap.String("match_id", matchID),
			zap.String("type", string(ev.Type)))
	}
}

// Dropped 丢弃的事件数
func (m *RedisMirror) Dropped() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dropped
}

// LatestResult 读取终局事件
func (m *RedisMirror) LatestResult(ctx context.Context, matchID string) (*game.Event, error) {
	data, err := m.rdb.Get(ctx, m.keys.Result(matchID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var ev game.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

// Close 发送完队列中剩余事件后退出
func (m *RedisMirror) Close() {
	m.closeOnce.Do(func() {
		close(m.done)
		m.wg.Wait()
	})
}

func (m *RedisMirror) run() {
	defer m.wg.Done()
	for {
		select {
		case item := <-m.queue:
			m.forward(item)
		case <-m.done:
			for {
				select {
				case item := <-m.queue:
					m.forward(item)
				default:
					return
				}
			}
		}
	}
}

func (m *RedisMirror) forward(item mirrorItem) {
	data, err := json.Marshal(item.event)
	if err != nil {
		m.logger.Error("序列化镜像事件失败", zap.String("match_id", item.matchID), zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := m.rdb.Publish(ctx, m.keys.Room(item.matchID), data).Err(); err != nil {
		m.logger.Warn("Redis发布失败", zap.String("match_id", item.matchID), zap.Error(err))
	}
	if item.event.Type == game.EventMatchEnded || item.event.Type == game.EventMatchCancelled {
		if err := m.rdb.SetEx(ctx, m.keys.Result(item.matchID), data, m.resultTTL).Err(); err != nil {
			m.logger.Warn("保存终局结果失败", zap.String("match_id", item.matchID), zap.Error(err))
		}
	}
}

var _ game.Publisher = (*RedisMirror)(nil)
