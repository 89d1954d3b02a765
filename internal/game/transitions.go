package game

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/wfunc/tile-arena/internal/store"
)

// LifecycleEvent 生命周期事件
type LifecycleEvent string

const (
	LifecycleAllReady         LifecycleEvent = "all_ready"
	LifecycleCountdownElapsed LifecycleEvent = "countdown_elapsed"
	LifecycleTimerExpired     LifecycleEvent = "timer_expired"
	LifecycleCancel           LifecycleEvent = "cancel"
)

// StateTransition 状态转换定义
type StateTransition struct {
	From  store.Status
	Event LifecycleEvent
	To    store.Status
}

// lifecycleTransitions 对局生命周期
var lifecycleTransitions = []StateTransition{
	// 满员且全部准备 -> 倒计时
	{From: store.StatusOpen, Event: LifecycleAllReady, To: store.StatusStarting},
	// 倒计时结束 -> 进行中
	{From: store.StatusStarting, Event: LifecycleCountdownElapsed, To: store.StatusInProgress},
	// 计时结束 -> 结束
	{From: store.StatusInProgress, Event: LifecycleTimerExpired, To: store.StatusEnded},
	// 开始前取消
	{From: store.StatusOpen, Event: LifecycleCancel, To: store.StatusCancelled},
	{From: store.StatusStarting, Event: LifecycleCancel, To: store.StatusCancelled},
}

var transitionIndex = func() map[string]StateTransition {
	idx := make(map[string]StateTransition, len(lifecycleTransitions))
	for _, t := range lifecycleTransitions {
		idx[transitionKey(t.From, t.Event)] = t
	}
	return idx
}()

// transitionKey 生成转换键
func transitionKey(state store.Status, event LifecycleEvent) string {
	return fmt.Sprintf("%s:%s", state, event)
}

// LookupTransition 查找转换
func LookupTransition(from store.Status, event LifecycleEvent) (StateTransition, bool) {
	t, ok := transitionIndex[transitionKey(from, event)]
	return t, ok
}

// ValidEvents 某状态下可触发的事件
func ValidEvents(from store.Status) []LifecycleEvent {
	var events []LifecycleEvent
	for _, t := range lifecycleTransitions {
		if t.From == from {
			events = append(events, t.Event)
		}
	}
	return events
}

// fire 通过存储CAS执行转换，输掉竞争时返回(false, nil)
func (c *Coordinator) fire(ctx context.Context, matchID string, from store.Status, event LifecycleEvent, mutate store.Mutation) (bool, error) {
	t, ok := LookupTransition(from, event)
	if !ok {
		return false, fmt.Errorf("无效的状态转换: 状态=%s, 事件=%s", from, event)
	}

	moved, err := c.store.CompareAndTransitionStatus(ctx, matchID, t.From, t.To, mutate)
	if err != nil {
		return false, err
	}
	if moved {
		c.logger.Info("状态转换",
			zap.String("match_id", matchID),
			zap.String("from", string(t.From)),
			zap.String("to", string(t.To)),
			zap.String("event", string(event)))
	} else {
		c.logger.Debug("状态转换未生效",
			zap.String("match_id", matchID),
			zap.String("from", string(t.From)),
			zap.String("event", string(event)))
	}
	return moved, nil
}
