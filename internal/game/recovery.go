package game

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/wfunc/tile-arena/internal/store"
)

// RecoveryReport 恢复统计
type RecoveryReport struct {
	Restored    int `json:"restored"`
	Rescheduled int `json:"rescheduled"`
	Ended       int `json:"ended"`
	Skipped     int `json:"skipped"`
}

// RecoveryManager 启动时从持久化层恢复未结束的对局
type RecoveryManager struct {
	logger      *zap.Logger
	coordinator *Coordinator
}

// NewRecoveryManager 创建恢复管理器
func NewRecoveryManager(logger *zap.Logger, c *Coordinator) *RecoveryManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RecoveryManager{logger: logger, coordinator: c}
}

// Recover 恢复所有未结束的对局并重新安排定时任务
func (rm *RecoveryManager) Recover(ctx context.Context) (*RecoveryReport, error) {
	c := rm.coordinator
	matches, err := c.persister.LoadUnfinished(ctx)
	if err != nil {
		return nil, fmt.Errorf("加载未结束对局失败: %w", err)
	}

	report := &RecoveryReport{}
	for _, m := range matches {
		if err := c.store.Restore(ctx, m); err != nil {
			if stderrors.Is(err, store.ErrDuplicateMatch) {
				report.Skipped++
				continue
			}
			rm.logger.Error("恢复对局失败", zap.String("match_id", m.ID), zap.Error(err))
			report.Skipped++
			continue
		}
		report.Restored++

		strategy := rm.getRecoveryStrategy(m.Status)
		if err := strategy(ctx, m, report); err != nil {
			rm.logger.Error("执行恢复策略失败",
				zap.String("match_id", m.ID),
				zap.String("status", string(m.Status)),
				zap.Error(err))
			continue
		}
		rm.logger.Info("对局恢复成功",
			zap.String("match_id", m.ID),
			zap.String("status", string(m.Status)))
	}
	return report, nil
}

// getRecoveryStrategy 根据状态获取恢复策略
func (rm *RecoveryManager) getRecoveryStrategy(status store.Status) func(context.Context, *store.Match, *RecoveryReport) error {
	strategies := map[store.Status]func(context.Context, *store.Match, *RecoveryReport) error{
		store.StatusOpen:       rm.recoverOpen,
		store.StatusStarting:   rm.recoverStarting,
		store.StatusInProgress: rm.recoverInProgress,
	}
	if strategy, ok := strategies[status]; ok {
		return strategy
	}
	return rm.recoverUnknown
}

// recoverOpen 等待玩家继续准备
func (rm *RecoveryManager) recoverOpen(ctx context.Context, m *store.Match, report *RecoveryReport) error {
	return nil
}

// recoverStarting 倒计时起点未持久化，重新完整倒计时
func (rm *RecoveryManager) recoverStarting(ctx context.Context, m *store.Match, report *RecoveryReport) error {
	rm.coordinator.scheduleCountdown(m.ID, rm.coordinator.opts.Countdown)
	report.Rescheduled++
	return nil
}

// recoverInProgress 按开始时间重新安排计时，已超时的立即结算
func (rm *RecoveryManager) recoverInProgress(ctx context.Context, m *store.Match, report *RecoveryReport) error {
	if m.StartedAt.IsZero() {
		return fmt.Errorf("对局 %s 缺少开始时间", m.ID)
	}
	remaining := m.EndsAt().Sub(rm.coordinator.now())
	if remaining > 0 {
		rm.coordinator.scheduleTimer(m.ID, remaining)
		report.Rescheduled++
		rm.logger.Info("重新安排对局计时",
			zap.String("match_id", m.ID),
			zap.Duration("remaining", remaining.Round(time.Millisecond)))
		return nil
	}

	if _, err := rm.coordinator.EndMatch(ctx, m.ID); err != nil {
		return err
	}
	report.Ended++
	return nil
}

func (rm *RecoveryManager) recoverUnknown(ctx context.Context, m *store.Match, report *RecoveryReport) error {
	return fmt.Errorf("未知的对局状态: %s", m.Status)
}
