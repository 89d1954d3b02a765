package settlement

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wfunc/tile-arena/internal/config"
	apperrors "github.com/wfunc/tile-arena/internal/errors"
	"github.com/wfunc/tile-arena/internal/game"
	"github.com/wfunc/tile-arena/internal/models"
	"github.com/wfunc/tile-arena/internal/repository"
)

// Options 投递参数
type Options struct {
	Workers     int
	QueueSize   int
	MaxAttempts int
	Backoff     time.Duration
	// FeePercent 平台抽成百分比，只对payout生效
	FeePercent float64
}

// DefaultOptions 默认投递参数
func DefaultOptions() Options {
	return Options{
		Workers:     2,
		QueueSize:   256,
		MaxAttempts: 5,
		Backoff:     time.Second,
	}
}

// OptionsFromConfig 从配置生成投递参数
func OptionsFromConfig(cfg config.SettlementConfig) Options {
	opts := DefaultOptions()
	if cfg.Workers > 0 {
		opts.Workers = cfg.Workers
	}
	if cfg.QueueSize > 0 {
		opts.QueueSize = cfg.QueueSize
	}
	if cfg.MaxAttempts > 0 {
		opts.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.Backoff > 0 {
		opts.Backoff = cfg.Backoff
	}
	opts.FeePercent = cfg.FeePercent
	return opts
}

// Dispatcher 结算投递器：有界队列加固定数量的worker，按对局幂等
type Dispatcher struct {
	opts   Options
	sender Sender
	repo   repository.SettlementRepository
	logger *zap.Logger

	queue    chan Notice
	mu       sync.RWMutex
	closed   bool
	inflight sync.Map
	wg       sync.WaitGroup
	cancel   context.CancelFunc
}

// NewDispatcher 创建投递器，repo为nil时不落库
func NewDispatcher(sender Sender, repo repository.SettlementRepository, opts Options, logger *zap.Logger) *Dispatcher {
	def := DefaultOptions()
	if opts.Workers <= 0 {
		opts.Workers = def.Workers
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = def.QueueSize
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = def.MaxAttempts
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		opts:   opts,
		sender: sender,
		repo:   repo,
		logger: logger,
		queue:  make(chan Notice, opts.QueueSize),
	}
}

// Start 启动worker
func (d *Dispatcher) Start(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(ctx)
	for i := 0; i < d.opts.Workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.worker(ctx)
		}()
	}
	d.logger.Info("结算投递已启动", zap.Int("workers", d.opts.Workers), zap.Int("queue", d.opts.QueueSize))
}

// Stop 关闭队列，等待已入队的通知处理完
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	d.wg.Wait()
	if d.cancel != nil {
		d.cancel()
	}
}

// Enqueue 入队，不阻塞；队列满或已关闭时返回错误
func (d *Dispatcher) Enqueue(ctx context.Context, req game.SettlementRequest) error {
	return d.enqueue(d.notice(req))
}

func (d *Dispatcher) enqueue(n Notice) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return apperrors.New(apperrors.ErrSettlementPublish, "结算投递已关闭")
	}
	select {
	case d.queue <- n:
		return nil
	default:
		return apperrors.Newf(apperrors.ErrSettlementPublish, "结算队列已满 match=%s", n.MatchID)
	}
}

// ResumePending 重新投递库中未完成的结算，用于重启后
func (d *Dispatcher) ResumePending(ctx context.Context) (int, error) {
	if d.repo == nil {
		return 0, nil
	}
	pending, err := d.repo.ListPending(ctx, d.opts.QueueSize)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, rec := range pending {
		if err := d.enqueue(noticeFromModel(rec)); err != nil {
			return n, err
		}
		n++
	}
	if n > 0 {
		d.logger.Info("恢复未完成的结算", zap.Int("count", n))
	}
	return n, nil
}

// notice 计算抽成和派彩
func (d *Dispatcher) notice(req game.SettlementRequest) Notice {
	n := Notice{
		MatchID:      req.MatchID,
		Kind:         string(req.Kind),
		WinnerID:     req.WinnerID,
		Wager:        req.Wager,
		TotalPot:     req.TotalPot,
		Participants: req.Participants,
		At:           req.At,
	}
	switch req.Kind {
	case game.SettlementPayout:
		n.Fee = int64(float64(req.TotalPot) * d.opts.FeePercent / 100)
		n.Payout = req.TotalPot - n.Fee
	case game.SettlementRefund:
		n.Payout = req.Wager
	}
	return n
}

func (d *Dispatcher) worker(ctx context.Context) {
	for n := range d.queue {
		d.process(ctx, n)
	}
}

// process 投递一条通知；同一对局同时只处理一次，已发送的直接跳过
func (d *Dispatcher) process(ctx context.Context, n Notice) {
	if _, busy := d.inflight.LoadOrStore(n.MatchID, struct{}{}); busy {
		return
	}
	defer d.inflight.Delete(n.MatchID)

	if d.repo != nil {
		rec, err := d.repo.CreateIfAbsent(ctx, &models.Settlement{
			MatchID:      n.MatchID,
			Kind:         n.Kind,
			WinnerID:     n.WinnerID,
			Wager:        n.Wager,
			TotalPot:     n.TotalPot,
			Fee:          n.Fee,
			Payout:       n.Payout,
			Participants: models.StringsJSON(n.Participants),
			Status:       models.SettlementPending,
		})
		if err != nil {
			d.logger.Error("写入结算记录失败", zap.String("match_id", n.MatchID), zap.Error(err))
		} else if rec.Status != models.SettlementPending {
			d.logger.Debug("结算已处理，跳过", zap.String("match_id", n.MatchID), zap.String("status", rec.Status))
			return
		}
	}

	var lastErr error
	for attempt := 1; attempt <= d.opts.MaxAttempts; attempt++ {
		n.Attempt = attempt
		lastErr = d.sender.Send(ctx, n)
		if lastErr == nil {
			d.markSent(ctx, n)
			return
		}

		d.logger.Warn("结算通知发送失败",
			zap.String("match_id", n.MatchID),
			zap.Int("attempt", attempt),
			zap.Error(lastErr))
		if d.repo != nil {
			if err := d.repo.MarkAttempt(ctx, n.MatchID, lastErr); err != nil {
				d.logger.Error("记录结算尝试失败", zap.String("match_id", n.MatchID), zap.Error(err))
			}
		}
		if attempt == d.opts.MaxAttempts {
			break
		}
		if !sleep(ctx, d.opts.Backoff*time.Duration(attempt)) {
			lastErr = errors.Join(lastErr, ctx.Err())
			break
		}
	}

	d.logger.Error("结算通知最终失败，需要人工处理",
		zap.String("match_id", n.MatchID),
		zap.String("kind", n.Kind),
		zap.Int64("payout", n.Payout),
		zap.Error(lastErr))
	if d.repo != nil {
		if err := d.repo.MarkFailed(context.WithoutCancel(ctx), n.MatchID, lastErr); err != nil {
			d.logger.Error("标记结算失败出错", zap.String("match_id", n.MatchID), zap.Error(err))
		}
	}
}

func (d *Dispatcher) markSent(ctx context.Context, n Notice) {
	d.logger.Info("结算通知已发送",
		zap.String("match_id", n.MatchID),
		zap.String("kind", n.Kind),
		zap.Int("attempt", n.Attempt))
	if d.repo == nil {
		return
	}
	if err := d.repo.MarkSent(ctx, n.MatchID, time.Now()); err != nil {
		d.logger.Error("标记结算已发送失败", zap.String("match_id", n.MatchID), zap.Error(err))
	}
}

func noticeFromModel(rec *models.Settlement) Notice {
	return Notice{
		MatchID:      rec.MatchID,
		Kind:         rec.Kind,
		WinnerID:     rec.WinnerID,
		Wager:        rec.Wager,
		TotalPot:     rec.TotalPot,
		Fee:          rec.Fee,
		Payout:       rec.Payout,
		Participants: []string(rec.Participants),
		At:           rec.CreatedAt,
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

var _ game.Settler = (*Dispatcher)(nil)
