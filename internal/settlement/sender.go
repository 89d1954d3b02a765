package settlement

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// SignatureHeader 回调请求签名头
const SignatureHeader = "X-Tile-Arena-Signature"

// Notice 发给结算服务的通知
type Notice struct {
	MatchID      string    `json:"matchId"`
	Kind         string    `json:"kind"`
	WinnerID     string    `json:"winnerId,omitempty"`
	Wager        int64     `json:"wager"`
	TotalPot     int64     `json:"totalPot"`
	Fee          int64     `json:"fee"`
	Payout       int64     `json:"payout"`
	Participants []string  `json:"participants,omitempty"`
	Attempt      int       `json:"attempt"`
	At           time.Time `json:"at"`
}

// Sender 结算通知发送方式
type Sender interface {
	Send(ctx context.Context, n Notice) error
}

// LogSender 只记录日志，未配置回调地址时使用
type LogSender struct {
	logger *zap.Logger
}

// NewLogSender 创建日志发送器
func NewLogSender(logger *zap.Logger) *LogSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSender{logger: logger}
}

// Send 记录结算通知
func (s *LogSender) Send(ctx context.Context, n Notice) error {
	s.logger.Info("结算通知",
		zap.String("match_id", n.MatchID),
		zap.String("kind", n.Kind),
		zap.String("winner_id", n.WinnerID),
		zap.Int64("total_pot", n.TotalPot),
		zap.Int64("fee", n.Fee),
		zap.Int64("payout", n.Payout),
		zap.Strings("participants", n.Participants))
	return nil
}

// WebhookSender 以HTTP POST投递，body使用HMAC-SHA256签名
type WebhookSender struct {
	url    string
	secret []byte
	client *http.Client
}

// NewWebhookSender 创建回调发送器
func NewWebhookSender(url, secret string, timeout time.Duration) *WebhookSender {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookSender{
		url:    url,
		secret: []byte(secret),
		client: &http.Client{Timeout: timeout},
	}
}

// Sign 计算body签名
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Send 投递通知，非2xx视为失败
func (s *WebhookSender) Send(ctx context.Context, n Notice) error {
	body, err := json.Marshal(n)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", n.MatchID)
	if len(s.secret) > 0 {
		req.Header.Set(SignatureHeader, Sign(s.secret, body))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("结算回调返回状态码 %d", resp.StatusCode)
	}
	return nil
}
