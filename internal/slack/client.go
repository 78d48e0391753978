// 本文件用于 Slack 兼容 webhook 的消息投递
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"wellness-alert/internal/logger"
	"wellness-alert/internal/models"
)

const (
	defaultTimeout    = 10 * time.Second
	defaultMaxRetries = 3
	defaultRateLimit  = 1.0
	maxErrorBody      = 256
)

// Client 发送 webhook 消息 每次请求前按速率限制等待
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	maxRetries uint64
	newBackOff func() backoff.BackOff
}

// Option 调整 Client 配置
type Option func(*Client)

// WithHTTPClient 替换底层 HTTP 客户端
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithMaxRetries 设置失败后的最大重试次数
func WithMaxRetries(n uint64) Option {
	return func(c *Client) { c.maxRetries = n }
}

// WithBackOff 替换退避策略 测试中用于缩短等待
func WithBackOff(fn func() backoff.BackOff) Option {
	return func(c *Client) {
		if fn != nil {
			c.newBackOff = fn
		}
	}
}

// NewClient 创建 webhook 客户端 perSecond<=0 时使用默认速率
func NewClient(perSecond float64, opts ...Option) *Client {
	if perSecond <= 0 {
		perSecond = defaultRateLimit
	}
	c := &Client{
		httpClient: &http.Client{Timeout: defaultTimeout},
		limiter:    rate.NewLimiter(rate.Limit(perSecond), 1),
		maxRetries: defaultMaxRetries,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxInterval = 5 * time.Second
			return b
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Post 投递消息 只在服务端确定未处理时重试 即连接未建立或返回 429
// 5xx 与超时可能已经发出消息 直接失败
func (c *Client) Post(ctx context.Context, url string, msg models.WebhookMessage) error {
	if ctx == nil {
		ctx = context.Background()
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("序列化 webhook 消息失败: %w", err)
	}

	attempt := 0
	operation := func() error {
		attempt++
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		return c.postOnce(ctx, url, payload)
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(c.newBackOff(), c.maxRetries), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		logger.Warn("webhook 投递失败: attempts=%d err=%v", attempt, err)
		return err
	}
	logger.Info("webhook 投递成功: attempts=%d", attempt)
	return nil
}

func (c *Client) postOnce(ctx context.Context, url string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("创建 webhook 请求失败: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		err = fmt.Errorf("发送 webhook 请求失败: %w", err)
		if isDialError(err) {
			return err
		}
		return backoff.Permanent(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	statusErr := &StatusError{Code: resp.StatusCode, Body: string(bytes.TrimSpace(body))}
	if resp.StatusCode == http.StatusTooManyRequests {
		return statusErr
	}
	return backoff.Permanent(statusErr)
}

// isDialError 连接阶段失败时请求一定没有发出
func isDialError(err error) bool {
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}

// StatusError 表示 webhook 返回非 2xx 状态
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("webhook status %d", e.Code)
	}
	return fmt.Sprintf("webhook status %d: %s", e.Code, e.Body)
}
