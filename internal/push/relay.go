// 本文件用于通过推送中继向用户设备发送通知
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"wellness-alert/internal/logger"
	"wellness-alert/internal/models"
)

const defaultTimeout = 10 * time.Second

// SubscriptionSource 返回用户注册的推送设备
type SubscriptionSource interface {
	PushSubscriptions(ctx context.Context, userID int64) ([]models.PushSubscription, error)
}

// Relay 把推送负载逐个设备转发给中继服务
type Relay struct {
	endpoint   string
	token      string
	subs       SubscriptionSource
	httpClient *http.Client
}

type relayRequest struct {
	Subscription relaySubscription  `json:"subscription"`
	Payload      models.PushPayload `json:"payload"`
}

type relaySubscription struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

// NewRelay 创建推送中继客户端
func NewRelay(endpoint, token string, subs SubscriptionSource) *Relay {
	return &Relay{
		endpoint:   strings.TrimSpace(endpoint),
		token:      strings.TrimSpace(token),
		subs:       subs,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
}

// SendToUser 向用户的全部设备推送 单个设备失败只计入 Failed
func (r *Relay) SendToUser(ctx context.Context, userID int64, payload models.PushPayload) (models.PushResult, error) {
	var res models.PushResult
	if r == nil || r.endpoint == "" {
		return res, fmt.Errorf("推送中继未配置")
	}
	if r.subs == nil {
		return res, fmt.Errorf("推送订阅来源未配置")
	}
	subs, err := r.subs.PushSubscriptions(ctx, userID)
	if err != nil {
		return res, fmt.Errorf("读取推送订阅失败: %w", err)
	}
	for _, sub := range subs {
		if err := r.sendOne(ctx, sub, payload); err != nil {
			logger.Warn("推送设备失败: user=%d subscription=%d err=%v", userID, sub.ID, err)
			res.Failed++
			continue
		}
		res.Success++
	}
	return res, nil
}

func (r *Relay) sendOne(ctx context.Context, sub models.PushSubscription, payload models.PushPayload) error {
	body := relayRequest{Payload: payload}
	body.Subscription.Endpoint = sub.Endpoint
	body.Subscription.Keys.P256dh = sub.P256dh
	body.Subscription.Keys.Auth = sub.Auth
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("序列化推送负载失败: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("创建推送请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("发送推送请求失败: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("推送中继状态码异常: %d", resp.StatusCode)
	}
	return nil
}
