// 本文件用于向系统负责人发送严重告警升级通知
package owner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"wellness-alert/internal/logger"
)

const defaultTimeout = 10 * time.Second

// MailSender 发送单封邮件
type MailSender interface {
	Send(ctx context.Context, address, subject, body string) error
}

// Notifier 优先调用负责人通知接口 失败时改发邮件
type Notifier struct {
	url        string
	token      string
	email      string
	mail       MailSender
	httpClient *http.Client
}

// NewNotifier 创建负责人通知器 url 与 email 都为空时返回 nil
func NewNotifier(url, token, email string, mail MailSender) *Notifier {
	url, email = strings.TrimSpace(url), strings.TrimSpace(email)
	if url == "" && email == "" {
		return nil
	}
	return &Notifier{
		url:        url,
		token:      strings.TrimSpace(token),
		email:      email,
		mail:       mail,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
}

// Notify 发送负责人通知 两种方式都失败时返回合并错误
func (n *Notifier) Notify(ctx context.Context, title, content string) error {
	if n == nil {
		return fmt.Errorf("负责人通知未配置")
	}
	var errs []error
	if n.url != "" {
		err := n.post(ctx, title, content)
		if err == nil {
			return nil
		}
		logger.Warn("负责人通知接口失败 尝试邮件: %v", err)
		errs = append(errs, err)
	}
	if n.email != "" && n.mail != nil {
		err := n.mail.Send(ctx, n.email, title, content)
		if err == nil {
			return nil
		}
		errs = append(errs, fmt.Errorf("负责人邮件失败: %w", err))
	}
	if len(errs) == 0 {
		return fmt.Errorf("负责人通知没有可用渠道")
	}
	return errors.Join(errs...)
}

func (n *Notifier) post(ctx context.Context, title, content string) error {
	data, err := json.Marshal(map[string]string{"title": title, "content": content})
	if err != nil {
		return fmt.Errorf("序列化负责人通知失败: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("创建负责人通知请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if n.token != "" {
		req.Header.Set("Authorization", "Bearer "+n.token)
	}
	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("发送负责人通知失败: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("负责人通知状态码异常: %d", resp.StatusCode)
	}
	return nil
}
