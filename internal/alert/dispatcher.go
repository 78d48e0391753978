// 本文件用于告警多渠道投递 各渠道并发执行且互不影响
package alert

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"wellness-alert/internal/logger"
	"wellness-alert/internal/metrics"
	"wellness-alert/internal/models"
)

const defaultChannelTimeout = 10 * time.Second

// 未配置时 webhook 只允许发往 Slack incoming webhook
const (
	DefaultWebhookHost       = "hooks.slack.com"
	DefaultWebhookPathPrefix = "/services/"
)

// ErrInvalidWebhookURL 表示 webhook 地址不属于允许的聊天服务
var ErrInvalidWebhookURL = errors.New("Invalid webhook URL")

// Channels 表示组织级的投递配置
type Channels struct {
	WebhookURL      string
	EmailRecipients []string
	Policy          Policy
}

// DeliveryResult 表示一次投递的渠道计数
type DeliveryResult struct {
	EmailSuccess   int    `json:"emailSuccess"`
	EmailFailed    int    `json:"emailFailed"`
	PushSuccess    int    `json:"pushSuccess"`
	PushFailed     int    `json:"pushFailed"`
	PushNoDevice   int    `json:"pushNoDevice"`
	InAppSuccess   int    `json:"inAppSuccess"`
	WebhookSuccess bool   `json:"webhookSuccess"`
	WebhookError   string `json:"webhookError,omitempty"`
	OwnerNotified  bool   `json:"ownerNotified"`
}

// Flags 转换为事件上的渠道标记 每个渠道至少成功一次才记为已发送
func (r DeliveryResult) Flags(notified []int64) models.DeliveryFlags {
	return models.DeliveryFlags{
		EmailSent:       r.EmailSuccess > 0,
		PushSent:        r.PushSuccess > 0,
		InAppSent:       r.InAppSuccess > 0,
		NotifiedUserIDs: append([]int64(nil), notified...),
	}
}

// DispatcherOptions 表示投递器依赖
type DispatcherOptions struct {
	Email             EmailSender
	Push              PushSender
	Webhook           WebhookSender
	Owner             OwnerNotifier
	Directory         Directory
	ChannelTimeout    time.Duration
	WebhookHost       string
	WebhookPathPrefix string
	Metrics           *metrics.Collector
}

// Dispatcher 负责把告警事件投递到各渠道
type Dispatcher struct {
	email         EmailSender
	push          PushSender
	webhook       WebhookSender
	owner         OwnerNotifier
	dir           Directory
	timeout       time.Duration
	webhookHost   string
	webhookPrefix string
	metrics       *metrics.Collector
}

// NewDispatcher 创建投递器 未配置的渠道直接跳过
func NewDispatcher(opts DispatcherOptions) *Dispatcher {
	d := &Dispatcher{
		email:         opts.Email,
		push:          opts.Push,
		webhook:       opts.Webhook,
		owner:         opts.Owner,
		dir:           opts.Directory,
		timeout:       opts.ChannelTimeout,
		webhookHost:   strings.ToLower(strings.TrimSpace(opts.WebhookHost)),
		webhookPrefix: strings.TrimSpace(opts.WebhookPathPrefix),
		metrics:       opts.Metrics,
	}
	if d.timeout <= 0 {
		d.timeout = defaultChannelTimeout
	}
	if d.webhookHost == "" {
		d.webhookHost = DefaultWebhookHost
	}
	if d.webhookPrefix == "" {
		d.webhookPrefix = DefaultWebhookPathPrefix
	}
	return d
}

// Dispatch 并发执行各渠道投递 单个渠道失败只计入结果
func (d *Dispatcher) Dispatch(ctx context.Context, ev *models.AlertEvent, rule *models.AlertRule, recipients []models.User, sev models.Severity, ch Channels) DeliveryResult {
	var (
		result   DeliveryResult
		emailRes DeliveryResult
		pushRes  DeliveryResult
		inAppRes DeliveryResult
		hookRes  DeliveryResult
		ownerRes DeliveryResult
	)
	if d == nil || ev == nil || rule == nil {
		return result
	}

	var g errgroup.Group
	if rule.NotifyEmail {
		g.Go(func() error {
			emailRes = d.sendEmail(ctx, ev, rule, recipients, ch.EmailRecipients)
			return nil
		})
	}
	if rule.NotifyPush && (sev == models.SeverityCritical || sev == models.SeverityWarning) {
		g.Go(func() error {
			pushRes = d.sendPush(ctx, ev, recipients)
			return nil
		})
	}
	if rule.NotifyInApp {
		g.Go(func() error {
			inAppRes = d.sendInApp(ctx, ev, recipients)
			return nil
		})
	}
	if strings.TrimSpace(ch.WebhookURL) != "" && ch.Policy.Allows(sev) {
		g.Go(func() error {
			hookRes = d.sendWebhook(ctx, ev, rule, ch.WebhookURL)
			return nil
		})
	}
	if sev == models.SeverityCritical {
		g.Go(func() error {
			ownerRes = d.notifyOwner(ctx, ev, rule)
			return nil
		})
	}
	_ = g.Wait()

	result.EmailSuccess, result.EmailFailed = emailRes.EmailSuccess, emailRes.EmailFailed
	result.PushSuccess, result.PushFailed = pushRes.PushSuccess, pushRes.PushFailed
	result.PushNoDevice = pushRes.PushNoDevice
	result.InAppSuccess = inAppRes.InAppSuccess
	result.WebhookSuccess, result.WebhookError = hookRes.WebhookSuccess, hookRes.WebhookError
	result.OwnerNotified = ownerRes.OwnerNotified

	d.observe(result)
	return result
}

// sendEmail 对去重后的地址逐个发送
func (d *Dispatcher) sendEmail(ctx context.Context, ev *models.AlertEvent, rule *models.AlertRule, recipients []models.User, extra []string) DeliveryResult {
	var res DeliveryResult
	if d.email == nil {
		return res
	}
	addresses := emailAddresses(recipients, extra)
	if len(addresses) == 0 {
		return res
	}
	subject := EmailSubject(ev)
	body := EmailBody(ev, rule)
	for _, addr := range addresses {
		if err := d.sendOneEmail(ctx, addr, subject, body); err != nil {
			res.EmailFailed++
			logger.Warn("告警邮件发送失败: alert=%d to=%s err=%v", ev.ID, addr, err)
			continue
		}
		res.EmailSuccess++
	}
	return res
}

// sendOneEmail 每个地址单独计时 慢地址不占用其他地址的时间
func (d *Dispatcher) sendOneEmail(ctx context.Context, addr, subject, body string) error {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	return d.email.Send(ctx, addr, subject, body)
}

// sendPush 收件人任一设备成功即视为送达 没有登记设备的收件人单独计数
func (d *Dispatcher) sendPush(ctx context.Context, ev *models.AlertEvent, recipients []models.User) DeliveryResult {
	var res DeliveryResult
	if d.push == nil || len(recipients) == 0 {
		return res
	}
	payload := BuildPushPayload(ev)
	for _, user := range recipients {
		out, err := d.pushToUser(ctx, user.ID, payload)
		switch {
		case err != nil:
			res.PushFailed++
			logger.Warn("告警推送失败: alert=%d user=%d err=%v", ev.ID, user.ID, err)
		case out.Success > 0:
			res.PushSuccess++
		case out.Failed == 0:
			res.PushNoDevice++
		default:
			res.PushFailed++
		}
	}
	return res
}

func (d *Dispatcher) pushToUser(ctx context.Context, userID int64, payload models.PushPayload) (models.PushResult, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	return d.push.SendToUser(ctx, userID, payload)
}

func (d *Dispatcher) sendInApp(ctx context.Context, ev *models.AlertEvent, recipients []models.User) DeliveryResult {
	var res DeliveryResult
	if d.dir == nil || len(recipients) == 0 {
		return res
	}
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	title := AlertTitle(ev.AlertType)
	for _, user := range recipients {
		err := d.dir.InsertInAppNotification(ctx, models.InAppNotification{
			UserID:       user.ID,
			Title:        title,
			Body:         ev.Message,
			AlertEventID: ev.ID,
			CreatedAt:    ev.CreatedAt,
		})
		if err != nil {
			logger.Warn("写入站内通知失败: alert=%d user=%d err=%v", ev.ID, user.ID, err)
			continue
		}
		res.InAppSuccess++
	}
	return res
}

// sendWebhook 地址无效时不发起任何网络调用
func (d *Dispatcher) sendWebhook(ctx context.Context, ev *models.AlertEvent, rule *models.AlertRule, rawURL string) DeliveryResult {
	var res DeliveryResult
	if err := ValidateWebhookURL(rawURL, d.webhookHost, d.webhookPrefix); err != nil {
		res.WebhookError = ErrInvalidWebhookURL.Error()
		logger.Warn("webhook 地址无效 跳过投递: alert=%d", ev.ID)
		return res
	}
	if d.webhook == nil {
		return res
	}
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	if err := d.webhook.Post(ctx, rawURL, BuildWebhookMessage(ev, rule)); err != nil {
		res.WebhookError = err.Error()
		logger.Warn("webhook 投递失败: alert=%d err=%v", ev.ID, err)
		return res
	}
	res.WebhookSuccess = true
	return res
}

// notifyOwner 严重告警升级给系统负责人 失败只记录日志
func (d *Dispatcher) notifyOwner(ctx context.Context, ev *models.AlertEvent, rule *models.AlertRule) DeliveryResult {
	var res DeliveryResult
	if d.owner == nil {
		return res
	}
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	title, content := OwnerContent(ev, rule)
	if err := d.owner.Notify(ctx, title, content); err != nil {
		logger.Warn("通知系统负责人失败: alert=%d err=%v", ev.ID, err)
		return res
	}
	res.OwnerNotified = true
	return res
}

func (d *Dispatcher) observe(r DeliveryResult) {
	if d.metrics == nil {
		return
	}
	d.metrics.ObserveDelivery("email", "success", r.EmailSuccess)
	d.metrics.ObserveDelivery("email", "failed", r.EmailFailed)
	d.metrics.ObserveDelivery("push", "success", r.PushSuccess)
	d.metrics.ObserveDelivery("push", "failed", r.PushFailed)
	d.metrics.ObserveDelivery("push", "no_device", r.PushNoDevice)
	d.metrics.ObserveDelivery("in_app", "success", r.InAppSuccess)
	if r.WebhookSuccess {
		d.metrics.ObserveDelivery("webhook", "success", 1)
	} else if r.WebhookError != "" {
		d.metrics.ObserveDelivery("webhook", "failed", 1)
	}
	if r.OwnerNotified {
		d.metrics.ObserveDelivery("owner", "success", 1)
	}
}

// ValidateWebhookURL 校验 webhook 地址的协议 主机与路径前缀
func ValidateWebhookURL(raw, host, pathPrefix string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ErrInvalidWebhookURL
	}
	if u.Scheme != "https" || !strings.EqualFold(u.Hostname(), host) || u.Port() != "" {
		return ErrInvalidWebhookURL
	}
	if !strings.HasPrefix(u.Path, pathPrefix) || len(u.Path) == len(pathPrefix) {
		return ErrInvalidWebhookURL
	}
	return nil
}

// emailAddresses 合并收件人邮箱与组织额外邮箱 小写去重
func emailAddresses(recipients []models.User, extra []string) []string {
	all := lo.Map(recipients, func(u models.User, _ int) string { return u.Email })
	all = append(all, extra...)
	normalized := lo.FilterMap(all, func(addr string, _ int) (string, bool) {
		addr = strings.ToLower(strings.TrimSpace(addr))
		return addr, addr != "" && strings.Contains(addr, "@")
	})
	return lo.Uniq(normalized)
}
