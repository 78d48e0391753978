// 本文件用于定义各通知渠道的消息负载
package models

// PushPayload 表示推送通知内容
type PushPayload struct {
	Title              string   `json:"title"`
	Body               string   `json:"body"`
	Tag                string   `json:"tag,omitempty"`
	URL                string   `json:"url,omitempty"`
	Severity           Severity `json:"severity"`
	AlertEventID       int64    `json:"alertEventId,omitempty"`
	RequireInteraction bool     `json:"requireInteraction"`
}

// PushResult 表示单个用户的设备推送结果
type PushResult struct {
	Success int `json:"success"`
	Failed  int `json:"failed"`
}

// WebhookMessage 表示聊天机器人 webhook 消息
type WebhookMessage struct {
	Text        string              `json:"text"`
	Attachments []WebhookAttachment `json:"attachments,omitempty"`
}

// WebhookAttachment 表示带颜色标记的消息附件
type WebhookAttachment struct {
	Color  string         `json:"color,omitempty"`
	Title  string         `json:"title,omitempty"`
	Text   string         `json:"text,omitempty"`
	Fields []WebhookField `json:"fields,omitempty"`
	Footer string         `json:"footer,omitempty"`
	Ts     int64          `json:"ts,omitempty"`
}

// WebhookField 表示附件中的键值字段
type WebhookField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}
