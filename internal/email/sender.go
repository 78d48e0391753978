// 本文件用于告警邮件发送
package email

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"wellness-alert/internal/logger"
	"wellness-alert/internal/models"
)

const defaultTimeout = 10 * time.Second

// Sender 负责发送 SMTP 邮件
type Sender struct {
	host     string
	port     int
	user     string
	password string
	from     string
	useTLS   bool
	now      func() time.Time
}

// NewSender 创建邮件发送器
func NewSender(host string, port int, user, password, from string, useTLS bool) *Sender {
	return &Sender{
		host:     strings.TrimSpace(host),
		port:     port,
		user:     strings.TrimSpace(user),
		password: password,
		from:     strings.TrimSpace(from),
		useTLS:   useTLS, // 465 端口直连 TLS 其他端口走 STARTTLS
		now:      time.Now,
	}
}

// NewSenderFromConfig 按配置创建发送器 未配置主机时返回 nil
func NewSenderFromConfig(cfg *models.Config) *Sender {
	if cfg == nil || strings.TrimSpace(cfg.EmailHost) == "" {
		return nil
	}
	return NewSender(cfg.EmailHost, cfg.EmailPort, cfg.EmailUser, cfg.EmailPass, cfg.EmailFrom, cfg.EmailUseTLS)
}

// Send 向单个地址发送纯文本邮件
// 邮件已提交但 QUIT 失败时视为发送成功
func (s *Sender) Send(ctx context.Context, address, subject, body string) error {
	address = strings.TrimSpace(address)
	if address == "" {
		return errors.New("收件人地址为空")
	}
	err := s.send(ctx, []string{address}, subject, body)
	if IsQuitError(err) {
		logger.Warn("SMTP QUIT 失败 邮件已提交: to=%s err=%v", address, err)
		return nil
	}
	return err
}

func (s *Sender) validate() error {
	switch {
	case s == nil:
		return errors.New("邮件发送器未初始化")
	case s.host == "":
		return errors.New("未配置 SMTP 主机")
	case s.port <= 0:
		return fmt.Errorf("SMTP 端口无效: %d", s.port)
	case s.from == "":
		return errors.New("未配置发件人地址")
	}
	return nil
}

func (s *Sender) send(ctx context.Context, to []string, subject, body string) error {
	if err := s.validate(); err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultTimeout)
		defer cancel()
	}

	client, err := s.dial(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := s.handshake(client); err != nil {
		return err
	}
	if err := s.deliver(client, to, []byte(buildMessage(s.from, to, subject, body, s.now()))); err != nil {
		return err
	}
	if err := client.Quit(); err != nil {
		return &QuitError{Err: err}
	}
	return nil
}

// handshake 按需升级 STARTTLS 并完成认证
func (s *Sender) handshake(client *smtp.Client) error {
	if s.useTLS && !s.implicitTLS() {
		if ok, _ := client.Extension("STARTTLS"); !ok {
			return errors.New("SMTP 服务器不支持 STARTTLS")
		}
		if err := client.StartTLS(&tls.Config{ServerName: s.host}); err != nil {
			return fmt.Errorf("SMTP STARTTLS 失败: %w", err)
		}
	}
	if s.user == "" {
		return nil
	}
	if ok, _ := client.Extension("AUTH"); !ok {
		return errors.New("SMTP 服务器不支持 AUTH")
	}
	if err := client.Auth(smtp.PlainAuth("", s.user, s.password, s.host)); err != nil {
		return fmt.Errorf("SMTP 认证失败: %w", err)
	}
	return nil
}

func (s *Sender) deliver(client *smtp.Client, to []string, msg []byte) error {
	if err := client.Mail(s.from); err != nil {
		return fmt.Errorf("SMTP MAIL FROM 失败: %w", err)
	}
	for _, rcpt := range to {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("SMTP rcpt %s 被拒绝: %w", rcpt, err)
		}
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("SMTP DATA 失败: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		_ = w.Close()
		return fmt.Errorf("写入邮件正文失败: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("提交邮件失败: %w", err)
	}
	return nil
}

func (s *Sender) implicitTLS() bool {
	return s.useTLS && s.port == 465
}

// dial 建立 SMTP 会话 连接截止时间跟随 ctx
func (s *Sender) dial(ctx context.Context) (*smtp.Client, error) {
	addr := net.JoinHostPort(s.host, strconv.Itoa(s.port))
	dialer := net.Dialer{Timeout: defaultTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("连接 SMTP 服务器失败: %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	if s.implicitTLS() {
		tlsConn := tls.Client(conn, &tls.Config{ServerName: s.host})
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("SMTP TLS 握手失败: %w", err)
		}
		conn = tlsConn
	}
	client, err := smtp.NewClient(conn, s.host)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("初始化 SMTP 会话失败: %w", err)
	}
	return client, nil
}

// QuitError 表示邮件发送完成后 SMTP QUIT 失败
type QuitError struct {
	Err error
}

// Error 返回可读的 QUIT 失败描述
func (e *QuitError) Error() string {
	if e == nil || e.Err == nil {
		return "SMTP QUIT 失败"
	}
	return "SMTP QUIT 失败: " + e.Err.Error()
}

// Unwrap 暴露底层错误
func (e *QuitError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsQuitError 判断错误是否为退出失败
func IsQuitError(err error) bool {
	var quitErr *QuitError
	return errors.As(err, &quitErr)
}

// buildMessage 组装 UTF-8 纯文本邮件
func buildMessage(from string, to []string, subject, body string, at time.Time) string {
	var b strings.Builder
	writeHeader := func(k, v string) {
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(v)
		b.WriteString("\r\n")
	}
	writeHeader("From", from)
	writeHeader("To", strings.Join(to, ", "))
	// 主题去掉换行 防止头注入
	writeHeader("Subject", encodeHeader(strings.NewReplacer("\r", "", "\n", "").Replace(subject)))
	writeHeader("Date", at.Format(time.RFC1123Z))
	writeHeader("MIME-Version", "1.0")
	writeHeader("Content-Type", `text/plain; charset="UTF-8"`)
	writeHeader("X-Mailer", "alertd")
	b.WriteString("\r\n")
	b.WriteString(normalizeLineEndings(body))
	b.WriteString("\r\n")
	return b.String()
}

// encodeHeader 非 ASCII 主题按 RFC 2047 编码
func encodeHeader(v string) string {
	return mime.QEncoding.Encode("UTF-8", v)
}

// normalizeLineEndings 统一换行符为 CRLF
func normalizeLineEndings(body string) string {
	body = strings.ReplaceAll(body, "\r\n", "\n")
	body = strings.ReplaceAll(body, "\r", "\n")
	return strings.ReplaceAll(body, "\n", "\r\n")
}
