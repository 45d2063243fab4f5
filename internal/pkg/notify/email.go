package notify

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strings"

	"userbackend/internal/config"
	"userbackend/internal/pkg/metrics"

	"gopkg.in/gomail.v2"
)

// ErrNotConfigured 表示 SMTP 配置缺失。
var ErrNotConfigured = errors.New("email config missing")

// EmailNotifier 通过 SMTP 发送邮件。
type EmailNotifier struct {
	cfg    *config.EmailConfig
	logger *slog.Logger
	send   func(m *gomail.Message) error
}

// NewEmailNotifier 创建一个新的邮件通知器。
func NewEmailNotifier(cfg *config.EmailConfig, logger *slog.Logger) *EmailNotifier {
	n := &EmailNotifier{
		cfg:    cfg,
		logger: logger,
	}
	n.send = n.dialAndSend
	return n
}

// SendPasswordReset 发送重置密码邮件，返回时邮件已被 SMTP 服务器接收。
func (n *EmailNotifier) SendPasswordReset(ctx context.Context, toEmail string, link string) error {
	if n.cfg == nil || n.cfg.SMTPHost == "" || n.cfg.SMTPUser == "" || n.cfg.FromEmail == "" {
		metrics.EmailSendTotal.WithLabelValues("skipped").Inc()
		return ErrNotConfigured
	}
	if strings.TrimSpace(toEmail) == "" {
		return fmt.Errorf("empty recipient")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m := gomail.NewMessage()
	m.SetHeader("From", n.cfg.FromEmail)
	m.SetHeader("To", toEmail)
	m.SetHeader("Subject", "Password Reset")
	m.SetBody("text/plain", buildResetText(link))
	m.AddAlternative("text/html", buildResetHTML(link))

	if err := n.send(m); err != nil {
		metrics.EmailSendTotal.WithLabelValues("failed").Inc()
		return fmt.Errorf("send email: %w", err)
	}

	metrics.EmailSendTotal.WithLabelValues("sent").Inc()
	if n.logger != nil {
		n.logger.Info("password reset email sent", slog.String("to", toEmail))
	}
	return nil
}

func (n *EmailNotifier) dialAndSend(m *gomail.Message) error {
	d := gomail.NewDialer(n.cfg.SMTPHost, n.cfg.SMTPPort, n.cfg.SMTPUser, n.cfg.SMTPPass)
	return d.DialAndSend(m)
}

func buildResetText(link string) string {
	return "You requested a password reset. Please click the following link or paste it into your browser to reset your password:\n\n" +
		link + "\n\n" +
		"If you did not request this, please ignore this email.\n"
}

func buildResetHTML(link string) string {
	escaped := html.EscapeString(link)
	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif;">
  <div style="max-width: 520px; margin: 0 auto; padding: 16px;">
    <h2>Password Reset</h2>
    <p>You requested a password reset. Click the button below to choose a new password.</p>
    <p><a href="%s" style="display:inline-block;padding:12px 20px;background:#0f172a;color:#fff;text-decoration:none;border-radius:8px;">Reset password</a></p>
    <p style="font-size: 12px; color: #6b7280;">The link is valid for 1 hour. If you did not request this, please ignore this email.</p>
    <p style="font-size: 12px; color: #6b7280;">%s</p>
  </div>
</body>
</html>`, escaped, escaped)
}
