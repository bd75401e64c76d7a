package alerting

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/wneessen/go-mail"
)

// Notifier 定义告警输送接口。
type Notifier interface {
	Notify(ctx context.Context, recipients []string, subject, body string) error
}

// EmailOptions parameterise the SMTP notifier.
type EmailOptions struct {
	SMTPHost      string
	SMTPPort      int
	Sender        string
	Password      string
	RetryAttempts int
	RetryDelay    time.Duration
	Timeout       time.Duration
}

// EmailNotifier 通过 SMTP 推送告警邮件。同一收件人+主题在同一小时内只发
// 送一次，失败的收件人不影响其余收件人。
type EmailNotifier struct {
	opts   EmailOptions
	logger zerolog.Logger

	mu   sync.Mutex
	sent map[string]time.Time

	deliver func(ctx context.Context, recipient, subject, body string) error
	nowFn   func() time.Time
}

// NewEmailNotifier 构造邮件告警器。
func NewEmailNotifier(opts EmailOptions, logger zerolog.Logger) *EmailNotifier {
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = 3
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 5 * time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	n := &EmailNotifier{
		opts:   opts,
		logger: logger.With().Str("component", "alert_email").Logger(),
		sent:   make(map[string]time.Time),
		nowFn:  time.Now,
	}
	n.deliver = n.deliverSMTP
	return n
}

// Notify 给所有收件人推送一封告警邮件。
func (n *EmailNotifier) Notify(ctx context.Context, recipients []string, subject, body string) error {
	var failed int
	for _, recipient := range recipients {
		key := n.dedupKey(recipient, subject)

		n.mu.Lock()
		_, dup := n.sent[key]
		n.mu.Unlock()
		if dup {
			n.logger.Warn().Str("recipient", recipient).Str("subject", subject).Msg("邮件已发送过，跳过")
			continue
		}

		if err := n.sendWithRetry(ctx, recipient, subject, body); err != nil {
			failed++
			n.logger.Error().Err(err).Str("recipient", recipient).Msg("邮件发送失败")
			continue
		}

		n.mu.Lock()
		n.sent[key] = n.nowFn()
		n.mu.Unlock()
		n.logger.Info().Str("recipient", recipient).Str("subject", subject).Msg("邮件发送成功")
	}

	if failed > 0 {
		return fmt.Errorf("%d 个收件人发送失败", failed)
	}
	return nil
}

func (n *EmailNotifier) sendWithRetry(ctx context.Context, recipient, subject, body string) error {
	var lastErr error
	for attempt := 0; attempt < n.opts.RetryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(n.opts.RetryDelay):
			}
		}

		lastErr = n.deliver(ctx, recipient, subject, body)
		if lastErr == nil {
			return nil
		}
		n.logger.Warn().Err(lastErr).
			Str("recipient", recipient).
			Int("attempt", attempt+1).
			Int("max_attempts", n.opts.RetryAttempts).
			Msg("邮件发送异常，准备重试")
	}
	return lastErr
}

func (n *EmailNotifier) deliverSMTP(ctx context.Context, recipient, subject, body string) error {
	msg := mail.NewMsg()
	if err := msg.From(n.opts.Sender); err != nil {
		return fmt.Errorf("set sender: %w", err)
	}
	if err := msg.To(recipient); err != nil {
		return fmt.Errorf("set recipient: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, body)

	clientOpts := []mail.Option{
		mail.WithPort(n.opts.SMTPPort),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(n.opts.Sender),
		mail.WithPassword(n.opts.Password),
		mail.WithTimeout(n.opts.Timeout),
	}
	if n.opts.SMTPPort == 465 {
		clientOpts = append(clientOpts, mail.WithSSL())
	} else {
		clientOpts = append(clientOpts, mail.WithTLSPolicy(mail.TLSOpportunistic))
	}

	client, err := mail.NewClient(n.opts.SMTPHost, clientOpts...)
	if err != nil {
		return fmt.Errorf("create smtp client: %w", err)
	}
	return client.DialAndSendWithContext(ctx, msg)
}

func (n *EmailNotifier) dedupKey(recipient, subject string) string {
	return fmt.Sprintf("%s_%s_%s", recipient, subject, n.nowFn().Format("2006010215"))
}

// SendTest 发送一封连通性测试邮件，绕过去重逻辑。
func (n *EmailNotifier) SendTest(ctx context.Context, recipient string) error {
	subject := "金融监控系统测试邮件"
	body := fmt.Sprintf(`金融监控系统测试邮件
==================

这是一封测试邮件，用于验证邮件发送功能是否正常。

发送时间：%s
收件人：%s

如果您收到这封邮件，说明邮件发送功能配置正确！

金融价格监控系统`, n.nowFn().Format("2006-01-02 15:04:05"), recipient)

	return n.sendWithRetry(ctx, recipient, subject, body)
}

// ClearOldRecords 清除窗口之外的发送去重记录。
func (n *EmailNotifier) ClearOldRecords(hours int) {
	cutoff := n.nowFn().Add(-time.Duration(hours) * time.Hour)

	n.mu.Lock()
	defer n.mu.Unlock()
	for key, sentAt := range n.sent {
		if !sentAt.After(cutoff) {
			delete(n.sent, key)
		}
	}
}

// SentCount 统计窗口内成功发送的邮件数。
func (n *EmailNotifier) SentCount(hours int) int {
	cutoff := n.nowFn().Add(-time.Duration(hours) * time.Hour)

	n.mu.Lock()
	defer n.mu.Unlock()
	count := 0
	for _, sentAt := range n.sent {
		if sentAt.After(cutoff) {
			count++
		}
	}
	return count
}

var _ Notifier = (*EmailNotifier)(nil)
