package mail

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"

	"github.com/harborlight/portal-auth-service/internal/core/port"
	"github.com/harborlight/portal-auth-service/internal/infra/config"
	"github.com/harborlight/portal-auth-service/internal/infra/logger"
)

// SMTPMailer delivers verification codes over SMTP using gomail.
type SMTPMailer struct {
	dialer      *gomail.Dialer
	from        string
	sendTimeout time.Duration
	logger      *zap.Logger
}

// NewSMTPMailer constructs a mailer from SMTP settings.
func NewSMTPMailer(cfg config.SMTPSettings, log *zap.Logger) *SMTPMailer {
	timeout := cfg.SendTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &SMTPMailer{
		dialer:      gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:        cfg.From,
		sendTimeout: timeout,
		logger:      log,
	}
}

// SendVerificationCode sends the six digit code to the given address. The send
// is bounded by the configured timeout; gomail has no context support, so the
// dial runs in a goroutine and the caller observes a timeout error while the
// goroutine finishes in the background.
func (m *SMTPMailer) SendVerificationCode(ctx context.Context, email, code string, expiresAt time.Time) error {
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", email)
	msg.SetHeader("Subject", "Your sign-in code")

	minutes := int(time.Until(expiresAt).Round(time.Minute).Minutes())
	if minutes < 1 {
		minutes = 1
	}

	body := fmt.Sprintf(`
		<h3>Your sign-in code</h3>
		<p>Enter this code to sign in to the member portal:</p>
		<p style="font-size: 24px; letter-spacing: 4px;"><strong>%s</strong></p>
		<p>The code expires in %d minutes. If you did not request it, you can ignore this email.</p>
	`, code, minutes)

	msg.SetBody("text/html", body)

	ctx, cancel := context.WithTimeout(ctx, m.sendTimeout)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- m.dialer.DialAndSend(msg)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("send verification code: %w", err)
		}
		return nil
	case <-ctx.Done():
		m.logger.Warn("verification code send timed out",
			zap.String("email", logger.MaskEmail(email)),
			zap.Duration("timeout", m.sendTimeout),
		)
		return fmt.Errorf("send verification code: %w", ctx.Err())
	}
}

var _ port.Mailer = (*SMTPMailer)(nil)
