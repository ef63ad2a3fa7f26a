package mail

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/harborlight/portal-auth-service/internal/core/port"
	"github.com/harborlight/portal-auth-service/internal/infra/logger"
)

// LoggingMailer logs instead of sending. Useful for development environments
// where no SMTP relay is available.
type LoggingMailer struct {
	logger *zap.Logger
}

// NewLoggingMailer constructs a development-friendly mailer.
func NewLoggingMailer(log *zap.Logger) *LoggingMailer {
	return &LoggingMailer{logger: log.Named("dev_mailer")}
}

// SendVerificationCode logs the plaintext code under the dev_mailer logger
// name. This sink replaces mail delivery entirely and is selected only for
// the development environment; the SMTP mailer never logs the code.
func (m *LoggingMailer) SendVerificationCode(_ context.Context, email, code string, expiresAt time.Time) error {
	m.logger.Info("DEV ONLY: verification code issued, no mail sent",
		zap.String("email", logger.MaskEmail(email)),
		zap.String("code", code),
		zap.Time("expires_at", expiresAt),
	)
	return nil
}

var _ port.Mailer = (*LoggingMailer)(nil)
