package email

import (
	"context"

	"go.uber.org/zap"
)

// NoopSender logs messages instead of delivering them. Used in development
// and whenever no SMTP relay is configured; an escrow anchor backed by it
// records nothing externally, so it is only a dry run.
type NoopSender struct {
	logger *zap.Logger
}

// NewNoopSender creates a NoopSender backed by the given logger.
func NewNoopSender(logger *zap.Logger) *NoopSender {
	return &NoopSender{logger: logger}
}

// Send logs the message and returns nil.
func (n *NoopSender) Send(_ context.Context, to, subject, body string) error {
	n.logger.Info("email (noop — not sent)",
		zap.String("to", to),
		zap.String("subject", subject),
		zap.Int("body_bytes", len(body)),
	)
	return nil
}
