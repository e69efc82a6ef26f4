// Package mail provides transports for the notification dispatcher.
package mail

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/oakmart/api/internal/services"
)

// LogTransport writes messages to the structured log instead of delivering
// them. It is the transport for local development and environments without an
// outbound relay.
type LogTransport struct {
	logger *zap.Logger
	from   string
}

// NewLogTransport constructs a log-backed mail transport.
func NewLogTransport(logger *zap.Logger, fromAddress string) (*LogTransport, error) {
	if logger == nil {
		return nil, errors.New("log mail transport: logger is required")
	}
	return &LogTransport{logger: logger, from: strings.TrimSpace(fromAddress)}, nil
}

// Send records the rendered message and reports success.
func (t *LogTransport) Send(_ context.Context, msg services.MailMessage) error {
	if t == nil || t.logger == nil {
		return errors.New("log mail transport: not initialised")
	}
	if len(msg.To) == 0 {
		return errors.New("log mail transport: at least one recipient is required")
	}

	t.logger.Info("mail dispatched",
		zap.String("from", t.from),
		zap.Strings("to", msg.To),
		zap.Strings("bcc", msg.BCC),
		zap.String("subject", msg.Subject),
		zap.Int("html_bytes", len(msg.HTMLBody)),
		zap.Int("text_bytes", len(msg.TextBody)),
	)
	return nil
}
