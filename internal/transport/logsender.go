package transport

import (
	"context"

	"github.com/linnemanlabs/go-core/log"
)

// LogSender logs outbound messages instead of delivering them. It stands in
// for the channel client when no credentials are configured, so drafts still
// move through their lifecycle in dev setups.
type LogSender struct {
	logger log.Logger
}

// NewLogSender creates a log-only sender.
func NewLogSender(logger log.Logger) *LogSender {
	if logger == nil {
		logger = log.Nop()
	}
	return &LogSender{logger: logger}
}

// SendText logs the message and reports success.
func (s *LogSender) SendText(ctx context.Context, chatID, text string) error {
	s.logger.Info(ctx, "outbound message (dry run)",
		"chat_id", chatID,
		"length", len(text),
	)
	return nil
}
