package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/recruitflow/relay/internal/store"
)

// Recipient carries the identity-boundary contact details for a dispatch.
// The core trusts these values; they come from the authenticated caller.
type Recipient struct {
	UserID string
	Email  string
	Phone  string
}

// ChannelSender delivers one notification over one channel (email, push).
// The in-app channel needs no sender: the stored record is the delivery.
// Webhooks go through the delivery engine instead.
type ChannelSender interface {
	Send(ctx context.Context, n *store.Notification, to Recipient) error
	SupportsChannel(channel string) bool
}

// LogSender logs instead of sending. Used in development and tests.
type LogSender struct {
	logger *zap.Logger
}

// NewLogSender creates a log-only channel sender.
func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, n *store.Notification, to Recipient) error {
	s.logger.Info("notification delivery (log only)",
		zap.String("id", n.ID),
		zap.String("user_id", to.UserID),
		zap.String("title", n.Title),
	)
	return nil
}

func (s *LogSender) SupportsChannel(channel string) bool {
	return channel == store.ChannelEmail || channel == store.ChannelPush || channel == store.ChannelSMS
}
