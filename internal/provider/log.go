package provider

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/tailhq/courier/internal/channel"
)

// LogProvider logs deliveries instead of sending them. Used in
// development and in tests.
type LogProvider struct {
	ch     channel.Channel
	logger *zap.Logger
}

// NewLogProvider creates a logging provider for the given channel.
func NewLogProvider(ch channel.Channel, logger *zap.Logger) *LogProvider {
	return &LogProvider{ch: ch, logger: logger}
}

// Channel reports the channel this provider serves.
func (p *LogProvider) Channel() channel.Channel {
	return p.ch
}

// Deliver logs the payload and reports success.
func (p *LogProvider) Deliver(ctx context.Context, payload *channel.Payload) (*channel.Result, error) {
	p.logger.Info("delivery (development mode)",
		zap.String("channel", string(p.ch)),
		zap.String("message_id", payload.MessageID.String()),
		zap.String("user_id", payload.UserID.String()),
		zap.String("body", payload.Body),
	)

	now := time.Now()
	return &channel.Result{
		Success:           true,
		EstimatedDelivery: &now,
	}, nil
}
