package provider

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tailhq/courier/internal/channel"
	"github.com/tailhq/courier/internal/store"
)

// InboxWriter persists in-app inbox items.
type InboxWriter interface {
	CreateInboxItem(ctx context.Context, item *store.InboxItem) error
}

// InboxProvider writes messages into the in-app inbox. It is the system
// of record and the unconditional fallback: every send produces an inbox
// item, whatever happens on the primary channel.
type InboxProvider struct {
	writer InboxWriter
	logger *zap.Logger
}

// NewInboxProvider creates the inbox provider.
func NewInboxProvider(writer InboxWriter, logger *zap.Logger) *InboxProvider {
	return &InboxProvider{
		writer: writer,
		logger: logger,
	}
}

// Channel reports the channel this provider serves.
func (p *InboxProvider) Channel() channel.Channel {
	return channel.Inbox
}

// Deliver writes the inbox row. A storage error is returned to the
// caller; there is no transport to fail, so Success is true whenever the
// row lands.
func (p *InboxProvider) Deliver(ctx context.Context, payload *channel.Payload) (*channel.Result, error) {
	var ctas json.RawMessage
	if len(payload.CTAs) > 0 {
		raw, err := json.Marshal(payload.CTAs)
		if err == nil {
			ctas = raw
		}
	}

	title := payload.Title
	if title == "" {
		title = payload.Subject
	}

	item := &store.InboxItem{
		ID:        uuid.New(),
		UserID:    payload.UserID,
		MessageID: payload.MessageID,
		Title:     title,
		Body:      payload.Body,
		CTAs:      ctas,
	}

	if err := p.writer.CreateInboxItem(ctx, item); err != nil {
		return nil, err
	}

	p.logger.Debug("inbox item written",
		zap.String("message_id", payload.MessageID.String()),
		zap.String("inbox_item_id", item.ID.String()),
	)

	now := time.Now()
	return &channel.Result{
		Success:           true,
		EstimatedDelivery: &now,
	}, nil
}
