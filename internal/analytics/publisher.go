// Package analytics publishes send attempts and outcomes to the
// analytics pipeline. Publishing is fire-and-forget: a failure to record
// an event never fails the send that produced it.
package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"go.uber.org/zap"
)

// Event describes one send attempt or outcome.
type Event struct {
	MessageID  string    `json:"message_id"`
	UserID     string    `json:"user_id"`
	TemplateID string    `json:"template_id"`
	Channel    string    `json:"channel"`
	Priority   string    `json:"priority"`
	Status     string    `json:"status"`
	VariantID  string    `json:"variant_id,omitempty"`
	Error      string    `json:"error,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Publisher sends events to an SNS topic.
type Publisher struct {
	client   *sns.Client
	topicARN string
	logger   *zap.Logger
}

// NewPublisher creates an SNS publisher for the given topic.
func NewPublisher(ctx context.Context, region, topicARN string, logger *zap.Logger) (*Publisher, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &Publisher{
		client:   sns.NewFromConfig(cfg),
		topicARN: topicARN,
		logger:   logger,
	}, nil
}

// RecordSend publishes an event. Errors are logged and swallowed.
func (p *Publisher) RecordSend(ctx context.Context, ev Event) {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now()
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		p.logger.Warn("failed to marshal analytics event", zap.Error(err))
		return
	}

	input := &sns.PublishInput{
		TopicArn: aws.String(p.topicARN),
		Message:  aws.String(string(payload)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"channel": {
				DataType:    aws.String("String"),
				StringValue: aws.String(ev.Channel),
			},
			"status": {
				DataType:    aws.String("String"),
				StringValue: aws.String(ev.Status),
			},
		},
	}

	if _, err := p.client.Publish(ctx, input); err != nil {
		p.logger.Warn("failed to publish analytics event",
			zap.Error(err),
			zap.String("message_id", ev.MessageID),
		)
	}
}

// NopSink discards events. Used when no analytics topic is configured.
type NopSink struct{}

// RecordSend does nothing.
func (NopSink) RecordSend(ctx context.Context, ev Event) {}
