// Package events ingests domain events from SQS and feeds them to the
// journey engine. Events drive enrollment and exit; a failed handler
// leaves the message on the queue for redelivery.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tailhq/courier/internal/journey"
	"github.com/tailhq/courier/internal/metrics"
)

// Handler processes one domain event.
type Handler interface {
	HandleUserEvent(ctx context.Context, ev *journey.Event) error
}

// Config holds SQS consumer settings.
type Config struct {
	Region   string
	QueueURL string
}

// envelope is the wire shape of a domain event on the queue.
type envelope struct {
	UserID          uuid.UUID      `json:"user_id"`
	EventType       string         `json:"event_type"`
	EventData       map[string]any `json:"event_data,omitempty"`
	RelatedEntityID *uuid.UUID     `json:"related_entity_id,omitempty"`
	Timestamp       time.Time      `json:"timestamp"`
}

// Consumer long-polls an SQS queue for domain events.
type Consumer struct {
	client   *sqs.Client
	queueURL string
	handler  Handler
	logger   *zap.Logger
}

// NewConsumer creates an SQS event consumer.
func NewConsumer(ctx context.Context, cfg Config, handler Handler, logger *zap.Logger) (*Consumer, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	logger.Info("event consumer initialized",
		zap.String("queue_url", cfg.QueueURL),
	)

	return &Consumer{
		client:   sqs.NewFromConfig(awsCfg),
		queueURL: cfg.QueueURL,
		handler:  handler,
		logger:   logger,
	}, nil
}

// Start polls the queue until the context is cancelled.
func (c *Consumer) Start(ctx context.Context) {
	c.logger.Info("event consumer starting")

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("event consumer stopping")
			return
		default:
		}

		if err := c.poll(ctx); err != nil && ctx.Err() == nil {
			c.logger.Error("event poll failed", zap.Error(err))
			// Back off briefly so a broken queue doesn't spin the loop.
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
			}
		}
	}
}

func (c *Consumer) poll(ctx context.Context) error {
	result, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.queueURL),
		MaxNumberOfMessages: 10,
		WaitTimeSeconds:     20,
		VisibilityTimeout:   60,
	})
	if err != nil {
		return fmt.Errorf("sqs receive failed: %w", err)
	}

	for _, raw := range result.Messages {
		var env envelope
		if err := json.Unmarshal([]byte(*raw.Body), &env); err != nil {
			// A malformed event will never parse; drop it rather than
			// poison the queue.
			c.logger.Error("dropping malformed event", zap.Error(err))
			metrics.RecordEventConsumed("malformed")
			c.delete(ctx, raw.ReceiptHandle)
			continue
		}

		ev := &journey.Event{
			UserID:          env.UserID,
			EventType:       env.EventType,
			EventData:       env.EventData,
			RelatedEntityID: env.RelatedEntityID,
			Timestamp:       env.Timestamp,
		}

		if err := c.handler.HandleUserEvent(ctx, ev); err != nil {
			c.logger.Error("event handling failed, leaving for redelivery",
				zap.Error(err),
				zap.String("event_type", ev.EventType),
				zap.String("user_id", ev.UserID.String()),
			)
			metrics.RecordEventConsumed("error")
			continue
		}

		metrics.RecordEventConsumed("processed")
		c.delete(ctx, raw.ReceiptHandle)
	}

	return nil
}

func (c *Consumer) delete(ctx context.Context, receiptHandle *string) {
	_, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: receiptHandle,
	})
	if err != nil {
		c.logger.Error("failed to delete event from queue", zap.Error(err))
	}
}
