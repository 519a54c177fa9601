package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"go.uber.org/zap"

	"github.com/tailhq/courier/internal/channel"
)

// MetadataPhone is the payload metadata key carrying the SMS number.
const MetadataPhone = "phone"

// SNSProvider delivers SMS through AWS SNS.
type SNSProvider struct {
	client *sns.Client
	logger *zap.Logger
}

// SNSConfig holds SNS settings.
type SNSConfig struct {
	Region string
}

// NewSNSProvider creates the SMS provider.
func NewSNSProvider(ctx context.Context, cfg SNSConfig, logger *zap.Logger) (*SNSProvider, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load default AWS config for SNS: %w", err)
	}

	return &SNSProvider{
		client: sns.NewFromConfig(awsCfg),
		logger: logger,
	}, nil
}

// Channel reports the channel this provider serves.
func (p *SNSProvider) Channel() channel.Channel {
	return channel.SMS
}

// Deliver publishes the payload body as an SMS.
func (p *SNSProvider) Deliver(ctx context.Context, payload *channel.Payload) (*channel.Result, error) {
	phone := payload.Metadata[MetadataPhone]
	if phone == "" {
		return &channel.Result{
			Success:       false,
			ProviderError: "no phone number on file",
		}, nil
	}

	input := &sns.PublishInput{
		PhoneNumber: aws.String(phone),
		Message:     aws.String(payload.Body),
	}

	result, err := p.client.Publish(ctx, input)
	if err != nil {
		return &channel.Result{
			Success:       false,
			ProviderError: err.Error(),
		}, nil
	}

	p.logger.Info("SMS sent via SNS",
		zap.String("message_id", payload.MessageID.String()),
		zap.String("sns_message_id", aws.ToString(result.MessageId)),
	)

	estimated := time.Now().Add(10 * time.Second)
	return &channel.Result{
		Success:           true,
		EstimatedDelivery: &estimated,
	}, nil
}
