// Package provider implements the transport adapters behind the channel
// registry: SES for email, SNS for SMS, HTTP gateways for push and
// WhatsApp, and the repository-backed inbox.
package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"go.uber.org/zap"

	"github.com/tailhq/courier/internal/channel"
)

// MetadataEmail is the payload metadata key carrying the recipient address.
const MetadataEmail = "email"

// SESProvider delivers email through AWS SES.
type SESProvider struct {
	client *ses.Client
	from   string
	logger *zap.Logger
}

// SESConfig holds SES settings.
type SESConfig struct {
	Region    string
	FromEmail string
}

// NewSESProvider creates the email provider.
func NewSESProvider(ctx context.Context, cfg SESConfig, logger *zap.Logger) (*SESProvider, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load default AWS config: %w", err)
	}
	return &SESProvider{
		client: ses.NewFromConfig(awsCfg),
		from:   cfg.FromEmail,
		logger: logger,
	}, nil
}

// Channel reports the channel this provider serves.
func (p *SESProvider) Channel() channel.Channel {
	return channel.Email
}

// Deliver sends the rendered payload as an email. A missing address or a
// transport error comes back as an unsuccessful result so the fallback
// chain can take over.
func (p *SESProvider) Deliver(ctx context.Context, payload *channel.Payload) (*channel.Result, error) {
	to := payload.Metadata[MetadataEmail]
	if to == "" {
		return &channel.Result{
			Success:       false,
			ProviderError: "no email address on file",
		}, nil
	}

	body := &types.Body{
		Text: &types.Content{
			Data:    aws.String(payload.Body),
			Charset: aws.String("UTF-8"),
		},
	}
	if payload.HTML != "" {
		body.Html = &types.Content{
			Data:    aws.String(payload.HTML),
			Charset: aws.String("UTF-8"),
		}
	}

	input := &ses.SendEmailInput{
		Source: aws.String(p.from),
		Destination: &types.Destination{
			ToAddresses: []string{to},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data:    aws.String(payload.Subject),
				Charset: aws.String("UTF-8"),
			},
			Body: body,
		},
	}

	result, err := p.client.SendEmail(ctx, input)
	if err != nil {
		return &channel.Result{
			Success:       false,
			ProviderError: err.Error(),
		}, nil
	}

	p.logger.Info("email sent via SES",
		zap.String("message_id", payload.MessageID.String()),
		zap.String("ses_message_id", aws.ToString(result.MessageId)),
	)

	estimated := time.Now().Add(2 * time.Minute)
	return &channel.Result{
		Success:           true,
		EstimatedDelivery: &estimated,
	}, nil
}
