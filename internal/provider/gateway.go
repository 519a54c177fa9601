package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/tailhq/courier/internal/channel"
)

// Metadata keys read by the gateway providers.
const (
	MetadataDeviceToken   = "device_token"
	MetadataWhatsAppPhone = "whatsapp_phone"
)

// Gateway posts rendered payloads to an HTTP delivery gateway. Push and
// WhatsApp both go through deployment-operated gateways that front the
// actual vendor APIs.
type Gateway struct {
	ch           channel.Channel
	url          string
	recipientKey string
	estimatedLag time.Duration
	client       *http.Client
	logger       *zap.Logger
}

// GatewayConfig holds gateway connection settings.
type GatewayConfig struct {
	URL     string
	Timeout time.Duration
}

// NewPushGateway creates the push provider.
func NewPushGateway(cfg GatewayConfig, logger *zap.Logger) *Gateway {
	return newGateway(channel.Push, cfg, MetadataDeviceToken, 5*time.Second, logger)
}

// NewWhatsAppGateway creates the WhatsApp provider.
func NewWhatsAppGateway(cfg GatewayConfig, logger *zap.Logger) *Gateway {
	return newGateway(channel.WhatsApp, cfg, MetadataWhatsAppPhone, 30*time.Second, logger)
}

func newGateway(ch channel.Channel, cfg GatewayConfig, recipientKey string, lag time.Duration, logger *zap.Logger) *Gateway {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Gateway{
		ch:           ch,
		url:          cfg.URL,
		recipientKey: recipientKey,
		estimatedLag: lag,
		client: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// Channel reports the channel this provider serves.
func (g *Gateway) Channel() channel.Channel {
	return g.ch
}

type gatewayRequest struct {
	MessageID string        `json:"message_id"`
	Recipient string        `json:"recipient"`
	Title     string        `json:"title,omitempty"`
	Body      string        `json:"body"`
	CTAs      []channel.CTA `json:"ctas,omitempty"`
}

// Deliver posts the payload to the gateway. Non-2xx responses and
// transport errors surface as unsuccessful results.
func (g *Gateway) Deliver(ctx context.Context, payload *channel.Payload) (*channel.Result, error) {
	recipient := payload.Metadata[g.recipientKey]
	if recipient == "" {
		return &channel.Result{
			Success:       false,
			ProviderError: fmt.Sprintf("no %s on file", g.recipientKey),
		}, nil
	}

	body, err := json.Marshal(gatewayRequest{
		MessageID: payload.MessageID.String(),
		Recipient: recipient,
		Title:     payload.Title,
		Body:      payload.Body,
		CTAs:      payload.CTAs,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal gateway request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build gateway request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Courier/1.0")

	resp, err := g.client.Do(req)
	if err != nil {
		return &channel.Result{
			Success:       false,
			ProviderError: err.Error(),
		}, nil
	}
	defer resp.Body.Close()

	preview, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &channel.Result{
			Success:       false,
			ProviderError: fmt.Sprintf("gateway returned status %d: %s", resp.StatusCode, preview),
		}, nil
	}

	g.logger.Info("payload delivered via gateway",
		zap.String("channel", string(g.ch)),
		zap.String("message_id", payload.MessageID.String()),
		zap.Int("status_code", resp.StatusCode),
	)

	estimated := time.Now().Add(g.estimatedLag)
	return &channel.Result{
		Success:           true,
		EstimatedDelivery: &estimated,
	}, nil
}
