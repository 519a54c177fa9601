package journey

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// HTTPCRMClient applies profile mutations through the external CRM
// service's HTTP API. All calls are PUT/POST against user-scoped
// resources, which the CRM treats as idempotent upserts.
type HTTPCRMClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// CRMConfig holds CRM service connection settings.
type CRMConfig struct {
	BaseURL string
	Timeout time.Duration
}

// NewHTTPCRMClient creates a CRM client.
func NewHTTPCRMClient(cfg CRMConfig, logger *zap.Logger) *HTTPCRMClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &HTTPCRMClient{
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// UpdateProperty upserts one profile property.
func (c *HTTPCRMClient) UpdateProperty(ctx context.Context, userID uuid.UUID, property string, value any) error {
	url := fmt.Sprintf("%s/v1/users/%s/properties/%s", c.baseURL, userID, property)
	return c.do(ctx, http.MethodPut, url, map[string]any{"value": value})
}

// AddTag adds a tag to the user's profile.
func (c *HTTPCRMClient) AddTag(ctx context.Context, userID uuid.UUID, tag string) error {
	url := fmt.Sprintf("%s/v1/users/%s/tags", c.baseURL, userID)
	return c.do(ctx, http.MethodPost, url, map[string]any{"tag": tag})
}

// RemoveTag removes a tag from the user's profile.
func (c *HTTPCRMClient) RemoveTag(ctx context.Context, userID uuid.UUID, tag string) error {
	url := fmt.Sprintf("%s/v1/users/%s/tags/%s", c.baseURL, userID, tag)
	return c.do(ctx, http.MethodDelete, url, nil)
}

func (c *HTTPCRMClient) do(ctx context.Context, method, url string, body any) error {
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal crm request: %w", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("build crm request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("crm request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("crm service returned status %d", resp.StatusCode)
	}

	c.logger.Debug("crm call succeeded",
		zap.String("method", method),
		zap.String("url", url),
	)
	return nil
}
