package preference

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Service looks up a user's preference snapshot.
type Service interface {
	GetUserPreferences(ctx context.Context, userID uuid.UUID) (*Preferences, error)
}

// Client fetches preferences from the external preference service over
// HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// ClientConfig holds preference service connection settings.
type ClientConfig struct {
	BaseURL string
	Timeout time.Duration
}

// NewClient creates a preference service client.
func NewClient(cfg ClientConfig, logger *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// GetUserPreferences fetches the snapshot for a user. Callers treat any
// error as "use the restrictive defaults", so this never fabricates data.
func (c *Client) GetUserPreferences(ctx context.Context, userID uuid.UUID) (*Preferences, error) {
	url := fmt.Sprintf("%s/v1/users/%s/preferences", c.baseURL, userID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build preferences request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("preferences request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("preference service returned status %d", resp.StatusCode)
	}

	var prefs Preferences
	if err := json.NewDecoder(resp.Body).Decode(&prefs); err != nil {
		return nil, fmt.Errorf("decode preferences: %w", err)
	}
	prefs.UserID = userID

	c.logger.Debug("preferences fetched",
		zap.String("user_id", userID.String()),
		zap.Int("ranked_channels", len(prefs.PreferredChannels)),
	)

	return &prefs, nil
}
