package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	os.Unsetenv("PORT")
	os.Unsetenv("LOG_LEVEL")
	os.Unsetenv("ENV")
	os.Unsetenv("SCHEDULER_INTERVAL")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if cfg.Port != 8080 {
		t.Errorf("expected port 8080, got %d", cfg.Port)
	}

	if cfg.LogLevel != "info" {
		t.Errorf("expected log level 'info', got %s", cfg.LogLevel)
	}

	if cfg.Env != "development" {
		t.Errorf("expected env 'development', got %s", cfg.Env)
	}

	if cfg.SchedulerInterval != time.Minute {
		t.Errorf("expected scheduler interval 1m, got %s", cfg.SchedulerInterval)
	}

	if cfg.Currency != "USD" {
		t.Errorf("expected currency USD, got %s", cfg.Currency)
	}
}

func TestLoad_CustomValues(t *testing.T) {
	os.Setenv("PORT", "9000")
	os.Setenv("ENV", "production")
	os.Setenv("SCHEDULER_INTERVAL", "30s")
	os.Setenv("RATE_LIMIT", "250")
	defer func() {
		os.Unsetenv("PORT")
		os.Unsetenv("ENV")
		os.Unsetenv("SCHEDULER_INTERVAL")
		os.Unsetenv("RATE_LIMIT")
	}()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if cfg.Port != 9000 {
		t.Errorf("expected port 9000, got %d", cfg.Port)
	}

	if cfg.Env != "production" {
		t.Errorf("expected env 'production', got %s", cfg.Env)
	}

	if cfg.SchedulerInterval != 30*time.Second {
		t.Errorf("expected scheduler interval 30s, got %s", cfg.SchedulerInterval)
	}

	if cfg.RateLimit != 250 {
		t.Errorf("expected rate limit 250, got %d", cfg.RateLimit)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	cases := map[string]string{
		"PORT":               "not-a-port",
		"DB_PORT":            "xyz",
		"SCHEDULER_INTERVAL": "sometimes",
		"RATE_LIMIT":         "many",
	}

	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			os.Setenv(key, value)
			defer os.Unsetenv(key)

			if _, err := Load(); err == nil {
				t.Errorf("expected error for %s=%q", key, value)
			}
		})
	}
}
