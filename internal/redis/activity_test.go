package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func TestActivityLogTouchAndRead(t *testing.T) {
	client := newTestClient(t)
	log := NewActivityLog(client, zap.NewNop())
	ctx := context.Background()
	userID := uuid.New()
	at := time.Now().Add(-3 * time.Hour).UTC().Truncate(time.Second)

	if err := log.Touch(ctx, userID, at); err != nil {
		t.Fatalf("Touch: %v", err)
	}

	got, err := log.LastActiveAt(ctx, userID)
	if err != nil {
		t.Fatalf("LastActiveAt: %v", err)
	}
	if !got.Equal(at) {
		t.Errorf("last active = %v, want %v", got, at)
	}
}

func TestActivityLogOlderTouchDoesNotOverwrite(t *testing.T) {
	client := newTestClient(t)
	log := NewActivityLog(client, zap.NewNop())
	ctx := context.Background()
	userID := uuid.New()
	newer := time.Now().UTC().Truncate(time.Second)
	older := newer.Add(-time.Hour)

	if err := log.Touch(ctx, userID, newer); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	if err := log.Touch(ctx, userID, older); err != nil {
		t.Fatalf("Touch: %v", err)
	}

	got, err := log.LastActiveAt(ctx, userID)
	if err != nil {
		t.Fatalf("LastActiveAt: %v", err)
	}
	if !got.Equal(newer) {
		t.Errorf("last active = %v, want the newer %v", got, newer)
	}
}

func TestActivityLogInactiveSince(t *testing.T) {
	client := newTestClient(t)
	log := NewActivityLog(client, zap.NewNop())
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	dormant := uuid.New()
	recent := uuid.New()
	if err := log.Touch(ctx, dormant, now.Add(-10*24*time.Hour)); err != nil {
		t.Fatalf("Touch dormant: %v", err)
	}
	if err := log.Touch(ctx, recent, now.Add(-2*time.Hour)); err != nil {
		t.Fatalf("Touch recent: %v", err)
	}

	got, err := log.InactiveSince(ctx, now.Add(-7*24*time.Hour))
	if err != nil {
		t.Fatalf("InactiveSince: %v", err)
	}
	if len(got) != 1 || got[0] != dormant {
		t.Errorf("inactive users = %v, want only %s", got, dormant)
	}
}

func TestActivityLogNoRecord(t *testing.T) {
	client := newTestClient(t)
	log := NewActivityLog(client, zap.NewNop())

	_, err := log.LastActiveAt(context.Background(), uuid.New())
	if !errors.Is(err, ErrNoActivity) {
		t.Errorf("err = %v, want ErrNoActivity", err)
	}
}
