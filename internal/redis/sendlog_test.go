package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tailhq/courier/internal/channel"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	mr := miniredis.RunT(t)
	return NewFromAddr(mr.Addr(), zap.NewNop())
}

func TestSendLogCounts(t *testing.T) {
	client := newTestClient(t)
	log := NewSendLog(client, zap.NewNop())
	ctx := context.Background()
	userID := uuid.New()
	now := time.Now()

	// Two pushes today, one two days ago.
	for _, at := range []time.Time{now.Add(-time.Hour), now.Add(-2 * time.Hour), now.Add(-48 * time.Hour)} {
		if err := log.Record(ctx, userID, channel.Push, at); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	today, err := log.CountToday(ctx, userID, channel.Push)
	if err != nil {
		t.Fatalf("CountToday: %v", err)
	}
	if today != 2 {
		t.Errorf("CountToday = %d, want 2", today)
	}

	week, err := log.CountThisWeek(ctx, userID, channel.Push)
	if err != nil {
		t.Fatalf("CountThisWeek: %v", err)
	}
	if week != 3 {
		t.Errorf("CountThisWeek = %d, want 3", week)
	}
}

func TestSendLogSeparatesChannelsAndUsers(t *testing.T) {
	client := newTestClient(t)
	log := NewSendLog(client, zap.NewNop())
	ctx := context.Background()
	alice, bob := uuid.New(), uuid.New()
	now := time.Now()

	if err := log.Record(ctx, alice, channel.Push, now); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := log.Record(ctx, alice, channel.Email, now); err != nil {
		t.Fatalf("Record: %v", err)
	}

	if n, _ := log.CountToday(ctx, alice, channel.Push); n != 1 {
		t.Errorf("alice push count = %d, want 1", n)
	}
	if n, _ := log.CountToday(ctx, alice, channel.Email); n != 1 {
		t.Errorf("alice email count = %d, want 1", n)
	}
	if n, _ := log.CountToday(ctx, bob, channel.Push); n != 0 {
		t.Errorf("bob push count = %d, want 0", n)
	}
}

func TestSendLogTrimsOldEntries(t *testing.T) {
	client := newTestClient(t)
	log := NewSendLog(client, zap.NewNop())
	ctx := context.Background()
	userID := uuid.New()

	// Older than the retention window.
	if err := log.Record(ctx, userID, channel.SMS, time.Now().Add(-9*24*time.Hour)); err != nil {
		t.Fatalf("Record: %v", err)
	}

	week, err := log.CountThisWeek(ctx, userID, channel.SMS)
	if err != nil {
		t.Fatalf("CountThisWeek: %v", err)
	}
	if week != 0 {
		t.Errorf("CountThisWeek = %d, want 0 after trim", week)
	}
}
