package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/tailhq/courier/internal/channel"
)

// retention must cover the longest frequency window (one week) plus slack.
const sendLogRetention = 8 * 24 * time.Hour

// SendLog counts recent sends per user and channel. Frequency caps and the
// anti-spam channel-selection penalty both read from it. Implemented as a
// sorted set per (user, channel) scored by send time.
type SendLog struct {
	client *Client
	logger *zap.Logger
}

// NewSendLog creates a send log over the given client.
func NewSendLog(client *Client, logger *zap.Logger) *SendLog {
	return &SendLog{
		client: client,
		logger: logger,
	}
}

func (s *SendLog) key(userID uuid.UUID, ch channel.Channel) string {
	return fmt.Sprintf("sendlog:%s:%s", userID, ch)
}

// Record logs one send on a channel.
func (s *SendLog) Record(ctx context.Context, userID uuid.UUID, ch channel.Channel, at time.Time) error {
	key := s.key(userID, ch)

	pipe := s.client.rdb.Pipeline()
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(at.UnixNano()),
		Member: strconv.FormatInt(at.UnixNano(), 10),
	})
	pipe.Expire(ctx, key, sendLogRetention)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record send: %w", err)
	}
	return nil
}

// CountSince returns how many sends were recorded on the channel at or
// after the given time. Entries older than the retention window are
// trimmed on the way.
func (s *SendLog) CountSince(ctx context.Context, userID uuid.UUID, ch channel.Channel, since time.Time) (int, error) {
	key := s.key(userID, ch)
	horizon := time.Now().Add(-sendLogRetention)

	pipe := s.client.rdb.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(horizon.UnixNano(), 10))
	countCmd := pipe.ZCount(ctx, key,
		strconv.FormatInt(since.UnixNano(), 10),
		"+inf",
	)

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("count sends: %w", err)
	}

	return int(countCmd.Val()), nil
}

// CountToday returns sends on the channel in the last 24 hours.
func (s *SendLog) CountToday(ctx context.Context, userID uuid.UUID, ch channel.Channel) (int, error) {
	return s.CountSince(ctx, userID, ch, time.Now().Add(-24*time.Hour))
}

// CountThisWeek returns sends on the channel in the last 7 days.
func (s *SendLog) CountThisWeek(ctx context.Context, userID uuid.UUID, ch channel.Channel) (int, error) {
	return s.CountSince(ctx, userID, ch, time.Now().Add(-7*24*time.Hour))
}
