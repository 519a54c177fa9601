package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrNoActivity is returned when a user has no recorded activity.
var ErrNoActivity = errors.New("no activity recorded for user")

// activityRetention bounds how long a last-seen timestamp is kept. The
// longest plausible inactivity trigger is well under this.
const activityRetention = 90 * 24 * time.Hour

// ActivityLog tracks when each user was last seen, keyed off inbound
// domain events. Inactivity-triggered journeys read from it.
type ActivityLog struct {
	client *Client
	logger *zap.Logger
}

// NewActivityLog creates an activity log over the given client.
func NewActivityLog(client *Client, logger *zap.Logger) *ActivityLog {
	return &ActivityLog{
		client: client,
		logger: logger,
	}
}

func (a *ActivityLog) key(userID uuid.UUID) string {
	return fmt.Sprintf("activity:%s", userID)
}

// Touch records activity for a user at the given time. An older timestamp
// never overwrites a newer one.
func (a *ActivityLog) Touch(ctx context.Context, userID uuid.UUID, at time.Time) error {
	key := a.key(userID)

	current, err := a.client.rdb.Get(ctx, key).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("read activity: %w", err)
	}
	if err == nil {
		existing, parseErr := time.Parse(time.RFC3339Nano, current)
		if parseErr == nil && existing.After(at) {
			return nil
		}
	}

	if err := a.client.rdb.Set(ctx, key, at.UTC().Format(time.RFC3339Nano), activityRetention).Err(); err != nil {
		return fmt.Errorf("record activity: %w", err)
	}
	return nil
}

// InactiveSince returns the users whose last recorded activity is at or
// before the cutoff. Users with no record at all are absent; they never
// show up here because expired keys carry no user id to report.
func (a *ActivityLog) InactiveSince(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error) {
	var out []uuid.UUID

	iter := a.client.rdb.Scan(ctx, 0, "activity:*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()

		raw, err := a.client.rdb.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read activity %s: %w", key, err)
		}

		at, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			a.logger.Warn("unparseable activity timestamp", zap.String("key", key))
			continue
		}
		if at.After(cutoff) {
			continue
		}

		userID, err := uuid.Parse(strings.TrimPrefix(key, "activity:"))
		if err != nil {
			continue
		}
		out = append(out, userID)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan activity keys: %w", err)
	}

	return out, nil
}

// LastActiveAt returns the user's last recorded activity time.
func (a *ActivityLog) LastActiveAt(ctx context.Context, userID uuid.UUID) (time.Time, error) {
	raw, err := a.client.rdb.Get(ctx, a.key(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, ErrNoActivity
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("read activity: %w", err)
	}

	at, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse activity timestamp: %w", err)
	}
	return at, nil
}
