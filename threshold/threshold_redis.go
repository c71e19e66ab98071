package threshold

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var redisWindowPrefix string = "window/"

type RedisTracker struct {
	Client *redis.Client
}

var _ Tracker = (*RedisTracker)(nil)

func NewRedisTracker(redisURL string) (*RedisTracker, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opt)
	// check redis connection
	_, err = rdb.Ping(context.TODO()).Result()
	if err != nil {
		return nil, err
	}
	return &RedisTracker{Client: rdb}, nil
}

func (t *RedisTracker) TrackEvent(ctx context.Context, subject, category, member string, ts time.Time, window time.Duration) error {
	key := redisWindowPrefix + windowKey(subject, category, window)
	cutoff := time.Now().Add(-window).UnixMilli()

	// append, prune, and refresh TTL in a single redis round-trip
	multi := t.Client.Pipeline()
	multi.ZAdd(ctx, key, redis.Z{
		Score:  float64(ts.UnixMilli()),
		Member: defaultMember(member, ts),
	})
	multi.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("(%d", cutoff))
	multi.Expire(ctx, key, window+expireMargin)
	_, err := multi.Exec(ctx)
	if err != nil {
		return fmt.Errorf("tracking threshold event: %w", err)
	}
	trackEventCount.Inc()
	return nil
}

func (t *RedisTracker) CountInWindow(ctx context.Context, subject string, categories []string, window time.Duration, now time.Time) (int, error) {
	cutoff := fmt.Sprintf("%d", now.Add(-window).UnixMilli())

	multi := t.Client.Pipeline()
	cmds := make([]*redis.IntCmd, 0, len(categories))
	for _, category := range categories {
		key := redisWindowPrefix + windowKey(subject, category, window)
		cmds = append(cmds, multi.ZCount(ctx, key, cutoff, "+inf"))
	}
	if _, err := multi.Exec(ctx); err != nil && err != redis.Nil {
		return 0, fmt.Errorf("counting threshold window: %w", err)
	}

	total := 0
	for _, cmd := range cmds {
		total += int(cmd.Val())
	}
	return total, nil
}

func (t *RedisTracker) TrackAndCount(ctx context.Context, subject, category, member string, ts time.Time, window time.Duration) (int, error) {
	key := redisWindowPrefix + windowKey(subject, category, window)
	cutoff := time.Now().Add(-window).UnixMilli()

	multi := t.Client.Pipeline()
	multi.ZAdd(ctx, key, redis.Z{
		Score:  float64(ts.UnixMilli()),
		Member: defaultMember(member, ts),
	})
	multi.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("(%d", cutoff))
	multi.Expire(ctx, key, window+expireMargin)
	card := multi.ZCard(ctx, key)
	if _, err := multi.Exec(ctx); err != nil {
		return 0, fmt.Errorf("tracking threshold event: %w", err)
	}
	trackEventCount.Inc()
	return int(card.Val()), nil
}
