package dedupe

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

var redisClaimPrefix string = "dedupe/"

type RedisStore struct {
	Client    *redis.Client
	Logger    *slog.Logger
	Retention time.Duration
}

var _ Store = (*RedisStore)(nil)

func NewRedisStore(redisURL string, logger *slog.Logger) (*RedisStore, error) {
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
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisStore{
		Client:    rdb,
		Logger:    logger.With("system", "dedupe"),
		Retention: DefaultRetention,
	}, nil
}

func redisClaimKey(namespace, key string) string {
	return redisClaimPrefix + namespace + "/" + key
}

func (s *RedisStore) Claim(ctx context.Context, namespace, key string) bool {
	created, err := s.Client.SetNX(ctx, redisClaimKey(namespace, key), "1", s.Retention).Result()
	if err != nil {
		// fail-open: allow the action through rather than blocking moderation
		s.Logger.Warn("dedupe claim failed, allowing action", "namespace", namespace, "key", key, "err", err)
		claimFailOpenCount.WithLabelValues(namespace).Inc()
		return true
	}
	if !created {
		claimDuplicateCount.WithLabelValues(namespace).Inc()
	}
	return created
}

func (s *RedisStore) Release(ctx context.Context, namespace, key string) error {
	return s.Client.Del(ctx, redisClaimKey(namespace, key)).Err()
}
