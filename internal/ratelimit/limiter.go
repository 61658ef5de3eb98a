package ratelimit

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/opsledger/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const keyWritePrincipal = "opsledger:write:principal:%s"

// Limiter throttles mutating API calls per principal.
type Limiter interface {
	AllowWrite(ctx context.Context, principalID snowflake.ID) (*Result, error)
}

type unlimited struct{}

func (unlimited) AllowWrite(context.Context, snowflake.ID) (*Result, error) {
	return &Result{Allowed: true}, nil
}

// Unlimited never throttles.
func Unlimited() Limiter { return unlimited{} }

type WriteLimiter struct {
	bucket *TokenBucket
	rate   float64
	burst  int
}

func NewWriteLimiter(bucket *TokenBucket, rate float64, burst int) (*WriteLimiter, error) {
	if bucket == nil {
		return nil, errors.New("rate limiter bucket is required")
	}
	if rate <= 0 || burst <= 0 {
		return nil, errors.New("write rate limit must be positive")
	}
	return &WriteLimiter{bucket: bucket, rate: rate, burst: burst}, nil
}

func (l *WriteLimiter) AllowWrite(ctx context.Context, principalID snowflake.ID) (*Result, error) {
	return l.bucket.Allow(ctx, fmt.Sprintf(keyWritePrincipal, principalID.String()), l.rate, l.burst)
}

// NewLimiter returns a Redis token bucket limiter when rate limiting is
// enabled and a no-op limiter otherwise.
func NewLimiter(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) (Limiter, error) {
	if !cfg.RateLimitEnabled {
		return Unlimited(), nil
	}
	if cfg.RedisAddr == "" {
		return nil, errors.New("rate limit requires REDIS_ADDR")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})

	limiter, err := NewWriteLimiter(NewTokenBucket(client), cfg.RateLimitWriteRate, cfg.RateLimitWriteBurst)
	if err != nil {
		return nil, err
	}
	log.Info("write rate limit enabled",
		zap.Float64("rate", cfg.RateLimitWriteRate),
		zap.Int("burst", cfg.RateLimitWriteBurst),
	)
	return limiter, nil
}
