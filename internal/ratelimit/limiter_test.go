package ratelimit

import (
	"context"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnlimitedAlwaysAllows(t *testing.T) {
	res, err := Unlimited().AllowWrite(context.Background(), 42)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestNewWriteLimiterValidates(t *testing.T) {
	_, err := NewWriteLimiter(nil, 1, 1)
	assert.Error(t, err)

	bucket := NewTokenBucket(redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"}))
	_, err = NewWriteLimiter(bucket, 0, 5)
	assert.Error(t, err)
	_, err = NewWriteLimiter(bucket, 2, 0)
	assert.Error(t, err)

	l, err := NewWriteLimiter(bucket, 2, 5)
	require.NoError(t, err)
	assert.Equal(t, 5, l.burst)
}

func TestTokenBucketRejectsBadInput(t *testing.T) {
	var nilBucket *TokenBucket
	_, err := nilBucket.Allow(context.Background(), "k", 1, 1)
	assert.Error(t, err)

	bucket := NewTokenBucket(redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"}))
	_, err = bucket.Allow(context.Background(), "", 1, 1)
	assert.Error(t, err)
	_, err = bucket.Allow(context.Background(), "k", -1, 1)
	assert.Error(t, err)
}

func TestBucketTTL(t *testing.T) {
	assert.Equal(t, 20*time.Second, bucketTTL(2, 20))
	assert.Equal(t, 2*time.Second, bucketTTL(100, 1))
}

func TestScriptResultParsing(t *testing.T) {
	assert.Equal(t, int64(1), toInt64(int64(1)))
	assert.Equal(t, int64(0), toInt64("x"))
	assert.InDelta(t, 3.5, toFloat64("3.5"), 0.0001)
	assert.InDelta(t, 2.0, toFloat64(int64(2)), 0.0001)
}
