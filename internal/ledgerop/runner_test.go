package ledgerop

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/smallbiznis/opsledger/internal/config"
	"github.com/smallbiznis/opsledger/internal/ledgererr"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func newRunner(attempts int, timeout time.Duration) *Runner {
	cfg := config.DefaultLedgerConfig()
	cfg.RetryAttempts = attempts
	cfg.PersistenceTimeout = timeout
	return NewRunner("test", zap.NewNop(), config.StaticLedgerSettings(cfg), nil)
}

func TestDoRetriesConflicts(t *testing.T) {
	r := newRunner(3, time.Second)
	calls := 0
	err := r.Do(context.Background(), "pay", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return ledgererr.ErrConcurrentModification
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoSurfacesConflictAfterRetries(t *testing.T) {
	r := newRunner(2, time.Second)
	calls := 0
	err := r.Do(context.Background(), "pay", func(ctx context.Context) error {
		calls++
		return ledgererr.ErrConcurrentModification
	})
	assert.ErrorIs(t, err, ledgererr.ErrConcurrentModification)
	assert.Equal(t, 2, calls)
}

func TestOnceNeverRetries(t *testing.T) {
	r := newRunner(3, time.Second)
	calls := 0
	err := r.Once(context.Background(), "pay", func(ctx context.Context) error {
		calls++
		return ledgererr.ErrConcurrentModification
	})
	assert.ErrorIs(t, err, ledgererr.ErrConcurrentModification)
	assert.Equal(t, 1, calls)
}

func TestDoDoesNotRetryBusinessRules(t *testing.T) {
	r := newRunner(3, time.Second)
	calls := 0
	err := r.Do(context.Background(), "debit", func(ctx context.Context) error {
		calls++
		return ledgererr.ErrInsufficientBalance
	})
	assert.ErrorIs(t, err, ledgererr.ErrInsufficientBalance)
	assert.Equal(t, 1, calls)
}

func TestDoTimesOut(t *testing.T) {
	r := newRunner(1, 10*time.Millisecond)
	err := r.Do(context.Background(), "confirm", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, ledgererr.ErrPersistenceFailure)
}

func TestDoNormalizesStorageErrors(t *testing.T) {
	r := newRunner(1, time.Second)
	err := r.Do(context.Background(), "credit", func(ctx context.Context) error {
		return errors.New("connection refused")
	})
	assert.ErrorIs(t, err, ledgererr.ErrPersistenceFailure)
}
