// Package ledgerop wraps balance-affecting operations with the shared timeout,
// conflict retry, tracing and metrics policy.
package ledgerop

import (
	"context"
	"time"

	"github.com/smallbiznis/opsledger/internal/config"
	"github.com/smallbiznis/opsledger/internal/ledgererr"
	obsmetrics "github.com/smallbiznis/opsledger/internal/observability/metrics"
	"github.com/smallbiznis/opsledger/internal/observability/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

type Runner struct {
	tracer   string
	log      *zap.Logger
	settings config.LedgerSettings
	metrics  *obsmetrics.Metrics
}

func NewRunner(tracer string, log *zap.Logger, settings config.LedgerSettings, metrics *obsmetrics.Metrics) *Runner {
	if settings == nil {
		settings = config.StaticLedgerSettings(config.DefaultLedgerConfig())
	}
	return &Runner{
		tracer:   tracer,
		log:      log,
		settings: settings,
		metrics:  metrics,
	}
}

// Do runs fn under the persistence timeout, retrying it on optimistic conflicts.
// fn must re-read every row it depends on. Storage errors come back normalized.
func (r *Runner) Do(ctx context.Context, operation string, fn func(ctx context.Context) error, attrs ...attribute.KeyValue) error {
	return r.do(ctx, operation, true, fn, attrs...)
}

// Once runs fn a single time under the same policy. Used where a retry would
// repeat a side effect that already committed.
func (r *Runner) Once(ctx context.Context, operation string, fn func(ctx context.Context) error, attrs ...attribute.KeyValue) error {
	return r.do(ctx, operation, false, fn, attrs...)
}

func (r *Runner) do(ctx context.Context, operation string, retry bool, fn func(ctx context.Context) error, attrs ...attribute.KeyValue) error {
	cfg := r.settings.Get()

	attrs = append(attrs, attribute.String("ledger.operation", operation))
	ctx, span := tracing.Start(ctx, r.tracer, operation, attrs...)

	ctx, cancel := context.WithTimeout(ctx, cfg.PersistenceTimeout)
	defer cancel()

	attempts := 1
	if retry {
		attempts = cfg.RetryAttempts
	}

	start := time.Now()
	err := ledgererr.RetryOnConflict(ctx, attempts, func(attempt int, err error) {
		r.metrics.RecordConflictRetry(ctx, operation)
		r.log.Debug("retrying after concurrent modification",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}, func(ctx context.Context) error {
		return ledgererr.FromPersistence(fn(ctx))
	})

	outcome := "ok"
	if err != nil {
		outcome = string(ledgererr.KindOf(err))
	}
	r.metrics.RecordLedgerOperation(ctx, operation, outcome)
	tracing.End(span, err)

	if err != nil && !ledgererr.IsBusinessRule(err) {
		r.log.Warn("ledger operation failed",
			zap.String("operation", operation),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
	}
	return err
}

// Settings exposes the current ledger settings.
func (r *Runner) Settings() config.LedgerConfig {
	return r.settings.Get()
}
