package metrics

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/smallbiznis/opsledger/internal/ledgererr"
	"gorm.io/gorm"
)

func TestClassifySchedulerJobReason(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "deadline",
			err:  context.DeadlineExceeded,
			want: SchedulerJobReasonDeadlineExceeded,
		},
		{
			name: "forbidden",
			err:  fmt.Errorf("reconcile: %w", ledgererr.ErrForbidden),
			want: SchedulerJobReasonForbidden,
		},
		{
			name: "db_lock_timeout",
			err:  &pgconn.PgError{Code: "55P03"},
			want: SchedulerJobReasonDBLockTimeout,
		},
		{
			name: "serialization_failure",
			err:  &pgconn.PgError{Code: "40001"},
			want: SchedulerJobReasonSerializationFailure,
		},
		{
			name: "unique_violation",
			err:  gorm.ErrDuplicatedKey,
			want: SchedulerJobReasonUniqueViolation,
		},
		{
			name: "conflict",
			err:  ledgererr.ErrConcurrentModification,
			want: SchedulerJobReasonConflict,
		},
		{
			name: "unknown",
			err:  errors.New("boom"),
			want: SchedulerJobReasonUnknown,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifySchedulerJobReason(tc.err); got != tc.want {
				t.Fatalf("expected reason %q, got %q", tc.want, got)
			}
		})
	}
}

func TestAddBatchProcessed(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := newSchedulerMetrics(registry, Config{
		ServiceName: "opsledger",
		Environment: "test",
	})

	metrics.AddBatchProcessed("reconcile_balances", "accounts", 3)
	metrics.IncDriftDetected("reconcile_balances")

	got := testutil.ToFloat64(metrics.batchProcessed.WithLabelValues("reconcile_balances", "accounts"))
	if got != 3 {
		t.Fatalf("expected processed count 3, got %v", got)
	}
	if drift := testutil.ToFloat64(metrics.driftDetected.WithLabelValues("reconcile_balances")); drift != 1 {
		t.Fatalf("expected drift count 1, got %v", drift)
	}
}
