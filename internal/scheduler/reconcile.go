package scheduler

import (
	"context"

	obsmetrics "github.com/smallbiznis/opsledger/internal/observability/metrics"
	"github.com/smallbiznis/opsledger/internal/principal"
	"go.uber.org/zap"
)

// ReconcileBalancesJob replays every account's confirmed history and
// overwrites cached balances that drifted.
func (s *Scheduler) ReconcileBalancesJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobReconcileBalances)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}
	schedMetrics := obsmetrics.Scheduler()

	results, err := s.ledgerSvc.ReconcileAll(ctx, principal.System())
	run.AddProcessed(len(results))
	schedMetrics.AddBatchProcessed(JobReconcileBalances, "account", len(results))

	for _, result := range results {
		if !result.Corrected {
			continue
		}
		schedMetrics.IncDriftDetected(JobReconcileBalances)
		s.logger(ctx).Warn("scheduler.balance.drift_corrected",
			zap.String("account_id", result.AccountID.String()),
			zap.String("cached", result.Cached.String()),
			zap.String("replayed", result.Replayed.String()),
		)
	}
	if err != nil {
		s.logSchedulerError(ctx, run, "scheduler.reconcile.failed", JobReconcileBalances, err)
		return err
	}
	return nil
}
