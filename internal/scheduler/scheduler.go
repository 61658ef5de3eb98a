package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/robfig/cron/v3"
	"github.com/smallbiznis/opsledger/internal/clock"
	ledgerdomain "github.com/smallbiznis/opsledger/internal/ledger/domain"
	"github.com/smallbiznis/opsledger/internal/lock"
	obsmetrics "github.com/smallbiznis/opsledger/internal/observability/metrics"
	"github.com/smallbiznis/opsledger/internal/principal"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const JobReconcileBalances = "reconcile_balances"

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type Params struct {
	fx.In

	Log       *zap.Logger
	GenID     *snowflake.Node
	LedgerSvc ledgerdomain.Service
	Clock     clock.Clock `optional:"true"`
	Locker    lock.Locker `optional:"true"`
	Config    Config      `optional:"true"`
}

type Scheduler struct {
	log       *zap.Logger
	cfg       Config
	genID     *snowflake.Node
	clock     clock.Clock
	ledgerSvc ledgerdomain.Service
	locker    lock.Locker
	cron      *cron.Cron
}

type job struct {
	name     string
	schedule string
	run      func(ctx context.Context) error
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.GenID == nil || p.LedgerSvc == nil {
		return nil, ErrInvalidConfig
	}
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	log := p.Log.Named("scheduler").With(zap.String("component", "scheduler"))
	cl := cronLogger{log: log.Sugar()}
	return &Scheduler{
		log:       log,
		cfg:       p.Config.withDefaults(),
		genID:     p.GenID,
		clock:     clk,
		ledgerSvc: p.LedgerSvc,
		locker:    p.Locker,
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
	}, nil
}

func (s *Scheduler) jobs() []job {
	return []job{
		{name: JobReconcileBalances, schedule: s.cfg.ReconcileSchedule, run: s.ReconcileBalancesJob},
	}
}

// Start registers every enabled job with cron and starts it.
func (s *Scheduler) Start() error {
	for _, j := range s.jobs() {
		if !s.isJobEnabled(j.name) {
			continue
		}
		if _, err := s.cron.AddFunc(j.schedule, func() {
			if err := s.runJob(context.Background(), j.name, s.cfg.JobTimeout, j.run); err != nil {
				s.log.Warn("scheduler job failed", zap.String("job", j.name), zap.Error(err))
			}
		}); err != nil {
			return fmt.Errorf("schedule %s (%q): %w", j.name, j.schedule, err)
		}
		s.log.Info("scheduled job", zap.String("job", j.name), zap.String("schedule", j.schedule))
	}
	s.cron.Start()
	return nil
}

// Stop waits for running jobs to finish or ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce runs every enabled job immediately, in order.
func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error
	for _, j := range s.jobs() {
		if s.isJobEnabled(j.name) {
			err = errors.Join(err, s.runJob(parent, j.name, s.cfg.JobTimeout, j.run))
		}
	}
	return err
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx = principal.WithPrincipal(ctx, principal.System())
	ctx, run, owner := s.ensureJobRun(ctx, name)
	log := s.logger(ctx).With(
		zap.String("job", name),
		zap.String("run_id", run.runID),
	)

	release, acquired, err := s.lease(ctx, name)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	if !acquired {
		log.Debug("job already running elsewhere, skipping")
		return nil
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			log.Warn("failed to release job lock", zap.Error(err))
		}
	}()

	if owner {
		s.logJobStart(ctx, run)
	}
	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.IncJobRun(name)

	err = fn(ctx)
	schedMetrics.ObserveJobDuration(name, s.clock.Now().Sub(start))
	if owner {
		if err != nil && run.errorCount == 0 {
			run.IncError()
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		return nil
	}

	// deadline is a soft timeout; the next tick picks the work up again
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		schedMetrics.IncJobTimeout(name)
	}
	schedMetrics.IncJobError(name, err)
	if isTimeout {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

// lease takes the job's lock when a Locker is configured. acquired is false
// when another holder kept it for longer than LockWait.
func (s *Scheduler) lease(ctx context.Context, name string) (lock.Release, bool, error) {
	if s.locker == nil {
		return func(context.Context) error { return nil }, true, nil
	}
	waitCtx, cancel := context.WithTimeout(ctx, s.cfg.LockWait)
	defer cancel()
	release, err := s.locker.Acquire(waitCtx, lock.JobKey(name), s.cfg.LockTTL)
	if err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return release, true, nil
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	// empty means every job runs in this process
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}
