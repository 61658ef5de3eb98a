package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/smallbiznis/opsledger/internal/authorization"
	"github.com/smallbiznis/opsledger/internal/clock"
	"github.com/smallbiznis/opsledger/internal/config"
	ledgerdomain "github.com/smallbiznis/opsledger/internal/ledger/domain"
	ledgerrepository "github.com/smallbiznis/opsledger/internal/ledger/repository"
	ledgerservice "github.com/smallbiznis/opsledger/internal/ledger/service"
	"github.com/smallbiznis/opsledger/internal/lock"
	"github.com/smallbiznis/opsledger/internal/money"
	obsmetrics "github.com/smallbiznis/opsledger/internal/observability/metrics"
	"github.com/smallbiznis/opsledger/internal/principal"
	"github.com/smallbiznis/opsledger/pkg/db"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func TestRunJobTimeoutDoesNotReturnErrorAndIncrementsTimeout(t *testing.T) {
	registry := prometheus.NewRegistry()
	restore := swapPrometheusRegistry(registry)
	defer restore()

	obsmetrics.ResetSchedulerMetricsForTest()
	obsmetrics.SchedulerWithConfig(obsmetrics.Config{
		ServiceName: "opsledger",
		Environment: "test",
	})

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}

	s := &Scheduler{log: zap.NewNop(), genID: node, clock: clock.NewFakeClock(time.Time{})}
	err = s.runJob(context.Background(), "timeout_job", 5*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	labels := map[string]string{
		"service": "opsledger",
		"env":     "test",
		"job":     "timeout_job",
	}
	if got := getCounterValue(t, registry, "opsledger_scheduler_job_timeouts_total", labels); got != 1 {
		t.Fatalf("expected timeout count 1, got %v", got)
	}

	errorLabels := map[string]string{
		"service": "opsledger",
		"env":     "test",
		"job":     "timeout_job",
		"reason":  obsmetrics.SchedulerJobReasonDeadlineExceeded,
	}
	if got := getCounterValue(t, registry, "opsledger_scheduler_job_errors_total", errorLabels); got != 1 {
		t.Fatalf("expected error count 1, got %v", got)
	}
}

func newReconcileScheduler(t *testing.T, cfg Config, locker lock.Locker) (*Scheduler, *ledgerservice.Service, *gorm.DB) {
	t.Helper()
	conn, err := db.NewTest()
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := conn.AutoMigrate(&ledgerdomain.Account{}, &ledgerdomain.BalanceTransaction{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	node, err := snowflake.NewNode(2)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	enforcer, err := authorization.NewMemoryEnforcer()
	if err != nil {
		t.Fatalf("enforcer: %v", err)
	}
	clk := clock.NewFakeClock(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))
	ledger := ledgerservice.NewService(ledgerservice.Params{
		DB:       conn,
		Log:      zap.NewNop(),
		GenID:    node,
		Repo:     ledgerrepository.Provide(),
		Authz:    authorization.NewService(authorization.Params{Log: zap.NewNop(), Enforcer: enforcer}),
		Settings: config.StaticLedgerSettings(config.DefaultLedgerConfig()),
		Clock:    clk,
	})

	admin := principal.Principal{ID: 1, Role: principal.RoleAdministrator, DisplayName: "Admin"}
	ctx := context.Background()
	for _, p := range []principal.Principal{admin, {ID: 2, Role: principal.RoleStaff, DisplayName: "Staff"}} {
		if _, err := ledger.CreateAccount(ctx, admin, ledgerdomain.CreateAccountRequest{ID: p.ID, DisplayName: p.DisplayName, Role: p.Role}); err != nil {
			t.Fatalf("create account: %v", err)
		}
	}
	credit, err := ledger.RecordCredit(ctx, admin, ledgerdomain.RecordRequest{AccountID: 2, Amount: money.MustParse("40"), Reason: "float"})
	if err != nil {
		t.Fatalf("credit: %v", err)
	}
	if _, err := ledger.Confirm(ctx, admin, credit.ID); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	s, err := New(Params{Log: zap.NewNop(), GenID: node, LedgerSvc: ledger, Clock: clk, Locker: locker, Config: cfg})
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	return s, ledger, conn
}

func TestReconcileBalancesJobCorrectsDrift(t *testing.T) {
	registry := prometheus.NewRegistry()
	restore := swapPrometheusRegistry(registry)
	defer restore()
	obsmetrics.ResetSchedulerMetricsForTest()
	obsmetrics.SchedulerWithConfig(obsmetrics.Config{ServiceName: "opsledger", Environment: "test"})

	s, ledger, conn := newReconcileScheduler(t, Config{}, lock.NewLocalLocker())
	if err := conn.Exec(`UPDATE accounts SET current_balance = ? WHERE id = ?`, int64(123), 2).Error; err != nil {
		t.Fatalf("corrupt balance: %v", err)
	}

	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}

	balance, err := ledger.CurrentBalance(context.Background(), principal.System(), 2)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.String() != "40.00" {
		t.Fatalf("expected 40.00 after reconcile, got %s", balance)
	}

	labels := map[string]string{"service": "opsledger", "env": "test", "job": JobReconcileBalances}
	if got := getCounterValue(t, registry, "opsledger_scheduler_balance_drift_total", labels); got != 1 {
		t.Fatalf("expected drift count 1, got %v", got)
	}
	processed := map[string]string{"service": "opsledger", "env": "test", "job": JobReconcileBalances, "resource": "account"}
	if got := getCounterValue(t, registry, "opsledger_scheduler_batch_processed_total", processed); got != 2 {
		t.Fatalf("expected 2 accounts processed, got %v", got)
	}
}

func TestRunOnceSkipsDisabledAndLockedJobs(t *testing.T) {
	registry := prometheus.NewRegistry()
	restore := swapPrometheusRegistry(registry)
	defer restore()
	obsmetrics.ResetSchedulerMetricsForTest()

	disabled, _, conn := newReconcileScheduler(t, Config{EnabledJobs: []string{"something_else"}}, nil)
	if err := conn.Exec(`UPDATE accounts SET current_balance = ? WHERE id = ?`, int64(1), 2).Error; err != nil {
		t.Fatalf("corrupt balance: %v", err)
	}
	if err := disabled.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	var cents int64
	conn.Raw(`SELECT current_balance FROM accounts WHERE id = ?`, 2).Scan(&cents)
	if cents != 1 {
		t.Fatalf("disabled job should not touch balances, got %d", cents)
	}

	locker := lock.NewLocalLocker()
	held, err := locker.Acquire(context.Background(), lock.JobKey(JobReconcileBalances), time.Minute)
	if err != nil {
		t.Fatalf("hold lock: %v", err)
	}
	defer held(context.Background())

	busy, _, conn := newReconcileScheduler(t, Config{LockWait: 10 * time.Millisecond}, locker)
	if err := conn.Exec(`UPDATE accounts SET current_balance = ? WHERE id = ?`, int64(1), 2).Error; err != nil {
		t.Fatalf("corrupt balance: %v", err)
	}
	if err := busy.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	conn.Raw(`SELECT current_balance FROM accounts WHERE id = ?`, 2).Scan(&cents)
	if cents != 1 {
		t.Fatalf("locked job should be skipped, got %d", cents)
	}
}

func TestStartRejectsBadSchedule(t *testing.T) {
	obsmetrics.ResetSchedulerMetricsForTest()
	s, _, _ := newReconcileScheduler(t, Config{ReconcileSchedule: "every now and then"}, nil)
	if err := s.Start(); err == nil {
		t.Fatal("expected schedule error")
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func swapPrometheusRegistry(registry *prometheus.Registry) func() {
	oldRegisterer := prometheus.DefaultRegisterer
	oldGatherer := prometheus.DefaultGatherer
	prometheus.DefaultRegisterer = registry
	prometheus.DefaultGatherer = registry
	return func() {
		prometheus.DefaultRegisterer = oldRegisterer
		prometheus.DefaultGatherer = oldGatherer
		obsmetrics.ResetSchedulerMetricsForTest()
	}
}

func getCounterValue(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	metricFamilies, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metricFamilies {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.Metric {
			if !labelsMatch(metric, labels) {
				continue
			}
			if metric.Counter == nil {
				t.Fatalf("metric %s is not a counter", name)
			}
			return metric.GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func labelsMatch(metric *dto.Metric, labels map[string]string) bool {
	if len(metric.Label) != len(labels) {
		return false
	}
	for _, label := range metric.Label {
		if labels[label.GetName()] != label.GetValue() {
			return false
		}
	}
	return true
}
