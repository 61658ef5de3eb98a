package scheduler

import (
	"time"

	"github.com/smallbiznis/opsledger/internal/config"
)

// Config controls job schedules and limits.
type Config struct {
	// ReconcileSchedule is a cron spec, descriptors such as "@every 15m" included.
	ReconcileSchedule string
	JobTimeout        time.Duration
	// LockWait bounds how long a run waits for another process's lease before skipping.
	LockWait    time.Duration
	LockTTL     time.Duration
	EnabledJobs []string
}

func DefaultConfig() Config {
	return Config{
		ReconcileSchedule: config.DefaultLedgerConfig().ReconcileSchedule,
		JobTimeout:        5 * time.Minute,
		LockWait:          time.Second,
		LockTTL:           10 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.ReconcileSchedule == "" {
		c.ReconcileSchedule = defaults.ReconcileSchedule
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.LockWait <= 0 {
		c.LockWait = defaults.LockWait
	}
	if c.LockTTL <= 0 {
		c.LockTTL = defaults.LockTTL
	}
	return c
}

func ProvideConfig(cfg config.Config, settings config.LedgerSettings) Config {
	return Config{
		ReconcileSchedule: settings.Get().ReconcileSchedule,
		LockTTL:           cfg.LockTTL,
		EnabledJobs:       cfg.Services,
	}.withDefaults()
}
