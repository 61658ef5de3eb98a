package config

import (
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	AtomicityTransaction = "transaction"
	AtomicitySaga        = "saga"
)

// LedgerConfig holds business settings that can change without a restart.
type LedgerConfig struct {
	Currency            string        `mapstructure:"currency"`
	TaxRate             string        `mapstructure:"taxRate"`
	RetryAttempts       int           `mapstructure:"retryAttempts"`
	PersistenceTimeout  time.Duration `mapstructure:"persistenceTimeout"`
	AllowAdminOverdraft bool          `mapstructure:"allowAdminOverdraft"`
	ReconcileSchedule   string        `mapstructure:"reconcileSchedule"`
	Atomicity           string        `mapstructure:"atomicity"`
	PayableDueDays      int           `mapstructure:"payableDueDays"`
}

func DefaultLedgerConfig() LedgerConfig {
	return LedgerConfig{
		Currency:            "SAR",
		TaxRate:             "0.15",
		RetryAttempts:       3,
		PersistenceTimeout:  5 * time.Second,
		AllowAdminOverdraft: true,
		ReconcileSchedule:   "@every 15m",
		Atomicity:           AtomicityTransaction,
		PayableDueDays:      30,
	}
}

// Tax returns the configured tax rate, falling back to the default on bad input.
func (c LedgerConfig) Tax() decimal.Decimal {
	rate, err := decimal.NewFromString(strings.TrimSpace(c.TaxRate))
	if err != nil {
		return decimal.RequireFromString(DefaultLedgerConfig().TaxRate)
	}
	return rate
}

// WithDefaults fills zero values.
func (c LedgerConfig) WithDefaults() LedgerConfig {
	defaults := DefaultLedgerConfig()
	if strings.TrimSpace(c.Currency) == "" {
		c.Currency = defaults.Currency
	}
	if strings.TrimSpace(c.TaxRate) == "" {
		c.TaxRate = defaults.TaxRate
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = defaults.RetryAttempts
	}
	if c.PersistenceTimeout <= 0 {
		c.PersistenceTimeout = defaults.PersistenceTimeout
	}
	if strings.TrimSpace(c.ReconcileSchedule) == "" {
		c.ReconcileSchedule = defaults.ReconcileSchedule
	}
	if c.Atomicity == "" {
		c.Atomicity = defaults.Atomicity
	}
	if c.PayableDueDays <= 0 {
		c.PayableDueDays = defaults.PayableDueDays
	}
	return c
}

// LedgerSettings is satisfied by anything that can hand out the current LedgerConfig.
type LedgerSettings interface {
	Get() LedgerConfig
}

// StaticLedgerSettings never changes.
type StaticLedgerSettings LedgerConfig

func (s StaticLedgerSettings) Get() LedgerConfig {
	return LedgerConfig(s).WithDefaults()
}

type LedgerConfigHolder struct {
	current atomic.Value // holds LedgerConfig
}

func NewLedgerConfigHolder(log *zap.Logger) (*LedgerConfigHolder, error) {
	log = log.Named("ledger.config")
	v := viper.New()

	v.SetConfigName("ledger")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/opsledger")
	v.AddConfigPath(".")

	v.SetEnvPrefix("OPSLEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultLedgerConfig()
	v.SetDefault("ledger.currency", defaults.Currency)
	v.SetDefault("ledger.taxRate", defaults.TaxRate)
	v.SetDefault("ledger.retryAttempts", defaults.RetryAttempts)
	v.SetDefault("ledger.persistenceTimeout", defaults.PersistenceTimeout)
	v.SetDefault("ledger.allowAdminOverdraft", defaults.AllowAdminOverdraft)
	v.SetDefault("ledger.reconcileSchedule", defaults.ReconcileSchedule)
	v.SetDefault("ledger.atomicity", defaults.Atomicity)
	v.SetDefault("ledger.payableDueDays", defaults.PayableDueDays)

	fromFile := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		fromFile = false
	}

	var cfg LedgerConfig
	if err := v.UnmarshalKey("ledger", &cfg); err != nil {
		return nil, err
	}
	cfg = cfg.WithDefaults()
	if err := validateLedgerConfig(cfg); err != nil {
		return nil, err
	}

	holder := &LedgerConfigHolder{}
	holder.current.Store(cfg)

	if fromFile {
		v.WatchConfig()
		v.OnConfigChange(func(e fsnotify.Event) {
			var updated LedgerConfig
			if err := v.UnmarshalKey("ledger", &updated); err != nil {
				log.Warn("ledger config reload failed", zap.Error(err))
				return
			}
			updated = updated.WithDefaults()
			if err := validateLedgerConfig(updated); err != nil {
				log.Warn("invalid ledger config ignored", zap.Error(err))
				return
			}
			holder.current.Store(updated)
			log.Info("ledger config reloaded", zap.String("file", e.Name))
		})
	}

	return holder, nil
}

func (h *LedgerConfigHolder) Get() LedgerConfig {
	return h.current.Load().(LedgerConfig)
}

func validateLedgerConfig(cfg LedgerConfig) error {
	rate, err := decimal.NewFromString(strings.TrimSpace(cfg.TaxRate))
	if err != nil {
		return errors.New("ledger.taxRate must be a decimal")
	}
	if rate.IsNegative() {
		return errors.New("ledger.taxRate cannot be negative")
	}
	if cfg.RetryAttempts > 10 {
		return errors.New("ledger.retryAttempts must be at most 10")
	}
	switch cfg.Atomicity {
	case AtomicityTransaction, AtomicitySaga:
	default:
		return errors.New("ledger.atomicity must be transaction or saga")
	}
	return nil
}
