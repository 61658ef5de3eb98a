package rollup

import (
	"context"

	"github.com/smallbiznis/opsledger/internal/authorization"
	"github.com/smallbiznis/opsledger/internal/clock"
	"github.com/smallbiznis/opsledger/internal/config"
	expensedomain "github.com/smallbiznis/opsledger/internal/expense/domain"
	"github.com/smallbiznis/opsledger/internal/ledgerop"
	"github.com/smallbiznis/opsledger/internal/money"
	obsmetrics "github.com/smallbiznis/opsledger/internal/observability/metrics"
	orderdomain "github.com/smallbiznis/opsledger/internal/order/domain"
	"github.com/smallbiznis/opsledger/internal/period"
	"github.com/smallbiznis/opsledger/internal/principal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const trendDays = 7

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	OrderRepo   orderdomain.Repository
	ExpenseRepo expensedomain.Repository
	Authz       authorization.Service
	Settings    config.LedgerSettings
	Clock       clock.Clock         `optional:"true"`
	ObsMetrics  *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	orderRepo   orderdomain.Repository
	expenseRepo expensedomain.Repository
	authz       authorization.Service
	clock       clock.Clock
	runner      *ledgerop.Runner
}

// Dashboard is the profit picture for one reporting period.
type Dashboard struct {
	Period            period.Range      `json:"period"`
	Currency          string            `json:"currency"`
	TaxRate           string            `json:"tax_rate"`
	Summary           Summary           `json:"summary"`
	ShippingByCompany []CompanyShipping `json:"shipping_by_company"`
	DailyNetProfit    []DailyProfit     `json:"daily_net_profit"`
	Orders            []OrderBreakdown  `json:"orders"`
}

func NewService(p Params) *Service {
	log := p.Log.Named("rollup.service")
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Service{
		db:          p.DB,
		log:         log,
		orderRepo:   p.OrderRepo,
		expenseRepo: p.ExpenseRepo,
		authz:       p.Authz,
		clock:       clk,
		runner:      ledgerop.NewRunner("opsledger/rollup", log, p.Settings, p.ObsMetrics),
	}
}

func (s *Service) Dashboard(ctx context.Context, actor principal.Principal, req period.Request) (Dashboard, error) {
	at := s.clock.Now()
	window, err := period.Resolve(req, at)
	if err != nil {
		return Dashboard{}, err
	}
	if err := s.authz.Authorize(ctx, actor, authorization.ObjectDashboard, authorization.ActionDashboardView); err != nil {
		return Dashboard{}, err
	}

	var (
		orders  []orderdomain.Order
		methods []orderdomain.PaymentMethod
		other   money.Money
	)
	err = s.runner.Do(ctx, "rollup.dashboard", func(ctx context.Context) error {
		var err error
		if orders, err = s.orderRepo.ListOrders(ctx, s.db, window.Start, window.End); err != nil {
			return err
		}
		if methods, err = s.orderRepo.ListPaymentMethods(ctx, s.db); err != nil {
			return err
		}
		other, err = s.expenseRepo.SumApproved(ctx, s.db, window.Start, window.End)
		return err
	})
	if err != nil {
		return Dashboard{}, err
	}

	cfg := s.runner.Settings()
	taxRate := cfg.Tax()
	index := ActiveMethods(methods)

	breakdowns := make([]OrderBreakdown, 0, len(orders))
	for _, order := range orders {
		if Counted(order) {
			breakdowns = append(breakdowns, ComputeOrder(order, index, taxRate))
		}
	}

	dashboard := Dashboard{
		Period:            window,
		Currency:          cfg.Currency,
		TaxRate:           taxRate.String(),
		Summary:           Summarize(orders, index, taxRate, other),
		ShippingByCompany: ShippingByCompany(orders, taxRate),
		DailyNetProfit:    DailyNetProfit(orders, index, taxRate, at, trendDays),
		Orders:            breakdowns,
	}
	s.log.Debug("dashboard computed",
		zap.String("period", string(window.Kind)),
		zap.Int("orders", len(orders)),
		zap.String("net_profit", dashboard.Summary.NetProfit.String()),
	)
	return dashboard, nil
}
