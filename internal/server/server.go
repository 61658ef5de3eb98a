package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	auditdomain "github.com/smallbiznis/opsledger/internal/audit/domain"
	"github.com/smallbiznis/opsledger/internal/authorization"
	"github.com/smallbiznis/opsledger/internal/config"
	custodydomain "github.com/smallbiznis/opsledger/internal/custody/domain"
	expensedomain "github.com/smallbiznis/opsledger/internal/expense/domain"
	ledgerdomain "github.com/smallbiznis/opsledger/internal/ledger/domain"
	"github.com/smallbiznis/opsledger/internal/observability"
	obsmiddleware "github.com/smallbiznis/opsledger/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/opsledger/internal/observability/metrics"
	obstracing "github.com/smallbiznis/opsledger/internal/observability/tracing"
	orderdomain "github.com/smallbiznis/opsledger/internal/order/domain"
	payabledomain "github.com/smallbiznis/opsledger/internal/payable/domain"
	"github.com/smallbiznis/opsledger/internal/ratelimit"
	"github.com/smallbiznis/opsledger/internal/rollup"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	ratelimit.Module,
	fx.Provide(registerGin),
	fx.Provide(NewServer),
	fx.Invoke(RunHTTP),
)

func NewEngine(debug bool, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           debug,
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
	return NewEngine(obsCfg.Debug(), httpMetrics)
}

func RunHTTP(lc fx.Lifecycle, cfg config.Config, s *Server) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					s.log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			s.log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine     *gin.Engine
	cfg        config.Config
	log        *zap.Logger
	verifier   *TokenVerifier
	authzSvc   authorization.Service
	auditSvc   auditdomain.Service
	ledgerSvc  ledgerdomain.Service
	custodySvc custodydomain.Service
	expenseSvc expensedomain.Service
	payableSvc payabledomain.Service
	orderSvc   orderdomain.Service
	rollupSvc  *rollup.Service
	limiter    ratelimit.Limiter
}

type ServerParams struct {
	fx.In

	Gin        *gin.Engine
	Cfg        config.Config
	Log        *zap.Logger
	AuthzSvc   authorization.Service
	AuditSvc   auditdomain.Service
	LedgerSvc  ledgerdomain.Service
	CustodySvc custodydomain.Service
	ExpenseSvc expensedomain.Service
	PayableSvc payabledomain.Service
	OrderSvc   orderdomain.Service
	RollupSvc  *rollup.Service
	Limiter    ratelimit.Limiter `optional:"true"`
}

func NewServer(p ServerParams) (*Server, error) {
	verifier, err := NewTokenVerifier(p.Cfg.AuthJWTSecret, p.Cfg.AuthJWTIssuer)
	if err != nil {
		return nil, err
	}
	svc := &Server{
		engine:     p.Gin,
		cfg:        p.Cfg,
		log:        p.Log.Named("http.server"),
		verifier:   verifier,
		authzSvc:   p.AuthzSvc,
		auditSvc:   p.AuditSvc,
		ledgerSvc:  p.LedgerSvc,
		custodySvc: p.CustodySvc,
		expenseSvc: p.ExpenseSvc,
		payableSvc: p.PayableSvc,
		orderSvc:   p.OrderSvc,
		rollupSvc:  p.RollupSvc,
		limiter:    p.Limiter,
	}
	if svc.limiter == nil {
		svc.limiter = ratelimit.Unlimited()
	}

	svc.registerAPIRoutes()
	svc.registerFallback()

	return svc, nil
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api/v1", s.PrincipalRequired(), s.WriteRateLimit())

	// -------- Accounts --------
	api.POST("/accounts", s.CreateAccount)
	api.GET("/accounts", s.ListAccounts)
	api.GET("/accounts/:id", s.GetAccount)
	api.GET("/accounts/:id/balance", s.GetBalance)
	api.GET("/accounts/:id/summary", s.GetAccountSummary)
	api.POST("/accounts/:id/reconcile", s.ReconcileAccount)
	api.GET("/accounts/:id/custody", s.CustodySummary)
	api.POST("/reconcile", s.ReconcileAll)

	// -------- Balance transactions --------
	api.GET("/transactions", s.ListTransactions)
	api.GET("/transactions/:id", s.GetTransaction)
	api.POST("/transactions/credit", s.RecordCredit)
	api.POST("/transactions/debit", s.RecordDebit)
	api.POST("/transactions/:id/confirm", s.ConfirmTransaction)
	api.POST("/transactions/:id/reject", s.RejectTransaction)
	api.DELETE("/transactions/:id", s.DeleteTransaction)

	// -------- Custody --------
	api.POST("/custody/issue", s.IssueCustody)
	api.POST("/custody/:id/acknowledge", s.AcknowledgeCustody)
	api.POST("/custody/:id/decline", s.DeclineCustody)
	api.POST("/custody/spend", s.SpendFromCustody)

	// -------- Expenses --------
	api.POST("/expenses", s.SubmitExpense)
	api.GET("/expenses", s.ListExpenses)
	api.GET("/expenses/totals", s.ExpenseTotals)
	api.GET("/expenses/:id", s.GetExpense)
	api.POST("/expenses/:id/approve", s.ApproveExpense)
	api.POST("/expenses/:id/reject", s.RejectExpense)
	api.DELETE("/expenses/:id", s.DeleteExpense)

	// -------- Payables --------
	api.POST("/payables", s.OpenPayable)
	api.GET("/payables", s.ListPayables)
	api.GET("/payables/suppliers", s.SupplierTotals)
	api.POST("/payables/orders/:id", s.OpenPayablesForOrder)
	api.GET("/payables/:id", s.GetPayable)
	api.GET("/payables/:id/payments", s.ListPayablePayments)
	api.POST("/payables/:id/payments", s.PayPayable)
	api.DELETE("/payables/:id", s.DeletePayable)

	// -------- Orders --------
	api.GET("/orders/:id", s.GetOrder)
	api.POST("/orders/:id/lock", s.LockOrder)
	api.POST("/orders/:id/cancel", s.CancelOrder)

	// -------- Dashboard --------
	api.GET("/dashboard", s.Dashboard)

	// -------- Audit --------
	api.GET("/audit-logs", s.ListAuditLogs)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
