package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	auditdomain "github.com/smallbiznis/opsledger/internal/audit/domain"
	"github.com/smallbiznis/opsledger/internal/authorization"
	"github.com/smallbiznis/opsledger/internal/clock"
	"github.com/smallbiznis/opsledger/internal/config"
	custodydomain "github.com/smallbiznis/opsledger/internal/custody/domain"
	"github.com/smallbiznis/opsledger/internal/events"
	expensedomain "github.com/smallbiznis/opsledger/internal/expense/domain"
	ledgerdomain "github.com/smallbiznis/opsledger/internal/ledger/domain"
	"github.com/smallbiznis/opsledger/internal/ledgererr"
	"github.com/smallbiznis/opsledger/internal/ledgerop"
	obsmetrics "github.com/smallbiznis/opsledger/internal/observability/metrics"
	"github.com/smallbiznis/opsledger/internal/principal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const recentTransactions = 10

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Ledger      ledgerdomain.Service
	Poster      ledgerdomain.Poster
	ExpenseRepo expensedomain.Repository
	Authz       authorization.Service
	Settings    config.LedgerSettings
	Clock       clock.Clock         `optional:"true"`
	AuditSvc    auditdomain.Service `optional:"true"`
	Publisher   events.Publisher    `optional:"true"`
	ObsMetrics  *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	ledger      ledgerdomain.Service
	poster      ledgerdomain.Poster
	expenseRepo expensedomain.Repository
	authz       authorization.Service
	clock       clock.Clock
	auditSvc    auditdomain.Service
	publisher   events.Publisher
	runner      *ledgerop.Runner
}

func NewService(p Params) custodydomain.Service {
	log := p.Log.Named("custody.service")
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Service{
		db:          p.DB,
		log:         log,
		genID:       p.GenID,
		ledger:      p.Ledger,
		poster:      p.Poster,
		expenseRepo: p.ExpenseRepo,
		authz:       p.Authz,
		clock:       clk,
		auditSvc:    p.AuditSvc,
		publisher:   p.Publisher,
		runner:      ledgerop.NewRunner("opsledger/custody", log, p.Settings, p.ObsMetrics),
	}
}

// Issue advances custody to an account holder. The credit waits for the holder to acknowledge it.
func (s *Service) Issue(ctx context.Context, actor principal.Principal, req custodydomain.IssueRequest) (ledgerdomain.BalanceTransaction, error) {
	if err := s.authz.Authorize(ctx, actor, authorization.ObjectCustody, authorization.ActionCustodyIssue); err != nil {
		return ledgerdomain.BalanceTransaction{}, err
	}
	return s.ledger.RecordCredit(ctx, actor, ledgerdomain.RecordRequest{
		AccountID:       req.AccountID,
		Amount:          req.Amount,
		Reason:          req.Reason,
		TransactionDate: req.Date,
	})
}

func (s *Service) Acknowledge(ctx context.Context, actor principal.Principal, txnID snowflake.ID) (ledgerdomain.BalanceTransaction, error) {
	return s.ledger.Confirm(ctx, actor, txnID)
}

func (s *Service) Decline(ctx context.Context, actor principal.Principal, txnID snowflake.ID) (ledgerdomain.BalanceTransaction, error) {
	return s.ledger.Reject(ctx, actor, txnID)
}

// SpendFromCustody writes the approved expense and its funding debit together.
func (s *Service) SpendFromCustody(ctx context.Context, actor principal.Principal, req custodydomain.SpendRequest) (custodydomain.SpendResult, error) {
	if req.AccountID == 0 {
		req.AccountID = actor.ID
	}
	req.Description = strings.TrimSpace(req.Description)
	if req.Description == "" {
		return custodydomain.SpendResult{}, custodydomain.ErrInvalidDescription
	}
	if !req.Amount.IsPositive() {
		return custodydomain.SpendResult{}, ledgererr.ErrInvalidAmount
	}
	req.Amount = req.Amount.RoundToCents()
	req.Category = slug.Make(req.Category)
	if req.Category == "" {
		req.Category = "custody"
	}
	switch req.Type {
	case "":
		req.Type = expensedomain.TypeVariable
	case expensedomain.TypeFixed, expensedomain.TypeVariable:
	default:
		return custodydomain.SpendResult{}, expensedomain.ErrInvalidType
	}
	if req.Date.IsZero() {
		req.Date = s.clock.Now()
	}
	req.Date = req.Date.UTC()

	if err := s.authz.Authorize(ctx, actor, authorization.ObjectCustody, authorization.ActionCustodySpend); err != nil {
		return custodydomain.SpendResult{}, err
	}
	if !actor.IsAdministrator() && !actor.Owns(req.AccountID) {
		return custodydomain.SpendResult{}, ledgerdomain.ErrNotOwner
	}

	var result custodydomain.SpendResult
	err := s.runner.Do(ctx, "custody.spend", func(ctx context.Context) error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			debit, err := s.poster.DebitTx(ctx, tx, actor, ledgerdomain.RecordRequest{
				AccountID:       req.AccountID,
				Amount:          req.Amount,
				Reason:          "Expense: " + req.Description,
				TransactionDate: req.Date,
			})
			if err != nil {
				return err
			}

			now := s.clock.Now()
			debitID := debit.ID
			approvedBy := actor.ID
			expense := expensedomain.Expense{
				ID:                   s.genID.Generate(),
				Description:          req.Description,
				Amount:               req.Amount,
				Category:             req.Category,
				Date:                 req.Date,
				Type:                 req.Type,
				OwnerID:              req.AccountID,
				DeductFromCustody:    true,
				BalanceTransactionID: &debitID,
				Status:               expensedomain.StatusApproved,
				ApprovedBy:           &approvedBy,
				ApprovedAt:           &now,
				CreatedBy:            actor.ID,
				CreatedAt:            now,
				UpdatedAt:            now,
			}
			if err := s.expenseRepo.Insert(ctx, tx, &expense); err != nil {
				return err
			}
			result = custodydomain.SpendResult{Expense: expense, Transaction: debit}
			return nil
		})
	}, attribute.String("ledger.account_id", req.AccountID.String()))
	if err != nil {
		return custodydomain.SpendResult{}, err
	}

	s.recordSpend(ctx, actor, result)
	return result, nil
}

func (s *Service) Summary(ctx context.Context, actor principal.Principal, accountID snowflake.ID) (custodydomain.Summary, error) {
	if err := s.authz.Authorize(ctx, actor, authorization.ObjectCustody, authorization.ActionCustodyView); err != nil {
		return custodydomain.Summary{}, err
	}
	summary, err := s.ledger.AccountSummary(ctx, actor, accountID)
	if err != nil {
		return custodydomain.Summary{}, err
	}
	req := ledgerdomain.ListTransactionRequest{AccountID: accountID}
	req.PageSize = recentTransactions
	recent, err := s.ledger.ListTransactions(ctx, actor, req)
	if err != nil {
		return custodydomain.Summary{}, err
	}
	return custodydomain.Summary{AccountSummary: summary, Recent: recent.Transactions}, nil
}

func (s *Service) recordSpend(ctx context.Context, actor principal.Principal, result custodydomain.SpendResult) {
	if s.auditSvc != nil {
		err := s.auditSvc.Record(ctx, auditdomain.Entry{
			Actor:        actor,
			Action:       "custody.spent",
			ResourceType: "expense",
			ResourceID:   result.Expense.ID.String(),
			Details: map[string]any{
				"account_id":             result.Expense.OwnerID.String(),
				"amount":                 result.Expense.Amount.String(),
				"category":               result.Expense.Category,
				"balance_transaction_id": result.Transaction.ID.String(),
			},
		})
		if err != nil {
			s.log.Warn("failed to write custody audit log", zap.Error(err))
		}
	}
	events.PublishBestEffort(ctx, s.publisher, s.log, events.New(events.TypeTransactionRecorded, "balance_transaction", result.Transaction.ID.String(), map[string]any{
		"account_id": result.Transaction.AccountID.String(),
		"amount":     result.Transaction.Amount.String(),
		"status":     string(result.Transaction.Status),
	}))
	events.PublishBestEffort(ctx, s.publisher, s.log, events.New(events.TypeExpenseApproved, "expense", result.Expense.ID.String(), map[string]any{
		"owner_id":               result.Expense.OwnerID.String(),
		"amount":                 result.Expense.Amount.String(),
		"balance_transaction_id": result.Transaction.ID.String(),
	}))
}
