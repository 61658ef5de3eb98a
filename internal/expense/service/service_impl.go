package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	auditdomain "github.com/smallbiznis/opsledger/internal/audit/domain"
	"github.com/smallbiznis/opsledger/internal/authorization"
	"github.com/smallbiznis/opsledger/internal/clock"
	"github.com/smallbiznis/opsledger/internal/config"
	"github.com/smallbiznis/opsledger/internal/events"
	expensedomain "github.com/smallbiznis/opsledger/internal/expense/domain"
	ledgerdomain "github.com/smallbiznis/opsledger/internal/ledger/domain"
	"github.com/smallbiznis/opsledger/internal/ledgererr"
	"github.com/smallbiznis/opsledger/internal/ledgerop"
	"github.com/smallbiznis/opsledger/internal/money"
	obsmetrics "github.com/smallbiznis/opsledger/internal/observability/metrics"
	"github.com/smallbiznis/opsledger/internal/principal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Repo       expensedomain.Repository
	Poster     ledgerdomain.Poster
	Authz      authorization.Service
	Settings   config.LedgerSettings
	Clock      clock.Clock         `optional:"true"`
	AuditSvc   auditdomain.Service `optional:"true"`
	Publisher  events.Publisher    `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	repo      expensedomain.Repository
	poster    ledgerdomain.Poster
	authz     authorization.Service
	clock     clock.Clock
	auditSvc  auditdomain.Service
	publisher events.Publisher
	runner    *ledgerop.Runner
}

func NewService(p Params) expensedomain.Service {
	log := p.Log.Named("expense.service")
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Service{
		db:        p.DB,
		log:       log,
		genID:     p.GenID,
		repo:      p.Repo,
		poster:    p.Poster,
		authz:     p.Authz,
		clock:     clk,
		auditSvc:  p.AuditSvc,
		publisher: p.Publisher,
		runner:    ledgerop.NewRunner("opsledger/expense", log, p.Settings, p.ObsMetrics),
	}
}

// Submit records an expense for the actor. Administrators' own expenses skip
// the approval step.
func (s *Service) Submit(ctx context.Context, actor principal.Principal, req expensedomain.SubmitRequest) (expensedomain.Expense, error) {
	req, err := s.normalizeSubmit(req)
	if err != nil {
		return expensedomain.Expense{}, err
	}
	if err := s.authz.Authorize(ctx, actor, authorization.ObjectExpense, authorization.ActionExpenseCreate); err != nil {
		return expensedomain.Expense{}, err
	}

	var expense expensedomain.Expense
	err = s.runner.Do(ctx, "expense.submit", func(ctx context.Context) error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			now := s.clock.Now()
			expense = expensedomain.Expense{
				ID:                s.genID.Generate(),
				Description:       req.Description,
				Amount:            req.Amount,
				Category:          req.Category,
				Date:              req.Date,
				Type:              req.Type,
				OwnerID:           actor.ID,
				DeductFromCustody: req.DeductFromCustody,
				Status:            expensedomain.StatusPending,
				CreatedBy:         actor.ID,
				CreatedAt:         now,
				UpdatedAt:         now,
			}
			if actor.IsAdministrator() {
				if err := s.approveInto(ctx, tx, actor, &expense); err != nil {
					return err
				}
			}
			return s.repo.Insert(ctx, tx, &expense)
		})
	})
	if err != nil {
		return expensedomain.Expense{}, err
	}

	s.audit(ctx, actor, "expense.created", expense, nil)
	if expense.Status == expensedomain.StatusApproved {
		s.publishApproved(ctx, expense)
	}
	return expense, nil
}

// Approve accepts a pending expense, deducting it from the owner's custody
// in the same write when requested.
func (s *Service) Approve(ctx context.Context, actor principal.Principal, id snowflake.ID) (expensedomain.Expense, error) {
	if err := s.authz.Authorize(ctx, actor, authorization.ObjectExpense, authorization.ActionExpenseApprove); err != nil {
		return expensedomain.Expense{}, err
	}

	var expense expensedomain.Expense
	err := s.runner.Do(ctx, "expense.approve", func(ctx context.Context) error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			current, err := s.pending(ctx, tx, id)
			if err != nil {
				return err
			}
			if err := s.approveInto(ctx, tx, actor, current); err != nil {
				return err
			}
			moved, err := s.repo.Approve(ctx, tx, id, actor.ID, current.BalanceTransactionID, *current.ApprovedAt)
			if err != nil {
				return err
			}
			if !moved {
				return expensedomain.ErrNotPending
			}
			expense = *current
			return nil
		})
	})
	if err != nil {
		return expensedomain.Expense{}, err
	}

	s.audit(ctx, actor, "expense.approved", expense, nil)
	s.publishApproved(ctx, expense)
	return expense, nil
}

func (s *Service) Reject(ctx context.Context, actor principal.Principal, id snowflake.ID, reason string) (expensedomain.Expense, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return expensedomain.Expense{}, expensedomain.ErrInvalidRejectionReason
	}
	if err := s.authz.Authorize(ctx, actor, authorization.ObjectExpense, authorization.ActionExpenseReject); err != nil {
		return expensedomain.Expense{}, err
	}

	var expense expensedomain.Expense
	err := s.runner.Do(ctx, "expense.reject", func(ctx context.Context) error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			current, err := s.pending(ctx, tx, id)
			if err != nil {
				return err
			}
			now := s.clock.Now()
			moved, err := s.repo.Reject(ctx, tx, id, actor.ID, reason, now)
			if err != nil {
				return err
			}
			if !moved {
				return expensedomain.ErrNotPending
			}
			decidedBy := actor.ID
			current.Status = expensedomain.StatusRejected
			current.ApprovedBy = &decidedBy
			current.ApprovedAt = &now
			current.RejectionReason = &reason
			current.UpdatedAt = now
			expense = *current
			return nil
		})
	})
	if err != nil {
		return expensedomain.Expense{}, err
	}

	s.audit(ctx, actor, "expense.rejected", expense, map[string]any{"rejection_reason": reason})
	return expense, nil
}

// Delete removes an expense and reverses the custody debit that funded it.
func (s *Service) Delete(ctx context.Context, actor principal.Principal, id snowflake.ID) error {
	if err := s.authz.Authorize(ctx, actor, authorization.ObjectExpense, authorization.ActionExpenseDelete); err != nil {
		return err
	}

	var (
		expense  expensedomain.Expense
		reversed bool
	)
	err := s.runner.Do(ctx, "expense.delete", func(ctx context.Context) error {
		reversed = false
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			current, err := s.find(ctx, tx, id)
			if err != nil {
				return err
			}
			if current.Deducted() {
				removed, err := s.poster.RemoveTx(ctx, tx, *current.BalanceTransactionID)
				switch {
				case errors.Is(err, ledgerdomain.ErrTransactionNotFound):
					// debit already removed by an administrator
				case err != nil:
					return err
				default:
					reversed = removed.Status == ledgerdomain.StatusConfirmed
				}
			}
			deleted, err := s.repo.Delete(ctx, tx, id)
			if err != nil {
				return err
			}
			if !deleted {
				return ledgererr.ErrConcurrentModification
			}
			expense = *current
			return nil
		})
	})
	if err != nil {
		return err
	}

	s.audit(ctx, actor, "expense.deleted", expense, map[string]any{"custody_reversed": reversed})
	return nil
}

func (s *Service) Get(ctx context.Context, actor principal.Principal, id snowflake.ID) (expensedomain.Expense, error) {
	if err := s.authz.Authorize(ctx, actor, authorization.ObjectExpense, authorization.ActionExpenseView); err != nil {
		return expensedomain.Expense{}, err
	}
	var expense *expensedomain.Expense
	err := s.runner.Do(ctx, "expense.get", func(ctx context.Context) error {
		var err error
		expense, err = s.find(ctx, s.db, id)
		return err
	})
	if err != nil {
		return expensedomain.Expense{}, err
	}
	if !actor.IsAdministrator() && expense.OwnerID != actor.ID {
		return expensedomain.Expense{}, expensedomain.ErrNotOwner
	}
	return *expense, nil
}

func (s *Service) List(ctx context.Context, actor principal.Principal, req expensedomain.ListRequest) ([]expensedomain.Expense, error) {
	filter, err := s.listFilter(ctx, actor, req)
	if err != nil {
		return nil, err
	}

	var items []*expensedomain.Expense
	err = s.runner.Do(ctx, "expense.list", func(ctx context.Context) error {
		var err error
		items, err = s.repo.List(ctx, s.db, filter)
		return err
	})
	if err != nil {
		return nil, err
	}
	expenses := make([]expensedomain.Expense, 0, len(items))
	for _, item := range items {
		if item != nil {
			expenses = append(expenses, *item)
		}
	}
	return expenses, nil
}

func (s *Service) Totals(ctx context.Context, actor principal.Principal, req expensedomain.ListRequest) (expensedomain.Totals, error) {
	req.Status = expensedomain.StatusApproved
	filter, err := s.listFilter(ctx, actor, req)
	if err != nil {
		return expensedomain.Totals{}, err
	}

	var rows []expensedomain.CategoryTotal
	err = s.runner.Do(ctx, "expense.totals", func(ctx context.Context) error {
		var err error
		rows, err = s.repo.CategoryTotals(ctx, s.db, filter)
		return err
	})
	if err != nil {
		return expensedomain.Totals{}, err
	}

	totals := expensedomain.Totals{
		Total:      money.Zero(),
		Fixed:      money.Zero(),
		Variable:   money.Zero(),
		ByCategory: make(map[string]money.Money),
	}
	for _, row := range rows {
		totals.Total = totals.Total.Add(row.Total)
		totals.Count += row.Count
		switch row.Type {
		case expensedomain.TypeFixed:
			totals.Fixed = totals.Fixed.Add(row.Total)
		default:
			totals.Variable = totals.Variable.Add(row.Total)
		}
		totals.ByCategory[row.Category] = totals.ByCategory[row.Category].Add(row.Total)
	}
	return totals, nil
}

func (s *Service) listFilter(ctx context.Context, actor principal.Principal, req expensedomain.ListRequest) (expensedomain.ListFilter, error) {
	if err := s.authz.Authorize(ctx, actor, authorization.ObjectExpense, authorization.ActionExpenseView); err != nil {
		return expensedomain.ListFilter{}, err
	}
	if req.From != nil && req.To != nil && req.To.Before(*req.From) {
		return expensedomain.ListFilter{}, expensedomain.ErrInvalidPeriod
	}
	if !actor.IsAdministrator() {
		if req.OwnerID != 0 && req.OwnerID != actor.ID {
			return expensedomain.ListFilter{}, expensedomain.ErrNotOwner
		}
		req.OwnerID = actor.ID
	}
	return expensedomain.ListFilter{
		OwnerID:  req.OwnerID,
		Status:   req.Status,
		Type:     req.Type,
		Category: categoryFilter(req.Category),
		From:     req.From,
		To:       req.To,
	}, nil
}

// approveInto stamps approval on expense and posts the custody debit when one is owed.
func (s *Service) approveInto(ctx context.Context, tx *gorm.DB, actor principal.Principal, expense *expensedomain.Expense) error {
	now := s.clock.Now()
	if expense.DeductFromCustody && !expense.Deducted() {
		debit, err := s.poster.DebitTx(ctx, tx, actor, ledgerdomain.RecordRequest{
			AccountID:       expense.OwnerID,
			Amount:          expense.Amount,
			Reason:          "Expense: " + expense.Description,
			TransactionDate: expense.Date,
		})
		if err != nil {
			return err
		}
		debitID := debit.ID
		expense.BalanceTransactionID = &debitID
	}
	approvedBy := actor.ID
	expense.Status = expensedomain.StatusApproved
	expense.ApprovedBy = &approvedBy
	expense.ApprovedAt = &now
	expense.UpdatedAt = now
	return nil
}

func (s *Service) normalizeSubmit(req expensedomain.SubmitRequest) (expensedomain.SubmitRequest, error) {
	req.Description = strings.TrimSpace(req.Description)
	if req.Description == "" {
		return req, expensedomain.ErrInvalidDescription
	}
	if !req.Amount.IsPositive() {
		return req, ledgererr.ErrInvalidAmount
	}
	req.Amount = req.Amount.RoundToCents()
	// "Office Supplies" and "office-supplies" roll up together
	req.Category = slug.Make(req.Category)
	if req.Category == "" {
		return req, expensedomain.ErrInvalidCategory
	}
	switch req.Type {
	case "":
		req.Type = expensedomain.TypeVariable
	case expensedomain.TypeFixed, expensedomain.TypeVariable:
	default:
		return req, expensedomain.ErrInvalidType
	}
	if req.Date.IsZero() {
		req.Date = s.clock.Now()
	}
	req.Date = req.Date.UTC()
	return req, nil
}

func (s *Service) pending(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*expensedomain.Expense, error) {
	current, err := s.find(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if current.Status != expensedomain.StatusPending {
		return nil, expensedomain.ErrNotPending
	}
	return current, nil
}

func (s *Service) find(ctx context.Context, db *gorm.DB, id snowflake.ID) (*expensedomain.Expense, error) {
	expense, err := s.repo.Find(ctx, db, id)
	if err != nil {
		return nil, err
	}
	if expense == nil {
		return nil, expensedomain.ErrExpenseNotFound
	}
	return expense, nil
}

func (s *Service) publishApproved(ctx context.Context, expense expensedomain.Expense) {
	payload := map[string]any{
		"owner_id": expense.OwnerID.String(),
		"amount":   expense.Amount.String(),
		"category": expense.Category,
	}
	if expense.Deducted() {
		payload["balance_transaction_id"] = expense.BalanceTransactionID.String()
	}
	events.PublishBestEffort(ctx, s.publisher, s.log, events.New(events.TypeExpenseApproved, "expense", expense.ID.String(), payload))
}

func (s *Service) audit(ctx context.Context, actor principal.Principal, action string, expense expensedomain.Expense, extra map[string]any) {
	if s.auditSvc == nil {
		return
	}
	details := map[string]any{
		"owner_id":            expense.OwnerID.String(),
		"amount":              expense.Amount.String(),
		"category":            expense.Category,
		"status":              string(expense.Status),
		"deduct_from_custody": expense.DeductFromCustody,
	}
	for k, v := range extra {
		details[k] = v
	}
	if err := s.auditSvc.Record(ctx, auditdomain.Entry{
		Actor:        actor,
		Action:       action,
		ResourceType: "expense",
		ResourceID:   expense.ID.String(),
		Details:      details,
	}); err != nil {
		s.log.Warn("failed to write expense audit log", zap.String("action", action), zap.Error(err))
	}
}

func categoryFilter(category string) string {
	if strings.TrimSpace(category) == "" {
		return ""
	}
	return slug.Make(category)
}
