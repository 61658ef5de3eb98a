package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/opsledger/internal/audit/domain"
	"github.com/smallbiznis/opsledger/internal/authorization"
	"github.com/smallbiznis/opsledger/internal/clock"
	"github.com/smallbiznis/opsledger/internal/config"
	"github.com/smallbiznis/opsledger/internal/events"
	expensedomain "github.com/smallbiznis/opsledger/internal/expense/domain"
	"github.com/smallbiznis/opsledger/internal/ledgerop"
	obsmetrics "github.com/smallbiznis/opsledger/internal/observability/metrics"
	orderdomain "github.com/smallbiznis/opsledger/internal/order/domain"
	payabledomain "github.com/smallbiznis/opsledger/internal/payable/domain"
	"github.com/smallbiznis/opsledger/internal/principal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// CancellationFeeCategory is the expense category for fees the store absorbs.
const CancellationFeeCategory = "cancellation-fee"

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Repo        orderdomain.Repository
	ExpenseRepo expensedomain.Repository
	Payables    payabledomain.Service
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
	repo        orderdomain.Repository
	expenseRepo expensedomain.Repository
	payables    payabledomain.Service
	authz       authorization.Service
	clock       clock.Clock
	auditSvc    auditdomain.Service
	publisher   events.Publisher
	runner      *ledgerop.Runner
}

func NewService(p Params) orderdomain.Service {
	log := p.Log.Named("order.service")
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Service{
		db:          p.DB,
		log:         log,
		genID:       p.GenID,
		repo:        p.Repo,
		expenseRepo: p.ExpenseRepo,
		payables:    p.Payables,
		authz:       p.Authz,
		clock:       clk,
		auditSvc:    p.AuditSvc,
		publisher:   p.Publisher,
		runner:      ledgerop.NewRunner("opsledger/order", log, p.Settings, p.ObsMetrics),
	}
}

func (s *Service) Get(ctx context.Context, actor principal.Principal, id snowflake.ID) (orderdomain.Order, error) {
	if err := s.authz.Authorize(ctx, actor, authorization.ObjectOrder, authorization.ActionOrderView); err != nil {
		return orderdomain.Order{}, err
	}
	var order *orderdomain.Order
	err := s.runner.Once(ctx, "order.get", func(ctx context.Context) error {
		var err error
		order, err = s.find(ctx, s.db, id)
		return err
	})
	if err != nil {
		return orderdomain.Order{}, err
	}
	return *order, nil
}

func (s *Service) Lock(ctx context.Context, actor principal.Principal, id snowflake.ID) (orderdomain.LockResult, error) {
	if err := s.authz.Authorize(ctx, actor, authorization.ObjectOrder, authorization.ActionOrderLock); err != nil {
		return orderdomain.LockResult{}, err
	}

	var (
		order  *orderdomain.Order
		locked bool
	)
	err := s.runner.Do(ctx, "order.lock", func(ctx context.Context) error {
		locked = false
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			current, err := s.find(ctx, tx, id)
			if err != nil {
				return err
			}
			if current.Cancelled() {
				return orderdomain.ErrOrderCancelled
			}
			if !current.Locked {
				moved, err := s.repo.Lock(ctx, tx, id, actor.ID, s.clock.Now())
				if err != nil {
					return err
				}
				if !moved {
					return orderdomain.ErrOrderCancelled
				}
				locked = true
			}
			order, err = s.find(ctx, tx, id)
			return err
		})
	})
	if err != nil {
		return orderdomain.LockResult{}, err
	}

	if locked {
		s.audit(ctx, actor, "order.locked", *order, nil)
		events.PublishBestEffort(ctx, s.publisher, s.log, events.New(events.TypeOrderLocked, "order", order.ID.String(), map[string]any{
			"number": order.Number,
		}))
	}

	// the lock is committed; a failure here is retried by locking again
	entries, err := s.payables.OpenForOrder(ctx, actor, id)
	if err != nil {
		s.log.Error("failed to open payables for locked order",
			zap.String("order_id", id.String()),
			zap.Error(err),
		)
		return orderdomain.LockResult{}, err
	}
	return orderdomain.LockResult{Order: *order, Payables: entries}, nil
}

// Cancel marks the order cancelled and releases its lock. A fee borne by the
// store is booked as an approved expense in the same write.
func (s *Service) Cancel(ctx context.Context, actor principal.Principal, id snowflake.ID, req orderdomain.CancelRequest) (orderdomain.CancelResult, error) {
	req, err := normalizeCancel(req)
	if err != nil {
		return orderdomain.CancelResult{}, err
	}
	if err := s.authz.Authorize(ctx, actor, authorization.ObjectOrder, authorization.ActionOrderCancel); err != nil {
		return orderdomain.CancelResult{}, err
	}

	var result orderdomain.CancelResult
	err = s.runner.Do(ctx, "order.cancel", func(ctx context.Context) error {
		result = orderdomain.CancelResult{}
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			current, err := s.find(ctx, tx, id)
			if err != nil {
				return err
			}
			if current.Cancelled() {
				return orderdomain.ErrOrderCancelled
			}

			now := s.clock.Now().UTC()
			moved, err := s.repo.Cancel(ctx, tx, id, orderdomain.Cancellation{
				By:        actor.ID,
				At:        now,
				Reason:    req.Reason,
				Fee:       req.Fee,
				FeeBearer: req.FeeBearer,
			})
			if err != nil {
				return err
			}
			if !moved {
				return orderdomain.ErrOrderCancelled
			}

			if req.FeeBearer == orderdomain.FeeBearerStore && req.Fee.IsPositive() {
				approvedBy := actor.ID
				expense := expensedomain.Expense{
					ID:          s.genID.Generate(),
					Description: fmt.Sprintf("Order #%s cancellation fee", current.Number),
					Amount:      req.Fee,
					Category:    CancellationFeeCategory,
					Date:        now,
					Type:        expensedomain.TypeVariable,
					OwnerID:     actor.ID,
					Status:      expensedomain.StatusApproved,
					ApprovedBy:  &approvedBy,
					ApprovedAt:  &now,
					CreatedBy:   actor.ID,
					CreatedAt:   now,
					UpdatedAt:   now,
				}
				if err := s.expenseRepo.Insert(ctx, tx, &expense); err != nil {
					return err
				}
				result.Expense = &expense
			}

			order, err := s.find(ctx, tx, id)
			if err != nil {
				return err
			}
			result.Order = *order
			return nil
		})
	})
	if err != nil {
		return orderdomain.CancelResult{}, err
	}

	extra := map[string]any{
		"reason":     req.Reason,
		"fee":        req.Fee.String(),
		"fee_bearer": string(req.FeeBearer),
	}
	if result.Expense != nil {
		extra["expense_id"] = result.Expense.ID.String()
	}
	s.audit(ctx, actor, "order.cancelled", result.Order, extra)
	events.PublishBestEffort(ctx, s.publisher, s.log, events.New(events.TypeOrderCancelled, "order", result.Order.ID.String(), extra))
	if result.Expense != nil {
		events.PublishBestEffort(ctx, s.publisher, s.log, events.New(events.TypeExpenseApproved, "expense", result.Expense.ID.String(), map[string]any{
			"owner_id": result.Expense.OwnerID.String(),
			"amount":   result.Expense.Amount.String(),
			"category": result.Expense.Category,
		}))
	}
	return result, nil
}

func normalizeCancel(req orderdomain.CancelRequest) (orderdomain.CancelRequest, error) {
	req.Reason = strings.TrimSpace(req.Reason)
	if req.Reason == "" {
		return req, orderdomain.ErrInvalidCancelReason
	}
	if req.Fee.IsNegative() {
		return req, orderdomain.ErrInvalidCancelFee
	}
	req.Fee = req.Fee.RoundToCents()
	switch req.FeeBearer {
	case "":
		req.FeeBearer = orderdomain.FeeBearerCustomer
	case orderdomain.FeeBearerCustomer, orderdomain.FeeBearerStore:
	default:
		return req, orderdomain.ErrInvalidFeeBearer
	}
	return req, nil
}

func (s *Service) find(ctx context.Context, db *gorm.DB, id snowflake.ID) (*orderdomain.Order, error) {
	order, err := s.repo.FindOrder(ctx, db, id)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, orderdomain.ErrOrderNotFound
	}
	return order, nil
}

func (s *Service) audit(ctx context.Context, actor principal.Principal, action string, order orderdomain.Order, extra map[string]any) {
	if s.auditSvc == nil {
		return
	}
	details := map[string]any{
		"number": order.Number,
		"status": string(order.Status),
		"locked": order.Locked,
	}
	for k, v := range extra {
		details[k] = v
	}
	if err := s.auditSvc.Record(ctx, auditdomain.Entry{
		Actor:        actor,
		Action:       action,
		ResourceType: "order",
		ResourceID:   order.ID.String(),
		Details:      details,
	}); err != nil {
		s.log.Warn("failed to write order audit log", zap.String("action", action), zap.Error(err))
	}
}
