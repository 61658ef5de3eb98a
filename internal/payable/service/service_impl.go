package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/opsledger/internal/audit/domain"
	"github.com/smallbiznis/opsledger/internal/authorization"
	"github.com/smallbiznis/opsledger/internal/clock"
	"github.com/smallbiznis/opsledger/internal/config"
	"github.com/smallbiznis/opsledger/internal/events"
	ledgerdomain "github.com/smallbiznis/opsledger/internal/ledger/domain"
	"github.com/smallbiznis/opsledger/internal/ledgererr"
	"github.com/smallbiznis/opsledger/internal/ledgerop"
	"github.com/smallbiznis/opsledger/internal/lock"
	"github.com/smallbiznis/opsledger/internal/money"
	obsmetrics "github.com/smallbiznis/opsledger/internal/observability/metrics"
	orderdomain "github.com/smallbiznis/opsledger/internal/order/domain"
	payabledomain "github.com/smallbiznis/opsledger/internal/payable/domain"
	"github.com/smallbiznis/opsledger/internal/principal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Repo        payabledomain.Repository
	PaymentRepo payabledomain.PaymentRepository
	OrderRepo   orderdomain.Repository
	Poster      ledgerdomain.Poster
	Authz       authorization.Service
	Settings    config.LedgerSettings
	Locker      lock.Locker         `optional:"true"`
	Clock       clock.Clock         `optional:"true"`
	AuditSvc    auditdomain.Service `optional:"true"`
	Publisher   events.Publisher    `optional:"true"`
	ObsMetrics  *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	repo        payabledomain.Repository
	paymentRepo payabledomain.PaymentRepository
	orderRepo   orderdomain.Repository
	poster      ledgerdomain.Poster
	authz       authorization.Service
	locker      lock.Locker
	clock       clock.Clock
	auditSvc    auditdomain.Service
	publisher   events.Publisher
	obsMetrics  *obsmetrics.Metrics
	runner      *ledgerop.Runner
}

func NewService(p Params) payabledomain.Service {
	log := p.Log.Named("payable.service")
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Service{
		db:          p.DB,
		log:         log,
		genID:       p.GenID,
		repo:        p.Repo,
		paymentRepo: p.PaymentRepo,
		orderRepo:   p.OrderRepo,
		poster:      p.Poster,
		authz:       p.Authz,
		locker:      p.Locker,
		clock:       clk,
		auditSvc:    p.AuditSvc,
		publisher:   p.Publisher,
		obsMetrics:  p.ObsMetrics,
		runner:      ledgerop.NewRunner("opsledger/payable", log, p.Settings, p.ObsMetrics),
	}
}

func (s *Service) Open(ctx context.Context, actor principal.Principal, req payabledomain.OpenRequest) (payabledomain.Entry, error) {
	req.SupplierName = strings.TrimSpace(req.SupplierName)
	req.Description = strings.TrimSpace(req.Description)
	req.OrderRef = strings.TrimSpace(req.OrderRef)
	if req.SupplierID == 0 || req.SupplierName == "" {
		return payabledomain.Entry{}, payabledomain.ErrInvalidSupplier
	}
	if req.Description == "" {
		return payabledomain.Entry{}, payabledomain.ErrInvalidDescription
	}
	if !req.Amount.IsPositive() {
		return payabledomain.Entry{}, ledgererr.ErrInvalidAmount
	}
	if err := s.authz.Authorize(ctx, actor, authorization.ObjectPayable, authorization.ActionPayableCreate); err != nil {
		return payabledomain.Entry{}, err
	}

	entry := s.newEntry(actor, req)
	err := s.runner.Once(ctx, "payable.open", func(ctx context.Context) error {
		return s.repo.InsertEntry(ctx, s.db, &entry)
	})
	if err != nil {
		return payabledomain.Entry{}, err
	}

	s.afterOpen(ctx, actor, entry)
	return entry, nil
}

func (s *Service) OpenForOrder(ctx context.Context, actor principal.Principal, orderID snowflake.ID) ([]payabledomain.Entry, error) {
	if orderID == 0 {
		return nil, payabledomain.ErrInvalidEntry
	}
	if err := s.authz.Authorize(ctx, actor, authorization.ObjectPayable, authorization.ActionPayableCreate); err != nil {
		return nil, err
	}

	var entries, opened []payabledomain.Entry
	err := s.runner.Do(ctx, "payable.open_for_order", func(ctx context.Context) error {
		entries, opened = nil, nil
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			order, err := s.orderRepo.FindOrder(ctx, tx, orderID)
			if err != nil {
				return err
			}
			if order == nil {
				return orderdomain.ErrOrderNotFound
			}
			if !order.Locked || order.Cancelled() {
				return orderdomain.ErrOrderNotLocked
			}

			for _, cost := range supplierCosts(*order) {
				existing, err := s.repo.FindEntryForOrder(ctx, tx, order.Number, cost.supplierID)
				if err != nil {
					return err
				}
				if existing != nil {
					entries = append(entries, *existing)
					continue
				}
				entry := s.newEntry(actor, payabledomain.OpenRequest{
					SupplierID:   cost.supplierID,
					SupplierName: cost.supplierName,
					OrderRef:     order.Number,
					Description:  fmt.Sprintf("Order #%s - product cost", order.Number),
					Amount:       cost.total,
				})
				entry.Metadata = datatypes.JSONMap{"order_id": order.ID.String(), "items": cost.items}
				if err := s.repo.InsertEntry(ctx, tx, &entry); err != nil {
					return err
				}
				entries = append(entries, entry)
				opened = append(opened, entry)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	for _, entry := range opened {
		s.afterOpen(ctx, actor, entry)
	}
	return entries, nil
}

// Pay settles part of an entry from the payer's custody. The entry update,
// the debit and the payment record land together or not at all.
func (s *Service) Pay(ctx context.Context, actor principal.Principal, req payabledomain.PayRequest) (payabledomain.Payment, error) {
	if req.EntryID == 0 {
		return payabledomain.Payment{}, payabledomain.ErrInvalidEntry
	}
	if req.PayerAccountID == 0 {
		req.PayerAccountID = actor.ID
	}
	if !req.Amount.IsPositive() {
		return payabledomain.Payment{}, ledgererr.ErrInvalidAmount
	}
	req.Amount = req.Amount.RoundToCents()
	req.Notes = strings.TrimSpace(req.Notes)
	if err := s.authz.Authorize(ctx, actor, authorization.ObjectPayable, authorization.ActionPayablePay); err != nil {
		return payabledomain.Payment{}, err
	}
	if !actor.IsAdministrator() && !actor.Owns(req.PayerAccountID) {
		return payabledomain.Payment{}, payabledomain.ErrNotPayer
	}

	if s.locker != nil {
		ttl := 2 * s.runner.Settings().PersistenceTimeout
		lockCtx, cancel := context.WithTimeout(ctx, s.runner.Settings().PersistenceTimeout)
		release, err := s.locker.Acquire(lockCtx, lock.PayableKey(req.EntryID.String()), ttl)
		cancel()
		if err != nil {
			if errors.Is(err, lock.ErrNotAcquired) || errors.Is(err, context.DeadlineExceeded) {
				return payabledomain.Payment{}, fmt.Errorf("%w: payable %s is busy", ledgererr.ErrConcurrentModification, req.EntryID)
			}
			return payabledomain.Payment{}, ledgererr.FromPersistence(err)
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				s.log.Warn("failed to release payable lock", zap.String("entry_id", req.EntryID.String()), zap.Error(err))
			}
		}()
	}

	var (
		payment payabledomain.Payment
		entry   payabledomain.Entry
		err     error
	)
	if s.runner.Settings().Atomicity == config.AtomicitySaga {
		payment, entry, err = s.paySaga(ctx, actor, req)
	} else {
		payment, entry, err = s.payAtomic(ctx, actor, req)
	}
	if err != nil {
		return payabledomain.Payment{}, err
	}

	s.audit(ctx, actor, "payable.paid", entry.ID, map[string]any{
		"supplier_id":            entry.SupplierID.String(),
		"amount":                 payment.PaidAmount.String(),
		"remaining":              entry.RemainingAmount.String(),
		"payer_account_id":       payment.PayerAccountID.String(),
		"balance_transaction_id": payment.BalanceTransactionID.String(),
	})
	events.PublishBestEffort(ctx, s.publisher, s.log, events.New(events.TypePayablePaid, "payable", entry.ID.String(), map[string]any{
		"payment_id": payment.ID.String(),
		"amount":     payment.PaidAmount.String(),
		"remaining":  entry.RemainingAmount.String(),
	}))
	return payment, nil
}

func (s *Service) payAtomic(ctx context.Context, actor principal.Principal, req payabledomain.PayRequest) (payabledomain.Payment, payabledomain.Entry, error) {
	var (
		payment payabledomain.Payment
		entry   payabledomain.Entry
	)
	err := s.runner.Do(ctx, "payable.pay", func(ctx context.Context) error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			current, err := s.payableEntry(ctx, tx, req)
			if err != nil {
				return err
			}
			debit, err := s.poster.DebitTx(ctx, tx, actor, s.debitRequest(current, req))
			if err != nil {
				return err
			}
			if err := s.applyPayment(ctx, tx, current, req.Amount); err != nil {
				return err
			}
			payment = s.newPayment(req, debit.ID)
			if err := s.paymentRepo.InsertPayment(ctx, tx, &payment); err != nil {
				return err
			}
			entry = *current
			return nil
		})
	}, payAttrs(req)...)
	return payment, entry, err
}

// paySaga commits the debit on its own and reverses it with a confirmed
// credit if recording the payment fails afterwards.
func (s *Service) paySaga(ctx context.Context, actor principal.Principal, req payabledomain.PayRequest) (payabledomain.Payment, payabledomain.Entry, error) {
	var debit ledgerdomain.BalanceTransaction
	err := s.runner.Do(ctx, "payable.pay.debit", func(ctx context.Context) error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			current, err := s.payableEntry(ctx, tx, req)
			if err != nil {
				return err
			}
			debit, err = s.poster.DebitTx(ctx, tx, actor, s.debitRequest(current, req))
			return err
		})
	}, payAttrs(req)...)
	if err != nil {
		return payabledomain.Payment{}, payabledomain.Entry{}, err
	}

	var (
		payment payabledomain.Payment
		entry   payabledomain.Entry
	)
	err = s.runner.Do(ctx, "payable.pay.record", func(ctx context.Context) error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			current, err := s.payableEntry(ctx, tx, req)
			if err != nil {
				return err
			}
			if err := s.applyPayment(ctx, tx, current, req.Amount); err != nil {
				return err
			}
			payment = s.newPayment(req, debit.ID)
			if err := s.paymentRepo.InsertPayment(ctx, tx, &payment); err != nil {
				return err
			}
			entry = *current
			return nil
		})
	}, payAttrs(req)...)
	if err == nil {
		return payment, entry, nil
	}

	if cerr := s.compensate(ctx, actor, req, debit); cerr != nil {
		return payabledomain.Payment{}, payabledomain.Entry{}, errors.Join(err, cerr)
	}
	return payabledomain.Payment{}, payabledomain.Entry{}, err
}

func (s *Service) compensate(ctx context.Context, actor principal.Principal, req payabledomain.PayRequest, debit ledgerdomain.BalanceTransaction) error {
	ctx = context.WithoutCancel(ctx)
	var credit ledgerdomain.BalanceTransaction
	err := s.runner.Once(ctx, "payable.pay.compensate", func(ctx context.Context) error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var err error
			credit, err = s.poster.CreditConfirmedTx(ctx, tx, actor, ledgerdomain.RecordRequest{
				AccountID:       debit.AccountID,
				Amount:          debit.Amount.Abs(),
				Reason:          "Reversal of failed supplier payment " + debit.ID.String(),
				TransactionDate: s.clock.Now(),
			})
			return err
		})
	}, payAttrs(req)...)
	if err != nil {
		s.obsMetrics.RecordCompensation(ctx, "payable.pay", "failed")
		s.log.Error("payable compensation failed; manual reconciliation required",
			zap.String("entry_id", req.EntryID.String()),
			zap.String("payer_account_id", req.PayerAccountID.String()),
			zap.String("debit_transaction_id", debit.ID.String()),
			zap.String("amount", req.Amount.String()),
			zap.Error(err),
		)
		return fmt.Errorf("%w: %w", payabledomain.ErrCompensationFailed, err)
	}

	s.obsMetrics.RecordCompensation(ctx, "payable.pay", "reversed")
	s.audit(ctx, actor, "payable.payment_compensated", req.EntryID, map[string]any{
		"payer_account_id":      req.PayerAccountID.String(),
		"amount":                req.Amount.String(),
		"debit_transaction_id":  debit.ID.String(),
		"credit_transaction_id": credit.ID.String(),
	})
	return nil
}

// Delete removes the entry and its payment records. The custody debits that
// funded those payments stay in the ledger.
func (s *Service) Delete(ctx context.Context, actor principal.Principal, entryID snowflake.ID) error {
	if err := s.authz.Authorize(ctx, actor, authorization.ObjectPayable, authorization.ActionPayableDelete); err != nil {
		return err
	}

	var (
		entry   payabledomain.Entry
		removed int64
	)
	err := s.runner.Do(ctx, "payable.delete", func(ctx context.Context) error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			current, err := s.findEntry(ctx, tx, entryID)
			if err != nil {
				return err
			}
			removed, err = s.paymentRepo.DeletePayments(ctx, tx, entryID)
			if err != nil {
				return err
			}
			deleted, err := s.repo.DeleteEntry(ctx, tx, entryID)
			if err != nil {
				return err
			}
			if !deleted {
				return ledgererr.ErrConcurrentModification
			}
			entry = *current
			return nil
		})
	}, attribute.String("ledger.payable_id", entryID.String()))
	if err != nil {
		return err
	}

	s.audit(ctx, actor, "payable.deleted", entryID, map[string]any{
		"supplier_id":      entry.SupplierID.String(),
		"amount":           entry.Amount.String(),
		"paid_amount":      entry.PaidAmount.String(),
		"payments_removed": removed,
		"debits_preserved": true,
	})
	events.PublishBestEffort(ctx, s.publisher, s.log, events.New(events.TypePayableDeleted, "payable", entryID.String(), map[string]any{
		"paid_amount": entry.PaidAmount.String(),
	}))
	return nil
}

func (s *Service) Get(ctx context.Context, actor principal.Principal, entryID snowflake.ID) (payabledomain.Entry, error) {
	if err := s.authz.Authorize(ctx, actor, authorization.ObjectPayable, authorization.ActionPayableView); err != nil {
		return payabledomain.Entry{}, err
	}
	var entry *payabledomain.Entry
	err := s.runner.Do(ctx, "payable.get", func(ctx context.Context) error {
		var err error
		entry, err = s.findEntry(ctx, s.db, entryID)
		return err
	})
	if err != nil {
		return payabledomain.Entry{}, err
	}
	return *entry, nil
}

func (s *Service) List(ctx context.Context, actor principal.Principal, filter payabledomain.ListFilter) ([]payabledomain.Entry, error) {
	if err := s.authz.Authorize(ctx, actor, authorization.ObjectPayable, authorization.ActionPayableView); err != nil {
		return nil, err
	}
	var items []*payabledomain.Entry
	err := s.runner.Do(ctx, "payable.list", func(ctx context.Context) error {
		var err error
		items, err = s.repo.ListEntries(ctx, s.db, filter)
		return err
	})
	if err != nil {
		return nil, err
	}
	entries := make([]payabledomain.Entry, 0, len(items))
	for _, item := range items {
		if item != nil {
			entries = append(entries, *item)
		}
	}
	return entries, nil
}

func (s *Service) ListPayments(ctx context.Context, actor principal.Principal, entryID snowflake.ID) ([]payabledomain.Payment, error) {
	if err := s.authz.Authorize(ctx, actor, authorization.ObjectPayable, authorization.ActionPayableView); err != nil {
		return nil, err
	}
	var items []*payabledomain.Payment
	err := s.runner.Do(ctx, "payable.payments", func(ctx context.Context) error {
		if _, err := s.findEntry(ctx, s.db, entryID); err != nil {
			return err
		}
		var err error
		items, err = s.paymentRepo.ListPayments(ctx, s.db, entryID)
		return err
	})
	if err != nil {
		return nil, err
	}
	payments := make([]payabledomain.Payment, 0, len(items))
	for _, item := range items {
		if item != nil {
			payments = append(payments, *item)
		}
	}
	return payments, nil
}

func (s *Service) SupplierTotals(ctx context.Context, actor principal.Principal) ([]payabledomain.SupplierTotal, error) {
	if err := s.authz.Authorize(ctx, actor, authorization.ObjectPayable, authorization.ActionPayableView); err != nil {
		return nil, err
	}
	var totals []payabledomain.SupplierTotal
	err := s.runner.Do(ctx, "payable.supplier_totals", func(ctx context.Context) error {
		var err error
		totals, err = s.repo.SupplierTotals(ctx, s.db)
		return err
	})
	if err != nil {
		return nil, err
	}
	return totals, nil
}

// payableEntry loads the entry and checks it still covers the requested amount.
func (s *Service) payableEntry(ctx context.Context, tx *gorm.DB, req payabledomain.PayRequest) (*payabledomain.Entry, error) {
	current, err := s.findEntry(ctx, tx, req.EntryID)
	if err != nil {
		return nil, err
	}
	if req.Amount.GreaterThan(current.RemainingAmount) {
		return nil, fmt.Errorf("%w: remaining %s", payabledomain.ErrInsufficientRemaining, current.RemainingAmount)
	}
	return current, nil
}

// applyPayment updates the entry against the version read by payableEntry and
// reflects the new amounts on current.
func (s *Service) applyPayment(ctx context.Context, tx *gorm.DB, current *payabledomain.Entry, amount money.Money) error {
	now := s.clock.Now()
	applied, err := s.repo.ApplyPayment(ctx, tx, current.ID, current.Version, amount, now)
	if err != nil {
		return err
	}
	if !applied {
		latest, err := s.findEntry(ctx, tx, current.ID)
		if err != nil {
			return err
		}
		if amount.GreaterThan(latest.RemainingAmount) {
			return fmt.Errorf("%w: remaining %s", payabledomain.ErrInsufficientRemaining, latest.RemainingAmount)
		}
		return ledgererr.ErrConcurrentModification
	}
	current.PaidAmount = current.PaidAmount.Add(amount)
	current.RemainingAmount = current.RemainingAmount.Sub(amount)
	current.Version++
	current.UpdatedAt = now
	return nil
}

func (s *Service) debitRequest(entry *payabledomain.Entry, req payabledomain.PayRequest) ledgerdomain.RecordRequest {
	return ledgerdomain.RecordRequest{
		AccountID:       req.PayerAccountID,
		Amount:          req.Amount,
		Reason:          "Supplier payment: " + entry.SupplierName,
		TransactionDate: s.clock.Now(),
	}
}

func (s *Service) newPayment(req payabledomain.PayRequest, debitID snowflake.ID) payabledomain.Payment {
	payment := payabledomain.Payment{
		ID:                   s.genID.Generate(),
		EntryID:              req.EntryID,
		PaidAmount:           req.Amount,
		PayerAccountID:       req.PayerAccountID,
		BalanceTransactionID: debitID,
		PaidAt:               s.clock.Now(),
	}
	if req.Notes != "" {
		notes := req.Notes
		payment.Notes = &notes
	}
	return payment
}

func (s *Service) newEntry(actor principal.Principal, req payabledomain.OpenRequest) payabledomain.Entry {
	now := s.clock.Now()
	entry := payabledomain.Entry{
		ID:              s.genID.Generate(),
		SupplierID:      req.SupplierID,
		SupplierName:    req.SupplierName,
		Description:     req.Description,
		Amount:          req.Amount.RoundToCents(),
		PaidAmount:      money.Zero(),
		RemainingAmount: req.Amount.RoundToCents(),
		CreatedBy:       actor.ID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if req.OrderRef != "" {
		ref := req.OrderRef
		entry.OrderRef = &ref
	}
	return entry
}

func (s *Service) findEntry(ctx context.Context, db *gorm.DB, id snowflake.ID) (*payabledomain.Entry, error) {
	entry, err := s.repo.FindEntry(ctx, db, id)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, payabledomain.ErrEntryNotFound
	}
	return entry, nil
}

func (s *Service) afterOpen(ctx context.Context, actor principal.Principal, entry payabledomain.Entry) {
	details := map[string]any{
		"supplier_id":   entry.SupplierID.String(),
		"supplier_name": entry.SupplierName,
		"amount":        entry.Amount.String(),
	}
	if entry.OrderRef != nil {
		details["order_ref"] = *entry.OrderRef
	}
	s.audit(ctx, actor, "payable.opened", entry.ID, details)
	events.PublishBestEffort(ctx, s.publisher, s.log, events.New(events.TypePayableOpened, "payable", entry.ID.String(), details))
}

func (s *Service) audit(ctx context.Context, actor principal.Principal, action string, entryID snowflake.ID, details map[string]any) {
	if s.auditSvc == nil {
		return
	}
	if err := s.auditSvc.Record(ctx, auditdomain.Entry{
		Actor:        actor,
		Action:       action,
		ResourceType: "payable",
		ResourceID:   entryID.String(),
		Details:      details,
	}); err != nil {
		s.log.Warn("failed to write payable audit log", zap.String("action", action), zap.Error(err))
	}
}

func payAttrs(req payabledomain.PayRequest) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("ledger.payable_id", req.EntryID.String()),
		attribute.String("ledger.account_id", req.PayerAccountID.String()),
	}
}

type supplierCost struct {
	supplierID   snowflake.ID
	supplierName string
	total        money.Money
	items        int
}

// supplierCosts groups line item costs by supplier, dropping suppliers with nothing owed.
func supplierCosts(order orderdomain.Order) []supplierCost {
	bySupplier := make(map[snowflake.ID]*supplierCost)
	for _, item := range order.Items {
		if item.SupplierID == 0 {
			continue
		}
		cost, ok := bySupplier[item.SupplierID]
		if !ok {
			cost = &supplierCost{supplierID: item.SupplierID, supplierName: item.SupplierName, total: money.Zero()}
			bySupplier[item.SupplierID] = cost
		}
		cost.total = cost.total.Add(item.CostInclTax)
		cost.items++
	}

	costs := make([]supplierCost, 0, len(bySupplier))
	for _, cost := range bySupplier {
		if cost.total.IsPositive() {
			costs = append(costs, *cost)
		}
	}
	sort.Slice(costs, func(i, j int) bool { return costs[i].supplierID < costs[j].supplierID })
	return costs
}
