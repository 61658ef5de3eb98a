package service

import (
	"context"
	"errors"
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
	"github.com/smallbiznis/opsledger/internal/money"
	obsmetrics "github.com/smallbiznis/opsledger/internal/observability/metrics"
	"github.com/smallbiznis/opsledger/internal/principal"
	"github.com/smallbiznis/opsledger/pkg/db"
	"github.com/smallbiznis/opsledger/pkg/db/pagination"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Repo       ledgerdomain.Repository
	Authz      authorization.Service
	Settings   config.LedgerSettings
	Clock      clock.Clock         `optional:"true"`
	AuditSvc   auditdomain.Service `optional:"true"`
	Publisher  events.Publisher    `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	repo       ledgerdomain.Repository
	authz      authorization.Service
	clock      clock.Clock
	auditSvc   auditdomain.Service
	publisher  events.Publisher
	obsMetrics *obsmetrics.Metrics
	runner     *ledgerop.Runner
}

func NewService(p Params) *Service {
	log := p.Log.Named("ledger.service")
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Service{
		db:         p.DB,
		log:        log,
		genID:      p.GenID,
		repo:       p.Repo,
		authz:      p.Authz,
		clock:      clk,
		auditSvc:   p.AuditSvc,
		publisher:  p.Publisher,
		obsMetrics: p.ObsMetrics,
		runner:     ledgerop.NewRunner("opsledger/ledger", log, p.Settings, p.ObsMetrics),
	}
}

func (s *Service) CreateAccount(ctx context.Context, actor principal.Principal, req ledgerdomain.CreateAccountRequest) (ledgerdomain.Account, error) {
	if err := s.authz.Authorize(ctx, actor, authorization.ObjectAccount, authorization.ActionAccountCreate); err != nil {
		return ledgerdomain.Account{}, err
	}
	displayName := strings.TrimSpace(req.DisplayName)
	if displayName == "" {
		return ledgerdomain.Account{}, ledgerdomain.ErrInvalidDisplayName
	}
	role, ok := principal.ParseRole(string(req.Role))
	if !ok {
		return ledgerdomain.Account{}, ledgerdomain.ErrInvalidRole
	}

	id := req.ID
	if id == 0 {
		id = s.genID.Generate()
	}
	now := s.clock.Now()
	account := ledgerdomain.Account{
		ID:             id,
		DisplayName:    displayName,
		Role:           role,
		CurrentBalance: money.Zero(),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err := s.runner.Once(ctx, "account.create", func(ctx context.Context) error {
		if err := s.repo.InsertAccount(ctx, s.db, &account); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return ledgerdomain.ErrAccountExists
			}
			return err
		}
		return nil
	})
	if err != nil {
		return ledgerdomain.Account{}, err
	}

	s.audit(ctx, actor, "account.created", "account", account.ID, map[string]any{
		"display_name": account.DisplayName,
		"role":         string(account.Role),
	})
	return account, nil
}

func (s *Service) GetAccount(ctx context.Context, actor principal.Principal, accountID snowflake.ID) (ledgerdomain.Account, error) {
	if err := s.authorizeAccount(ctx, actor, authorization.ObjectAccount, authorization.ActionAccountView, accountID); err != nil {
		return ledgerdomain.Account{}, err
	}
	var account *ledgerdomain.Account
	err := s.runner.Do(ctx, "account.get", func(ctx context.Context) error {
		var err error
		account, err = s.findAccount(ctx, s.db, accountID)
		return err
	})
	if err != nil {
		return ledgerdomain.Account{}, err
	}
	return *account, nil
}

func (s *Service) ListAccounts(ctx context.Context, actor principal.Principal) ([]ledgerdomain.Account, error) {
	if err := s.authz.Authorize(ctx, actor, authorization.ObjectAccount, authorization.ActionAccountList); err != nil {
		return nil, err
	}
	var items []*ledgerdomain.Account
	err := s.runner.Do(ctx, "account.list", func(ctx context.Context) error {
		var err error
		items, err = s.repo.ListAccounts(ctx, s.db)
		return err
	})
	if err != nil {
		return nil, err
	}
	accounts := make([]ledgerdomain.Account, 0, len(items))
	for _, item := range items {
		if item != nil {
			accounts = append(accounts, *item)
		}
	}
	return accounts, nil
}

// RecordCredit creates a pending credit. The balance moves only on Confirm.
func (s *Service) RecordCredit(ctx context.Context, actor principal.Principal, req ledgerdomain.RecordRequest) (ledgerdomain.BalanceTransaction, error) {
	req, err := s.normalizeRecord(req)
	if err != nil {
		return ledgerdomain.BalanceTransaction{}, err
	}
	if err := s.authz.Authorize(ctx, actor, authorization.ObjectBalanceTransaction, authorization.ActionTransactionCredit); err != nil {
		return ledgerdomain.BalanceTransaction{}, err
	}

	var txn ledgerdomain.BalanceTransaction
	err = s.runner.Do(ctx, "credit", func(ctx context.Context) error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if _, err := s.findAccount(ctx, tx, req.AccountID); err != nil {
				return err
			}
			now := s.clock.Now()
			txn = ledgerdomain.BalanceTransaction{
				ID:              s.genID.Generate(),
				AccountID:       req.AccountID,
				Amount:          req.Amount,
				Kind:            ledgerdomain.KindCredit,
				Reason:          req.Reason,
				TransactionDate: req.TransactionDate,
				CreatedBy:       actor.ID,
				Status:          ledgerdomain.StatusPending,
				CreatedAt:       now,
				UpdatedAt:       now,
			}
			return s.repo.InsertTransaction(ctx, tx, &txn)
		})
	}, attribute.String("ledger.account_id", req.AccountID.String()))
	if err != nil {
		return ledgerdomain.BalanceTransaction{}, err
	}

	s.afterTransaction(ctx, actor, "balance_transaction.created", events.TypeTransactionRecorded, txn, nil)
	return txn, nil
}

// RecordDebit records a confirmed debit and decrements the balance in the same write.
func (s *Service) RecordDebit(ctx context.Context, actor principal.Principal, req ledgerdomain.RecordRequest) (ledgerdomain.BalanceTransaction, error) {
	req, err := s.normalizeRecord(req)
	if err != nil {
		return ledgerdomain.BalanceTransaction{}, err
	}
	if err := s.authorizeAccount(ctx, actor, authorization.ObjectBalanceTransaction, authorization.ActionTransactionDebit, req.AccountID); err != nil {
		return ledgerdomain.BalanceTransaction{}, err
	}
	if err := s.checkOverride(actor, req); err != nil {
		return ledgerdomain.BalanceTransaction{}, err
	}

	var txn ledgerdomain.BalanceTransaction
	err = s.runner.Do(ctx, "debit", func(ctx context.Context) error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var err error
			txn, err = s.debitTx(ctx, tx, actor, req)
			return err
		})
	}, attribute.String("ledger.account_id", req.AccountID.String()))
	if err != nil {
		return ledgerdomain.BalanceTransaction{}, err
	}

	s.afterTransaction(ctx, actor, "balance_transaction.debited", events.TypeTransactionRecorded, txn, map[string]any{
		"override": req.Override,
	})
	return txn, nil
}

// Confirm moves a pending transaction to confirmed and applies its amount exactly once.
func (s *Service) Confirm(ctx context.Context, actor principal.Principal, txnID snowflake.ID) (ledgerdomain.BalanceTransaction, error) {
	if err := s.authz.Authorize(ctx, actor, authorization.ObjectBalanceTransaction, authorization.ActionTransactionConfirm); err != nil {
		return ledgerdomain.BalanceTransaction{}, err
	}

	var txn ledgerdomain.BalanceTransaction
	err := s.runner.Do(ctx, "confirm", func(ctx context.Context) error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			current, err := s.pendingForDecision(ctx, tx, actor, txnID)
			if err != nil {
				return err
			}
			now := s.clock.Now()
			moved, err := s.repo.TransitionStatus(ctx, tx, txnID, ledgerdomain.StatusPending, ledgerdomain.StatusConfirmed, actor.ID, now)
			if err != nil {
				return err
			}
			if !moved {
				return ledgerdomain.ErrNotPending
			}
			applied, err := s.repo.ApplyDelta(ctx, tx, current.AccountID, current.Amount, now)
			if err != nil {
				return err
			}
			if !applied {
				return ledgerdomain.ErrAccountNotFound
			}

			confirmedBy := actor.ID
			current.Status = ledgerdomain.StatusConfirmed
			current.ConfirmedBy = &confirmedBy
			current.ConfirmedAt = &now
			current.UpdatedAt = now
			txn = *current
			return nil
		})
	}, attribute.String("ledger.transaction_id", txnID.String()))
	if err != nil {
		return ledgerdomain.BalanceTransaction{}, err
	}

	s.afterTransaction(ctx, actor, "balance_transaction.confirmed", events.TypeTransactionConfirmed, txn, nil)
	return txn, nil
}

// Reject closes a pending transaction without touching the balance.
func (s *Service) Reject(ctx context.Context, actor principal.Principal, txnID snowflake.ID) (ledgerdomain.BalanceTransaction, error) {
	if err := s.authz.Authorize(ctx, actor, authorization.ObjectBalanceTransaction, authorization.ActionTransactionReject); err != nil {
		return ledgerdomain.BalanceTransaction{}, err
	}

	var txn ledgerdomain.BalanceTransaction
	err := s.runner.Do(ctx, "reject", func(ctx context.Context) error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			current, err := s.pendingForDecision(ctx, tx, actor, txnID)
			if err != nil {
				return err
			}
			now := s.clock.Now()
			moved, err := s.repo.TransitionStatus(ctx, tx, txnID, ledgerdomain.StatusPending, ledgerdomain.StatusRejected, actor.ID, now)
			if err != nil {
				return err
			}
			if !moved {
				return ledgerdomain.ErrNotPending
			}

			decidedBy := actor.ID
			current.Status = ledgerdomain.StatusRejected
			current.ConfirmedBy = &decidedBy
			current.ConfirmedAt = &now
			current.UpdatedAt = now
			txn = *current
			return nil
		})
	}, attribute.String("ledger.transaction_id", txnID.String()))
	if err != nil {
		return ledgerdomain.BalanceTransaction{}, err
	}

	s.afterTransaction(ctx, actor, "balance_transaction.rejected", events.TypeTransactionRejected, txn, nil)
	return txn, nil
}

// Delete removes a transaction. A confirmed one has its balance effect reversed in the same write.
func (s *Service) Delete(ctx context.Context, actor principal.Principal, txnID snowflake.ID) error {
	if err := s.authz.Authorize(ctx, actor, authorization.ObjectBalanceTransaction, authorization.ActionTransactionDelete); err != nil {
		return err
	}

	var removed ledgerdomain.BalanceTransaction
	err := s.runner.Do(ctx, "delete", func(ctx context.Context) error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			// debits behind a payment or expense go through those records instead
			funded, err := s.repo.CountFundedRecords(ctx, tx, txnID)
			if err != nil {
				return err
			}
			if funded > 0 {
				return ledgerdomain.ErrTransactionFunds
			}
			removed, err = s.RemoveTx(ctx, tx, txnID)
			return err
		})
	}, attribute.String("ledger.transaction_id", txnID.String()))
	if err != nil {
		return err
	}

	s.afterTransaction(ctx, actor, "balance_transaction.deleted", events.TypeTransactionDeleted, removed, map[string]any{
		"reversed": removed.Status == ledgerdomain.StatusConfirmed,
	})
	return nil
}

func (s *Service) GetTransaction(ctx context.Context, actor principal.Principal, txnID snowflake.ID) (ledgerdomain.BalanceTransaction, error) {
	if err := s.authz.Authorize(ctx, actor, authorization.ObjectBalanceTransaction, authorization.ActionTransactionView); err != nil {
		return ledgerdomain.BalanceTransaction{}, err
	}
	var txn *ledgerdomain.BalanceTransaction
	err := s.runner.Do(ctx, "transaction.get", func(ctx context.Context) error {
		var err error
		txn, err = s.findTransaction(ctx, s.db, txnID)
		return err
	})
	if err != nil {
		return ledgerdomain.BalanceTransaction{}, err
	}
	if !actor.IsAdministrator() && !actor.Owns(txn.AccountID) {
		return ledgerdomain.BalanceTransaction{}, ledgerdomain.ErrNotOwner
	}
	return *txn, nil
}

func (s *Service) ListTransactions(ctx context.Context, actor principal.Principal, req ledgerdomain.ListTransactionRequest) (ledgerdomain.ListTransactionResponse, error) {
	if err := s.authz.Authorize(ctx, actor, authorization.ObjectBalanceTransaction, authorization.ActionTransactionView); err != nil {
		return ledgerdomain.ListTransactionResponse{}, err
	}
	if !actor.IsAdministrator() {
		if req.AccountID != 0 && !actor.Owns(req.AccountID) {
			return ledgerdomain.ListTransactionResponse{}, ledgerdomain.ErrNotOwner
		}
		req.AccountID = actor.ID
	}

	var cursor *ledgerdomain.TransactionCursor
	if strings.TrimSpace(req.PageToken) != "" {
		id, createdAt, err := pagination.DecodePosition(req.PageToken)
		if err != nil {
			return ledgerdomain.ListTransactionResponse{}, ledgerdomain.ErrInvalidPageToken
		}
		cursor = &ledgerdomain.TransactionCursor{ID: id, CreatedAt: createdAt}
	}

	pageSize := req.Pagination.Size()

	var items []*ledgerdomain.BalanceTransaction
	err := s.runner.Do(ctx, "transaction.list", func(ctx context.Context) error {
		var err error
		items, err = s.repo.ListTransactions(ctx, s.db, ledgerdomain.ListTransactionFilter{
			AccountID: req.AccountID,
			Status:    req.Status,
			Kind:      req.Kind,
			From:      req.From,
			To:        req.To,
			Cursor:    cursor,
			Limit:     pageSize,
		})
		return err
	})
	if err != nil {
		return ledgerdomain.ListTransactionResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, int32(pageSize), func(item *ledgerdomain.BalanceTransaction) string {
		token, err := pagination.EncodeCursor(pagination.NewCursor(item.ID, item.CreatedAt))
		if err != nil {
			return ""
		}
		return token
	})
	if pageInfo != nil && pageInfo.HasMore && len(items) > pageSize {
		items = items[:pageSize]
	}

	txns := make([]ledgerdomain.BalanceTransaction, 0, len(items))
	for _, item := range items {
		if item != nil {
			txns = append(txns, *item)
		}
	}
	resp := ledgerdomain.ListTransactionResponse{Transactions: txns}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

// CurrentBalance returns the cached balance.
func (s *Service) CurrentBalance(ctx context.Context, actor principal.Principal, accountID snowflake.ID) (money.Money, error) {
	account, err := s.GetAccount(ctx, actor, accountID)
	if err != nil {
		return money.Zero(), err
	}
	return account.CurrentBalance, nil
}

// ReplayBalance sums confirmed transactions, ignoring the cache.
func (s *Service) ReplayBalance(ctx context.Context, actor principal.Principal, accountID snowflake.ID) (money.Money, error) {
	if err := s.authorizeAccount(ctx, actor, authorization.ObjectAccount, authorization.ActionAccountView, accountID); err != nil {
		return money.Zero(), err
	}
	var total money.Money
	err := s.runner.Do(ctx, "balance.replay", func(ctx context.Context) error {
		if _, err := s.findAccount(ctx, s.db, accountID); err != nil {
			return err
		}
		var err error
		total, err = s.repo.SumConfirmed(ctx, s.db, accountID)
		return err
	})
	if err != nil {
		return money.Zero(), err
	}
	return total, nil
}

func (s *Service) AccountSummary(ctx context.Context, actor principal.Principal, accountID snowflake.ID) (ledgerdomain.AccountSummary, error) {
	if err := s.authorizeAccount(ctx, actor, authorization.ObjectAccount, authorization.ActionAccountView, accountID); err != nil {
		return ledgerdomain.AccountSummary{}, err
	}

	var summary ledgerdomain.AccountSummary
	err := s.runner.Do(ctx, "account.summary", func(ctx context.Context) error {
		account, err := s.findAccount(ctx, s.db, accountID)
		if err != nil {
			return err
		}
		totals, err := s.repo.Totals(ctx, s.db, accountID)
		if err != nil {
			return err
		}
		summary = ledgerdomain.AccountSummary{
			Account:        *account,
			PendingCredits: money.Zero(),
			TotalCredited:  money.Zero(),
			TotalDebited:   money.Zero(),
		}
		for _, t := range totals {
			switch {
			case t.Kind == ledgerdomain.KindCredit && t.Status == ledgerdomain.StatusPending:
				summary.PendingCredits = summary.PendingCredits.Add(t.Total)
				summary.PendingCount += t.Count
			case t.Kind == ledgerdomain.KindCredit && t.Status == ledgerdomain.StatusConfirmed:
				summary.TotalCredited = summary.TotalCredited.Add(t.Total)
			case t.Kind == ledgerdomain.KindDebit && t.Status == ledgerdomain.StatusConfirmed:
				summary.TotalDebited = summary.TotalDebited.Add(t.Total.Abs())
			}
		}
		return nil
	})
	if err != nil {
		return ledgerdomain.AccountSummary{}, err
	}
	return summary, nil
}

// Reconcile replays confirmed transactions and rewrites the cached balance if it drifted.
func (s *Service) Reconcile(ctx context.Context, actor principal.Principal, accountID snowflake.ID) (ledgerdomain.ReconcileResult, error) {
	if err := s.authz.Authorize(ctx, actor, authorization.ObjectBalanceTransaction, authorization.ActionBalanceReconcile); err != nil {
		return ledgerdomain.ReconcileResult{}, err
	}

	var result ledgerdomain.ReconcileResult
	err := s.runner.Do(ctx, "reconcile", func(ctx context.Context) error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			account, err := s.findAccount(ctx, tx, accountID)
			if err != nil {
				return err
			}
			replayed, err := s.repo.SumConfirmed(ctx, tx, accountID)
			if err != nil {
				return err
			}
			result = ledgerdomain.ReconcileResult{
				AccountID: accountID,
				Cached:    account.CurrentBalance,
				Replayed:  replayed,
			}
			if account.CurrentBalance.Equal(replayed) {
				return nil
			}
			updated, err := s.repo.SetBalance(ctx, tx, accountID, account.Version, replayed, s.clock.Now())
			if err != nil {
				return err
			}
			if !updated {
				return ledgererr.ErrConcurrentModification
			}
			result.Corrected = true
			return nil
		})
	}, attribute.String("ledger.account_id", accountID.String()))
	if err != nil {
		return ledgerdomain.ReconcileResult{}, err
	}

	if result.Corrected {
		s.log.Error("balance drift corrected",
			zap.String("account_id", accountID.String()),
			zap.String("cached", result.Cached.String()),
			zap.String("replayed", result.Replayed.String()),
		)
		s.obsMetrics.RecordDriftCorrection(ctx, "reconcile")
		s.audit(ctx, actor, "account.balance_reconciled", "account", accountID, map[string]any{
			"cached":   result.Cached.String(),
			"replayed": result.Replayed.String(),
		})
		events.PublishBestEffort(ctx, s.publisher, s.log, events.New(events.TypeBalanceReconciled, "account", accountID.String(), map[string]any{
			"cached":   result.Cached.String(),
			"replayed": result.Replayed.String(),
		}))
	}
	return result, nil
}

// ReconcileAll reconciles every account, continuing past individual failures.
func (s *Service) ReconcileAll(ctx context.Context, actor principal.Principal) ([]ledgerdomain.ReconcileResult, error) {
	accounts, err := s.ListAccounts(ctx, actor)
	if err != nil {
		return nil, err
	}
	results := make([]ledgerdomain.ReconcileResult, 0, len(accounts))
	var errs []error
	for _, account := range accounts {
		if ctx.Err() != nil {
			errs = append(errs, ledgererr.FromPersistence(ctx.Err()))
			break
		}
		result, err := s.Reconcile(ctx, actor, account.ID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		results = append(results, result)
	}
	return results, errors.Join(errs...)
}

func (s *Service) authorizeAccount(ctx context.Context, actor principal.Principal, object, action string, accountID snowflake.ID) error {
	if err := s.authz.Authorize(ctx, actor, object, action); err != nil {
		return err
	}
	if !actor.IsAdministrator() && !actor.Owns(accountID) {
		return ledgerdomain.ErrNotOwner
	}
	return nil
}

func (s *Service) checkOverride(actor principal.Principal, req ledgerdomain.RecordRequest) error {
	if !req.Override {
		return nil
	}
	if !actor.IsAdministrator() || !s.runner.Settings().AllowAdminOverdraft {
		return ledgerdomain.ErrOverrideNotAllowed
	}
	return nil
}

func (s *Service) normalizeRecord(req ledgerdomain.RecordRequest) (ledgerdomain.RecordRequest, error) {
	if req.AccountID == 0 {
		return req, ledgerdomain.ErrInvalidAccount
	}
	if !req.Amount.IsPositive() {
		return req, ledgererr.ErrInvalidAmount
	}
	req.Amount = req.Amount.RoundToCents()
	req.Reason = strings.TrimSpace(req.Reason)
	if req.Reason == "" {
		return req, ledgerdomain.ErrInvalidReason
	}
	if req.TransactionDate.IsZero() {
		req.TransactionDate = s.clock.Now()
	}
	req.TransactionDate = req.TransactionDate.UTC()
	return req, nil
}

func (s *Service) pendingForDecision(ctx context.Context, tx *gorm.DB, actor principal.Principal, txnID snowflake.ID) (*ledgerdomain.BalanceTransaction, error) {
	current, err := s.findTransaction(ctx, tx, txnID)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdministrator() && !actor.Owns(current.AccountID) {
		return nil, ledgerdomain.ErrNotOwner
	}
	if current.Status != ledgerdomain.StatusPending {
		return nil, ledgerdomain.ErrNotPending
	}
	return current, nil
}

func (s *Service) findAccount(ctx context.Context, db *gorm.DB, id snowflake.ID) (*ledgerdomain.Account, error) {
	account, err := s.repo.FindAccount(ctx, db, id)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, ledgerdomain.ErrAccountNotFound
	}
	return account, nil
}

func (s *Service) findTransaction(ctx context.Context, db *gorm.DB, id snowflake.ID) (*ledgerdomain.BalanceTransaction, error) {
	txn, err := s.repo.FindTransaction(ctx, db, id)
	if err != nil {
		return nil, err
	}
	if txn == nil {
		return nil, ledgerdomain.ErrTransactionNotFound
	}
	return txn, nil
}

func (s *Service) afterTransaction(ctx context.Context, actor principal.Principal, action, eventType string, txn ledgerdomain.BalanceTransaction, extra map[string]any) {
	details := map[string]any{
		"account_id": txn.AccountID.String(),
		"amount":     txn.Amount.String(),
		"kind":       string(txn.Kind),
		"status":     string(txn.Status),
		"reason":     txn.Reason,
	}
	for k, v := range extra {
		details[k] = v
	}
	s.audit(ctx, actor, action, "balance_transaction", txn.ID, details)
	events.PublishBestEffort(ctx, s.publisher, s.log, events.New(eventType, "balance_transaction", txn.ID.String(), map[string]any{
		"account_id": txn.AccountID.String(),
		"amount":     txn.Amount.String(),
		"status":     string(txn.Status),
	}))
}

func (s *Service) audit(ctx context.Context, actor principal.Principal, action, resourceType string, resourceID snowflake.ID, details map[string]any) {
	if s.auditSvc == nil {
		return
	}
	if err := s.auditSvc.Record(ctx, auditdomain.Entry{
		Actor:        actor,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID.String(),
		Details:      details,
	}); err != nil {
		s.log.Warn("failed to write ledger audit log", zap.String("action", action), zap.Error(err))
	}
}
