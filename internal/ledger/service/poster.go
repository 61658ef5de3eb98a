package service

import (
	"context"
	"fmt"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/smallbiznis/opsledger/internal/ledger/domain"
	"github.com/smallbiznis/opsledger/internal/ledgererr"
	"github.com/smallbiznis/opsledger/internal/principal"
	"gorm.io/gorm"
)

// DebitTx records a confirmed debit on tx. The caller owns the transaction and
// has already authorized actor.
func (s *Service) DebitTx(ctx context.Context, tx *gorm.DB, actor principal.Principal, req ledgerdomain.RecordRequest) (ledgerdomain.BalanceTransaction, error) {
	req, err := s.normalizeRecord(req)
	if err != nil {
		return ledgerdomain.BalanceTransaction{}, err
	}
	if err := s.checkOverride(actor, req); err != nil {
		return ledgerdomain.BalanceTransaction{}, err
	}
	return s.debitTx(ctx, tx, actor, req)
}

// CreditConfirmedTx records a credit that takes effect immediately. Only used
// to compensate a debit whose follow-up writes failed.
func (s *Service) CreditConfirmedTx(ctx context.Context, tx *gorm.DB, actor principal.Principal, req ledgerdomain.RecordRequest) (ledgerdomain.BalanceTransaction, error) {
	req, err := s.normalizeRecord(req)
	if err != nil {
		return ledgerdomain.BalanceTransaction{}, err
	}
	if _, err := s.findAccount(ctx, tx, req.AccountID); err != nil {
		return ledgerdomain.BalanceTransaction{}, err
	}

	now := s.clock.Now()
	applied, err := s.repo.ApplyDelta(ctx, tx, req.AccountID, req.Amount, now)
	if err != nil {
		return ledgerdomain.BalanceTransaction{}, err
	}
	if !applied {
		return ledgerdomain.BalanceTransaction{}, ledgerdomain.ErrAccountNotFound
	}

	confirmedBy := actor.ID
	txn := ledgerdomain.BalanceTransaction{
		ID:              s.genID.Generate(),
		AccountID:       req.AccountID,
		Amount:          req.Amount,
		Kind:            ledgerdomain.KindCredit,
		Reason:          req.Reason,
		TransactionDate: req.TransactionDate,
		CreatedBy:       actor.ID,
		Status:          ledgerdomain.StatusConfirmed,
		ConfirmedBy:     &confirmedBy,
		ConfirmedAt:     &now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.repo.InsertTransaction(ctx, tx, &txn); err != nil {
		return ledgerdomain.BalanceTransaction{}, err
	}
	return txn, nil
}

// RemoveTx deletes a transaction on tx, reversing its balance effect when confirmed.
func (s *Service) RemoveTx(ctx context.Context, tx *gorm.DB, txnID snowflake.ID) (ledgerdomain.BalanceTransaction, error) {
	current, err := s.findTransaction(ctx, tx, txnID)
	if err != nil {
		return ledgerdomain.BalanceTransaction{}, err
	}

	if current.Status == ledgerdomain.StatusConfirmed {
		applied, err := s.repo.ApplyDelta(ctx, tx, current.AccountID, current.Amount.Neg(), s.clock.Now())
		if err != nil {
			return ledgerdomain.BalanceTransaction{}, err
		}
		if !applied {
			return ledgerdomain.BalanceTransaction{}, ledgerdomain.ErrAccountNotFound
		}
	}

	deleted, err := s.repo.DeleteTransaction(ctx, tx, txnID, current.Status)
	if err != nil {
		return ledgerdomain.BalanceTransaction{}, err
	}
	if !deleted {
		// Status moved under us; the caller re-reads and retries.
		return ledgerdomain.BalanceTransaction{}, ledgererr.ErrConcurrentModification
	}
	return *current, nil
}

func (s *Service) debitTx(ctx context.Context, tx *gorm.DB, actor principal.Principal, req ledgerdomain.RecordRequest) (ledgerdomain.BalanceTransaction, error) {
	if _, err := s.findAccount(ctx, tx, req.AccountID); err != nil {
		return ledgerdomain.BalanceTransaction{}, err
	}

	now := s.clock.Now()
	var (
		applied bool
		err     error
	)
	if req.Override {
		applied, err = s.repo.ApplyDelta(ctx, tx, req.AccountID, req.Amount.Neg(), now)
	} else {
		applied, err = s.repo.ApplyGuardedDebit(ctx, tx, req.AccountID, req.Amount, now)
	}
	if err != nil {
		return ledgerdomain.BalanceTransaction{}, err
	}
	if !applied {
		return ledgerdomain.BalanceTransaction{}, fmt.Errorf("%w: account %s", ledgererr.ErrInsufficientBalance, req.AccountID)
	}

	confirmedBy := actor.ID
	txn := ledgerdomain.BalanceTransaction{
		ID:              s.genID.Generate(),
		AccountID:       req.AccountID,
		Amount:          req.Amount.Neg(),
		Kind:            ledgerdomain.KindDebit,
		Reason:          req.Reason,
		TransactionDate: req.TransactionDate,
		CreatedBy:       actor.ID,
		Status:          ledgerdomain.StatusConfirmed,
		ConfirmedBy:     &confirmedBy,
		ConfirmedAt:     &now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.repo.InsertTransaction(ctx, tx, &txn); err != nil {
		return ledgerdomain.BalanceTransaction{}, err
	}
	return txn, nil
}
