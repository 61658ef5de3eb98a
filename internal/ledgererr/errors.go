// Package ledgererr holds the failure taxonomy shared by every balance-affecting operation.
package ledgererr

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/smallbiznis/opsledger/internal/money"
	"gorm.io/gorm"
)

var (
	ErrInvalidAmount          = money.ErrInvalidAmount
	ErrInsufficientBalance    = errors.New("insufficient_balance")
	ErrInsufficientRemaining  = errors.New("insufficient_remaining")
	ErrInvalidState           = errors.New("invalid_state")
	ErrForbidden              = errors.New("forbidden")
	ErrNotFound               = errors.New("not_found")
	ErrConcurrentModification = errors.New("concurrent_modification")
	ErrPersistenceFailure     = errors.New("persistence_failure")
)

type Kind string

const (
	KindNone                   Kind = ""
	KindInvalidAmount          Kind = "invalid_amount"
	KindInsufficientBalance    Kind = "insufficient_balance"
	KindInsufficientRemaining  Kind = "insufficient_remaining"
	KindInvalidState           Kind = "invalid_state"
	KindForbidden              Kind = "forbidden"
	KindNotFound               Kind = "not_found"
	KindConcurrentModification Kind = "concurrent_modification"
	KindPersistenceFailure     Kind = "persistence_failure"
	KindUnknown                Kind = "unknown"
)

var kinds = []struct {
	err  error
	kind Kind
}{
	{ErrInvalidAmount, KindInvalidAmount},
	{ErrInsufficientBalance, KindInsufficientBalance},
	{ErrInsufficientRemaining, KindInsufficientRemaining},
	{ErrInvalidState, KindInvalidState},
	{ErrForbidden, KindForbidden},
	{ErrNotFound, KindNotFound},
	{ErrConcurrentModification, KindConcurrentModification},
	{ErrPersistenceFailure, KindPersistenceFailure},
}

// KindOf classifies err into the taxonomy. Unclassified errors are KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindUnknown
}

// IsBusinessRule reports errors that go straight back to the caller and are never retried.
func IsBusinessRule(err error) bool {
	switch KindOf(err) {
	case KindInvalidAmount, KindInsufficientBalance, KindInsufficientRemaining,
		KindInvalidState, KindForbidden, KindNotFound:
		return true
	default:
		return false
	}
}

// FromPersistence normalizes a storage error. Errors already in the taxonomy pass through.
func FromPersistence(err error) error {
	if err == nil {
		return nil
	}
	if KindOf(err) != KindUnknown {
		return err
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrPersistenceFailure, err)
	}
	if isConflict(err) {
		return fmt.Errorf("%w: %v", ErrConcurrentModification, err)
	}
	return fmt.Errorf("%w: %v", ErrPersistenceFailure, err)
}

func isConflict(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03":
			return true
		}
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "sqlite_busy")
}
