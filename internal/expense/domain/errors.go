package domain

import (
	"errors"
	"fmt"

	"github.com/smallbiznis/opsledger/internal/ledgererr"
)

var (
	ErrInvalidDescription     = errors.New("invalid_description")
	ErrInvalidCategory        = errors.New("invalid_category")
	ErrInvalidType            = errors.New("invalid_expense_type")
	ErrInvalidRejectionReason = errors.New("invalid_rejection_reason")
	ErrInvalidPeriod          = errors.New("invalid_period")

	ErrExpenseNotFound = fmt.Errorf("%w: expense", ledgererr.ErrNotFound)
	ErrNotPending      = fmt.Errorf("%w: expense is not pending", ledgererr.ErrInvalidState)
	ErrNotOwner        = fmt.Errorf("%w: not the expense owner", ledgererr.ErrForbidden)
)
