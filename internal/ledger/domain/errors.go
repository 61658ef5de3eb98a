package domain

import (
	"errors"
	"fmt"

	"github.com/smallbiznis/opsledger/internal/ledgererr"
)

var (
	ErrInvalidAccount     = errors.New("invalid_account")
	ErrInvalidReason      = errors.New("invalid_reason")
	ErrInvalidRole        = errors.New("invalid_role")
	ErrInvalidDisplayName = errors.New("invalid_display_name")
	ErrInvalidPageToken   = errors.New("invalid_page_token")

	ErrAccountNotFound     = fmt.Errorf("%w: account", ledgererr.ErrNotFound)
	ErrTransactionNotFound = fmt.Errorf("%w: balance transaction", ledgererr.ErrNotFound)
	ErrNotPending          = fmt.Errorf("%w: transaction is not pending", ledgererr.ErrInvalidState)
	ErrNotOwner            = fmt.Errorf("%w: not the account holder", ledgererr.ErrForbidden)
	ErrOverrideNotAllowed  = fmt.Errorf("%w: balance override not permitted", ledgererr.ErrForbidden)
	ErrAccountExists       = fmt.Errorf("%w: account already exists", ledgererr.ErrInvalidState)
	ErrTransactionFunds    = fmt.Errorf("%w: transaction funds a payment or expense", ledgererr.ErrInvalidState)
)
