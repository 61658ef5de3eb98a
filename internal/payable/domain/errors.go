package domain

import (
	"errors"
	"fmt"

	"github.com/smallbiznis/opsledger/internal/ledgererr"
)

var (
	ErrInvalidSupplier    = errors.New("invalid_supplier")
	ErrInvalidDescription = errors.New("invalid_description")
	ErrInvalidEntry       = errors.New("invalid_entry")

	ErrEntryNotFound         = fmt.Errorf("%w: payable entry", ledgererr.ErrNotFound)
	ErrInsufficientRemaining = fmt.Errorf("%w: payment exceeds remaining amount", ledgererr.ErrInsufficientRemaining)
	ErrNotPayer              = fmt.Errorf("%w: payments are funded from the payer's own custody", ledgererr.ErrForbidden)
	ErrCompensationFailed    = errors.New("payable compensation failed")
)
