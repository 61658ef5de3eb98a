package authorization

import (
	"errors"

	"github.com/smallbiznis/opsledger/internal/ledgererr"
)

var (
	ErrForbidden     = ledgererr.ErrForbidden
	ErrInvalidActor  = errors.New("invalid_actor")
	ErrInvalidObject = errors.New("invalid_object")
	ErrInvalidAction = errors.New("invalid_action")
)
