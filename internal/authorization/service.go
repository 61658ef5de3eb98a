package authorization

import (
	"context"

	"github.com/smallbiznis/opsledger/internal/principal"
)

// Service decides whether a principal may perform an action on an object type.
type Service interface {
	Authorize(ctx context.Context, actor principal.Principal, object string, action string) error
}
