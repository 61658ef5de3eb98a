// Package context carries request-scoped identifiers used by logs and spans.
package context

import (
	"context"
	"strings"

	"github.com/smallbiznis/opsledger/internal/principal"
)

type requestIDKey struct{}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(requestIDKey{}).(string)
	return value
}

// ActorFromContext returns the acting role and id, empty when unauthenticated.
func ActorFromContext(ctx context.Context) (string, string) {
	p, ok := principal.FromContext(ctx)
	if !ok {
		return "", ""
	}
	return string(p.Role), p.ID.String()
}
