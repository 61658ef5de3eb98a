package tracing

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/opsledger/internal/ledgererr"
	obscontext "github.com/smallbiznis/opsledger/internal/observability/context"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/baggage"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// GinMiddleware opens one server span per API request. The acting principal
// is attached once the route's auth middleware has run, and any handler
// error is reduced to its ledger outcome kind.
func GinMiddleware() gin.HandlerFunc {
	tracer := otel.Tracer("opsledger/http")
	return func(c *gin.Context) {
		ctx := ExtractContext(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		ctx, span := tracer.Start(ctx, spanName(c.Request.Method, ""), trace.WithSpanKind(trace.SpanKindServer))

		if requestID := obscontext.RequestIDFromContext(ctx); requestID != "" {
			if member, err := baggage.NewMember("request_id", requestID); err == nil {
				if bag, err := baggage.New(member); err == nil {
					ctx = baggage.ContextWithBaggage(ctx, bag)
				}
			}
			span.SetAttributes(attribute.String("request_id", requestID))
		}

		c.Request = c.Request.WithContext(ctx)
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		status := c.Writer.Status()
		span.SetName(spanName(c.Request.Method, route))
		span.SetAttributes(requestAttributes(c, route, status, time.Since(start))...)

		lastErr := c.Errors.Last()
		switch {
		case status >= http.StatusInternalServerError:
			if lastErr != nil {
				span.RecordError(SafeError(lastErr.Err))
			}
			span.SetStatus(codes.Error, "request error")
		case lastErr != nil:
			span.SetAttributes(attribute.String("ledger.outcome", string(ledgererr.KindOf(lastErr.Err))))
		}
		span.End()
	}
}

var routeResources = []struct {
	prefix string
	key    attribute.Key
}{
	{"/api/v1/accounts/:id", "ledger.account_id"},
	{"/api/v1/transactions/:id", "ledger.transaction_id"},
	{"/api/v1/payables/:id", "ledger.payable_id"},
}

func spanName(method, route string) string {
	name := "opsledger " + strings.ToUpper(method)
	if route != "" {
		name += " " + route
	}
	return name
}

func requestAttributes(c *gin.Context, route string, status int, elapsed time.Duration) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("http.method", c.Request.Method),
		attribute.String("http.route", route),
		attribute.Int("http.status_code", status),
		attribute.Int64("http.server_duration_ms", elapsed.Milliseconds()),
	}
	if role, id := obscontext.ActorFromContext(c.Request.Context()); id != "" {
		attrs = append(attrs,
			attribute.String("ledger.actor_id", id),
			attribute.String("ledger.actor_role", role),
		)
	}
	if id := c.Param("id"); id != "" {
		for _, r := range routeResources {
			if strings.HasPrefix(route, r.prefix) {
				attrs = append(attrs, attribute.String(string(r.key), id))
				break
			}
		}
	}
	return SafeAttributes(attrs...)
}
