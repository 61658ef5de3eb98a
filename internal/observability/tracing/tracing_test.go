package tracing

import (
	"errors"
	"fmt"
	"testing"

	"github.com/smallbiznis/opsledger/internal/ledgererr"
	"go.opentelemetry.io/otel/attribute"
)

func TestSafeAttributesDropsAmounts(t *testing.T) {
	attrs := SafeAttributes(
		attribute.String("ledger.operation", "pay"),
		attribute.String("amount", "60.00"),
		attribute.String("notes", "cash"),
	)
	if len(attrs) != 1 {
		t.Fatalf("expected 1 attribute, got %d", len(attrs))
	}
	if attrs[0].Key != "ledger.operation" {
		t.Fatalf("unexpected attribute %q", attrs[0].Key)
	}
}

func TestSafeError(t *testing.T) {
	if SafeError(nil) != nil {
		t.Fatalf("expected nil")
	}
	got := SafeError(fmt.Errorf("pay 42: %w", ledgererr.ErrInsufficientBalance))
	if got.Error() != "insufficient_balance" {
		t.Fatalf("unexpected error %q", got)
	}
	if SafeError(errors.New("secret dsn")).Error() != "internal_error" {
		t.Fatalf("expected internal_error")
	}
}
