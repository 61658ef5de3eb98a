package metrics

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("operation", "pay"),
		attribute.String("account_id", "456"),
		attribute.String("outcome", "ok"),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	if attrs[0].Key != "operation" && attrs[1].Key != "operation" {
		t.Fatalf("expected operation to be retained")
	}
	if attrs[0].Key == "account_id" || attrs[1].Key == "account_id" {
		t.Fatalf("expected account_id to be dropped")
	}
}

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	m.RecordLedgerOperation(ctx, "credit", "ok")
	m.RecordConflictRetry(ctx, "pay")
	m.RecordCompensation(ctx, "pay", "ok")
	m.RecordDriftCorrection(ctx, "reconcile_balances")
}

func TestNewWithNoopProvider(t *testing.T) {
	m, err := New(Config{}, noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m.RecordLedgerOperation(context.Background(), "debit", "insufficient_balance")
}
