package events

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

const (
	TypeTransactionRecorded  = "balance_transaction.recorded"
	TypeTransactionConfirmed = "balance_transaction.confirmed"
	TypeTransactionRejected  = "balance_transaction.rejected"
	TypeTransactionDeleted   = "balance_transaction.deleted"
	TypeBalanceReconciled    = "account.balance_reconciled"
	TypePayableOpened        = "payable.opened"
	TypePayablePaid          = "payable.paid"
	TypePayableDeleted       = "payable.deleted"
	TypeExpenseApproved      = "expense.approved"
	TypeOrderLocked          = "order.locked"
	TypeOrderCancelled       = "order.cancelled"
)

// Event is a committed state change announced to downstream consumers.
type Event struct {
	ID            string         `json:"id"`
	Type          string         `json:"type"`
	AggregateType string         `json:"aggregate_type"`
	AggregateID   string         `json:"aggregate_id"`
	OccurredAt    time.Time      `json:"occurred_at"`
	Payload       map[string]any `json:"payload,omitempty"`
}

func New(eventType, aggregateType, aggregateID string, payload map[string]any) Event {
	return Event{
		ID:            ulid.Make().String(),
		Type:          eventType,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		OccurredAt:    time.Now().UTC(),
		Payload:       payload,
	}
}

type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

// PublishBestEffort publishes after commit. Failures are logged and dropped.
func PublishBestEffort(ctx context.Context, pub Publisher, log *zap.Logger, evt Event) {
	if pub == nil {
		return
	}
	if err := pub.Publish(context.WithoutCancel(ctx), evt); err != nil && log != nil {
		log.Warn("failed to publish event",
			zap.String("event_type", evt.Type),
			zap.String("aggregate_id", evt.AggregateID),
			zap.Error(err),
		)
	}
}
