package domain

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/opsledger/internal/principal"
	"github.com/smallbiznis/opsledger/pkg/db/pagination"
)

// Entry is one mutating operation to append to the trail.
type Entry struct {
	Actor        principal.Principal
	Action       string
	ResourceType string
	ResourceID   string
	Details      map[string]any
}

type ListAuditLogRequest struct {
	pagination.Pagination
	Action       string
	ResourceType string
	ResourceID   string
	ActorID      string
	StartAt      *time.Time
	EndAt        *time.Time
}

type ListAuditLogResponse struct {
	pagination.PageInfo
	AuditLogs []AuditLog `json:"audit_logs"`
}

// Service appends to and reads the audit trail. Record never participates in the
// caller's transaction and callers never roll back on its failure.
type Service interface {
	Record(ctx context.Context, entry Entry) error
	List(ctx context.Context, req ListAuditLogRequest) (ListAuditLogResponse, error)
}

var (
	ErrInvalidPageToken = errors.New("invalid_page_token")
	ErrInvalidTimeRange = errors.New("invalid_time_range")
	ErrInvalidAction    = errors.New("invalid_action")
)
