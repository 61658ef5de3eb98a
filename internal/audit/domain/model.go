package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type AuditLog struct {
	ID           snowflake.ID      `gorm:"primaryKey" json:"id"`
	ActorID      *string           `gorm:"type:varchar(32)" json:"actor_id,omitempty"`
	ActorRole    string            `gorm:"type:varchar(32);not null" json:"actor_role"`
	Action       string            `gorm:"type:varchar(96);not null;index" json:"action"`
	ResourceType string            `gorm:"type:varchar(64);not null" json:"resource_type"`
	ResourceID   *string           `gorm:"type:varchar(32)" json:"resource_id,omitempty"`
	Details      datatypes.JSONMap `gorm:"type:jsonb" json:"details,omitempty"`
	CreatedAt    time.Time         `gorm:"not null;index" json:"created_at"`
}

func (AuditLog) TableName() string { return "audit_logs" }

type AuditCursor struct {
	ID        snowflake.ID
	CreatedAt time.Time
}

type ListFilter struct {
	Action       string
	ResourceType string
	ResourceID   string
	ActorID      string
	StartAt      *time.Time
	EndAt        *time.Time
	Cursor       *AuditCursor
	Limit        int
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *AuditLog) error
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*AuditLog, error)
}
