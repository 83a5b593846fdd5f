package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ActorType string

const (
	ActorTypeSystem    ActorType = "system"
	ActorTypeProcessor ActorType = "processor"
	ActorTypeOperator  ActorType = "operator"
)

// AuditLog is an append-only record of a state transition or ledger effect,
// carrying enough context to reconstruct a payment's history without
// replaying webhooks.
type AuditLog struct {
	ID         snowflake.ID      `json:"id" gorm:"primaryKey"`
	ActorType  ActorType         `json:"actor_type" gorm:"type:text;not null"`
	Action     string            `json:"action" gorm:"type:text;not null;index"`
	TargetType string            `json:"target_type" gorm:"type:text;not null"`
	TargetID   string            `json:"target_id" gorm:"type:text;index"`
	Metadata   datatypes.JSONMap `json:"metadata"`
	CreatedAt  time.Time         `json:"created_at" gorm:"not null;index"`
}

func (AuditLog) TableName() string { return "audit_logs" }

var ErrInvalidAction = errors.New("invalid_action")

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *AuditLog) error
	ListByTarget(ctx context.Context, db *gorm.DB, targetType, targetID string, limit int) ([]*AuditLog, error)
}

// Service writes audit entries. The db handle is passed per call so entries
// can join the caller's open transaction.
type Service interface {
	AuditLog(ctx context.Context, db *gorm.DB, actor ActorType, action, targetType, targetID string, metadata map[string]any) error
	ListByTarget(ctx context.Context, targetType, targetID string, limit int) ([]*AuditLog, error)
}
