package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Order is a purchase intent owned by one user. Number is the reference the
// payment processor echoes back as order_number; it is allocated at invoice
// time, before any callback can arrive.
type Order struct {
	ID        snowflake.ID `json:"id" gorm:"primaryKey"`
	Number    string       `json:"number" gorm:"type:text;not null;uniqueIndex:ux_orders_number"`
	UserID    snowflake.ID `json:"user_id" gorm:"not null;index"`
	Amount    int64        `json:"amount" gorm:"not null"`
	Currency  string       `json:"currency" gorm:"type:text;not null"`
	Status    Status       `json:"status" gorm:"type:text;not null;index"`
	CreatedAt time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt time.Time    `json:"updated_at" gorm:"not null"`
}

func (Order) TableName() string { return "orders" }

var ErrNotFound = errors.New("order_not_found")

type Repository interface {
	FindByNumber(ctx context.Context, db *gorm.DB, number string) (*Order, error)
	Insert(ctx context.Context, db *gorm.DB, order *Order) error
	UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status Status, now time.Time) error
}
