package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// User is the owning account for orders and wallet balances. Profile data
// lives with the rest of the marketplace; the reconciliation engine only
// needs identity.
type User struct {
	ID          snowflake.ID `json:"id" gorm:"primaryKey"`
	Email       string       `json:"email" gorm:"type:text;not null;uniqueIndex:ux_users_email"`
	DisplayName string       `json:"display_name" gorm:"type:text"`
	CreatedAt   time.Time    `json:"created_at" gorm:"not null"`
}

func (User) TableName() string { return "users" }
