package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

type AssetStatus string

const (
	AssetStatusUploaded   AssetStatus = "uploaded"
	AssetStatusProcessing AssetStatus = "processing"
	AssetStatusReady      AssetStatus = "ready"
	AssetStatusFailed     AssetStatus = "failed"
)

// rank orders the lifecycle. Transitions only move forward; ready and
// failed are terminal.
var rank = map[AssetStatus]int{
	AssetStatusUploaded:   0,
	AssetStatusProcessing: 1,
	AssetStatusReady:      2,
	AssetStatusFailed:     2,
}

func ValidAssetStatus(s AssetStatus) bool {
	_, ok := rank[s]
	return ok
}

func CanAdvance(current, incoming AssetStatus) bool {
	cur, ok := rank[current]
	if !ok {
		return false
	}
	in, ok := rank[incoming]
	if !ok {
		return false
	}
	if current == AssetStatusReady || current == AssetStatusFailed {
		return false
	}
	return in > cur
}

type MediaAsset struct {
	ID        snowflake.ID `json:"id" gorm:"primaryKey"`
	UserID    snowflake.ID `json:"user_id" gorm:"not null;index"`
	Title     string       `json:"title" gorm:"type:text"`
	Status    AssetStatus  `json:"status" gorm:"type:text;not null"`
	CreatedAt time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt time.Time    `json:"updated_at" gorm:"not null"`
}

func (MediaAsset) TableName() string { return "media_assets" }

var (
	ErrInvalidSignature = errors.New("transcode_invalid_signature")
	ErrInvalidPayload   = errors.New("transcode_invalid_payload")
	ErrAssetNotFound    = errors.New("media_asset_not_found")
)

// Service consumes CDN transcoding callbacks.
type Service interface {
	// HandleWebhook verifies the HMAC header against the raw body, then
	// advances the asset status. Stale or out-of-order notices are
	// acknowledged without effect.
	HandleWebhook(ctx context.Context, payload []byte, signatureHeader string) error
	GetByID(ctx context.Context, id snowflake.ID) (*MediaAsset, error)
}
