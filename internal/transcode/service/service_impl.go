package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/fanlore/fanlore/internal/config"
	"github.com/fanlore/fanlore/internal/transcode/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB  *gorm.DB
	Log *zap.Logger
	Cfg config.Config
}

type service struct {
	db     *gorm.DB
	log    *zap.Logger
	secret string
}

func NewService(p Params) domain.Service {
	return &service{
		db:     p.DB,
		log:    p.Log.Named("transcode.service"),
		secret: p.Cfg.TranscodeWebhookSecret,
	}
}

type notice struct {
	AssetID snowflake.ID       `json:"asset_id"`
	Status  domain.AssetStatus `json:"status"`
}

func (s *service) HandleWebhook(ctx context.Context, payload []byte, signatureHeader string) error {
	if !verifySignature(payload, signatureHeader, s.secret) {
		s.log.Warn("transcoding callback signature mismatch")
		return domain.ErrInvalidSignature
	}

	var n notice
	if err := json.Unmarshal(payload, &n); err != nil {
		return domain.ErrInvalidPayload
	}
	if n.AssetID == 0 || !domain.ValidAssetStatus(n.Status) {
		return domain.ErrInvalidPayload
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var asset domain.MediaAsset
		if err := tx.
			Where("id = ?", n.AssetID).
			Limit(1).
			Find(&asset).Error; err != nil {
			return err
		}
		if asset.ID == 0 {
			s.log.Warn("transcoding callback for unknown asset",
				zap.Int64("asset_id", int64(n.AssetID)),
			)
			return nil
		}
		if !domain.CanAdvance(asset.Status, n.Status) {
			s.log.Info("ignored stale transcoding notice",
				zap.Int64("asset_id", int64(asset.ID)),
				zap.String("current", string(asset.Status)),
				zap.String("incoming", string(n.Status)),
			)
			return nil
		}
		return tx.Exec(
			`UPDATE media_assets SET status = ?, updated_at = ? WHERE id = ?`,
			n.Status,
			time.Now().UTC(),
			asset.ID,
		).Error
	})
}

func (s *service) GetByID(ctx context.Context, id snowflake.ID) (*domain.MediaAsset, error) {
	var asset domain.MediaAsset
	err := s.db.WithContext(ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&asset).Error
	if err != nil {
		return nil, err
	}
	if asset.ID == 0 {
		return nil, domain.ErrAssetNotFound
	}
	return &asset, nil
}

func verifySignature(payload []byte, signatureHeader, secret string) bool {
	sig := strings.TrimSpace(signatureHeader)
	if sig == "" || strings.TrimSpace(secret) == "" {
		return false
	}
	decoded, err := hex.DecodeString(strings.ToLower(sig))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), decoded)
}

// SignPayload computes the hex HMAC-SHA256 signature the CDN sends. Exported
// for tests and local tooling.
func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
