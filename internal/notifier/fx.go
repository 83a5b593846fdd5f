package notifier

import (
	"context"

	"github.com/fanlore/fanlore/internal/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func New(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) Notifier {
	if cfg.RedisAddr == "" {
		log.Warn("REDIS_ADDR not set, notifications will be dropped")
		return NewNoopNotifier(log)
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return NewRedisNotifier(client, log)
}

var Module = fx.Module("notifier",
	fx.Provide(New),
)
