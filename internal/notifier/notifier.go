// Package notifier enqueues downstream notification jobs keyed off a new
// payment or media state. Delivery itself happens in a separate worker;
// nothing here may block or fail the reconciliation path.
package notifier

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const queueKey = "fanlore:notify"

// Notifier is a fire-and-forget enqueue. Implementations must never return
// an error the caller depends on for correctness.
type Notifier interface {
	Notify(ctx context.Context, kind string, payload map[string]any)
}

type job struct {
	Kind       string         `json:"kind"`
	Payload    map[string]any `json:"payload"`
	EnqueuedAt time.Time      `json:"enqueued_at"`
}

type redisNotifier struct {
	client *redis.Client
	log    *zap.Logger
}

func NewRedisNotifier(client *redis.Client, log *zap.Logger) Notifier {
	return &redisNotifier{
		client: client,
		log:    log.Named("notifier"),
	}
}

func (n *redisNotifier) Notify(ctx context.Context, kind string, payload map[string]any) {
	body, err := json.Marshal(job{
		Kind:       kind,
		Payload:    payload,
		EnqueuedAt: time.Now().UTC(),
	})
	if err != nil {
		n.log.Warn("failed to encode notification job", zap.String("kind", kind), zap.Error(err))
		return
	}
	if err := n.client.LPush(ctx, queueKey, body).Err(); err != nil {
		n.log.Warn("failed to enqueue notification job", zap.String("kind", kind), zap.Error(err))
	}
}

type noopNotifier struct {
	log *zap.Logger
}

// NewNoopNotifier is used when no queue backend is configured; jobs are
// logged and dropped.
func NewNoopNotifier(log *zap.Logger) Notifier {
	return &noopNotifier{log: log.Named("notifier")}
}

func (n *noopNotifier) Notify(_ context.Context, kind string, payload map[string]any) {
	n.log.Debug("notification dropped (no queue configured)", zap.String("kind", kind), zap.Any("payload", payload))
}
