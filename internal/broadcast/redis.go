package broadcast

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mirado/sms-dispatch/internal/observability"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var _ Broadcaster = (*RedisBroadcaster)(nil)

// RedisBroadcaster publishes status updates over Redis pub/sub so other
// school-system services can react to delivery changes in real time.
type RedisBroadcaster struct {
	client  *goredis.Client
	logger  *zap.Logger
	metrics *observability.Metrics
}

func NewRedisBroadcaster(client *goredis.Client, logger *zap.Logger) (*RedisBroadcaster, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RedisBroadcaster{client: client, logger: logger}, nil
}

func (b *RedisBroadcaster) SetMetrics(metrics *observability.Metrics) {
	b.metrics = metrics
}

func (b *RedisBroadcaster) Publish(ctx context.Context, channel string, update StatusUpdate) error {
	payload, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("failed to marshal status update: %w", err)
	}

	if err := b.client.Publish(ctx, channel, payload).Err(); err != nil {
		b.logger.Warn("failed to publish status update",
			zap.String("channel", channel),
			zap.String("smsLogId", update.SmsLogID),
			zap.Error(err),
		)
		return fmt.Errorf("failed to publish status update: %w", err)
	}

	b.metrics.IncBroadcast(channel)
	return nil
}
