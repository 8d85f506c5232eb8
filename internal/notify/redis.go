package notify

import (
	"context"
	"encoding/json"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"

	"github.com/quindar/refdata-api/internal/types"
)

// ChannelChanges is the pub/sub channel carrying instrument change events
const ChannelChanges = "refdata:changes"

const publishTimeout = 2 * time.Second

// RedisPublisher broadcasts change events to downstream consumers over
// Redis pub/sub. Publish failures are logged and dropped; the journal
// table remains the durable record.
type RedisPublisher struct {
	client  *goredis.Client
	channel string
}

// NewRedisPublisher creates a publisher on the standard changes channel
func NewRedisPublisher(client *goredis.Client) *RedisPublisher {
	return &RedisPublisher{client: client, channel: ChannelChanges}
}

// Name identifies the listener
func (p *RedisPublisher) Name() string {
	return "redis_publisher"
}

// Notify publishes the event as JSON
func (p *RedisPublisher) Notify(ctx context.Context, event types.ChangeEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("change_id", event.ChangeID).Msg("failed to encode change event")
		return
	}

	tctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := p.client.Publish(tctx, p.channel, payload).Err(); err != nil {
		log.Warn().
			Err(err).
			Str("channel", p.channel).
			Str("change_id", event.ChangeID).
			Msg("failed to publish change event")
	}
}
