package changefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/charlesng35/ticketdesk/pkg/logger"
)

const redisSource = "redis"

type relayEnvelope struct {
	InstanceID string          `json:"instance_id"`
	Event      json.RawMessage `json:"event"`
}

// RedisRelay publishes locally captured events to the local feed and to a Redis channel, and
// forwards events captured by other instances into the local feed.
type RedisRelay struct {
	client     *redis.Client
	channel    string
	feed       *Feed
	backoff    Backoff
	instanceID string
	timeout    time.Duration
	log        *zap.Logger
}

// NewRedisRelay builds a relay over client. Events from other instances are missed until
// the first subscription succeeds, so the feed starts interrupted.
func NewRedisRelay(client *redis.Client, channel string, feed *Feed, backoff Backoff) *RedisRelay {
	feed.Interrupt(redisSource, errNotConnected)
	return &RedisRelay{
		client:     client,
		channel:    channel,
		feed:       feed,
		backoff:    backoff.normalized(),
		instanceID: uuid.NewString(),
		timeout:    5 * time.Second,
		log:        logger.WithModule("changefeed.redis"),
	}
}

// InstanceID identifies this process on the relay channel.
func (r *RedisRelay) InstanceID() string {
	return r.instanceID
}

// Publish implements Publisher. Local subscribers always receive evt; a failed relay only
// affects other instances and is logged.
func (r *RedisRelay) Publish(evt Event) {
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.CommittedAt.IsZero() {
		evt.CommittedAt = time.Now().UTC()
	}
	r.feed.Publish(evt)

	payload, err := json.Marshal(evt)
	if err != nil {
		r.log.Error("failed to marshal change event", zap.Error(err))
		return
	}
	data, err := json.Marshal(relayEnvelope{InstanceID: r.instanceID, Event: payload})
	if err != nil {
		r.log.Error("failed to marshal relay envelope", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		r.log.Warn("failed to relay change event",
			zap.String("table", evt.Table),
			zap.String("operation", string(evt.Operation)),
			zap.Error(err))
	}
}

// Run subscribes to the relay channel until ctx is done, reconnecting with exponential backoff.
func (r *RedisRelay) Run(ctx context.Context) error {
	backoff := r.backoff.Min

	for {
		subscribed, err := r.subscribe(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if subscribed {
			backoff = r.backoff.Min
		}

		r.feed.Interrupt(redisSource, err)
		r.log.Warn("relay subscription disconnected, reconnecting",
			zap.String("channel", r.channel),
			zap.Error(err),
			zap.Duration("backoff", backoff))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff = min(backoff*2, r.backoff.Max)
	}
}

func (r *RedisRelay) subscribe(ctx context.Context) (bool, error) {
	pubsub := r.client.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return false, fmt.Errorf("subscribe %s: %w", r.channel, err)
	}

	r.log.Info("subscribed to change relay", zap.String("channel", r.channel))
	r.feed.Resume(redisSource)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return true, ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return true, fmt.Errorf("relay channel %s closed", r.channel)
			}
			r.receive(msg.Payload)
		}
	}
}

func (r *RedisRelay) receive(payload string) {
	var envelope relayEnvelope
	if err := json.Unmarshal([]byte(payload), &envelope); err != nil {
		r.log.Warn("failed to unmarshal relay envelope", zap.Error(err))
		return
	}
	if envelope.InstanceID == r.instanceID {
		return
	}
	evt, err := decodeEvent(envelope.Event)
	if err != nil {
		r.log.Warn("dropping malformed relayed event", zap.Error(err))
		return
	}
	r.feed.Publish(evt)
}
