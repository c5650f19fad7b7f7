package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/example/boardsync/internal/relay"
	"github.com/example/boardsync/internal/types"
)

const (
	defaultTopicPrefix = "room:"
	outboundQueueSize  = 256
	maxBackoffDelay    = 30 * time.Second
)

type redisMessage struct {
	InstanceID string `json:"instance_id"`
	Room       string `json:"room"`
	From       string `json:"from"`
	Frame      []byte `json:"frame"`
	LastSync   string `json:"last_sync,omitempty"`
	EnqueuedAt int64  `json:"enqueued_at"`
}

// RedisBridge mirrors room traffic between relay instances over Redis
// Pub/Sub. Each instance publishes its local broadcasts to the room topic
// and replays everything published by siblings into the local registry.
type RedisBridge struct {
	client   *redis.Client
	registry *relay.Registry
	logger   zerolog.Logger

	instanceID  string
	topicPrefix string
	outbound    chan redisMessage

	latency *prometheus.HistogramVec
}

// NewRedisBridge constructs a bridge backed by Redis Pub/Sub.
func NewRedisBridge(client *redis.Client, registry *relay.Registry, logger zerolog.Logger) *RedisBridge {
	histogram := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "boardsync",
		Subsystem: "bridge",
		Name:      "publish_to_replay_seconds",
		Help:      "Observed latency between publish and replay on a sibling instance.",
		Buckets:   prometheus.LinearBuckets(0.005, 0.005, 12),
	}, []string{"room"})

	if err := prometheus.Register(histogram); err != nil {
		if regErr, ok := err.(prometheus.AlreadyRegisteredError); ok {
			histogram = regErr.ExistingCollector.(*prometheus.HistogramVec)
		}
	}

	return &RedisBridge{
		client:      client,
		registry:    registry,
		logger:      logger.With().Str("component", "bridge").Logger(),
		instanceID:  uuid.NewString(),
		topicPrefix: defaultTopicPrefix,
		outbound:    make(chan redisMessage, outboundQueueSize),
		latency:     histogram,
	}
}

// Publish queues a local broadcast for mirroring. It never blocks the
// relay's fan-out path; when Redis is behind, the frame is dropped and
// siblings catch up from the next snapshot.
func (b *RedisBridge) Publish(_ context.Context, room types.RoomName, from types.PeerID, frame []byte, lastSync string) {
	msg := redisMessage{
		InstanceID: b.instanceID,
		Room:       string(room),
		From:       string(from),
		Frame:      frame,
		LastSync:   lastSync,
		EnqueuedAt: time.Now().UTC().UnixNano(),
	}
	select {
	case b.outbound <- msg:
	default:
		b.logger.Warn().Str("room", string(room)).Msg("bridge outbound queue full; frame dropped")
	}
}

// Start begins the publish drain and the subscription loop. Both stop when
// ctx is cancelled.
func (b *RedisBridge) Start(ctx context.Context) {
	go b.drainOutbound(ctx)
	go b.run(ctx)
}

func (b *RedisBridge) drainOutbound(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-b.outbound:
			b.publishWithRetry(ctx, msg)
		}
	}
}

func (b *RedisBridge) publishWithRetry(ctx context.Context, msg redisMessage) {
	encoded, err := json.Marshal(msg)
	if err != nil {
		b.logger.Error().Err(err).Msg("encode bridge payload")
		return
	}

	topic := b.topic(types.RoomName(msg.Room))
	backoff := time.Second
	for {
		if err := b.client.Publish(ctx, topic, encoded).Err(); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			b.logger.Warn().Err(err).Str("topic", topic).Dur("backoff", backoff).Msg("redis publish failed; retrying")
			select {
			case <-time.After(backoff):
				backoff = min(backoff*2, maxBackoffDelay)
				continue
			case <-ctx.Done():
				return
			}
		}
		return
	}
}

func (b *RedisBridge) run(ctx context.Context) {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return
		}

		pubsub := b.client.PSubscribe(ctx, fmt.Sprintf("%s*", b.topicPrefix))
		if err := b.consume(ctx, pubsub); err != nil && !errors.Is(err, context.Canceled) {
			b.logger.Warn().Err(err).Dur("backoff", backoff).Msg("redis subscription interrupted; retrying")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
			backoff = min(backoff*2, maxBackoffDelay)
		}
	}
}

func (b *RedisBridge) consume(ctx context.Context, pubsub *redis.PubSub) error {
	defer pubsub.Close()

	ch := pubsub.Channel(redis.WithChannelSize(256))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return errors.New("pubsub channel closed")
			}
			if err := b.process(msg); err != nil {
				b.logger.Warn().Err(err).Msg("failed to process bridge message")
			}
		}
	}
}

func (b *RedisBridge) process(msg *redis.Message) error {
	var payload redisMessage
	if err := json.Unmarshal([]byte(msg.Payload), &payload); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	if payload.Room == "" || payload.InstanceID == "" {
		return errors.New("incomplete payload")
	}

	// Our own publishes come back on the subscription; drop them here so
	// local peers never receive a frame twice.
	if payload.InstanceID == b.instanceID {
		return nil
	}

	if payload.EnqueuedAt > 0 {
		latency := float64(time.Since(time.Unix(0, payload.EnqueuedAt))) / float64(time.Second)
		b.latency.WithLabelValues(payload.Room).Observe(latency)
	}

	b.registry.InjectRemote(types.RoomName(payload.Room), types.PeerID(payload.From), payload.Frame, payload.LastSync)
	return nil
}

func (b *RedisBridge) topic(room types.RoomName) string {
	return fmt.Sprintf("%s%s", b.topicPrefix, room)
}
