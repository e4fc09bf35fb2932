package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
)

// redisEnvelope adds trace headers, which Redis pub/sub has no slot for.
type redisEnvelope struct {
	PostCreatedEvent
	Trace propagation.MapCarrier `json:"trace,omitempty"`
}

// RedisBus broadcasts events over Redis pub/sub.
type RedisBus struct {
	client  *redis.Client
	channel string
	logger  *zap.Logger

	mu   sync.Mutex
	subs []*redis.PubSub
}

// NewRedisBus uses an existing client. Closing the bus does not close it.
func NewRedisBus(client *redis.Client, logger *zap.Logger) *RedisBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisBus{client: client, channel: SubjectPostCreated, logger: logger}
}

func (b *RedisBus) PublishPostCreated(ctx context.Context, evt PostCreatedEvent) error {
	env := redisEnvelope{PostCreatedEvent: evt, Trace: propagation.MapCarrier{}}
	otel.GetTextMapPropagator().Inject(ctx, env.Trace)

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", b.channel, err)
	}
	return nil
}

func (b *RedisBus) SubscribePostCreated(ctx context.Context, fn Handler) error {
	ps := b.client.Subscribe(ctx, b.channel)
	// wait for the subscription to be confirmed so no event is missed
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return fmt.Errorf("redis subscribe %s: %w", b.channel, err)
	}

	b.mu.Lock()
	b.subs = append(b.subs, ps)
	b.mu.Unlock()

	ch := ps.Channel()
	go func() {
		for {
			select {
			case <-ctx.Done():
				_ = ps.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var env redisEnvelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					b.logger.Warn("invalid event payload", zap.String("channel", msg.Channel), zap.Error(err))
					continue
				}
				evtCtx := otel.GetTextMapPropagator().Extract(context.Background(), env.Trace)
				fn(evtCtx, env.PostCreatedEvent)
			}
		}
	}()
	return nil
}

func (b *RedisBus) Close() error {
	b.mu.Lock()
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	var first error
	for _, ps := range subs {
		if err := ps.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
