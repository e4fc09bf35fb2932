package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
)

// NatsBus broadcasts events over a NATS subject. Trace context rides in the
// message headers.
type NatsBus struct {
	nc     *nats.Conn
	logger *zap.Logger

	mu   sync.Mutex
	subs []*nats.Subscription
}

// NewNatsBus uses an existing connection. Closing the bus does not close it.
func NewNatsBus(nc *nats.Conn, logger *zap.Logger) *NatsBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NatsBus{nc: nc, logger: logger}
}

func (b *NatsBus) PublishPostCreated(ctx context.Context, evt PostCreatedEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := &nats.Msg{
		Subject: SubjectPostCreated,
		Data:    data,
		Header:  nats.Header{},
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(msg.Header))

	if err := b.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("nats publish %s: %w", SubjectPostCreated, err)
	}
	return nil
}

func (b *NatsBus) SubscribePostCreated(ctx context.Context, fn Handler) error {
	sub, err := b.nc.Subscribe(SubjectPostCreated, func(msg *nats.Msg) {
		var evt PostCreatedEvent
		if err := json.Unmarshal(msg.Data, &evt); err != nil {
			b.logger.Warn("invalid event payload", zap.String("subject", msg.Subject), zap.Error(err))
			return
		}
		evtCtx := otel.GetTextMapPropagator().Extract(context.Background(), propagation.HeaderCarrier(msg.Header))
		fn(evtCtx, evt)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", SubjectPostCreated, err)
	}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		_ = sub.Unsubscribe()
	}()
	return nil
}

func (b *NatsBus) Close() error {
	b.mu.Lock()
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	var first error
	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil && err != nats.ErrBadSubscription && first == nil {
			first = err
		}
	}
	return first
}
