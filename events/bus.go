// Package events carries post-created notifications between replicas that
// share one post store, so each replica can drop its cached feed metadata
// without waiting for the TTL.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/cppla/socialfeed/feed"
)

// SubjectPostCreated is the NATS subject and Redis channel events travel on.
const SubjectPostCreated = "post.created"

var tracer = otel.Tracer("github.com/cppla/socialfeed/events")

// PostCreatedEvent announces a post written by the replica named in Origin.
type PostCreatedEvent struct {
	ID        string    `json:"id"`
	PostID    uint      `json:"post_id"`
	AuthorID  uint      `json:"author_id"`
	Origin    string    `json:"origin"`
	CreatedAt time.Time `json:"created_at"`
}

// Handler receives decoded events. ctx carries the publisher's trace.
type Handler func(ctx context.Context, evt PostCreatedEvent)

// Bus is a fire-and-forget broadcast of post-created events.
type Bus interface {
	PublishPostCreated(ctx context.Context, evt PostCreatedEvent) error
	// SubscribePostCreated delivers events until ctx is done or the bus is
	// closed.
	SubscribePostCreated(ctx context.Context, fn Handler) error
	Close() error
}

// Notifier publishes every locally created post on a Bus.
type Notifier struct {
	bus    Bus
	origin string
}

// NewNotifier returns a feed.Notifier that stamps events with origin.
func NewNotifier(bus Bus, origin string) *Notifier {
	return &Notifier{bus: bus, origin: origin}
}

func (n *Notifier) NotifyPostCreated(ctx context.Context, post *feed.Post) error {
	return n.bus.PublishPostCreated(ctx, PostCreatedEvent{
		ID:        uuid.NewString(),
		PostID:    post.ID,
		AuthorID:  post.AuthorID,
		Origin:    n.origin,
		CreatedAt: post.CreatedAt,
	})
}

// RemoteHandler is implemented by feed.Service.
type RemoteHandler interface {
	HandleRemotePostCreated(postID uint)
}

// Listen forwards events published by other replicas to h. Events carrying
// this replica's own origin were already applied locally and are skipped.
func Listen(ctx context.Context, bus Bus, origin string, h RemoteHandler, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	return bus.SubscribePostCreated(ctx, func(ctx context.Context, evt PostCreatedEvent) {
		if evt.Origin == origin {
			return
		}
		_, span := tracer.Start(ctx, "events.HandlePostCreated",
			trace.WithSpanKind(trace.SpanKindConsumer),
			trace.WithAttributes(
				attribute.String("event_id", evt.ID),
				attribute.Int64("post_id", int64(evt.PostID)),
				attribute.String("origin", evt.Origin),
			),
		)
		defer span.End()

		logger.Debug("post created on another replica",
			zap.String("event_id", evt.ID),
			zap.Uint("post_id", evt.PostID),
			zap.String("origin", evt.Origin),
		)
		h.HandleRemotePostCreated(evt.PostID)
	})
}
