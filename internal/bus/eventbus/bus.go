// Package eventbus provides the in-process topic pub/sub fabric.
package eventbus

import (
	"context"

	"github.com/tidefeed/gateway/internal/schema"
)

// SubscriptionID identifies a single subscriber registration.
type SubscriptionID string

// Bus is the topic-keyed pub/sub surface shared by the aggregation services
// and the downstream websocket handlers.
//
// Publish never blocks on a slow subscriber: when a subscriber queue is full
// the event is dropped for that subscriber only and counted. Per-subscriber
// delivery is FIFO with respect to publish order.
type Bus interface {
	Subscribe(ctx context.Context, topic schema.Topic) (SubscriptionID, <-chan *schema.Event, error)
	Unsubscribe(id SubscriptionID)
	Publish(ctx context.Context, evt *schema.Event) error
	Close()
}
