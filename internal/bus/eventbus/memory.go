package eventbus

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	concpool "github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/tidefeed/gateway/errs"
	"github.com/tidefeed/gateway/internal/observability"
	"github.com/tidefeed/gateway/internal/schema"
)

// MemoryConfig tunes the in-memory bus.
type MemoryConfig struct {
	// QueueCapacity bounds each subscriber queue. Default 1000.
	QueueCapacity int
	// FanoutWorkers bounds concurrent deliveries within one publish. Default 4.
	FanoutWorkers int
}

func (c MemoryConfig) normalize() MemoryConfig {
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = 1000
	}
	if c.FanoutWorkers <= 0 {
		c.FanoutWorkers = 4
	}
	return c
}

// MemoryBus is the in-memory implementation of Bus.
type MemoryBus struct {
	cfg MemoryConfig

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.RWMutex
	subscribers  map[schema.Topic]map[SubscriptionID]*subscriber
	shutdownOnce sync.Once

	totalDrops atomic.Uint64

	publishedCounter metric.Int64Counter
	droppedCounter   metric.Int64Counter
	subscriberGauge  metric.Int64UpDownCounter
}

type subscriber struct {
	ctx    context.Context
	cancel context.CancelFunc
	ch     chan *schema.Event
	drops  atomic.Uint64
	once   sync.Once
}

// NewMemoryBus constructs a memory-backed topic bus.
func NewMemoryBus(cfg MemoryConfig) *MemoryBus {
	cfg = cfg.normalize()
	ctx, cancel := context.WithCancel(context.Background())
	bus := &MemoryBus{
		cfg:         cfg,
		ctx:         ctx,
		cancel:      cancel,
		subscribers: make(map[schema.Topic]map[SubscriptionID]*subscriber),
	}

	meter := otel.Meter("eventbus")
	bus.publishedCounter, _ = meter.Int64Counter("eventbus.events.published",
		metric.WithDescription("Number of events published to the bus"),
		metric.WithUnit("{event}"))
	bus.droppedCounter, _ = meter.Int64Counter("eventbus.events.dropped",
		metric.WithDescription("Number of events dropped due to subscriber backpressure"),
		metric.WithUnit("{event}"))
	bus.subscriberGauge, _ = meter.Int64UpDownCounter("eventbus.subscribers",
		metric.WithDescription("Number of active subscribers"),
		metric.WithUnit("{subscriber}"))

	return bus
}

// Publish fans the event out to every subscriber of its topic.
// A full subscriber queue drops the event for that subscriber only.
func (b *MemoryBus) Publish(ctx context.Context, evt *schema.Event) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if evt == nil {
		return nil
	}
	if evt.Topic == "" {
		return errs.New("eventbus/publish", errs.CodeInvalid, errs.WithMessage("topic required"))
	}
	if err := b.ctx.Err(); err != nil {
		return errs.New("eventbus/publish", errs.CodeInternal, errs.WithMessage("bus closed"))
	}

	// Route first: snapshot subscribers before any delivery work.
	b.mu.RLock()
	subMap := b.subscribers[evt.Topic]
	subs := make([]*subscriber, 0, len(subMap))
	for _, sub := range subMap {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	if b.publishedCounter != nil {
		b.publishedCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("topic", string(evt.Topic))))
	}

	if len(subs) == 0 {
		return nil
	}
	if len(subs) == 1 {
		b.deliver(ctx, subs[0], evt)
		return nil
	}

	p := concpool.New().WithMaxGoroutines(b.cfg.FanoutWorkers)
	for _, sub := range subs {
		sub := sub
		p.Go(func() {
			b.deliver(ctx, sub, evt)
		})
	}
	p.Wait()
	return nil
}

// deliver attempts a non-blocking enqueue. The new event is the one dropped
// when the queue is full, so a stalled subscriber keeps its oldest items.
func (b *MemoryBus) deliver(ctx context.Context, sub *subscriber, evt *schema.Event) {
	if sub == nil || sub.ctx.Err() != nil {
		return
	}
	select {
	case sub.ch <- evt:
	default:
		sub.drops.Add(1)
		b.totalDrops.Add(1)
		if b.droppedCounter != nil {
			b.droppedCounter.Add(ctx, 1, metric.WithAttributes(
				attribute.String("topic", string(evt.Topic))))
		}
		observability.Log().Debug("subscriber queue full, event dropped",
			observability.F("topic", string(evt.Topic)))
	}
}

// Subscribe registers for events on the topic and returns the subscription ID
// and a bounded receive channel. Cancelling ctx removes the subscription.
func (b *MemoryBus) Subscribe(ctx context.Context, topic schema.Topic) (SubscriptionID, <-chan *schema.Event, error) {
	if topic == "" {
		return "", nil, errs.New("eventbus/subscribe", errs.CodeInvalid, errs.WithMessage("topic required"))
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if err := b.ctx.Err(); err != nil {
		return "", nil, errs.New("eventbus/subscribe", errs.CodeInternal, errs.WithMessage("bus closed"))
	}
	subCtx, cancel := context.WithCancel(ctx)

	sub := &subscriber{
		ctx:    subCtx,
		cancel: cancel,
		ch:     make(chan *schema.Event, b.cfg.QueueCapacity),
	}
	id := SubscriptionID(uuid.NewString())

	b.mu.Lock()
	if _, ok := b.subscribers[topic]; !ok {
		b.subscribers[topic] = make(map[SubscriptionID]*subscriber)
	}
	b.subscribers[topic][id] = sub
	b.mu.Unlock()

	if b.subscriberGauge != nil {
		b.subscriberGauge.Add(subCtx, 1, metric.WithAttributes(
			attribute.String("topic", string(topic))))
	}

	go b.observe(topic, id, sub)
	return id, sub.ch, nil
}

// Unsubscribe removes the subscription and closes its channel.
func (b *MemoryBus) Unsubscribe(id SubscriptionID) {
	if id == "" {
		return
	}
	b.mu.Lock()
	for topic, subs := range b.subscribers {
		if sub, ok := subs[id]; ok {
			delete(subs, id)
			if len(subs) == 0 {
				delete(b.subscribers, topic)
			}
			b.mu.Unlock()
			if b.subscriberGauge != nil {
				b.subscriberGauge.Add(context.Background(), -1, metric.WithAttributes(
					attribute.String("topic", string(topic))))
			}
			sub.close()
			return
		}
	}
	b.mu.Unlock()
}

// Drops reports how many events the subscription has lost to backpressure.
func (b *MemoryBus) Drops(id SubscriptionID) uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, subs := range b.subscribers {
		if sub, ok := subs[id]; ok {
			return sub.drops.Load()
		}
	}
	return 0
}

// TotalDrops reports the bus-wide drop count.
func (b *MemoryBus) TotalDrops() uint64 {
	return b.totalDrops.Load()
}

// Close shuts down the bus and all subscriptions.
func (b *MemoryBus) Close() {
	b.shutdownOnce.Do(func() {
		b.cancel()
		b.mu.Lock()
		for topic, subs := range b.subscribers {
			for id, sub := range subs {
				if sub != nil {
					sub.close()
				}
				delete(subs, id)
			}
			delete(b.subscribers, topic)
		}
		b.mu.Unlock()
	})
}

// observe removes the subscription when its context ends.
func (b *MemoryBus) observe(topic schema.Topic, id SubscriptionID, sub *subscriber) {
	<-sub.ctx.Done()
	b.mu.Lock()
	subs := b.subscribers[topic]
	if subs != nil {
		if stored, ok := subs[id]; ok && stored == sub {
			delete(subs, id)
			if len(subs) == 0 {
				delete(b.subscribers, topic)
			}
		}
	}
	b.mu.Unlock()
	sub.close()
}

func (s *subscriber) close() {
	s.once.Do(func() {
		s.cancel()
		close(s.ch)
	})
}
