// Package broadcast fans proximity updates out to topic subscribers.
//
// Every subscription owns a bounded queue drained by its own goroutine, so a
// slow subscriber only loses its own updates. Delivery is best-effort and
// at-most-once; updates for one subscription arrive in publish order.
package broadcast

import (
	"context"
	"sync"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"

	"github.com/xenking/pickup-proximity/internal/domain/proximity"
)

const instrumentationName = "github.com/xenking/pickup-proximity/internal/broadcast"

// DefaultBuffer is the per-subscription queue length.
const DefaultBuffer = 64

// ErrClosed is returned by Subscribe after Close.
var ErrClosed = errors.New("hub closed")

// Topic names a stream of updates.
type Topic string

// OrderTopic is the stream for a single order.
func OrderTopic(orderID string) Topic { return Topic("order:" + orderID) }

// RestaurantTopic is the stream for all of a restaurant's orders.
func RestaurantTopic(restaurantID string) Topic { return Topic("restaurant:" + restaurantID) }

// SubscriptionID identifies a subscription.
type SubscriptionID uint64

// Subscriber receives updates. Deliver is called from a single goroutine
// per subscription and should return promptly once ctx is done.
type Subscriber interface {
	Deliver(ctx context.Context, u proximity.Update) error
}

// SubscriberFunc adapts a function to Subscriber.
type SubscriberFunc func(ctx context.Context, u proximity.Update) error

func (f SubscriberFunc) Deliver(ctx context.Context, u proximity.Update) error { return f(ctx, u) }

type subscription struct {
	id    SubscriptionID
	topic Topic
	sub   Subscriber
	queue chan proximity.Update
	done  chan struct{}
}

// Options configures a Hub.
type Options struct {
	// Buffer is the per-subscription queue length. Defaults to DefaultBuffer.
	Buffer        int
	Logger        *zap.Logger
	MeterProvider metric.MeterProvider
}

// Hub owns topic-scoped subscriber sets.
type Hub struct {
	lg     *zap.Logger
	buffer int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	topics map[Topic]map[SubscriptionID]*subscription
	subs   map[SubscriptionID]*subscription
	nextID SubscriptionID
	closed bool

	dropped metric.Int64Counter
	failed  metric.Int64Counter
	active  metric.Int64UpDownCounter
}

// NewHub creates an empty Hub.
func NewHub(opts Options) (*Hub, error) {
	if opts.Buffer <= 0 {
		opts.Buffer = DefaultBuffer
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.MeterProvider == nil {
		opts.MeterProvider = metricnoop.NewMeterProvider()
	}
	meter := opts.MeterProvider.Meter(instrumentationName)

	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		lg:     opts.Logger,
		buffer: opts.Buffer,
		ctx:    ctx,
		cancel: cancel,
		topics: make(map[Topic]map[SubscriptionID]*subscription),
		subs:   make(map[SubscriptionID]*subscription),
	}

	var err error
	if h.dropped, err = meter.Int64Counter("pickup.hub.dropped",
		metric.WithDescription("Updates dropped because a subscriber queue was full"),
	); err != nil {
		cancel()
		return nil, errors.Wrap(err, "create dropped counter")
	}
	if h.failed, err = meter.Int64Counter("pickup.hub.delivery_failed",
		metric.WithDescription("Updates a subscriber failed to accept"),
	); err != nil {
		cancel()
		return nil, errors.Wrap(err, "create failed counter")
	}
	if h.active, err = meter.Int64UpDownCounter("pickup.hub.subscribers",
		metric.WithDescription("Live subscriptions"),
	); err != nil {
		cancel()
		return nil, errors.Wrap(err, "create subscribers counter")
	}
	return h, nil
}

// Subscribe registers s on topic and starts its delivery goroutine.
func (h *Hub) Subscribe(topic Topic, s Subscriber) (SubscriptionID, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return 0, ErrClosed
	}

	h.nextID++
	sub := &subscription{
		id:    h.nextID,
		topic: topic,
		sub:   s,
		queue: make(chan proximity.Update, h.buffer),
		done:  make(chan struct{}),
	}
	set, ok := h.topics[topic]
	if !ok {
		set = make(map[SubscriptionID]*subscription)
		h.topics[topic] = set
	}
	set[sub.id] = sub
	h.subs[sub.id] = sub

	h.wg.Add(1)
	go h.run(sub)

	h.active.Add(h.ctx, 1)
	h.lg.Debug("Subscribed", zap.String("topic", string(topic)), zap.Uint64("subscription_id", uint64(sub.id)))
	return sub.id, nil
}

// Unsubscribe removes a subscription. Queued updates are discarded. It
// reports false if id is unknown.
func (h *Hub) Unsubscribe(id SubscriptionID) bool {
	h.mu.Lock()
	sub, ok := h.subs[id]
	if ok {
		h.remove(sub)
	}
	h.mu.Unlock()

	if ok {
		h.lg.Debug("Unsubscribed", zap.String("topic", string(sub.topic)), zap.Uint64("subscription_id", uint64(id)))
	}
	return ok
}

// remove must be called with h.mu held.
func (h *Hub) remove(sub *subscription) {
	delete(h.subs, sub.id)
	if set := h.topics[sub.topic]; set != nil {
		delete(set, sub.id)
		if len(set) == 0 {
			delete(h.topics, sub.topic)
		}
	}
	close(sub.done)
	h.active.Add(h.ctx, -1)
}

// Publish enqueues u for every subscriber of topic without blocking and
// returns how many subscribers accepted it. Full queues drop the update.
func (h *Hub) Publish(topic Topic, u proximity.Update) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for _, sub := range h.topics[topic] {
		select {
		case sub.queue <- u:
			n++
		default:
			h.dropped.Add(h.ctx, 1, metric.WithAttributes(attribute.String("kind", topicKind(topic))))
			h.lg.Warn("Subscriber queue full, dropping update",
				zap.String("topic", string(topic)),
				zap.Uint64("subscription_id", uint64(sub.id)),
				zap.String("order_id", u.OrderID),
			)
		}
	}
	return n
}

// Subscribers reports the number of live subscriptions on topic.
func (h *Hub) Subscribers(topic Topic) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

// Len reports the number of live subscriptions.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close removes all subscriptions and waits for delivery goroutines to exit.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	for _, sub := range h.subs {
		h.remove(sub)
	}
	h.mu.Unlock()

	h.cancel()
	h.wg.Wait()
}

func (h *Hub) run(sub *subscription) {
	defer h.wg.Done()
	for {
		select {
		case <-sub.done:
			return
		case u := <-sub.queue:
			// Unsubscribe wins over pending updates.
			select {
			case <-sub.done:
				return
			default:
			}
			if err := sub.sub.Deliver(h.ctx, u); err != nil {
				h.failed.Add(h.ctx, 1, metric.WithAttributes(attribute.String("kind", topicKind(sub.topic))))
				h.lg.Debug("Delivery failed, dropping update",
					zap.String("topic", string(sub.topic)),
					zap.Uint64("subscription_id", uint64(sub.id)),
					zap.Error(err),
				)
			}
		}
	}
}

func topicKind(t Topic) string {
	for i := 0; i < len(t); i++ {
		if t[i] == ':' {
			return string(t[:i])
		}
	}
	return "other"
}
