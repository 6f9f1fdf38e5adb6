package broadcast

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/xenking/pickup-proximity/internal/domain/geo"
	"github.com/xenking/pickup-proximity/internal/domain/proximity"
)

// --- Mock implementations ---

type collector struct {
	mu      sync.Mutex
	updates []proximity.Update
	notify  chan struct{}
}

func newCollector() *collector {
	return &collector{notify: make(chan struct{}, 1024)}
}

func (c *collector) Deliver(_ context.Context, u proximity.Update) error {
	c.mu.Lock()
	c.updates = append(c.updates, u)
	c.mu.Unlock()
	c.notify <- struct{}{}
	return nil
}

func (c *collector) waitFor(t *testing.T, n int) []proximity.Update {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		c.mu.Lock()
		got := len(c.updates)
		c.mu.Unlock()
		if got >= n {
			c.mu.Lock()
			defer c.mu.Unlock()
			return append([]proximity.Update(nil), c.updates...)
		}
		select {
		case <-c.notify:
		case <-deadline:
			t.Fatalf("got %d updates, want %d", got, n)
		}
	}
}

// blocker never returns until the hub shuts down.
type blocker struct {
	started chan struct{}
	once    sync.Once
}

func (b *blocker) Deliver(ctx context.Context, _ proximity.Update) error {
	b.once.Do(func() { close(b.started) })
	<-ctx.Done()
	return ctx.Err()
}

// --- Helpers ---

func newTestHub(t *testing.T, buffer int) *Hub {
	t.Helper()
	h, err := NewHub(Options{Buffer: buffer})
	require.NoError(t, err)
	return h
}

func update(orderID string, seq int) proximity.Update {
	return proximity.Update{
		OrderID:        orderID,
		RestaurantID:   "rest-1",
		Location:       geo.Point{Lat: 4.6732, Lng: -74.0510},
		DistanceMeters: float64(seq),
		ZoneLabel:      "close",
	}
}

// --- Tests ---

func TestHub_DeliversInPublishOrder(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newTestHub(t, 128)
	defer h.Close()

	c := newCollector()
	_, err := h.Subscribe(OrderTopic("o1"), c)
	require.NoError(t, err)

	for i := range 100 {
		assert.Equal(t, 1, h.Publish(OrderTopic("o1"), update("o1", i)))
	}

	got := c.waitFor(t, 100)
	for i, u := range got {
		assert.Equal(t, float64(i), u.DistanceMeters)
	}
}

func TestHub_TopicIsolation(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newTestHub(t, 8)
	defer h.Close()

	a, b := newCollector(), newCollector()
	_, err := h.Subscribe(OrderTopic("o1"), a)
	require.NoError(t, err)
	_, err = h.Subscribe(OrderTopic("o2"), b)
	require.NoError(t, err)

	h.Publish(OrderTopic("o1"), update("o1", 1))

	assert.Len(t, a.waitFor(t, 1), 1)
	assert.Equal(t, 0, h.Publish(OrderTopic("nobody"), update("x", 1)))
	b.mu.Lock()
	assert.Empty(t, b.updates)
	b.mu.Unlock()
}

func TestHub_SlowSubscriberDoesNotBlockOthers(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newTestHub(t, 2)

	slow := &blocker{started: make(chan struct{})}
	fast := newCollector()
	_, err := h.Subscribe(RestaurantTopic("r1"), slow)
	require.NoError(t, err)
	_, err = h.Subscribe(RestaurantTopic("r1"), fast)
	require.NoError(t, err)

	h.Publish(RestaurantTopic("r1"), update("o1", 0))
	<-slow.started

	// The slow queue fills after two updates; the rest are dropped for it
	// only.
	for i := 1; i <= 10; i++ {
		accepted := h.Publish(RestaurantTopic("r1"), update("o1", i))
		if i <= 2 {
			assert.Equal(t, 2, accepted)
		} else {
			assert.Equal(t, 1, accepted)
		}
		fast.waitFor(t, i+1)
	}
	assert.Len(t, fast.waitFor(t, 11), 11)

	h.Close()
}

func TestHub_Unsubscribe(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newTestHub(t, 8)
	defer h.Close()

	c := newCollector()
	id, err := h.Subscribe(OrderTopic("o1"), c)
	require.NoError(t, err)
	assert.Equal(t, 1, h.Subscribers(OrderTopic("o1")))

	assert.True(t, h.Unsubscribe(id))
	assert.False(t, h.Unsubscribe(id))
	assert.Equal(t, 0, h.Subscribers(OrderTopic("o1")))
	assert.Equal(t, 0, h.Len())
	assert.Equal(t, 0, h.Publish(OrderTopic("o1"), update("o1", 1)))
}

func TestHub_DeliveryErrorsAreDropped(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newTestHub(t, 8)
	defer h.Close()

	var calls int
	var mu sync.Mutex
	dead := SubscriberFunc(func(context.Context, proximity.Update) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return errors.New("broken pipe")
	})
	live := newCollector()
	_, err := h.Subscribe(OrderTopic("o1"), dead)
	require.NoError(t, err)
	_, err = h.Subscribe(OrderTopic("o1"), live)
	require.NoError(t, err)

	h.Publish(OrderTopic("o1"), update("o1", 1))
	h.Publish(OrderTopic("o1"), update("o1", 2))

	assert.Len(t, live.waitFor(t, 2), 2)
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, h.Subscribers(OrderTopic("o1")))
}

func TestHub_ClosedRejectsSubscribe(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newTestHub(t, 1)
	_, err := h.Subscribe(OrderTopic("o1"), newCollector())
	require.NoError(t, err)

	h.Close()
	h.Close()

	assert.Equal(t, 0, h.Len())
	_, err = h.Subscribe(OrderTopic("o1"), newCollector())
	require.ErrorIs(t, err, ErrClosed)
}

func TestPublisher_FansOutToOrderAndRestaurant(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newTestHub(t, 8)
	defer h.Close()

	byOrder, byRestaurant := newCollector(), newCollector()
	_, err := h.Subscribe(OrderTopic("o1"), byOrder)
	require.NoError(t, err)
	_, err = h.Subscribe(RestaurantTopic("rest-1"), byRestaurant)
	require.NoError(t, err)

	NewPublisher(h).Publish(context.Background(), update("o1", 7))

	assert.Equal(t, 7.0, byOrder.waitFor(t, 1)[0].DistanceMeters)
	assert.Equal(t, "o1", byRestaurant.waitFor(t, 1)[0].OrderID)
}
