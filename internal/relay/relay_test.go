package relay

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/xenking/pickup-proximity/internal/broadcast"
	"github.com/xenking/pickup-proximity/internal/domain/geo"
	"github.com/xenking/pickup-proximity/internal/domain/proximity"
	"github.com/xenking/pickup-proximity/internal/domain/tracking"
)

// --- Mock implementations ---

type fakeConn struct {
	mu      sync.Mutex
	subject string
	msgs    [][]byte
	fail    error
	closed  bool
}

func (c *fakeConn) Publish(subject string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail != nil {
		return c.fail
	}
	c.subject = subject
	c.msgs = append(c.msgs, data)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs)
}

type recorder struct {
	mu      sync.Mutex
	updates []proximity.Update
}

func (r *recorder) Publish(_ context.Context, u proximity.Update) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, u)
}

var _ tracking.Publisher = (*recorder)(nil)

// --- Helpers ---

func sampleUpdate(orderID string) proximity.Update {
	return proximity.Update{
		OrderID:        orderID,
		RestaurantID:   "rest-1",
		Location:       geo.Point{Lat: 4.6732, Lng: -74.051},
		DistanceMeters: 397.3,
		ETAMinutes:     8,
		ZoneLabel:      "close",
		CapturedAt:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

// --- Tests ---

func TestForwarder_SendsInOrder(t *testing.T) {
	defer goleak.VerifyNone(t)

	var (
		mu  sync.Mutex
		got []string
	)
	f, err := NewForwarder("test", func(_ context.Context, p []byte) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, string(p))
		return nil
	}, ForwarderOptions{Buffer: 8})
	require.NoError(t, err)

	for _, p := range []string{"a", "b", "c"} {
		require.True(t, f.Enqueue([]byte(p)))
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- f.Run(ctx) }()

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 3
	}, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, []string{"a", "b", "c"}, got)
}

func TestForwarder_DropsWhenFull(t *testing.T) {
	f, err := NewForwarder("test", func(context.Context, []byte) error { return nil }, ForwarderOptions{Buffer: 2})
	require.NoError(t, err)

	assert.True(t, f.Enqueue([]byte("1")))
	assert.True(t, f.Enqueue([]byte("2")))
	assert.False(t, f.Enqueue([]byte("3")))
	assert.Equal(t, 2, f.Pending())
}

func TestForwarder_ContinuesAfterFailure(t *testing.T) {
	defer goleak.VerifyNone(t)

	var (
		mu    sync.Mutex
		calls int
	)
	f, err := NewForwarder("test", func(_ context.Context, p []byte) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if string(p) == "bad" {
			return errors.New("connection reset")
		}
		return nil
	}, ForwarderOptions{})
	require.NoError(t, err)

	f.Enqueue([]byte("bad"))
	f.Enqueue([]byte("good"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- f.Run(ctx) }()

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls == 2
	}, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestStream_ExportsEncodedUpdates(t *testing.T) {
	defer goleak.VerifyNone(t)

	conn := &fakeConn{}
	s, err := newStream(conn, "pickup.proximity", ForwarderOptions{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- s.Run(ctx) }()

	s.Publish(ctx, sampleUpdate("o1"))
	assert.Eventually(t, func() bool { return conn.count() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	require.NoError(t, s.Close())

	assert.True(t, conn.closed)
	assert.Equal(t, "pickup.proximity", conn.subject)
	u, err := broadcast.UnmarshalUpdate(conn.msgs[0])
	require.NoError(t, err)
	assert.Equal(t, "o1", u.OrderID)
	assert.Equal(t, "close", u.ZoneLabel)
}

func TestEnvelope(t *testing.T) {
	in := sampleUpdate("o1")
	origin, out, err := decodeEnvelope(encodeEnvelope("node-a", in))
	require.NoError(t, err)
	assert.Equal(t, "node-a", origin)
	assert.Equal(t, in.OrderID, out.OrderID)
	assert.Equal(t, in.Location, out.Location)
	assert.True(t, in.CapturedAt.Equal(out.CapturedAt))

	for _, input := range []string{
		`{"origin":"x"}`,
		`{"origin":"x","update":{"zoneLabel":"close"}}`,
		`[]`,
	} {
		_, _, err := decodeEnvelope([]byte(input))
		assert.Error(t, err, input)
	}
}

func TestRedis_HandleSkipsOwnMessages(t *testing.T) {
	local := &recorder{}
	r, err := NewRedis(nil, local, RedisOptions{Origin: "node-a"})
	require.NoError(t, err)

	ctx := context.Background()
	r.handle(ctx, encodeEnvelope("node-a", sampleUpdate("mine")))
	r.handle(ctx, encodeEnvelope("node-b", sampleUpdate("theirs")))
	r.handle(ctx, []byte("garbage"))

	require.Len(t, local.updates, 1)
	assert.Equal(t, "theirs", local.updates[0].OrderID)
}

func TestRedis_PublishQueues(t *testing.T) {
	r, err := NewRedis(nil, &recorder{}, RedisOptions{Origin: "node-a", Forwarder: ForwarderOptions{Buffer: 1}})
	require.NoError(t, err)

	r.Publish(context.Background(), sampleUpdate("o1"))
	r.Publish(context.Background(), sampleUpdate("o2"))
	assert.Equal(t, 1, r.fwd.Pending())

	_, err = NewRedis(nil, &recorder{}, RedisOptions{})
	assert.Error(t, err)
}
