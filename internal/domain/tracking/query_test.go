package tracking

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/pickup-proximity/internal/domain/auth"
	"github.com/xenking/pickup-proximity/internal/domain/geo"
	"github.com/xenking/pickup-proximity/internal/domain/order"
)

var (
	owner    = &auth.Principal{UserID: "customer-1", Role: auth.RoleCustomer}
	stranger = &auth.Principal{UserID: "customer-2", Role: auth.RoleCustomer}
	staff    = &auth.Principal{UserID: "staff-1", Role: auth.RoleStaff, RestaurantID: "rest-1"}
	rival    = &auth.Principal{UserID: "staff-9", Role: auth.RoleStaff, RestaurantID: "rest-9"}
	admin    = &auth.Principal{UserID: "admin-1", Role: auth.RoleAdmin}
)

func TestLocation_Access(t *testing.T) {
	store := newFakeStore(newOrder("order-1", order.StateConfirmed))
	svc := newTestService(t, store, &recordingPublisher{})

	for _, p := range []*auth.Principal{owner, staff, admin} {
		_, err := svc.Location(context.Background(), p, "order-1")
		require.NoError(t, err, p.UserID)
	}
	for _, p := range []*auth.Principal{stranger, rival, nil} {
		_, err := svc.Location(context.Background(), p, "order-1")
		require.ErrorIs(t, err, ErrForbidden)
	}

	_, err := svc.Location(context.Background(), admin, "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLocation_HistoryOldestFirst(t *testing.T) {
	store := newFakeStore(newOrder("order-1", order.StateConfirmed))
	var tick time.Duration
	svc := newTestService(t, store, &recordingPublisher{}, WithClock(func() time.Time {
		tick += time.Second
		return baseTime.Add(tick)
	}))
	svc.historyLimit = 3

	for i := range 5 {
		_, err := svc.Ingest(context.Background(), ingestAt(geo.Point{Lat: 4.6761 + float64(i)*0.0001, Lng: -74.0539}))
		require.NoError(t, err)
	}

	view, err := svc.Location(context.Background(), owner, "order-1")
	require.NoError(t, err)
	require.Len(t, view.Samples, 3)
	assert.Equal(t, baseTime.Add(3*time.Second), view.Samples[0].CapturedAt)
	assert.Equal(t, baseTime.Add(5*time.Second), view.Samples[2].CapturedAt)

	require.NotNil(t, view.Fix)
	assert.Equal(t, baseTime.Add(5*time.Second), view.Fix.CapturedAt)
	require.NotNil(t, view.Zone)
	assert.Equal(t, "close", view.Zone.Label)
}

func TestLocation_StaleFixHidden(t *testing.T) {
	o := newOrder("order-1", order.StateDelivered)
	o.Fix = &order.Fix{Location: customerPoint, DistanceMeters: 397, ETAMinutes: 8, CapturedAt: baseTime}
	svc := newTestService(t, newFakeStore(o), &recordingPublisher{})

	view, err := svc.Location(context.Background(), owner, "order-1")
	require.NoError(t, err)
	assert.Equal(t, order.StateDelivered, view.State)
	assert.Nil(t, view.Fix)
	assert.Nil(t, view.Zone)
}

func TestListActive(t *testing.T) {
	tracked := newOrder("order-1", order.StateReady)
	tracked.Fix = &order.Fix{Location: customerPoint, DistanceMeters: 397.3, ETAMinutes: 8, CapturedAt: baseTime}
	far := newOrder("order-2", order.StatePreparing)
	far.Fix = &order.Fix{Location: geo.Point{Lat: 4.8, Lng: -74}, DistanceMeters: 15000, ETAMinutes: 300, CapturedAt: baseTime}
	noFix := newOrder("order-3", order.StateConfirmed)
	done := newOrder("order-4", order.StateDelivered)
	done.Fix = &order.Fix{Location: customerPoint, DistanceMeters: 10, CapturedAt: baseTime}
	elsewhere := newOrder("order-5", order.StateReady)
	elsewhere.RestaurantID = "rest-9"
	elsewhere.Fix = &order.Fix{Location: customerPoint, DistanceMeters: 10, CapturedAt: baseTime}

	svc := newTestService(t, newFakeStore(tracked, far, noFix, done, elsewhere), &recordingPublisher{})

	active, err := svc.ListActive(context.Background(), staff, "rest-1")
	require.NoError(t, err)
	require.Len(t, active, 2)

	assert.Equal(t, "order-1", active[0].OrderID)
	assert.Equal(t, "close", active[0].Zone.Label)
	assert.Equal(t, "#f57c00", active[0].Zone.Color)
	assert.True(t, active[0].Zoned)
	assert.Equal(t, 8.0, active[0].ETAMinutes)

	assert.Equal(t, "order-2", active[1].OrderID)
	assert.False(t, active[1].Zoned)
	assert.Equal(t, "far", active[1].Zone.Label)
}

func TestListActive_StaffOnly(t *testing.T) {
	svc := newTestService(t, newFakeStore(), &recordingPublisher{})

	for _, p := range []*auth.Principal{owner, rival, nil} {
		_, err := svc.ListActive(context.Background(), p, "rest-1")
		require.ErrorIs(t, err, ErrForbidden)
	}

	active, err := svc.ListActive(context.Background(), staff, "rest-1")
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestAuthorize(t *testing.T) {
	svc := newTestService(t, newFakeStore(newOrder("order-1", order.StatePending)), &recordingPublisher{})

	o, err := svc.Authorize(context.Background(), staff, "order-1")
	require.NoError(t, err)
	assert.Equal(t, "rest-1", o.RestaurantID)

	_, err = svc.Authorize(context.Background(), rival, "order-1")
	require.ErrorIs(t, err, ErrForbidden)
}
