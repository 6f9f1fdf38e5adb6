package tracking

import (
	"context"
	"time"

	"github.com/xenking/pickup-proximity/internal/domain/auth"
	"github.com/xenking/pickup-proximity/internal/domain/geo"
	"github.com/xenking/pickup-proximity/internal/domain/order"
	"github.com/xenking/pickup-proximity/internal/domain/proximity"
)

// LocationView is an order's current snapshot plus its recent samples.
type LocationView struct {
	OrderID      string
	RestaurantID string
	State        order.State
	// Fix and Zone are nil when there is no fix or the order is no longer
	// being tracked.
	Fix     *order.Fix
	Zone    *proximity.Zone
	Samples []Sample
}

// ActiveOrder is one row of a restaurant's active-orders dashboard.
type ActiveOrder struct {
	OrderID        string
	State          order.State
	Location       geo.Point
	DistanceMeters float64
	ETAMinutes     float64
	Zone           proximity.Zone
	Zoned          bool
	CapturedAt     time.Time
}

// CanView reports whether caller may read an order's location: its owner,
// staff of its restaurant, or an admin.
func CanView(caller *auth.Principal, o *order.Order) bool {
	switch {
	case caller == nil:
		return false
	case caller.IsAdmin():
		return true
	case caller.IsStaffOf(o.RestaurantID):
		return true
	}
	return caller.CurrentUserID() == o.OwnerUserID
}

// CanWatchRestaurant reports whether caller may observe a restaurant's
// active orders.
func CanWatchRestaurant(caller *auth.Principal, restaurantID string) bool {
	return caller.IsStaffOf(restaurantID)
}

// Authorize resolves an order and checks that caller may view it.
func (s *Service) Authorize(ctx context.Context, caller *auth.Principal, orderID string) (*order.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	o, err := s.getOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !CanView(caller, o) {
		return nil, ErrForbidden
	}
	return o, nil
}

// Location returns the order's snapshot and its most recent samples in
// chronological order.
func (s *Service) Location(ctx context.Context, caller *auth.Principal, orderID string) (*LocationView, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	ctx, span := s.tracer.Start(ctx, "tracking.Location")
	defer span.End()

	o, err := s.getOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !CanView(caller, o) {
		return nil, ErrForbidden
	}

	samples, err := s.samples.Recent(ctx, o.ID, s.historyLimit)
	if err != nil {
		return nil, infraError("recent samples", err)
	}

	view := &LocationView{
		OrderID:      o.ID,
		RestaurantID: o.RestaurantID,
		State:        o.State,
		Samples:      samples,
	}
	if fix, ok := o.CurrentFix(); ok {
		rest, err := s.lookupRestaurant(ctx, o.RestaurantID)
		if err != nil {
			return nil, err
		}
		zone, _ := rest.Rings.Classify(fix.DistanceMeters)
		view.Fix = fix
		view.Zone = &zone
	}
	return view, nil
}

// ListActive returns the restaurant's tracked orders with a location fix,
// classified against the restaurant's rings. Values come from the stored
// snapshots; nothing is recomputed from samples.
func (s *Service) ListActive(ctx context.Context, caller *auth.Principal, restaurantID string) ([]ActiveOrder, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	ctx, span := s.tracer.Start(ctx, "tracking.ListActive")
	defer span.End()

	if !CanWatchRestaurant(caller, restaurantID) {
		return nil, ErrForbidden
	}
	rest, err := s.lookupRestaurant(ctx, restaurantID)
	if err != nil {
		return nil, err
	}

	orders, err := s.orders.ListTracked(ctx, restaurantID)
	if err != nil {
		return nil, infraError("list tracked orders", err)
	}

	active := make([]ActiveOrder, 0, len(orders))
	for i := range orders {
		fix, ok := orders[i].CurrentFix()
		if !ok {
			continue
		}
		zone, zoned := rest.Rings.Classify(fix.DistanceMeters)
		active = append(active, ActiveOrder{
			OrderID:        orders[i].ID,
			State:          orders[i].State,
			Location:       fix.Location,
			DistanceMeters: fix.DistanceMeters,
			ETAMinutes:     fix.ETAMinutes,
			Zone:           zone,
			Zoned:          zoned,
			CapturedAt:     fix.CapturedAt,
		})
	}
	return active, nil
}
