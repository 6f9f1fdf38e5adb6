package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/pickup-proximity/internal/domain/geo"
)

// ErrNotFound is returned by repositories when an order does not exist.
var ErrNotFound = errors.New("order not found")

// Order is the subset of an order that location tracking reads and updates.
type Order struct {
	ID           string
	OwnerUserID  string
	RestaurantID string
	State        State

	// Fix is the last applied location. It is nil until the first accepted
	// sample and must be ignored when State does not accept locations.
	Fix *Fix
}

// Fix holds the denormalized location fields derived from the latest sample.
type Fix struct {
	Location       geo.Point
	DistanceMeters float64
	ETAMinutes     float64
	CapturedAt     time.Time
}

// CurrentFix returns the fix only while the order is being tracked.
func (o *Order) CurrentFix() (*Fix, bool) {
	if o.Fix == nil || !o.State.AcceptsLocation() {
		return nil, false
	}
	return o.Fix, true
}

// Repository defines read access to orders.
type Repository interface {
	// Get returns ErrNotFound when no order has the given id.
	Get(ctx context.Context, id string) (*Order, error)
	// ListTracked returns the restaurant's orders in a tracking state that
	// have a location fix.
	ListTracked(ctx context.Context, restaurantID string) ([]Order, error)
}
