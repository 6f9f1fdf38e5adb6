package restaurant

import (
	"context"

	"github.com/go-faster/errors"

	"github.com/xenking/pickup-proximity/internal/domain/geo"
	"github.com/xenking/pickup-proximity/internal/domain/proximity"
)

// ErrNotFound is returned when a restaurant does not exist.
var ErrNotFound = errors.New("restaurant not found")

// Restaurant is a pickup location as stored. Rings is nil when the
// restaurant uses the service defaults.
type Restaurant struct {
	ID       string
	Name     string
	Location geo.Point
	Rings    []proximity.Ring
}

// Repository provides restaurant lookups.
type Repository interface {
	Get(ctx context.Context, id string) (*Restaurant, error)
}
