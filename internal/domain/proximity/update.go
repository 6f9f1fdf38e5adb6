package proximity

import (
	"time"

	"github.com/xenking/pickup-proximity/internal/domain/geo"
)

// Update is the event fanned out after an accepted location sample.
type Update struct {
	OrderID        string
	RestaurantID   string
	Location       geo.Point
	DistanceMeters float64
	ETAMinutes     float64
	ZoneLabel      string
	CapturedAt     time.Time
}
