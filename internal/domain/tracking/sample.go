package tracking

import (
	"context"
	"math"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/pickup-proximity/internal/domain/geo"
	"github.com/xenking/pickup-proximity/internal/domain/order"
)

// Sample is an accepted location observation. Samples are append-only.
type Sample struct {
	ID       string
	OrderID  string
	UserID   string
	Location geo.Point

	AccuracyMeters *float64
	SpeedMps       *float64
	HeadingDegrees *float64
	AltitudeMeters *float64

	// CapturedAt is assigned by the server and orders samples.
	CapturedAt time.Time
	// ClientCapturedAt is the device timestamp, kept for audit only.
	ClientCapturedAt *time.Time
}

// RawSample is a location report as received from a device.
type RawSample struct {
	Location         geo.Point
	AccuracyMeters   *float64
	SpeedMps         *float64
	HeadingDegrees   *float64
	AltitudeMeters   *float64
	ClientCapturedAt *time.Time
}

// Validate checks coordinate ranges and numeric sanity of the optional
// fields, naming the first offending field.
func (s RawSample) Validate() error {
	if err := s.Location.Validate(); err != nil {
		var rangeErr *geo.RangeError
		if errors.As(err, &rangeErr) {
			return &ValidationError{Field: rangeErr.Field, Reason: "out of range"}
		}
		return &ValidationError{Field: "location", Reason: err.Error()}
	}
	if !nonNegative(s.AccuracyMeters) {
		return &ValidationError{Field: "accuracy", Reason: "must be a non-negative number"}
	}
	if !nonNegative(s.SpeedMps) {
		return &ValidationError{Field: "speed", Reason: "must be a non-negative number"}
	}
	if s.HeadingDegrees != nil && (math.IsNaN(*s.HeadingDegrees) || *s.HeadingDegrees < 0 || *s.HeadingDegrees >= 360) {
		return &ValidationError{Field: "heading", Reason: "must be within [0, 360)"}
	}
	if s.AltitudeMeters != nil && (math.IsNaN(*s.AltitudeMeters) || math.IsInf(*s.AltitudeMeters, 0)) {
		return &ValidationError{Field: "altitude", Reason: "must be a finite number"}
	}
	return nil
}

// nonNegative accepts an absent value or a finite value >= 0.
func nonNegative(v *float64) bool {
	if v == nil {
		return true
	}
	return !math.IsNaN(*v) && !math.IsInf(*v, 0) && *v >= 0
}

// Outcome tells whether a recorded sample became the order's current fix.
type Outcome int

const (
	// Applied means the denormalized fields now reflect the sample.
	Applied Outcome = iota + 1
	// Superseded means a newer fix was already stored; only the sample row
	// was written.
	Superseded
)

// SampleRepository persists samples together with the order's fix.
type SampleRepository interface {
	// Record stores s and, in the same transaction, replaces the order's
	// fix with fix unless the stored fix is newer. It fails with
	// *PreconditionError if the order stopped accepting locations, in which
	// case nothing is written.
	Record(ctx context.Context, s *Sample, fix order.Fix) (Outcome, error)
	// Recent returns up to limit of the newest samples for an order,
	// oldest first.
	Recent(ctx context.Context, orderID string, limit int) ([]Sample, error)
}
