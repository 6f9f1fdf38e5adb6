// Package proximity classifies distances into named rings and estimates
// arrival times.
package proximity

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
)

// FarLabel is the label reported for distances beyond every ring.
const FarLabel = "far"

// Ring is a named distance band with an inclusive upper bound.
type Ring struct {
	ThresholdMeters float64 `json:"thresholdMeters"`
	Label           string  `json:"label"`
	Color           string  `json:"color,omitempty"`
}

// Zone is the result of classifying a distance.
type Zone struct {
	Label           string
	ThresholdMeters float64
	Color           string
}

// Rings is a validated ring set sorted by ascending threshold. Construct it
// with NewRings; the zero value classifies everything as far.
type Rings struct {
	rings []Ring
}

// InvalidRingError reports a ring configuration that cannot be used.
type InvalidRingError struct {
	Index  int
	Reason string
}

func (e *InvalidRingError) Error() string {
	return fmt.Sprintf("ring %d: %s", e.Index, e.Reason)
}

// NewRings validates and sorts rings. Thresholds must be positive, finite
// and unique; labels must be non-empty and must not collide with FarLabel.
func NewRings(rings []Ring) (Rings, error) {
	if len(rings) == 0 {
		return Rings{}, &InvalidRingError{Index: -1, Reason: "at least one ring required"}
	}
	sorted := slices.Clone(rings)
	for i, r := range sorted {
		switch {
		case math.IsNaN(r.ThresholdMeters) || math.IsInf(r.ThresholdMeters, 0) || r.ThresholdMeters <= 0:
			return Rings{}, &InvalidRingError{Index: i, Reason: "threshold must be a positive number"}
		case strings.TrimSpace(r.Label) == "":
			return Rings{}, &InvalidRingError{Index: i, Reason: "label required"}
		case r.Label == FarLabel:
			return Rings{}, &InvalidRingError{Index: i, Reason: "label " + FarLabel + " is reserved"}
		}
	}
	slices.SortFunc(sorted, func(a, b Ring) int {
		switch {
		case a.ThresholdMeters < b.ThresholdMeters:
			return -1
		case a.ThresholdMeters > b.ThresholdMeters:
			return 1
		}
		return 0
	})
	for i := 1; i < len(sorted); i++ {
		if sorted[i].ThresholdMeters == sorted[i-1].ThresholdMeters {
			return Rings{}, &InvalidRingError{Index: i, Reason: "duplicate threshold " + formatMeters(sorted[i].ThresholdMeters)}
		}
	}
	return Rings{rings: sorted}, nil
}

// MustRings is like NewRings but panics on invalid input.
func MustRings(rings ...Ring) Rings {
	r, err := NewRings(rings)
	if err != nil {
		panic(err)
	}
	return r
}

// DefaultRings returns the stock very-close/close/approaching bands.
func DefaultRings() Rings {
	return MustRings(
		Ring{ThresholdMeters: 300, Label: "very-close", Color: "#d32f2f"},
		Ring{ThresholdMeters: 1000, Label: "close", Color: "#f57c00"},
		Ring{ThresholdMeters: 3000, Label: "approaching", Color: "#fbc02d"},
	)
}

// ParseRings parses "threshold:label[:color]" entries, as used in
// configuration, into a validated ring set.
func ParseRings(specs []string) (Rings, error) {
	rings := make([]Ring, 0, len(specs))
	for i, s := range specs {
		parts := strings.SplitN(strings.TrimSpace(s), ":", 3)
		if len(parts) < 2 {
			return Rings{}, &InvalidRingError{Index: i, Reason: "want threshold:label[:color], got " + strconv.Quote(s)}
		}
		threshold, err := strconv.ParseFloat(parts[0], 64)
		if err != nil {
			return Rings{}, &InvalidRingError{Index: i, Reason: "bad threshold " + strconv.Quote(parts[0])}
		}
		r := Ring{ThresholdMeters: threshold, Label: parts[1]}
		if len(parts) == 3 {
			r.Color = parts[2]
		}
		rings = append(rings, r)
	}
	return NewRings(rings)
}

// All returns a copy of the rings in ascending order.
func (r Rings) All() []Ring {
	return slices.Clone(r.rings)
}

// Len reports the number of rings.
func (r Rings) Len() int { return len(r.rings) }

func formatMeters(m float64) string {
	return strconv.FormatFloat(m, 'f', -1, 64) + "m"
}
