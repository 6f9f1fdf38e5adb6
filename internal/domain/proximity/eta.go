package proximity

import "math"

// DefaultFallbackMetersPerMinute is a walking pace of roughly 3 km/h.
const DefaultFallbackMetersPerMinute = 50.0

// Estimator turns a distance and optional reported speed into minutes.
type Estimator struct {
	// FallbackMetersPerMinute is used when no usable speed is reported.
	FallbackMetersPerMinute float64
}

// NewEstimator returns an Estimator, substituting the default pace for a
// non-positive fallback.
func NewEstimator(fallbackMetersPerMinute float64) Estimator {
	if !(fallbackMetersPerMinute > 0) || math.IsInf(fallbackMetersPerMinute, 0) {
		fallbackMetersPerMinute = DefaultFallbackMetersPerMinute
	}
	return Estimator{FallbackMetersPerMinute: fallbackMetersPerMinute}
}

// Minutes estimates the time to cover distanceMeters. A reported speed is
// used only if it is positive and finite. The result is not rounded.
func (e Estimator) Minutes(distanceMeters float64, speedMps *float64) float64 {
	if speedMps != nil && *speedMps > 0 && !math.IsInf(*speedMps, 0) {
		return distanceMeters / (*speedMps * 60)
	}
	pace := e.FallbackMetersPerMinute
	if !(pace > 0) {
		pace = DefaultFallbackMetersPerMinute
	}
	return distanceMeters / pace
}

// EstimateMinutes uses the default walking pace fallback.
func EstimateMinutes(distanceMeters float64, speedMps *float64) float64 {
	return Estimator{FallbackMetersPerMinute: DefaultFallbackMetersPerMinute}.Minutes(distanceMeters, speedMps)
}
