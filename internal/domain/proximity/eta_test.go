package proximity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func ptr[T any](v T) *T { return &v }

func TestEstimateMinutes_Fallback(t *testing.T) {
	assert.Equal(t, 60.0, EstimateMinutes(3000, nil))
	assert.Equal(t, 60.0, EstimateMinutes(3000, ptr(0.0)))
	assert.Equal(t, 60.0, EstimateMinutes(3000, ptr(-2.5)))
	assert.Equal(t, 0.0, EstimateMinutes(0, nil))
}

func TestEstimateMinutes_ReportedSpeed(t *testing.T) {
	// 10 m/s is 600 m/min.
	assert.InDelta(t, 5.0, EstimateMinutes(3000, ptr(10.0)), 1e-9)
}

func TestEstimator_ConfiguredFallback(t *testing.T) {
	e := NewEstimator(100)
	assert.Equal(t, 30.0, e.Minutes(3000, nil))

	assert.Equal(t, DefaultFallbackMetersPerMinute, NewEstimator(0).FallbackMetersPerMinute)
	assert.Equal(t, DefaultFallbackMetersPerMinute, NewEstimator(-1).FallbackMetersPerMinute)

	var zero Estimator
	assert.Equal(t, 60.0, zero.Minutes(3000, nil))
}
