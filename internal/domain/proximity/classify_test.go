package proximity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestClassify_Boundaries(t *testing.T) {
	rings := DefaultRings()

	tests := []struct {
		distance float64
		label    string
		zoned    bool
	}{
		{0, "very-close", true},
		{299, "very-close", true},
		{300, "very-close", true},
		{301, "close", true},
		{1000, "close", true},
		{1000.01, "approaching", true},
		{3000, "approaching", true},
		{3001, FarLabel, false},
	}
	for _, tt := range tests {
		zone, ok := rings.Classify(tt.distance)
		assert.Equal(t, tt.zoned, ok, "distance %v", tt.distance)
		assert.Equal(t, tt.label, zone.Label, "distance %v", tt.distance)
	}
}

func TestClassify_CarriesColor(t *testing.T) {
	zone, ok := DefaultRings().Classify(500)
	require.True(t, ok)
	assert.Equal(t, "#f57c00", zone.Color)
	assert.Equal(t, 1000.0, zone.ThresholdMeters)
}

func TestClassify_ZeroRingsIsFar(t *testing.T) {
	var rings Rings
	zone, ok := rings.Classify(1)
	assert.False(t, ok)
	assert.Equal(t, FarLabel, zone.Label)
}

func TestClassify_Monotonic(t *testing.T) {
	rings := DefaultRings()
	rank := map[string]int{"very-close": 0, "close": 1, "approaching": 2, FarLabel: 3}

	rapid.Check(t, func(t *rapid.T) {
		a := rapid.Float64Range(0, 5000).Draw(t, "a")
		b := rapid.Float64Range(0, 5000).Draw(t, "b")
		if a > b {
			a, b = b, a
		}
		if rank[rings.Label(a)] > rank[rings.Label(b)] {
			t.Fatalf("distance %v classified %q, farther %v classified %q", a, rings.Label(a), b, rings.Label(b))
		}
	})
}

func TestNewRings_SortsInput(t *testing.T) {
	rings, err := NewRings([]Ring{
		{ThresholdMeters: 3000, Label: "approaching"},
		{ThresholdMeters: 300, Label: "very-close"},
		{ThresholdMeters: 1000, Label: "close"},
	})
	require.NoError(t, err)

	all := rings.All()
	require.Len(t, all, 3)
	assert.Equal(t, "very-close", all[0].Label)
	assert.Equal(t, "close", all[1].Label)
	assert.Equal(t, "approaching", all[2].Label)
	assert.Equal(t, "close", rings.Label(700))
}

func TestNewRings_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		rings []Ring
	}{
		{"empty", nil},
		{"zero threshold", []Ring{{ThresholdMeters: 0, Label: "x"}}},
		{"negative threshold", []Ring{{ThresholdMeters: -5, Label: "x"}}},
		{"blank label", []Ring{{ThresholdMeters: 10, Label: "  "}}},
		{"reserved label", []Ring{{ThresholdMeters: 10, Label: FarLabel}}},
		{"duplicate threshold", []Ring{{ThresholdMeters: 10, Label: "a"}, {ThresholdMeters: 10, Label: "b"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRings(tt.rings)
			var ringErr *InvalidRingError
			require.ErrorAs(t, err, &ringErr)
		})
	}
}

func TestParseRings(t *testing.T) {
	rings, err := ParseRings([]string{"1000:close:#f57c00", "300:very-close", " 3000:approaching:#fbc02d "})
	require.NoError(t, err)

	all := rings.All()
	require.Len(t, all, 3)
	assert.Equal(t, Ring{ThresholdMeters: 300, Label: "very-close"}, all[0])
	assert.Equal(t, Ring{ThresholdMeters: 3000, Label: "approaching", Color: "#fbc02d"}, all[2])

	_, err = ParseRings([]string{"300"})
	require.Error(t, err)

	_, err = ParseRings([]string{"abc:close"})
	require.Error(t, err)
}
