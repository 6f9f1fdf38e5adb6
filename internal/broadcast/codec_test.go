package broadcast

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/pickup-proximity/internal/domain/geo"
	"github.com/xenking/pickup-proximity/internal/domain/proximity"
)

func TestMarshalUpdate_WireShape(t *testing.T) {
	u := proximity.Update{
		OrderID:        "o1",
		RestaurantID:   "r1",
		Location:       geo.Point{Lat: 4.6732, Lng: -74.051},
		DistanceMeters: 397.25,
		ETAMinutes:     8,
		ZoneLabel:      "close",
		CapturedAt:     time.Date(2026, 3, 1, 12, 0, 0, 500, time.FixedZone("COT", -5*3600)),
	}

	assert.JSONEq(t, `{
		"type": "proximity_update",
		"orderId": "o1",
		"restaurantId": "r1",
		"location": {"lat": 4.6732, "lng": -74.051},
		"distanceMeters": 397.25,
		"etaMinutes": 8,
		"zoneLabel": "close",
		"capturedAt": "2026-03-01T17:00:00.0000005Z"
	}`, string(MarshalUpdate(u)))
}

func TestUnmarshalUpdate(t *testing.T) {
	in := proximity.Update{
		OrderID:        "o1",
		RestaurantID:   "r1",
		Location:       geo.Point{Lat: 1.5, Lng: -2.25},
		DistanceMeters: 12.5,
		ETAMinutes:     1,
		ZoneLabel:      "far",
		CapturedAt:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	out, err := UnmarshalUpdate(MarshalUpdate(in))
	require.NoError(t, err)
	assert.Equal(t, in.OrderID, out.OrderID)
	assert.Equal(t, in.Location, out.Location)
	assert.Equal(t, in.ZoneLabel, out.ZoneLabel)
	assert.True(t, in.CapturedAt.Equal(out.CapturedAt))

	t.Run("UnknownFieldsSkipped", func(t *testing.T) {
		u, err := UnmarshalUpdate([]byte(`{"orderId":"a","restaurantId":"b","extra":{"x":[1,2]}}`))
		require.NoError(t, err)
		assert.Equal(t, "a", u.OrderID)
	})

	for _, tc := range []struct {
		name  string
		input string
	}{
		{"MissingIDs", `{"zoneLabel":"close"}`},
		{"BadTime", `{"orderId":"a","restaurantId":"b","capturedAt":"yesterday"}`},
		{"WrongType", `{"orderId":7,"restaurantId":"b"}`},
		{"NotJSON", `nope`},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := UnmarshalUpdate([]byte(tc.input))
			assert.Error(t, err)
		})
	}
}
