package broadcast

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/pickup-proximity/internal/domain/proximity"
)

// UpdateType is the "type" discriminator of encoded updates.
const UpdateType = "proximity_update"

// EncodeUpdate writes u as a JSON object.
func EncodeUpdate(e *jx.Encoder, u proximity.Update) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("type", func(e *jx.Encoder) { e.Str(UpdateType) })
		e.Field("orderId", func(e *jx.Encoder) { e.Str(u.OrderID) })
		e.Field("restaurantId", func(e *jx.Encoder) { e.Str(u.RestaurantID) })
		e.Field("location", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				e.Field("lat", func(e *jx.Encoder) { e.Float64(u.Location.Lat) })
				e.Field("lng", func(e *jx.Encoder) { e.Float64(u.Location.Lng) })
			})
		})
		e.Field("distanceMeters", func(e *jx.Encoder) { e.Float64(u.DistanceMeters) })
		e.Field("etaMinutes", func(e *jx.Encoder) { e.Float64(u.ETAMinutes) })
		e.Field("zoneLabel", func(e *jx.Encoder) { e.Str(u.ZoneLabel) })
		e.Field("capturedAt", func(e *jx.Encoder) { e.Str(u.CapturedAt.UTC().Format(time.RFC3339Nano)) })
	})
}

// MarshalUpdate returns the JSON encoding of u.
func MarshalUpdate(u proximity.Update) []byte {
	var e jx.Encoder
	EncodeUpdate(&e, u)
	return e.Bytes()
}

// UnmarshalUpdate decodes an update produced by MarshalUpdate. Unknown
// fields are skipped.
func UnmarshalUpdate(data []byte) (proximity.Update, error) {
	var u proximity.Update
	d := jx.DecodeBytes(data)
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "orderId":
			u.OrderID, err = d.Str()
		case "restaurantId":
			u.RestaurantID, err = d.Str()
		case "location":
			err = d.Obj(func(d *jx.Decoder, key string) error {
				var err error
				switch key {
				case "lat":
					u.Location.Lat, err = d.Float64()
				case "lng":
					u.Location.Lng, err = d.Float64()
				default:
					err = d.Skip()
				}
				return err
			})
		case "distanceMeters":
			u.DistanceMeters, err = d.Float64()
		case "etaMinutes":
			u.ETAMinutes, err = d.Float64()
		case "zoneLabel":
			u.ZoneLabel, err = d.Str()
		case "capturedAt":
			var s string
			if s, err = d.Str(); err == nil {
				u.CapturedAt, err = time.Parse(time.RFC3339Nano, s)
			}
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrapf(err, "decode %s", key)
		}
		return nil
	})
	if err != nil {
		return proximity.Update{}, err
	}
	if u.OrderID == "" || u.RestaurantID == "" {
		return proximity.Update{}, errors.New("update without order or restaurant id")
	}
	return u, nil
}
