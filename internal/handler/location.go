package handler

import (
	"io"
	"math"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/gorilla/mux"

	"github.com/xenking/pickup-proximity/internal/domain/geo"
	"github.com/xenking/pickup-proximity/internal/domain/proximity"
	"github.com/xenking/pickup-proximity/internal/domain/tracking"
	"github.com/xenking/pickup-proximity/pkg/httpmiddleware"
)

// locationUpdate is the body of POST /location/update.
type locationUpdate struct {
	OrderID    string
	Lat, Lng   *float64
	Accuracy   *float64
	Speed      *float64
	Heading    *float64
	Altitude   *float64
	CapturedAt *time.Time
}

func (u *locationUpdate) Decode(d *jx.Decoder) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "orderId":
			u.OrderID, err = d.Str()
		case "lat":
			u.Lat, err = optFloat(d)
		case "lng":
			u.Lng, err = optFloat(d)
		case "accuracy":
			u.Accuracy, err = optFloat(d)
		case "speed":
			u.Speed, err = optFloat(d)
		case "heading":
			u.Heading, err = optFloat(d)
		case "altitude":
			u.Altitude, err = optFloat(d)
		case "capturedAt":
			u.CapturedAt, err = optTime(d)
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrapf(err, "decode %s", key)
		}
		return nil
	})
}

// sample converts the body to a RawSample. Missing coordinates become NaN
// so that the service rejects them after its ownership checks.
func (u *locationUpdate) sample() tracking.RawSample {
	loc := geo.Point{Lat: math.NaN(), Lng: math.NaN()}
	if u.Lat != nil {
		loc.Lat = *u.Lat
	}
	if u.Lng != nil {
		loc.Lng = *u.Lng
	}
	return tracking.RawSample{
		Location:         loc,
		AccuracyMeters:   u.Accuracy,
		SpeedMps:         u.Speed,
		HeadingDegrees:   u.Heading,
		AltitudeMeters:   u.Altitude,
		ClientCapturedAt: u.CapturedAt,
	}
}

func optFloat(d *jx.Decoder) (*float64, error) {
	if d.Next() == jx.Null {
		return nil, d.Null()
	}
	v, err := d.Float64()
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func optTime(d *jx.Decoder) (*time.Time, error) {
	if d.Next() == jx.Null {
		return nil, d.Null()
	}
	s, err := d.Str()
	if err != nil {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// UpdateLocation handles POST /location/update.
func (h *Handler) UpdateLocation(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httpmiddleware.WriteError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		httpmiddleware.WriteError(w, http.StatusBadRequest, "read request body")
		return
	}

	var req locationUpdate
	if err := req.Decode(jx.DecodeBytes(body)); err != nil {
		httpmiddleware.WriteError(w, http.StatusBadRequest, "malformed request body: "+err.Error())
		return
	}
	if req.OrderID == "" {
		writeTrackingError(w, r, &tracking.ValidationError{Field: "orderId", Reason: "is required"})
		return
	}

	res, err := h.tracker.Ingest(r.Context(), tracking.IngestRequest{
		OrderID:      req.OrderID,
		CallerUserID: caller(r).CurrentUserID(),
		Sample:       req.sample(),
	})
	if err != nil {
		writeTrackingError(w, r, err)
		return
	}

	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("distanceMeters", func(e *jx.Encoder) { e.Float64(res.DistanceMeters) })
		e.Field("etaMinutes", func(e *jx.Encoder) { e.Int(res.ETAMinutes) })
		encodeZone(e, res.Zone)
		e.Field("capturedAt", func(e *jx.Encoder) { encodeTime(e, res.CapturedAt) })
	})
	writeJSON(w, http.StatusCreated, e.Bytes())
}

// GetLocation handles GET /location/{orderId}.
func (h *Handler) GetLocation(w http.ResponseWriter, r *http.Request) {
	view, err := h.tracker.Location(r.Context(), caller(r), mux.Vars(r)["orderId"])
	if err != nil {
		writeTrackingError(w, r, err)
		return
	}

	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("orderId", func(e *jx.Encoder) { e.Str(view.OrderID) })
		e.Field("restaurantId", func(e *jx.Encoder) { e.Str(view.RestaurantID) })
		e.Field("state", func(e *jx.Encoder) { e.Str(string(view.State)) })
		e.Field("snapshot", func(e *jx.Encoder) {
			if view.Fix == nil {
				e.Null()
				return
			}
			e.Obj(func(e *jx.Encoder) {
				e.Field("location", func(e *jx.Encoder) { encodePoint(e, view.Fix.Location) })
				e.Field("distanceMeters", func(e *jx.Encoder) { e.Float64(view.Fix.DistanceMeters) })
				e.Field("etaMinutes", func(e *jx.Encoder) { e.Float64(view.Fix.ETAMinutes) })
				if view.Zone != nil {
					encodeZone(e, *view.Zone)
				}
				e.Field("capturedAt", func(e *jx.Encoder) { encodeTime(e, view.Fix.CapturedAt) })
			})
		})
		e.Field("samples", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for i := range view.Samples {
					encodeSample(e, &view.Samples[i])
				}
			})
		})
	})
	writeJSON(w, http.StatusOK, e.Bytes())
}

func encodeSample(e *jx.Encoder, s *tracking.Sample) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(s.ID) })
		e.Field("location", func(e *jx.Encoder) { encodePoint(e, s.Location) })
		optField(e, "accuracy", s.AccuracyMeters)
		optField(e, "speed", s.SpeedMps)
		optField(e, "heading", s.HeadingDegrees)
		optField(e, "altitude", s.AltitudeMeters)
		e.Field("capturedAt", func(e *jx.Encoder) { encodeTime(e, s.CapturedAt) })
		if s.ClientCapturedAt != nil {
			e.Field("clientCapturedAt", func(e *jx.Encoder) { encodeTime(e, *s.ClientCapturedAt) })
		}
	})
}

func encodeZone(e *jx.Encoder, z proximity.Zone) {
	e.Field("zone", func(e *jx.Encoder) { e.Str(z.Label) })
	e.Field("zoneColor", func(e *jx.Encoder) { e.Str(z.Color) })
}

func encodePoint(e *jx.Encoder, p geo.Point) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("lat", func(e *jx.Encoder) { e.Float64(p.Lat) })
		e.Field("lng", func(e *jx.Encoder) { e.Float64(p.Lng) })
	})
}

func encodeTime(e *jx.Encoder, t time.Time) {
	e.Str(t.UTC().Format(time.RFC3339Nano))
}

func optField(e *jx.Encoder, name string, v *float64) {
	if v == nil {
		return
	}
	e.Field(name, func(e *jx.Encoder) { e.Float64(*v) })
}
