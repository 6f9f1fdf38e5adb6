package handler

import (
	"net/http"

	"github.com/go-faster/jx"
	"github.com/gorilla/mux"
)

// ListActive handles GET /restaurant/{restaurantId}/active.
func (h *Handler) ListActive(w http.ResponseWriter, r *http.Request) {
	restaurantID := mux.Vars(r)["restaurantId"]
	active, err := h.tracker.ListActive(r.Context(), caller(r), restaurantID)
	if err != nil {
		writeTrackingError(w, r, err)
		return
	}

	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("restaurantId", func(e *jx.Encoder) { e.Str(restaurantID) })
		e.Field("orders", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, a := range active {
					e.Obj(func(e *jx.Encoder) {
						e.Field("orderId", func(e *jx.Encoder) { e.Str(a.OrderID) })
						e.Field("state", func(e *jx.Encoder) { e.Str(string(a.State)) })
						e.Field("location", func(e *jx.Encoder) { encodePoint(e, a.Location) })
						e.Field("distanceMeters", func(e *jx.Encoder) { e.Float64(a.DistanceMeters) })
						e.Field("etaMinutes", func(e *jx.Encoder) { e.Float64(a.ETAMinutes) })
						encodeZone(e, a.Zone)
						if a.Zoned {
							e.Field("zoneThresholdMeters", func(e *jx.Encoder) { e.Float64(a.Zone.ThresholdMeters) })
						}
						e.Field("capturedAt", func(e *jx.Encoder) { encodeTime(e, a.CapturedAt) })
					})
				}
			})
		})
	})
	writeJSON(w, http.StatusOK, e.Bytes())
}
