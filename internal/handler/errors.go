package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/pickup-proximity/internal/domain/tracking"
	"github.com/xenking/pickup-proximity/pkg/httpmiddleware"
)

// writeTrackingError maps tracking errors to HTTP responses.
func writeTrackingError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		vErr *tracking.ValidationError
		pErr *tracking.PreconditionError
	)
	switch {
	case errors.As(err, &vErr):
		httpmiddleware.WriteError(w, http.StatusBadRequest, vErr.Error())
	case errors.As(err, &pErr):
		writePrecondition(w, pErr)
	case errors.Is(err, tracking.ErrForbidden):
		httpmiddleware.WriteError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, tracking.ErrNotFound):
		httpmiddleware.WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, tracking.ErrTimeout):
		zctx.From(r.Context()).Warn("Tracking call timed out", zap.Error(err))
		httpmiddleware.WriteError(w, http.StatusGatewayTimeout, "timeout, retry later")
	case errors.Is(err, tracking.ErrUnavailable):
		zctx.From(r.Context()).Error("Tracking backend unavailable", zap.Error(err))
		httpmiddleware.WriteError(w, http.StatusServiceUnavailable, "service unavailable, retry later")
	default:
		zctx.From(r.Context()).Error("Unexpected tracking error", zap.Error(err))
		httpmiddleware.WriteError(w, http.StatusInternalServerError, "internal error")
	}
}

// writePrecondition adds the order state to the error body so clients can
// stop reporting.
func writePrecondition(w http.ResponseWriter, pErr *tracking.PreconditionError) {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("code", func(e *jx.Encoder) { e.Int(http.StatusConflict) })
		e.Field("message", func(e *jx.Encoder) { e.Str(pErr.Error()) })
		e.Field("state", func(e *jx.Encoder) { e.Str(string(pErr.State)) })
	})
	writeJSON(w, http.StatusConflict, e.Bytes())
}

func writeJSON(w http.ResponseWriter, code int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(body)
}
