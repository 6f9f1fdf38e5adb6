// Package handler exposes the tracking service over HTTP and websockets.
package handler

import (
	"context"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/xenking/pickup-proximity/internal/broadcast"
	"github.com/xenking/pickup-proximity/internal/domain/auth"
	"github.com/xenking/pickup-proximity/internal/domain/order"
	"github.com/xenking/pickup-proximity/internal/domain/tracking"
)

// Tracker is the part of tracking.Service used by the handlers.
type Tracker interface {
	Ingest(ctx context.Context, req tracking.IngestRequest) (*tracking.IngestResult, error)
	Location(ctx context.Context, caller *auth.Principal, orderID string) (*tracking.LocationView, error)
	ListActive(ctx context.Context, caller *auth.Principal, restaurantID string) ([]tracking.ActiveOrder, error)
	Authorize(ctx context.Context, caller *auth.Principal, orderID string) (*order.Order, error)
}

// Broker registers websocket connections as hub subscribers.
type Broker interface {
	Subscribe(topic broadcast.Topic, s broadcast.Subscriber) (broadcast.SubscriptionID, error)
	Unsubscribe(id broadcast.SubscriptionID) bool
}

// Verifier turns a bearer token into a principal.
type Verifier interface {
	Verify(token string) (*auth.Principal, error)
}

// HandlerConfig holds non-dependency configuration for the Handler.
type HandlerConfig struct {
	// AllowedOrigins restricts websocket upgrades by Origin header. Empty or
	// "*" allows any origin.
	AllowedOrigins []string
	// MaxBodyBytes limits request bodies. Defaults to 64 KiB.
	MaxBodyBytes int64
}

// Handler serves the REST and realtime routes.
type Handler struct {
	tracker  Tracker
	broker   Broker
	verifier Verifier

	maxBody  int64
	upgrader websocket.Upgrader

	closing   chan struct{}
	closeOnce sync.Once
}

// NewHandler constructs a Handler with the required dependencies.
func NewHandler(cfg HandlerConfig, tracker Tracker, broker Broker, verifier Verifier) *Handler {
	h := &Handler{
		tracker:  tracker,
		broker:   broker,
		verifier: verifier,
		maxBody:  cfg.MaxBodyBytes,
		closing:  make(chan struct{}),
	}
	if h.maxBody <= 0 {
		h.maxBody = 64 << 10
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     checkOrigin(cfg.AllowedOrigins),
	}
	return h
}

// Register mounts the authenticated routes on r.
func (h *Handler) Register(r *mux.Router) {
	api := r.NewRoute().Subrouter()
	api.Use(h.Authenticate)

	api.HandleFunc("/location/update", h.UpdateLocation).Methods(http.MethodPost)
	api.HandleFunc("/location/{orderId}", h.GetLocation).Methods(http.MethodGet)
	api.HandleFunc("/restaurant/{restaurantId}/active", h.ListActive).Methods(http.MethodGet)
	api.HandleFunc("/ws/orders/{orderId}", h.WatchOrder).Methods(http.MethodGet)
	api.HandleFunc("/ws/restaurants/{restaurantId}", h.WatchRestaurant).Methods(http.MethodGet)
}

// Close sends a going-away frame to every open websocket and ends their
// loops. It is safe to call more than once.
func (h *Handler) Close() {
	h.closeOnce.Do(func() { close(h.closing) })
}

func checkOrigin(allowed []string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = struct{}{}
	}
	if len(set) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}
