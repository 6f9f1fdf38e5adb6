// Package tracking ingests customer location samples for pickup orders and
// serves the derived proximity state.
package tracking

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/xenking/pickup-proximity/internal/domain/geo"
	"github.com/xenking/pickup-proximity/internal/domain/order"
	"github.com/xenking/pickup-proximity/internal/domain/proximity"
	"github.com/xenking/pickup-proximity/internal/domain/restaurant"
)

const instrumentationName = "github.com/xenking/pickup-proximity/internal/domain/tracking"

// RestaurantDirectory resolves restaurants with validated ring sets.
type RestaurantDirectory interface {
	Lookup(ctx context.Context, id string) (*restaurant.Profile, error)
}

// Config holds the tunables of the Service.
type Config struct {
	// Timeout bounds each call, including the wait for the order lock.
	Timeout time.Duration
	// HistoryLimit is how many recent samples Location returns.
	HistoryLimit int
	// Estimator converts distance to minutes.
	Estimator proximity.Estimator
}

// Option configures optional Service dependencies.
type Option func(*Service)

// WithClock overrides the server clock used to stamp samples.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithTracerProvider sets the tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) { s.tracer = tp.Tracer(instrumentationName) }
}

// WithMeterProvider sets the meter provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *Service) { s.meter = mp.Meter(instrumentationName) }
}

// Service implements location ingestion and the tracking read paths.
type Service struct {
	orders      order.Repository
	restaurants RestaurantDirectory
	samples     SampleRepository
	publisher   Publisher
	locks       *KeyedMutex

	timeout      time.Duration
	historyLimit int
	estimator    proximity.Estimator
	now          func() time.Time

	tracer   trace.Tracer
	meter    metric.Meter
	accepted metric.Int64Counter
	rejected metric.Int64Counter
}

// NewService creates a Service with the required domain dependencies.
func NewService(
	orders order.Repository,
	restaurants RestaurantDirectory,
	samples SampleRepository,
	publisher Publisher,
	cfg Config,
	opts ...Option,
) (*Service, error) {
	s := &Service{
		orders:       orders,
		restaurants:  restaurants,
		samples:      samples,
		publisher:    publisher,
		locks:        NewKeyedMutex(),
		timeout:      cfg.Timeout,
		historyLimit: cfg.HistoryLimit,
		estimator:    cfg.Estimator,
		now:          time.Now,
		tracer:       tracenoop.NewTracerProvider().Tracer(instrumentationName),
		meter:        metricnoop.NewMeterProvider().Meter(instrumentationName),
	}
	for _, o := range opts {
		o(s)
	}
	if s.timeout <= 0 {
		s.timeout = 3 * time.Second
	}
	if s.historyLimit <= 0 {
		s.historyLimit = 20
	}
	if s.publisher == nil {
		s.publisher = Publishers(nil)
	}

	var err error
	if s.accepted, err = s.meter.Int64Counter("pickup.ingest.accepted",
		metric.WithDescription("Location samples accepted"),
	); err != nil {
		return nil, errors.Wrap(err, "create accepted counter")
	}
	if s.rejected, err = s.meter.Int64Counter("pickup.ingest.rejected",
		metric.WithDescription("Location samples rejected, by reason"),
	); err != nil {
		return nil, errors.Wrap(err, "create rejected counter")
	}
	return s, nil
}

// IngestRequest is one location report from a customer device.
type IngestRequest struct {
	OrderID      string
	CallerUserID string
	Sample       RawSample
}

// IngestResult is the proximity computed for an accepted sample.
type IngestResult struct {
	SampleID       string
	DistanceMeters float64
	ETAMinutes     int
	Zone           proximity.Zone
	// Zoned is false when the distance lies beyond every ring.
	Zoned      bool
	CapturedAt time.Time
	// Superseded is set when a newer fix was already stored; the sample was
	// kept but not applied or broadcast.
	Superseded bool
}

// Ingest validates, authorizes and records a location sample, updates the
// order's fix and publishes the resulting proximity update.
func (s *Service) Ingest(ctx context.Context, req IngestRequest) (res *IngestResult, err error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	ctx, span := s.tracer.Start(ctx, "tracking.Ingest",
		trace.WithAttributes(attribute.String("order.id", req.OrderID)),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			s.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason(err))))
		} else {
			s.accepted.Add(ctx, 1)
		}
		span.End()
	}()

	o, err := s.getOrder(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	if o.OwnerUserID != req.CallerUserID {
		return nil, ErrForbidden
	}
	if err := req.Sample.Validate(); err != nil {
		return nil, err
	}
	if !order.CanAcceptLocation(o.State) {
		return nil, &PreconditionError{OrderID: o.ID, State: o.State}
	}

	rest, err := s.lookupRestaurant(ctx, o.RestaurantID)
	if err != nil {
		return nil, err
	}

	unlock, err := s.locks.Lock(ctx, o.ID)
	if err != nil {
		return nil, infraError("wait for order lock", err)
	}
	defer unlock()

	capturedAt := s.now().UTC()
	distance := geo.Distance(rest.Location, req.Sample.Location)
	zone, zoned := rest.Rings.Classify(distance)
	eta := math.Round(s.estimator.Minutes(distance, req.Sample.SpeedMps))

	sample := &Sample{
		ID:               uuid.NewString(),
		OrderID:          o.ID,
		UserID:           req.CallerUserID,
		Location:         req.Sample.Location,
		AccuracyMeters:   req.Sample.AccuracyMeters,
		SpeedMps:         req.Sample.SpeedMps,
		HeadingDegrees:   req.Sample.HeadingDegrees,
		AltitudeMeters:   req.Sample.AltitudeMeters,
		CapturedAt:       capturedAt,
		ClientCapturedAt: req.Sample.ClientCapturedAt,
	}
	fix := order.Fix{
		Location:       req.Sample.Location,
		DistanceMeters: distance,
		ETAMinutes:     eta,
		CapturedAt:     capturedAt,
	}
	outcome, err := s.samples.Record(ctx, sample, fix)
	if err != nil {
		return nil, infraError("record sample", err)
	}

	if outcome == Applied {
		s.publisher.Publish(context.WithoutCancel(ctx), proximity.Update{
			OrderID:        o.ID,
			RestaurantID:   o.RestaurantID,
			Location:       fix.Location,
			DistanceMeters: distance,
			ETAMinutes:     eta,
			ZoneLabel:      zone.Label,
			CapturedAt:     capturedAt,
		})
	}

	return &IngestResult{
		SampleID:       sample.ID,
		DistanceMeters: distance,
		ETAMinutes:     int(eta),
		Zone:           zone,
		Zoned:          zoned,
		CapturedAt:     capturedAt,
		Superseded:     outcome == Superseded,
	}, nil
}

func (s *Service) getOrder(ctx context.Context, id string) (*order.Order, error) {
	o, err := s.orders.Get(ctx, id)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			return nil, fmt.Errorf("order %s: %w", id, ErrNotFound)
		}
		return nil, infraError("get order", err)
	}
	return o, nil
}

func (s *Service) lookupRestaurant(ctx context.Context, id string) (*restaurant.Profile, error) {
	p, err := s.restaurants.Lookup(ctx, id)
	if err != nil {
		if errors.Is(err, restaurant.ErrNotFound) {
			return nil, fmt.Errorf("restaurant %s: %w", id, ErrNotFound)
		}
		return nil, infraError("get restaurant", err)
	}
	return p, nil
}
