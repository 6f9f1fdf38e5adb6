// Package relay forwards proximity updates to out-of-process sinks.
//
// Ingestion never waits on a sink: updates are queued on a bounded
// Forwarder and sent by a single background goroutine. A full queue drops
// the update.
package relay

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/xenking/pickup-proximity/internal/relay"

const (
	defaultBuffer      = 256
	defaultSendTimeout = 2 * time.Second
)

// SendFunc delivers one encoded payload.
type SendFunc func(ctx context.Context, payload []byte) error

// ForwarderOptions configures a Forwarder.
type ForwarderOptions struct {
	Buffer        int
	SendTimeout   time.Duration
	Logger        *zap.Logger
	MeterProvider metric.MeterProvider
}

// Forwarder is a bounded queue in front of a SendFunc.
type Forwarder struct {
	sink    string
	send    SendFunc
	queue   chan []byte
	timeout time.Duration
	lg      *zap.Logger

	attrs   metric.MeasurementOption
	sent    metric.Int64Counter
	dropped metric.Int64Counter
	failed  metric.Int64Counter
}

// NewForwarder creates a Forwarder named sink. Call Run to start sending.
func NewForwarder(sink string, send SendFunc, opts ForwarderOptions) (*Forwarder, error) {
	if opts.Buffer <= 0 {
		opts.Buffer = defaultBuffer
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = defaultSendTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.MeterProvider == nil {
		opts.MeterProvider = metricnoop.NewMeterProvider()
	}
	meter := opts.MeterProvider.Meter(instrumentationName)

	f := &Forwarder{
		sink:    sink,
		send:    send,
		queue:   make(chan []byte, opts.Buffer),
		timeout: opts.SendTimeout,
		lg:      opts.Logger.With(zap.String("sink", sink)),
		attrs:   metric.WithAttributes(attribute.String("sink", sink)),
	}

	var err error
	if f.sent, err = meter.Int64Counter("pickup.relay.sent"); err != nil {
		return nil, errors.Wrap(err, "create sent counter")
	}
	if f.dropped, err = meter.Int64Counter("pickup.relay.dropped",
		metric.WithDescription("Updates dropped because the relay queue was full"),
	); err != nil {
		return nil, errors.Wrap(err, "create dropped counter")
	}
	if f.failed, err = meter.Int64Counter("pickup.relay.failed"); err != nil {
		return nil, errors.Wrap(err, "create failed counter")
	}
	return f, nil
}

// Enqueue queues payload without blocking. It reports false when the
// update was dropped.
func (f *Forwarder) Enqueue(payload []byte) bool {
	select {
	case f.queue <- payload:
		return true
	default:
		f.dropped.Add(context.Background(), 1, f.attrs)
		f.lg.Warn("Relay queue full, dropping update")
		return false
	}
}

// Pending reports the number of queued payloads.
func (f *Forwarder) Pending() int { return len(f.queue) }

// Run sends queued payloads until ctx is done. Failed sends are logged
// and not retried.
func (f *Forwarder) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case payload := <-f.queue:
			f.deliver(ctx, payload)
		}
	}
}

func (f *Forwarder) deliver(ctx context.Context, payload []byte) {
	sendCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	if err := f.send(sendCtx, payload); err != nil {
		f.failed.Add(ctx, 1, f.attrs)
		f.lg.Warn("Relay send failed", zap.Error(err))
		return
	}
	f.sent.Add(ctx, 1, f.attrs)
}
