package relay

import (
	"context"

	"github.com/go-faster/errors"
	stan "github.com/nats-io/stan.go"

	"github.com/xenking/pickup-proximity/internal/broadcast"
	"github.com/xenking/pickup-proximity/internal/domain/proximity"
)

// StreamConfig addresses a NATS Streaming cluster.
type StreamConfig struct {
	URL       string
	ClusterID string
	ClientID  string
	Subject   string
}

// streamConn is the part of stan.Conn the exporter uses.
type streamConn interface {
	Publish(subject string, data []byte) error
	Close() error
}

// Stream exports every accepted update to a NATS Streaming subject for
// downstream consumers such as dispatch analytics.
type Stream struct {
	conn    streamConn
	subject string
	fwd     *Forwarder
}

// DialStream connects to the cluster described by cfg.
func DialStream(cfg StreamConfig, opts ForwarderOptions) (*Stream, error) {
	if cfg.Subject == "" {
		return nil, errors.New("stream subject is required")
	}
	sc, err := stan.Connect(cfg.ClusterID, cfg.ClientID, stan.NatsURL(cfg.URL))
	if err != nil {
		return nil, errors.Wrap(err, "stan connect")
	}
	s, err := newStream(sc, cfg.Subject, opts)
	if err != nil {
		_ = sc.Close()
		return nil, err
	}
	return s, nil
}

func newStream(conn streamConn, subject string, opts ForwarderOptions) (*Stream, error) {
	s := &Stream{conn: conn, subject: subject}
	fwd, err := NewForwarder("stan", s.send, opts)
	if err != nil {
		return nil, err
	}
	s.fwd = fwd
	return s, nil
}

// Publish queues u for export.
func (s *Stream) Publish(_ context.Context, u proximity.Update) {
	s.fwd.Enqueue(broadcast.MarshalUpdate(u))
}

// Run exports queued updates until ctx is done.
func (s *Stream) Run(ctx context.Context) error {
	return s.fwd.Run(ctx)
}

// Close closes the underlying connection.
func (s *Stream) Close() error {
	return s.conn.Close()
}

func (s *Stream) send(_ context.Context, payload []byte) error {
	// stan.Conn.Publish blocks until the cluster acks.
	if err := s.conn.Publish(s.subject, payload); err != nil {
		return errors.Wrap(err, "stan publish")
	}
	return nil
}
