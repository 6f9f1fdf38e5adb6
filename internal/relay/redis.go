package relay

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xenking/pickup-proximity/internal/broadcast"
	"github.com/xenking/pickup-proximity/internal/domain/proximity"
	"github.com/xenking/pickup-proximity/internal/domain/tracking"
)

// DefaultRedisChannel is the pub/sub channel shared by all instances.
const DefaultRedisChannel = "pickup:proximity"

// RedisOptions configures a Redis relay.
type RedisOptions struct {
	// Channel defaults to DefaultRedisChannel.
	Channel string
	// Origin identifies this instance; messages it published are not
	// delivered back to it.
	Origin    string
	Forwarder ForwarderOptions
}

// Redis shares updates between instances over Redis pub/sub. Updates
// accepted locally are published to the channel; updates other instances
// published are handed to the local publisher.
type Redis struct {
	client  *redis.Client
	channel string
	origin  string
	local   tracking.Publisher
	fwd     *Forwarder
	lg      *zap.Logger
}

// NewRedis creates a relay on client. local receives updates published by
// other instances.
func NewRedis(client *redis.Client, local tracking.Publisher, opts RedisOptions) (*Redis, error) {
	if opts.Channel == "" {
		opts.Channel = DefaultRedisChannel
	}
	if opts.Origin == "" {
		return nil, errors.New("relay origin is required")
	}
	if opts.Forwarder.Logger == nil {
		opts.Forwarder.Logger = zap.NewNop()
	}
	r := &Redis{
		client:  client,
		channel: opts.Channel,
		origin:  opts.Origin,
		local:   local,
		lg:      opts.Forwarder.Logger.Named("redis"),
	}
	fwd, err := NewForwarder("redis", r.send, opts.Forwarder)
	if err != nil {
		return nil, err
	}
	r.fwd = fwd
	return r, nil
}

// Publish queues u for the other instances.
func (r *Redis) Publish(_ context.Context, u proximity.Update) {
	r.fwd.Enqueue(encodeEnvelope(r.origin, u))
}

func (r *Redis) send(ctx context.Context, payload []byte) error {
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return errors.Wrap(err, "redis publish")
	}
	return nil
}

// Run forwards local updates to Redis and remote updates to the local
// publisher until ctx is done.
func (r *Redis) Run(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer func() { _ = sub.Close() }()

	// Wait for the subscription to be confirmed before reporting ready.
	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return errors.Wrap(err, "redis subscribe")
	}
	r.lg.Info("Relay subscribed", zap.String("channel", r.channel))

	go func() { _ = r.fwd.Run(ctx) }()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.handle(ctx, []byte(msg.Payload))
		}
	}
}

func (r *Redis) handle(ctx context.Context, payload []byte) {
	origin, u, err := decodeEnvelope(payload)
	if err != nil {
		r.lg.Warn("Skipping malformed relay message", zap.Error(err))
		return
	}
	if origin == r.origin {
		return
	}
	r.local.Publish(ctx, u)
}

func encodeEnvelope(origin string, u proximity.Update) []byte {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("origin", func(e *jx.Encoder) { e.Str(origin) })
		e.Field("update", func(e *jx.Encoder) { broadcast.EncodeUpdate(e, u) })
	})
	return e.Bytes()
}

func decodeEnvelope(data []byte) (string, proximity.Update, error) {
	var (
		origin string
		raw    jx.Raw
	)
	err := jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "origin":
			origin, err = d.Str()
		case "update":
			raw, err = d.Raw()
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrapf(err, "decode %s", key)
		}
		return nil
	})
	if err != nil {
		return "", proximity.Update{}, err
	}
	if raw == nil {
		return "", proximity.Update{}, errors.New("envelope without update")
	}
	u, err := broadcast.UnmarshalUpdate(raw)
	if err != nil {
		return "", proximity.Update{}, errors.Wrap(err, "decode update")
	}
	return origin, u, nil
}
