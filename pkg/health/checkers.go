package health

import (
	"context"
	"database/sql"
	"runtime"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
)

// GoroutineCountCheck fails when the process runs more than threshold
// goroutines. Every websocket holds a few, so a leak shows up here first.
func GoroutineCountCheck(threshold int) CheckFunc {
	return func(_ context.Context) error {
		if count := runtime.NumGoroutine(); count > threshold {
			return errors.Errorf("goroutine count %d exceeds threshold %d", count, threshold)
		}
		return nil
	}
}

// Counter reports a current population, such as live hub subscriptions.
type Counter interface {
	Len() int
}

// SubscriberCountCheck fails when c reports more than threshold entries.
func SubscriberCountCheck(c Counter, threshold int) CheckFunc {
	return func(_ context.Context) error {
		if n := c.Len(); n > threshold {
			return errors.Errorf("%d subscribers exceed threshold %d", n, threshold)
		}
		return nil
	}
}

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck fails when p cannot be pinged.
func PingCheck(p Pinger) CheckFunc {
	return func(ctx context.Context) error {
		if err := p.Ping(ctx); err != nil {
			return errors.Wrap(err, "ping")
		}
		return nil
	}
}

// SQLCheck fails when db cannot be pinged.
func SQLCheck(db *sql.DB) CheckFunc {
	return func(ctx context.Context) error {
		if err := db.PingContext(ctx); err != nil {
			return errors.Wrap(err, "ping")
		}
		return nil
	}
}

// RedisCheck fails when the Redis server does not answer PING.
func RedisCheck(client *redis.Client) CheckFunc {
	return func(ctx context.Context) error {
		if err := client.Ping(ctx).Err(); err != nil {
			return errors.Wrap(err, "redis ping")
		}
		return nil
	}
}
