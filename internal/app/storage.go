package app

import (
	"context"

	"github.com/go-faster/errors"

	"github.com/xenking/pickup-proximity/internal/domain/order"
	"github.com/xenking/pickup-proximity/internal/domain/restaurant"
	"github.com/xenking/pickup-proximity/internal/domain/tracking"
	"github.com/xenking/pickup-proximity/internal/storage/postgres"
	"github.com/xenking/pickup-proximity/internal/storage/sqlite"
	"github.com/xenking/pickup-proximity/pkg/health"
)

// stores bundles the repositories of one storage driver.
type stores struct {
	orders      order.Repository
	restaurants restaurant.Repository
	samples     tracking.SampleRepository
	// ping backs the storage readiness check.
	ping  health.CheckFunc
	close func()
}

// openStores connects to the configured driver and applies the schema.
func openStores(ctx context.Context, cfg *Config) (*stores, error) {
	switch cfg.Driver {
	case DriverPostgres:
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, errors.Wrap(err, "create db pool")
		}
		if err := postgres.RunMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, errors.Wrap(err, "run migrations")
		}
		return &stores{
			orders:      postgres.NewOrderRepository(pool),
			restaurants: postgres.NewRestaurantRepository(pool),
			samples:     postgres.NewSampleRepository(pool),
			ping:        health.PingCheck(pool),
			close:       pool.Close,
		}, nil
	case DriverSQLite:
		db, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, errors.Wrap(err, "open sqlite")
		}
		return &stores{
			orders:      sqlite.NewOrderRepository(db),
			restaurants: sqlite.NewRestaurantRepository(db),
			samples:     sqlite.NewSampleRepository(db),
			ping:        health.SQLCheck(db),
			close:       func() { _ = db.Close() },
		}, nil
	}
	return nil, errors.Errorf("unknown storage driver %q", cfg.Driver)
}
