// Command seed-db loads restaurants, creates demo orders and prints demo
// access tokens.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/pickup-proximity/internal/domain/auth"
	"github.com/xenking/pickup-proximity/internal/domain/geo"
	"github.com/xenking/pickup-proximity/internal/domain/order"
	"github.com/xenking/pickup-proximity/internal/domain/proximity"
	"github.com/xenking/pickup-proximity/internal/domain/restaurant"
	"github.com/xenking/pickup-proximity/internal/storage/postgres"
	"github.com/xenking/pickup-proximity/internal/storage/sqlite"
)

type restaurantJSON struct {
	ID       string           `json:"id"`
	Name     string           `json:"name"`
	Location geo.Point        `json:"location"`
	Rings    []proximity.Ring `json:"rings"`
}

type options struct {
	driver          string
	databaseURL     string
	sqlitePath      string
	restaurantsFile string
	jwtSecret       string
	issuer          string
	tokenTTL        time.Duration
}

func main() {
	var opts options

	flag.StringVar(&opts.driver, "driver", "postgres", "storage driver: postgres or sqlite")
	flag.StringVar(&opts.databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&opts.sqlitePath, "sqlite-path", "file:pickup.db?_txlock=immediate", "SQLite DSN used with --driver=sqlite")
	flag.StringVar(&opts.restaurantsFile, "restaurants-file", "db/seed/restaurants.json", "path to restaurants JSON file")
	flag.StringVar(&opts.jwtSecret, "jwt-secret", "", "HS256 secret for demo tokens (or PICKUP_AUTH_JWT_SECRET env)")
	flag.StringVar(&opts.issuer, "issuer", "pickup", "token issuer")
	flag.DurationVar(&opts.tokenTTL, "token-ttl", 24*time.Hour, "demo token lifetime")
	flag.Parse()

	if opts.databaseURL == "" {
		opts.databaseURL = os.Getenv("DATABASE_URL")
	}
	if opts.driver == "postgres" && opts.databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if opts.jwtSecret == "" {
		opts.jwtSecret = os.Getenv("PICKUP_AUTH_JWT_SECRET")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, opts); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, opts options) error {
	store, closeStore, err := openStore(ctx, opts)
	if err != nil {
		return err
	}
	defer closeStore()

	restaurants, err := seedRestaurants(ctx, store, opts.restaurantsFile)
	if err != nil {
		return errors.Wrap(err, "seed restaurants")
	}

	if err := seedOrders(ctx, store, restaurants); err != nil {
		return errors.Wrap(err, "seed orders")
	}

	if opts.jwtSecret == "" {
		slog.Info("no jwt secret given, skipping demo tokens")
		return nil
	}
	if err := printTokens(opts, restaurants); err != nil {
		return errors.Wrap(err, "issue demo tokens")
	}

	return nil
}

func openStore(ctx context.Context, opts options) (*repoStore, func(), error) {
	switch opts.driver {
	case "postgres":
		slog.Info("connecting to database")

		pool, err := postgres.NewPool(ctx, opts.databaseURL)
		if err != nil {
			return nil, nil, errors.Wrap(err, "connect to database")
		}

		slog.Info("running migrations")

		if err := postgres.RunMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, errors.Wrap(err, "run migrations")
		}
		return &repoStore{
			restaurants: postgres.NewRestaurantRepository(pool),
			orders:      postgres.NewOrderRepository(pool),
		}, pool.Close, nil
	case "sqlite":
		slog.Info("opening sqlite database", slog.String("dsn", opts.sqlitePath))

		db, err := sqlite.Open(ctx, opts.sqlitePath)
		if err != nil {
			return nil, nil, errors.Wrap(err, "open sqlite")
		}
		return &repoStore{
			restaurants: sqlite.NewRestaurantRepository(db),
			orders:      sqlite.NewOrderRepository(db),
		}, closeDB(db), nil
	}
	return nil, nil, errors.Errorf("unknown driver %q", opts.driver)
}

func closeDB(db *sql.DB) func() {
	return func() { _ = db.Close() }
}

type restaurantWriter interface {
	Upsert(ctx context.Context, r *restaurant.Restaurant) error
}

type orderWriter interface {
	Create(ctx context.Context, o *order.Order) error
}

// repoStore is the write side of either storage driver.
type repoStore struct {
	restaurants restaurantWriter
	orders      orderWriter
}

func seedRestaurants(ctx context.Context, store *repoStore, path string) ([]restaurant.Restaurant, error) {
	slog.Info("reading restaurants file", slog.String("path", path))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read restaurants file")
	}

	var raw []restaurantJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(err, "parse restaurants JSON")
	}

	slog.Info("upserting restaurants", slog.Int("count", len(raw)))

	out := make([]restaurant.Restaurant, 0, len(raw))
	for _, r := range raw {
		if err := r.Location.Validate(); err != nil {
			return nil, errors.Wrapf(err, "restaurant %s", r.ID)
		}
		if len(r.Rings) > 0 {
			if _, err := proximity.NewRings(r.Rings); err != nil {
				return nil, errors.Wrapf(err, "restaurant %s rings", r.ID)
			}
		}

		rest := restaurant.Restaurant{ID: r.ID, Name: r.Name, Location: r.Location, Rings: r.Rings}
		if err := store.restaurants.Upsert(ctx, &rest); err != nil {
			return nil, errors.Wrapf(err, "upsert restaurant %s", r.ID)
		}

		slog.Info("upserted restaurant",
			slog.String("id", r.ID),
			slog.String("name", r.Name),
			slog.Int("custom_rings", len(r.Rings)),
		)
		out = append(out, rest)
	}

	return out, nil
}

// demoOrders are created for every restaurant; the pending one shows the
// tracking gate rejecting updates.
var demoOrders = []struct {
	suffix string
	owner  string
	state  order.State
}{
	{"confirmed", "customer-1", order.StateConfirmed},
	{"ready", "customer-2", order.StateReady},
	{"pending", "customer-1", order.StatePending},
}

func seedOrders(ctx context.Context, store *repoStore, restaurants []restaurant.Restaurant) error {
	slog.Info("seeding demo orders")

	for _, r := range restaurants {
		for _, d := range demoOrders {
			o := &order.Order{
				ID:           fmt.Sprintf("demo-%s-%s", r.ID, d.suffix),
				OwnerUserID:  d.owner,
				RestaurantID: r.ID,
				State:        d.state,
			}
			if err := store.orders.Create(ctx, o); err != nil {
				return errors.Wrapf(err, "create order %s", o.ID)
			}

			slog.Info("created order",
				slog.String("id", o.ID),
				slog.String("owner", o.OwnerUserID),
				slog.String("state", string(o.State)),
			)
		}
	}

	return nil
}

func printTokens(opts options, restaurants []restaurant.Restaurant) error {
	tokens, err := auth.NewTokens(opts.jwtSecret, opts.issuer)
	if err != nil {
		return err
	}

	principals := []auth.Principal{
		{UserID: "customer-1", Role: auth.RoleCustomer},
		{UserID: "customer-2", Role: auth.RoleCustomer},
		{UserID: "admin", Role: auth.RoleAdmin},
	}
	for _, r := range restaurants {
		principals = append(principals, auth.Principal{
			UserID:       "staff-" + r.ID,
			Role:         auth.RoleStaff,
			RestaurantID: r.ID,
		})
	}

	for _, p := range principals {
		tok, err := tokens.Issue(p, opts.tokenTTL)
		if err != nil {
			return errors.Wrapf(err, "issue token for %s", p.UserID)
		}
		slog.Info("issued demo token",
			slog.String("user", p.UserID),
			slog.String("role", string(p.Role)),
			slog.String("restaurant", p.RestaurantID),
		)
		fmt.Printf("%s\t%s\n", p.UserID, tok)
	}

	return nil
}
