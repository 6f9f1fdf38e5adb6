package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/pickup-proximity/internal/domain/restaurant"
)

const (
	getRestaurantSQL = `SELECT id, name, lat, lng, rings FROM restaurants WHERE id = $1`

	upsertRestaurantSQL = `INSERT INTO restaurants (id, name, lat, lng, rings)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name, lat = EXCLUDED.lat, lng = EXCLUDED.lng, rings = EXCLUDED.rings`

	listRestaurantIDsSQL = `SELECT id FROM restaurants ORDER BY id`
)

var _ restaurant.Repository = (*RestaurantRepository)(nil)

// RestaurantRepository implements restaurant.Repository backed by PostgreSQL.
type RestaurantRepository struct {
	pool *pgxpool.Pool
}

// NewRestaurantRepository returns a RestaurantRepository that uses the given pool.
func NewRestaurantRepository(pool *pgxpool.Pool) *RestaurantRepository {
	return &RestaurantRepository{pool: pool}
}

// Get returns restaurant.ErrNotFound when no restaurant has the given id.
// Rings are returned as stored; validation happens in restaurant.Directory.
func (r *RestaurantRepository) Get(ctx context.Context, id string) (*restaurant.Restaurant, error) {
	var (
		rest  restaurant.Restaurant
		rings []byte
	)
	err := r.pool.QueryRow(ctx, getRestaurantSQL, id).Scan(
		&rest.ID, &rest.Name, &rest.Location.Lat, &rest.Location.Lng, &rings,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, restaurant.ErrNotFound
		}
		return nil, fmt.Errorf("getting restaurant %q: %w", id, err)
	}

	if len(rings) > 0 {
		if err := json.Unmarshal(rings, &rest.Rings); err != nil {
			return nil, fmt.Errorf("decoding rings of restaurant %q: %w", id, err)
		}
	}
	return &rest, nil
}

// Upsert creates or replaces a restaurant. A nil Rings stores NULL.
func (r *RestaurantRepository) Upsert(ctx context.Context, rest *restaurant.Restaurant) error {
	var rings []byte
	if rest.Rings != nil {
		var err error
		if rings, err = json.Marshal(rest.Rings); err != nil {
			return fmt.Errorf("encoding rings: %w", err)
		}
	}

	_, err := r.pool.Exec(ctx, upsertRestaurantSQL,
		rest.ID, rest.Name, rest.Location.Lat, rest.Location.Lng, rings,
	)
	if err != nil {
		return fmt.Errorf("upserting restaurant %q: %w", rest.ID, err)
	}
	return nil
}

// ListIDs returns every restaurant id in ascending order.
func (r *RestaurantRepository) ListIDs(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, listRestaurantIDsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing restaurants: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scanning restaurant ids: %w", err)
	}
	return ids, nil
}
