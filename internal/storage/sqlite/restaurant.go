package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/go-faster/errors"

	"github.com/xenking/pickup-proximity/internal/domain/restaurant"
)

var _ restaurant.Repository = (*RestaurantRepository)(nil)

// RestaurantRepository implements restaurant.Repository backed by SQLite.
type RestaurantRepository struct {
	db *sql.DB
}

// NewRestaurantRepository returns a RestaurantRepository on db.
func NewRestaurantRepository(db *sql.DB) *RestaurantRepository {
	return &RestaurantRepository{db: db}
}

func (r *RestaurantRepository) Get(ctx context.Context, id string) (*restaurant.Restaurant, error) {
	var (
		rest  restaurant.Restaurant
		rings sql.NullString
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, lat, lng, rings FROM restaurants WHERE id = ?`, id,
	).Scan(&rest.ID, &rest.Name, &rest.Location.Lat, &rest.Location.Lng, &rings)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, restaurant.ErrNotFound
		}
		return nil, fmt.Errorf("getting restaurant %q: %w", id, err)
	}
	if rings.Valid && rings.String != "" {
		if err := json.Unmarshal([]byte(rings.String), &rest.Rings); err != nil {
			return nil, fmt.Errorf("decoding rings of restaurant %q: %w", id, err)
		}
	}
	return &rest, nil
}

// Upsert creates or replaces a restaurant. A nil Rings stores NULL.
func (r *RestaurantRepository) Upsert(ctx context.Context, rest *restaurant.Restaurant) error {
	var rings sql.NullString
	if rest.Rings != nil {
		b, err := json.Marshal(rest.Rings)
		if err != nil {
			return fmt.Errorf("encoding rings: %w", err)
		}
		rings = sql.NullString{String: string(b), Valid: true}
	}
	_, err := r.db.ExecContext(ctx, `INSERT INTO restaurants (id, name, lat, lng, rings)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE
		SET name = excluded.name, lat = excluded.lat, lng = excluded.lng, rings = excluded.rings`,
		rest.ID, rest.Name, rest.Location.Lat, rest.Location.Lng, rings,
	)
	if err != nil {
		return fmt.Errorf("upserting restaurant %q: %w", rest.ID, err)
	}
	return nil
}
