package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/pickup-proximity/internal/domain/geo"
	"github.com/xenking/pickup-proximity/internal/domain/order"
)

const (
	orderColumns = `id, owner_user_id, restaurant_id, state,
		current_lat, current_lng, distance_meters, eta_minutes, location_captured_at`

	getOrderSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	listTrackedOrdersSQL = `SELECT ` + orderColumns + ` FROM orders
		WHERE restaurant_id = $1
		  AND state = ANY($2)
		  AND location_captured_at IS NOT NULL
		ORDER BY distance_meters ASC, id ASC`

	createOrderSQL = `INSERT INTO orders (id, owner_user_id, restaurant_id, state)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET owner_user_id = EXCLUDED.owner_user_id,
		    restaurant_id = EXCLUDED.restaurant_id,
		    state = EXCLUDED.state,
		    updated_at = now()`

	setOrderStateSQL = `UPDATE orders SET state = $2, updated_at = now() WHERE id = $1`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Get returns order.ErrNotFound when no order has the given id.
func (r *OrderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	o, err := scanOrder(r.pool.QueryRow(ctx, getOrderSQL, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	return o, nil
}

// ListTracked returns the restaurant's tracked orders that have a fix,
// nearest first.
func (r *OrderRepository) ListTracked(ctx context.Context, restaurantID string) ([]order.Order, error) {
	states := make([]string, len(order.TrackedStates))
	for i, s := range order.TrackedStates {
		states[i] = string(s)
	}

	rows, err := r.pool.Query(ctx, listTrackedOrdersSQL, restaurantID, states)
	if err != nil {
		return nil, fmt.Errorf("listing tracked orders of %q: %w", restaurantID, err)
	}
	defer rows.Close()

	var orders []order.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning order row: %w", err)
		}
		orders = append(orders, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating order rows: %w", err)
	}
	return orders, nil
}

// Create inserts an order without a fix, or resets an existing one's
// owner, restaurant and state.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	if _, err := r.pool.Exec(ctx, createOrderSQL, o.ID, o.OwnerUserID, o.RestaurantID, string(o.State)); err != nil {
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}
	return nil
}

// SetState changes an order's lifecycle state.
func (r *OrderRepository) SetState(ctx context.Context, id string, state order.State) error {
	tag, err := r.pool.Exec(ctx, setOrderStateSQL, id, string(state))
	if err != nil {
		return fmt.Errorf("setting state of order %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

func scanOrder(row pgx.Row) (*order.Order, error) {
	var (
		o          order.Order
		state      string
		lat, lng   *float64
		distance   decimal.NullDecimal
		eta        decimal.NullDecimal
		capturedAt *time.Time
	)
	if err := row.Scan(&o.ID, &o.OwnerUserID, &o.RestaurantID, &state,
		&lat, &lng, &distance, &eta, &capturedAt,
	); err != nil {
		return nil, err
	}
	o.State = order.State(state)

	if capturedAt != nil && lat != nil && lng != nil {
		o.Fix = &order.Fix{
			Location:       geo.Point{Lat: *lat, Lng: *lng},
			DistanceMeters: distance.Decimal.InexactFloat64(),
			ETAMinutes:     eta.Decimal.InexactFloat64(),
			CapturedAt:     capturedAt.UTC(),
		}
	}
	return &o, nil
}
