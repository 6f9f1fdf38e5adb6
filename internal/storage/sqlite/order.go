package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/pickup-proximity/internal/domain/geo"
	"github.com/xenking/pickup-proximity/internal/domain/order"
)

const orderColumns = `id, owner_user_id, restaurant_id, state,
	current_lat, current_lng, distance_meters, eta_minutes, location_captured_at`

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by SQLite.
type OrderRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewOrderRepository returns an OrderRepository on db.
func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db, now: time.Now}
}

func (r *OrderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	o, err := scanOrder(r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	return o, nil
}

func (r *OrderRepository) ListTracked(ctx context.Context, restaurantID string) ([]order.Order, error) {
	args := []any{restaurantID}
	marks := make([]string, len(order.TrackedStates))
	for i, s := range order.TrackedStates {
		marks[i] = "?"
		args = append(args, string(s))
	}

	rows, err := r.db.QueryContext(ctx, `SELECT `+orderColumns+` FROM orders
		WHERE restaurant_id = ?
		  AND state IN (`+strings.Join(marks, ", ")+`)
		  AND location_captured_at IS NOT NULL
		ORDER BY CAST(distance_meters AS REAL) ASC, id ASC`, args...)
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
	_, err := r.db.ExecContext(ctx, `INSERT INTO orders (id, owner_user_id, restaurant_id, state, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE
		SET owner_user_id = excluded.owner_user_id,
		    restaurant_id = excluded.restaurant_id,
		    state = excluded.state,
		    updated_at = excluded.updated_at`,
		o.ID, o.OwnerUserID, o.RestaurantID, string(o.State), r.now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}
	return nil
}

// SetState changes an order's lifecycle state.
func (r *OrderRepository) SetState(ctx context.Context, id string, state order.State) error {
	res, err := r.db.ExecContext(ctx, `UPDATE orders SET state = ?, updated_at = ? WHERE id = ?`,
		string(state), r.now().UnixNano(), id)
	if err != nil {
		return fmt.Errorf("setting state of order %q: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return order.ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(row scanner) (*order.Order, error) {
	var (
		o          order.Order
		state      string
		lat, lng   sql.NullFloat64
		distance   decimal.NullDecimal
		eta        decimal.NullDecimal
		capturedAt sql.NullInt64
	)
	if err := row.Scan(&o.ID, &o.OwnerUserID, &o.RestaurantID, &state,
		&lat, &lng, &distance, &eta, &capturedAt,
	); err != nil {
		return nil, err
	}
	o.State = order.State(state)

	if capturedAt.Valid && lat.Valid && lng.Valid {
		o.Fix = &order.Fix{
			Location:       geo.Point{Lat: lat.Float64, Lng: lng.Float64},
			DistanceMeters: distance.Decimal.InexactFloat64(),
			ETAMinutes:     eta.Decimal.InexactFloat64(),
			CapturedAt:     fromNanos(capturedAt.Int64),
		}
	}
	return &o, nil
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}
