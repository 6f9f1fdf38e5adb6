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
	"github.com/xenking/pickup-proximity/internal/domain/tracking"
)

const (
	lockOrderSQL = `SELECT state, location_captured_at FROM orders WHERE id = $1 FOR UPDATE`

	insertSampleSQL = `INSERT INTO location_samples (id, order_id, user_id, lat, lng,
		accuracy_meters, speed_mps, heading_degrees, altitude_meters, captured_at, client_captured_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	applyFixSQL = `UPDATE orders
		SET current_lat = $2, current_lng = $3, distance_meters = $4, eta_minutes = $5,
		    location_captured_at = $6, updated_at = now()
		WHERE id = $1`

	sampleColumns = `id, order_id, user_id, lat, lng,
		accuracy_meters, speed_mps, heading_degrees, altitude_meters, captured_at, client_captured_at`

	recentSamplesSQL = `SELECT ` + sampleColumns + ` FROM (
		SELECT ` + sampleColumns + ` FROM location_samples
		WHERE order_id = $1
		ORDER BY captured_at DESC
		LIMIT $2
	) recent ORDER BY captured_at ASC`

	expiredSamplesSQL = `SELECT s.id, s.order_id, s.user_id, s.lat, s.lng,
		s.accuracy_meters, s.speed_mps, s.heading_degrees, s.altitude_meters, s.captured_at, s.client_captured_at
		FROM location_samples s
		JOIN orders o ON o.id = s.order_id
		WHERE o.restaurant_id = $1 AND s.captured_at < $2
		ORDER BY s.captured_at ASC
		LIMIT $3`

	deleteSamplesSQL = `DELETE FROM location_samples WHERE id = ANY($1)`
)

var _ tracking.SampleRepository = (*SampleRepository)(nil)

// SampleRepository implements tracking.SampleRepository backed by PostgreSQL.
type SampleRepository struct {
	pool *pgxpool.Pool
}

// NewSampleRepository returns a SampleRepository that uses the given pool.
func NewSampleRepository(pool *pgxpool.Pool) *SampleRepository {
	return &SampleRepository{pool: pool}
}

// Record inserts s and updates the order's fix in one transaction. The
// order row is locked for the duration so the state check and the write
// cannot interleave with a state transition.
func (r *SampleRepository) Record(ctx context.Context, s *tracking.Sample, fix order.Fix) (_ tracking.Outcome, err error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var (
		state  string
		stored *time.Time
	)
	if err = tx.QueryRow(ctx, lockOrderSQL, s.OrderID).Scan(&state, &stored); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, order.ErrNotFound
		}
		return 0, fmt.Errorf("locking order %q: %w", s.OrderID, err)
	}
	if st := order.State(state); !order.CanAcceptLocation(st) {
		return 0, &tracking.PreconditionError{OrderID: s.OrderID, State: st}
	}

	if _, err = tx.Exec(ctx, insertSampleSQL,
		s.ID, s.OrderID, s.UserID, s.Location.Lat, s.Location.Lng,
		s.AccuracyMeters, s.SpeedMps, s.HeadingDegrees, s.AltitudeMeters,
		s.CapturedAt, s.ClientCapturedAt,
	); err != nil {
		return 0, fmt.Errorf("inserting sample: %w", err)
	}

	outcome := tracking.Applied
	if stored != nil && stored.After(fix.CapturedAt) {
		outcome = tracking.Superseded
	} else {
		if _, err = tx.Exec(ctx, applyFixSQL, s.OrderID,
			fix.Location.Lat, fix.Location.Lng,
			decimal.NewFromFloat(fix.DistanceMeters).Round(2),
			decimal.NewFromFloat(fix.ETAMinutes).Round(2),
			fix.CapturedAt,
		); err != nil {
			return 0, fmt.Errorf("applying fix: %w", err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("committing sample: %w", err)
	}
	return outcome, nil
}

// Recent returns up to limit of the newest samples for orderID, oldest
// first.
func (r *SampleRepository) Recent(ctx context.Context, orderID string, limit int) ([]tracking.Sample, error) {
	return r.query(ctx, recentSamplesSQL, orderID, limit)
}

// Expired returns up to limit of the restaurant's samples captured before
// cutoff, oldest first.
func (r *SampleRepository) Expired(ctx context.Context, restaurantID string, cutoff time.Time, limit int) ([]tracking.Sample, error) {
	return r.query(ctx, expiredSamplesSQL, restaurantID, cutoff, limit)
}

// Delete removes samples by id and reports how many rows were deleted.
func (r *SampleRepository) Delete(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := r.pool.Exec(ctx, deleteSamplesSQL, ids)
	if err != nil {
		return 0, fmt.Errorf("deleting samples: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *SampleRepository) query(ctx context.Context, sql string, args ...any) ([]tracking.Sample, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("querying samples: %w", err)
	}
	defer rows.Close()

	var samples []tracking.Sample
	for rows.Next() {
		var (
			s   tracking.Sample
			lat float64
			lng float64
		)
		if err := rows.Scan(&s.ID, &s.OrderID, &s.UserID, &lat, &lng,
			&s.AccuracyMeters, &s.SpeedMps, &s.HeadingDegrees, &s.AltitudeMeters,
			&s.CapturedAt, &s.ClientCapturedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning sample row: %w", err)
		}
		s.Location = geo.Point{Lat: lat, Lng: lng}
		s.CapturedAt = s.CapturedAt.UTC()
		samples = append(samples, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sample rows: %w", err)
	}
	return samples, nil
}
