package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/pickup-proximity/internal/domain/order"
	"github.com/xenking/pickup-proximity/internal/domain/tracking"
)

const sampleColumns = `id, order_id, user_id, lat, lng,
	accuracy_meters, speed_mps, heading_degrees, altitude_meters, captured_at, client_captured_at`

var _ tracking.SampleRepository = (*SampleRepository)(nil)

// SampleRepository implements tracking.SampleRepository backed by SQLite.
type SampleRepository struct {
	db *sql.DB
}

// NewSampleRepository returns a SampleRepository on db.
func NewSampleRepository(db *sql.DB) *SampleRepository {
	return &SampleRepository{db: db}
}

// Record inserts s and updates the order's fix in one transaction.
func (r *SampleRepository) Record(ctx context.Context, s *tracking.Sample, fix order.Fix) (_ tracking.Outcome, err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var (
		state  string
		stored sql.NullInt64
	)
	err = tx.QueryRowContext(ctx,
		`SELECT state, location_captured_at FROM orders WHERE id = ?`, s.OrderID,
	).Scan(&state, &stored)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, order.ErrNotFound
		}
		return 0, fmt.Errorf("reading order %q: %w", s.OrderID, err)
	}
	if st := order.State(state); !order.CanAcceptLocation(st) {
		return 0, &tracking.PreconditionError{OrderID: s.OrderID, State: st}
	}

	var clientAt sql.NullInt64
	if s.ClientCapturedAt != nil {
		clientAt = sql.NullInt64{Int64: s.ClientCapturedAt.UnixNano(), Valid: true}
	}
	if _, err = tx.ExecContext(ctx, `INSERT INTO location_samples (`+sampleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.OrderID, s.UserID, s.Location.Lat, s.Location.Lng,
		s.AccuracyMeters, s.SpeedMps, s.HeadingDegrees, s.AltitudeMeters,
		s.CapturedAt.UnixNano(), clientAt,
	); err != nil {
		return 0, fmt.Errorf("inserting sample: %w", err)
	}

	outcome := tracking.Applied
	if stored.Valid && stored.Int64 > fix.CapturedAt.UnixNano() {
		outcome = tracking.Superseded
	} else {
		_, err = tx.ExecContext(ctx, `UPDATE orders
			SET current_lat = ?, current_lng = ?, distance_meters = ?, eta_minutes = ?,
			    location_captured_at = ?, updated_at = ?
			WHERE id = ?`,
			fix.Location.Lat, fix.Location.Lng,
			decimal.NewFromFloat(fix.DistanceMeters).Round(2),
			decimal.NewFromFloat(fix.ETAMinutes).Round(2),
			fix.CapturedAt.UnixNano(), time.Now().UnixNano(), s.OrderID,
		)
		if err != nil {
			return 0, fmt.Errorf("applying fix: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing sample: %w", err)
	}
	return outcome, nil
}

// Recent returns up to limit of the newest samples for orderID, oldest
// first.
func (r *SampleRepository) Recent(ctx context.Context, orderID string, limit int) ([]tracking.Sample, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+sampleColumns+` FROM (
		SELECT `+sampleColumns+` FROM location_samples
		WHERE order_id = ?
		ORDER BY captured_at DESC
		LIMIT ?
	) ORDER BY captured_at ASC`, orderID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying samples: %w", err)
	}
	defer rows.Close()

	var samples []tracking.Sample
	for rows.Next() {
		var (
			s          tracking.Sample
			accuracy   sql.NullFloat64
			speed      sql.NullFloat64
			heading    sql.NullFloat64
			altitude   sql.NullFloat64
			capturedAt int64
			clientAt   sql.NullInt64
		)
		if err := rows.Scan(&s.ID, &s.OrderID, &s.UserID, &s.Location.Lat, &s.Location.Lng,
			&accuracy, &speed, &heading, &altitude, &capturedAt, &clientAt,
		); err != nil {
			return nil, fmt.Errorf("scanning sample row: %w", err)
		}
		s.AccuracyMeters = nullable(accuracy)
		s.SpeedMps = nullable(speed)
		s.HeadingDegrees = nullable(heading)
		s.AltitudeMeters = nullable(altitude)
		s.CapturedAt = fromNanos(capturedAt)
		if clientAt.Valid {
			t := fromNanos(clientAt.Int64)
			s.ClientCapturedAt = &t
		}
		samples = append(samples, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sample rows: %w", err)
	}
	return samples, nil
}

func nullable(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return &v.Float64
}
