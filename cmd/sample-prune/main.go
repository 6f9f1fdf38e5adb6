// Command sample-prune archives location samples older than a cutoff to
// gzip-compressed NDJSON files and deletes them from PostgreSQL.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	pgzip "github.com/klauspost/pgzip"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/pickup-proximity/internal/domain/tracking"
	"github.com/xenking/pickup-proximity/internal/storage/postgres"
)

type options struct {
	databaseURL string
	archiveDir  string
	olderThan   time.Duration
	batchSize   int
	parallel    int
}

// sampleStore is the part of the sample repository pruning needs.
type sampleStore interface {
	Expired(ctx context.Context, restaurantID string, cutoff time.Time, limit int) ([]tracking.Sample, error)
	Delete(ctx context.Context, ids []string) (int64, error)
}

func main() {
	var opts options

	flag.StringVar(&opts.databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&opts.archiveDir, "archive-dir", "archive", "directory for <restaurant>-<timestamp>.ndjson.gz files")
	flag.DurationVar(&opts.olderThan, "older-than", 24*time.Hour, "prune samples captured before now minus this duration")
	flag.IntVar(&opts.batchSize, "batch-size", 1000, "samples archived and deleted per round trip")
	flag.IntVar(&opts.parallel, "parallel", 4, "restaurants pruned concurrently")
	flag.Parse()

	if opts.databaseURL == "" {
		opts.databaseURL = os.Getenv("DATABASE_URL")
	}
	if opts.databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, opts); err != nil {
		slog.Error("sample prune failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("sample prune completed successfully")
}

func run(ctx context.Context, opts options) error {
	if err := os.MkdirAll(opts.archiveDir, 0o750); err != nil {
		return errors.Wrap(err, "create archive dir")
	}

	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, opts.databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	ids, err := postgres.NewRestaurantRepository(pool).ListIDs(ctx)
	if err != nil {
		return errors.Wrap(err, "list restaurants")
	}

	cutoff := time.Now().UTC().Add(-opts.olderThan)
	slog.Info("pruning samples",
		slog.Int("restaurants", len(ids)),
		slog.Time("cutoff", cutoff),
	)

	samples := postgres.NewSampleRepository(pool)
	stamp := time.Now().UTC().Format("20060102T150405Z")

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(opts.parallel, 1))
	for _, id := range ids {
		path := filepath.Join(opts.archiveDir, fmt.Sprintf("%s-%s.ndjson.gz", id, stamp))
		g.Go(func() error {
			n, err := pruneRestaurant(ctx, samples, id, cutoff, opts.batchSize, path)
			if err != nil {
				return errors.Wrapf(err, "prune restaurant %s", id)
			}
			slog.Info("restaurant pruned", slog.String("restaurant", id), slog.Int64("samples", n))
			return nil
		})
	}

	return g.Wait()
}

// pruneRestaurant archives and deletes expired samples batch by batch. A
// batch is deleted only after it has been flushed to the archive.
func pruneRestaurant(
	ctx context.Context,
	store sampleStore,
	restaurantID string,
	cutoff time.Time,
	batchSize int,
	path string,
) (total int64, err error) {
	var archive *archiveWriter
	defer func() {
		if archive == nil {
			return
		}
		if cerr := archive.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		batch, err := store.Expired(ctx, restaurantID, cutoff, batchSize)
		if err != nil {
			return total, errors.Wrap(err, "load expired samples")
		}
		if len(batch) == 0 {
			return total, nil
		}

		if archive == nil {
			if archive, err = createArchive(path); err != nil {
				return total, err
			}
		}
		if err := archive.Write(batch); err != nil {
			return total, err
		}

		ids := make([]string, len(batch))
		for i := range batch {
			ids[i] = batch[i].ID
		}
		n, err := store.Delete(ctx, ids)
		if err != nil {
			return total, errors.Wrap(err, "delete archived samples")
		}
		total += n

		if len(batch) < batchSize {
			return total, nil
		}
	}
}

// archiveWriter writes samples as gzip-compressed NDJSON.
type archiveWriter struct {
	f  *os.File
	gz *pgzip.Writer
	w  *bufio.Writer
}

func createArchive(path string) (*archiveWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrapf(err, "create %s", path)
	}
	gz := pgzip.NewWriter(f)
	return &archiveWriter{f: f, gz: gz, w: bufio.NewWriter(gz)}, nil
}

// Write appends samples and flushes them through the compressor.
func (a *archiveWriter) Write(samples []tracking.Sample) error {
	var e jx.Encoder
	for i := range samples {
		e.Reset()
		encodeSample(&e, &samples[i])
		if _, err := a.w.Write(append(e.Bytes(), '\n')); err != nil {
			return errors.Wrap(err, "write archive")
		}
	}
	if err := a.w.Flush(); err != nil {
		return errors.Wrap(err, "flush archive")
	}
	if err := a.gz.Flush(); err != nil {
		return errors.Wrap(err, "flush gzip")
	}
	return nil
}

func (a *archiveWriter) Close() error {
	if err := a.w.Flush(); err != nil {
		_ = a.f.Close()
		return errors.Wrap(err, "flush archive")
	}
	if err := a.gz.Close(); err != nil {
		_ = a.f.Close()
		return errors.Wrap(err, "close gzip")
	}
	if err := a.f.Close(); err != nil {
		return errors.Wrap(err, "close archive")
	}
	return nil
}

func encodeSample(e *jx.Encoder, s *tracking.Sample) {
	opt := func(name string, v *float64) {
		if v != nil {
			e.Field(name, func(e *jx.Encoder) { e.Float64(*v) })
		}
	}
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(s.ID) })
		e.Field("orderId", func(e *jx.Encoder) { e.Str(s.OrderID) })
		e.Field("userId", func(e *jx.Encoder) { e.Str(s.UserID) })
		e.Field("lat", func(e *jx.Encoder) { e.Float64(s.Location.Lat) })
		e.Field("lng", func(e *jx.Encoder) { e.Float64(s.Location.Lng) })
		opt("accuracy", s.AccuracyMeters)
		opt("speed", s.SpeedMps)
		opt("heading", s.HeadingDegrees)
		opt("altitude", s.AltitudeMeters)
		e.Field("capturedAt", func(e *jx.Encoder) { e.Str(s.CapturedAt.UTC().Format(time.RFC3339Nano)) })
		if s.ClientCapturedAt != nil {
			e.Field("clientCapturedAt", func(e *jx.Encoder) { e.Str(s.ClientCapturedAt.UTC().Format(time.RFC3339Nano)) })
		}
	})
}
