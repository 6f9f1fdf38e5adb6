// Package app wires the pickup proximity server together.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/pickup-proximity/internal/broadcast"
	"github.com/xenking/pickup-proximity/internal/domain/auth"
	"github.com/xenking/pickup-proximity/internal/domain/proximity"
	"github.com/xenking/pickup-proximity/internal/domain/restaurant"
	"github.com/xenking/pickup-proximity/internal/domain/tracking"
	"github.com/xenking/pickup-proximity/internal/handler"
	"github.com/xenking/pickup-proximity/internal/relay"
	"github.com/xenking/pickup-proximity/pkg/health"
	"github.com/xenking/pickup-proximity/pkg/httpmiddleware"
)

const serviceName = "pickup-proximity"

// Run creates all dependencies, starts the HTTP server and the optional
// relays, and handles graceful shutdown. It is the single wiring point for
// the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr), zap.String("driver", cfg.Driver))

	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.close()

	rings, err := cfg.Tracking.ParseRings()
	if err != nil {
		return errors.Wrap(err, "parse default rings")
	}
	tokens, err := auth.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	if err != nil {
		return errors.Wrap(err, "create token verifier")
	}

	hub, err := broadcast.NewHub(broadcast.Options{
		Buffer:        cfg.Realtime.Buffer,
		Logger:        lg.Named("hub"),
		MeterProvider: m.MeterProvider(),
	})
	if err != nil {
		return errors.Wrap(err, "create hub")
	}
	defer hub.Close()

	// Health check service.
	healthSvc := health.New(health.Options{Logger: lg.Named("health")})
	healthSvc.AddReadinessCheck(cfg.Driver, 5*time.Second, st.ping)
	healthSvc.AddLivenessCheck("goroutines", time.Second,
		health.GoroutineCountCheck(10000+4*cfg.Realtime.MaxSubscribers))
	healthSvc.AddLivenessCheck("subscribers", time.Second,
		health.SubscriberCountCheck(hub, cfg.Realtime.MaxSubscribers))

	g, gCtx := errgroup.WithContext(ctx)

	// Publishers: local hub first, then the optional relays.
	publishers := tracking.Publishers{broadcast.NewPublisher(hub)}
	fwdOpts := relay.ForwarderOptions{Logger: lg.Named("relay"), MeterProvider: m.MeterProvider()}

	if cfg.Redis.URL != "" {
		opt, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return errors.Wrap(err, "parse redis url")
		}
		client := redis.NewClient(opt)
		defer func() { _ = client.Close() }()

		rr, err := relay.NewRedis(client, broadcast.NewPublisher(hub), relay.RedisOptions{
			Channel:   cfg.Redis.Channel,
			Origin:    uuid.NewString(),
			Forwarder: fwdOpts,
		})
		if err != nil {
			return errors.Wrap(err, "create redis relay")
		}
		publishers = append(publishers, rr)
		healthSvc.AddReadinessCheck("redis", 2*time.Second, health.RedisCheck(client))
		g.Go(func() error { return rr.Run(gCtx) })
	}

	if cfg.Stan.URL != "" {
		clientID := cfg.Stan.ClientID
		if clientID == "" {
			clientID = "pickup-" + uuid.NewString()
		}
		stream, err := relay.DialStream(relay.StreamConfig{
			URL:       cfg.Stan.URL,
			ClusterID: cfg.Stan.ClusterID,
			ClientID:  clientID,
			Subject:   cfg.Stan.Subject,
		}, fwdOpts)
		if err != nil {
			return errors.Wrap(err, "connect nats streaming")
		}
		defer func() { _ = stream.Close() }()

		publishers = append(publishers, stream)
		g.Go(func() error { return stream.Run(gCtx) })
	}

	// Domain services.
	directory := restaurant.NewDirectory(st.restaurants, rings, cfg.Tracking.RingCacheTTL)
	svc, err := tracking.NewService(st.orders, directory, st.samples, publishers,
		tracking.Config{
			Timeout:      cfg.Tracking.Timeout,
			HistoryLimit: cfg.Tracking.HistoryLimit,
			Estimator:    proximity.NewEstimator(cfg.Tracking.FallbackPace),
		},
		tracking.WithTracerProvider(m.TracerProvider()),
		tracking.WithMeterProvider(m.MeterProvider()),
	)
	if err != nil {
		return errors.Wrap(err, "create tracking service")
	}

	// HTTP handlers.
	h := handler.NewHandler(
		handler.HandlerConfig{AllowedOrigins: cfg.Realtime.AllowedOrigins},
		svc, hub, tokens,
	)

	// Router: health endpoints first, then the authenticated API.
	router := mux.NewRouter()
	router.HandleFunc("/livez", healthSvc.LiveEndpoint).Methods(http.MethodGet)
	router.HandleFunc("/readyz", healthSvc.ReadyEndpoint).Methods(http.MethodGet)
	h.Register(router)
	routeFinder := httpmiddleware.MakeRouteFinder(router)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(router,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", "Authorization"},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				Max:    cfg.RateLimit.Max,
				Window: cfg.RateLimit.Window,
				Skip:   isProbe,
			}),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.RequestID(),
			httpmiddleware.Instrument(serviceName, routeFinder, m),
			httpmiddleware.LogRequests(routeFinder),
			httpmiddleware.Labeler(routeFinder),
		),
	}

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Graceful shutdown: wait for cancellation, drain, then stop.
	g.Go(func() error {
		<-gCtx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		// Hijacked websocket connections are not tracked by Shutdown.
		h.Close()
		healthSvc.Stop()
		return nil
	})

	g.Go(func() error {
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})

	return g.Wait()
}

// isProbe exempts health probes from rate limiting.
func isProbe(r *http.Request) bool {
	return r.URL.Path == "/livez" || r.URL.Path == "/readyz"
}
