// Package health serves liveness and readiness probes.
//
// Every registered check runs on its own ticker. A check flips to unhealthy
// after FailureThreshold consecutive failures and back after
// SuccessThreshold consecutive successes, so a single slow ping does not
// take the pod out of rotation.
package health

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/jx"
	"go.uber.org/zap"
)

// CheckFunc reports nil when the checked component is healthy.
type CheckFunc func(ctx context.Context) error

// Kind separates liveness from readiness checks.
type Kind int

const (
	Liveness Kind = iota
	Readiness
)

func (k Kind) String() string {
	if k == Readiness {
		return "readiness"
	}
	return "liveness"
}

// check is driven by a single goroutine; only healthy and lastErr are read
// concurrently.
type check struct {
	name    string
	kind    Kind
	timeout time.Duration
	fn      CheckFunc

	healthy atomic.Bool
	lastErr atomic.Pointer[error]

	fails int
	oks   int
}

func (c *check) err() error {
	if p := c.lastErr.Load(); p != nil {
		return *p
	}
	return nil
}

// Options configures a Health.
type Options struct {
	FailureThreshold int
	SuccessThreshold int
	Logger           *zap.Logger
}

// Health owns the probe state of the service.
type Health struct {
	ready atomic.Bool

	failureThreshold int
	successThreshold int
	lg               *zap.Logger

	mu     sync.RWMutex
	checks []*check
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Health that is not ready. Call SetReady(true) once
// initialization completes.
func New(opts Options) *Health {
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = 3
	}
	if opts.SuccessThreshold <= 0 {
		opts.SuccessThreshold = 1
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Health{
		failureThreshold: opts.FailureThreshold,
		successThreshold: opts.SuccessThreshold,
		lg:               opts.Logger,
	}
}

// Add registers a check. Checks start healthy.
func (h *Health) Add(kind Kind, name string, timeout time.Duration, fn CheckFunc) {
	c := &check{name: name, kind: kind, timeout: timeout, fn: fn}
	c.healthy.Store(true)

	h.mu.Lock()
	h.checks = append(h.checks, c)
	h.mu.Unlock()
}

// AddLivenessCheck registers a check that decides whether the process
// should be restarted.
func (h *Health) AddLivenessCheck(name string, timeout time.Duration, fn CheckFunc) {
	h.Add(Liveness, name, timeout, fn)
}

// AddReadinessCheck registers a check that decides whether the instance
// receives traffic.
func (h *Health) AddReadinessCheck(name string, timeout time.Duration, fn CheckFunc) {
	h.Add(Readiness, name, timeout, fn)
}

// Start runs every registered check once per interval until Stop or ctx
// cancellation.
func (h *Health) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)

	h.mu.Lock()
	h.cancel = cancel
	checks := append([]*check(nil), h.checks...)
	h.mu.Unlock()

	for _, c := range checks {
		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			h.loop(ctx, c, interval)
		}()
	}
}

// Stop cancels the check goroutines and waits for them. It is safe to call
// more than once.
func (h *Health) Stop() {
	h.mu.Lock()
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
	h.mu.Unlock()
	h.wg.Wait()
}

func (h *Health) loop(ctx context.Context, c *check, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	h.run(ctx, c)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.run(ctx, c)
		}
	}
}

// run executes c once. It must not be called concurrently for the same
// check.
func (h *Health) run(ctx context.Context, c *check) {
	checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err := c.fn(checkCtx)
	c.lastErr.Store(&err)

	if err != nil {
		c.oks = 0
		c.fails++
		if c.fails >= h.failureThreshold && c.healthy.Swap(false) {
			h.lg.Warn("Health check failing",
				zap.String("check", c.name),
				zap.Stringer("kind", c.kind),
				zap.Error(err),
			)
		}
		return
	}
	c.fails = 0
	c.oks++
	if c.oks >= h.successThreshold && !c.healthy.Swap(true) {
		h.lg.Info("Health check recovered", zap.String("check", c.name), zap.Stringer("kind", c.kind))
	}
}

// SetReady marks the instance ready or, during shutdown, not ready.
func (h *Health) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady reports whether the instance is marked ready and every readiness
// check passes.
func (h *Health) IsReady() bool {
	return h.ready.Load() && len(h.failures(Readiness)) == 0
}

func (h *Health) failures(kind Kind) map[string]string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	failures := make(map[string]string)
	for _, c := range h.checks {
		if c.kind != kind || c.healthy.Load() {
			continue
		}
		if err := c.err(); err != nil {
			failures[c.name] = err.Error()
		} else {
			failures[c.name] = "check is unhealthy"
		}
	}
	return failures
}

// LiveEndpoint serves /livez: 200 {"status":"ok"} while every liveness check
// passes, otherwise 503 listing the failing checks.
func (h *Health) LiveEndpoint(w http.ResponseWriter, _ *http.Request) {
	writeStatus(w, h.failures(Liveness))
}

// ReadyEndpoint serves /readyz. It also fails while the instance is not
// marked ready.
func (h *Health) ReadyEndpoint(w http.ResponseWriter, _ *http.Request) {
	failures := h.failures(Readiness)
	if !h.ready.Load() {
		failures["_readiness"] = "service is not ready"
	}
	writeStatus(w, failures)
}

func writeStatus(w http.ResponseWriter, failures map[string]string) {
	names := make([]string, 0, len(failures))
	for name := range failures {
		names = append(names, name)
	}
	sort.Strings(names)

	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		if len(failures) == 0 {
			e.Field("status", func(e *jx.Encoder) { e.Str("ok") })
			return
		}
		e.Field("status", func(e *jx.Encoder) { e.Str("unhealthy") })
		e.Field("checks", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				for _, name := range names {
					e.Field(name, func(e *jx.Encoder) { e.Str(failures[name]) })
				}
			})
		})
	})

	w.Header().Set("Content-Type", "application/json")
	if len(failures) > 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	_, _ = w.Write(e.Bytes())
}
