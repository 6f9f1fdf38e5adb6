package httpmiddleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

type fakeClock struct{ t time.Time }

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func hit(h http.Handler, remote string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/location/update", nil)
	req.RemoteAddr = remote
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRateLimit_UnderAndOverLimit(t *testing.T) {
	clock := newFakeClock()
	h := RateLimit(RateLimitConfig{Max: 3, Window: time.Minute, now: clock.now})(okHandler())

	for i := range 3 {
		w := hit(h, "10.0.0.1:9999")
		require.Equal(t, http.StatusOK, w.Code, "request %d", i+1)
		assert.Equal(t, "3", w.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, []string{"2", "1", "0"}[i], w.Header().Get("X-RateLimit-Remaining"))
	}

	w := hit(h, "10.0.0.1:9999")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, "60", w.Header().Get("Retry-After"))

	var body map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, float64(429), body["code"])
	assert.Equal(t, "rate limit exceeded", body["message"])
}

func TestRateLimit_SlidingWindow(t *testing.T) {
	clock := newFakeClock()
	h := RateLimit(RateLimitConfig{Max: 4, Window: time.Minute, now: clock.now})(okHandler())

	for range 4 {
		require.Equal(t, http.StatusOK, hit(h, "10.0.0.1:1").Code)
	}

	// A quarter into the next window, three of the previous four still
	// count.
	clock.advance(75 * time.Second)
	assert.Equal(t, http.StatusOK, hit(h, "10.0.0.1:1").Code)
	assert.Equal(t, http.StatusTooManyRequests, hit(h, "10.0.0.1:1").Code)

	// Halfway through, two of them count next to the one new request.
	clock.advance(15 * time.Second)
	assert.Equal(t, http.StatusOK, hit(h, "10.0.0.1:1").Code)
	assert.Equal(t, http.StatusTooManyRequests, hit(h, "10.0.0.1:1").Code)

	// Two idle windows reset the key.
	clock.advance(3 * time.Minute)
	assert.Equal(t, http.StatusOK, hit(h, "10.0.0.1:1").Code)
}

func TestRateLimit_KeysAreIndependent(t *testing.T) {
	h := RateLimit(RateLimitConfig{Max: 1, Window: time.Minute})(okHandler())

	assert.Equal(t, http.StatusOK, hit(h, "10.0.0.1:1234").Code)
	assert.Equal(t, http.StatusOK, hit(h, "10.0.0.2:1234").Code)
	assert.Equal(t, http.StatusTooManyRequests, hit(h, "10.0.0.1:5678").Code)
}

func TestRateLimit_Skip(t *testing.T) {
	h := RateLimit(RateLimitConfig{
		Max:    1,
		Window: time.Minute,
		Skip: func(r *http.Request) bool {
			return strings.HasPrefix(r.URL.Path, "/ws/")
		},
	})(okHandler())

	for range 3 {
		req := httptest.NewRequest(http.MethodGet, "/ws/orders/o1", nil)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Header().Get("X-RateLimit-Limit"))
	}
}

func TestRateLimit_Evict(t *testing.T) {
	clock := newFakeClock()
	rl := newRateLimiter(RateLimitConfig{Max: 1, Window: time.Minute, now: clock.now})
	rl.allow("a", clock.now())
	clock.advance(30 * time.Second)
	rl.allow("b", clock.now())

	rl.evict(clock.now().Add(2 * time.Minute))
	assert.Equal(t, 0, rl.size())
}

func TestClientIP(t *testing.T) {
	for _, tc := range []struct {
		name   string
		header map[string]string
		remote string
		want   string
	}{
		{"RemoteAddr", nil, "192.168.1.1:4444", "192.168.1.1"},
		{"ForwardedFor", map[string]string{"X-Forwarded-For": "203.0.113.50, 70.41.3.18"}, "192.168.1.1:4444", "203.0.113.50"},
		{"RealIP", map[string]string{"X-Real-IP": "198.51.100.7"}, "192.168.1.1:4444", "198.51.100.7"},
		{"NoPort", nil, "pipe", "pipe"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tc.remote
			for k, v := range tc.header {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tc.want, ClientIP(req))
		})
	}
}
