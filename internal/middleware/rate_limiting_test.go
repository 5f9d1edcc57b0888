package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-redis/redis_rate/v9"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2beens/blogsrv/internal/telemetry/metrics"
	"github.com/2beens/blogsrv/pkg"
)

func newTestClientIPReader(t *testing.T, trustedProxies ...string) *pkg.ClientIPReader {
	t.Helper()
	reader, err := pkg.NewClientIPReader(trustedProxies)
	require.NoError(t, err)
	return reader
}

// countingLimiter allows the first `allowed` calls per key.
type countingLimiter struct {
	allowed int
	calls   map[string]int
	err     error
}

func (l *countingLimiter) Allow(_ context.Context, key string, _ redis_rate.Limit) (*redis_rate.Result, error) {
	if l.err != nil {
		return nil, l.err
	}
	l.calls[key]++
	if l.calls[key] > l.allowed {
		return &redis_rate.Result{Allowed: 0, RetryAfter: 1500 * time.Millisecond}, nil
	}
	return &redis_rate.Result{Allowed: 1, Remaining: l.allowed - l.calls[key]}, nil
}

func TestRateLimit(t *testing.T) {
	metricsManager := metrics.NewTestManager()
	limiter := &countingLimiter{allowed: 2, calls: map[string]int{}}
	// httptest requests come from 192.0.2.1, standing in for the reverse proxy
	clientIPs := newTestClientIPReader(t, "192.0.2.1")
	handler := RateLimit(limiter, clientIPs, "login", 2, metricsManager)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	send := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/login", nil)
		req.Header.Set("X-Real-Ip", ip)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr
	}

	assert.Equal(t, http.StatusOK, send("10.0.0.1").Code)
	assert.Equal(t, http.StatusOK, send("10.0.0.1").Code)

	rr := send("10.0.0.1")
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "2", rr.Header().Get("Retry-After"))
	assert.Equal(t, float64(1), testutil.ToFloat64(metricsManager.CounterRateLimitedRequests))

	// other clients have their own budget
	assert.Equal(t, http.StatusOK, send("10.0.0.2").Code)
	assert.Equal(t, 3, limiter.calls["login||10.0.0.1"])
	assert.Equal(t, 1, limiter.calls["login||10.0.0.2"])
}

func TestRateLimit_LimiterError(t *testing.T) {
	limiter := &countingLimiter{err: errors.New("redis down")}
	nextCalled := false
	handler := RateLimit(limiter, newTestClientIPReader(t), "register", 5, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/register", nil))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.False(t, nextCalled)
}

func TestRateLimit_RotatingForwardedHeadersShareBudget(t *testing.T) {
	metricsManager := metrics.NewTestManager()
	limiter := &countingLimiter{allowed: 2, calls: map[string]int{}}
	// no trusted proxies: the peer address is all that counts
	handler := RateLimit(limiter, newTestClientIPReader(t), "login", 2, metricsManager)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	codes := make([]int, 0, 4)
	for _, spoofed := range []string{"1.1.1.1", "2.2.2.2", "3.3.3.3", "4.4.4.4"} {
		req := httptest.NewRequest(http.MethodPost, "/login", nil)
		req.RemoteAddr = "83.12.53.65:2145"
		req.Header.Set("X-Real-Ip", spoofed)
		req.Header.Set("X-Forwarded-For", spoofed)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		codes = append(codes, rr.Code)
	}

	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests, http.StatusTooManyRequests}, codes)
	assert.Equal(t, 4, limiter.calls["login||83.12.53.65"])
	assert.Equal(t, float64(2), testutil.ToFloat64(metricsManager.CounterRateLimitedRequests))
}
