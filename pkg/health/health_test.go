package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// switchable is a dependency whose availability the test controls.
type switchable struct {
	down atomic.Bool
	msg  string
}

func (s *switchable) Ping(context.Context) error {
	if s.down.Load() {
		return errors.New(s.msg)
	}
	return nil
}

func serveRouter(t *testing.T, h *Health) http.Handler {
	t.Helper()
	r := chi.NewRouter()
	h.Mount(r)
	return r
}

func get(t *testing.T, r http.Handler, method, path string) (int, statusResponse) {
	t.Helper()
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(method, path, nil))
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))

	var body statusResponse
	if method == http.MethodHead {
		assert.Zero(t, w.Body.Len(), "HEAD has no body")
		return w.Code, body
	}
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return w.Code, body
}

// fail runs c until it crosses its failure threshold.
func fail(c *checkConfig) {
	for range c.failureThreshold {
		c.run(context.Background())
	}
}

func TestReadyz_StorefrontDependencies(t *testing.T) {
	db := &switchable{msg: "dial tcp 10.0.0.5:5432: connection refused"}
	cache := &switchable{msg: "redis: connection pool timeout"}

	h := New()
	h.AddReadinessCheck("postgres", time.Second, PingCheck(db))
	h.AddReadinessCheck("redis", time.Second, PingCheck(cache))
	r := serveRouter(t, h)

	code, body := get(t, r, http.MethodGet, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, code, "not ready before startup completes")
	assert.Equal(t, map[string]string{"_readiness": "service is not ready"}, body.Checks)

	h.SetReady(true)
	code, body = get(t, r, http.MethodGet, "/readyz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, statusResponse{Status: "ok"}, body)

	cache.down.Store(true)
	fail(h.readinessChecks[1])
	code, body = get(t, r, http.MethodGet, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "unhealthy", body.Status)
	assert.Equal(t, map[string]string{"redis": "ping: redis: connection pool timeout"}, body.Checks)

	code, _ = get(t, r, http.MethodHead, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, code)

	code, _ = get(t, r, http.MethodGet, "/livez")
	assert.Equal(t, http.StatusOK, code, "a lost dependency does not restart the process")
}

func TestReadyz_Draining(t *testing.T) {
	h := New()
	h.AddReadinessCheck("postgres", time.Second, PingCheck(&switchable{}))
	h.SetReady(true)
	r := serveRouter(t, h)

	code, _ := get(t, r, http.MethodHead, "/readyz")
	require.Equal(t, http.StatusOK, code)
	assert.True(t, h.IsReady())

	h.SetReady(false)
	code, body := get(t, r, http.MethodGet, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, body.Checks, "_readiness")
	assert.NotContains(t, body.Checks, "postgres")
	assert.False(t, h.IsReady())
}

func TestLivez(t *testing.T) {
	tests := []struct {
		name      string
		checks    map[string]CheckFunc
		runs      int
		wantCode  int
		wantFails map[string]string
	}{
		{
			name:     "no checks",
			wantCode: http.StatusOK,
		},
		{
			name: "goroutines within limit",
			checks: map[string]CheckFunc{
				"goroutines": GoroutineCountCheck(1_000_000),
				"gc":         GCMaxPauseCheck(time.Hour),
			},
			runs:     1,
			wantCode: http.StatusOK,
		},
		{
			name:      "goroutine leak",
			checks:    map[string]CheckFunc{"goroutines": GoroutineCountCheck(0)},
			runs:      3,
			wantCode:  http.StatusServiceUnavailable,
			wantFails: map[string]string{"goroutines": ""},
		},
		{
			name:     "two failures stay below the default threshold",
			checks:   map[string]CheckFunc{"goroutines": GoroutineCountCheck(0)},
			runs:     2,
			wantCode: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := New()
			for name, check := range tt.checks {
				h.AddLivenessCheck(name, time.Second, check)
			}
			for _, c := range h.livenessChecks {
				for range tt.runs {
					c.run(context.Background())
				}
			}

			code, body := get(t, serveRouter(t, h), http.MethodGet, "/livez")
			assert.Equal(t, tt.wantCode, code)
			assert.Len(t, body.Checks, len(tt.wantFails))
			for name := range tt.wantFails {
				assert.Contains(t, body.Checks[name], "exceeds threshold")
			}
		})
	}
}

func TestCheckThresholds(t *testing.T) {
	db := &switchable{msg: "too many clients already"}

	tests := []struct {
		name  string
		opts  []CheckOption
		steps []bool // true means the database is down for that run
		want  []bool // health after each run
	}{
		{
			name:  "defaults",
			steps: []bool{true, true, true, false},
			want:  []bool{true, true, false, true},
		},
		{
			name:  "flapping never trips",
			steps: []bool{true, true, false, true, true, false},
			want:  []bool{true, true, true, true, true, true},
		},
		{
			name:  "strict failure, slow recovery",
			opts:  []CheckOption{WithFailureThreshold(1), WithSuccessThreshold(2)},
			steps: []bool{true, false, false},
			want:  []bool{false, false, true},
		},
		{
			name:  "non-positive options keep defaults",
			opts:  []CheckOption{WithFailureThreshold(0), WithSuccessThreshold(-1)},
			steps: []bool{true, true, true, false},
			want:  []bool{true, true, false, true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := New()
			h.AddReadinessCheck("postgres", time.Second, PingCheck(db), tt.opts...)
			c := h.readinessChecks[0]
			require.NoError(t, c.getLastError(), "no error before the first run")

			for i, down := range tt.steps {
				db.down.Store(down)
				c.run(context.Background())
				assert.Equal(t, tt.want[i], c.isHealthy(), "after run %d", i+1)
				if down {
					assert.ErrorContains(t, c.getLastError(), "too many clients already")
				} else {
					assert.NoError(t, c.getLastError())
				}
			}
		})
	}
}

func TestCheckTimeout(t *testing.T) {
	h := New()
	h.AddReadinessCheck("postgres", 10*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, WithFailureThreshold(1))

	c := h.readinessChecks[0]
	c.run(context.Background())
	assert.False(t, c.isHealthy())
	assert.ErrorIs(t, c.getLastError(), context.DeadlineExceeded)
}

func TestRedisCheck(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	check := RedisCheck(client)
	require.NoError(t, check(context.Background()))

	mr.Close()
	require.ErrorContains(t, check(context.Background()), "redis ping")
}

func TestStart_RunsChecksUntilStopped(t *testing.T) {
	var calls atomic.Int32
	h := New()
	h.AddReadinessCheck("postgres", time.Second, func(context.Context) error {
		calls.Add(1)
		return nil
	})
	h.SetReady(true)

	h.Start(context.Background(), 5*time.Millisecond)
	require.Eventually(t, func() bool { return calls.Load() >= 2 }, time.Second, time.Millisecond)

	h.Stop()
	h.Stop()

	time.Sleep(20 * time.Millisecond)
	settled := calls.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, settled, calls.Load(), "no runs after Stop")
}

func TestEndpoints_ConcurrentWithChecks(t *testing.T) {
	db := &switchable{msg: "down"}
	h := New()
	h.AddLivenessCheck("goroutines", time.Second, GoroutineCountCheck(1_000_000))
	h.AddReadinessCheck("postgres", time.Second, PingCheck(db), WithFailureThreshold(1))
	h.SetReady(true)
	r := serveRouter(t, h)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.Start(ctx, time.Millisecond)
	defer h.Stop()

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				db.down.Store(i%2 == 0)
				h.SetReady(i%3 != 0)
				_ = h.IsReady()
				for _, path := range []string{"/livez", "/readyz"} {
					w := httptest.NewRecorder()
					r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
				}
			}
		}()
	}
	wg.Wait()
}
