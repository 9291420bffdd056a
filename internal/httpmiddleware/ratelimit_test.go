package httpmiddleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenBucket(t *testing.T) {
	clock := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	l := NewTokenBucket(3, 60)
	l.now = func() time.Time { return clock }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := l.Allow(ctx, "a")
		require.NoError(t, err)
		assert.True(t, ok, "request %d within burst", i)
	}
	ok, _ := l.Allow(ctx, "a")
	assert.False(t, ok, "burst exhausted")

	ok, _ = l.Allow(ctx, "b")
	assert.True(t, ok, "keys are independent")

	clock = clock.Add(time.Second)
	ok, _ = l.Allow(ctx, "a")
	assert.True(t, ok, "one token refilled after a second")
	ok, _ = l.Allow(ctx, "a")
	assert.False(t, ok)

	clock = clock.Add(time.Hour)
	for i := 0; i < 3; i++ {
		ok, _ = l.Allow(ctx, "a")
		assert.True(t, ok)
	}
	ok, _ = l.Allow(ctx, "a")
	assert.False(t, ok, "refill is capped at capacity")
}

func TestTokenBucket_ForgetsIdleKeys(t *testing.T) {
	clock := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	l := NewTokenBucket(2, 60)
	l.now = func() time.Time { return clock }
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		_, err := l.Allow(ctx, fmt.Sprintf("ip:10.0.0.%d", i))
		require.NoError(t, err)
	}
	_, _ = l.Allow(ctx, "user:busy")
	_, _ = l.Allow(ctx, "user:busy")
	assert.Len(t, l.state, 51)

	clock = clock.Add(time.Second)
	ok, _ := l.Allow(ctx, "user:busy")
	assert.True(t, ok, "partly refilled")

	clock = clock.Add(1500 * time.Millisecond)
	_, _ = l.Allow(ctx, "user:new")
	assert.Len(t, l.state, 2, "idle keys are dropped")
	assert.Contains(t, l.state, "user:busy")

	clock = clock.Add(time.Hour)
	_, _ = l.Allow(ctx, "user:new")
	assert.Len(t, l.state, 1)
}

type fakeLimiter struct {
	allow bool
	err   error
	keys  []string
}

func (f *fakeLimiter) Allow(_ context.Context, key string) (bool, error) {
	f.keys = append(f.keys, key)
	return f.allow, f.err
}

func serve(l Limiter, keyFn func(*gin.Context) string) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RateLimit(l, keyFn))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.7:4000"
	r.ServeHTTP(w, req)
	return w
}

func TestRateLimit(t *testing.T) {
	t.Run("allowed", func(t *testing.T) {
		l := &fakeLimiter{allow: true}
		w := serve(l, nil)
		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, []string{"ip:10.0.0.7"}, l.keys)
	})

	t.Run("over budget", func(t *testing.T) {
		w := serve(&fakeLimiter{}, nil)
		assert.Equal(t, http.StatusTooManyRequests, w.Code)
		assert.Equal(t, "60", w.Header().Get("Retry-After"))
	})

	t.Run("backend failure lets requests through", func(t *testing.T) {
		w := serve(&fakeLimiter{err: errors.New("connection refused")}, nil)
		assert.Equal(t, http.StatusNoContent, w.Code)
	})

	t.Run("custom key", func(t *testing.T) {
		l := &fakeLimiter{allow: true}
		serve(l, func(*gin.Context) string { return "sub:stud-1" })
		assert.Equal(t, []string{"sub:stud-1"}, l.keys)
	})
}

func TestRedisWindow_UnreachableServer(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond, MaxRetries: -1})
	defer client.Close()

	ok, err := NewRedisWindow(client, 10).Allow(context.Background(), "ip:10.0.0.7")
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestSecurityHeaders(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(SecurityHeaders())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Empty(t, w.Header().Get("Strict-Transport-Security"))
}
