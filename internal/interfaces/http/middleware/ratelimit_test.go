package middleware

import (
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/erp/exchange/internal/testutil"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func newTestLimiter(perSecond float64, burst int, idleTTL time.Duration) (*RateLimiter, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	rl := NewRateLimiter(perSecond, burst, idleTTL)
	rl.now = clock.Now
	return rl, clock
}

func TestRateLimiter_Allow(t *testing.T) {
	rl, clock := newTestLimiter(1, 2, time.Minute)

	assert.True(t, rl.Allow("10.0.0.1"))
	assert.True(t, rl.Allow("10.0.0.1"))
	assert.False(t, rl.Allow("10.0.0.1"), "burst exhausted")
	assert.True(t, rl.Allow("10.0.0.2"), "keys are independent")

	clock.Advance(time.Second)
	assert.True(t, rl.Allow("10.0.0.1"))
	assert.False(t, rl.Allow("10.0.0.1"))
}

func TestRateLimiter_EvictsIdleClients(t *testing.T) {
	rl, clock := newTestLimiter(0.001, 1, time.Minute)

	require.True(t, rl.Allow("10.0.0.1"))
	require.False(t, rl.Allow("10.0.0.1"))

	clock.Advance(2 * time.Minute)
	assert.True(t, rl.Allow("10.0.0.1"), "idle bucket is dropped and starts full")
	assert.Len(t, rl.clients, 1)
}

func TestNewRateLimiter_Defaults(t *testing.T) {
	rl := NewRateLimiter(5, 0, 0)
	assert.Equal(t, 1, rl.burst)
	assert.Equal(t, 10*time.Minute, rl.idleTTL)
}

func TestRateLimitByKey(t *testing.T) {
	rl, _ := newTestLimiter(1, 1, time.Minute)

	var handled int
	engine := gin.New()
	engine.Use(RateLimitByKey(rl, ClientIPKey, func(c *gin.Context) {
		c.String(http.StatusTooManyRequests, "slow down")
	}))
	engine.GET("/api", func(c *gin.Context) {
		handled++
		c.Status(http.StatusNoContent)
	})

	w := testutil.Do(t, engine, testutil.Request{Path: "/api"})
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = testutil.Do(t, engine, testutil.Request{Path: "/api"})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	assert.Equal(t, 1, handled)
}
