package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) now() time.Time          { return f.t }
func (f *fakeClock) advance(d time.Duration) { f.t = f.t.Add(d) }

func newTestLimiter(rpm, burst int) (*Limiter, *fakeClock) {
	clk := &fakeClock{t: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)}
	l := New(Config{RequestsPerMinute: rpm, BurstSize: burst, IdleTTL: time.Minute})
	l.now = clk.now
	return l, clk
}

func TestAllowBurstThenDeny(t *testing.T) {
	l, _ := newTestLimiter(60, 3)
	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow("10.0.0.1"), "request %d", i)
	}
	assert.False(t, l.Allow("10.0.0.1"))
	assert.True(t, l.Allow("10.0.0.2"))
}

func TestTokensReplenish(t *testing.T) {
	l, clk := newTestLimiter(60, 1)
	assert.True(t, l.Allow("k"))
	assert.False(t, l.Allow("k"))

	clk.advance(time.Second)
	assert.True(t, l.Allow("k"))

	// Long idle periods refill at most to the burst size.
	clk.advance(time.Hour)
	assert.True(t, l.Allow("k"))
	assert.False(t, l.Allow("k"))
}

func TestEvictIdleBuckets(t *testing.T) {
	l, clk := newTestLimiter(60, 2)
	l.Allow("k")
	clk.advance(2 * time.Minute)
	l.evict()
	assert.Empty(t, l.buckets)
}

func TestNewAppliesDefaults(t *testing.T) {
	l := New(Config{})
	assert.Equal(t, DefaultConfig(), l.cfg)
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	l, _ := newTestLimiter(60, 1)
	r := gin.New()
	r.Use(l.Middleware())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 2)
	for i := range codes {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		codes[i] = w.Code
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusTooManyRequests}, codes)
}
