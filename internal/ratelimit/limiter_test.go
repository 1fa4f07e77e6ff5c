package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"uk.co.dudmesh.sentinel/internal/model"
)

func fixedClock(l *Limiter, start time.Time) *time.Time {
	now := start
	l.now = func() time.Time { return now }
	return &now
}

func TestBurstThenRefill(t *testing.T) {
	assert := assert.New(t)
	l := New(3, time.Second)
	now := fixedClock(l, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))

	for i := 0; i < 3; i++ {
		assert.NoError(l.Check("10.0.0.1"))
	}
	assert.ErrorIs(l.Check("10.0.0.1"), model.ErrorRateLimited)

	// other clients have their own bucket
	assert.NoError(l.Check("10.0.0.2"))

	*now = now.Add(time.Second)
	assert.NoError(l.Check("10.0.0.1"))
	assert.ErrorIs(l.Check("10.0.0.1"), model.ErrorRateLimited)
}

func TestCleanupDropsIdleBuckets(t *testing.T) {
	l := New(1, time.Minute)
	now := fixedClock(l, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))

	assert.True(t, l.Allow("a"))
	*now = now.Add(2 * time.Minute)
	assert.True(t, l.Allow("b"))

	l.Cleanup(time.Minute)
	assert.Len(t, l.limiters, 1)
	assert.Contains(t, l.limiters, "b")
}

func TestFullTableKeepsActiveBuckets(t *testing.T) {
	assert := assert.New(t)
	l := New(1, time.Hour)
	l.maxKeys = 3
	now := fixedClock(l, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))

	assert.NoError(l.Check("idle"))
	*now = now.Add(time.Second)
	assert.NoError(l.Check("10.0.0.9"))
	assert.ErrorIs(l.Check("10.0.0.9"), model.ErrorRateLimited)

	// a flood of fresh keys only pushes out whoever has been quiet longest
	for i, key := range []string{"a", "b", "c", "d"} {
		*now = now.Add(time.Second)
		assert.NoError(l.Check(key), "key %d", i)
		assert.ErrorIs(l.Check("10.0.0.9"), model.ErrorRateLimited)
	}

	assert.Len(l.limiters, 3)
	assert.NotContains(l.limiters, "idle")
	assert.Contains(l.limiters, "10.0.0.9")
}

func TestMiddleware(t *testing.T) {
	e := echo.New()
	l := New(1, time.Minute)
	fixedClock(l, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))

	handler := l.Middleware()(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	rec := httptest.NewRecorder()
	assert.NoError(t, handler(e.NewContext(req, rec)))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	err := handler(e.NewContext(req, rec))
	assert.ErrorIs(t, err, model.ErrorRateLimited)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
}
