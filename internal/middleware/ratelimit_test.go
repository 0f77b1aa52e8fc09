package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiterAllow(t *testing.T) {
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(3, time.Minute)
	rl.now = func() time.Time { return now }

	t.Run("hits within the limit pass", func(t *testing.T) {
		assert.True(t, rl.Allow("k"))
		assert.True(t, rl.Allow("k"))
		assert.True(t, rl.Allow("k"))
		assert.False(t, rl.Allow("k"))
	})

	t.Run("keys are independent", func(t *testing.T) {
		assert.True(t, rl.Allow("other"))
	})

	t.Run("old hits slide out of the window", func(t *testing.T) {
		now = now.Add(61 * time.Second)
		assert.True(t, rl.Allow("k"))
	})

	t.Run("denied hits do not extend the window", func(t *testing.T) {
		rl2 := NewRateLimiter(1, time.Minute)
		clock := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
		rl2.now = func() time.Time { return clock }

		assert.True(t, rl2.Allow("k"))
		for i := 0; i < 5; i++ {
			clock = clock.Add(10 * time.Second)
			assert.False(t, rl2.Allow("k"))
		}
		clock = clock.Add(11 * time.Second)
		assert.True(t, rl2.Allow("k"), "window measured from the accepted hit only")
	})
}

func TestRateLimiterMiddleware(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)
	handler := rl.Limit(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	t.Run("keyed by user id when authenticated", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r = r.WithContext(WithIdentity(r.Context(), Identity{UserID: "u1"}))
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		assert.Equal(t, http.StatusNoContent, w.Code)

		w = httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		assert.Equal(t, http.StatusTooManyRequests, w.Code)
	})

	t.Run("falls back to remote address", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.RemoteAddr = "10.0.0.1:1234"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		assert.Equal(t, http.StatusNoContent, w.Code)

		w = httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		assert.Equal(t, http.StatusTooManyRequests, w.Code)
	})
}
