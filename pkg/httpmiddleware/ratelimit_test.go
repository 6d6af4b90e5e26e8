package httpmiddleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
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

func TestRateLimit(t *testing.T) {
	type call struct {
		remoteAddr string
		xff        string
		want       int
	}
	tests := []struct {
		name  string
		max   int
		calls []call
	}{
		{
			name: "under limit",
			max:  3,
			calls: []call{
				{remoteAddr: "192.168.1.1:1", want: http.StatusOK},
				{remoteAddr: "192.168.1.1:2", want: http.StatusOK},
				{remoteAddr: "192.168.1.1:3", want: http.StatusOK},
			},
		},
		{
			name: "over limit",
			max:  2,
			calls: []call{
				{remoteAddr: "10.0.0.1:9999", want: http.StatusOK},
				{remoteAddr: "10.0.0.1:9999", want: http.StatusOK},
				{remoteAddr: "10.0.0.1:9999", want: http.StatusTooManyRequests},
			},
		},
		{
			name: "clients limited independently",
			max:  1,
			calls: []call{
				{remoteAddr: "10.0.0.1:1234", want: http.StatusOK},
				{remoteAddr: "10.0.0.2:1234", want: http.StatusOK},
				{remoteAddr: "10.0.0.1:5678", want: http.StatusTooManyRequests},
			},
		},
		{
			name: "first forwarded address is the key",
			max:  1,
			calls: []call{
				{remoteAddr: "192.168.1.1:4444", xff: "203.0.113.50, 70.41.3.18", want: http.StatusOK},
				{remoteAddr: "192.168.1.2:5555", xff: "203.0.113.50", want: http.StatusTooManyRequests},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := RateLimit(RateLimitConfig{Max: tt.max, Window: time.Minute})(okHandler())

			for i, c := range tt.calls {
				req := httptest.NewRequest(http.MethodGet, "/", nil)
				req.RemoteAddr = c.remoteAddr
				if c.xff != "" {
					req.Header.Set("X-Forwarded-For", c.xff)
				}
				w := httptest.NewRecorder()
				handler.ServeHTTP(w, req)

				assert.Equal(t, c.want, w.Code, "call %d", i+1)
				assert.NotEmpty(t, w.Header().Get("X-RateLimit-Limit"))
				assert.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))
			}
		})
	}
}

func TestRateLimit_RejectionBody(t *testing.T) {
	handler := RateLimit(RateLimitConfig{Max: 1, Window: time.Minute})(okHandler())

	for range 2 {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.9:1"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		if w.Code != http.StatusTooManyRequests {
			continue
		}

		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
		assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
		assert.NotEmpty(t, w.Header().Get("Retry-After"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
		assert.Equal(t, float64(429), body["code"])
		assert.Equal(t, "rate limit exceeded", body["message"])
		return
	}
	t.Fatal("second request was not rate limited")
}

func TestRateLimiter_Cleanup(t *testing.T) {
	rl := newRateLimiter(RateLimitConfig{Max: 5, Window: time.Second})
	now := time.Now()

	_, _, ok := rl.allow("stale", now.Add(-3*time.Second))
	require.True(t, ok)
	_, _, ok = rl.allow("fresh", now)
	require.True(t, ok)

	rl.cleanup(now)

	assert.NotContains(t, rl.entries, "stale")
	assert.Contains(t, rl.entries, "fresh")
}
