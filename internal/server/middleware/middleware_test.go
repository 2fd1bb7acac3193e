package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestAuth(t *testing.T) {
	tests := []struct {
		name   string
		key    string
		header map[string]string
		want   int
	}{
		{"disabled", "", nil, http.StatusOK},
		{"missing token", "secret", nil, http.StatusUnauthorized},
		{"bearer ok", "secret", map[string]string{"Authorization": "Bearer secret"}, http.StatusOK},
		{"bearer lowercase scheme", "secret", map[string]string{"Authorization": "bearer secret"}, http.StatusOK},
		{"bearer wrong", "secret", map[string]string{"Authorization": "Bearer nope"}, http.StatusUnauthorized},
		{"api key header", "secret", map[string]string{"X-API-Key": "secret"}, http.StatusOK},
		{"basic scheme ignored", "secret", map[string]string{"Authorization": "Basic secret"}, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			Auth(tt.key)(okHandler).ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
			if tt.want == http.StatusUnauthorized {
				assert.Contains(t, rec.Body.String(), "authentication token")
			}
		})
	}
}

type stubLimiter struct {
	allowed bool
	err     error
	keys    []string
}

func (s *stubLimiter) Allow(_ context.Context, key string, _ int, _ time.Duration) (bool, error) {
	s.keys = append(s.keys, key)
	return s.allowed, s.err
}

func TestRateLimit(t *testing.T) {
	t.Run("denied", func(t *testing.T) {
		lim := &stubLimiter{}
		req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
		req.Header.Set("X-Forwarded-For", "10.0.0.7, 10.0.0.1")
		rec := httptest.NewRecorder()
		RateLimit(lim, 10, time.Minute)(okHandler).ServeHTTP(rec, req)
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Equal(t, []string{"api:10.0.0.7"}, lim.keys)
	})
	t.Run("limiter error fails open", func(t *testing.T) {
		lim := &stubLimiter{err: errors.New("redis down")}
		rec := httptest.NewRecorder()
		RateLimit(lim, 10, time.Minute)(okHandler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestLoggingCapturesStatus(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := Logging(logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		w.WriteHeader(http.StatusOK)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}
