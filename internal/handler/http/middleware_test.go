package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"routelimit/internal/handler/http/middleware"
	"routelimit/internal/handler/http/requestid"
	"routelimit/pkg/ratelimit"
)

func jsonLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, nil))
}

func decodeLogLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var lines []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		lines = append(lines, m)
	}
	return lines
}

func TestLogging(t *testing.T) {
	tests := []struct {
		name   string
		method string
		url    string
		status int
	}{
		{"GET 200", http.MethodGet, "/api/items", http.StatusOK},
		{"POST with query", http.MethodPost, "/api/items?page=1&limit=10", http.StatusCreated},
		{"DELETE 204", http.MethodDelete, "/api/items/123", http.StatusNoContent},
		{"500", http.MethodGet, "/api/error", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			handler := Logging(jsonLogger(&buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte("response body"))
			}))

			req := httptest.NewRequest(tt.method, tt.url, nil)
			req.Header.Set("User-Agent", "test-agent/1.0")
			req.RemoteAddr = "192.168.1.1:12345"
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)

			lines := decodeLogLines(t, &buf)
			require.Len(t, lines, 1)
			entry := lines[0]
			assert.Equal(t, "request completed", entry["msg"])
			assert.Equal(t, tt.method, entry["method"])
			assert.Equal(t, req.URL.Path, entry["path"])
			assert.Equal(t, req.URL.RawQuery, entry["query"])
			assert.Equal(t, "test-agent/1.0", entry["user_agent"])
			assert.EqualValues(t, tt.status, entry["status"])
			assert.EqualValues(t, len("response body"), entry["bytes"])
			assert.NotContains(t, entry, "ratelimit_key")
		})
	}
}

func TestLogging_IncludesRateLimitDecision(t *testing.T) {
	cfg := ratelimit.DefaultConfig()
	cfg.Default.Rule = ratelimit.RateLimitRule{Limit: 1, Period: 60}
	limiter, err := ratelimit.New(cfg, ratelimit.Options{})
	require.NoError(t, err)

	var buf bytes.Buffer
	handler := Chain(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }),
		requestid.Middleware,
		Logging(jsonLogger(&buf)),
		middleware.RateLimit(limiter, middleware.RateLimitOptions{Logger: slog.New(slog.DiscardHandler)}),
	)

	for range 2 {
		req := httptest.NewRequest(http.MethodGet, "/api/items", nil)
		req.RemoteAddr = "203.0.113.5:1234"
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}

	lines := decodeLogLines(t, &buf)
	require.Len(t, lines, 2)

	assert.Equal(t, "ip:203.0.113.5", lines[0]["ratelimit_key"])
	assert.Equal(t, "/api/**", lines[0]["ratelimit_route"])
	assert.Equal(t, "allowed", lines[0]["ratelimit_outcome"])
	assert.NotEmpty(t, lines[0]["request_id"])

	assert.Equal(t, "denied", lines[1]["ratelimit_outcome"])
	assert.EqualValues(t, http.StatusTooManyRequests, lines[1]["status"])
}

func TestRecover(t *testing.T) {
	tests := []struct {
		name       string
		panicValue any
	}{
		{"string", "something went wrong"},
		{"error", errors.New("test error")},
		{"number", 42},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			handler := Recover(jsonLogger(&buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				panic(tt.panicValue)
			}))

			rec := httptest.NewRecorder()
			require.NotPanics(t, func() {
				handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/test", nil))
			})

			assert.Equal(t, http.StatusInternalServerError, rec.Code)
			assert.NotContains(t, rec.Body.String(), "test error")
			assert.Contains(t, buf.String(), "panic recovered")
			assert.Contains(t, buf.String(), "stack")
		})
	}
}

func TestRecover_NoPanic(t *testing.T) {
	handler := Recover(slog.New(slog.DiscardHandler))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/test", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRecover_RepanicsAbortHandler(t *testing.T) {
	handler := Recover(slog.New(slog.DiscardHandler))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/test", nil))
	})
}

func TestChain_Order(t *testing.T) {
	var order []string
	mw := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		order = append(order, "handler")
	}), mw("first"), mw("second"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, []string{"first", "second", "handler"}, order)
}
