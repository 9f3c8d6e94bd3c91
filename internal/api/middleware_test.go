package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"ringdht/internal/logs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecoveryMiddleware(t *testing.T) {
	logger := logs.NewLogger(10, logs.DEBUG)
	handler := RecoveryMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("table corrupted")
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/admin/sweep", nil))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Contains(t, rr.Body.String(), "internal server error")

	last := logger.GetLast(1)
	require.Len(t, last, 1)
	assert.Equal(t, logs.ERROR, last[0].Level)
	assert.Contains(t, last[0].Message, "panic recovered: table corrupted")
}

func TestLoggingMiddleware(t *testing.T) {
	logger := logs.NewLogger(10, logs.INFO)

	handler := LoggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/admin/keys", nil))
	last := logger.GetLast(1)
	require.Len(t, last, 1)
	assert.Contains(t, last[0].Message, "GET /admin/keys 418")

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/internal/heartbeat", nil))
	assert.Len(t, logger.GetLast(10), 1, "heartbeats are logged at debug level")
}

func TestChainAppliesFirstMiddlewareOutermost(t *testing.T) {
	var order []string
	tag := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		order = append(order, "handler")
	})

	Chain(final, tag("recovery"), tag("logging")).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, []string{"recovery", "logging", "handler"}, order)
}
