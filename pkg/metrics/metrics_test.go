package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/lewisedginton/recall-proxy/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() logger.Logger {
	return logger.NewLogger(logger.Config{Level: logger.ErrorLevel, Output: io.Discard})
}

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	return string(body)
}

func TestHTTPMiddlewareCountsRequests(t *testing.T) {
	m := NewMetrics(newTestLogger())

	handler := m.HTTPMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))

	for i := 0; i < 3; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/chat", nil))
	}

	body := scrape(t, m)
	assert.Contains(t, body, "recall_proxy_total_http_requests 3")
	assert.Contains(t, body, "recall_proxy_total_502_http_responses 3")
}

func TestMemoryCollectors(t *testing.T) {
	m := NewMetrics(newTestLogger())

	m.MemoryRecordsGauge.Set(7)
	m.ContextInjectionsCounter.Inc()
	m.MemoryWriteFailures.Inc()
	m.MemoryWriteFailures.Inc()

	body := scrape(t, m)
	assert.Contains(t, body, "recall_proxy_memory_records 7")
	assert.Contains(t, body, "recall_proxy_context_injections_total 1")
	assert.Contains(t, body, "recall_proxy_memory_write_failures_total 2")
}

func TestLazyStatusCountersAreStable(t *testing.T) {
	m := NewMetrics(newTestLogger())

	m.IncrementHTTPResponseCounter(200)
	m.IncrementHTTPResponseCounter(200)
	m.IncrementHTTPResponseCounter(404)

	body := scrape(t, m)
	assert.Contains(t, body, "recall_proxy_total_200_http_responses 2")
	assert.Contains(t, body, "recall_proxy_total_404_http_responses 1")
}
