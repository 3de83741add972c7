package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/spec-kit/ticket-triage/internal/config"
)

func TestMetricsRecordWorkflow(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordAttempt("on-ticket-created")
	m.RecordAttempt("on-ticket-created")
	m.RecordRetry("on-ticket-created")
	m.RecordRun("on-ticket-created", "succeeded")
	m.RecordStep("on-ticket-created", "assign", true, 10*time.Millisecond)
	m.RecordStep("on-ticket-created", "assign", false, 10*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.attempts.WithLabelValues("on-ticket-created")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.retries.WithLabelValues("on-ticket-created")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("on-ticket-created", "succeeded")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.stepDuration))
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordRequest("/tickets", http.MethodGet, 200, time.Millisecond)
		m.RecordError("/tickets", http.MethodGet, "NOT_FOUND")
		m.RecordAttempt("w")
		m.RecordRetry("w")
		m.RecordRun("w", "failed")
		m.RecordStep("w", "s", true, time.Millisecond)
	})
}

func TestRequestLogger(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	m := NewMetrics(prometheus.NewRegistry())

	app := fiber.New()
	app.Use(requestid.New())
	app.Use(RequestLogger(zap.New(core), m))
	app.Get("/tickets/:id", func(c *fiber.Ctx) error { return c.SendStatus(http.StatusOK) })
	app.Get("/boom", func(c *fiber.Ctx) error { return c.SendStatus(http.StatusBadGateway) })

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/tickets/abc", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/boom", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, "/tickets/abc", entries[0].ContextMap()["path"])
	assert.NotEmpty(t, entries[0].ContextMap()["request_id"])
	assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
	assert.Equal(t, "/boom", entries[1].ContextMap()["path"])

	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("/tickets/:id", http.MethodGet, "200")))
}

func TestNewLoggerFallsBackToInfo(t *testing.T) {
	logger, err := NewLogger(config.LoggerConfig{Level: "loud", Output: "stderr"})
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.False(t, logger.Core().Enabled(zapcore.DebugLevel))
}
