package telemetry

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveCommand(t *testing.T) {
	m := New()

	m.ObserveCommand("play", OutcomeOK)
	m.ObserveCommand("play", OutcomeOK)
	m.ObserveCommand("play", OutcomeDenied)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.CommandsTotal.WithLabelValues("play", OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CommandsTotal.WithLabelValues("play", OutcomeDenied)))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveCommand("x", OutcomeOK)
		m.ObserveDuration("x", time.Second)
		m.ObserveTransition("empty", "pause")
		m.SetPlayers(3)
	})
}

func TestHandler_ExposesMetrics(t *testing.T) {
	m := New()
	m.ObserveTransition("empty_channel", "pause")
	m.SetPlayers(2)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `musicbot_presence_transitions_total{action="pause",reason="empty_channel"} 1`)
	assert.Contains(t, body, "musicbot_players 2")
}
