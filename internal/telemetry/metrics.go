// Package telemetry provides Prometheus metrics for command dispatch and the
// voice presence monitor, and a small HTTP server exposing them.
package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Outcome labels for CommandsTotal.
const (
	OutcomeOK         = "ok"
	OutcomeUsage      = "usage"
	OutcomeUserError  = "user_error"
	OutcomeDenied     = "denied"
	OutcomeFailure    = "failure"
	OutcomeSignal     = "signal"
	OutcomeIgnored    = "ignored"
	OutcomeBlacklist  = "blacklisted"
	OutcomeNotAllowed = "private_refused"
)

// Metrics groups the collectors used by the bot.
type Metrics struct {
	CommandsTotal      *prometheus.CounterVec
	CommandDuration    *prometheus.HistogramVec
	PresenceTransition *prometheus.CounterVec
	Players            prometheus.Gauge

	gatherer prometheus.Gatherer
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	return NewWith(reg, reg)
}

// NewWith registers the collectors on reg; g is served by the HTTP handler.
func NewWith(reg prometheus.Registerer, g prometheus.Gatherer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		CommandsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "musicbot_commands_total",
			Help: "Dispatched commands by name and outcome",
		}, []string{"command", "outcome"}),
		CommandDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "musicbot_command_duration_seconds",
			Help:    "Handler run time in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"command"}),
		PresenceTransition: f.NewCounterVec(prometheus.CounterOpts{
			Name: "musicbot_presence_transitions_total",
			Help: "Pause/resume transitions performed by the presence monitor",
		}, []string{"reason", "action"}),
		Players: f.NewGauge(prometheus.GaugeOpts{
			Name: "musicbot_players",
			Help: "Live players",
		}),
		gatherer: g,
	}
}

// ObserveCommand counts one dispatched command.
func (m *Metrics) ObserveCommand(command, outcome string) {
	if m == nil {
		return
	}
	m.CommandsTotal.WithLabelValues(command, outcome).Inc()
}

// ObserveDuration records a handler's run time.
func (m *Metrics) ObserveDuration(command string, d time.Duration) {
	if m == nil {
		return
	}
	m.CommandDuration.WithLabelValues(command).Observe(d.Seconds())
}

// ObserveTransition counts one presence transition.
func (m *Metrics) ObserveTransition(reason, action string) {
	if m == nil {
		return
	}
	m.PresenceTransition.WithLabelValues(reason, action).Inc()
}

// SetPlayers records the number of live players.
func (m *Metrics) SetPlayers(n int) {
	if m == nil {
		return
	}
	m.Players.Set(float64(n))
}

// Handler serves the collected metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Serve exposes /metrics and /healthz on addr until ctx is cancelled.
// It blocks; run in a goroutine.
func (m *Metrics) Serve(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", addr).Msg("Metrics server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Msg("Metrics server exited")
	}
}
