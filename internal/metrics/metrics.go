// Package metrics exposes the streaming engine's operational counters via a
// standalone Prometheus HTTP handler, grounded on the pack's use of
// github.com/prometheus/client_golang/prometheus/promhttp (see
// fd1az-arbitrage-bot/internal/metrics), but registered directly against a
// dedicated prometheus.Registry instead of via OpenTelemetry's exporter —
// the engine has no OTel collector to talk to, so the plain client_golang
// registry/collector API is the right-sized fit.
package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles every counter/gauge the streaming engine publishes.
// Exported fields are passed by reference into the package that increments
// them, keeping each consumer's dependency surface to the handful of
// instruments it actually owns.
type Registry struct {
	reg *prometheus.Registry

	FramesDropped     *prometheus.CounterVec
	FramesDecoded     *prometheus.CounterVec
	DigestMismatches  *prometheus.CounterVec
	SanitizedCrosses  *prometheus.CounterVec
	Reconnects        *prometheus.CounterVec
	ResyncRequests    *prometheus.CounterVec
	ResyncFailures    *prometheus.CounterVec
	ConsumerLag       *prometheus.CounterVec
	RecorderQueueFull *prometheus.CounterVec
	ConnectionState   *prometheus.GaugeVec
}

// New builds a Registry with every instrument registered.
func New() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		reg: reg,
		FramesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "streamcore",
			Name:      "frames_dropped_total",
			Help:      "Inbound frames dropped by the bounded queue back-pressure policy.",
		}, []string{"channel"}),
		FramesDecoded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "streamcore",
			Name:      "frames_decoded_total",
			Help:      "Inbound frames successfully decoded into one or more events.",
		}, []string{"channel"}),
		DigestMismatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "streamcore",
			Name:      "digest_mismatches_total",
			Help:      "Book digest verification failures, by asset.",
		}, []string{"asset"}),
		SanitizedCrosses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "streamcore",
			Name:      "sanitized_crosses_total",
			Help:      "Crossed-market levels removed by sanitization, by asset.",
		}, []string{"asset"}),
		Reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "streamcore",
			Name:      "reconnects_total",
			Help:      "WebSocket reconnect attempts, by channel.",
		}, []string{"channel"}),
		ResyncRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "streamcore",
			Name:      "resync_requests_total",
			Help:      "Resync requests issued, by asset and trigger reason.",
		}, []string{"asset", "reason"}),
		ResyncFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "streamcore",
			Name:      "resync_failures_total",
			Help:      "Resync attempts that exhausted retries, by asset.",
		}, []string{"asset"}),
		ConsumerLag: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "streamcore",
			Name:      "consumer_lag_events_total",
			Help:      "Events a broadcast consumer fell behind by and was forced to skip.",
		}, []string{"consumer"}),
		RecorderQueueFull: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "streamcore",
			Name:      "recorder_queue_full_total",
			Help:      "Times the recorder write queue was full, stalling the decoder.",
		}, []string{"asset"}),
		ConnectionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "streamcore",
			Name:      "connection_state",
			Help:      "Current wsconn state (0=Disconnected,1=Connecting,2=Connected,3=Draining,4=Failed), by channel.",
		}, []string{"channel"}),
	}

	reg.MustRegister(
		r.FramesDropped,
		r.FramesDecoded,
		r.DigestMismatches,
		r.SanitizedCrosses,
		r.Reconnects,
		r.ResyncRequests,
		r.ResyncFailures,
		r.ConsumerLag,
		r.RecorderQueueFull,
		r.ConnectionState,
	)
	return r
}

// Handler returns the HTTP handler to mount at /metrics.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// Serve runs a dedicated metrics HTTP server on addr until the process
// exits or the listener errors. Mirrors the pack's pattern of a standalone
// metrics endpoint separate from any application traffic port.
func (r *Registry) Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil { //nolint:gosec // metrics endpoint, not public-facing
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
