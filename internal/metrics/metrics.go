package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	fetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "iptvmine_fetch_duration_seconds",
		Help:    "Duration of catalog fetch cycles by mode (all, single)",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
	}, []string{"mode"})

	sourceFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "iptvmine_source_fetches_total",
		Help: "Per-source fetch outcomes (ok, status, dns, timeout, io, other)",
	}, []string{"result"})

	catalogChannels = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "iptvmine_catalog_channels",
		Help: "Number of channels in the last published catalog",
	})

	parsedEntries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "iptvmine_parsed_entries_total",
		Help: "Playlist entries by parse outcome (accepted, blocked, invalid_url)",
	}, []string{"outcome"})

	probes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "iptvmine_probes_total",
		Help: "Liveness probes by result (live, offline, error)",
	}, []string{"result"})

	notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "iptvmine_notifications_total",
		Help: "Live-channel notifications by result (sent, suppressed, error, cooldown_error)",
	}, []string{"result"})

	monitorRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "iptvmine_monitor_runs_total",
		Help: "Monitor runs by outcome (success, retry, failure)",
	}, []string{"outcome"})

	playbackRecoveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "iptvmine_playback_recoveries_total",
		Help: "Playback recovery attempts by kind",
	}, []string{"kind"})

	playbackTerminal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "iptvmine_playback_errors_total",
		Help: "Terminal playback errors by user-facing category",
	}, []string{"category"})
)

// ObserveFetch records the duration of a fetch cycle.
func ObserveFetch(mode string, d time.Duration) {
	fetchDuration.WithLabelValues(mode).Observe(d.Seconds())
}

// RecordSourceFetch counts one per-source fetch outcome.
func RecordSourceFetch(result string) {
	sourceFetches.WithLabelValues(result).Inc()
}

// SetCatalogSize records the size of the published catalog.
func SetCatalogSize(n int) {
	catalogChannels.Set(float64(n))
}

// AddParsed adds n parse outcomes.
func AddParsed(outcome string, n int) {
	if n > 0 {
		parsedEntries.WithLabelValues(outcome).Add(float64(n))
	}
}

// RecordProbe counts a liveness probe result.
func RecordProbe(result string) {
	probes.WithLabelValues(result).Inc()
}

// RecordNotification counts a notification decision.
func RecordNotification(result string) {
	notifications.WithLabelValues(result).Inc()
}

// RecordMonitorRun counts a monitor run outcome.
func RecordMonitorRun(outcome string) {
	monitorRuns.WithLabelValues(outcome).Inc()
}

// RecordRecovery counts an automatic playback recovery attempt.
func RecordRecovery(kind string) {
	playbackRecoveries.WithLabelValues(kind).Inc()
}

// RecordPlaybackError counts a terminal playback error.
func RecordPlaybackError(category string) {
	playbackTerminal.WithLabelValues(category).Inc()
}
