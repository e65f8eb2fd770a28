// Package metrics holds the Prometheus collectors for the game server.
// Collectors register on the default registry and are served by promhttp.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	GamesStarted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "feihua",
		Name:      "games_started_total",
		Help:      "Games started.",
	})

	GamesEnded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "feihua",
		Name:      "games_ended_total",
		Help:      "Games ended, by winner.",
	}, []string{"winner"})

	Turns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "feihua",
		Name:      "turns_total",
		Help:      "Turn attempts by side and result code.",
	}, []string{"side", "code"})

	ActiveGames = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "feihua",
		Name:      "active_games",
		Help:      "Engines currently held in the session store.",
	})

	LookupDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "feihua",
		Name:      "corpus_lookup_seconds",
		Help:      "Corpus lookup latency.",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
	}, []string{"op", "status"})
)

// ObserveLookup records the latency of a corpus operation started at start.
func ObserveLookup(op string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	LookupDuration.WithLabelValues(op, status).Observe(time.Since(start).Seconds())
}
