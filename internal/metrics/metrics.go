// Package metrics exposes Prometheus collectors for the crawler.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fetchTotal           *prometheus.CounterVec
	failuresTotal        *prometheus.CounterVec
	crawlDurationSeconds prometheus.Histogram
	recordsParsedTotal   prometheus.Counter
	inFlight             prometheus.Gauge

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stockcrawler_fetch_total",
				Help: "Total number of summary page fetches, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		failuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stockcrawler_failures_total",
				Help: "Total number of failure events, labeled by kind.",
			},
			[]string{"kind"},
		)

		crawlDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "stockcrawler_crawl_duration_seconds",
				Help:    "Wall time of a whole crawl batch.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
			},
		)

		recordsParsedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "stockcrawler_records_parsed_total",
				Help: "Total number of records produced by the parser.",
			},
		)

		inFlight = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "stockcrawler_in_flight",
				Help: "Number of fetch tasks currently running.",
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetch increments the fetch counter. outcome is "success" or a
// fetcher error type.
func ObserveFetch(outcome string) {
	Init()
	fetchTotal.WithLabelValues(outcome).Inc()
}

// ObserveFailure increments the failure counter for kind.
func ObserveFailure(kind string) {
	Init()
	failuresTotal.WithLabelValues(kind).Inc()
}

// ObserveCrawl records the duration of a batch and the records it produced.
func ObserveCrawl(duration time.Duration, records int) {
	Init()
	crawlDurationSeconds.Observe(duration.Seconds())
	recordsParsedTotal.Add(float64(records))
}

// IncInFlight increments the in-flight gauge.
func IncInFlight() {
	Init()
	inFlight.Inc()
}

// DecInFlight decrements the in-flight gauge.
func DecInFlight() {
	Init()
	inFlight.Dec()
}
