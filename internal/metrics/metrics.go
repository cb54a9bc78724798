// Package metrics exposes Prometheus collectors for the link checker.
package metrics

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/publicsuffix"
)

var (
	linksTotal                *prometheus.CounterVec
	fetchDurationSeconds      *prometheus.HistogramVec
	collectionsTotal          *prometheus.CounterVec
	reportsTotal              *prometheus.CounterVec
	inFlightChecks            prometheus.Gauge
	rateLimitDelaysSeconds    *prometheus.HistogramVec
	collectionDurationSeconds prometheus.Histogram
	once                      sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		linksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "linkcheck_links_total",
				Help: "Total number of KBART links checked, labeled by site and classification.",
			},
			[]string{"site", "status"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "linkcheck_fetch_duration_seconds",
				Help:    "Histogram of link fetch latencies, labeled by classification.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"status"},
		)

		collectionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "linkcheck_collections_total",
				Help: "Total number of collections processed, labeled by result.",
			},
			[]string{"result"},
		)

		reportsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "linkcheck_reports_total",
				Help: "Total number of report emails sent, labeled by kind.",
			},
			[]string{"kind"},
		)

		inFlightChecks = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "linkcheck_in_flight_checks",
				Help: "Number of link checks currently waiting on the network.",
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "linkcheck_rate_limit_delays_seconds",
				Help:    "Histogram of per-host rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		collectionDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "linkcheck_collection_duration_seconds",
				Help:    "Histogram of whole-collection scan durations.",
				Buckets: prometheus.ExponentialBuckets(1, 4, 8),
			},
		)
	})
}

// SanitizeSite reduces a URL to its registrable domain (eTLD+1) so the site
// label stays bounded across platforms with many subdomains. IP hosts and
// hosts without a public suffix keep their full name. It returns "unknown"
// if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	host := strings.ToLower(u.Hostname())
	if net.ParseIP(host) != nil {
		return host
	}
	if site, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
		return site
	}
	return host
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveLink records one classified link.
func ObserveLink(rawURL, status string, duration time.Duration) {
	Init()
	linksTotal.WithLabelValues(SanitizeSite(rawURL), status).Inc()
	fetchDurationSeconds.WithLabelValues(status).Observe(duration.Seconds())
}

// ObserveCollection records a finished collection and how long its scan took.
func ObserveCollection(result string, duration time.Duration) {
	Init()
	collectionsTotal.WithLabelValues(result).Inc()
	if duration > 0 {
		collectionDurationSeconds.Observe(duration.Seconds())
	}
}

// ObserveReport increments the report counter for the given kind.
func ObserveReport(kind string) {
	Init()
	reportsTotal.WithLabelValues(kind).Inc()
}

// IncInFlight increments the in-flight checks gauge.
func IncInFlight() {
	Init()
	inFlightChecks.Inc()
}

// DecInFlight decrements the in-flight checks gauge.
func DecInFlight() {
	Init()
	inFlightChecks.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// WriteTextfile dumps the default registry in the node_exporter textfile
// format so cron-driven runs can be scraped after they exit.
func WriteTextfile(path string) error {
	Init()
	if err := prometheus.WriteToTextfile(path, prometheus.DefaultGatherer); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
