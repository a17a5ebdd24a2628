// Package metrics exposes Prometheus instrumentation for the crawler
// and pinger daemons.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all netmapper Prometheus collectors. It uses an
// isolated prometheus.Registry so netmapper metrics don't collide with
// the global default registry; every test gets its own Metrics
// instance.
type Metrics struct {
	Registry *prometheus.Registry

	// Crawler worker
	CrawlAttemptsTotal  *prometheus.CounterVec
	CrawlPendingLength  prometheus.Gauge
	AddrsHarvestedTotal *prometheus.CounterVec

	// Crawler cron
	CrawlCycleDurationSeconds prometheus.Histogram
	ReachableCount            prometheus.Gauge
	SnapshotHeight            prometheus.Gauge

	// Pinger worker
	PingAttemptsTotal  *prometheus.CounterVec
	OpenConnections    prometheus.Gauge
	PingRTTSeconds     prometheus.Histogram
	BlockInvTotal      prometheus.Counter

	// Pinger cron
	SnapshotLoadsTotal prometheus.Counter
	PingWorkerCount    prometheus.Gauge

	// Address filter
	FilterDecisionsTotal *prometheus.CounterVec

	// Policy fetcher
	PolicyFetchTotal *prometheus.CounterVec

	// Coordination store
	StoreOpDurationSeconds *prometheus.HistogramVec
	StoreErrorsTotal       *prometheus.CounterVec

	// Watchdog
	WatchdogChecksTotal *prometheus.CounterVec

	BuildInfo *prometheus.GaugeVec
}

// New creates a Metrics instance with every collector registered on an
// isolated registry. version and goVersion are recorded as labels on
// the netmapper_info gauge.
func New(version, goVersion string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		CrawlAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "netmapper_crawl_attempts_total",
				Help: "Total number of crawl worker dial+handshake attempts.",
			},
			[]string{"result"},
		),
		CrawlPendingLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "netmapper_crawl_pending_length",
			Help: "Current size of the pending candidate queue.",
		}),
		AddrsHarvestedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "netmapper_addrs_harvested_total",
				Help: "Total number of address-book entries harvested from peers.",
			},
			[]string{"source"},
		),

		CrawlCycleDurationSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "netmapper_crawl_cycle_duration_seconds",
			Help:    "Wall time of a full crawl restart cycle.",
			Buckets: prometheus.ExponentialBuckets(10, 2, 12), // 10s to ~5.7h
		}),
		ReachableCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "netmapper_reachable_count",
			Help: "Number of peers marked reachable in the most recent crawl cycle.",
		}),
		SnapshotHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "netmapper_snapshot_height",
			Help: "Plurality block height observed across the most recent snapshot.",
		}),

		PingAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "netmapper_ping_attempts_total",
				Help: "Total number of pinger worker dial+handshake attempts.",
			},
			[]string{"result"},
		),
		OpenConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "netmapper_open_connections",
			Help: "Number of currently open pinger keepalive sessions.",
		}),
		PingRTTSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "netmapper_ping_rtt_seconds",
			Help:    "Observed ping round-trip time.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~82s
		}),
		BlockInvTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "netmapper_block_inv_total",
			Help: "Total number of block inventory announcements observed.",
		}),

		SnapshotLoadsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "netmapper_snapshot_loads_total",
			Help: "Total number of new crawl snapshots discovered by the pinger cron.",
		}),
		PingWorkerCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "netmapper_ping_worker_count",
			Help: "Number of live pinger worker goroutines.",
		}),

		FilterDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "netmapper_filter_decisions_total",
				Help: "Total number of address filter decisions.",
			},
			[]string{"decision"},
		),

		PolicyFetchTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "netmapper_policy_fetch_total",
				Help: "Total number of policy feed (bogon/ASN list) fetch attempts.",
			},
			[]string{"feed", "result"},
		),

		StoreOpDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "netmapper_store_op_duration_seconds",
				Help:    "Duration of coordination-store operations.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"op"},
		),
		StoreErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "netmapper_store_errors_total",
				Help: "Total number of coordination-store operation errors.",
			},
			[]string{"op"},
		),

		WatchdogChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "netmapper_watchdog_checks_total",
				Help: "Total number of watchdog health checks, by check name and outcome.",
			},
			[]string{"check", "result"},
		),

		BuildInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "netmapper_info",
				Help: "Build information for the running netmapper instance.",
			},
			[]string{"version", "go_version"},
		),
	}

	reg.MustRegister(
		m.CrawlAttemptsTotal,
		m.CrawlPendingLength,
		m.AddrsHarvestedTotal,
		m.CrawlCycleDurationSeconds,
		m.ReachableCount,
		m.SnapshotHeight,
		m.PingAttemptsTotal,
		m.OpenConnections,
		m.PingRTTSeconds,
		m.BlockInvTotal,
		m.SnapshotLoadsTotal,
		m.PingWorkerCount,
		m.FilterDecisionsTotal,
		m.PolicyFetchTotal,
		m.StoreOpDurationSeconds,
		m.StoreErrorsTotal,
		m.WatchdogChecksTotal,
		m.BuildInfo,
	)

	m.BuildInfo.WithLabelValues(version, goVersion).Set(1)

	return m
}

// Handler returns an http.Handler that serves the Prometheus metrics
// endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
