// Package metrics registers the Prometheus collectors exposed on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hawker_http_requests_total",
		Help: "Total HTTP requests by route pattern, method and status",
	}, []string{"route", "method", "status"})
	RequestDurationMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hawker_http_request_duration_ms",
		Help:    "HTTP request duration in milliseconds",
		Buckets: []float64{1, 5, 10, 20, 50, 100, 200, 500, 1000, 5000},
	}, []string{"route"})
	RefreshTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hawker_dataset_refresh_total",
		Help: "Dataset refresh runs by kind and status",
	}, []string{"kind", "status"})
	RefreshRecords = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hawker_dataset_refresh_records_total",
		Help: "Records upserted by dataset refresh runs",
	}, []string{"kind"})
	CacheHitsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hawker_cache_hits_total",
		Help: "Response cache hits by key prefix",
	}, []string{"key"})
	CacheMissesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hawker_cache_misses_total",
		Help: "Response cache misses by key prefix",
	}, []string{"key"})
)

func init() {
	prometheus.MustRegister(RequestsTotal)
	prometheus.MustRegister(RequestDurationMs)
	prometheus.MustRegister(RefreshTotal)
	prometheus.MustRegister(RefreshRecords)
	prometheus.MustRegister(CacheHitsTotal)
	prometheus.MustRegister(CacheMissesTotal)
}

// Handler exposes the registered collectors
func Handler() http.Handler { return promhttp.Handler() }
