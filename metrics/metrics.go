// Package metrics exposes engine activity as Prometheus collectors.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/adamwoolhether/fetchq/classifier"
	"github.com/adamwoolhether/fetchq/request"
)

// Label names.
const (
	LabelMethod = "method"
	LabelKind   = "kind"
	LabelResult = "result"
	LabelCache  = "cache"
)

// Result label values.
const (
	ResultOK         = "ok"
	ResultConnection = "connection"
	ResultServer     = "server"
	ResultParse      = "parse"
	ResultCancelled  = "cancelled"
	ResultOther      = "other"
)

// Metrics records request, cache and connection quality metrics.
// Observe satisfies scheduler.Observer and the cache methods satisfy
// asset.Stats.
type Metrics struct {
	requests      *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	bytesSent     *prometheus.CounterVec
	bytesReceived *prometheus.CounterVec

	cacheLookups   *prometheus.CounterVec
	coalesced      prometheus.Counter
	cacheEntries   prometheus.Gauge
	cacheSizeBytes prometheus.Gauge

	bandwidth prometheus.Gauge
	quality   prometheus.Gauge
}

// New registers the collectors with reg. A nil reg creates unregistered
// collectors.
func New(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		requests: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "fetchq_requests_total",
				Help: "Total number of completed requests by method, kind and result",
			},
			[]string{LabelMethod, LabelKind, LabelResult},
		),
		duration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "fetchq_request_duration_seconds",
				Help: "Wall time from dispatch to completion of a request",
				Buckets: []float64{
					0.005, // 5ms - cache hits
					0.025,
					0.1,
					0.25,
					0.5,
					1,
					2.5,
					10,
					30, // large downloads
				},
			},
			[]string{LabelKind},
		),
		bytesSent: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "fetchq_request_sent_bytes_total",
				Help: "Total request body bytes sent",
			},
			[]string{LabelKind},
		),
		bytesReceived: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "fetchq_response_received_bytes_total",
				Help: "Total response body bytes received",
			},
			[]string{LabelKind, LabelCache},
		),
		cacheLookups: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "fetchq_asset_cache_lookups_total",
				Help: "Asset memory cache lookups by outcome",
			},
			[]string{LabelResult}, // "hit", "miss"
		),
		coalesced: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "fetchq_asset_coalesced_total",
				Help: "Asset fetches attached to an identical in-flight fetch",
			},
		),
		cacheEntries: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "fetchq_asset_cache_entries",
				Help: "Images held in the asset memory cache",
			},
		),
		cacheSizeBytes: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "fetchq_asset_cache_size_bytes",
				Help: "Decoded size of the images held in the asset memory cache",
			},
		),
		bandwidth: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "fetchq_bandwidth_bits_per_second",
				Help: "Smoothed download bandwidth estimate",
			},
		),
		quality: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "fetchq_connection_quality",
				Help: "Connection quality bucket: 0 unknown, 1 poor, 2 moderate, 3 good, 4 excellent",
			},
		),
	}
}

// Observe records one completed request.
func (m *Metrics) Observe(d *request.Descriptor, cm request.CallMetrics) {
	kind := cm.Kind
	if kind == "" {
		kind = request.KindName(d.Kind)
	}

	cache := "miss"
	if cm.CacheHit {
		cache = "hit"
	}

	m.requests.WithLabelValues(d.Method, kind, Result(cm.Err)).Inc()
	m.duration.WithLabelValues(kind).Observe(cm.Elapsed.Seconds())
	if cm.BytesSent > 0 {
		m.bytesSent.WithLabelValues(kind).Add(float64(cm.BytesSent))
	}
	if cm.BytesReceived > 0 {
		m.bytesReceived.WithLabelValues(kind, cache).Add(float64(cm.BytesReceived))
	}
}

func (m *Metrics) CacheHit()  { m.cacheLookups.WithLabelValues("hit").Inc() }
func (m *Metrics) CacheMiss() { m.cacheLookups.WithLabelValues("miss").Inc() }
func (m *Metrics) Coalesced() { m.coalesced.Inc() }

func (m *Metrics) CacheSize(entries int, bytes int64) {
	m.cacheEntries.Set(float64(entries))
	m.cacheSizeBytes.Set(float64(bytes))
}

// ObserveQuality records a classifier update. It matches
// classifier.Listener.
func (m *Metrics) ObserveQuality(q classifier.Quality, bps float64) {
	m.quality.Set(float64(q))
	m.bandwidth.Set(bps)
}

// Result maps a request error to its result label.
func Result(err error) string {
	switch {
	case err == nil:
		return ResultOK
	case errors.Is(err, request.ErrConnection):
		return ResultConnection
	case errors.Is(err, request.ErrServer):
		return ResultServer
	case errors.Is(err, request.ErrParse):
		return ResultParse
	case errors.Is(err, request.ErrCancelled):
		return ResultCancelled
	default:
		return ResultOther
	}
}
