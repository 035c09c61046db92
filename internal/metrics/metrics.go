// Package metrics holds the pipeline's Prometheus collectors.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "lessonbell"

// Metrics is one registry's worth of collectors.
type Metrics struct {
	Registry *prometheus.Registry

	ingested          *prometheus.CounterVec
	malformed         *prometheus.CounterVec
	persist           *prometheus.CounterVec
	enrichment        *prometheus.CounterVec
	decisions         *prometheus.CounterVec
	alerts            *prometheus.CounterVec
	navigations       *prometheus.CounterVec
	invalidations     *prometheus.CounterVec
	invalidationTime  prometheus.Histogram
	backendRequests   *prometheus.CounterVec
	realtimeConnected prometheus.Gauge
	unread            prometheus.Gauge
}

// New registers every collector on a fresh registry, plus the Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		ingested: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_ingested_total",
			Help:      "Notifications normalized and stored, by channel and type.",
		}, []string{"channel", "type"}),
		malformed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_malformed_total",
			Help:      "Payloads that could not be parsed and were stored as general notifications.",
		}, []string{"channel"}),
		persist: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_persist_total",
			Help:      "Notification log snapshot writes, by log and result.",
		}, []string{"log", "result"}),
		enrichment: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enrichment_resolutions_total",
			Help:      "Enrichment resolutions by winning tier.",
		}, []string{"tier"}),
		decisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "display_decisions_total",
			Help:      "Display policy outcomes.",
		}, []string{"decision"}),
		alerts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "In-app alerts shown or dropped from a full queue.",
		}, []string{"category", "result"}),
		navigations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "navigations_total",
			Help:      "Router navigations, by route and whether they fell back to home.",
		}, []string{"route", "fallback"}),
		invalidations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_invalidations_total",
			Help:      "Session invalidation episodes.",
		}, []string{"reason", "deregistration"}),
		invalidationTime: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_invalidation_seconds",
			Help:      "Wall time of invalidation episodes.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		backendRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_responses_total",
			Help:      "Backend responses by path and status code.",
		}, []string{"path", "code"}),
		realtimeConnected: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "realtime_connected",
			Help:      "1 while the realtime connection is open.",
		}),
		unread: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "unread_notifications",
			Help:      "Last unread count reported by the backend.",
		}),
	}
}

func (m *Metrics) Ingested(channel, typ string, malformed bool) {
	m.ingested.WithLabelValues(channel, typ).Inc()
	if malformed {
		m.malformed.WithLabelValues(channel).Inc()
	}
}

func (m *Metrics) Persisted(log string, err error) {
	m.persist.WithLabelValues(log, result(err)).Inc()
}

func (m *Metrics) Enriched(tier string) { m.enrichment.WithLabelValues(tier).Inc() }

func (m *Metrics) Decided(decision string) { m.decisions.WithLabelValues(decision).Inc() }

func (m *Metrics) AlertShown(category string) { m.alerts.WithLabelValues(category, "shown").Inc() }

func (m *Metrics) AlertDropped(category string) { m.alerts.WithLabelValues(category, "dropped").Inc() }

func (m *Metrics) Navigated(route string, fallback bool) {
	m.navigations.WithLabelValues(route, strconv.FormatBool(fallback)).Inc()
}

func (m *Metrics) Invalidated(reason, deregistration string, took time.Duration) {
	m.invalidations.WithLabelValues(reason, deregistration).Inc()
	m.invalidationTime.Observe(took.Seconds())
}

// BackendResponse counts a response. path should be the route template, not
// the full URL, to keep cardinality bounded.
func (m *Metrics) BackendResponse(path string, code int) {
	m.backendRequests.WithLabelValues(path, strconv.Itoa(code)).Inc()
}

func (m *Metrics) RealtimeConnected(up bool) {
	if up {
		m.realtimeConnected.Set(1)
		return
	}
	m.realtimeConnected.Set(0)
}

func (m *Metrics) Unread(n int) { m.unread.Set(float64(n)) }

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
