// Package metrics exposes Prometheus collectors for the refresh pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/theoremus-urban-solutions/transit-departures/transit"
)

const namespace = "departures"

// Metrics holds all collectors. The zero value is not usable; call New.
type Metrics struct {
	registry *prometheus.Registry

	ProviderRequests *prometheus.CounterVec
	ProviderDuration *prometheus.HistogramVec
	RefreshCycles    *prometheus.CounterVec
	ConsecutiveFails *prometheus.GaugeVec
	StationStale     *prometheus.GaugeVec
	LastSuccess      *prometheus.GaugeVec
	CachedDepartures *prometheus.GaugeVec
	EntityWrites     *prometheus.CounterVec
	Entities         *prometheus.GaugeVec
}

// New creates the collectors and registers them, plus the Go and process collectors,
// on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		ProviderRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "provider",
				Name:      "requests_total",
				Help:      "Provider requests by operation and outcome",
			},
			[]string{"provider", "op", "outcome"},
		),
		ProviderDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "provider",
				Name:      "request_duration_seconds",
				Help:      "Provider request latency in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"provider", "op"},
		),
		RefreshCycles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "cycles_total",
				Help:      "Refresh cycles by station and result (published, failed, discarded)",
			},
			[]string{"station", "result"},
		),
		ConsecutiveFails: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "consecutive_failures",
				Help:      "Consecutive failed refresh cycles per station",
			},
			[]string{"station"},
		),
		StationStale: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "stale",
				Help:      "Whether the station's entities are flagged stale (0/1)",
			},
			[]string{"station"},
		),
		LastSuccess: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "last_success_timestamp_seconds",
				Help:      "Unix time of the last successful fetch per station",
			},
			[]string{"station"},
		),
		CachedDepartures: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "departures",
				Help:      "Departures held in the station snapshot",
			},
			[]string{"station"},
		),
		EntityWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "entity",
				Name:      "writes_total",
				Help:      "Entity state changes published",
			},
			[]string{"station"},
		),
		Entities: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "entity",
				Name:      "bound",
				Help:      "Entities currently bound per station",
			},
			[]string{"station"},
		),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.ProviderRequests,
		m.ProviderDuration,
		m.RefreshCycles,
		m.ConsecutiveFails,
		m.StationStale,
		m.LastSuccess,
		m.CachedDepartures,
		m.EntityWrites,
		m.Entities,
	)
	return m
}

// Registry returns the private registry, for tests and custom exporters.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveRequest implements provider.Observer.
func (m *Metrics) ObserveRequest(provider, op string, err error, took time.Duration) {
	outcome := "ok"
	if err != nil {
		outcome = transit.Classify(err)
	}
	m.ProviderRequests.WithLabelValues(provider, op, outcome).Inc()
	m.ProviderDuration.WithLabelValues(provider, op).Observe(took.Seconds())
}

// Cycle records the result of one refresh cycle.
func (m *Metrics) Cycle(station, result string, failures int, stale bool) {
	m.RefreshCycles.WithLabelValues(station, result).Inc()
	m.ConsecutiveFails.WithLabelValues(station).Set(float64(failures))
	m.StationStale.WithLabelValues(station).Set(boolGauge(stale))
}

// Success records a successful fetch.
func (m *Metrics) Success(station string, at time.Time, departures int) {
	m.LastSuccess.WithLabelValues(station).Set(float64(at.Unix()))
	m.CachedDepartures.WithLabelValues(station).Set(float64(departures))
}

// Published records entity writes and the current binding count.
func (m *Metrics) Published(station string, changed, bound int) {
	m.EntityWrites.WithLabelValues(station).Add(float64(changed))
	m.Entities.WithLabelValues(station).Set(float64(bound))
}

// Forget drops every series of a removed station.
func (m *Metrics) Forget(station string) {
	labels := prometheus.Labels{"station": station}
	m.RefreshCycles.DeletePartialMatch(labels)
	m.ConsecutiveFails.DeletePartialMatch(labels)
	m.StationStale.DeletePartialMatch(labels)
	m.LastSuccess.DeletePartialMatch(labels)
	m.CachedDepartures.DeletePartialMatch(labels)
	m.EntityWrites.DeletePartialMatch(labels)
	m.Entities.DeletePartialMatch(labels)
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
