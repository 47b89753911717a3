// Package metrics exposes engine and HTTP telemetry in the Prometheus
// format. Every Metrics value owns its registry so tests and multiple
// engines never collide on the default one.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/san-kum/aiwater/internal/dynamo"
)

// StatusSource is read at scrape time for the gauges.
type StatusSource interface {
	Status() dynamo.Status
}

type Metrics struct {
	registry *prometheus.Registry

	eventsTotal       *prometheus.CounterVec
	eventDuration     prometheus.Histogram
	costTotal         prometheus.Counter
	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
}

func New(src StatusSource) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aiwater_events_total",
			Help: "Engine transitions by kind.",
		}, []string{"kind"}),
		eventDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "aiwater_event_duration_seconds",
			Help:    "Planned duration of admitted electrolysis events.",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}),
		costTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aiwater_cost_total",
			Help: "Sum of admitted costs.",
		}),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aiwater_http_requests_total",
			Help: "Total count of HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "aiwater_http_request_duration_seconds",
			Help:    "Histogram of HTTP request durations by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}

	m.registry.MustRegister(
		m.eventsTotal,
		m.eventDuration,
		m.costTotal,
		m.httpRequestsTotal,
		m.httpDuration,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "aiwater_cumulative_mass_grams",
			Help: "Water consumed in the current session.",
		}, func() float64 { return src.Status().CumulativeMass }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "aiwater_active",
			Help: "1 while an electrolysis event is running.",
		}, func() float64 {
			if src.Status().Active {
				return 1
			}
			return 0
		}),
	)

	for _, k := range []dynamo.EventKind{
		dynamo.EventAdmitted, dynamo.EventPreempted, dynamo.EventDropped,
		dynamo.EventCompleted, dynamo.EventReset, dynamo.EventConfig,
	} {
		m.eventsTotal.WithLabelValues(string(k))
	}
	return m
}

// OnEvent makes Metrics an engine observer.
func (m *Metrics) OnEvent(ev dynamo.Event) {
	if m == nil {
		return
	}
	m.eventsTotal.WithLabelValues(string(ev.Kind)).Inc()
	if ev.Kind == dynamo.EventAdmitted {
		m.eventDuration.Observe(ev.Duration)
		m.costTotal.Add(ev.Cost)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// Middleware records request counts and latency labelled by the mux route
// template, so path variables do not explode cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(recorder, r)

		route := "unmatched"
		if cr := mux.CurrentRoute(r); cr != nil {
			if tpl, err := cr.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		if m != nil {
			m.httpRequestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
			m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		}
	})
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }
