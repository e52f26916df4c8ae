package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/eglab8306/aquanext-dashboard/internal/infrastructure/mqtt"
	"github.com/eglab8306/aquanext-dashboard/internal/telemetry"
)

const namespace = "aquanext"

// brokerStatuses are the label values of the one-hot status gauge.
var brokerStatuses = []mqtt.Status{
	mqtt.StatusDisconnected,
	mqtt.StatusConnecting,
	mqtt.StatusConnected,
	mqtt.StatusReconnecting,
	mqtt.StatusError,
}

// Metrics holds every collector of the service.
type Metrics struct {
	registry *prometheus.Registry

	messagesTotal   *prometheus.CounterVec
	droppedTotal    prometheus.Counter
	snapshotsTotal  prometheus.Counter
	tankMetric      *prometheus.GaugeVec
	environment     *prometheus.GaugeVec
	mode            *prometheus.GaugeVec
	brokerStatus    *prometheus.GaugeVec
	commandsTotal   *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	lastMessageTime prometheus.Gauge
}

// New creates Metrics on a private registry, including Go runtime and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		messagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Broker messages applied, by classified kind.",
		}, []string{"kind"}),
		droppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_dropped_total",
			Help:      "Broker messages dropped because the inbox was full.",
		}),
		snapshotsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_updates_total",
			Help:      "Snapshots published after a change.",
		}),
		tankMetric: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tank_metric",
			Help:      "Latest tank reading by tank id and metric.",
		}, []string{"tank", "type", "metric"}),
		environment: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "environment",
			Help:      "Latest line-wide environment reading by key.",
		}, []string{"key"}),
		mode: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "mode",
			Help:      "Displayed operating mode (1 for the active mode).",
		}, []string{"mode"}),
		brokerStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "broker_status",
			Help:      "Broker connection status (1 for the current status).",
		}, []string{"status"}),
		commandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mode_commands_total",
			Help:      "Mode commands by requested mode and result.",
		}, []string{"mode", "result"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total count of HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Histogram of HTTP request durations by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		lastMessageTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_message_timestamp_seconds",
			Help:      "Unix time of the last applied broker message.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.messagesTotal,
		m.droppedTotal,
		m.snapshotsTotal,
		m.tankMetric,
		m.environment,
		m.mode,
		m.brokerStatus,
		m.commandsTotal,
		m.httpRequests,
		m.httpDuration,
		m.lastMessageTime,
	)

	m.ObserveStatus(mqtt.StatusDisconnected)

	return m
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveMessage counts one applied message.
func (m *Metrics) ObserveMessage(kind string) {
	if m == nil {
		return
	}
	m.messagesTotal.WithLabelValues(kind).Inc()
	m.lastMessageTime.SetToCurrentTime()
}

// ObserveDrop counts one dropped message.
func (m *Metrics) ObserveDrop() {
	if m == nil {
		return
	}
	m.droppedTotal.Inc()
}

// ObserveSnapshot refreshes the reading gauges from s.
func (m *Metrics) ObserveSnapshot(s *telemetry.Snapshot) {
	if m == nil || s == nil {
		return
	}
	m.snapshotsTotal.Inc()

	for _, key := range telemetry.EnvKeys {
		v, _ := s.Environment.Value(key)
		m.environment.WithLabelValues(string(key)).Set(v)
	}

	for _, tank := range s.Tanks {
		for _, metric := range telemetry.Metrics {
			v, _ := tank.Metric(metric)
			m.tankMetric.WithLabelValues(tank.ID, string(tank.Type), string(metric)).Set(v)
		}
	}

	for _, mode := range []telemetry.Mode{telemetry.ModeFlow, telemetry.ModeRAS} {
		v := 0.0
		if s.Mode == mode {
			v = 1
		}
		m.mode.WithLabelValues(string(mode)).Set(v)
	}
}

// ObserveStatus sets the one-hot broker status gauge. It matches the
// mqtt.Connector status callback signature.
func (m *Metrics) ObserveStatus(status mqtt.Status) {
	if m == nil {
		return
	}
	for _, s := range brokerStatuses {
		v := 0.0
		if s == status {
			v = 1
		}
		m.brokerStatus.WithLabelValues(string(s)).Set(v)
	}
}

// ObserveCommand counts a mode command attempt.
func (m *Metrics) ObserveCommand(mode telemetry.Mode, err error) {
	if m == nil {
		return
	}
	result := "sent"
	if err != nil {
		result = "failed"
	}
	m.commandsTotal.WithLabelValues(string(mode), result).Inc()
}

// Middleware records request counts and durations by chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		m.httpRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
		m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}
