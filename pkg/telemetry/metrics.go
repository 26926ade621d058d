package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var handlerLabels = []string{"plugin", "kind", "handler_type"}

// Metrics holds the router's Prometheus collectors on a private registry.
// A nil or disabled Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	handlerCalls     *prometheus.CounterVec
	handlerDuration  *prometheus.HistogramVec
	handlerErrors    *prometheus.CounterVec
	handlersInFlight prometheus.Gauge
	baseDelegations  *prometheus.CounterVec

	resolutionFailures *prometheus.CounterVec
	validationFailures *prometheus.CounterVec

	errorsByClass *prometheus.CounterVec
	errorsByCode  *prometheus.CounterVec
}

// NewMetrics registers the router collectors.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{}, nil
	}

	ns := cfg.Namespace
	buckets := cfg.Buckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}
	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: name, Help: help}, labels)
	}

	m := &Metrics{
		registry:      prometheus.NewRegistry(),
		handlerCalls:  counter("handler_calls_total", "Routed handler calls.", handlerLabels...),
		handlerErrors: counter("handler_errors_total", "Routed handler calls that returned an error.", handlerLabels...),
		handlerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "handler_call_duration_seconds",
			Help:      "Duration of routed handler calls, delegation included.",
			Buckets:   buckets,
		}, handlerLabels),
		handlersInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "handlers_in_flight",
			Help:      "Routed handler calls currently running.",
		}),
		baseDelegations:    counter("base_delegations_total", "Calls from a handler into the handler it overrides.", handlerLabels...),
		resolutionFailures: counter("resolution_failures_total", "Calls for which no handler was found.", "kind", "handler_type"),
		validationFailures: counter("output_validation_failures_total", "Results rejected by output schema validation.", "kind", "action_type", "output_kind"),
		errorsByClass:      counter("errors_by_class_total", "Router errors by class.", "class"),
		errorsByCode:       counter("errors_by_code_total", "Router errors by code.", "code"),
	}

	if err := registerAll(m.registry,
		m.handlerCalls,
		m.handlerErrors,
		m.handlerDuration,
		m.handlersInFlight,
		m.baseDelegations,
		m.resolutionFailures,
		m.validationFailures,
		m.errorsByClass,
		m.errorsByCode,
	); err != nil {
		return nil, err
	}
	return m, nil
}

func registerAll(reg *prometheus.Registry, cs ...prometheus.Collector) error {
	for _, c := range cs {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) enabled() bool {
	return m != nil && m.registry != nil
}

// Registry returns the registry, or nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// HandlerStarted marks a handler call in flight until RecordHandlerCall.
func (m *Metrics) HandlerStarted() {
	if !m.enabled() {
		return
	}
	m.handlersInFlight.Inc()
}

// RecordHandlerCall records a finished handler call.
func (m *Metrics) RecordHandlerCall(plugin, kind, handlerType string, duration time.Duration, err error) {
	if !m.enabled() {
		return
	}
	m.handlersInFlight.Dec()
	m.handlerCalls.WithLabelValues(plugin, kind, handlerType).Inc()
	m.handlerDuration.WithLabelValues(plugin, kind, handlerType).Observe(duration.Seconds())
	if err != nil {
		m.handlerErrors.WithLabelValues(plugin, kind, handlerType).Inc()
	}
}

// RecordDelegation counts a base() call made by plugin's handler.
func (m *Metrics) RecordDelegation(plugin, kind, handlerType string) {
	if !m.enabled() {
		return
	}
	m.baseDelegations.WithLabelValues(plugin, kind, handlerType).Inc()
}

// RecordResolutionFailure counts a call for which no handler resolved.
func (m *Metrics) RecordResolutionFailure(kind, handlerType string) {
	if !m.enabled() {
		return
	}
	m.resolutionFailures.WithLabelValues(kind, handlerType).Inc()
}

// RecordValidationFailure counts a result rejected by its output schema.
func (m *Metrics) RecordValidationFailure(kind, actionType, outputKind string) {
	if !m.enabled() {
		return
	}
	m.validationFailures.WithLabelValues(kind, actionType, outputKind).Inc()
}

// RecordError counts a router error by class, and by code when it has one.
func (m *Metrics) RecordError(class, code string) {
	if !m.enabled() {
		return
	}
	m.errorsByClass.WithLabelValues(class).Inc()
	if code != "" {
		m.errorsByCode.WithLabelValues(code).Inc()
	}
}

// Timer measures a call's duration.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the time elapsed since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
