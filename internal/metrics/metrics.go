// Package metrics holds the Prometheus instruments for scanning, gating,
// execution and venue traffic.
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sawpanic/aureon/internal/net/client"
)

const namespace = "aureon"

// Registry owns a private Prometheus registry and every Aureon metric.
type Registry struct {
	reg *prometheus.Registry

	ScansTotal    *prometheus.CounterVec
	ScanDuration  *prometheus.HistogramVec
	Opportunities *prometheus.CounterVec
	Dropped       *prometheus.CounterVec
	PairErrors    *prometheus.CounterVec

	VenueLatency *prometheus.HistogramVec
	VenueErrors  *prometheus.CounterVec
	BreakerState *prometheus.GaugeVec

	GateDecisions *prometheus.CounterVec
	Decisions     *prometheus.CounterVec
	Orders        *prometheus.CounterVec

	WSClients    prometheus.Gauge
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// New creates the registry and registers all metrics plus the Go and
// process collectors.
func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),

		ScansTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scans_total",
			Help:      "Scan passes by profile and result",
		}, []string{"profile", "result"}),

		ScanDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scan_duration_seconds",
			Help:      "Duration of one scan pass",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"profile"}),

		Opportunities: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "opportunities_total",
			Help:      "Opportunities emitted by profile and direction",
		}, []string{"profile", "direction"}),

		Dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "opportunities_dropped_total",
			Help:      "Opportunities dropped because the executor queue was full",
		}, []string{"profile"}),

		PairErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scan_pair_errors_total",
			Help:      "Per venue/symbol failures during a scan pass",
		}, []string{"profile", "venue"}),

		VenueLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "venue_request_duration_seconds",
			Help:      "Outbound venue request latency by status code",
			Buckets:   prometheus.DefBuckets,
		}, []string{"venue", "code"}),

		VenueErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "venue_errors_total",
			Help:      "Outbound venue failures by type",
		}, []string{"venue", "type"}),

		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "breaker_state",
			Help:      "Circuit breaker state per venue (0=closed, 1=half-open, 2=open)",
		}, []string{"venue"}),

		GateDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gate_checks_total",
			Help:      "Individual gate outcomes",
		}, []string{"gate", "result"}),

		Decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gate_decisions_total",
			Help:      "Overall gate decisions",
		}, []string{"result"}),

		Orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_total",
			Help:      "Executions by venue and status",
		}, []string{"venue", "status"}),

		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_clients",
			Help:      "Connected opportunity stream clients",
		}),

		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Status API requests by route and code",
		}, []string{"route", "method", "code"}),

		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Status API handler latency by route",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"route"}),
	}

	r.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.ScansTotal, r.ScanDuration, r.Opportunities, r.Dropped, r.PairErrors,
		r.VenueLatency, r.VenueErrors, r.BreakerState,
		r.GateDecisions, r.Decisions, r.Orders,
		r.WSClients, r.HTTPRequests, r.HTTPDuration,
	)
	return r
}

// Gatherer exposes the underlying registry for tests and custom handlers.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

// Handler serves the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

func (r *Registry) ObserveScan(profile string, d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.ScansTotal.WithLabelValues(profile, result).Inc()
	r.ScanDuration.WithLabelValues(profile).Observe(d.Seconds())
}

func (r *Registry) ObserveOpportunity(profile, direction string) {
	r.Opportunities.WithLabelValues(profile, direction).Inc()
}

func (r *Registry) ObserveDrop(profile string) {
	r.Dropped.WithLabelValues(profile).Inc()
}

func (r *Registry) ObservePairError(profile, venue string) {
	r.PairErrors.WithLabelValues(profile, venue).Inc()
}

func (r *Registry) ObserveGate(gate string, passed bool) {
	r.GateDecisions.WithLabelValues(gate, passFail(passed)).Inc()
}

func (r *Registry) ObserveDecision(approved bool) {
	result := "rejected"
	if approved {
		result = "approved"
	}
	r.Decisions.WithLabelValues(result).Inc()
}

func (r *Registry) ObserveOrder(venue, status string) {
	r.Orders.WithLabelValues(venue, status).Inc()
}

// ObserveHTTP records one served request. route is the mux path template,
// never the raw URL, to keep label cardinality bounded.
func (r *Registry) ObserveHTTP(route, method string, code int, d time.Duration) {
	r.HTTPRequests.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
	r.HTTPDuration.WithLabelValues(route).Observe(d.Seconds())
}

func (r *Registry) SetWSClients(n int) { r.WSClients.Set(float64(n)) }

func passFail(ok bool) string {
	if ok {
		return "pass"
	}
	return "fail"
}

// ObserveVenueRequest matches client.Observer.
func (r *Registry) ObserveVenueRequest(venue string, status int, elapsed time.Duration, err error) {
	code := "error"
	if status > 0 {
		code = strconv.Itoa(status)
	}
	r.VenueLatency.WithLabelValues(venue, code).Observe(elapsed.Seconds())

	switch {
	case err != nil:
		errType := client.TypeTransport
		var ce *client.Error
		if errors.As(err, &ce) {
			errType = ce.Type
		}
		r.VenueErrors.WithLabelValues(venue, errType).Inc()
	case status == http.StatusTooManyRequests:
		r.VenueErrors.WithLabelValues(venue, client.TypeRateLimit).Inc()
	case status >= 500:
		r.VenueErrors.WithLabelValues(venue, "server").Inc()
	}
}

// SetBreakerState matches circuit.StateListener.
func (r *Registry) SetBreakerState(venue, _ string, to string) {
	r.BreakerState.WithLabelValues(venue).Set(breakerValue(to))
}

func breakerValue(state string) float64 {
	switch state {
	case "half-open":
		return 1
	case "open":
		return 2
	default:
		return 0
	}
}
