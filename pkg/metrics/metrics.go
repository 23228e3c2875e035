// Package metrics exposes gateway statistics to Prometheus.
package metrics

import (
	"context"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yombo/yombo-gateway-sub004/pkg/device"
)

// Metrics implements device.MetricsSink and device.StateListener.
type Metrics struct {
	registry *prometheus.Registry

	energyUsage  *prometheus.GaugeVec
	datapoints   *prometheus.GaugeVec
	stateChanges *prometheus.CounterVec
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

var (
	_ device.MetricsSink   = (*Metrics)(nil)
	_ device.StateListener = (*Metrics)(nil)
)

// New creates the collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		energyUsage: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gateway_energy_usage",
			Help: "Current energy usage by location and energy type.",
		}, []string{"location", "energy_type"}),
		datapoints: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gateway_datapoint",
			Help: "Last value of other named statistics.",
		}, []string{"name"}),
		stateChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_device_state_changes_total",
			Help: "Total count of recorded device state changes by platform.",
		}, []string{"platform"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_http_requests_total",
			Help: "Total count of HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_http_request_duration_seconds",
			Help:    "Histogram of HTTP request durations by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}

	m.registry.MustRegister(
		m.energyUsage,
		m.datapoints,
		m.stateChanges,
		m.httpRequests,
		m.httpDuration,
	)
	return m
}

// Datapoint records a named statistic. Names of the form
// "energy.<location>.<type>" land in the energy gauge.
func (m *Metrics) Datapoint(name string, value float64) {
	if m == nil {
		return
	}
	if location, et, ok := parseEnergyName(name); ok {
		m.energyUsage.WithLabelValues(location, et).Set(value)
		return
	}
	m.datapoints.WithLabelValues(name).Set(value)
}

func parseEnergyName(name string) (location, energyType string, ok bool) {
	rest, found := strings.CutPrefix(name, "energy.")
	if !found {
		return "", "", false
	}
	// location labels may contain dots, the type never does
	idx := strings.LastIndex(rest, ".")
	if idx <= 0 || idx == len(rest)-1 {
		return "", "", false
	}
	return rest[:idx], rest[idx+1:], true
}

// StateChanged counts a state change.
func (m *Metrics) StateChanged(_ context.Context, ev device.StateChangedEvent) {
	if m == nil || ev.Device == nil {
		return
	}
	m.stateChanges.WithLabelValues(ev.Device.Kind().Platform()).Inc()
}

// ObserveRequest records one served HTTP request.
func (m *Metrics) ObserveRequest(route, status string, seconds float64) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, status).Inc()
	m.httpDuration.WithLabelValues(route).Observe(seconds)
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
