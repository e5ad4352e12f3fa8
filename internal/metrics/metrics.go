// Package metrics holds the Prometheus collectors of the service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pinga"

// Metrics is safe to use as a nil pointer; every method becomes a no-op.
type Metrics struct {
	reg *prometheus.Registry

	webhooks   *prometheus.CounterVec
	deliveries *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	payloads   prometheus.Gauge
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		reg: reg,
		webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhooks_received_total",
			Help:      "Webhooks accepted for analysis, by detected source.",
		}, []string{"source"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Channel delivery attempts by channel type and outcome.",
		}, []string{"channel_type", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "delivery_duration_seconds",
			Help:      "Backend send latency.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"channel_type"}),
		payloads: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "payloads_stored",
			Help:      "Raw payloads currently held by the payload store.",
		}),
	}
	reg.MustRegister(
		m.webhooks, m.deliveries, m.duration, m.payloads,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) WebhookReceived(source string) {
	if m == nil {
		return
	}
	m.webhooks.WithLabelValues(source).Inc()
}

func (m *Metrics) Delivery(channelType, status string, took time.Duration) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(channelType, status).Inc()
	if took > 0 {
		m.duration.WithLabelValues(channelType).Observe(took.Seconds())
	}
}

func (m *Metrics) PayloadsStored(n int) {
	if m == nil {
		return
	}
	m.payloads.Set(float64(n))
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
