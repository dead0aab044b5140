package live

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "visalog"

var (
	samplesDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "samples_total"),
		"Samples written since the run started.",
		[]string{"resource"}, nil,
	)
	failuresDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "malformed_total"),
		"Measurement responses that could not be parsed.",
		[]string{"resource"}, nil,
	)
	valueDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "measurement"),
		"Last measured value.",
		[]string{"resource"}, nil,
	)
	timeDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "measurement_timestamp_seconds"),
		"Unix time of the last measured value.",
		[]string{"resource"}, nil,
	)
	clientsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "live_clients"),
		"Connected WebSocket clients.",
		nil, nil,
	)
)

func (h *Hub) Describe(ch chan<- *prometheus.Desc) {
	ch <- samplesDesc
	ch <- failuresDesc
	ch <- valueDesc
	ch <- timeDesc
	ch <- clientsDesc
}

// Collect reports the acquisition counters. Nothing but the client count
// is reported before SetInfo.
func (h *Hub) Collect(ch chan<- prometheus.Metric) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch <- prometheus.MustNewConstMetric(clientsDesc, prometheus.GaugeValue, float64(len(h.clients)))
	if h.info == nil {
		return
	}

	res := h.info.Resource
	ch <- prometheus.MustNewConstMetric(samplesDesc, prometheus.CounterValue, float64(h.samples), res)
	ch <- prometheus.MustNewConstMetric(failuresDesc, prometheus.CounterValue, float64(h.failures), res)
	if h.samples > 0 {
		ch <- prometheus.MustNewConstMetric(valueDesc, prometheus.GaugeValue, h.last.Value, res)
		ch <- prometheus.MustNewConstMetric(timeDesc, prometheus.GaugeValue, float64(h.last.Time.UnixNano())/1e9, res)
	}
}

// MetricsHandler serves the hub counters in the Prometheus text format.
func (h *Hub) MetricsHandler() http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(h)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
