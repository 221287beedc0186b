package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	uploadsTotal    *prometheus.CounterVec
	uploadBytes     prometheus.Counter
	promptRuns      *prometheus.CounterVec
	promptDuration  prometheus.Histogram
}

// NewMetrics registers the service metrics on a fresh registry so several
// servers can live in one process.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vidprompt_http_requests_total",
			Help: "HTTP requests by route, method and status",
		}, []string{"route", "method", "status"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vidprompt_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),
		uploadsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vidprompt_upload_steps_total",
			Help: "Multipart upload steps by stage and outcome",
		}, []string{"stage", "status"}),
		uploadBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "vidprompt_upload_part_bytes_total",
			Help: "Bytes received in upload parts",
		}),
		promptRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vidprompt_prompt_runs_total",
			Help: "Prompt generations by outcome",
		}, []string{"status"}),
		promptDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "vidprompt_prompt_generation_duration_seconds",
			Help:    "Model call latency in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 80},
		}),
	}
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
