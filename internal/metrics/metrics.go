// Package metrics exposes gpagent's runtime counters and histograms as
// Prometheus metrics, scraped from the port configured by
// ObservabilityConfig.metrics_port.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles every metric gpagent records across the Gateway,
// Tool Executor, and TRM Trainer.
type Registry struct {
	reg *prometheus.Registry

	LLMRequestsTotal   *prometheus.CounterVec
	LLMRequestDuration *prometheus.HistogramVec
	LLMFailoverTotal   prometheus.Counter
	LLMTokensTotal     *prometheus.CounterVec

	ToolExecutionsTotal   *prometheus.CounterVec
	ToolExecutionDuration *prometheus.HistogramVec
	ToolQueueDepth        prometheus.Gauge

	TRMTrainingEpochsTotal prometheus.Counter
	TRMEpisodeBufferSize   prometheus.Gauge
	TRMLastTrainingLoss    prometheus.Gauge
}

// New builds a Registry with all metrics registered under the gpagent
// namespace.
func New() *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Registry{
		reg: reg,
		LLMRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gpagent",
			Subsystem: "llm",
			Name:      "requests_total",
			Help:      "Total LLM completion requests by provider and outcome.",
		}, []string{"provider", "outcome"}),
		LLMRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gpagent",
			Subsystem: "llm",
			Name:      "request_duration_seconds",
			Help:      "LLM completion request latency by provider.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider"}),
		LLMFailoverTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "gpagent",
			Subsystem: "llm",
			Name:      "failover_total",
			Help:      "Total times the Gateway fell back from the primary to the fallback provider.",
		}),
		LLMTokensTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gpagent",
			Subsystem: "llm",
			Name:      "tokens_total",
			Help:      "Total tokens consumed by direction (input/output).",
		}, []string{"direction"}),
		ToolExecutionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gpagent",
			Subsystem: "tools",
			Name:      "executions_total",
			Help:      "Total tool executions by tool name and outcome.",
		}, []string{"tool", "outcome"}),
		ToolExecutionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gpagent",
			Subsystem: "tools",
			Name:      "execution_duration_seconds",
			Help:      "Tool execution latency by tool name.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool"}),
		ToolQueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "gpagent",
			Subsystem: "tools",
			Name:      "queue_depth",
			Help:      "Current number of queued tool executions awaiting a worker.",
		}),
		TRMTrainingEpochsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "gpagent",
			Subsystem: "trm",
			Name:      "training_epochs_total",
			Help:      "Total TRM training epochs completed by the background trainer.",
		}),
		TRMEpisodeBufferSize: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "gpagent",
			Subsystem: "trm",
			Name:      "episode_buffer_size",
			Help:      "Current number of episodes held in the TRM episode buffer.",
		}),
		TRMLastTrainingLoss: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "gpagent",
			Subsystem: "trm",
			Name:      "last_training_loss",
			Help:      "Combined loss value from the most recent TRM training epoch.",
		}),
	}
}

// Handler returns an http.Handler serving this Registry's metrics in the
// Prometheus text exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// Serve starts an HTTP server exposing /metrics on addr and blocks until
// ctx is canceled, then shuts the server down gracefully.
func (r *Registry) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		return srv.Shutdown(context.Background())
	case err := <-errCh:
		return err
	}
}
