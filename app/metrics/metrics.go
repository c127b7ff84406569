// Package metrics 定义 Prometheus 指标
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	LLMAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "task_miner_llm_attempts_total",
			Help: "Total number of LLM call attempts",
		},
		[]string{"provider", "outcome"},
	)

	LLMLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "task_miner_llm_latency_seconds",
			Help:    "LLM call latency in seconds",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
		},
		[]string{"provider"},
	)

	LLMFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "task_miner_llm_fallbacks_total",
			Help: "Total number of fallback attempts against other local services",
		},
		[]string{"from", "to"},
	)

	LLMExhausted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "task_miner_llm_exhausted_total",
			Help: "Total number of LLM calls that failed after retries and fallback",
		},
		[]string{"provider"},
	)

	FilesInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "task_miner_files_in_flight",
			Help: "Number of documents currently being processed",
		},
	)

	FileOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "task_miner_file_outcomes_total",
			Help: "Total number of processed documents by terminal status",
		},
		[]string{"status"},
	)

	TasksCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "task_miner_tasks_created_total",
			Help: "Total number of task notes written",
		},
	)

	TasksFailed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "task_miner_tasks_failed_total",
			Help: "Total number of task notes that could not be written",
		},
	)

	RequestCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "task_miner_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "task_miner_http_request_duration_seconds",
			Help: "HTTP request duration in seconds",
		},
		[]string{"method", "endpoint"},
	)
)
