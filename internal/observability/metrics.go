package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "nocl"

type moduleMetrics struct {
	routingDecisions *prometheus.CounterVec
	cacheLookups     *prometheus.CounterVec

	toolCallTotal    *prometheus.CounterVec
	toolCallDuration *prometheus.HistogramVec

	memoryQueryDuration *prometheus.HistogramVec
	memoryQueryTotal    *prometheus.CounterVec
	memoryWriteDuration *prometheus.HistogramVec
	memoryEntries       prometheus.Gauge
	memoryPruned        prometheus.Counter

	compressionsTotal  *prometheus.CounterVec
	compressedMessages prometheus.Counter
	contextTokens      prometheus.Histogram
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			routingDecisions: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "routing_decisions_total",
					Help:      "Queries routed by chosen memory source.",
				},
				[]string{"source"},
			),
			cacheLookups: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "tool_cache_lookups_total",
					Help:      "Tool cache lookups by tool and result (hit, miss, skip).",
				},
				[]string{"tool", "result"},
			),
			toolCallTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "tool_calls_total",
					Help:      "Live tool calls by tool and status.",
				},
				[]string{"tool", "status"},
			),
			toolCallDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "tool_call_duration_seconds",
					Help:      "Live tool call duration in seconds by tool.",
					Buckets:   prometheus.DefBuckets,
				},
				[]string{"tool"},
			),
			memoryQueryDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "memory_query_duration_seconds",
					Help:      "Memory query duration in seconds by backend.",
					Buckets:   prometheus.DefBuckets,
				},
				[]string{"backend"},
			),
			memoryQueryTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "memory_queries_total",
					Help:      "Memory queries by backend and result (hit, miss, error).",
				},
				[]string{"backend", "result"},
			),
			memoryWriteDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "memory_write_duration_seconds",
					Help:      "Memory write duration in seconds by backend and memory type.",
					Buckets:   prometheus.DefBuckets,
				},
				[]string{"backend", "type"},
			),
			memoryEntries: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Namespace: namespace,
					Name:      "memory_entries",
					Help:      "Live (non-expired) memory records in the current project.",
				},
			),
			memoryPruned: prometheus.NewCounter(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "memory_pruned_total",
					Help:      "Expired memory records removed.",
				},
			),
			compressionsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "session_compressions_total",
					Help:      "Session compression passes by status.",
				},
				[]string{"status"},
			),
			compressedMessages: prometheus.NewCounter(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "session_compressed_messages_total",
					Help:      "Messages folded into session summaries.",
				},
			),
			contextTokens: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "assembled_context_tokens",
					Help:      "Estimated tokens in assembled prompt context.",
					Buckets:   []float64{50, 100, 250, 500, 1000, 1500, 2000, 4000},
				},
			),
		}

		prometheus.MustRegister(
			m.routingDecisions,
			m.cacheLookups,
			m.toolCallTotal,
			m.toolCallDuration,
			m.memoryQueryDuration,
			m.memoryQueryTotal,
			m.memoryWriteDuration,
			m.memoryEntries,
			m.memoryPruned,
			m.compressionsTotal,
			m.compressedMessages,
			m.contextTokens,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func RecordRoutingDecision(source string) {
	getMetrics().routingDecisions.WithLabelValues(source).Inc()
}

// RecordCacheLookup counts a tool cache lookup. result is "hit", "miss" or "skip".
func RecordCacheLookup(tool, result string) {
	getMetrics().cacheLookups.WithLabelValues(tool, result).Inc()
}

func RecordToolCall(tool string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.toolCallTotal.WithLabelValues(tool, status).Inc()
	m.toolCallDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

// RecordMemoryQuery records a query. result is "hit", "miss" or "error".
func RecordMemoryQuery(backend string, duration time.Duration, result string) {
	m := getMetrics()
	m.memoryQueryDuration.WithLabelValues(backend).Observe(duration.Seconds())
	m.memoryQueryTotal.WithLabelValues(backend, result).Inc()
}

func RecordMemoryWrite(backend, memoryType string, duration time.Duration) {
	getMetrics().memoryWriteDuration.WithLabelValues(backend, memoryType).Observe(duration.Seconds())
}

func SetMemoryEntries(total int) {
	getMetrics().memoryEntries.Set(float64(total))
}

func RecordMemoryPruned(count int) {
	getMetrics().memoryPruned.Add(float64(count))
}

func RecordCompression(compressed int, success bool) {
	m := getMetrics()
	if !success {
		m.compressionsTotal.WithLabelValues("error").Inc()
		return
	}
	m.compressionsTotal.WithLabelValues("success").Inc()
	m.compressedMessages.Add(float64(compressed))
}

func RecordContextTokens(tokens int) {
	getMetrics().contextTokens.Observe(float64(tokens))
}
