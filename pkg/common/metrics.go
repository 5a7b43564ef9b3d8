package common

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TracesDecoded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trace_decoder_traces_decoded_total",
		Help: "Total number of trace trees decoded",
	}, []string{"status"})

	DecodeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "trace_decoder_decode_duration_seconds",
		Help:    "Time taken to decode a trace tree, enrichment included",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
	}, []string{"phase"})

	TraceNodes = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "trace_decoder_trace_nodes",
		Help:    "Number of nodes in decoded trace trees",
		Buckets: prometheus.ExponentialBuckets(1, 2, 14),
	})

	Unresolved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trace_decoder_unresolved_total",
		Help: "Total number of unresolved items found by classification",
	}, []string{"kind"})

	EntriesLearned = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trace_decoder_entries_learned_total",
		Help: "Total number of registry entries learned from external registries",
	}, []string{"source"})

	RegistryEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "trace_decoder_registry_entries",
		Help: "Number of entries held by the signature registry",
	})

	AttemptedAddresses = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "trace_decoder_attempted_addresses",
		Help: "Number of addresses already looked up in the verification API",
	})

	GatewayRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trace_decoder_gateway_requests_total",
		Help: "Total requests made to external registries",
	}, []string{"service", "status"})

	GatewayRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "trace_decoder_gateway_request_duration_seconds",
		Help:    "Duration of requests to external registries, retries included",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	}, []string{"service", "status"})

	SourceRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trace_decoder_source_requests_total",
		Help: "Total trace requests made to the trace source",
	}, []string{"source", "status"})

	SourceRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "trace_decoder_source_request_duration_seconds",
		Help:    "Duration of trace requests made to the trace source",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	}, []string{"source", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trace_decoder_http_requests_total",
		Help: "Total HTTP API requests served",
	}, []string{"method", "code"})

	TasksEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trace_decoder_tasks_enqueued_total",
		Help: "Total number of tasks enqueued",
	}, []string{"queue", "task_type"})

	TasksProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trace_decoder_tasks_processed_total",
		Help: "Total number of tasks processed",
	}, []string{"queue", "task_type", "status"})

	RegistrySyncs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trace_decoder_registry_syncs_total",
		Help: "Total number of registry re-syncs from the store",
	}, []string{"status"})

	MemoryUsage = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "trace_decoder_memory_usage_bytes",
		Help: "Memory usage of the process by kind",
	}, []string{"kind"})

	GoroutineCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "trace_decoder_goroutines",
		Help: "Number of running goroutines",
	})

	MemoryPressureEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trace_decoder_memory_pressure_events_total",
		Help: "Total number of times memory crossed a configured threshold",
	}, []string{"level"})
)
