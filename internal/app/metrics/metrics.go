package metrics

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	core "github.com/r3e-network/fraudctl/internal/app/core/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "fraudctl",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight admin HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fraudctl",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of admin HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fraudctl",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of admin HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	inferenceRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fraudctl",
			Subsystem: "inference",
			Name:      "requests_total",
			Help:      "Total number of scoring requests, by model and outcome.",
		},
		[]string{"model_id", "status"},
	)

	inferenceDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fraudctl",
			Subsystem: "inference",
			Name:      "request_duration_seconds",
			Help:      "End-to-end scoring latency, feature lookup through response.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"model_id"},
	)

	jobRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fraudctl",
			Subsystem: "jobs",
			Name:      "runs_total",
			Help:      "Total number of scheduled job executions dispatched.",
		},
		[]string{"kind", "success"},
	)

	jobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fraudctl",
			Subsystem: "jobs",
			Name:      "run_duration_seconds",
			Help:      "Duration of scheduled job executions.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		},
		[]string{"kind"},
	)

	abtestEvaluations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fraudctl",
			Subsystem: "abtest",
			Name:      "evaluations_total",
			Help:      "Total number of A/B test evaluations, by recommendation.",
		},
		[]string{"recommendation"},
	)

	observationCollectors sync.Map
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		inferenceRequests,
		inferenceDuration,
		jobRuns,
		jobDuration,
		abtestEvaluations,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordInference records metrics for one scoring request.
func RecordInference(modelID, status string, duration time.Duration) {
	if modelID == "" {
		modelID = "unknown"
	}
	if duration <= 0 {
		duration = time.Microsecond
	}
	inferenceRequests.WithLabelValues(modelID, status).Inc()
	inferenceDuration.WithLabelValues(modelID).Observe(duration.Seconds())
}

// RecordJobRun records metrics for one scheduler job dispatch.
func RecordJobRun(kind string, duration time.Duration, success bool) {
	if kind == "" {
		kind = "unknown"
	}
	if duration <= 0 {
		duration = time.Millisecond
	}
	result := "false"
	if success {
		result = "true"
	}
	jobRuns.WithLabelValues(kind, result).Inc()
	jobDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordABTestEvaluation records one A/B test evaluation outcome.
func RecordABTestEvaluation(recommendation string) {
	if recommendation == "" {
		recommendation = "unknown"
	}
	abtestEvaluations.WithLabelValues(recommendation).Inc()
}

type observationCollector struct {
	gauge *prometheus.GaugeVec
	hist  *prometheus.HistogramVec
}

// ObservationHooks creates core observation hooks backed by Prometheus metrics.
func ObservationHooks(namespace, subsystem, name string) core.ObservationHooks {
	key := namespace + ":" + subsystem + ":" + name
	var collector observationCollector
	if entry, ok := observationCollectors.Load(key); ok {
		collector = entry.(observationCollector)
	} else {
		collector = createObservationCollector(namespace, subsystem, name)
		observationCollectors.Store(key, collector)
	}
	return core.ObservationHooks{
		OnStart: func(ctx context.Context, meta map[string]string) {
			label := metaLabel(meta)
			collector.gauge.WithLabelValues(label).Inc()
		},
		OnComplete: func(ctx context.Context, meta map[string]string, err error, duration time.Duration) {
			label := metaLabel(meta)
			collector.gauge.WithLabelValues(label).Dec()
			status := "success"
			if err != nil {
				status = "error"
			}
			collector.hist.WithLabelValues(label, status).Observe(duration.Seconds())
		},
	}
}

func createObservationCollector(namespace, subsystem, name string) observationCollector {
	gauge := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name + "_in_flight",
			Help:      "Current operations in flight for " + subsystem,
		},
		[]string{"resource"},
	)
	hist := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name + "_duration_seconds",
			Help:      "Duration of operations for " + subsystem,
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		},
		[]string{"resource", "status"},
	)
	Registry.MustRegister(gauge, hist)
	return observationCollector{gauge: gauge, hist: hist}
}

func metaLabel(meta map[string]string) string {
	if meta == nil {
		return "unknown"
	}
	if id, ok := meta["model_id"]; ok && id != "" {
		return id
	}
	if id, ok := meta["dataset_id"]; ok && id != "" {
		return id
	}
	if id, ok := meta["feature_set_id"]; ok && id != "" {
		return id
	}
	if id, ok := meta["job_id"]; ok && id != "" {
		return id
	}
	if id, ok := meta["ab_test_id"]; ok && id != "" {
		return id
	}
	if id, ok := meta["alert_id"]; ok && id != "" {
		return id
	}
	return "unknown"
}

// TrainingJobHooks captures training engine run attempts.
func TrainingJobHooks() core.ObservationHooks {
	return ObservationHooks("fraudctl", "training", "jobs")
}

// FeaturePipelineHooks captures feature pipeline run attempts.
func FeaturePipelineHooks() core.ObservationHooks {
	return ObservationHooks("fraudctl", "features", "runs")
}

// MonitoringTickHooks captures monitoring engine drift/bias evaluations.
func MonitoringTickHooks() core.ObservationHooks {
	return ObservationHooks("fraudctl", "monitoring", "ticks")
}

// SchedulerDispatchHooks wraps ObservationHooks for scheduler dispatch instrumentation.
func SchedulerDispatchHooks(kind string) core.DispatchHooks {
	return ObservationHooks("fraudctl", "scheduler", kind)
}

// RetrainRunHooks captures retraining controller state-machine runs.
func RetrainRunHooks() core.ObservationHooks {
	return ObservationHooks("fraudctl", "retrain", "runs")
}

// ABEvaluationHooks captures A/B controller significance evaluations.
func ABEvaluationHooks() core.ObservationHooks {
	return ObservationHooks("fraudctl", "abtest", "evaluations")
}

// AlertDispatchHooks captures alert manager sink dispatch attempts.
func AlertDispatchHooks() core.DispatchHooks {
	return ObservationHooks("fraudctl", "alerts", "dispatch")
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// canonicalPath collapses path parameters so per-request paths don't
// explode the requests_total/duration_seconds label cardinality.
func canonicalPath(raw string) string {
	if raw == "" || raw == "/" {
		return "/"
	}
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	if len(parts) == 1 {
		return "/" + parts[0]
	}
	return "/" + parts[0] + "/:id"
}
