package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	queueSize     *prometheus.GaugeVec
	enqueueTotal  *prometheus.CounterVec
	dequeueTotal  *prometheus.CounterVec
	taskDuration  *prometheus.HistogramVec
	queueWaitTime prometheus.Histogram

	activeSessions  prometheus.Gauge
	sessionsCreated prometheus.Counter
	sessionsClosed  *prometheus.CounterVec
	sessionRejected *prometheus.CounterVec

	toolExecutionTotal    *prometheus.CounterVec
	toolExecutionDuration *prometheus.HistogramVec
	toolErrorsTotal       *prometheus.CounterVec

	agentRunTotal     *prometheus.CounterVec
	agentRunDuration  *prometheus.HistogramVec
	agentIterations   prometheus.Histogram
	gatewayErrorTotal *prometheus.CounterVec

	httpRequestsTotal *prometheus.CounterVec
	pushStreamsActive *prometheus.GaugeVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			queueSize: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "mcpgate_queue_size",
					Help: "Current queued task count by lane kind.",
				},
				[]string{"lane"},
			),
			enqueueTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "mcpgate_enqueue_total",
					Help: "Total enqueue operations by lane kind.",
				},
				[]string{"lane"},
			),
			dequeueTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "mcpgate_dequeue_total",
					Help: "Total completed tasks by lane kind and status.",
				},
				[]string{"lane", "status"},
			),
			taskDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "mcpgate_task_duration_seconds",
					Help:    "Task execution duration in seconds by lane kind.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"lane"},
			),
			queueWaitTime: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "mcpgate_queue_wait_seconds",
					Help:    "Time a task spent queued before it started.",
					Buckets: prometheus.DefBuckets,
				},
			),
			activeSessions: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "mcpgate_active_sessions",
					Help: "Current open session count.",
				},
			),
			sessionsCreated: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "mcpgate_sessions_created_total",
					Help: "Total sessions created.",
				},
			),
			sessionsClosed: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "mcpgate_sessions_closed_total",
					Help: "Total sessions closed by reason.",
				},
				[]string{"reason"},
			),
			sessionRejected: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "mcpgate_session_rejected_total",
					Help: "Requests rejected at the session boundary by verb.",
				},
				[]string{"verb"},
			),
			toolExecutionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "mcpgate_tool_execution_total",
					Help: "Total tool invocations by tool and status.",
				},
				[]string{"tool", "status"},
			),
			toolExecutionDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "mcpgate_tool_execution_duration_seconds",
					Help:    "Tool execution duration in seconds by tool.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"tool"},
			),
			toolErrorsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "mcpgate_tool_errors_total",
					Help: "Total failed tool invocations by tool and failure kind.",
				},
				[]string{"tool", "kind"},
			),
			agentRunTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "mcpgate_agent_run_total",
					Help: "Total agent loop runs by provider and terminal reason.",
				},
				[]string{"provider", "reason"},
			),
			agentRunDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "mcpgate_agent_run_duration_seconds",
					Help:    "Agent loop run duration in seconds by provider.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"provider"},
			),
			agentIterations: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "mcpgate_agent_iterations",
					Help:    "Model generation calls per agent loop run.",
					Buckets: []float64{1, 2, 3, 4, 5, 6, 8, 10, 15, 20},
				},
			),
			gatewayErrorTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "mcpgate_model_gateway_errors_total",
					Help: "Total model gateway failures by provider.",
				},
				[]string{"provider"},
			),
			httpRequestsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "mcpgate_http_requests_total",
					Help: "Total HTTP requests on the session endpoint by method and status.",
				},
				[]string{"method", "status"},
			),
			pushStreamsActive: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "mcpgate_push_streams_active",
					Help: "Open server push channels by transport.",
				},
				[]string{"transport"},
			),
		}

		prometheus.MustRegister(
			m.queueSize,
			m.enqueueTotal,
			m.dequeueTotal,
			m.taskDuration,
			m.queueWaitTime,
			m.activeSessions,
			m.sessionsCreated,
			m.sessionsClosed,
			m.sessionRejected,
			m.toolExecutionTotal,
			m.toolExecutionDuration,
			m.toolErrorsTotal,
			m.agentRunTotal,
			m.agentRunDuration,
			m.agentIterations,
			m.gatewayErrorTotal,
			m.httpRequestsTotal,
			m.pushStreamsActive,
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

// Session lanes are keyed by session id; labels use the lane kind to keep
// cardinality bounded.
func RecordQueueEnqueue(lane string, queueSize int) {
	m := getMetrics()
	m.enqueueTotal.WithLabelValues(lane).Inc()
	m.queueSize.WithLabelValues(lane).Set(float64(queueSize))
}

func RecordQueueWait(wait time.Duration) {
	getMetrics().queueWaitTime.Observe(wait.Seconds())
}

func RecordQueueCompletion(lane string, duration time.Duration, success bool, queueSize int) {
	m := getMetrics()
	m.dequeueTotal.WithLabelValues(lane, statusLabel(success)).Inc()
	m.taskDuration.WithLabelValues(lane).Observe(duration.Seconds())
	m.queueSize.WithLabelValues(lane).Set(float64(queueSize))
}

func SetActiveSessions(count int) {
	getMetrics().activeSessions.Set(float64(count))
}

func RecordSessionCreated() {
	getMetrics().sessionsCreated.Inc()
}

func RecordSessionClosed(reason string) {
	getMetrics().sessionsClosed.WithLabelValues(reason).Inc()
}

func RecordSessionRejected(verb string) {
	getMetrics().sessionRejected.WithLabelValues(verb).Inc()
}

func RecordToolExecution(tool string, duration time.Duration, success bool, failureKind string) {
	m := getMetrics()
	m.toolExecutionTotal.WithLabelValues(tool, statusLabel(success)).Inc()
	m.toolExecutionDuration.WithLabelValues(tool).Observe(duration.Seconds())
	if !success {
		m.toolErrorsTotal.WithLabelValues(tool, failureKind).Inc()
	}
}

func RecordAgentRun(provider, reason string, duration time.Duration, iterations int) {
	m := getMetrics()
	m.agentRunTotal.WithLabelValues(provider, reason).Inc()
	m.agentRunDuration.WithLabelValues(provider).Observe(duration.Seconds())
	m.agentIterations.Observe(float64(iterations))
}

func RecordGatewayError(provider string) {
	getMetrics().gatewayErrorTotal.WithLabelValues(provider).Inc()
}

func RecordHTTPRequest(method string, status int) {
	getMetrics().httpRequestsTotal.WithLabelValues(method, http.StatusText(status)).Inc()
}

func AddPushStream(transport string, delta int) {
	getMetrics().pushStreamsActive.WithLabelValues(transport).Add(float64(delta))
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}
