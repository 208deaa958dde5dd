package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects the process-wide Prometheus instruments.
type Metrics struct {
	// LLMRequestDuration measures one provider call.
	// Labels: driver, model
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestCounter counts provider calls.
	// Labels: driver, model, status (success|timeout|error)
	LLMRequestCounter *prometheus.CounterVec

	// LLMTokens counts tokens by direction (input|output), estimates included.
	LLMTokens *prometheus.CounterVec

	// ToolExecutions counts tool dispatches. Labels: tool, status (success|error)
	ToolExecutions *prometheus.CounterVec

	// ToolExecutionDuration measures one tool dispatch. Labels: tool
	ToolExecutionDuration *prometheus.HistogramVec

	// SignalFirings counts handler firings. Labels: type
	SignalFirings *prometheus.CounterVec

	// SignalHandlers tracks the size of the live handler set.
	// Labels: type, valid ("true"|"false")
	SignalHandlers *prometheus.GaugeVec

	// HubEvents counts events received from the hub. Labels: event_type
	HubEvents *prometheus.CounterVec

	// HubConnected is 1 while the hub session is authenticated.
	HubConnected prometheus.Gauge

	// SchedulerSteps counts scheduler-step runs. Labels: status
	SchedulerSteps *prometheus.CounterVec

	// Executions counts execution-step runs. Labels: status
	Executions *prometheus.CounterVec

	// RPCRequests counts multiplexer requests. Labels: method, status
	RPCRequests *prometheus.CounterVec
}

// NewMetrics registers all instruments on the default registry. Call once.
func NewMetrics() *Metrics {
	return &Metrics{
		LLMRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hearth_llm_request_duration_seconds",
				Help:    "Duration of LLM provider calls in seconds",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"driver", "model"},
		),
		LLMRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hearth_llm_requests_total",
				Help: "LLM provider calls by driver, model and status",
			},
			[]string{"driver", "model", "status"},
		),
		LLMTokens: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hearth_llm_tokens_total",
				Help: "Token usage (reported or estimated) by direction",
			},
			[]string{"driver", "direction"},
		),
		ToolExecutions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hearth_tool_executions_total",
				Help: "Tool dispatches by tool name and status",
			},
			[]string{"tool", "status"},
		),
		ToolExecutionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hearth_tool_execution_duration_seconds",
				Help:    "Duration of tool dispatches in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 180},
			},
			[]string{"tool"},
		),
		SignalFirings: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hearth_signal_firings_total",
				Help: "Signal handler firings by signal type",
			},
			[]string{"type"},
		),
		SignalHandlers: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "hearth_signal_handlers",
				Help: "Live signal handlers by type and validity",
			},
			[]string{"type", "valid"},
		),
		HubEvents: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hearth_hub_events_total",
				Help: "Events received from the hub by event type",
			},
			[]string{"event_type"},
		),
		HubConnected: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "hearth_hub_connected",
				Help: "1 while the hub WebSocket session is authenticated",
			},
		),
		SchedulerSteps: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hearth_scheduler_steps_total",
				Help: "Scheduler-step runs by status",
			},
			[]string{"status"},
		),
		Executions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hearth_executions_total",
				Help: "Execution-step runs by status",
			},
			[]string{"status"},
		),
		RPCRequests: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hearth_rpc_requests_total",
				Help: "RPC multiplexer requests by method and status",
			},
			[]string{"method", "status"},
		),
	}
}

// Handler serves the default registry, for mounting at /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
