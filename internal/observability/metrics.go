package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks the daemon's request flow:
//   - chat-completion requests by mode (stream|sync)
//   - tool calls handed back to the caller
//   - loop-guard trips by error class
//   - boundary fallbacks to legacy
//   - upstream failures by kind
type Metrics struct {
	// RequestCounter counts chat-completion requests.
	// Labels: mode (stream|sync)
	RequestCounter *prometheus.CounterVec

	// InterceptedToolCalls counts tool calls returned to the caller.
	// Labels: tool
	InterceptedToolCalls *prometheus.CounterVec

	// LoopGuardTrips counts loop-guard terminations.
	// Labels: error_class (validation|not_found|permission|timeout|tool_error|success|unknown)
	LoopGuardTrips *prometheus.CounterVec

	// BoundaryFallbacks counts per-request swaps to the legacy boundary.
	BoundaryFallbacks prometheus.Counter

	// UpstreamFailures counts classified upstream failures.
	// Labels: kind (quota|auth|network|model|unknown)
	UpstreamFailures *prometheus.CounterVec
}

// NewMetrics registers all metrics with the default registry. Call once
// at startup; the promhttp handler serves them at /metrics.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers against an explicit registerer, so tests can
// use an isolated registry.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cursor_acp_requests_total",
				Help: "Total number of chat-completion requests by mode",
			},
			[]string{"mode"},
		),
		InterceptedToolCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cursor_acp_intercepted_tool_calls_total",
				Help: "Total number of tool calls intercepted and returned to the caller",
			},
			[]string{"tool"},
		),
		LoopGuardTrips: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cursor_acp_loop_guard_trips_total",
				Help: "Total number of loop-guard terminations by error class",
			},
			[]string{"error_class"},
		),
		BoundaryFallbacks: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "cursor_acp_boundary_fallbacks_total",
				Help: "Total number of per-request fallbacks to the legacy boundary",
			},
		),
		UpstreamFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cursor_acp_upstream_failures_total",
				Help: "Total number of upstream agent failures by kind",
			},
			[]string{"kind"},
		),
	}
}

// RequestStarted counts one chat-completion request.
func (m *Metrics) RequestStarted(streaming bool) {
	mode := "sync"
	if streaming {
		mode = "stream"
	}
	m.RequestCounter.WithLabelValues(mode).Inc()
}

// ToolCallIntercepted counts one intercepted tool call.
func (m *Metrics) ToolCallIntercepted(tool string) {
	m.InterceptedToolCalls.WithLabelValues(tool).Inc()
}

// LoopGuardTripped counts one loop-guard termination.
func (m *Metrics) LoopGuardTripped(class string) {
	m.LoopGuardTrips.WithLabelValues(class).Inc()
}

// BoundaryFellBack counts one legacy fallback.
func (m *Metrics) BoundaryFellBack() {
	m.BoundaryFallbacks.Inc()
}

// UpstreamFailure counts one classified upstream failure.
func (m *Metrics) UpstreamFailure(kind string) {
	m.UpstreamFailures.WithLabelValues(kind).Inc()
}
