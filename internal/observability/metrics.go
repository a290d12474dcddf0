package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is Chorus's Prometheus metric set: messages routed, branch
// lifecycle, tool-call decisions, LLM latency/tokens, process lifecycle,
// and hook firings.
type Metrics struct {
	// MessagesRouted counts chat messages routed to or from an agent.
	// Labels: channel, direction (inbound|outbound)
	MessagesRouted *prometheus.CounterVec

	// BranchesTotal counts branch lifecycle transitions.
	// Labels: agent, outcome (created|completed|errored|cancelled)
	BranchesTotal *prometheus.CounterVec

	// ToolCallDecisions counts permission engine verdicts.
	// Labels: agent, tool_name, decision (allow|ask|deny)
	ToolCallDecisions *prometheus.CounterVec

	// LLMRequestDuration measures provider call latency in seconds.
	// Labels: provider, model
	LLMRequestDuration *prometheus.HistogramVec

	// LLMTokensUsed tracks token consumption.
	// Labels: provider, model, type (input|output)
	LLMTokensUsed *prometheus.CounterVec

	// ProcessesSpawned counts tracked process starts.
	// Labels: agent, type (concurrent|background)
	ProcessesSpawned *prometheus.CounterVec

	// ProcessesExited counts tracked process terminations.
	// Labels: agent, status (exited|killed|timed_out)
	ProcessesExited *prometheus.CounterVec

	// HookFirings counts hook dispatch events.
	// Labels: event_type, action
	HookFirings *prometheus.CounterVec

	// OutboundChunkCount tracks how many chunks an outbound message split into.
	// Labels: channel
	OutboundChunkCount prometheus.Histogram
}

// NewMetrics registers and returns Chorus's metric set against the default
// Prometheus registry.
func NewMetrics() *Metrics {
	return &Metrics{
		MessagesRouted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chorus_messages_routed_total",
				Help: "Total chat messages routed by channel and direction",
			},
			[]string{"channel", "direction"},
		),
		BranchesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chorus_branches_total",
				Help: "Total execution branches by agent and outcome",
			},
			[]string{"agent", "outcome"},
		),
		ToolCallDecisions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chorus_tool_call_decisions_total",
				Help: "Total permission engine decisions by agent, tool, and decision",
			},
			[]string{"agent", "tool_name", "decision"},
		),
		LLMRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chorus_llm_request_duration_seconds",
				Help:    "Duration of LLM provider requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),
		LLMTokensUsed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chorus_llm_tokens_total",
				Help: "Total tokens used by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),
		ProcessesSpawned: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chorus_processes_spawned_total",
				Help: "Total tracked processes spawned by agent and type",
			},
			[]string{"agent", "type"},
		),
		ProcessesExited: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chorus_processes_exited_total",
				Help: "Total tracked processes exited by agent and status",
			},
			[]string{"agent", "status"},
		),
		HookFirings: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chorus_hook_firings_total",
				Help: "Total hook dispatches by event type and action",
			},
			[]string{"event_type", "action"},
		),
		OutboundChunkCount: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "chorus_outbound_chunk_count",
				Help:    "Number of chunks an outbound message was split into",
				Buckets: []float64{1, 2, 3, 4, 5, 10, 20},
			},
		),
	}
}
