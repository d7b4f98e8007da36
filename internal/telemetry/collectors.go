package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	questionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "macroscope_questions_total",
		Help: "Questions processed by route type and outcome",
	}, []string{"route", "status"})

	flowDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "macroscope_flow_duration_seconds",
		Help:    "End-to-end question latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})

	branchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "macroscope_branch_duration_seconds",
		Help:    "Branch execution latency by source and status",
		Buckets: prometheus.DefBuckets,
	}, []string{"branch", "status"})

	llmTokens = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "macroscope_llm_tokens_total",
		Help: "LLM tokens consumed by model and agent",
	}, []string{"model", "agent"})
)
