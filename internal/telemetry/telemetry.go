// Package telemetry tracks flow, branch and LLM events plus the running
// cost of inference. Counters are mirrored into prometheus collectors for
// the /metrics endpoint.
package telemetry

import (
	"log"
	"sync"
	"time"

	"github.com/macroscope-ai/macroscope/config"
)

// Telemetry provides monitoring and cost tracking for the answer pipeline.
type Telemetry struct {
	config      config.TelemetryConfig
	logger      *log.Logger
	metrics     *Metrics
	costTracker *CostTracker
	mu          sync.RWMutex
}

// Metrics holds aggregate performance counters.
type Metrics struct {
	TotalQuestions      int64
	AnsweredQuestions   int64
	FailedQuestions     int64
	AverageLatency      time.Duration
	RouteCounts         map[string]int64
	BranchExecutions    map[string]int64
	BranchSuccessRates  map[string]float64
	BranchAverageTimes  map[string]time.Duration
	LLMRequests         map[string]int64
	LLMTokensUsed       map[string]int64
	TemplateEnforcement int64
	TrendInjections     int64
}

// CostTracker accumulates inference spend.
type CostTracker struct {
	ModelCosts  map[string]float64
	TotalCost   float64
	TotalTokens int64
}

// FlowEvent is one complete question flow.
type FlowEvent struct {
	FlowRunID     string
	RouteType     string
	Country       string
	Duration      time.Duration
	Success       bool
	Error         string
	Cost          float64
	TokensUsed    int64
	BranchesUsed  []string
	TemplateFixed bool
	TrendInjected bool
}

// BranchEvent is one branch execution within a flow.
type BranchEvent struct {
	FlowRunID string
	Branch    string
	Status    string
	Duration  time.Duration
	Attempts  int
}

// LLMEvent is one inference call.
type LLMEvent struct {
	FlowRunID  string
	Agent      string
	Model      string
	Duration   time.Duration
	Success    bool
	Cost       float64
	TokensUsed int64
}

// New creates a telemetry instance.
func New(cfg config.TelemetryConfig) *Telemetry {
	return &Telemetry{
		config: cfg,
		logger: log.New(log.Writer(), "[TELEMETRY] ", log.LstdFlags),
		metrics: &Metrics{
			RouteCounts:        make(map[string]int64),
			BranchExecutions:   make(map[string]int64),
			BranchSuccessRates: make(map[string]float64),
			BranchAverageTimes: make(map[string]time.Duration),
			LLMRequests:        make(map[string]int64),
			LLMTokensUsed:      make(map[string]int64),
		},
		costTracker: &CostTracker{ModelCosts: make(map[string]float64)},
	}
}

// RecordFlowEvent records a completed question flow.
func (t *Telemetry) RecordFlowEvent(event FlowEvent) {
	if !t.config.Enabled {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	t.metrics.TotalQuestions++
	if event.Success {
		t.metrics.AnsweredQuestions++
	} else {
		t.metrics.FailedQuestions++
	}
	if t.metrics.TotalQuestions == 1 {
		t.metrics.AverageLatency = event.Duration
	} else {
		total := t.metrics.AverageLatency * time.Duration(t.metrics.TotalQuestions-1)
		t.metrics.AverageLatency = (total + event.Duration) / time.Duration(t.metrics.TotalQuestions)
	}
	t.metrics.RouteCounts[event.RouteType]++
	if event.TemplateFixed {
		t.metrics.TemplateEnforcement++
	}
	if event.TrendInjected {
		t.metrics.TrendInjections++
	}
	t.costTracker.TotalCost += event.Cost
	t.costTracker.TotalTokens += event.TokensUsed

	questionsTotal.WithLabelValues(event.RouteType, statusLabel(event.Success)).Inc()
	flowDuration.WithLabelValues(event.RouteType).Observe(event.Duration.Seconds())

	t.logger.Printf("Flow Event: Run=%s, Route=%s, Success=%t, Duration=%v, Cost=$%.4f, Tokens=%d",
		event.FlowRunID, event.RouteType, event.Success, event.Duration, event.Cost, event.TokensUsed)
}

// RecordBranchEvent records one branch execution.
func (t *Telemetry) RecordBranchEvent(event BranchEvent) {
	if !t.config.Enabled {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	t.metrics.BranchExecutions[event.Branch]++
	executions := t.metrics.BranchExecutions[event.Branch]
	success := t.metrics.BranchSuccessRates[event.Branch] * float64(executions-1)
	if event.Status == "ok" {
		success += 1.0
	}
	t.metrics.BranchSuccessRates[event.Branch] = success / float64(executions)

	currentAvg := t.metrics.BranchAverageTimes[event.Branch]
	if executions == 1 {
		t.metrics.BranchAverageTimes[event.Branch] = event.Duration
	} else {
		total := currentAvg * time.Duration(executions-1)
		t.metrics.BranchAverageTimes[event.Branch] = (total + event.Duration) / time.Duration(executions)
	}

	branchDuration.WithLabelValues(event.Branch, event.Status).Observe(event.Duration.Seconds())

	t.logger.Printf("Branch Event: Run=%s, Branch=%s, Status=%s, Duration=%v, Attempts=%d",
		event.FlowRunID, event.Branch, event.Status, event.Duration, event.Attempts)
}

// RecordLLMEvent records one inference call.
func (t *Telemetry) RecordLLMEvent(event LLMEvent) {
	if !t.config.Enabled {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	t.metrics.LLMRequests[event.Model]++
	t.metrics.LLMTokensUsed[event.Model] += event.TokensUsed
	t.costTracker.ModelCosts[event.Model] += event.Cost

	llmTokens.WithLabelValues(event.Model, event.Agent).Add(float64(event.TokensUsed))

	t.logger.Printf("LLM Event: Run=%s, Agent=%s, Model=%s, Success=%t, Cost=$%.4f, Tokens=%d",
		event.FlowRunID, event.Agent, event.Model, event.Success, event.Cost, event.TokensUsed)
}

// GetMetrics returns a snapshot copy of the current metrics.
func (t *Telemetry) GetMetrics() Metrics {
	t.mu.RLock()
	defer t.mu.RUnlock()

	m := *t.metrics
	m.RouteCounts = copyMap(t.metrics.RouteCounts)
	m.BranchExecutions = copyMap(t.metrics.BranchExecutions)
	m.BranchSuccessRates = copyMap(t.metrics.BranchSuccessRates)
	m.BranchAverageTimes = copyMap(t.metrics.BranchAverageTimes)
	m.LLMRequests = copyMap(t.metrics.LLMRequests)
	m.LLMTokensUsed = copyMap(t.metrics.LLMTokensUsed)
	return m
}

// GetCosts returns a snapshot copy of the cost tracker.
func (t *Telemetry) GetCosts() CostTracker {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c := *t.costTracker
	c.ModelCosts = copyMap(t.costTracker.ModelCosts)
	return c
}

func copyMap[V any](in map[string]V) map[string]V {
	out := make(map[string]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func statusLabel(success bool) string {
	if success {
		return "ok"
	}
	return "error"
}
