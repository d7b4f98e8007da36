// Package pipeline orchestrates one question end to end: routing, parallel
// evidence branches, context building and budgeting, then synthesis. The
// flow context opened here is shared by every stage and torn down on all
// exit paths.
package pipeline

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/macroscope-ai/macroscope/config"
	"github.com/macroscope-ai/macroscope/internal/branch"
	"github.com/macroscope-ai/macroscope/internal/budget"
	"github.com/macroscope-ai/macroscope/internal/datactx"
	"github.com/macroscope-ai/macroscope/internal/flowctx"
	"github.com/macroscope-ai/macroscope/internal/history"
	"github.com/macroscope-ai/macroscope/internal/router"
	"github.com/macroscope-ai/macroscope/internal/synth"
	"github.com/macroscope-ai/macroscope/internal/telemetry"
)

var pipelineTracer trace.Tracer = otel.Tracer("macroscope/internal/pipeline")

// Question is one incoming request. Immutable once received.
type Question struct {
	Text      string       `json:"question"`
	Scope     router.Scope `json:"scope"`
	SessionID string       `json:"session_id,omitempty"`
}

// Pipeline wires the stages of the answer flow together.
type Pipeline struct {
	cfg       *config.Config
	router    *router.Router
	executors map[branch.Source]branch.Executor
	builder   *datactx.Builder
	budgeter  *datactx.Budgeter
	synth     *synth.Synthesizer
	history   history.Store
	telemetry *telemetry.Telemetry
	logger    *log.Logger
}

// New assembles a pipeline. history and telemetry may be nil.
func New(cfg *config.Config, rt *router.Router, executors []branch.Executor,
	builder *datactx.Builder, budgeter *datactx.Budgeter, syn *synth.Synthesizer,
	hist history.Store, tel *telemetry.Telemetry, logger *log.Logger) *Pipeline {
	if logger == nil {
		logger = log.New(log.Writer(), "[PIPELINE] ", log.LstdFlags)
	}
	byt := make(map[branch.Source]branch.Executor, len(executors))
	for _, e := range executors {
		byt[e.Source()] = e
	}
	return &Pipeline{
		cfg:       cfg,
		router:    rt,
		executors: byt,
		builder:   builder,
		budgeter:  budgeter,
		synth:     syn,
		history:   hist,
		telemetry: tel,
		logger:    logger,
	}
}

// Answer runs the full flow for one question.
func (p *Pipeline) Answer(ctx context.Context, q Question) (*synth.AnswerResponse, error) {
	flow, ok := flowctx.From(ctx)
	if !ok || flow.Done() {
		ctx, flow = flowctx.Start(ctx, "answer")
		defer flow.Finish()
	}
	ctx, span := pipelineTracer.Start(ctx, "pipeline.answer",
		trace.WithAttributes(attribute.String("flow.run_id", flow.RunID)))
	defer span.End()

	monitor := budget.NewMonitor(p.cfg.Budget)
	start := time.Now()

	ans, err := p.answer(ctx, q, monitor)

	cost, tokens, _ := monitor.Usage()
	if p.telemetry != nil {
		event := telemetry.FlowEvent{
			FlowRunID:  flow.RunID,
			Duration:   time.Since(start),
			Success:    err == nil,
			Cost:       cost,
			TokensUsed: tokens,
		}
		if err != nil {
			event.Error = err.Error()
		}
		if ans != nil {
			event.RouteType = ans.Meta.RouteType
			event.Country = ans.Meta.Country
			event.TemplateFixed = len(ans.MissingSections) > 0
			event.TrendInjected = ans.TrendInjected
		}
		p.telemetry.RecordFlowEvent(event)
	}
	return ans, err
}

func (p *Pipeline) answer(ctx context.Context, q Question, monitor *budget.Monitor) (*synth.AnswerResponse, error) {
	flow, _ := flowctx.From(ctx)

	var turns []history.Turn
	if p.history != nil && q.SessionID != "" {
		var err error
		turns, err = p.history.Recent(ctx, q.SessionID, p.cfg.History.MaxTurns)
		if err != nil {
			p.logger.Printf("history read failed, continuing without: %v", err)
		}
	}

	routeCtx, routeSpan := pipelineTracer.Start(ctx, "pipeline.route")
	decision := p.router.Route(routeCtx, q.Text, q.Scope)
	routeSpan.SetAttributes(
		attribute.String("route.type", decision.RouteType),
		attribute.String("route.country", decision.Country),
		attribute.String("route.classifier", decision.Classifier),
	)
	routeSpan.End()

	results := p.runBranches(ctx, q.Text, decision)

	if p.telemetry != nil {
		for _, res := range results {
			p.telemetry.RecordBranchEvent(telemetry.BranchEvent{
				FlowRunID: flow.RunID,
				Branch:    string(res.Source),
				Status:    string(res.Status),
				Duration:  res.Elapsed,
				Attempts:  len(res.Attempts),
			})
		}
	}

	dc := p.builder.Build(q.Text, decision.RouteType, decision.Country, results)
	dc = p.budgeter.Fit(dc)

	// do not pay for a synthesis call when the run is already out of time
	if err := monitor.CheckTime(); err != nil {
		return nil, err
	}

	ans, err := p.synth.Synthesize(ctx, synth.Request{
		Question: q.Text,
		Decision: decision,
		Context:  dc,
		History:  toSynthTurns(turns),
	})
	if err != nil {
		return nil, err
	}

	if budgetErr := monitor.Add(ans.Meta.Cost, ans.Meta.PromptTokens+ans.Meta.CompletionTokens); budgetErr != nil {
		// answer is already paid for; record the breach instead of dropping it
		p.logger.Printf("run over budget: %v", budgetErr)
	}
	if p.telemetry != nil {
		p.telemetry.RecordLLMEvent(telemetry.LLMEvent{
			FlowRunID:  flow.RunID,
			Agent:      "supervisor_synthesizer",
			Model:      ans.Meta.Model,
			Success:    true,
			Cost:       ans.Meta.Cost,
			TokensUsed: ans.Meta.PromptTokens + ans.Meta.CompletionTokens,
		})
	}

	if p.history != nil && q.SessionID != "" {
		now := time.Now().UTC()
		if err := p.history.Append(ctx, q.SessionID,
			history.Turn{Role: "user", Content: q.Text, At: now},
			history.Turn{Role: "assistant", Content: ans.Text, At: now},
		); err != nil {
			p.logger.Printf("history append failed: %v", err)
		}
	}
	return ans, nil
}

// runBranches executes every needed branch in parallel, each under its own
// timeout and agent frame. A timed-out branch contributes a degraded result
// instead of blocking the question.
func (p *Pipeline) runBranches(ctx context.Context, question string, decision router.Decision) []branch.Result {
	scope := branch.Scope{
		Country:   decision.Country,
		Symbol:    decision.Symbol,
		RouteType: decision.RouteType,
		Question:  question,
	}

	var sources []branch.Source
	if decision.SQLNeed {
		sources = append(sources, branch.SourceSQL)
	}
	if decision.GraphNeed {
		sources = append(sources, branch.SourceGraph)
	}
	if !decision.SQLNeed && !decision.GraphNeed {
		// nothing structured to query, fall back to web retrieval
		sources = append(sources, branch.SourceWeb)
	}

	results := p.execute(ctx, scope, sources)

	// conservative routes escalate to the graph only when SQL came back thin
	if decision.GraphEscalation && !decision.GraphNeed {
		if sql, ok := results[branch.SourceSQL]; ok && (sql.Status == branch.StatusEmpty || sql.Status == branch.StatusDegraded) {
			p.logger.Printf("sql branch %s, escalating to graph", sql.Status)
			escalated := p.execute(ctx, scope, []branch.Source{branch.SourceGraph})
			for k, v := range escalated {
				results[k] = v
			}
		}
	}

	out := make([]branch.Result, 0, len(results))
	for _, res := range results {
		out = append(out, res)
	}
	return out
}

func (p *Pipeline) execute(ctx context.Context, scope branch.Scope, sources []branch.Source) map[branch.Source]branch.Result {
	results := make(map[branch.Source]branch.Result, len(sources))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, src := range sources {
		exec, ok := p.executors[src]
		if !ok {
			p.logger.Printf("no executor registered for %s branch", src)
			continue
		}
		wg.Add(1)
		go func(src branch.Source, exec branch.Executor) {
			defer wg.Done()
			branchCtx, cancel := context.WithTimeout(ctx, p.cfg.Branches.Timeout)
			defer cancel()
			branchCtx, _ = flowctx.WithAgent(branchCtx, string(src)+"_branch")
			branchCtx, span := pipelineTracer.Start(branchCtx, "pipeline.branch."+string(src))
			defer span.End()

			started := time.Now()
			res, err := exec.Execute(branchCtx, scope)
			if err != nil {
				if errors.Is(branchCtx.Err(), context.DeadlineExceeded) {
					res = branch.Result{
						Source:  src,
						Status:  branch.StatusDegraded,
						Err:     "branch timeout",
						Elapsed: time.Since(started),
					}
					p.logger.Printf("%s branch timed out after %v", src, p.cfg.Branches.Timeout)
				} else if res.Source == "" {
					res = branch.Result{
						Source:  src,
						Status:  branch.StatusError,
						Err:     err.Error(),
						Elapsed: time.Since(started),
					}
				}
			}
			span.SetAttributes(
				attribute.String("branch.status", string(res.Status)),
				attribute.Int("branch.attempts", len(res.Attempts)),
			)
			mu.Lock()
			results[src] = res
			mu.Unlock()
		}(src, exec)
	}
	wg.Wait()
	return results
}

func toSynthTurns(in []history.Turn) []synth.Turn {
	out := make([]synth.Turn, len(in))
	for i, t := range in {
		out[i] = synth.Turn{Role: t.Role, Content: t.Content}
	}
	return out
}
