package pipeline

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/macroscope-ai/macroscope/config"
	"github.com/macroscope-ai/macroscope/internal/branch"
	"github.com/macroscope-ai/macroscope/internal/budget"
	"github.com/macroscope-ai/macroscope/internal/datactx"
	"github.com/macroscope-ai/macroscope/internal/flowctx"
	"github.com/macroscope-ai/macroscope/internal/history"
	"github.com/macroscope-ai/macroscope/internal/router"
	"github.com/macroscope-ai/macroscope/internal/synth"
)

type fakeExecutor struct {
	source branch.Source
	result branch.Result
	calls  int32
	runID  string
	block  time.Duration
}

func (f *fakeExecutor) Source() branch.Source { return f.source }

func (f *fakeExecutor) Execute(ctx context.Context, scope branch.Scope) (branch.Result, error) {
	atomic.AddInt32(&f.calls, 1)
	if fl, ok := flowctx.From(ctx); ok {
		f.runID = fl.RunID
	}
	if f.block > 0 {
		select {
		case <-time.After(f.block):
		case <-ctx.Done():
			return branch.Result{}, ctx.Err()
		}
	}
	res := f.result
	res.Source = f.source
	return res, nil
}

type stubLLM struct{ reply string }

func (s *stubLLM) Generate(ctx context.Context, prompt, model string) (string, error) {
	return s.reply, nil
}
func (s *stubLLM) GenerateWithTokens(ctx context.Context, prompt, model string) (string, int64, int64, error) {
	return s.reply, 100, 50, nil
}
func (s *stubLLM) CalculateCost(in, out int64, model string) float64 { return 0.001 }

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Branches.Timeout = 200 * time.Millisecond
	return cfg
}

func newTestPipeline(cfg *config.Config, execs ...branch.Executor) *Pipeline {
	llm := &stubLLM{reply: `{"text":"지난 12개월 데이터 기준으로 가격은 꾸준히 올랐습니다. 상승 추세입니다.","key_points":["상승"]}`}
	rt := router.New(cfg.Routing, nil, "", nil)
	builder := datactx.NewBuilder(cfg.Context)
	budgeter := datactx.NewBudgeter(cfg.Context)
	syn := synth.New(llm, cfg.LLM.SynthesisModel, builder.Humanizer(), nil)
	hist := history.NewMemoryStore(cfg.History)
	return New(cfg, rt, execs, builder, budgeter, syn, hist, nil, nil)
}

func sqlOK() branch.Result {
	return branch.Result{
		Status: branch.StatusOK,
		Table:  "apt_trade_kr",
		Rows: []branch.Row{
			{"region_cd": "11", "avg_price": 80000.0, "period": "2025-07"},
		},
		Filters:  map[string]string{"country": "KR"},
		Attempts: []string{"apt_trade_kr"},
	}
}

func TestNoGraphBranchWhenNotNeeded(t *testing.T) {
	sql := &fakeExecutor{source: branch.SourceSQL, result: sqlOK()}
	graph := &fakeExecutor{source: branch.SourceGraph, result: branch.Result{Status: branch.StatusOK}}
	web := &fakeExecutor{source: branch.SourceWeb, result: branch.Result{Status: branch.StatusOK}}
	p := newTestPipeline(testConfig(), sql, graph, web)

	// real_estate_detail routes sql_need=true graph_need=false
	ans, err := p.Answer(context.Background(), Question{Text: "서울 부동산 아파트 매매가 추이"})
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if sql.calls != 1 {
		t.Fatalf("sql calls = %d", sql.calls)
	}
	if graph.calls != 0 {
		t.Fatalf("graph invoked despite graph_need=false")
	}
	if web.calls != 0 {
		t.Fatalf("web invoked for a structured route")
	}
	if ans.Meta.RouteType != config.RouteRealEstateDetail {
		t.Fatalf("route = %s", ans.Meta.RouteType)
	}
}

func TestGraphEscalationOnEmptySQL(t *testing.T) {
	sql := &fakeExecutor{source: branch.SourceSQL, result: branch.Result{Status: branch.StatusEmpty, Attempts: []string{"apt_trade_kr", "apt_trade_global"}}}
	graph := &fakeExecutor{source: branch.SourceGraph, result: branch.Result{
		Status: branch.StatusOK,
		Passages: []branch.Passage{
			{NodeID: "kg-1", Text: "거래량이 줄었다", Timestamp: time.Now().UTC()},
		},
	}}
	p := newTestPipeline(testConfig(), sql, graph)

	_, err := p.Answer(context.Background(), Question{Text: "서울 부동산 시장 어때?"})
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if graph.calls != 1 {
		t.Fatalf("graph escalation did not run, calls = %d", graph.calls)
	}
}

func TestBranchTimeoutDegrades(t *testing.T) {
	sql := &fakeExecutor{source: branch.SourceSQL, result: sqlOK(), block: 5 * time.Second}
	p := newTestPipeline(testConfig(), sql)

	start := time.Now()
	ans, err := p.Answer(context.Background(), Question{Text: "부동산 가격"})
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatalf("pipeline blocked on a stuck branch")
	}
	// a degraded branch contributes no dataset but the answer still forms
	if len(ans.Meta.Datasets) != 0 {
		t.Fatalf("datasets = %v", ans.Meta.Datasets)
	}
}

func TestBranchesShareFlowRunID(t *testing.T) {
	sql := &fakeExecutor{source: branch.SourceSQL, result: sqlOK()}
	graph := &fakeExecutor{source: branch.SourceGraph, result: branch.Result{Status: branch.StatusOK}}
	p := newTestPipeline(testConfig(), sql, graph)

	// macro_indicator needs both branches
	ans, err := p.Answer(context.Background(), Question{Text: "한국 금리 전망"})
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if sql.runID == "" || sql.runID != graph.runID {
		t.Fatalf("branch run ids diverge: %q vs %q", sql.runID, graph.runID)
	}
	if ans.Meta.FlowRunID != sql.runID {
		t.Fatalf("answer flow id %q != branch flow id %q", ans.Meta.FlowRunID, sql.runID)
	}
}

func TestGeneralRouteUsesGraph(t *testing.T) {
	web := &fakeExecutor{source: branch.SourceWeb, result: branch.Result{Status: branch.StatusOK}}
	graph := &fakeExecutor{source: branch.SourceGraph, result: branch.Result{Status: branch.StatusOK}}
	p := newTestPipeline(testConfig(), web, graph)

	_, err := p.Answer(context.Background(), Question{Text: "요즘 세상이 어떻게 돌아가?"})
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if graph.calls != 1 {
		t.Fatalf("graph calls = %d", graph.calls)
	}
	if web.calls != 0 {
		t.Fatalf("web should stay idle while the graph branch serves the route")
	}
}

func TestWebFallbackWhenNoStructuredBranch(t *testing.T) {
	cfg := testConfig()
	// a route with no structured needs falls back to web retrieval
	cfg.Routing.Routes = []config.RouteConfig{{Type: config.RouteGeneral}}
	rebuilt := router.New(cfg.Routing, nil, "", nil)
	web := &fakeExecutor{source: branch.SourceWeb, result: branch.Result{
		Status:   branch.StatusOK,
		Passages: []branch.Passage{{Origin: "https://example.com", Text: "a snippet"}},
	}}
	p := newTestPipeline(cfg, web)
	p.router = rebuilt

	_, err := p.Answer(context.Background(), Question{Text: "anything at all"})
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if web.calls != 1 {
		t.Fatalf("web calls = %d", web.calls)
	}
}

func TestTimeBudgetAbortsBeforeSynthesis(t *testing.T) {
	cfg := testConfig()
	cfg.Budget.MaxTimeSeconds = 1
	cfg.Branches.Timeout = 2 * time.Second
	sql := &fakeExecutor{source: branch.SourceSQL, result: sqlOK(), block: 1100 * time.Millisecond}
	p := newTestPipeline(cfg, sql)

	_, err := p.Answer(context.Background(), Question{Text: "부동산 가격"})
	if err == nil {
		t.Fatal("expected time budget error")
	}
	var exceeded budget.ErrExceeded
	if !errors.As(err, &exceeded) || exceeded.Kind != "time" {
		t.Fatalf("err = %v, want time budget breach", err)
	}
}

func TestHistoryRoundTrip(t *testing.T) {
	sql := &fakeExecutor{source: branch.SourceSQL, result: sqlOK()}
	cfg := testConfig()
	p := newTestPipeline(cfg, sql)

	_, err := p.Answer(context.Background(), Question{Text: "부동산 가격", SessionID: "sess-1"})
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	turns, err := p.history.Recent(context.Background(), "sess-1", 0)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(turns) != 2 || turns[0].Role != "user" || turns[1].Role != "assistant" {
		t.Fatalf("history = %+v", turns)
	}
}
