package router

import (
	"context"
	"errors"
	"testing"

	"github.com/macroscope-ai/macroscope/config"
	"github.com/macroscope-ai/macroscope/internal/flowctx"
)

type stubLLM struct {
	reply string
	err   error
	calls int
	agent string
}

func (s *stubLLM) Generate(ctx context.Context, prompt, model string) (string, error) {
	s.calls++
	if f, ok := flowctx.From(ctx); ok {
		s.agent = f.AgentName
	}
	return s.reply, s.err
}

func (s *stubLLM) GenerateWithTokens(ctx context.Context, prompt, model string) (string, int64, int64, error) {
	text, err := s.Generate(ctx, prompt, model)
	return text, 0, 0, err
}

func (s *stubLLM) CalculateCost(in, out int64, model string) float64 { return 0 }

func testRouting() config.RoutingConfig {
	return config.RoutingConfig{}.Normalize()
}

func TestHeuristicHomeMarketRealEstate(t *testing.T) {
	r := New(testRouting(), nil, "", nil)
	d := r.Route(context.Background(), "지난 1년간 부동산 가격 추이가 어땠어?", Scope{})

	if d.RouteType != config.RouteRealEstateDetail {
		t.Fatalf("route = %s", d.RouteType)
	}
	if d.Country != "KR" {
		t.Fatalf("country = %s, want home market", d.Country)
	}
	if !d.SQLNeed {
		t.Fatalf("sql_need should be set")
	}
	if d.GraphNeed {
		t.Fatalf("graph_need should default off for detail lookups")
	}
	if !d.GraphEscalation {
		t.Fatalf("graph escalation flag lost")
	}
	if d.Classifier != "heuristic" {
		t.Fatalf("classifier = %s", d.Classifier)
	}
}

func TestExplicitScopeWins(t *testing.T) {
	r := New(testRouting(), nil, "", nil)
	d := r.Route(context.Background(), "housing market outlook", Scope{Country: "jp"})
	if d.Country != "JP" {
		t.Fatalf("country = %s, want explicit JP", d.Country)
	}
}

func TestUSStockRouteDefaultsForeign(t *testing.T) {
	r := New(testRouting(), nil, "", nil)
	d := r.Route(context.Background(), "nvidia earnings outlook on nasdaq", Scope{Symbol: "nvda"})
	if d.RouteType != config.RouteUSSingleStock {
		t.Fatalf("route = %s", d.RouteType)
	}
	if d.Country != "US" {
		t.Fatalf("country = %s", d.Country)
	}
	if d.Symbol != "NVDA" {
		t.Fatalf("symbol = %s", d.Symbol)
	}
	if len(d.Sections) != 4 {
		t.Fatalf("sections = %v", d.Sections)
	}
}

func TestInconclusiveEscalatesToClassifier(t *testing.T) {
	llm := &stubLLM{reply: `{"route_type":"macro_indicator"}`}
	r := New(testRouting(), llm, "classifier-model", nil)
	d := r.Route(context.Background(), "왜 다들 요즘 힘들다고 하지?", Scope{})

	if llm.calls != 1 {
		t.Fatalf("classifier calls = %d", llm.calls)
	}
	if llm.agent != "router_intent_classifier" {
		t.Fatalf("classifier agent = %q", llm.agent)
	}
	if d.RouteType != config.RouteMacroIndicator {
		t.Fatalf("route = %s", d.RouteType)
	}
	if d.Classifier != "llm" {
		t.Fatalf("classifier = %s", d.Classifier)
	}
}

func TestConclusiveHeuristicSkipsClassifier(t *testing.T) {
	llm := &stubLLM{reply: `{"route_type":"general"}`}
	r := New(testRouting(), llm, "classifier-model", nil)
	d := r.Route(context.Background(), "서울 아파트 전세 시세", Scope{})
	if llm.calls != 0 {
		t.Fatalf("classifier should not be consulted, calls = %d", llm.calls)
	}
	if d.RouteType != config.RouteRealEstateDetail {
		t.Fatalf("route = %s", d.RouteType)
	}
}

func TestClassifierErrorFallsBackToHeuristic(t *testing.T) {
	llm := &stubLLM{err: errors.New("upstream 500")}
	r := New(testRouting(), llm, "classifier-model", nil)
	d := r.Route(context.Background(), "ambiguous question", Scope{})
	if d.RouteType != config.RouteGeneral {
		t.Fatalf("route = %s, want heuristic fallback", d.RouteType)
	}
	if d.Classifier != "heuristic" {
		t.Fatalf("classifier = %s", d.Classifier)
	}
}

func TestUnknownClassifierRouteIgnored(t *testing.T) {
	llm := &stubLLM{reply: `{"route_type":"weather_forecast"}`}
	r := New(testRouting(), llm, "classifier-model", nil)
	d := r.Route(context.Background(), "something unclassifiable", Scope{})
	if d.RouteType != config.RouteGeneral {
		t.Fatalf("route = %s", d.RouteType)
	}
}

func TestHomeHintForcesHomeCountry(t *testing.T) {
	r := New(testRouting(), nil, "", nil)
	d := r.Route(context.Background(), "kospi 시황 마감 정리", Scope{})
	if d.Country != "KR" {
		t.Fatalf("country = %s", d.Country)
	}
}
