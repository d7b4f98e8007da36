package router

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/macroscope-ai/macroscope/config"
	"github.com/macroscope-ai/macroscope/internal/flowctx"
	"github.com/macroscope-ai/macroscope/provider"
)

// Decision is the routing verdict for one question. It is produced once and
// read-only downstream.
type Decision struct {
	RouteType       string   `json:"route_type"`
	Country         string   `json:"country"`
	Symbol          string   `json:"symbol,omitempty"`
	SQLNeed         bool     `json:"sql_need"`
	GraphNeed       bool     `json:"graph_need"`
	GraphEscalation bool     `json:"graph_escalation"`
	Sections        []string `json:"sections,omitempty"`
	MinTrendPeriods int      `json:"min_trend_periods,omitempty"`
	ToolMode        string   `json:"tool_mode,omitempty"`
	Classifier      string   `json:"classifier"` // heuristic | llm
}

// Scope is the caller-supplied explicit scope, both fields optional.
type Scope struct {
	Country string `json:"country,omitempty"`
	Symbol  string `json:"symbol,omitempty"`
}

// Router resolves a question to a route type and scope. Heuristics run
// first; the LLM classifier is consulted only when keyword scoring is
// inconclusive, and its failure falls back to the heuristic verdict.
type Router struct {
	cfg      config.RoutingConfig
	llm      provider.Provider
	model    string
	logger   *log.Logger
	byType   map[string]config.RouteConfig
	fallback config.RouteConfig
}

// New creates a router over the configured route table. llm may be nil, in
// which case escalation is skipped and the heuristic verdict stands.
func New(cfg config.RoutingConfig, llm provider.Provider, classifierModel string, logger *log.Logger) *Router {
	if logger == nil {
		logger = log.New(log.Writer(), "[ROUTER] ", log.LstdFlags)
	}
	r := &Router{
		cfg:    cfg,
		llm:    llm,
		model:  classifierModel,
		logger: logger,
		byType: make(map[string]config.RouteConfig, len(cfg.Routes)),
	}
	for _, rc := range cfg.Routes {
		r.byType[rc.Type] = rc
		if rc.Type == config.RouteGeneral {
			r.fallback = rc
		}
	}
	if r.fallback.Type == "" {
		r.fallback = config.RouteConfig{Type: config.RouteGeneral, GraphNeed: true}
	}
	return r
}

// Route classifies the question and resolves its scope.
func (r *Router) Route(ctx context.Context, question string, explicit Scope) Decision {
	route, conclusive := r.heuristic(question)
	classifier := "heuristic"

	if !conclusive && r.llm != nil {
		if llmRoute, err := r.classify(ctx, question); err != nil {
			r.logger.Printf("intent classifier failed, keeping heuristic route %q: %v", route.Type, err)
		} else if rc, ok := r.byType[llmRoute]; ok {
			route = rc
			classifier = "llm"
		} else {
			r.logger.Printf("classifier returned unknown route %q, keeping %q", llmRoute, route.Type)
		}
	}

	country := r.resolveCountry(question, route, explicit)
	return Decision{
		RouteType:       route.Type,
		Country:         country,
		Symbol:          strings.ToUpper(strings.TrimSpace(explicit.Symbol)),
		SQLNeed:         route.SQLNeed,
		GraphNeed:       route.GraphNeed,
		GraphEscalation: route.GraphEscalation,
		Sections:        route.Sections,
		MinTrendPeriods: route.MinTrendPeriods,
		ToolMode:        route.ToolMode,
		Classifier:      classifier,
	}
}

// heuristic scores every route by keyword hits. The verdict is conclusive
// when exactly one route leads with at least one hit.
func (r *Router) heuristic(question string) (config.RouteConfig, bool) {
	lower := strings.ToLower(question)

	type scored struct {
		route config.RouteConfig
		hits  int
	}
	var ranked []scored
	for _, rc := range r.cfg.Routes {
		hits := 0
		for _, kw := range rc.Keywords {
			if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
				hits++
			}
		}
		if hits > 0 {
			ranked = append(ranked, scored{route: rc, hits: hits})
		}
	}
	if len(ranked) == 0 {
		return r.fallback, false
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].hits > ranked[j].hits })
	if len(ranked) > 1 && ranked[0].hits == ranked[1].hits {
		// tie between route types, let the classifier break it
		return ranked[0].route, false
	}
	return ranked[0].route, true
}

// classify runs the LLM intent call as a nested sub-agent.
func (r *Router) classify(ctx context.Context, question string) (string, error) {
	// only finish the flow when this call opened it; inside a pipeline run
	// the entry point owns teardown
	parent, hasParent := flowctx.From(ctx)
	ctx, flow := flowctx.WithAgent(ctx, "router_intent_classifier")
	if !hasParent || parent.Done() {
		defer flow.Finish()
	}

	types := make([]string, 0, len(r.cfg.Routes))
	for _, rc := range r.cfg.Routes {
		types = append(types, rc.Type)
	}
	prompt := fmt.Sprintf(`You classify financial questions into exactly one route type.

ROUTE TYPES: %s

QUESTION: %s

Respond ONLY with valid JSON: {"route_type": "<one of the route types>"}
Do not include any other text.`, strings.Join(types, ", "), question)

	raw, err := r.llm.Generate(ctx, prompt, r.model)
	if err != nil {
		return "", fmt.Errorf("classifier call: %w", err)
	}
	var out struct {
		RouteType string `json:"route_type"`
	}
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	if err := json.Unmarshal([]byte(strings.TrimSpace(cleaned)), &out); err != nil {
		return "", fmt.Errorf("classifier response %q: %w", raw, err)
	}
	return out.RouteType, nil
}

// resolveCountry applies the scope defaulting policy. Explicit scope always
// wins; home hints in the question force the home market; otherwise the
// route's own default applies.
func (r *Router) resolveCountry(question string, route config.RouteConfig, explicit Scope) string {
	if c := strings.ToUpper(strings.TrimSpace(explicit.Country)); c != "" {
		return c
	}
	if route.HomeDefault {
		return r.cfg.HomeCountry
	}
	lower := strings.ToLower(question)
	for _, hint := range r.cfg.HomeHints {
		if hint != "" && strings.Contains(lower, strings.ToLower(hint)) {
			return r.cfg.HomeCountry
		}
	}
	if route.DefaultCountry != "" {
		return route.DefaultCountry
	}
	return r.cfg.HomeCountry
}
