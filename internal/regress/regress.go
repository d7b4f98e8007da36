// Package regress replays a fixed question set through the pipeline and
// classifies failures. Cases run sequentially so evaluation stays
// deterministic and cost-bounded.
package regress

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/macroscope-ai/macroscope/config"
	"github.com/macroscope-ai/macroscope/internal/pipeline"
	"github.com/macroscope-ai/macroscope/internal/router"
	"github.com/macroscope-ai/macroscope/internal/synth"
)

// CaseState tracks the per-case state machine.
type CaseState string

const (
	StatePending   CaseState = "pending"
	StateExecuted  CaseState = "executed"
	StateEvaluated CaseState = "evaluated"
	StatePassed    CaseState = "passed"
	StateFailed    CaseState = "failed"
)

// FailureCategory names the first failing check.
type FailureCategory string

const (
	FailSchema    FailureCategory = "schema_mismatch"
	FailCitation  FailureCategory = "citation_missing"
	FailFreshness FailureCategory = "freshness_stale"
	FailScope     FailureCategory = "scope_violation"
	FailGuardrail FailureCategory = "guardrail_violation"
	FailEvaluator FailureCategory = "evaluator_error"
)

// GoldenCase is one read-only regression fixture.
type GoldenCase struct {
	ID               string       `json:"id"`
	Question         string       `json:"question"`
	Scope            router.Scope `json:"scope"`
	MinCitations     int          `json:"min_citations"`
	StalenessDays    int          `json:"staleness_days,omitempty"`
	ExpectCountry    string       `json:"expect_country,omitempty"`
	ExpectRoute      string       `json:"expect_route,omitempty"`
	RequiredPhrases  []string     `json:"required_phrases,omitempty"`
	ForbiddenPhrases []string     `json:"forbidden_phrases,omitempty"`
}

// CaseResult is the verdict for one case.
type CaseResult struct {
	ID        string          `json:"id"`
	State     CaseState       `json:"state"`
	Category  FailureCategory `json:"category,omitempty"`
	Message   string          `json:"message,omitempty"`
	Citations int             `json:"citations"`
	Elapsed   time.Duration   `json:"elapsed"`
}

// DebugEntry keeps enough of a failing case for triage.
type DebugEntry struct {
	CaseID    string          `json:"case_id"`
	Category  FailureCategory `json:"category"`
	Message   string          `json:"message"`
	Citations int             `json:"citations"`
}

// RunReport aggregates one harness run.
type RunReport struct {
	Total    int           `json:"total"`
	Passed   int           `json:"passed"`
	Failed   int           `json:"failed"`
	Results  []CaseResult  `json:"results"`
	Failures []DebugEntry  `json:"failures,omitempty"`
	Elapsed  time.Duration `json:"elapsed"`
}

// Answerer runs one question through the pipeline.
type Answerer interface {
	Answer(ctx context.Context, q pipeline.Question) (*synth.AnswerResponse, error)
}

// Runner executes golden cases against the pipeline.
type Runner struct {
	answerer Answerer
	cfg      config.RegressionConfig
	logger   *log.Logger
}

func NewRunner(answerer Answerer, cfg config.RegressionConfig, logger *log.Logger) *Runner {
	if logger == nil {
		logger = log.New(log.Writer(), "[REGRESS] ", log.LstdFlags)
	}
	return &Runner{answerer: answerer, cfg: cfg, logger: logger}
}

// LoadCases reads the golden-case fixture file.
func LoadCases(path string) ([]GoldenCase, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixtures: %w", err)
	}
	var cases []GoldenCase
	if err := json.Unmarshal(data, &cases); err != nil {
		return nil, fmt.Errorf("parse fixtures: %w", err)
	}
	for i, c := range cases {
		if c.ID == "" {
			return nil, fmt.Errorf("case %d has no id", i)
		}
		if c.Question == "" {
			return nil, fmt.Errorf("case %s has no question", c.ID)
		}
	}
	return cases, nil
}

// Run executes every case and aggregates the report. A failing case never
// aborts the run.
func (r *Runner) Run(ctx context.Context, cases []GoldenCase) RunReport {
	started := time.Now()
	report := RunReport{Total: len(cases)}

	for _, c := range cases {
		result := r.runCase(ctx, c)
		report.Results = append(report.Results, result)
		if result.State == StatePassed {
			report.Passed++
			continue
		}
		report.Failed++
		if len(report.Failures) < r.cfg.MaxDebugEntries {
			report.Failures = append(report.Failures, DebugEntry{
				CaseID:    c.ID,
				Category:  result.Category,
				Message:   result.Message,
				Citations: result.Citations,
			})
		}
		r.logger.Printf("case %s failed: %s: %s", c.ID, result.Category, result.Message)
	}
	report.Elapsed = time.Since(started)
	r.logger.Printf("run complete: %d/%d passed in %v", report.Passed, report.Total, report.Elapsed)
	return report
}

func (r *Runner) runCase(ctx context.Context, c GoldenCase) (result CaseResult) {
	result = CaseResult{ID: c.ID, State: StatePending}
	caseStart := time.Now()
	defer func() {
		result.Elapsed = time.Since(caseStart)
		if rec := recover(); rec != nil {
			result.State = StateFailed
			result.Category = FailEvaluator
			result.Message = fmt.Sprintf("panic: %v", rec)
		}
	}()

	ans, err := r.answerer.Answer(ctx, pipeline.Question{Text: c.Question, Scope: c.Scope})
	if err != nil {
		result.State = StateFailed
		result.Category = FailEvaluator
		result.Message = "execution: " + err.Error()
		return result
	}
	result.State = StateExecuted
	result.Citations = len(ans.Citations)

	category, message := r.evaluate(c, ans)
	result.State = StateEvaluated
	if category == "" {
		result.State = StatePassed
		return result
	}
	result.State = StateFailed
	result.Category = category
	result.Message = message
	return result
}

// evaluate applies the checks in fixed order; the first failure wins.
func (r *Runner) evaluate(c GoldenCase, ans *synth.AnswerResponse) (FailureCategory, string) {
	if err := validateAnswerShape(ans); err != nil {
		return FailSchema, err.Error()
	}

	if len(ans.Citations) < c.MinCitations {
		return FailCitation, fmt.Sprintf("citations %d < required %d", len(ans.Citations), c.MinCitations)
	}

	staleness := r.cfg.DefaultStaleness
	if c.StalenessDays > 0 {
		staleness = time.Duration(c.StalenessDays) * 24 * time.Hour
	}
	if !ans.Meta.OldestData.IsZero() && time.Since(ans.Meta.OldestData) > staleness {
		return FailFreshness, fmt.Sprintf("oldest data %s exceeds staleness bound %v",
			ans.Meta.OldestData.Format("2006-01-02"), staleness)
	}

	if c.ExpectCountry != "" && !strings.EqualFold(ans.Meta.Country, c.ExpectCountry) {
		return FailScope, fmt.Sprintf("resolved country %q, expected %q", ans.Meta.Country, c.ExpectCountry)
	}
	if c.ExpectRoute != "" && ans.Meta.RouteType != c.ExpectRoute {
		return FailScope, fmt.Sprintf("resolved route %q, expected %q", ans.Meta.RouteType, c.ExpectRoute)
	}

	for _, phrase := range c.RequiredPhrases {
		if !strings.Contains(ans.Text, phrase) {
			return FailGuardrail, fmt.Sprintf("required phrase %q missing", phrase)
		}
	}
	for _, phrase := range c.ForbiddenPhrases {
		if strings.Contains(ans.Text, phrase) {
			return FailGuardrail, fmt.Sprintf("forbidden phrase %q present", phrase)
		}
	}
	return "", ""
}
