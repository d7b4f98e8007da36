package synth

import "time"

// Citation references the evidence behind a claim: either a dataset lookup
// (table plus the filters that were applied) or a graph node.
type Citation struct {
	Kind    string            `json:"kind"` // dataset | graph
	Dataset string            `json:"dataset,omitempty"`
	Filters map[string]string `json:"filters,omitempty"`
	NodeID  string            `json:"node_id,omitempty"`
	Origin  string            `json:"origin,omitempty"`
}

// Meta carries the context the answer was produced under.
type Meta struct {
	RouteType        string    `json:"route_type"`
	Country          string    `json:"country"`
	FlowRunID        string    `json:"flow_run_id,omitempty"`
	Model            string    `json:"model"`
	Datasets         []string  `json:"datasets,omitempty"`
	OldestData       time.Time `json:"oldest_data,omitempty"`
	ContextSize      int       `json:"context_size"`
	PromptTokens     int64     `json:"prompt_tokens"`
	CompletionTokens int64     `json:"completion_tokens"`
	Cost             float64   `json:"cost"`
}

// AnswerResponse is the terminal artifact of one question. It is persisted
// to logs and never mutated afterwards.
type AnswerResponse struct {
	Text             string     `json:"text"`
	KeyPoints        []string   `json:"key_points,omitempty"`
	Citations        []Citation `json:"citations"`
	Unsupported      []string   `json:"unsupported_claims,omitempty"`
	MissingSections  []string   `json:"missing_sections,omitempty"`
	TemplateEnforced bool       `json:"template_enforced"`
	TrendInjected    bool       `json:"trend_injected,omitempty"`
	Meta             Meta       `json:"meta"`
	RawModelOutput   string     `json:"raw_model_output,omitempty"`
}

// Error is a terminal synthesis failure. The caller surfaces it as an error
// event or payload without retrying, so the LLM is not billed twice.
type Error struct {
	Stage string
	Err   error
}

func (e *Error) Error() string { return "synthesis " + e.Stage + ": " + e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }
