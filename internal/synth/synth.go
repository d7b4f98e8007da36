// Package synth produces the final grounded answer. One LLM call runs as the
// terminal agent of the flow; everything after it is deterministic
// post-processing: section enforcement, statement support classification,
// trend injection and sanitization.
package synth

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"regexp"
	"strings"

	"github.com/macroscope-ai/macroscope/internal/datactx"
	"github.com/macroscope-ai/macroscope/internal/flowctx"
	"github.com/macroscope-ai/macroscope/internal/router"
	"github.com/macroscope-ai/macroscope/provider"
)

// Turn is one prior exchange of the conversation.
type Turn struct {
	Role    string `json:"role"` // user | assistant
	Content string `json:"content"`
}

// Request bundles everything the synthesizer needs for one answer.
type Request struct {
	Question string
	Decision router.Decision
	Context  *datactx.Context
	History  []Turn
}

// Synthesizer merges the structured context and history into an
// AnswerResponse through a single LLM call.
type Synthesizer struct {
	llm       provider.Provider
	model     string
	humanizer *datactx.Humanizer
	logger    *log.Logger
}

// New creates a synthesizer. humanizer may be nil when no code mapping is
// configured.
func New(llm provider.Provider, model string, humanizer *datactx.Humanizer, logger *log.Logger) *Synthesizer {
	if logger == nil {
		logger = log.New(log.Writer(), "[SYNTH] ", log.LstdFlags)
	}
	return &Synthesizer{llm: llm, model: model, humanizer: humanizer, logger: logger}
}

// Synthesize produces the final answer. Any LLM failure is terminal: the
// caller surfaces it without retrying.
func (s *Synthesizer) Synthesize(ctx context.Context, req Request) (*AnswerResponse, error) {
	parent, hasParent := flowctx.From(ctx)
	ctx, flow := flowctx.WithAgent(ctx, "supervisor_synthesizer")
	if !hasParent || parent.Done() {
		defer flow.Finish()
	}

	prompt := s.buildPrompt(req)
	raw, inTok, outTok, err := s.llm.GenerateWithTokens(ctx, prompt, s.model)
	if err != nil {
		return nil, &Error{Stage: "llm", Err: err}
	}

	text, keyPoints := parseModelOutput(raw)
	if text == "" {
		return nil, &Error{Stage: "parse", Err: fmt.Errorf("model returned no answer text")}
	}

	ans := &AnswerResponse{
		KeyPoints:      keyPoints,
		RawModelOutput: raw,
		Meta: Meta{
			RouteType:        req.Decision.RouteType,
			Country:          req.Decision.Country,
			FlowRunID:        flow.RunID,
			Model:            s.model,
			Datasets:         req.Context.DatasetNames(),
			OldestData:       req.Context.OldestData,
			ContextSize:      req.Context.SizeEstimate,
			PromptTokens:     inTok,
			CompletionTokens: outTok,
			Cost:             s.llm.CalculateCost(inTok, outTok, s.model),
		},
	}

	text = s.enforceSections(text, req.Decision.Sections, req.Context, ans)
	text = s.injectTrend(text, req.Decision.MinTrendPeriods, req.Context, ans)
	s.classifySupport(text, req.Context, ans)

	if s.humanizer != nil {
		text = s.humanizer.Text(text)
		for i := range ans.KeyPoints {
			ans.KeyPoints[i] = s.humanizer.Text(ans.KeyPoints[i])
		}
	}
	ans.Text = text
	return ans, nil
}

func (s *Synthesizer) buildPrompt(req Request) string {
	var b strings.Builder
	b.WriteString(`You are a financial research assistant. Answer the question using ONLY the evidence context below. Cite concrete figures from the datasets; do not invent numbers.

RESPONSE FORMAT:
Respond ONLY with valid JSON in the following format:
{
  "text": "the full answer",
  "key_points": ["array", "of", "short", "takeaways"]
}
Do not include any other text or explanation.
`)
	if len(req.Decision.Sections) > 0 {
		fmt.Fprintf(&b, "\nThe answer text MUST contain these section labels, in order: %s\n",
			strings.Join(req.Decision.Sections, ", "))
	}
	if len(req.History) > 0 {
		b.WriteString("\nCONVERSATION HISTORY:\n")
		for _, t := range req.History {
			fmt.Fprintf(&b, "%s: %s\n", t.Role, t.Content)
		}
	}
	b.WriteString("\nEVIDENCE CONTEXT:\n")
	b.WriteString(req.Context.Render())
	b.WriteString("\nQUESTION: " + req.Question + "\n")
	return b.String()
}

// parseModelOutput tolerates fenced JSON and plain-text fallbacks.
func parseModelOutput(raw string) (string, []string) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	var out struct {
		Text      string   `json:"text"`
		KeyPoints []string `json:"key_points"`
	}
	if err := json.Unmarshal([]byte(cleaned), &out); err == nil && out.Text != "" {
		return out.Text, out.KeyPoints
	}
	// a non-JSON reply still carries the answer
	return cleaned, nil
}

// enforceSections guarantees every mandated section label appears. Omitted
// sections get a best-effort fallback sentence from the data context and are
// recorded on the answer.
func (s *Synthesizer) enforceSections(text string, sections []string, dc *datactx.Context, ans *AnswerResponse) string {
	if len(sections) == 0 {
		return text
	}
	ans.TemplateEnforced = true
	for _, label := range sections {
		if strings.Contains(text, label) {
			continue
		}
		ans.MissingSections = append(ans.MissingSections, label)
		text += "\n\n" + label + ": " + s.fallbackSentence(label, dc)
	}
	return text
}

func (s *Synthesizer) fallbackSentence(label string, dc *datactx.Context) string {
	names := dc.DatasetNames()
	if len(names) == 0 {
		return "확보된 데이터가 없어 이 항목은 제공할 수 없습니다."
	}
	return fmt.Sprintf("이 항목에 대한 상세 분석은 확보되지 않았습니다. 참고 데이터: %s.", strings.Join(names, ", "))
}

var koreanTrendWords = []string{"상승", "하락", "보합", "증가", "감소", "추세"}

// word-bounded so "flat" does not match inside "inflation"
var englishTrendWords = regexp.MustCompile(`(?i)\b(rising|falling|flat|upward|downward|trend)\b`)

var trendKorean = map[datactx.Trend]string{
	datactx.TrendRising:  "상승",
	datactx.TrendFalling: "하락",
	datactx.TrendFlat:    "보합",
}

// injectTrend appends a templated trend sentence when the data spans enough
// periods but the model text never states a direction.
func (s *Synthesizer) injectTrend(text string, minPeriods int, dc *datactx.Context, ans *AnswerResponse) string {
	if minPeriods <= 0 {
		return text
	}
	trend, periods, ok := dc.Trend()
	if !ok || periods < minPeriods {
		return text
	}
	for _, w := range koreanTrendWords {
		if strings.Contains(text, w) {
			return text
		}
	}
	if englishTrendWords.MatchString(text) {
		return text
	}
	ans.TrendInjected = true
	return text + fmt.Sprintf("\n\n최근 %d개 구간 기준으로 데이터는 %s 추세를 보이고 있습니다.", periods, trendKorean[trend])
}

// classifySupport tags each substantive statement as supported or not.
// Unsupported claims are flagged on the answer, never deleted.
func (s *Synthesizer) classifySupport(text string, dc *datactx.Context, ans *AnswerResponse) {
	idx, err := newSupportIndex(dc)
	if err != nil {
		s.logger.Printf("support index unavailable, skipping classification: %v", err)
		return
	}

	seen := make(map[string]bool)
	cite := func(c Citation) {
		key := c.Kind + "/" + c.Dataset + "/" + c.NodeID
		if !seen[key] {
			seen[key] = true
			ans.Citations = append(ans.Citations, c)
		}
	}
	// every dataset that shaped the context is itself grounding
	for _, ds := range dc.Datasets {
		cite(Citation{Kind: "dataset", Dataset: ds.Name, Filters: ds.Filters})
	}

	for _, sentence := range splitSentences(text) {
		if !substantive(sentence) {
			continue
		}
		if c, ok := idx.lookup(sentence); ok {
			cite(c)
			continue
		}
		ans.Unsupported = append(ans.Unsupported, sentence)
	}
}

func splitSentences(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		start := 0
		for i := 0; i < len(line); i++ {
			if line[i] == '.' || line[i] == '!' || line[i] == '?' {
				if s := strings.TrimSpace(line[start : i+1]); s != "" {
					out = append(out, s)
				}
				start = i + 1
			}
		}
		if s := strings.TrimSpace(line[start:]); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// substantive filters out headers and connective fragments; only claims that
// carry a number or enough content words are classified.
func substantive(sentence string) bool {
	if strings.ContainsAny(sentence, "0123456789") {
		return true
	}
	return len(queryTokens(sentence)) >= 4
}
