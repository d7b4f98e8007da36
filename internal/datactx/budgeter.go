package datactx

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/macroscope-ai/macroscope/config"
	"github.com/macroscope-ai/macroscope/internal/branch"
)

// Budgeter trims an oversized context to fit the character budget through
// staged reduction: long-form narrative is dropped before numeric tables,
// sample rows are truncated next, and the remaining overflow is summarized by
// clipping passage texts. Citation-bearing fields (dataset names, filters,
// passage node ids) are never dropped. Trimming is deterministic: the same
// context and budget always produce byte-identical output.
type Budgeter struct {
	cfg config.ContextConfig
}

// NewBudgeter creates a budgeter with configured limits.
func NewBudgeter(cfg config.ContextConfig) *Budgeter {
	return &Budgeter{cfg: cfg}
}

// Fit returns a trimmed copy of the context within budget. The input is not
// mutated.
func (b *Budgeter) Fit(in *Context) *Context {
	out := cloneContext(in)

	// bound counts regardless of budget
	if len(out.Passages) > b.cfg.MaxPassages {
		out.Passages = out.Passages[:b.cfg.MaxPassages]
	}
	for i := range out.Datasets {
		if len(out.Datasets[i].SampleRows) > b.cfg.MaxSampleRows {
			out.Datasets[i].SampleRows = out.Datasets[i].SampleRows[:b.cfg.MaxSampleRows]
		}
	}
	if out.SizeEstimate = len(out.Render()); out.SizeEstimate <= b.cfg.MaxChars {
		return out
	}

	// stage 1: web narrative goes first, graph passages survive longer
	out.Passages = dropByOrigin(out.Passages, branchWebFirst)
	for len(out.Passages) > 2 && len(out.Render()) > b.cfg.MaxChars {
		out.Passages = out.Passages[:len(out.Passages)-1]
	}
	if out.SizeEstimate = len(out.Render()); out.SizeEstimate <= b.cfg.MaxChars {
		return out
	}

	// stage 2: truncate sample-row counts down to the floor
	for rows := b.cfg.MaxSampleRows - 1; rows >= b.cfg.MinSampleRows; rows-- {
		for i := range out.Datasets {
			if len(out.Datasets[i].SampleRows) > rows {
				out.Datasets[i].SampleRows = out.Datasets[i].SampleRows[:rows]
			}
		}
		if out.SizeEstimate = len(out.Render()); out.SizeEstimate <= b.cfg.MaxChars {
			return out
		}
	}

	// stage 3: summarize remaining overflow by clipping passage texts at
	// word boundaries; node ids and timestamps stay intact for citations
	for i := range out.Passages {
		out.Passages[i].Text = TruncateWords(out.Passages[i].Text, b.cfg.PassageCharLimit)
	}
	out.SizeEstimate = len(out.Render())
	return out
}

// branchWebFirst orders passages so web snippets sort after graph nodes and
// are therefore dropped first.
func branchWebFirst(p branch.Passage) int {
	if p.NodeID != "" {
		return 0
	}
	return 1
}

func dropByOrigin(passages []branch.Passage, rank func(branch.Passage) int) []branch.Passage {
	out := make([]branch.Passage, len(passages))
	copy(out, passages)
	// stable partition: graph-cited passages first, original order preserved
	var graph, web []branch.Passage
	for _, p := range out {
		if rank(p) == 0 {
			graph = append(graph, p)
		} else {
			web = append(web, p)
		}
	}
	return append(graph, web...)
}

// TruncateWords clips s to at most limit bytes without splitting a word.
func TruncateWords(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	cut := s[:limit]
	if idx := strings.LastIndexFunc(cut, unicode.IsSpace); idx > 0 {
		cut = cut[:idx]
	} else {
		// no word boundary in range: back up to a rune boundary so the
		// clip stays valid UTF-8
		for limit > 0 && !utf8.RuneStart(s[limit]) {
			limit--
		}
		cut = s[:limit]
	}
	return strings.TrimRightFunc(cut, unicode.IsSpace) + "…"
}

func cloneContext(in *Context) *Context {
	out := &Context{
		Question:   in.Question,
		RouteType:  in.RouteType,
		Country:    in.Country,
		OldestData: in.OldestData,
	}
	out.Datasets = make([]Dataset, len(in.Datasets))
	for i, d := range in.Datasets {
		nd := d
		nd.SampleRows = make([]branch.Row, len(d.SampleRows))
		copy(nd.SampleRows, d.SampleRows)
		out.Datasets[i] = nd
	}
	out.Passages = make([]branch.Passage, len(in.Passages))
	copy(out.Passages, in.Passages)
	out.SizeEstimate = in.SizeEstimate
	return out
}
