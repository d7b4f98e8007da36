package datactx

import (
	"strings"

	"github.com/macroscope-ai/macroscope/internal/branch"
)

// Humanizer replaces internal administrative/document codes with readable
// names and strips internal-only identifier tokens. It runs before the
// context reaches the synthesizer so internal identifiers never leak into
// prompts or answers.
type Humanizer struct {
	regions  map[string]string
	prefixes []string
}

// NewHumanizer builds a humanizer from the configured region mapping and
// internal token prefixes (e.g. "adm_cd:", "doc_id:").
func NewHumanizer(regions map[string]string, prefixes []string) *Humanizer {
	return &Humanizer{regions: regions, prefixes: prefixes}
}

// regionColumns name code-bearing columns whose values are humanized.
var regionColumns = []string{"region_cd", "admin_cd", "sigungu_cd", "region_code"}

// Row returns a copy with region codes replaced by display names. The
// original row is not mutated.
func (h *Humanizer) Row(row branch.Row) branch.Row {
	out := make(branch.Row, len(row))
	for k, v := range row {
		out[k] = v
	}
	for _, col := range regionColumns {
		code := out.String(col)
		if code == "" {
			continue
		}
		if name, ok := h.regions[code]; ok {
			for k := range out {
				if strings.EqualFold(k, col) {
					out[k] = name
				}
			}
		}
	}
	return out
}

// Text strips internal identifier tokens from running text. Tokens are
// matched by prefix up to the next token boundary. Region codes are handled
// at the row level, where the column names them unambiguously.
func (h *Humanizer) Text(s string) string {
	if s == "" {
		return ""
	}
	for _, prefix := range h.prefixes {
		for {
			i := strings.Index(s, prefix)
			if i < 0 {
				break
			}
			end := i + len(prefix)
			for end < len(s) && !isTokenBoundary(s[end]) {
				end++
			}
			// swallow one trailing space so sentences stay tight
			if end < len(s) && s[end] == ' ' {
				end++
			}
			s = s[:i] + s[end:]
		}
	}
	return strings.TrimSpace(collapseSpaces(s))
}

// Passage returns a copy with internal tokens stripped from the text.
func (h *Humanizer) Passage(p branch.Passage) branch.Passage {
	p.Text = h.Text(p.Text)
	p.Title = h.Text(p.Title)
	return p
}

func isTokenBoundary(b byte) bool {
	switch b {
	case ' ', '\t', '\n', ',', ';', ')', ']':
		return true
	}
	return false
}

func collapseSpaces(s string) string {
	for strings.Contains(s, "  ") {
		s = strings.ReplaceAll(s, "  ", " ")
	}
	return s
}
