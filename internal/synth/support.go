package synth

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/blevesearch/bleve"

	"github.com/macroscope-ai/macroscope/internal/datactx"
)

// supportIndex matches answer statements against the evidence that produced
// them. Datasets and graph passages are indexed into an in-memory BM25 index;
// a statement counts as supported when it overlaps one of them on tokens or
// on a literal number.
type supportIndex struct {
	index   bleve.Index
	docs    map[string]Citation
	numbers map[string][]string // literal number -> doc ids carrying it
}

type evidenceDoc struct {
	Text string `json:"text"`
}

var numberPattern = regexp.MustCompile(`\d+(?:[.,]\d+)*`)

func newSupportIndex(dc *datactx.Context) (*supportIndex, error) {
	index, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("support index: %w", err)
	}
	s := &supportIndex{
		index:   index,
		docs:    make(map[string]Citation),
		numbers: make(map[string][]string),
	}

	for _, ds := range dc.Datasets {
		var b strings.Builder
		b.WriteString(ds.Name)
		for k, v := range ds.Filters {
			b.WriteString(" " + k + " " + v)
		}
		for _, row := range ds.SampleRows {
			for _, col := range ds.Columns {
				b.WriteString(" " + row.String(col))
			}
		}
		if ds.Signals != nil {
			b.WriteString(" " + ds.Signals.Render())
		}
		id := "dataset:" + ds.Name
		if err := s.add(id, b.String(), Citation{Kind: "dataset", Dataset: ds.Name, Filters: ds.Filters}); err != nil {
			return nil, err
		}
	}
	for _, p := range dc.Passages {
		if p.NodeID == "" {
			continue
		}
		id := "graph:" + p.NodeID
		if err := s.add(id, p.Title+" "+p.Text, Citation{Kind: "graph", NodeID: p.NodeID, Origin: p.Origin}); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *supportIndex) add(id, text string, cit Citation) error {
	s.docs[id] = cit
	for _, num := range numberPattern.FindAllString(text, -1) {
		key := canonicalNumber(num)
		s.numbers[key] = append(s.numbers[key], id)
	}
	return s.index.Index(id, evidenceDoc{Text: text})
}

// lookup classifies one statement. A hit returns the best-matching citation.
func (s *supportIndex) lookup(statement string) (Citation, bool) {
	// literal number overlap is the strongest signal for financial claims
	for _, num := range numberPattern.FindAllString(statement, -1) {
		if ids, ok := s.numbers[canonicalNumber(num)]; ok && len(ids) > 0 {
			return s.docs[ids[0]], true
		}
	}

	tokens := queryTokens(statement)
	if len(tokens) == 0 {
		return Citation{}, false
	}
	query := bleve.NewQueryStringQuery(strings.Join(tokens, " "))
	searchReq := bleve.NewSearchRequestOptions(query, 1, 0, false)
	res, err := s.index.Search(searchReq)
	if err != nil || len(res.Hits) == 0 {
		return Citation{}, false
	}
	return s.docs[res.Hits[0].ID], true
}

// queryTokens strips punctuation and short noise words so the token list is
// safe as a query string.
func queryTokens(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return false
		case r >= 0xAC00 && r <= 0xD7A3: // hangul syllables
			return false
		default:
			return true
		}
	})
	var out []string
	for _, f := range fields {
		if len(f) >= 2 {
			out = append(out, f)
		}
	}
	return out
}

func canonicalNumber(s string) string {
	return strings.ReplaceAll(s, ",", "")
}
