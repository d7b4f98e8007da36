// Package datactx normalizes branch results into the structured data context
// fed to the synthesizer. Derived signals (trend, percentage change, event
// deltas) are computed once here so the synthesizer never re-derives numeric
// facts from raw rows.
package datactx

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/macroscope-ai/macroscope/internal/branch"
)

// Dataset is one named evidence set with the filters actually applied and a
// bounded sample of rows.
type Dataset struct {
	Name       string            `json:"name"`
	Source     branch.Source     `json:"source"`
	Filters    map[string]string `json:"filters,omitempty"`
	Columns    []string          `json:"columns,omitempty"`
	SampleRows []branch.Row      `json:"sample_rows,omitempty"`
	RowCount   int               `json:"row_count"`
	Signals    *Signals          `json:"signals,omitempty"`
}

// Context is the aggregation of all branch results for one question. It is
// derived deterministically from the set of branch results present at merge
// time and discarded after the answer is produced.
type Context struct {
	Question     string           `json:"question"`
	RouteType    string           `json:"route_type"`
	Country      string           `json:"country"`
	Datasets     []Dataset        `json:"datasets,omitempty"`
	Passages     []branch.Passage `json:"passages,omitempty"`
	OldestData   time.Time        `json:"oldest_data,omitempty"`
	SizeEstimate int              `json:"size_estimate"`
}

// DatasetNames returns dataset names in rendering order.
func (c *Context) DatasetNames() []string {
	names := make([]string, 0, len(c.Datasets))
	for _, d := range c.Datasets {
		names = append(names, d.Name)
	}
	return names
}

// MaxPeriods returns the largest period count observed across datasets.
func (c *Context) MaxPeriods() int {
	max := 0
	for _, d := range c.Datasets {
		if d.Signals != nil && d.Signals.Periods > max {
			max = d.Signals.Periods
		}
	}
	return max
}

// Trend returns the first dataset trend classification, if any.
func (c *Context) Trend() (Trend, int, bool) {
	for _, d := range c.Datasets {
		if d.Signals != nil && d.Signals.Trend != "" {
			return d.Signals.Trend, d.Signals.Periods, true
		}
	}
	return "", 0, false
}

// Render produces the deterministic textual form used for prompting and for
// size estimation. Identical contexts render byte-identically.
func (c *Context) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "question: %s\nroute: %s\ncountry: %s\n", c.Question, c.RouteType, c.Country)
	for _, d := range c.Datasets {
		fmt.Fprintf(&b, "\n[dataset %s source=%s rows=%d]\n", d.Name, d.Source, d.RowCount)
		if len(d.Filters) > 0 {
			b.WriteString("filters: " + renderKV(d.Filters) + "\n")
		}
		if len(d.Columns) > 0 {
			b.WriteString("columns: " + strings.Join(d.Columns, ", ") + "\n")
		}
		for _, row := range d.SampleRows {
			b.WriteString("row: " + renderRow(row, d.Columns) + "\n")
		}
		if d.Signals != nil {
			b.WriteString("signals: " + d.Signals.Render() + "\n")
		}
	}
	for _, p := range c.Passages {
		ts := ""
		if !p.Timestamp.IsZero() {
			ts = " " + p.Timestamp.Format("2006-01-02")
		}
		id := p.NodeID
		if id == "" {
			id = p.Origin
		}
		fmt.Fprintf(&b, "\n[passage %s%s] %s\n", id, ts, p.Text)
	}
	return b.String()
}

func renderKV(m map[string]string) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+m[k])
	}
	return strings.Join(parts, " ")
}

func renderRow(row branch.Row, columns []string) string {
	if len(columns) == 0 {
		for k := range row {
			columns = append(columns, k)
		}
		sort.Strings(columns)
	}
	parts := make([]string, 0, len(columns))
	for _, c := range columns {
		parts = append(parts, c+"="+row.String(c))
	}
	return strings.Join(parts, " ")
}
