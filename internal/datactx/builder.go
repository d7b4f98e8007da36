package datactx

import (
	"sort"
	"strings"
	"time"

	"github.com/macroscope-ai/macroscope/config"
	"github.com/macroscope-ai/macroscope/internal/branch"
)

// Builder turns the set of branch results into a Context. Building is
// deterministic: the same branch results always yield an identical Context,
// which regression runs depend on.
type Builder struct {
	cfg       config.ContextConfig
	humanizer *Humanizer
}

// NewBuilder creates a builder with the configured sampling and signal knobs.
func NewBuilder(cfg config.ContextConfig) *Builder {
	return &Builder{
		cfg:       cfg,
		humanizer: NewHumanizer(cfg.RegionNames, cfg.InternalPrefixes),
	}
}

// Humanizer exposes the identifier cleaner for the synthesizer's
// sanitization pass.
func (b *Builder) Humanizer() *Humanizer { return b.humanizer }

// sourceOrder fixes dataset ordering so merging is order-independent with
// respect to branch completion.
var sourceOrder = map[branch.Source]int{
	branch.SourceSQL:   0,
	branch.SourceGraph: 1,
	branch.SourceWeb:   2,
}

// Build merges branch results into one structured context. Error results
// contribute nothing; degraded results contribute with their partial data.
func (b *Builder) Build(question string, routeType, country string, results []branch.Result) *Context {
	ordered := make([]branch.Result, len(results))
	copy(ordered, results)
	sort.SliceStable(ordered, func(i, j int) bool {
		return sourceOrder[ordered[i].Source] < sourceOrder[ordered[j].Source]
	})

	ctx := &Context{
		Question:  question,
		RouteType: routeType,
		Country:   country,
	}

	var oldest time.Time
	for _, res := range ordered {
		switch {
		case res.Status == branch.StatusError:
			continue
		case len(res.Rows) > 0:
			ds := b.buildDataset(res)
			ctx.Datasets = append(ctx.Datasets, ds)
			if ts, ok := oldestRowTime(res.Rows); ok {
				oldest = earlier(oldest, ts)
			}
		case len(res.Passages) > 0:
			for _, p := range res.Passages {
				clean := b.humanizer.Passage(p)
				ctx.Passages = append(ctx.Passages, clean)
				if !p.Timestamp.IsZero() {
					oldest = earlier(oldest, p.Timestamp)
				}
			}
		}
	}
	ctx.OldestData = oldest
	ctx.SizeEstimate = len(ctx.Render())
	return ctx
}

func (b *Builder) buildDataset(res branch.Result) Dataset {
	name := res.Table
	if name == "" {
		name = string(res.Source)
	}
	ds := Dataset{
		Name:     name,
		Source:   res.Source,
		Filters:  res.Filters,
		RowCount: len(res.Rows),
	}

	// canonical lowercase column order, stable across driver casings
	colSet := map[string]struct{}{}
	for _, r := range res.Rows {
		for k := range r {
			colSet[strings.ToLower(k)] = struct{}{}
		}
	}
	for c := range colSet {
		ds.Columns = append(ds.Columns, c)
	}
	sort.Strings(ds.Columns)

	limit := b.cfg.MaxSampleRows
	for i, row := range res.Rows {
		if i >= limit {
			break
		}
		ds.SampleRows = append(ds.SampleRows, b.humanizer.Row(row))
	}

	ds.Signals = deriveSignals(res.Rows, b.cfg.TrendWindow, b.cfg.TrendFlatThreshold, b.cfg.Lookbacks)
	return ds
}

func oldestRowTime(rows []branch.Row) (time.Time, bool) {
	var oldest time.Time
	found := false
	for _, r := range rows {
		for _, col := range periodColumnHints {
			if ts, ok := r.Time(col); ok {
				if !found || ts.Before(oldest) {
					oldest = ts
					found = true
				}
				break
			}
		}
	}
	return oldest, found
}

func earlier(a, b time.Time) time.Time {
	if a.IsZero() {
		return b
	}
	if b.IsZero() || a.Before(b) {
		return a
	}
	return b
}
