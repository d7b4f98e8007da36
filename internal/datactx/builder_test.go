package datactx

import (
	"fmt"
	"testing"
	"time"

	"github.com/macroscope-ai/macroscope/config"
	"github.com/macroscope-ai/macroscope/internal/branch"
)

func testContextConfig() config.ContextConfig {
	return config.ContextConfig{}.Normalize()
}

func monthlyRows(n int, start float64, step float64) []branch.Row {
	rows := make([]branch.Row, 0, n)
	base := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		rows = append(rows, branch.Row{
			"region_cd": "11",
			"avg_price": start + step*float64(i),
			"period":    base.AddDate(0, i, 0).Format("2006-01"),
		})
	}
	return rows
}

func TestBuildDerivesTrendSignals(t *testing.T) {
	res := branch.Result{
		Source:  branch.SourceSQL,
		Status:  branch.StatusOK,
		Table:   "apt_trade_kr",
		Rows:    monthlyRows(12, 80000, 500),
		Filters: map[string]string{"country": "KR"},
	}
	b := NewBuilder(testContextConfig())
	ctx := b.Build("서울 부동산 가격 추이", "real_estate_detail", "KR", []branch.Result{res})

	if len(ctx.Datasets) != 1 {
		t.Fatalf("datasets = %d", len(ctx.Datasets))
	}
	ds := ctx.Datasets[0]
	if ds.Signals == nil {
		t.Fatalf("expected derived signals")
	}
	if ds.Signals.Trend != TrendRising {
		t.Fatalf("trend = %s, want rising", ds.Signals.Trend)
	}
	if ds.Signals.Periods != 12 {
		t.Fatalf("periods = %d, want 12", ds.Signals.Periods)
	}
	if _, ok := ds.Signals.PctChange["12m"]; !ok {
		t.Fatalf("expected 12m lookback, got %v", ds.Signals.PctChange)
	}
	// region code humanized in samples
	if got := ds.SampleRows[0].String("region_cd"); got != "Seoul" {
		t.Fatalf("region_cd = %q, want humanized name", got)
	}
}

func TestBuildIdempotentOverSameResults(t *testing.T) {
	results := []branch.Result{
		{
			Source: branch.SourceGraph, Status: branch.StatusOK,
			Passages: []branch.Passage{
				{NodeID: "n1", Text: "기준금리 동결", Timestamp: time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)},
			},
		},
		{
			Source: branch.SourceSQL, Status: branch.StatusOK, Table: "rates",
			Rows: monthlyRows(6, 3.0, 0.0), Filters: map[string]string{"country": "KR"},
		},
	}
	b := NewBuilder(testContextConfig())
	first := b.Build("q", "macro_indicator", "KR", results)
	second := b.Build("q", "macro_indicator", "KR", results)
	if first.Render() != second.Render() {
		t.Fatalf("building twice from the same results diverged")
	}
	// order of the input slice must not matter
	swapped := []branch.Result{results[1], results[0]}
	third := b.Build("q", "macro_indicator", "KR", swapped)
	if first.Render() != third.Render() {
		t.Fatalf("result ordering leaked into the context")
	}
}

func TestBuildSkipsErrorResults(t *testing.T) {
	results := []branch.Result{
		{Source: branch.SourceSQL, Status: branch.StatusError, Err: "boom"},
		{Source: branch.SourceWeb, Status: branch.StatusOK,
			Passages: []branch.Passage{{Text: "snippet", Origin: "https://example.com"}}},
	}
	ctx := NewBuilder(testContextConfig()).Build("q", "general", "KR", results)
	if len(ctx.Datasets) != 0 {
		t.Fatalf("error result produced a dataset")
	}
	if len(ctx.Passages) != 1 {
		t.Fatalf("passages = %d", len(ctx.Passages))
	}
}

func TestBuildTracksOldestData(t *testing.T) {
	old := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	results := []branch.Result{
		{Source: branch.SourceGraph, Status: branch.StatusOK,
			Passages: []branch.Passage{
				{NodeID: "a", Text: "x", Timestamp: time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)},
				{NodeID: "b", Text: "y", Timestamp: old},
			}},
	}
	ctx := NewBuilder(testContextConfig()).Build("q", "general", "KR", results)
	if !ctx.OldestData.Equal(old) {
		t.Fatalf("oldest = %v, want %v", ctx.OldestData, old)
	}
}

func TestLookbackSpansWholeSeries(t *testing.T) {
	// 12 observations climbing 80000 -> 85500
	s := deriveSignals(monthlyRows(12, 80000, 500), 3, 0.5, []int{1, 12, 13})
	if s == nil {
		t.Fatalf("expected signals")
	}
	// a lookback equal to the series length measures against the first
	// observation; anything longer is skipped
	got, ok := s.PctChange["12m"]
	if !ok {
		t.Fatalf("12m lookback missing: %v", s.PctChange)
	}
	want := (85500.0 - 80000.0) / 80000.0 * 100
	if fmt.Sprintf("%.4f", got) != fmt.Sprintf("%.4f", want) {
		t.Fatalf("12m change = %v, want %v", got, want)
	}
	if _, ok := s.PctChange["13m"]; ok {
		t.Fatalf("13m lookback should be skipped for a 12-period series")
	}
	if _, ok := s.PctChange["1m"]; !ok {
		t.Fatalf("1m lookback missing: %v", s.PctChange)
	}
}

func TestSignalsEventDelta(t *testing.T) {
	rows := monthlyRows(8, 100, 0)
	for i := range rows {
		rows[i]["event_date"] = "2024-11-01"
		if i >= 4 {
			rows[i]["avg_price"] = 110.0
		}
	}
	s := deriveSignals(rows, 3, 0.5, []int{1, 3})
	if s == nil || s.EventDelta == nil {
		t.Fatalf("expected event delta, got %+v", s)
	}
	if s.EventDelta.Before != 100 || s.EventDelta.After != 110 {
		t.Fatalf("before/after = %v/%v", s.EventDelta.Before, s.EventDelta.After)
	}
	if fmt.Sprintf("%.1f", s.EventDelta.ChangePct) != "10.0" {
		t.Fatalf("change pct = %v", s.EventDelta.ChangePct)
	}
}

func TestHumanizerStripsInternalTokens(t *testing.T) {
	h := NewHumanizer(map[string]string{"11": "Seoul"}, []string{"adm_cd:", "doc_id:"})
	in := "Prices rose in adm_cd:1168010100 area per doc_id:RPT-2291 filings."
	got := h.Text(in)
	if got != "Prices rose in area per filings." {
		t.Fatalf("Text() = %q", got)
	}
}
