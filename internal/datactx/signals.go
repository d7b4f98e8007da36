package datactx

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/macroscope-ai/macroscope/internal/branch"
)

// Trend classifies the recent direction of a numeric series.
type Trend string

const (
	TrendRising  Trend = "rising"
	TrendFalling Trend = "falling"
	TrendFlat    Trend = "flat"
)

// Signals are higher-level numeric facts derived from raw rows before
// packaging, so claims can be grounded without re-deriving arithmetic.
type Signals struct {
	Trend       Trend              `json:"trend,omitempty"`
	TrendWindow int                `json:"trend_window,omitempty"`
	Periods     int                `json:"periods"`
	PctChange   map[string]float64 `json:"pct_change,omitempty"`
	EventDelta  *EventDelta        `json:"event_delta,omitempty"`
	ValueColumn string             `json:"value_column,omitempty"`
	Latest      float64            `json:"latest,omitempty"`
}

// EventDelta captures the before/after averages around a dated event.
type EventDelta struct {
	EventDate  time.Time `json:"event_date"`
	Before     float64   `json:"before"`
	After      float64   `json:"after"`
	ChangePct  float64   `json:"change_pct"`
	BeforeObs  int       `json:"before_obs"`
	AfterObs   int       `json:"after_obs"`
}

// Render gives the deterministic one-line form used in context rendering.
func (s *Signals) Render() string {
	parts := []string{fmt.Sprintf("periods=%d", s.Periods)}
	if s.Trend != "" {
		parts = append(parts, fmt.Sprintf("trend=%s(window=%d)", s.Trend, s.TrendWindow))
	}
	if s.ValueColumn != "" {
		parts = append(parts, fmt.Sprintf("latest %s=%.2f", s.ValueColumn, s.Latest))
	}
	keys := make([]string, 0, len(s.PctChange))
	for k := range s.PctChange {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("pct_%s=%+.2f%%", k, s.PctChange[k]))
	}
	if s.EventDelta != nil {
		parts = append(parts, fmt.Sprintf("event_%s=%+.2f%%",
			s.EventDelta.EventDate.Format("2006-01-02"), s.EventDelta.ChangePct))
	}
	return strings.Join(parts, " ")
}

var valueColumnHints = []string{"avg_price", "price", "close", "value", "rate", "index_value", "amount"}
var periodColumnHints = []string{"period", "month", "date", "traded_at", "observed_at", "ts"}

type observation struct {
	when  time.Time
	value float64
}

// deriveSignals computes trend, lookback percentage changes and the event
// delta for a row set. Rows without a usable value/period pairing yield nil.
func deriveSignals(rows []branch.Row, window int, flatThreshold float64, lookbacks []int) *Signals {
	if len(rows) == 0 {
		return nil
	}
	valueCol := pickColumn(rows[0], valueColumnHints, true)
	periodCol := pickColumn(rows[0], periodColumnHints, false)
	if valueCol == "" || periodCol == "" {
		return nil
	}

	var obs []observation
	for _, r := range rows {
		v, okV := r.Float(valueCol)
		ts, okT := r.Time(periodCol)
		if okV && okT {
			obs = append(obs, observation{when: ts, value: v})
		}
	}
	if len(obs) == 0 {
		return nil
	}
	sort.SliceStable(obs, func(i, j int) bool { return obs[i].when.Before(obs[j].when) })

	s := &Signals{
		Periods:     len(obs),
		ValueColumn: valueCol,
		Latest:      obs[len(obs)-1].value,
	}
	s.Trend, s.TrendWindow = classifyTrend(obs, window, flatThreshold)
	s.PctChange = lookbackChanges(obs, lookbacks)
	if ed := eventDelta(rows, obs); ed != nil {
		s.EventDelta = ed
	}
	return s
}

// classifyTrend compares the moving-average of the most recent window against
// the window before it.
func classifyTrend(obs []observation, window int, flatThreshold float64) (Trend, int) {
	if window <= 0 {
		window = 3
	}
	if len(obs) < 2*window {
		if len(obs) < 2 {
			return "", window
		}
		// short series: compare endpoints
		first, last := obs[0].value, obs[len(obs)-1].value
		return direction(first, last, flatThreshold), window
	}
	recent := mean(obs[len(obs)-window:])
	prior := mean(obs[len(obs)-2*window : len(obs)-window])
	return direction(prior, recent, flatThreshold), window
}

func direction(from, to, flatThreshold float64) Trend {
	if from == 0 {
		return TrendFlat
	}
	pct := (to - from) / from * 100
	switch {
	case pct > flatThreshold:
		return TrendRising
	case pct < -flatThreshold:
		return TrendFalling
	default:
		return TrendFlat
	}
}

func lookbackChanges(obs []observation, lookbacks []int) map[string]float64 {
	if len(obs) < 2 {
		return nil
	}
	latest := obs[len(obs)-1].value
	out := make(map[string]float64)
	for _, lb := range lookbacks {
		idx := len(obs) - 1 - lb
		if idx < 0 {
			if lb != len(obs) {
				continue
			}
			// a lookback spanning the whole series measures against the
			// first observation
			idx = 0
		}
		base := obs[idx].value
		if base == 0 {
			continue
		}
		out[fmt.Sprintf("%dm", lb)] = (latest - base) / base * 100
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// eventDelta looks for an event_date column and averages observations before
// and after it.
func eventDelta(rows []branch.Row, obs []observation) *EventDelta {
	var event time.Time
	for _, r := range rows {
		if ts, ok := r.Time("event_date"); ok {
			event = ts
			break
		}
	}
	if event.IsZero() {
		return nil
	}
	var before, after []observation
	for _, o := range obs {
		if o.when.Before(event) {
			before = append(before, o)
		} else {
			after = append(after, o)
		}
	}
	if len(before) == 0 || len(after) == 0 {
		return nil
	}
	b, a := mean(before), mean(after)
	delta := &EventDelta{
		EventDate: event,
		Before:    b,
		After:     a,
		BeforeObs: len(before),
		AfterObs:  len(after),
	}
	if b != 0 {
		delta.ChangePct = (a - b) / b * 100
	}
	return delta
}

func mean(obs []observation) float64 {
	if len(obs) == 0 {
		return 0
	}
	sum := 0.0
	for _, o := range obs {
		sum += o.value
	}
	return sum / float64(len(obs))
}

// pickColumn finds the first hinted column present in the row; numeric
// requires the value to coerce to float.
func pickColumn(row branch.Row, hints []string, numeric bool) string {
	for _, h := range hints {
		if v, ok := row.Lookup(h); ok && v != nil {
			if numeric {
				if _, okF := row.Float(h); !okF {
					continue
				}
			}
			return h
		}
	}
	return ""
}
