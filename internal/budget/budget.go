// Package budget bounds one question's run: inference spend, token usage
// and wall-clock time. Zero values disable a limit.
package budget

import (
	"fmt"
	"sync"
	"time"

	"github.com/macroscope-ai/macroscope/config"
)

// ErrExceeded is returned when usage surpasses a configured limit.
type ErrExceeded struct {
	Kind  string
	Usage string
	Limit string
}

func (e ErrExceeded) Error() string {
	return fmt.Sprintf("budget %s exceeded: usage=%s limit=%s", e.Kind, e.Usage, e.Limit)
}

// Monitor tracks actual usage against limits during one run.
type Monitor struct {
	cfg        config.BudgetConfig
	costUsed   float64
	tokensUsed int64
	startTime  time.Time
	mu         sync.Mutex
}

// NewMonitor starts tracking usage against cfg.
func NewMonitor(cfg config.BudgetConfig) *Monitor {
	return &Monitor{cfg: cfg, startTime: time.Now()}
}

// Add records incremental cost and tokens, returning ErrExceeded when a
// limit is breached.
func (m *Monitor) Add(cost float64, tokens int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.costUsed += cost
	m.tokensUsed += tokens
	if m.cfg.MaxCost > 0 && m.costUsed > m.cfg.MaxCost {
		return ErrExceeded{
			Kind:  "cost",
			Usage: fmt.Sprintf("$%.4f", m.costUsed),
			Limit: fmt.Sprintf("$%.4f", m.cfg.MaxCost),
		}
	}
	if m.cfg.MaxTokens > 0 && m.tokensUsed > m.cfg.MaxTokens {
		return ErrExceeded{
			Kind:  "tokens",
			Usage: fmt.Sprintf("%d tokens", m.tokensUsed),
			Limit: fmt.Sprintf("%d tokens", m.cfg.MaxTokens),
		}
	}
	return nil
}

// CheckTime verifies elapsed time against the configured limit.
func (m *Monitor) CheckTime() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cfg.MaxTimeSeconds <= 0 {
		return nil
	}
	elapsed := time.Since(m.startTime)
	limit := time.Duration(m.cfg.MaxTimeSeconds) * time.Second
	if elapsed > limit {
		return ErrExceeded{Kind: "time", Usage: elapsed.String(), Limit: limit.String()}
	}
	return nil
}

// Usage returns the accumulated metrics.
func (m *Monitor) Usage() (cost float64, tokens int64, elapsed time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.costUsed, m.tokensUsed, time.Since(m.startTime)
}
