// Package branch contains the pluggable evidence executors: live SQL
// analytics, knowledge-graph retrieval and web-search fallback. Every
// executor presents the same contract and produces one Result per question.
package branch

import (
	"context"
	"fmt"
	"time"
)

// Source tags which evidence subsystem produced a result.
type Source string

const (
	SourceSQL   Source = "sql"
	SourceGraph Source = "graph"
	SourceWeb   Source = "web"
)

// Status classifies a branch outcome. Degraded means a best-effort result was
// produced with missing filters; Error is reserved for exceptions from the
// underlying store.
type Status string

const (
	StatusOK       Status = "ok"
	StatusEmpty    Status = "empty"
	StatusDegraded Status = "degraded"
	StatusError    Status = "error"
)

// Scope is the resolved question scope an executor operates on.
type Scope struct {
	Country   string
	Symbol    string
	RouteType string
	Question  string
}

// Passage is a retrieved text fragment (graph node or web snippet) with a
// normalized UTC timestamp.
type Passage struct {
	NodeID    string    `json:"node_id,omitempty"`
	Title     string    `json:"title,omitempty"`
	Text      string    `json:"text"`
	Origin    string    `json:"origin,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// Result is the uniform outcome of one branch execution. Attempts records
// every target tried (including failed ones) for diagnosing fallback chains.
type Result struct {
	Source   Source            `json:"source"`
	Status   Status            `json:"status"`
	Table    string            `json:"table,omitempty"` // winning SQL template
	Rows     []Row             `json:"rows,omitempty"`
	Passages []Passage         `json:"passages,omitempty"`
	Filters  map[string]string `json:"filters,omitempty"`
	Attempts []string          `json:"attempts,omitempty"`
	Err      string            `json:"error,omitempty"`
	Elapsed  time.Duration     `json:"elapsed,omitempty"`
}

// Executor is the uniform branch contract.
type Executor interface {
	Source() Source
	Execute(ctx context.Context, scope Scope) (Result, error)
}

// Error wraps an underlying store exception. The pipeline recovers it locally
// by demoting the branch to degraded rather than aborting the question.
type Error struct {
	Branch Source
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s branch: %v", e.Branch, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
