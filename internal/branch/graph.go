package branch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/macroscope-ai/macroscope/config"
)

// GraphExecutor retrieves passages from the knowledge-graph store over HTTP.
// Store timestamps arrive either as ISO strings (possibly with nanosecond
// precision) or as native temporal objects; both are normalized to a single
// UTC representation before recency is computed downstream.
type GraphExecutor struct {
	cfg        config.GraphBranchConfig
	httpClient *http.Client
	logger     *log.Logger
}

type graphRequest struct {
	Query   string `json:"query"`
	Country string `json:"country,omitempty"`
	Symbol  string `json:"symbol,omitempty"`
	Limit   int    `json:"limit"`
}

type graphResponse struct {
	Passages []struct {
		ID        string      `json:"id"`
		Title     string      `json:"title"`
		Text      string      `json:"text"`
		Source    string      `json:"source"`
		Timestamp interface{} `json:"timestamp"`
	} `json:"passages"`
}

// NewGraphExecutor creates a graph retriever against the configured endpoint.
func NewGraphExecutor(cfg config.GraphBranchConfig, logger *log.Logger) *GraphExecutor {
	if logger == nil {
		logger = log.New(log.Writer(), "[GRAPH] ", log.LstdFlags)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &GraphExecutor{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

func (e *GraphExecutor) Source() Source { return SourceGraph }

func (e *GraphExecutor) Execute(ctx context.Context, scope Scope) (Result, error) {
	start := time.Now()
	res := Result{Source: SourceGraph, Status: StatusEmpty}
	res.Attempts = append(res.Attempts, "graph:"+strings.TrimSuffix(e.cfg.BaseURL, "/"))

	body, err := json.Marshal(graphRequest{
		Query:   scope.Question,
		Country: scope.Country,
		Symbol:  scope.Symbol,
		Limit:   e.cfg.Limit,
	})
	if err != nil {
		return res, &Error{Branch: SourceGraph, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimSuffix(e.cfg.BaseURL, "/")+"/retrieve", bytes.NewReader(body))
	if err != nil {
		return res, &Error{Branch: SourceGraph, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if e.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		res.Status = StatusError
		res.Err = err.Error()
		res.Elapsed = time.Since(start)
		return res, &Error{Branch: SourceGraph, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("graph store returned status %d", resp.StatusCode)
		res.Status = StatusError
		res.Err = err.Error()
		res.Elapsed = time.Since(start)
		return res, &Error{Branch: SourceGraph, Err: err}
	}

	var parsed graphResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		res.Status = StatusError
		res.Err = err.Error()
		res.Elapsed = time.Since(start)
		return res, &Error{Branch: SourceGraph, Err: err}
	}

	for _, p := range parsed.Passages {
		passage := Passage{NodeID: p.ID, Title: p.Title, Text: p.Text, Origin: p.Source}
		if p.Timestamp != nil {
			ts, err := NormalizeTimestamp(p.Timestamp)
			if err != nil {
				e.logger.Printf("node %s timestamp dropped: %v", p.ID, err)
			} else {
				passage.Timestamp = ts
			}
		}
		res.Passages = append(res.Passages, passage)
	}
	if len(res.Passages) > 0 {
		res.Status = StatusOK
	}
	res.Filters = map[string]string{"country": scope.Country, "symbol": scope.Symbol}
	res.Elapsed = time.Since(start)
	return res, nil
}

var _ Executor = (*GraphExecutor)(nil)
