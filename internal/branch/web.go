package branch

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/macroscope-ai/macroscope/config"
)

const defaultSearchURL = "https://google.serper.dev/search"

// WebExecutor is the web-search fallback branch. It never runs first: the
// router selects it only when structured evidence is unlikely to answer.
type WebExecutor struct {
	cfg        config.WebBranchConfig
	httpClient *http.Client
	logger     *log.Logger
}

// NewWebExecutor creates a web search branch against a serper-style API.
func NewWebExecutor(cfg config.WebBranchConfig, logger *log.Logger) *WebExecutor {
	if logger == nil {
		logger = log.New(log.Writer(), "[WEB] ", log.LstdFlags)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebExecutor{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

func (e *WebExecutor) Source() Source { return SourceWeb }

func (e *WebExecutor) Execute(ctx context.Context, scope Scope) (Result, error) {
	start := time.Now()
	res := Result{Source: SourceWeb, Status: StatusEmpty}

	endpoint := e.cfg.BaseURL
	if endpoint == "" {
		endpoint = defaultSearchURL
	}
	res.Attempts = append(res.Attempts, "web:"+endpoint)

	q := scope.Question
	if scope.Symbol != "" && !strings.Contains(strings.ToLower(q), strings.ToLower(scope.Symbol)) {
		q = scope.Symbol + " " + q
	}
	payload := map[string]any{"q": q, "num": e.cfg.MaxResults}
	body, _ := json.Marshal(payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(string(body)))
	if err != nil {
		return res, &Error{Branch: SourceWeb, Err: err}
	}
	req.Header.Set("X-API-KEY", e.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		res.Status = StatusError
		res.Err = err.Error()
		res.Elapsed = time.Since(start)
		return res, &Error{Branch: SourceWeb, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("search API returned status %d", resp.StatusCode)
		res.Status = StatusError
		res.Err = err.Error()
		res.Elapsed = time.Since(start)
		return res, &Error{Branch: SourceWeb, Err: err}
	}

	var raw map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		res.Status = StatusError
		res.Err = err.Error()
		res.Elapsed = time.Since(start)
		return res, &Error{Branch: SourceWeb, Err: err}
	}

	if items, ok := raw["organic"].([]any); ok {
		for i, it := range items {
			if i >= e.cfg.MaxResults {
				break
			}
			m, ok := it.(map[string]any)
			if !ok {
				continue
			}
			res.Passages = append(res.Passages, Passage{
				Title:  str(m["title"]),
				Text:   str(m["snippet"]),
				Origin: str(m["link"]),
			})
		}
	}
	if len(res.Passages) > 0 {
		res.Status = StatusOK
	}
	res.Elapsed = time.Since(start)
	return res, nil
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

var _ Executor = (*WebExecutor)(nil)
