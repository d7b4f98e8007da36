package branch

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/macroscope-ai/macroscope/config"
)

func webConfig(url string, max int) config.WebBranchConfig {
	return config.WebBranchConfig{BaseURL: url, APIKey: "test-key", MaxResults: max}
}

func TestWebExecutorParsesOrganicResults(t *testing.T) {
	var gotKey, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-API-KEY")
		var payload map[string]any
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &payload)
		gotQuery, _ = payload["q"].(string)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"organic": []map[string]any{
				{"title": "NVDA earnings", "snippet": "revenue beat estimates", "link": "https://example.com/a"},
				{"title": "NVDA guidance", "snippet": "datacenter demand", "link": "https://example.com/b"},
				{"title": "extra", "snippet": "over the cap", "link": "https://example.com/c"},
			},
		})
	}))
	defer srv.Close()

	e := NewWebExecutor(webConfig(srv.URL, 2), log.New(io.Discard, "", 0))
	res, err := e.Execute(context.Background(), Scope{Question: "실적 어때", Symbol: "NVDA"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Status != StatusOK {
		t.Fatalf("status = %s", res.Status)
	}
	if len(res.Passages) != 2 {
		t.Fatalf("passages = %d, want max_results cap of 2", len(res.Passages))
	}
	if res.Passages[0].Origin != "https://example.com/a" || res.Passages[0].Text != "revenue beat estimates" {
		t.Fatalf("first passage = %+v", res.Passages[0])
	}
	if gotKey != "test-key" {
		t.Fatalf("api key header = %q", gotKey)
	}
	// symbol not present in the question gets prepended
	if gotQuery != "NVDA 실적 어때" {
		t.Fatalf("query = %q", gotQuery)
	}
}

func TestWebExecutorEmptyResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"organic": []map[string]any{}})
	}))
	defer srv.Close()

	e := NewWebExecutor(webConfig(srv.URL, 5), log.New(io.Discard, "", 0))
	res, err := e.Execute(context.Background(), Scope{Question: "q"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Status != StatusEmpty {
		t.Fatalf("status = %s, want empty", res.Status)
	}
}

func TestWebExecutorUpstreamErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	e := NewWebExecutor(webConfig(srv.URL, 5), log.New(io.Discard, "", 0))
	res, err := e.Execute(context.Background(), Scope{Question: "q"})
	if err == nil {
		t.Fatal("expected error for non-200 upstream")
	}
	if res.Status != StatusError || res.Err == "" {
		t.Fatalf("result = %+v", res)
	}
	var berr *Error
	if !errors.As(err, &berr) || berr.Branch != SourceWeb {
		t.Fatalf("err = %v, want web branch error", err)
	}
}
