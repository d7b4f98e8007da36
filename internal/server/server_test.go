package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/macroscope-ai/macroscope/config"
	"github.com/macroscope-ai/macroscope/internal/pipeline"
	"github.com/macroscope-ai/macroscope/internal/stream"
	"github.com/macroscope-ai/macroscope/internal/synth"
)

type fakePipe struct {
	ans  *synth.AnswerResponse
	err  error
	last pipeline.Question
}

func (f *fakePipe) Answer(ctx context.Context, q pipeline.Question) (*synth.AnswerResponse, error) {
	f.last = q
	if f.err != nil {
		return nil, f.err
	}
	return f.ans, nil
}

func sampleAnswer() *synth.AnswerResponse {
	return &synth.AnswerResponse{
		Text: "서울 아파트 매매가격은 최근 상승 추세를 보이고 있습니다.",
		Citations: []synth.Citation{
			{Kind: "dataset", Dataset: "kr_real_estate_price"},
		},
		Meta: synth.Meta{
			RouteType: config.RouteRealEstateDetail,
			Country:   "KR",
			FlowRunID: "run-1",
			Model:     "gpt-4o",
		},
	}
}

func newTestServer(pipe Answerer) *Server {
	cfg := config.Default()
	return New(cfg, pipe, nil, log.New(io.Discard, "", 0))
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(&fakePipe{ans: sampleAnswer()})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("healthz: code=%d body=%q", rec.Code, rec.Body.String())
	}
}

func TestAskReturnsAnswer(t *testing.T) {
	pipe := &fakePipe{ans: sampleAnswer()}
	srv := newTestServer(pipe)

	body := `{"question":"서울 아파트 추세","session_id":"s1","country":"kr"}`
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/ask", strings.NewReader(body))
	req.Header.Set(echoContentType, "application/json")
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d, body = %s", rec.Code, rec.Body.String())
	}
	var got synth.AnswerResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Text != pipe.ans.Text {
		t.Fatalf("text mismatch: %q", got.Text)
	}
	if pipe.last.SessionID != "s1" || pipe.last.Scope.Country != "kr" {
		t.Fatalf("question not mapped: %+v", pipe.last)
	}
}

func TestAskRejectsEmptyQuestion(t *testing.T) {
	srv := newTestServer(&fakePipe{ans: sampleAnswer()})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/ask", strings.NewReader(`{"question":"  "}`))
	req.Header.Set(echoContentType, "application/json")
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("code = %d, want 400", rec.Code)
	}
	var payload map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if payload["error"] == "" {
		t.Fatalf("expected error field, got %s", rec.Body.String())
	}
}

func TestAskSynthesisErrorMapsToBadGateway(t *testing.T) {
	pipe := &fakePipe{err: &synth.Error{Stage: "llm", Err: errors.New("upstream down")}}
	srv := newTestServer(pipe)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/ask", strings.NewReader(`{"question":"q"}`))
	req.Header.Set(echoContentType, "application/json")
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("code = %d, want 502: %s", rec.Code, rec.Body.String())
	}
}

func TestAskStreamEmitsOrderedEvents(t *testing.T) {
	pipe := &fakePipe{ans: sampleAnswer()}
	srv := newTestServer(pipe)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/ask/stream", strings.NewReader(`{"question":"q"}`))
	req.Header.Set(echoContentType, "application/json")
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/x-ndjson" {
		t.Fatalf("content type = %q", ct)
	}

	var events []stream.Event
	sc := bufio.NewScanner(rec.Body)
	for sc.Scan() {
		var e stream.Event
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("bad NDJSON line %q: %v", sc.Text(), err)
		}
		events = append(events, e)
	}
	if len(events) < 3 {
		t.Fatalf("expected started+deltas+done, got %d events", len(events))
	}
	if events[0].Type != stream.EventStarted {
		t.Fatalf("first event = %s", events[0].Type)
	}
	last := events[len(events)-1]
	if last.Type != stream.EventDone || last.Answer == nil {
		t.Fatalf("last event = %+v", last)
	}
	var text strings.Builder
	for _, e := range events[1 : len(events)-1] {
		if e.Type != stream.EventDelta {
			t.Fatalf("middle event = %s", e.Type)
		}
		text.WriteString(e.Text)
	}
	if text.String() != pipe.ans.Text {
		t.Fatalf("deltas reassemble to %q", text.String())
	}
}

func TestAskStreamErrorEvent(t *testing.T) {
	pipe := &fakePipe{err: errors.New("branches unavailable")}
	srv := newTestServer(pipe)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/ask/stream", strings.NewReader(`{"question":"q"}`))
	req.Header.Set(echoContentType, "application/json")
	srv.Handler().ServeHTTP(rec, req)

	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	var last stream.Event
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &last); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if last.Type != stream.EventError || last.Error == "" {
		t.Fatalf("terminal event = %+v", last)
	}
}

func TestRecentAnswersWithoutStore(t *testing.T) {
	srv := newTestServer(&fakePipe{ans: sampleAnswer()})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/answers", nil)
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("code = %d, want 404", rec.Code)
	}
}

const echoContentType = "Content-Type"
