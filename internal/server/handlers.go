package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/macroscope-ai/macroscope/internal/pipeline"
	"github.com/macroscope-ai/macroscope/internal/router"
	"github.com/macroscope-ai/macroscope/internal/store"
	"github.com/macroscope-ai/macroscope/internal/stream"
	"github.com/macroscope-ai/macroscope/internal/synth"
)

type askRequest struct {
	Question  string `json:"question"`
	SessionID string `json:"session_id,omitempty"`
	Country   string `json:"country,omitempty"`
	Symbol    string `json:"symbol,omitempty"`
}

func (r askRequest) toQuestion() pipeline.Question {
	return pipeline.Question{
		Text:      strings.TrimSpace(r.Question),
		Scope:     router.Scope{Country: r.Country, Symbol: r.Symbol},
		SessionID: r.SessionID,
	}
}

func (s *Server) handleAsk(c echo.Context) error {
	var req askRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	q := req.toQuestion()
	if q.Text == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "question is required")
	}

	ans, err := s.pipe.Answer(c.Request().Context(), q)
	if err != nil {
		var serr *synth.Error
		if errors.As(err, &serr) {
			return echo.NewHTTPError(http.StatusBadGateway, "synthesis failed at "+serr.Stage)
		}
		return err
	}
	s.persistAnswer(c, q, ans)
	return c.JSON(http.StatusOK, ans)
}

// handleAskStream emits NDJSON events: started, delta*, then done or error.
// The answer is produced in full before deltas flow, so a mid-stream failure
// surfaces as a single error event rather than a truncated answer.
func (s *Server) handleAskStream(c echo.Context) error {
	var req askRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	q := req.toQuestion()
	if q.Text == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "question is required")
	}

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "application/x-ndjson")
	resp.WriteHeader(http.StatusOK)

	ctx := c.Request().Context()
	events := s.gateway.Stream(ctx, func(ctx context.Context) (*synth.AnswerResponse, error) {
		return s.pipe.Answer(ctx, q)
	})
	for e := range events {
		if e.Type == stream.EventDone && e.Answer != nil {
			s.persistAnswer(c, q, e.Answer)
		}
		if err := stream.Write(resp, e); err != nil {
			return nil
		}
		resp.Flush()
	}
	return nil
}

func (s *Server) handleRecentAnswers(c echo.Context) error {
	if s.store == nil {
		return echo.NewHTTPError(http.StatusNotFound, "answer log not configured")
	}
	limit := 20
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = n
	}
	logs, err := s.store.RecentAnswerLogs(c.Request().Context(), limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"answers": logs})
}

// persistAnswer writes the answer log best-effort; a storage failure never
// fails the request that produced the answer.
func (s *Server) persistAnswer(c echo.Context, q pipeline.Question, ans *synth.AnswerResponse) {
	if s.store == nil {
		return
	}
	raw, err := json.Marshal(ans)
	if err != nil {
		s.logger.Printf("answer log marshal failed: %v", err)
		return
	}
	rec := store.AnswerLogRecord{
		FlowRunID: ans.Meta.FlowRunID,
		SessionID: q.SessionID,
		Question:  q.Text,
		RouteType: ans.Meta.RouteType,
		Country:   ans.Meta.Country,
		Answer:    raw,
		Cost:      ans.Meta.Cost,
		Tokens:    ans.Meta.PromptTokens + ans.Meta.CompletionTokens,
	}
	if _, err := s.store.SaveAnswerLog(c.Request().Context(), rec); err != nil {
		s.logger.Printf("answer log save failed: %v", err)
	}
}
