// Package server exposes the answer pipeline over HTTP: a single-shot JSON
// endpoint, an NDJSON streaming endpoint, and the usual health and metrics
// surfaces.
package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/macroscope-ai/macroscope/config"
	"github.com/macroscope-ai/macroscope/internal/pipeline"
	"github.com/macroscope-ai/macroscope/internal/store"
	"github.com/macroscope-ai/macroscope/internal/stream"
	"github.com/macroscope-ai/macroscope/internal/synth"
)

// Answerer runs one question through the pipeline. Satisfied by
// *pipeline.Pipeline; narrowed to an interface so handlers are testable
// without live branches.
type Answerer interface {
	Answer(ctx context.Context, q pipeline.Question) (*synth.AnswerResponse, error)
}

// Server wires the pipeline behind an echo instance. The store is optional;
// when nil, answers are not persisted.
type Server struct {
	echo    *echo.Echo
	cfg     *config.Config
	pipe    Answerer
	gateway *stream.Gateway
	store   *store.Store
	logger  *log.Logger
}

func New(cfg *config.Config, pipe Answerer, st *store.Store, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	}
	s := &Server{
		echo:    echo.New(),
		cfg:     cfg,
		pipe:    pipe,
		gateway: stream.NewGateway(cfg.Server.StreamChunkSize),
		store:   st,
		logger:  logger,
	}

	e := s.echo
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		s.logger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Content-Type"},
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api")
	api.POST("/ask", s.handleAsk)
	api.POST("/ask/stream", s.handleAskStream)
	api.GET("/answers", s.handleRecentAnswers)

	return s
}

// Handler exposes the underlying router for httptest.
func (s *Server) Handler() http.Handler { return s.echo }

func (s *Server) Start() error {
	addr := s.cfg.Server.Address
	if addr == "" {
		addr = ":8080"
	}
	s.logger.Printf("listening on %s", addr)
	return s.echo.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error { return s.echo.Shutdown(ctx) }
