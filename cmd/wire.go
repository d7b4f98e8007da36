package main

import (
	"fmt"
	"log"

	"github.com/macroscope-ai/macroscope/config"
	"github.com/macroscope-ai/macroscope/internal/branch"
	"github.com/macroscope-ai/macroscope/internal/datactx"
	"github.com/macroscope-ai/macroscope/internal/history"
	"github.com/macroscope-ai/macroscope/internal/pipeline"
	"github.com/macroscope-ai/macroscope/internal/router"
	"github.com/macroscope-ai/macroscope/internal/store"
	"github.com/macroscope-ai/macroscope/internal/synth"
	"github.com/macroscope-ai/macroscope/internal/telemetry"
	"github.com/macroscope-ai/macroscope/provider"
)

// buildPipeline assembles the full answer pipeline from configuration.
// The returned store is nil when persistence is not configured.
func buildPipeline(cfg *config.Config) (*pipeline.Pipeline, *store.Store, error) {
	llm, err := provider.NewProvider(provider.OpenAI, cfg.LLM)
	if err != nil {
		return nil, nil, fmt.Errorf("llm provider: %w", err)
	}

	rt := router.New(cfg.Routing, llm, cfg.LLM.ClassifierModel, nil)

	var executors []branch.Executor
	if cfg.Branches.SQL.DSN != "" {
		db, err := branch.OpenSQL(cfg.Branches.SQL.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("sql branch: %w", err)
		}
		executors = append(executors, branch.NewSQLExecutor(db, cfg.Branches.SQL, cfg.Routing.HomeCountry, nil))
	} else {
		log.Printf("sql branch disabled: branches.sql.dsn not configured")
	}
	executors = append(executors,
		branch.NewGraphExecutor(cfg.Branches.Graph, nil),
		branch.NewWebExecutor(cfg.Branches.Web, nil),
	)

	hist, err := history.NewStore(cfg.History)
	if err != nil {
		return nil, nil, fmt.Errorf("history store: %w", err)
	}

	var st *store.Store
	if cfg.Storage.PostgresDSN != "" {
		st, err = store.New(cfg.Storage.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("answer log store: %w", err)
		}
	}

	humanizer := datactx.NewHumanizer(cfg.Context.RegionNames, cfg.Context.InternalPrefixes)
	syn := synth.New(llm, cfg.LLM.SynthesisModel, humanizer, nil)

	p := pipeline.New(cfg, rt, executors,
		datactx.NewBuilder(cfg.Context), datactx.NewBudgeter(cfg.Context),
		syn, hist, telemetry.New(cfg.Telemetry), nil)
	return p, st, nil
}
