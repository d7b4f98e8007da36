package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/macroscope-ai/macroscope/config"
	"github.com/macroscope-ai/macroscope/internal/regress"
	"github.com/macroscope-ai/macroscope/internal/store"
)

func regressCMD() *cobra.Command {
	var cfgPath string
	var fixtures string
	var persist bool
	var regressCmd = &cobra.Command{
		Use:   "regress",
		Short: "Replay golden cases through the pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			path := fixtures
			if path == "" {
				path = cfg.Regression.FixturesPath
			}
			if path == "" {
				path = "regression/golden_cases.json"
			}
			cases, err := regress.LoadCases(path)
			if err != nil {
				return err
			}

			pipe, st, err := buildPipeline(cfg)
			if err != nil {
				return err
			}
			if st != nil {
				defer st.Close()
			}

			runner := regress.NewRunner(pipe, cfg.Regression, nil)
			report := runner.Run(cmd.Context(), cases)

			raw, err := json.MarshalIndent(report, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(os.Stdout, string(raw))

			if persist && st != nil {
				rec := store.RegressionRunRecord{
					Total:  report.Total,
					Passed: report.Passed,
					Failed: report.Failed,
					Report: raw,
				}
				if _, err := st.SaveRegressionRun(cmd.Context(), rec); err != nil {
					return fmt.Errorf("persist regression run: %w", err)
				}
			}

			if report.Failed > 0 {
				return fmt.Errorf("%d of %d cases failed", report.Failed, report.Total)
			}
			return nil
		},
	}
	regressCmd.Flags().StringVar(&fixtures, "fixtures", "", "golden-case fixture file (overrides config)")
	regressCmd.Flags().BoolVar(&persist, "persist", false, "save the run report to postgres")
	regressCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return regressCmd
}
