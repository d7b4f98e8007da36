package main

import (
	"github.com/spf13/cobra"

	"github.com/macroscope-ai/macroscope/config"
	"github.com/macroscope-ai/macroscope/internal/server"
)

func serveCMD() *cobra.Command {
	var addr string
	var cfgPath string
	var serve = &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP answer API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Address = addr
			}
			pipe, st, err := buildPipeline(cfg)
			if err != nil {
				return err
			}
			if st != nil {
				defer st.Close()
			}
			return server.New(cfg, pipe, st, nil).Start()
		},
	}
	serve.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")
	serve.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return serve
}
