package main

import (
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/admitdata/harvest-cli/internal/analysis"
	"github.com/admitdata/harvest-cli/internal/gate"
	"github.com/admitdata/harvest-cli/internal/server"
)

var serveTerm string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the pull-data and analysis API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		analyzer := analysis.New(env.Store, serveTerm)
		srv := server.New(cfg.Server.Port, gate.New(), env.Pipeline, analyzer)

		err = srv.ListenAndServe(ctx)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		zap.L().Info("server stopped")
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveTerm, "term", "Fall 2026", "term the per-term dashboard questions cover")
	rootCmd.AddCommand(serveCmd)
}
