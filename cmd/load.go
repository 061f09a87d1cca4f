package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/admitdata/harvest-cli/internal/capture"
	"github.com/admitdata/harvest-cli/internal/load"
)

var loadCmd = &cobra.Command{
	Use:   "load",
	Short: "Upsert normalized records into Postgres",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		records, err := capture.LoadSnapshot(cfg.Normalize.OutputFile)
		if err != nil {
			return eris.Wrap(err, "load normalized snapshot")
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		stats, err := load.New(st, cfg.Store.BatchSize).Run(ctx, records)
		if err != nil {
			return eris.Wrap(err, "load")
		}

		zap.L().Info("load finished",
			zap.Int("records", stats.Records),
			zap.Int("skipped", stats.Skipped),
			zap.Int64("rows_loaded", stats.RowsLoaded),
			zap.Int("batch_errors", stats.Errors))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(loadCmd)
}
