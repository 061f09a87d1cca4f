package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/admitdata/harvest-cli/internal/gate"
	"github.com/admitdata/harvest-cli/internal/model"
)

var runJSON bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full pipeline: scrape, normalize, load",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		g := gate.New()
		runID, ok := g.TryStart(env.Pipeline.Progress)
		if !ok {
			return eris.New("an ingestion run is already in progress")
		}
		zap.L().Info("run starting", zap.String("run_id", runID))

		res, err := env.Pipeline.Run(ctx)
		if err != nil {
			g.Finish(model.OutcomeFailed)
			return eris.Wrap(err, "pipeline run")
		}
		g.Finish(res.Outcome)

		if runJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		}

		zap.L().Info("run finished",
			zap.String("outcome", string(res.Outcome)),
			zap.Int("records_captured", res.Harvest.RecordsCaptured),
			zap.Int("classify_calls", res.Normalize.ClassifyCalls),
			zap.Int64("rows_loaded", res.Load.RowsLoaded),
			zap.Duration("duration", res.Duration))
		return nil
	},
}

func init() {
	runCmd.Flags().BoolVar(&runJSON, "json", false, "print the run result as JSON")
	rootCmd.AddCommand(runCmd)
}
