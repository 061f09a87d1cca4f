package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/admitdata/harvest-cli/internal/capture"
	"github.com/admitdata/harvest-cli/internal/normalize"
	"github.com/admitdata/harvest-cli/internal/resilience"
)

var normalizeCmd = &cobra.Command{
	Use:   "normalize",
	Short: "Standardize captured program and university names via Claude",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		records, err := capture.LoadSnapshot(cfg.Scrape.CaptureFile)
		if err != nil {
			return eris.Wrap(err, "load capture file")
		}
		if len(records) == 0 {
			zap.L().Warn("nothing to normalize", zap.String("file", cfg.Scrape.CaptureFile))
			return nil
		}

		classifier, err := initClassifier()
		if err != nil {
			return err
		}

		cache, err := normalize.OpenCache(cfg.Cache.Path)
		if err != nil {
			return eris.Wrap(err, "open normalize cache")
		}
		defer cache.Close()

		retry := resilience.DefaultRetryConfig()
		retry.MaxAttempts = cfg.Normalize.MaxRetries + 1
		retry.OnRetry = resilience.RetryLogger("normalize", "classify")

		norm := normalize.New(cache, classifier, cfg.Normalize.Concurrency, retry)
		out, err := norm.Run(ctx, records)
		if err != nil {
			return eris.Wrap(err, "normalize")
		}

		if err := capture.SaveSnapshot(cfg.Normalize.OutputFile, out); err != nil {
			return eris.Wrap(err, "save normalized snapshot")
		}

		stats := norm.Stats()
		zap.L().Info("normalize finished",
			zap.Int("records", stats.Records),
			zap.Int("cache_hits", stats.CacheHits),
			zap.Int("classify_calls", stats.ClassifyCalls),
			zap.Int("failures", stats.Failures),
			zap.String("output", cfg.Normalize.OutputFile))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(normalizeCmd)
}
