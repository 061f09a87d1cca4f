package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/admitdata/harvest-cli/internal/capture"
	"github.com/admitdata/harvest-cli/internal/fetch"
	"github.com/admitdata/harvest-cli/internal/harvest"
)

var scrapeStartPage int

var scrapeCmd = &cobra.Command{
	Use:   "scrape",
	Short: "Harvest admission results into the capture file",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		capStore, err := capture.Open(cfg.Scrape.CaptureFile, cfg.Scrape.FlushEveryRecords)
		if err != nil {
			return eris.Wrap(err, "open capture file")
		}

		startPage := scrapeStartPage
		if startPage <= 0 {
			startPage = harvest.EstimateResumePage(capStore.Len(), 0)
		}
		zap.L().Info("scrape starting",
			zap.Int("known_records", capStore.Len()),
			zap.Int("start_page", startPage),
			zap.Int("workers", cfg.Scrape.Workers))

		orch := harvest.New(fetch.NewClient(cfg.Source, cfg.Scrape), capStore, harvest.Options{
			Workers:   cfg.Scrape.Workers,
			StartPage: startPage,
			MaxPages:  cfg.Scrape.MaxPages,
		})

		res, err := orch.Run(ctx)
		if err != nil {
			return eris.Wrap(err, "harvest")
		}

		zap.L().Info("scrape finished",
			zap.String("outcome", string(res.Outcome)),
			zap.Int("pages_completed", res.PagesCompleted),
			zap.Int("pages_failed", res.PagesFailed),
			zap.Ints("failed_pages", res.FailedPages),
			zap.Int("records_captured", res.RecordsCaptured),
			zap.Int("records_skipped", res.RecordsSkipped),
			zap.Int("total_records", capStore.Len()))
		return nil
	},
}

func init() {
	scrapeCmd.Flags().IntVar(&scrapeStartPage, "start-page", 0, "first page to fetch (0 = resume estimate)")
	rootCmd.AddCommand(scrapeCmd)
}
