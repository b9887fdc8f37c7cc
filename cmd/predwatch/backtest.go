package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/predwatch/predwatch/internal/bench"
	"github.com/predwatch/predwatch/internal/domain"
	"github.com/predwatch/predwatch/internal/outcome"
	"github.com/predwatch/predwatch/internal/sim"
	"github.com/predwatch/predwatch/internal/tune"
)

func newBacktestCmd() *cobra.Command {
	var (
		input    string
		mode     string
		outDir   string
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "backtest",
		Short: "Replay recorded trades through the detectors",
		Long: `backtest replays a recorded trade file through the configured
detectors, resolves alert outcomes against the file's own price
history, and reports detection performance.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if mode != "sequential" && mode != "batch" {
				return fmt.Errorf("mode must be sequential or batch, got %q", mode)
			}

			trades, err := loadTrades(input)
			if err != nil {
				return err
			}

			detectors, err := tune.BuildDetectors(tune.Params(cfg.Detection.Sections()))
			if err != nil {
				return err
			}

			tracker := outcome.NewTracker(cfg.Outcomes.PriceChangeThreshold, cfg.OutcomeIntervals())
			engine := sim.NewEngine(detectors, cfg.EvaluatorConfig(), tracker)

			var stats sim.Stats
			if mode == "batch" {
				stats, err = engine.RunBatch(cmd.Context(), trades)
			} else {
				stats, err = engine.RunSequential(cmd.Context(), trades)
			}
			if err != nil {
				return err
			}
			resolved := engine.ResolveOutcomes(trades)

			metrics := bench.NewCalculator().Calculate(tracker.Outcomes(), interval, 0)

			log.Info().
				Int("trades", stats.TotalTrades).
				Int("markets", stats.UniqueMarkets).
				Int("alerts", stats.TotalAlerts).
				Int("suppressed", stats.SuppressedAlerts).
				Int("resolved_prices", resolved).
				Int("completed_outcomes", metrics.CompletedOutcomes).
				Float64("precision", metrics.Precision).
				Float64("recall", metrics.Recall).
				Float64("f1", metrics.F1Score).
				Float64("win_rate", metrics.WinRate).
				Msg("backtest complete")

			if outDir != "" {
				if err := sim.NewExporter(outDir).WriteAll(engine, stats, metrics); err != nil {
					return err
				}
				log.Info().Str("dir", outDir).Msg("results exported")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&input, "input", "", "trade file to replay (JSON list of raw trade records)")
	cmd.Flags().StringVar(&mode, "mode", "sequential", "replay mode: sequential (chronological) or batch (per market)")
	cmd.Flags().StringVar(&outDir, "out", "", "directory for exported alerts, outcomes and metrics")
	cmd.Flags().DurationVar(&interval, "interval", 24*time.Hour, "measurement interval metrics are reported for")
	cmd.MarkFlagRequired("input")
	return cmd
}

// loadTrades reads a JSON file of raw trade records in the venue's wire
// shape and normalizes them. Records without a timestamp are dropped;
// replay ordering needs one.
func loadTrades(path string) ([]domain.Trade, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read trade file: %w", err)
	}
	var raws []map[string]any
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, fmt.Errorf("failed to parse trade file: %w", err)
	}
	trades := domain.NormalizeTrades(raws, true)
	if len(trades) == 0 {
		return nil, fmt.Errorf("no usable trades in %s", path)
	}
	if dropped := len(raws) - len(trades); dropped > 0 {
		log.Warn().Int("dropped", dropped).Msg("skipped malformed trade records")
	}
	return trades, nil
}
