package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/predwatch/predwatch/internal/tune"
)

func newTuneCmd() *cobra.Command {
	var (
		input      string
		rankBy     string
		minAlerts  int
		batch      bool
		interval   time.Duration
		sweeps     []string
		outPath    string
		comparePat string
	)
	cmd := &cobra.Command{
		Use:   "tune",
		Short: "Replay trades through threshold variants and rank them",
		Long: `tune replays one recorded trade set through several detector
threshold variants and ranks them by detection performance. Without
--sweep it tests the built-in sensitivity presets.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			trades, err := loadTrades(input)
			if err != nil {
				return err
			}

			gen := tune.NewGenerator(tune.Params(cfg.Detection.Sections()))
			var variants []tune.Variant
			if len(sweeps) == 0 {
				variants = gen.Presets()
			} else {
				for _, s := range sweeps {
					path, values, err := parseSweep(s)
					if err != nil {
						return err
					}
					vs, err := gen.Sweep(path, values)
					if err != nil {
						return err
					}
					variants = append(variants, vs...)
				}
			}

			evalCfg := cfg.EvaluatorConfig()
			tester := tune.NewTester(trades, tune.TesterOptions{
				Interval:             interval,
				Intervals:            cfg.OutcomeIntervals(),
				PriceChangeThreshold: cfg.Outcomes.PriceChangeThreshold,
				Confidence:           &evalCfg,
				BatchMode:            batch,
			})
			if err := tester.AddVariants(variants); err != nil {
				return err
			}

			results, err := tester.Run(cmd.Context())
			if err != nil {
				return err
			}
			cmp, err := tester.Compare(rankBy, minAlerts)
			if err != nil {
				return err
			}

			for _, ranked := range cmp.Ranking {
				r := results[ranked.Name]
				log.Info().
					Str("variant", ranked.Name).
					Float64(rankBy, ranked.Score).
					Int("alerts", r.AlertCount).
					Float64("precision", r.Metrics.Precision).
					Float64("win_rate", r.Metrics.WinRate).
					Msg("variant result")
			}
			log.Info().
				Str("best", cmp.BestVariant).
				Str("ranked_by", cmp.RankedBy).
				Int("tested", cmp.VariantsTested).
				Msg(cmp.Recommendation)

			if outPath != "" {
				if err := tester.ExportResults(outPath); err != nil {
					return err
				}
			}
			if comparePat != "" {
				if err := tune.ExportComparison(cmp, comparePat); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&input, "input", "", "trade file to replay (JSON list of raw trade records)")
	cmd.Flags().StringVar(&rankBy, "rank-by", "f1_score", "metric to rank variants by")
	cmd.Flags().IntVar(&minAlerts, "min-alerts", 5, "exclude variants producing fewer alerts than this")
	cmd.Flags().BoolVar(&batch, "batch", false, "replay per-market instead of chronologically")
	cmd.Flags().DurationVar(&interval, "interval", 24*time.Hour, "measurement interval metrics are reported for")
	cmd.Flags().StringArrayVar(&sweeps, "sweep", nil, `threshold sweep, e.g. --sweep "volume_thresholds.volume_spike_multiplier=2,3,5" (repeatable)`)
	cmd.Flags().StringVar(&outPath, "out", "", "file for the full per-variant results JSON")
	cmd.Flags().StringVar(&comparePat, "compare-out", "", "file for the comparison ranking JSON")
	cmd.MarkFlagRequired("input")
	return cmd
}

// parseSweep splits "section.field=v1,v2,..." into a threshold path
// and its candidate values.
func parseSweep(s string) (string, []float64, error) {
	path, list, ok := strings.Cut(s, "=")
	if !ok || path == "" || list == "" {
		return "", nil, fmt.Errorf("sweep must look like section.field=v1,v2, got %q", s)
	}
	var values []float64
	for _, part := range strings.Split(list, ",") {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return "", nil, fmt.Errorf("invalid sweep value %q in %q", part, s)
		}
		values = append(values, v)
	}
	return path, values, nil
}
