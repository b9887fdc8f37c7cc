package tune

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/predwatch/predwatch/internal/bench"
	"github.com/predwatch/predwatch/internal/confidence"
	"github.com/predwatch/predwatch/internal/domain"
	"github.com/predwatch/predwatch/internal/outcome"
	"github.com/predwatch/predwatch/internal/sim"
)

// TestResult is the outcome of replaying one variant.
type TestResult struct {
	VariantName string                   `json:"variant_name"`
	Description string                   `json:"description,omitempty"`
	Tags        []string                 `json:"tags,omitempty"`
	Config      Params                   `json:"config"`
	Metrics     bench.PerformanceMetrics `json:"metrics"`
	AlertCount  int                      `json:"alert_count"`
	Stats       sim.Stats                `json:"stats"`
	Elapsed     time.Duration            `json:"elapsed"`
	Err         string                   `json:"error,omitempty"`
}

// RankedVariant is one entry in a comparison ranking.
type RankedVariant struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

// ComparisonResult ranks the tested variants by one metric.
type ComparisonResult struct {
	VariantsTested int                   `json:"variants_tested"`
	RankedBy       string                `json:"ranked_by"`
	BestVariant    string                `json:"best_variant"`
	Ranking        []RankedVariant       `json:"ranking"`
	Details        map[string]TestResult `json:"details"`
	Excluded       []string              `json:"excluded,omitempty"`
	Recommendation string                `json:"recommendation"`
	Timestamp      time.Time             `json:"timestamp"`
}

// TesterOptions configures a Tester. Zero values take defaults.
type TesterOptions struct {
	// Interval is the measurement interval metrics are reported for.
	Interval time.Duration
	// Intervals are the outcome-tracking checkpoints.
	Intervals []time.Duration
	// PriceChangeThreshold is the flat band for outcome classification.
	PriceChangeThreshold float64
	// Confidence holds the evaluator thresholds shared by all variants.
	Confidence *confidence.Config
	// BatchMode replays per-market instead of chronologically.
	BatchMode bool
}

func (o *TesterOptions) applyDefaults() {
	if o.Interval == 0 {
		o.Interval = 24 * time.Hour
	}
	if len(o.Intervals) == 0 {
		o.Intervals = []time.Duration{time.Hour, 4 * time.Hour, 24 * time.Hour}
	}
	if o.PriceChangeThreshold == 0 {
		o.PriceChangeThreshold = 0.05
	}
	if o.Confidence == nil {
		cfg := confidence.DefaultConfig()
		o.Confidence = &cfg
	}
}

// Tester replays one trade set through every registered variant and
// compares the resulting detection performance.
type Tester struct {
	trades []domain.Trade
	opts   TesterOptions

	variants map[string]Variant
	order    []string
	results  map[string]TestResult
}

func NewTester(trades []domain.Trade, opts TesterOptions) *Tester {
	opts.applyDefaults()
	return &Tester{
		trades:   trades,
		opts:     opts,
		variants: make(map[string]Variant),
		results:  make(map[string]TestResult),
	}
}

// AddVariant registers a variant, replacing any existing one with the
// same name.
func (t *Tester) AddVariant(v Variant) error {
	if err := v.Validate(); err != nil {
		return err
	}
	if _, exists := t.variants[v.Name]; exists {
		log.Warn().Str("variant", v.Name).Msg("variant already exists, replacing")
	} else {
		t.order = append(t.order, v.Name)
	}
	t.variants[v.Name] = v
	return nil
}

// AddVariants registers several variants.
func (t *Tester) AddVariants(variants []Variant) error {
	for _, v := range variants {
		if err := t.AddVariant(v); err != nil {
			return err
		}
	}
	return nil
}

// Run replays every registered variant in registration order. A variant
// that fails to build or replay is kept in the results with its error
// recorded; it does not abort the run.
func (t *Tester) Run(ctx context.Context) (map[string]TestResult, error) {
	if len(t.variants) == 0 {
		return nil, fmt.Errorf("no variants configured")
	}
	log.Info().Int("variants", len(t.variants)).Int("trades", len(t.trades)).Msg("starting configuration tests")

	for i, name := range t.order {
		if err := ctx.Err(); err != nil {
			return t.results, err
		}
		variant := t.variants[name]
		log.Info().Str("variant", name).Int("index", i+1).Int("total", len(t.order)).Msg("testing variant")

		result := t.runVariant(ctx, variant)
		t.results[name] = result
		if result.Err != "" {
			log.Warn().Str("variant", name).Str("error", result.Err).Msg("variant failed")
			continue
		}
		log.Info().Str("variant", name).Int("alerts", result.AlertCount).
			Float64("precision", result.Metrics.Precision).Float64("roi", result.Metrics.ROI).
			Msg("variant complete")
	}
	return t.results, nil
}

func (t *Tester) runVariant(ctx context.Context, v Variant) TestResult {
	started := time.Now()
	result := TestResult{
		VariantName: v.Name,
		Description: v.Description,
		Tags:        v.Tags,
		Config:      v.Config,
	}

	detectors, err := BuildDetectors(v.Config)
	if err != nil {
		result.Err = err.Error()
		return result
	}

	tracker := outcome.NewTracker(t.opts.PriceChangeThreshold, t.opts.Intervals)
	engine := sim.NewEngine(detectors, *t.opts.Confidence, tracker)

	var stats sim.Stats
	if t.opts.BatchMode {
		stats, err = engine.RunBatch(ctx, t.trades)
	} else {
		stats, err = engine.RunSequential(ctx, t.trades)
	}
	if err != nil {
		result.Err = err.Error()
		return result
	}
	engine.ResolveOutcomes(t.trades)

	result.Stats = stats
	result.AlertCount = stats.TotalAlerts
	result.Metrics = bench.NewCalculator().Calculate(tracker.Outcomes(), t.opts.Interval, 0)
	result.Elapsed = time.Since(started)
	return result
}

// Results returns the per-variant results accumulated so far.
func (t *Tester) Results() map[string]TestResult { return t.results }

// Compare ranks the tested variants by the named metric, highest
// first. Variants that failed or produced fewer than minAlerts alerts
// are excluded as statistically unreliable.
func (t *Tester) Compare(rankBy string, minAlerts int) (*ComparisonResult, error) {
	if len(t.results) == 0 {
		return nil, fmt.Errorf("no test results available, run tests first")
	}

	valid := make(map[string]TestResult)
	var excluded []string
	for name, r := range t.results {
		if r.Err != "" || r.AlertCount < minAlerts {
			excluded = append(excluded, name)
			continue
		}
		valid[name] = r
	}
	sort.Strings(excluded)
	if len(valid) == 0 {
		return nil, fmt.Errorf("no variants produced at least %d alerts", minAlerts)
	}
	if len(excluded) > 0 {
		log.Warn().Int("excluded", len(excluded)).Int("min_alerts", minAlerts).Msg("excluded unreliable variants")
	}

	ranking := make([]RankedVariant, 0, len(valid))
	for name, r := range valid {
		score, err := metricValue(r.Metrics, rankBy)
		if err != nil {
			return nil, err
		}
		ranking = append(ranking, RankedVariant{Name: name, Score: score})
	}
	// Every supported metric is higher-is-better; ties break by name so
	// the ranking is stable across runs.
	sort.SliceStable(ranking, func(i, j int) bool {
		if ranking[i].Score != ranking[j].Score {
			return ranking[i].Score > ranking[j].Score
		}
		return ranking[i].Name < ranking[j].Name
	})

	best := valid[ranking[0].Name]
	return &ComparisonResult{
		VariantsTested: len(valid),
		RankedBy:       rankBy,
		BestVariant:    best.VariantName,
		Ranking:        ranking,
		Details:        valid,
		Excluded:       excluded,
		Recommendation: recommendation(best, rankBy, ranking[0].Score),
		Timestamp:      time.Now().UTC(),
	}, nil
}

func metricValue(m bench.PerformanceMetrics, name string) (float64, error) {
	switch name {
	case "precision":
		return m.Precision, nil
	case "recall":
		return m.Recall, nil
	case "f1_score":
		return m.F1Score, nil
	case "accuracy":
		return m.Accuracy, nil
	case "roi":
		return m.ROI, nil
	case "win_rate":
		return m.WinRate, nil
	case "average_return":
		return m.AverageReturn, nil
	case "sharpe_ratio":
		if m.SharpeRatio == nil {
			// Undefined sharpe ranks below any real value.
			return math.Inf(-1), nil
		}
		return *m.SharpeRatio, nil
	default:
		return 0, fmt.Errorf("unknown ranking metric %q", name)
	}
}

func recommendation(best TestResult, rankBy string, score float64) string {
	m := best.Metrics
	s := fmt.Sprintf("Best configuration: %q (%s = %.4f)\n\n", best.VariantName, rankBy, score)
	s += "Performance summary:\n"
	s += fmt.Sprintf("  precision: %.2f%% (%d TP / %d predicted positive)\n",
		m.Precision*100, m.Confusion.TruePositives, m.Confusion.TruePositives+m.Confusion.FalsePositives)
	s += fmt.Sprintf("  recall: %.2f%% (%d TP / %d actual positive)\n",
		m.Recall*100, m.Confusion.TruePositives, m.Confusion.TruePositives+m.Confusion.FalseNegatives)
	s += fmt.Sprintf("  f1 score: %.2f%%\n", m.F1Score*100)
	s += fmt.Sprintf("  roi: %+.2f%%\n", m.ROI*100)
	s += fmt.Sprintf("  win rate: %.2f%%\n", m.WinRate*100)
	s += fmt.Sprintf("  total alerts: %d\n", best.AlertCount)
	if best.Description != "" {
		s += "\n" + best.Description + "\n"
	}
	return s
}

// ExportResults writes all per-variant results as indented JSON.
func (t *Tester) ExportResults(path string) error {
	doc := struct {
		Timestamp     time.Time             `json:"timestamp"`
		Interval      time.Duration         `json:"interval"`
		TotalVariants int                   `json:"total_variants"`
		Results       map[string]TestResult `json:"results"`
	}{
		Timestamp:     time.Now().UTC(),
		Interval:      t.opts.Interval,
		TotalVariants: len(t.results),
		Results:       t.results,
	}
	return writeJSON(path, doc)
}

// ExportComparison writes a comparison result as indented JSON.
func ExportComparison(cmp *ComparisonResult, path string) error {
	return writeJSON(path, cmp)
}

func writeJSON(path string, v any) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create output dir: %w", err)
		}
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	log.Info().Str("path", path).Msg("exported results")
	return nil
}
