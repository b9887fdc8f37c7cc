// Package tune provides A/B testing of detector configurations: variant
// generation (sweeps, grids, presets), replaying each variant through
// the simulation engine, and ranking the results.
package tune

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Parameter section names, matching the detector config yaml fields.
const (
	SectionVolume       = "volume_thresholds"
	SectionWhale        = "whale_thresholds"
	SectionPrice        = "price_thresholds"
	SectionCoordination = "coordination_thresholds"
)

// Params holds detector threshold overrides as section -> field ->
// value. Integer-valued thresholds (trade counts, wallet counts) are
// carried as float64 and truncated at detector construction.
type Params map[string]map[string]float64

// Clone returns a deep copy.
func (p Params) Clone() Params {
	out := make(Params, len(p))
	for section, fields := range p {
		cp := make(map[string]float64, len(fields))
		for k, v := range fields {
			cp[k] = v
		}
		out[section] = cp
	}
	return out
}

// Get reads a parameter by "section.field" path.
func (p Params) Get(path string) (float64, bool) {
	section, field, ok := splitPath(path)
	if !ok {
		return 0, false
	}
	v, ok := p[section][field]
	return v, ok
}

// Set writes a parameter by "section.field" path, creating the section
// if needed.
func (p Params) Set(path string, value float64) error {
	section, field, ok := splitPath(path)
	if !ok {
		return fmt.Errorf("invalid parameter path %q, want section.field", path)
	}
	if p[section] == nil {
		p[section] = make(map[string]float64)
	}
	p[section][field] = value
	return nil
}

func splitPath(path string) (section, field string, ok bool) {
	section, field, found := strings.Cut(path, ".")
	if !found || section == "" || field == "" {
		return "", "", false
	}
	return section, field, true
}

// Merge deep-merges override on top of base, returning a new Params.
func Merge(base, override Params) Params {
	out := base.Clone()
	for section, fields := range override {
		if out[section] == nil {
			out[section] = make(map[string]float64, len(fields))
		}
		for k, v := range fields {
			out[section][k] = v
		}
	}
	return out
}

// Variant is one named detector configuration under test.
type Variant struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Tags        []string `json:"tags,omitempty"`
	Config      Params   `json:"config"`
}

// Validate checks the variant is well formed.
func (v Variant) Validate() error {
	if v.Name == "" {
		return fmt.Errorf("variant name cannot be empty")
	}
	if len(v.Config) == 0 {
		return fmt.Errorf("variant %q has no configuration sections", v.Name)
	}
	return nil
}

// Generator builds variants from a baseline configuration.
type Generator struct {
	base Params
}

func NewGenerator(base Params) *Generator {
	return &Generator{base: base.Clone()}
}

// Sweep generates one variant per value of a single parameter.
func (g *Generator) Sweep(path string, values []float64) ([]Variant, error) {
	if len(values) == 0 {
		return nil, fmt.Errorf("sweep values cannot be empty")
	}
	_, field, ok := splitPath(path)
	if !ok {
		return nil, fmt.Errorf("invalid parameter path %q, want section.field", path)
	}

	variants := make([]Variant, 0, len(values))
	for _, value := range values {
		cfg := g.base.Clone()
		if err := cfg.Set(path, value); err != nil {
			return nil, err
		}
		variants = append(variants, Variant{
			Name:        fmt.Sprintf("%s_%s", field, formatValue(value)),
			Description: fmt.Sprintf("Sweep %s = %s", path, formatValue(value)),
			Tags:        []string{"sweep:" + path},
			Config:      cfg,
		})
	}
	return variants, nil
}

// Grid generates one variant per combination of the given parameter
// value lists. Paths are iterated in sorted order so variant numbering
// is stable across runs.
func (g *Generator) Grid(grid map[string][]float64) ([]Variant, error) {
	if len(grid) == 0 {
		return nil, fmt.Errorf("parameter grid cannot be empty")
	}
	paths := make([]string, 0, len(grid))
	for path := range grid {
		if _, _, ok := splitPath(path); !ok {
			return nil, fmt.Errorf("invalid parameter path %q, want section.field", path)
		}
		if len(grid[path]) == 0 {
			return nil, fmt.Errorf("grid values for %q cannot be empty", path)
		}
		paths = append(paths, path)
	}
	sort.Strings(paths)

	tags := []string{"grid_search"}
	for _, path := range paths {
		tags = append(tags, "param:"+path)
	}

	var variants []Variant
	combo := make([]int, len(paths))
	for {
		cfg := g.base.Clone()
		var descParts []string
		for i, path := range paths {
			value := grid[path][combo[i]]
			if err := cfg.Set(path, value); err != nil {
				return nil, err
			}
			_, field, _ := splitPath(path)
			descParts = append(descParts, fmt.Sprintf("%s=%s", field, formatValue(value)))
		}
		variants = append(variants, Variant{
			Name:        fmt.Sprintf("grid_variant_%d", len(variants)+1),
			Description: "Grid search: " + strings.Join(descParts, ", "),
			Tags:        tags,
			Config:      cfg,
		})

		// Advance the rightmost counter, odometer style.
		i := len(paths) - 1
		for ; i >= 0; i-- {
			combo[i]++
			if combo[i] < len(grid[paths[i]]) {
				break
			}
			combo[i] = 0
		}
		if i < 0 {
			return variants, nil
		}
	}
}

// Presets returns the four standard variants: the baseline plus more
// and less sensitive takes on the whale and volume thresholds.
func (g *Generator) Presets() []Variant {
	baseline := Variant{
		Name:        "baseline",
		Description: "Default configuration parameters",
		Tags:        []string{"baseline", "default"},
		Config:      g.base.Clone(),
	}

	aggressive := g.base.Clone()
	overrideIfPresent(aggressive, SectionWhale, map[string]float64{
		"whale_threshold_usd":         5000,
		"min_whales_for_coordination": 2,
	})
	overrideIfPresent(aggressive, SectionVolume, map[string]float64{
		"volume_spike_multiplier": 2.0,
		"z_score_threshold":       2.0,
	})

	conservative := g.base.Clone()
	overrideIfPresent(conservative, SectionWhale, map[string]float64{
		"whale_threshold_usd":         20000,
		"min_whales_for_coordination": 5,
	})
	overrideIfPresent(conservative, SectionVolume, map[string]float64{
		"volume_spike_multiplier": 4.0,
		"z_score_threshold":       4.0,
	})

	balanced := g.base.Clone()
	overrideIfPresent(balanced, SectionWhale, map[string]float64{
		"whale_threshold_usd":         12000,
		"min_whales_for_coordination": 3,
	})
	overrideIfPresent(balanced, SectionVolume, map[string]float64{
		"volume_spike_multiplier": 2.5,
		"z_score_threshold":       2.5,
	})

	return []Variant{
		baseline,
		{
			Name:        "aggressive",
			Description: "Lower thresholds for more sensitive detection",
			Tags:        []string{"preset", "aggressive", "high_sensitivity"},
			Config:      aggressive,
		},
		{
			Name:        "conservative",
			Description: "Higher thresholds for high-confidence alerts only",
			Tags:        []string{"preset", "conservative", "low_sensitivity"},
			Config:      conservative,
		},
		{
			Name:        "balanced",
			Description: "Balanced approach between sensitivity and precision",
			Tags:        []string{"preset", "balanced", "medium_sensitivity"},
			Config:      balanced,
		},
	}
}

// overrideIfPresent applies overrides only when the section already
// exists in the baseline, so presets never enable detectors the
// baseline does not configure.
func overrideIfPresent(p Params, section string, overrides map[string]float64) {
	if p[section] == nil {
		return
	}
	for k, v := range overrides {
		p[section][k] = v
	}
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
