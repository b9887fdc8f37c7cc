package tune

import (
	"fmt"

	"github.com/predwatch/predwatch/internal/detect"
)

// BuildDetectors constructs a detector for each configured section.
// Sections absent from the params are skipped; a present section with a
// missing or invalid field fails construction so a typo'd sweep cannot
// silently run on zero thresholds.
func BuildDetectors(p Params) ([]detect.Detector, error) {
	var detectors []detect.Detector

	if fields, ok := p[SectionVolume]; ok {
		d, err := detect.NewVolumeDetector(detect.VolumeConfig{
			SpikeMultiplier: fields["volume_spike_multiplier"],
			ZScoreThreshold: fields["z_score_threshold"],
			MinTrades:       int(fields["min_trades"]),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to build volume detector: %w", err)
		}
		detectors = append(detectors, d)
	}

	if fields, ok := p[SectionWhale]; ok {
		d, err := detect.NewWhaleDetector(detect.WhaleConfig{
			ThresholdUSD:             fields["whale_threshold_usd"],
			CoordinationThreshold:    fields["coordination_threshold"],
			MinWhalesForCoordination: int(fields["min_whales_for_coordination"]),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to build whale detector: %w", err)
		}
		detectors = append(detectors, d)
	}

	if fields, ok := p[SectionPrice]; ok {
		d, err := detect.NewPriceDetector(detect.PriceConfig{
			RapidMovementPct:          fields["rapid_movement_pct"],
			PriceMovementStd:          fields["price_movement_std"],
			VolatilitySpikeMultiplier: fields["volatility_spike_multiplier"],
			MomentumThreshold:         fields["momentum_threshold"],
		})
		if err != nil {
			return nil, fmt.Errorf("failed to build price detector: %w", err)
		}
		detectors = append(detectors, d)
	}

	if fields, ok := p[SectionCoordination]; ok {
		d, err := detect.NewCoordinationDetector(detect.CoordinationConfig{
			MinCoordinatedWallets:    int(fields["min_coordinated_wallets"]),
			CoordinationTimeWindow:   int(fields["coordination_time_window"]),
			DirectionalBiasThreshold: fields["directional_bias_threshold"],
			BurstIntensityThreshold:  fields["burst_intensity_threshold"],
		})
		if err != nil {
			return nil, fmt.Errorf("failed to build coordination detector: %w", err)
		}
		detectors = append(detectors, d)
	}

	if len(detectors) == 0 {
		return nil, fmt.Errorf("no detector sections configured")
	}
	return detectors, nil
}
