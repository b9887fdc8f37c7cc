package detect

import "fmt"

// Detector thresholds are safety-relevant and carry no fallbacks: every
// field must be set explicitly or the detector refuses to construct.

// VolumeConfig holds volume spike detection thresholds.
type VolumeConfig struct {
	SpikeMultiplier float64 `json:"volume_spike_multiplier" yaml:"volume_spike_multiplier"`
	ZScoreThreshold float64 `json:"z_score_threshold" yaml:"z_score_threshold"`
	MinTrades       int     `json:"min_trades" yaml:"min_trades"`
}

func (c VolumeConfig) validate() error {
	if c.SpikeMultiplier <= 0 {
		return fmt.Errorf("volume_spike_multiplier must be positive, got %v", c.SpikeMultiplier)
	}
	if c.ZScoreThreshold <= 0 {
		return fmt.Errorf("z_score_threshold must be positive, got %v", c.ZScoreThreshold)
	}
	if c.MinTrades <= 0 {
		return fmt.Errorf("min_trades must be positive, got %d", c.MinTrades)
	}
	return nil
}

// WhaleConfig holds whale activity detection thresholds.
type WhaleConfig struct {
	ThresholdUSD             float64 `json:"whale_threshold_usd" yaml:"whale_threshold_usd"`
	CoordinationThreshold    float64 `json:"coordination_threshold" yaml:"coordination_threshold"`
	MinWhalesForCoordination int     `json:"min_whales_for_coordination" yaml:"min_whales_for_coordination"`
}

func (c WhaleConfig) validate() error {
	if c.ThresholdUSD <= 0 {
		return fmt.Errorf("whale_threshold_usd must be positive, got %v", c.ThresholdUSD)
	}
	if c.CoordinationThreshold <= 0 || c.CoordinationThreshold > 1 {
		return fmt.Errorf("coordination_threshold must be in (0,1], got %v", c.CoordinationThreshold)
	}
	if c.MinWhalesForCoordination <= 0 {
		return fmt.Errorf("min_whales_for_coordination must be positive, got %d", c.MinWhalesForCoordination)
	}
	return nil
}

// PriceConfig holds price movement detection thresholds.
type PriceConfig struct {
	RapidMovementPct          float64 `json:"rapid_movement_pct" yaml:"rapid_movement_pct"`
	PriceMovementStd          float64 `json:"price_movement_std" yaml:"price_movement_std"`
	VolatilitySpikeMultiplier float64 `json:"volatility_spike_multiplier" yaml:"volatility_spike_multiplier"`
	MomentumThreshold         float64 `json:"momentum_threshold" yaml:"momentum_threshold"`
}

func (c PriceConfig) validate() error {
	if c.RapidMovementPct <= 0 {
		return fmt.Errorf("rapid_movement_pct must be positive, got %v", c.RapidMovementPct)
	}
	if c.PriceMovementStd <= 0 {
		return fmt.Errorf("price_movement_std must be positive, got %v", c.PriceMovementStd)
	}
	if c.VolatilitySpikeMultiplier <= 0 {
		return fmt.Errorf("volatility_spike_multiplier must be positive, got %v", c.VolatilitySpikeMultiplier)
	}
	if c.MomentumThreshold <= 0 || c.MomentumThreshold > 1 {
		return fmt.Errorf("momentum_threshold must be in (0,1], got %v", c.MomentumThreshold)
	}
	return nil
}

// CoordinationConfig holds coordinated trading detection thresholds.
// CoordinationTimeWindow is in minutes.
type CoordinationConfig struct {
	MinCoordinatedWallets    int     `json:"min_coordinated_wallets" yaml:"min_coordinated_wallets"`
	CoordinationTimeWindow   int     `json:"coordination_time_window" yaml:"coordination_time_window"`
	DirectionalBiasThreshold float64 `json:"directional_bias_threshold" yaml:"directional_bias_threshold"`
	BurstIntensityThreshold  float64 `json:"burst_intensity_threshold" yaml:"burst_intensity_threshold"`
}

func (c CoordinationConfig) validate() error {
	if c.MinCoordinatedWallets <= 0 {
		return fmt.Errorf("min_coordinated_wallets must be positive, got %d", c.MinCoordinatedWallets)
	}
	if c.CoordinationTimeWindow <= 0 {
		return fmt.Errorf("coordination_time_window must be positive, got %d", c.CoordinationTimeWindow)
	}
	if c.DirectionalBiasThreshold <= 0 || c.DirectionalBiasThreshold > 1 {
		return fmt.Errorf("directional_bias_threshold must be in (0,1], got %v", c.DirectionalBiasThreshold)
	}
	if c.BurstIntensityThreshold <= 0 {
		return fmt.Errorf("burst_intensity_threshold must be positive, got %v", c.BurstIntensityThreshold)
	}
	return nil
}

// FreshWalletConfig holds fresh-wallet detection thresholds.
type FreshWalletConfig struct {
	MinBetSizeUSD     float64 `json:"min_bet_size_usd" yaml:"min_bet_size_usd"`
	APILookbackLimit  int     `json:"api_lookback_limit" yaml:"api_lookback_limit"`
	MaxPreviousTrades int     `json:"max_previous_trades" yaml:"max_previous_trades"`
}

func (c FreshWalletConfig) validate() error {
	if c.MinBetSizeUSD <= 0 {
		return fmt.Errorf("min_bet_size_usd must be positive, got %v", c.MinBetSizeUSD)
	}
	if c.APILookbackLimit <= 0 {
		return fmt.Errorf("api_lookback_limit must be positive, got %d", c.APILookbackLimit)
	}
	if c.MaxPreviousTrades < 0 {
		return fmt.Errorf("max_previous_trades must be non-negative, got %d", c.MaxPreviousTrades)
	}
	return nil
}
