package domain

import "time"

// Side is the taker-perspective direction of a trade.
type Side string

const (
	SideBuy     Side = "BUY"
	SideSell    Side = "SELL"
	SideUnknown Side = "UNKNOWN"
)

// AlertType identifies which detector produced an anomaly.
type AlertType string

const (
	AlertVolumeSpike   AlertType = "VOLUME_SPIKE"
	AlertWhaleActivity AlertType = "WHALE_ACTIVITY"
	AlertPriceMovement AlertType = "UNUSUAL_PRICE_MOVEMENT"
	AlertCoordination  AlertType = "COORDINATED_TRADING"
	AlertFreshWallet   AlertType = "FRESH_WALLET_BET"
)

// AllAlertTypes lists every detector type in stable order.
func AllAlertTypes() []AlertType {
	return []AlertType{
		AlertVolumeSpike,
		AlertWhaleActivity,
		AlertPriceMovement,
		AlertCoordination,
		AlertFreshWallet,
	}
}

// Severity levels in ascending order.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

var severityLevels = map[Severity]int{
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// Level returns the numeric rank of a severity; unknown values rank 0.
func (s Severity) Level() int { return severityLevels[s] }

// AtLeast reports whether s ranks at or above other.
func (s Severity) AtLeast(other Severity) bool { return s.Level() >= other.Level() }

// Trade is the canonical normalized trade record used by every detector.
type Trade struct {
	MarketID  string    `json:"market_id" db:"market_id"`
	Timestamp time.Time `json:"timestamp" db:"ts"`
	Price     float64   `json:"price" db:"price"`
	Size      float64   `json:"size" db:"size"`
	VolumeUSD float64   `json:"volume_usd" db:"volume_usd"`
	Side      Side      `json:"side" db:"side"`
	Maker     string    `json:"maker" db:"maker"`
	Taker     string    `json:"taker,omitempty" db:"taker"`
	TxHash    string    `json:"tx_hash,omitempty" db:"tx_hash"`
}
