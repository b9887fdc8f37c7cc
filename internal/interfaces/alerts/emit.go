// Package alerts delivers scored alerts to the console and an append-only
// JSONL log, with per-market rate limiting and duplicate suppression.
package alerts

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/predwatch/predwatch/internal/confidence"
	"github.com/predwatch/predwatch/internal/domain"
)

// EmitterConfig controls delivery limits.
type EmitterConfig struct {
	MinSeverity      domain.Severity
	MaxPerMarketHour int
	DuplicateWindow  time.Duration
	LogPath          string
}

// DefaultEmitterConfig matches production delivery limits.
func DefaultEmitterConfig() EmitterConfig {
	return EmitterConfig{
		MinSeverity:      domain.SeverityMedium,
		MaxPerMarketHour: 10,
		DuplicateWindow:  10 * time.Minute,
	}
}

// Emitter delivers alerts, dropping those below the severity floor,
// duplicates of a recent alert on the same market and type, and
// anything past the per-market hourly budget. CRITICAL alerts bypass
// the hourly budget but not duplicate suppression.
type Emitter struct {
	cfg EmitterConfig

	mu       sync.Mutex
	emitted  map[string][]time.Time // market -> emit times within the last hour
	lastSeen map[string]time.Time   // market|type -> last emit
	now      func() time.Time
}

func NewEmitter(cfg EmitterConfig) *Emitter {
	if cfg.MaxPerMarketHour <= 0 {
		cfg.MaxPerMarketHour = DefaultEmitterConfig().MaxPerMarketHour
	}
	return &Emitter{
		cfg:      cfg,
		emitted:  make(map[string][]time.Time),
		lastSeen: make(map[string]time.Time),
		now:      time.Now,
	}
}

// Emit delivers one alert. Returns false with a reason when the alert
// was dropped by a delivery limit.
func (e *Emitter) Emit(alert confidence.Alert) (bool, string) {
	if !alert.Severity.AtLeast(e.cfg.MinSeverity) {
		return false, fmt.Sprintf("below minimum severity %s", e.cfg.MinSeverity)
	}

	now := e.now()
	dupKey := alert.MarketID + "|" + string(alert.Type)

	e.mu.Lock()
	if last, ok := e.lastSeen[dupKey]; ok && now.Sub(last) < e.cfg.DuplicateWindow {
		e.mu.Unlock()
		return false, "duplicate within suppression window"
	}

	recent := e.recentLocked(alert.MarketID, now)
	if len(recent) >= e.cfg.MaxPerMarketHour && alert.Severity != domain.SeverityCritical {
		e.emitted[alert.MarketID] = recent
		e.mu.Unlock()
		return false, "market hourly alert budget exhausted"
	}
	e.emitted[alert.MarketID] = append(recent, now)
	e.lastSeen[dupKey] = now
	e.mu.Unlock()

	e.deliver(alert)
	return true, ""
}

func (e *Emitter) recentLocked(marketID string, now time.Time) []time.Time {
	cutoff := now.Add(-time.Hour)
	var recent []time.Time
	for _, ts := range e.emitted[marketID] {
		if ts.After(cutoff) {
			recent = append(recent, ts)
		}
	}
	return recent
}

func (e *Emitter) deliver(alert confidence.Alert) {
	log.Info().
		Str("alert_id", alert.ID).
		Str("market", alert.MarketID).
		Str("type", string(alert.Type)).
		Str("severity", string(alert.Severity)).
		Float64("confidence", alert.Confidence).
		Str("direction", string(alert.PredictedDirection)).
		Str("action", alert.RecommendedAction).
		Msg("ALERT")

	if e.cfg.LogPath == "" {
		return
	}
	if err := appendJSONL(e.cfg.LogPath, alert); err != nil {
		log.Error().Err(err).Str("path", e.cfg.LogPath).Msg("failed to append alert log")
	}
}

func appendJSONL(path string, v any) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open alert log: %w", err)
	}
	defer file.Close()

	if err := json.NewEncoder(file).Encode(v); err != nil {
		return fmt.Errorf("failed to encode alert: %w", err)
	}
	return nil
}
