package confidence

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/predwatch/predwatch/internal/domain"
)

// Suppression reason kinds. Stable strings, safe as metric label
// values; the market counts behind a suppression go to the log only.
const (
	SuppressCrossMarket = "cross_market"
	SuppressVolumeSurge = "volume_surge"
)

// CrossMarketFilter suppresses alerts that fire across many markets at
// once. Platform-wide volume surges and news-driven bursts hit most
// markets simultaneously and carry no market-specific signal.
type CrossMarketFilter struct {
	window             time.Duration
	minSimilarMarkets  int
	volumeSurgeMarkets int

	mu     sync.Mutex
	events map[domain.AlertType][]filterEvent
}

type filterEvent struct {
	marketID string
	at       time.Time
}

func NewCrossMarketFilter(window time.Duration, minSimilarMarkets, volumeSurgeMarkets int) *CrossMarketFilter {
	return &CrossMarketFilter{
		window:             window,
		minSimilarMarkets:  minSimilarMarkets,
		volumeSurgeMarkets: volumeSurgeMarkets,
		events:             make(map[domain.AlertType][]filterEvent),
	}
}

// Observe records a qualifying signal for a market and reports whether
// it should be suppressed because too many other markets showed the
// same signal type inside the rolling window. Volume spikes use the
// higher surge threshold since venue-wide volume waves are common.
func (f *CrossMarketFilter) Observe(alertType domain.AlertType, marketID string, at time.Time) (bool, string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	cutoff := at.Add(-f.window)
	kept := f.events[alertType][:0]
	others := make(map[string]struct{})
	for _, ev := range f.events[alertType] {
		if ev.at.Before(cutoff) {
			continue
		}
		kept = append(kept, ev)
		if ev.marketID != marketID {
			others[ev.marketID] = struct{}{}
		}
	}
	f.events[alertType] = append(kept, filterEvent{marketID: marketID, at: at})

	threshold := f.minSimilarMarkets
	if alertType == domain.AlertVolumeSpike {
		threshold = f.volumeSurgeMarkets
	}
	if len(others) >= threshold {
		kind := SuppressCrossMarket
		if alertType == domain.AlertVolumeSpike {
			kind = SuppressVolumeSurge
		}
		log.Info().Str("alert_type", string(alertType)).Str("market", marketID).
			Int("other_markets", len(others)).Dur("window", f.window).
			Msg("same signal across many markets, treating as venue-wide noise")
		return true, kind
	}
	return false, ""
}
