package sim

import (
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/predwatch/predwatch/internal/domain"
)

// pricePoint is one observed price in a market's history.
type pricePoint struct {
	at    time.Time
	price float64
}

// PriceIndex answers "what did this market trade at, at or after time
// T" from a replayed trade set.
type PriceIndex struct {
	byMarket map[string][]pricePoint
}

// NewPriceIndex builds a per-market time-sorted price index.
func NewPriceIndex(trades []domain.Trade) *PriceIndex {
	byMarket := make(map[string][]pricePoint)
	for _, t := range trades {
		byMarket[t.MarketID] = append(byMarket[t.MarketID], pricePoint{at: t.Timestamp, price: t.Price})
	}
	for id := range byMarket {
		points := byMarket[id]
		sort.SliceStable(points, func(i, j int) bool { return points[i].at.Before(points[j].at) })
	}
	return &PriceIndex{byMarket: byMarket}
}

// PriceAt returns the first traded price at or after the given time.
func (idx *PriceIndex) PriceAt(marketID string, at time.Time) (float64, bool) {
	points := idx.byMarket[marketID]
	i := sort.Search(len(points), func(i int) bool { return !points[i].at.Before(at) })
	if i == len(points) {
		return 0, false
	}
	return points[i].price, true
}

// ResolveOutcomes records interval prices for every tracked alert using
// the replayed trade history itself: each interval resolves to the
// first trade at or after alert time plus the interval. Intervals that
// extend past the end of the data stay unresolved, leaving those
// alerts pending. Returns how many interval prices were recorded.
func (e *Engine) ResolveOutcomes(trades []domain.Trade) int {
	idx := NewPriceIndex(trades)
	resolved := 0
	for _, o := range e.tracker.Outcomes() {
		for _, interval := range e.tracker.Intervals() {
			price, ok := idx.PriceAt(o.MarketID, o.AlertTime.Add(interval))
			if !ok {
				continue
			}
			e.tracker.RecordPrice(o.AlertID, interval, price)
			resolved++
		}
	}
	log.Info().Int("resolved", resolved).Int("alerts", len(e.tracker.Outcomes())).
		Msg("resolved alert outcomes from replay history")
	return resolved
}
