package sim

import (
	"time"

	"github.com/predwatch/predwatch/internal/domain"
)

// defaultWindowCap bounds the per-market rolling trade window.
const defaultWindowCap = 1000

// MarketState tracks one market during a replay: its rolling trade
// window plus running totals used for reporting.
type MarketState struct {
	MarketID       string
	TotalVolume    float64
	TradeCount     int
	FirstTradeTime time.Time
	LastTradeTime  time.Time

	cap    int
	trades []domain.Trade
	makers map[string]struct{}
	takers map[string]struct{}

	// trades added since the last detector evaluation
	sinceEval int
}

func NewMarketState(marketID string, windowCap int) *MarketState {
	if windowCap <= 0 {
		windowCap = defaultWindowCap
	}
	return &MarketState{
		MarketID: marketID,
		cap:      windowCap,
		makers:   make(map[string]struct{}),
		takers:   make(map[string]struct{}),
	}
}

// AddTrade appends a trade to the rolling window and updates totals.
func (s *MarketState) AddTrade(t domain.Trade) {
	s.trades = append(s.trades, t)
	// Compact lazily so steady-state inserts stay O(1).
	if len(s.trades) > 2*s.cap {
		s.trades = append(s.trades[:0], s.trades[len(s.trades)-s.cap:]...)
	}

	s.TotalVolume += t.VolumeUSD
	s.TradeCount++
	s.sinceEval++

	if s.FirstTradeTime.IsZero() {
		s.FirstTradeTime = t.Timestamp
	}
	s.LastTradeTime = t.Timestamp

	if t.Maker != "" {
		s.makers[t.Maker] = struct{}{}
	}
	if t.Taker != "" {
		s.takers[t.Taker] = struct{}{}
	}
}

// Window returns a copy of the current rolling window, oldest first.
func (s *MarketState) Window() []domain.Trade {
	w := s.trades
	if len(w) > s.cap {
		w = w[len(w)-s.cap:]
	}
	out := make([]domain.Trade, len(w))
	copy(out, w)
	return out
}

// RecentTrades returns the trades within the given look-back from the
// newest trade in the window.
func (s *MarketState) RecentTrades(lookback time.Duration) []domain.Trade {
	if s.LastTradeTime.IsZero() {
		return nil
	}
	cutoff := s.LastTradeTime.Add(-lookback)
	var out []domain.Trade
	for _, t := range s.Window() {
		if !t.Timestamp.Before(cutoff) {
			out = append(out, t)
		}
	}
	return out
}

// UniqueMakers reports how many distinct maker addresses traded.
func (s *MarketState) UniqueMakers() int { return len(s.makers) }

// UniqueTakers reports how many distinct taker addresses traded.
func (s *MarketState) UniqueTakers() int { return len(s.takers) }

// LastPrice returns the price of the newest trade, or zero.
func (s *MarketState) LastPrice() float64 {
	if len(s.trades) == 0 {
		return 0
	}
	return s.trades[len(s.trades)-1].Price
}
