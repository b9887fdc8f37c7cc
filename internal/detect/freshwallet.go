package detect

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/predwatch/predwatch/internal/domain"
)

// WalletHistory looks up a wallet's prior trades on the venue.
type WalletHistory interface {
	WalletTrades(ctx context.Context, address string, limit int) ([]domain.Trade, error)
}

// Verification is a persisted wallet freshness verdict.
type Verification struct {
	Fresh      bool      `json:"fresh"`
	TradeCount int       `json:"trade_count"`
	VerifiedAt time.Time `json:"verified_at"`
}

// VerificationStore persists freshness verdicts across restarts. Get
// returns nil when the wallet has never been verified.
type VerificationStore interface {
	Get(ctx context.Context, address string) (*Verification, error)
	Put(ctx context.Context, address string, v Verification) error
}

// FreshWalletAnalysis describes one fresh wallet's large bet.
type FreshWalletAnalysis struct {
	Wallet         string      `json:"wallet"`
	BetSizeUSD     float64     `json:"bet_size_usd"`
	Side           domain.Side `json:"side"`
	Price          float64     `json:"price"`
	TxHash         string      `json:"tx_hash,omitempty"`
	Timestamp      time.Time   `json:"timestamp"`
	PreviousTrades int         `json:"previous_trades"`
	FirstTrade     bool        `json:"first_trade"`
}

// FreshWalletDetector flags wallets with little or no trading history
// placing large bets. Freshness resolves through a session cache, then
// the persistent store, then a venue API lookup. Lookup errors mark the
// wallet established, never fresh.
type FreshWalletDetector struct {
	cfg     FreshWalletConfig
	history WalletHistory
	store   VerificationStore

	mu    sync.Mutex
	cache map[string]Verification
}

func NewFreshWalletDetector(cfg FreshWalletConfig, history WalletHistory, store VerificationStore) (*FreshWalletDetector, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("failed to configure fresh wallet detector: %w", err)
	}
	if history == nil {
		return nil, fmt.Errorf("failed to configure fresh wallet detector: wallet history lookup is required")
	}
	return &FreshWalletDetector{
		cfg:     cfg,
		history: history,
		store:   store,
		cache:   make(map[string]Verification),
	}, nil
}

func (d *FreshWalletDetector) Type() domain.AlertType { return domain.AlertFreshWallet }

// Analyze returns one Result per fresh wallet found among large bets,
// and no Result at all when nothing qualifies.
func (d *FreshWalletDetector) Analyze(ctx context.Context, trades []domain.Trade) []Result {
	var results []Result
	seen := make(map[string]struct{})
	for _, t := range trades {
		if t.VolumeUSD < d.cfg.MinBetSizeUSD || t.Maker == "unknown" || t.Maker == "" {
			continue
		}
		if _, dup := seen[t.Maker]; dup {
			continue
		}
		seen[t.Maker] = struct{}{}

		v, err := d.verify(ctx, t.Maker)
		if err != nil {
			log.Error().Err(err).Str("wallet", shortAddr(t.Maker)).Msg("wallet freshness verification failed")
			continue
		}
		if !v.Fresh {
			continue
		}
		analysis := FreshWalletAnalysis{
			Wallet:         t.Maker,
			BetSizeUSD:     t.VolumeUSD,
			Side:           t.Side,
			Price:          t.Price,
			TxHash:         t.TxHash,
			Timestamp:      t.Timestamp,
			PreviousTrades: v.TradeCount,
			FirstTrade:     v.TradeCount == 0,
		}
		results = append(results, Result{
			Detector: d.Type(),
			Anomaly:  true,
			Summary:  fmt.Sprintf("fresh wallet %s bet $%.0f with %d previous trades", shortAddr(t.Maker), t.VolumeUSD, v.TradeCount),
			Analysis: analysis,
		})
	}
	return results
}

func (d *FreshWalletDetector) verify(ctx context.Context, address string) (Verification, error) {
	d.mu.Lock()
	if v, ok := d.cache[address]; ok {
		d.mu.Unlock()
		return v, nil
	}
	d.mu.Unlock()

	if d.store != nil {
		stored, err := d.store.Get(ctx, address)
		if err != nil {
			log.Warn().Err(err).Str("wallet", shortAddr(address)).Msg("freshness store lookup failed, falling back to API")
		} else if stored != nil {
			d.remember(address, *stored)
			return *stored, nil
		}
	}

	log.Debug().Str("wallet", shortAddr(address)).Msg("verifying wallet freshness via API")
	history, err := d.history.WalletTrades(ctx, address, d.cfg.APILookbackLimit)
	if err != nil {
		return Verification{}, fmt.Errorf("failed to fetch wallet history: %w", err)
	}

	v := Verification{
		Fresh:      len(history) <= d.cfg.MaxPreviousTrades,
		TradeCount: len(history),
		VerifiedAt: time.Now().UTC(),
	}
	d.remember(address, v)
	if d.store != nil {
		if err := d.store.Put(ctx, address, v); err != nil {
			log.Warn().Err(err).Str("wallet", shortAddr(address)).Msg("failed to persist freshness verdict")
		}
	}
	return v, nil
}

func (d *FreshWalletDetector) remember(address string, v Verification) {
	d.mu.Lock()
	d.cache[address] = v
	d.mu.Unlock()
}

func shortAddr(addr string) string {
	if len(addr) <= 10 {
		return addr
	}
	return addr[:10] + "..."
}
