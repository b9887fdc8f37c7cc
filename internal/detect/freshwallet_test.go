package detect

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/predwatch/predwatch/internal/domain"
)

type fakeHistory struct {
	trades map[string][]domain.Trade
	err    error
	calls  map[string]int
}

func (f *fakeHistory) WalletTrades(_ context.Context, address string, _ int) ([]domain.Trade, error) {
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[address]++
	if f.err != nil {
		return nil, f.err
	}
	return f.trades[address], nil
}

type fakeStore struct {
	verdicts map[string]Verification
	puts     int
}

func (f *fakeStore) Get(_ context.Context, address string) (*Verification, error) {
	if v, ok := f.verdicts[address]; ok {
		return &v, nil
	}
	return nil, nil
}

func (f *fakeStore) Put(_ context.Context, address string, v Verification) error {
	if f.verdicts == nil {
		f.verdicts = make(map[string]Verification)
	}
	f.verdicts[address] = v
	f.puts++
	return nil
}

func freshConfig() FreshWalletConfig {
	return FreshWalletConfig{MinBetSizeUSD: 5000, APILookbackLimit: 50, MaxPreviousTrades: 2}
}

func bigBet(maker string, size float64) domain.Trade {
	return mkTrade(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC), 0.5, size, domain.SideBuy, maker)
}

func TestFreshWalletDetector_FlagsFreshWallet(t *testing.T) {
	history := &fakeHistory{trades: map[string][]domain.Trade{
		"0xfresh": {},
		"0xknown": make([]domain.Trade, 40),
	}}
	d, err := NewFreshWalletDetector(freshConfig(), history, &fakeStore{})
	require.NoError(t, err)

	trades := []domain.Trade{
		bigBet("0xfresh", 20000),
		bigBet("0xknown", 30000),
		bigBet("0xsmall", 100), // below min bet size
	}
	results := d.Analyze(context.Background(), trades)
	require.Len(t, results, 1)

	analysis := results[0].Analysis.(FreshWalletAnalysis)
	assert.Equal(t, "0xfresh", analysis.Wallet)
	assert.Equal(t, 10000.0, analysis.BetSizeUSD)
	assert.Equal(t, 0, analysis.PreviousTrades)
	assert.True(t, analysis.FirstTrade)
	assert.Equal(t, domain.AlertFreshWallet, results[0].Detector)
}

func TestFreshWalletDetector_SessionCacheSkipsRepeatLookups(t *testing.T) {
	history := &fakeHistory{trades: map[string][]domain.Trade{"0xfresh": {}}}
	d, err := NewFreshWalletDetector(freshConfig(), history, nil)
	require.NoError(t, err)

	batch := []domain.Trade{bigBet("0xfresh", 20000)}
	_ = d.Analyze(context.Background(), batch)
	_ = d.Analyze(context.Background(), batch)
	assert.Equal(t, 1, history.calls["0xfresh"])
}

func TestFreshWalletDetector_StoreVerdictShortCircuitsAPI(t *testing.T) {
	history := &fakeHistory{}
	store := &fakeStore{verdicts: map[string]Verification{
		"0xfresh": {Fresh: true, TradeCount: 1, VerifiedAt: time.Now().UTC()},
	}}
	d, err := NewFreshWalletDetector(freshConfig(), history, store)
	require.NoError(t, err)

	results := d.Analyze(context.Background(), []domain.Trade{bigBet("0xfresh", 20000)})
	require.Len(t, results, 1)
	assert.Equal(t, 0, history.calls["0xfresh"])
	assert.Equal(t, 1, results[0].Analysis.(FreshWalletAnalysis).PreviousTrades)
}

func TestFreshWalletDetector_LookupErrorMeansNotFresh(t *testing.T) {
	history := &fakeHistory{err: errors.New("venue unavailable")}
	d, err := NewFreshWalletDetector(freshConfig(), history, nil)
	require.NoError(t, err)

	results := d.Analyze(context.Background(), []domain.Trade{bigBet("0xfresh", 20000)})
	assert.Empty(t, results)
}

func TestFreshWalletDetector_PersistsVerdict(t *testing.T) {
	history := &fakeHistory{trades: map[string][]domain.Trade{"0xfresh": {}}}
	store := &fakeStore{}
	d, err := NewFreshWalletDetector(freshConfig(), history, store)
	require.NoError(t, err)

	_ = d.Analyze(context.Background(), []domain.Trade{bigBet("0xfresh", 20000)})
	require.Equal(t, 1, store.puts)
	assert.True(t, store.verdicts["0xfresh"].Fresh)
}
