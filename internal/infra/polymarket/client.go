// Package polymarket talks to the Polymarket data API and trade
// websocket, returning normalized trades.
package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/predwatch/predwatch/internal/domain"
)

const (
	// maxTradesLimit is the API's per-request cap.
	maxTradesLimit = 500
	// marketBatchSize keeps the market filter under URI length limits.
	marketBatchSize = 25
)

// ClientConfig configures the data API client.
type ClientConfig struct {
	BaseURL           string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	UserAgent         string
}

// DefaultClientConfig returns production settings for the public API.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		BaseURL:           "https://data-api.polymarket.com",
		Timeout:           10 * time.Second,
		RequestsPerSecond: 5,
		Burst:             10,
		UserAgent:         "predwatch/1.0",
	}
}

// Client is a rate-limited data API client behind a circuit breaker.
// Safe for concurrent use.
type Client struct {
	baseURL   string
	userAgent string
	http      *http.Client
	limiter   *rate.Limiter
	breaker   *gobreaker.CircuitBreaker
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.BaseURL == "" {
		cfg = DefaultClientConfig()
	}
	settings := gobreaker.Settings{
		Name:    "polymarket-data-api",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("circuit breaker state change")
		},
	}
	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		userAgent: cfg.UserAgent,
		http:      &http.Client{Timeout: cfg.Timeout},
		limiter:   rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		breaker:   gobreaker.NewCircuitBreaker(settings),
	}
}

// MarketTrades fetches trades for one market.
func (c *Client) MarketTrades(ctx context.Context, marketID string, limit, offset int) ([]domain.Trade, error) {
	params := url.Values{
		"market": {marketID},
		"limit":  {strconv.Itoa(capLimit(limit))},
		"offset": {strconv.Itoa(offset)},
	}
	return c.fetchTrades(ctx, params)
}

// RecentTrades fetches recent trades across the given markets, batching
// the market filter to stay under URI length limits. An empty market
// list fetches platform-wide trades. Failed batches are logged and
// skipped so one bad batch does not lose the rest.
func (c *Client) RecentTrades(ctx context.Context, marketIDs []string, limit int) ([]domain.Trade, error) {
	if len(marketIDs) == 0 {
		params := url.Values{"limit": {strconv.Itoa(capLimit(limit))}}
		return c.fetchTrades(ctx, params)
	}

	var all []domain.Trade
	failures := 0
	for start := 0; start < len(marketIDs); start += marketBatchSize {
		end := start + marketBatchSize
		if end > len(marketIDs) {
			end = len(marketIDs)
		}
		params := url.Values{
			"market": {strings.Join(marketIDs[start:end], ",")},
			"limit":  {strconv.Itoa(capLimit(limit))},
		}
		trades, err := c.fetchTrades(ctx, params)
		if err != nil {
			failures++
			log.Warn().Err(err).Int("batch_start", start).Msg("trade batch fetch failed")
			continue
		}
		all = append(all, trades...)
	}
	if failures > 0 && len(all) == 0 {
		return nil, fmt.Errorf("failed to fetch recent trades: all %d batches failed", failures)
	}
	return all, nil
}

// WalletTrades fetches a wallet's trade history. Satisfies the fresh
// wallet detector's history lookup.
func (c *Client) WalletTrades(ctx context.Context, address string, limit int) ([]domain.Trade, error) {
	params := url.Values{
		"user":  {address},
		"limit": {strconv.Itoa(capLimit(limit))},
	}
	return c.fetchTrades(ctx, params)
}

func (c *Client) fetchTrades(ctx context.Context, params url.Values) ([]domain.Trade, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("failed to acquire rate limit: %w", err)
	}

	result, err := c.breaker.Execute(func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/trades?"+params.Encode(), nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		if c.userAgent != "" {
			req.Header.Set("User-Agent", c.userAgent)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
		}
		var raws []map[string]any
		if err := json.NewDecoder(resp.Body).Decode(&raws); err != nil {
			return nil, fmt.Errorf("failed to decode trades: %w", err)
		}
		return raws, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch trades: %w", err)
	}

	raws := result.([]map[string]any)
	trades := domain.NormalizeTrades(raws, true)
	log.Debug().Int("raw", len(raws)).Int("normalized", len(trades)).Msg("fetched trades")
	return trades, nil
}

func capLimit(limit int) int {
	if limit <= 0 || limit > maxTradesLimit {
		return maxTradesLimit
	}
	return limit
}
