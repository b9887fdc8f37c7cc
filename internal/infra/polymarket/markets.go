package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Market is one tradable market from the catalog API.
type Market struct {
	ConditionID    string   `json:"condition_id"`
	Question       string   `json:"question"`
	Volume24h      float64  `json:"volume_24h"`
	LastTradePrice float64  `json:"last_trade_price"`
	TokenIDs       []string `json:"token_ids,omitempty"`
}

// MarketsClientConfig configures the catalog client.
type MarketsClientConfig struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

// DefaultMarketsClientConfig returns production settings for the
// public catalog API.
func DefaultMarketsClientConfig() MarketsClientConfig {
	return MarketsClientConfig{
		BaseURL:   "https://gamma-api.polymarket.com",
		Timeout:   10 * time.Second,
		UserAgent: "predwatch/1.0",
	}
}

// MarketsClient discovers active markets worth monitoring.
type MarketsClient struct {
	baseURL   string
	userAgent string
	http      *http.Client
}

func NewMarketsClient(cfg MarketsClientConfig) *MarketsClient {
	if cfg.BaseURL == "" {
		cfg = DefaultMarketsClientConfig()
	}
	return &MarketsClient{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		userAgent: cfg.UserAgent,
		http:      &http.Client{Timeout: cfg.Timeout},
	}
}

// ActiveMarkets fetches open markets with at least minVolume 24h volume,
// sorted by volume descending, at most maxMarkets of them.
func (c *MarketsClient) ActiveMarkets(ctx context.Context, minVolume float64, maxMarkets int) ([]Market, error) {
	params := url.Values{
		"active": {"true"},
		"closed": {"false"},
		"limit":  {strconv.Itoa(maxMarkets)},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/markets?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build markets request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch markets: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch markets: unexpected status %d", resp.StatusCode)
	}

	raws, err := decodeMarketList(resp.Body)
	if err != nil {
		return nil, err
	}

	markets := make([]Market, 0, len(raws))
	for _, raw := range raws {
		m, ok := parseMarket(raw)
		if !ok || m.Volume24h < minVolume {
			continue
		}
		markets = append(markets, m)
	}

	sort.SliceStable(markets, func(i, j int) bool {
		return markets[i].Volume24h > markets[j].Volume24h
	})
	if len(markets) > maxMarkets {
		markets = markets[:maxMarkets]
	}
	log.Debug().Int("raw", len(raws)).Int("eligible", len(markets)).Msg("discovered markets")
	return markets, nil
}

// decodeMarketList accepts both a bare list and the wrapped forms the
// catalog API has served over time ({"data": [...]} or {"markets": [...]}).
func decodeMarketList(r io.Reader) ([]map[string]any, error) {
	var payload any
	if err := json.NewDecoder(r).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode markets: %w", err)
	}

	switch v := payload.(type) {
	case []any:
		return toRawList(v), nil
	case map[string]any:
		for _, key := range []string{"data", "markets"} {
			if list, ok := v[key].([]any); ok {
				return toRawList(list), nil
			}
		}
	}
	return nil, fmt.Errorf("failed to decode markets: unexpected payload shape")
}

func toRawList(list []any) []map[string]any {
	out := make([]map[string]any, 0, len(list))
	for _, item := range list {
		if raw, ok := item.(map[string]any); ok {
			out = append(out, raw)
		}
	}
	return out
}

func parseMarket(raw map[string]any) (Market, bool) {
	conditionID, _ := raw["conditionId"].(string)
	if conditionID == "" {
		return Market{}, false
	}
	m := Market{
		ConditionID:    conditionID,
		Volume24h:      anyToFloat(raw["volume24hr"]),
		LastTradePrice: anyToFloat(raw["lastTradePrice"]),
		TokenIDs:       parseTokenIDs(raw["clobTokenIds"]),
	}
	if q, ok := raw["question"].(string); ok {
		m.Question = q
	}
	return m, true
}

// parseTokenIDs handles both a JSON-encoded string and a native list.
func parseTokenIDs(v any) []string {
	switch t := v.(type) {
	case string:
		var ids []string
		if err := json.Unmarshal([]byte(t), &ids); err != nil {
			return nil
		}
		return ids
	case []any:
		var ids []string
		for _, item := range t {
			if s, ok := item.(string); ok {
				ids = append(ids, s)
			}
		}
		return ids
	default:
		return nil
	}
}

func anyToFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}
