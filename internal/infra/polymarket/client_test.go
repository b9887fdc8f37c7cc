package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tradeJSON(market string, price, size float64, ts int64) map[string]any {
	return map[string]any{
		"market":    market,
		"price":     price,
		"size":      size,
		"side":      "BUY",
		"maker":     "0xmaker",
		"timestamp": ts,
	}
}

func newTestClient(handler http.HandlerFunc) (*Client, *httptest.Server) {
	srv := httptest.NewServer(handler)
	client := NewClient(ClientConfig{
		BaseURL:           srv.URL,
		Timeout:           2 * time.Second,
		RequestsPerSecond: 1000,
		Burst:             1000,
		UserAgent:         "predwatch-test",
	})
	return client, srv
}

func TestClient_MarketTrades(t *testing.T) {
	var gotQuery map[string]string
	client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/trades", r.URL.Path)
		gotQuery = map[string]string{
			"market": r.URL.Query().Get("market"),
			"limit":  r.URL.Query().Get("limit"),
			"offset": r.URL.Query().Get("offset"),
		}
		json.NewEncoder(w).Encode([]map[string]any{
			tradeJSON("mkt-1", 0.55, 100, time.Now().Unix()),
		})
	})
	defer srv.Close()

	trades, err := client.MarketTrades(context.Background(), "mkt-1", 100, 50)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "mkt-1", trades[0].MarketID)
	assert.Equal(t, 0.55, trades[0].Price)
	assert.Equal(t, 55.0, trades[0].VolumeUSD)

	assert.Equal(t, "mkt-1", gotQuery["market"])
	assert.Equal(t, "100", gotQuery["limit"])
	assert.Equal(t, "50", gotQuery["offset"])
}

func TestClient_LimitCappedAtAPIMax(t *testing.T) {
	var gotLimit string
	client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		gotLimit = r.URL.Query().Get("limit")
		w.Write([]byte("[]"))
	})
	defer srv.Close()

	_, err := client.MarketTrades(context.Background(), "mkt-1", 9999, 0)
	require.NoError(t, err)
	assert.Equal(t, "500", gotLimit)

	_, err = client.MarketTrades(context.Background(), "mkt-1", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, "500", gotLimit)
}

func TestClient_RecentTradesBatchesMarkets(t *testing.T) {
	markets := make([]string, 30)
	for i := range markets {
		markets[i] = fmt.Sprintf("mkt-%d", i)
	}

	var batches [][]string
	client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		batch := strings.Split(r.URL.Query().Get("market"), ",")
		batches = append(batches, batch)
		json.NewEncoder(w).Encode([]map[string]any{
			tradeJSON(batch[0], 0.50, 10, time.Now().Unix()),
		})
	})
	defer srv.Close()

	trades, err := client.RecentTrades(context.Background(), markets, 100)
	require.NoError(t, err)
	assert.Len(t, trades, 2, "one trade per batch response")

	require.Len(t, batches, 2)
	assert.Len(t, batches[0], 25)
	assert.Len(t, batches[1], 5)
	assert.Equal(t, "mkt-0", batches[0][0])
	assert.Equal(t, "mkt-25", batches[1][0])
}

func TestClient_RecentTradesNoMarketFilter(t *testing.T) {
	client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		assert.False(t, r.URL.Query().Has("market"))
		json.NewEncoder(w).Encode([]map[string]any{
			tradeJSON("anything", 0.40, 20, time.Now().Unix()),
		})
	})
	defer srv.Close()

	trades, err := client.RecentTrades(context.Background(), nil, 50)
	require.NoError(t, err)
	assert.Len(t, trades, 1)
}

func TestClient_WalletTrades(t *testing.T) {
	var gotUser string
	client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		gotUser = r.URL.Query().Get("user")
		json.NewEncoder(w).Encode([]map[string]any{
			tradeJSON("mkt-1", 0.60, 50, time.Now().Unix()),
		})
	})
	defer srv.Close()

	trades, err := client.WalletTrades(context.Background(), "0xabc", 100)
	require.NoError(t, err)
	assert.Len(t, trades, 1)
	assert.Equal(t, "0xabc", gotUser)
}

func TestClient_ServerErrorSurfaces(t *testing.T) {
	client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	defer srv.Close()

	_, err := client.MarketTrades(context.Background(), "mkt-1", 10, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestClient_InvalidRecordsDropped(t *testing.T) {
	client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]map[string]any{
			tradeJSON("mkt-1", 0.55, 100, time.Now().Unix()),
			{"market": "mkt-1", "price": 0, "size": 10},   // non-positive price
			{"market": "mkt-1", "price": 0.5, "size": 10}, // no timestamp
		})
	})
	defer srv.Close()

	trades, err := client.MarketTrades(context.Background(), "mkt-1", 10, 0)
	require.NoError(t, err)
	assert.Len(t, trades, 1)
}

func TestClient_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	calls := 0
	client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "down", http.StatusBadGateway)
	})
	defer srv.Close()

	for i := 0; i < 5; i++ {
		_, err := client.MarketTrades(context.Background(), "mkt-1", 10, 0)
		require.Error(t, err)
	}
	assert.Equal(t, 5, calls)

	// The breaker is open now; requests fail fast without hitting the server.
	_, err := client.MarketTrades(context.Background(), "mkt-1", 10, 0)
	require.Error(t, err)
	assert.Equal(t, 5, calls)
}

func TestClient_CancelledContext(t *testing.T) {
	client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("[]"))
	})
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.MarketTrades(ctx, "mkt-1", 10, 0)
	assert.Error(t, err)
}
