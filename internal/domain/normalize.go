package domain

import (
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Raw trade records arrive from several venue surfaces (data API, CLOB
// websocket, archived exports) with inconsistent field names and types.
// Normalize maps them onto Trade, dropping records that cannot be used.

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// NormalizeTimestamp converts unix seconds (int, float, numeric string) or
// common datetime strings to a UTC time. Returns false when unparseable.
func NormalizeTimestamp(v any) (time.Time, bool) {
	switch t := v.(type) {
	case nil:
		return time.Time{}, false
	case time.Time:
		if t.IsZero() {
			return time.Time{}, false
		}
		return t.UTC(), true
	case int:
		return unixSeconds(float64(t))
	case int64:
		return unixSeconds(float64(t))
	case float64:
		return unixSeconds(t)
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return time.Time{}, false
		}
		if secs, err := strconv.ParseFloat(s, 64); err == nil {
			return unixSeconds(secs)
		}
		for _, layout := range timestampLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts.UTC(), true
			}
		}
		return time.Time{}, false
	default:
		return time.Time{}, false
	}
}

func unixSeconds(secs float64) (time.Time, bool) {
	if secs <= 0 {
		return time.Time{}, false
	}
	sec := int64(secs)
	nsec := int64((secs - float64(sec)) * float64(time.Second))
	return time.Unix(sec, nsec).UTC(), true
}

// NormalizePrice extracts a price from the known field variants.
// Returns 0 when absent or non-numeric.
func NormalizePrice(raw map[string]any) float64 {
	return firstNumber(raw, "price", "feeRate", "outcome_price")
}

// NormalizeSize extracts a size/amount from the known field variants.
func NormalizeSize(raw map[string]any) float64 {
	return firstNumber(raw, "size", "amount", "shares")
}

// NormalizeSide maps side/type fields to BUY/SELL/UNKNOWN. A missing field
// defaults to BUY, matching venue data where takers are reported as buyers.
func NormalizeSide(raw map[string]any) Side {
	v, ok := firstValue(raw, "side", "type")
	if !ok {
		return SideBuy
	}
	s, ok := v.(string)
	if !ok {
		return SideUnknown
	}
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY":
		return SideBuy
	case "SELL":
		return SideSell
	default:
		return Side(strings.ToUpper(strings.TrimSpace(s)))
	}
}

// NormalizeMaker extracts the wallet address behind the trade.
func NormalizeMaker(raw map[string]any) string {
	if v, ok := firstValue(raw, "maker", "trader", "user"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return "unknown"
}

// NormalizeTrade builds a Trade from a raw record. A non-positive price
// always invalidates the record; a missing timestamp invalidates it only
// when requireTimestamp is set (archived snapshots may omit timestamps).
func NormalizeTrade(raw map[string]any, requireTimestamp bool) (Trade, bool) {
	price := NormalizePrice(raw)
	if price <= 0 {
		return Trade{}, false
	}

	ts, tsOK := firstValue(raw, "timestamp", "createdAt", "created_at")
	var when time.Time
	if tsOK {
		when, tsOK = NormalizeTimestamp(ts)
	}
	if requireTimestamp && !tsOK {
		return Trade{}, false
	}

	size := NormalizeSize(raw)
	trade := Trade{
		Timestamp: when,
		Price:     price,
		Size:      size,
		VolumeUSD: price * size,
		Side:      NormalizeSide(raw),
		Maker:     NormalizeMaker(raw),
	}
	if v, ok := raw["taker"].(string); ok {
		trade.Taker = v
	}
	if v, ok := firstValue(raw, "market", "market_id", "conditionId"); ok {
		if s, ok := v.(string); ok {
			trade.MarketID = s
		}
	}
	if v, ok := firstValue(raw, "transactionHash", "tx_hash"); ok {
		if s, ok := v.(string); ok {
			trade.TxHash = s
		}
	}
	return trade, true
}

// NormalizeTrades normalizes a batch, silently dropping invalid records.
func NormalizeTrades(raws []map[string]any, requireTimestamp bool) []Trade {
	out := make([]Trade, 0, len(raws))
	dropped := 0
	for _, raw := range raws {
		trade, ok := NormalizeTrade(raw, requireTimestamp)
		if !ok {
			dropped++
			continue
		}
		out = append(out, trade)
	}
	if dropped > 0 {
		log.Debug().Int("dropped", dropped).Int("kept", len(out)).Msg("normalized trade batch")
	}
	return out
}

func firstValue(raw map[string]any, keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := raw[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func firstNumber(raw map[string]any, keys ...string) float64 {
	v, ok := firstValue(raw, keys...)
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
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
