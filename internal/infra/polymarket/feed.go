package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/predwatch/predwatch/internal/domain"
)

// FeedConfig configures the market websocket feed.
type FeedConfig struct {
	URL               string
	AssetIDs          []string
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	PingInterval      time.Duration
	Buffer            int
}

// DefaultFeedConfig returns production settings for the public feed.
func DefaultFeedConfig(assetIDs []string) FeedConfig {
	return FeedConfig{
		URL:               "wss://ws-subscriptions-clob.polymarket.com/ws/market",
		AssetIDs:          assetIDs,
		ReconnectAttempts: 10,
		ReconnectDelay:    5 * time.Second,
		PingInterval:      10 * time.Second,
		Buffer:            1024,
	}
}

type subscription struct {
	Type      string   `json:"type"`
	AssetsIDs []string `json:"assets_ids"`
}

// Feed streams normalized trades from the market websocket, resubscribing
// after reconnects.
type Feed struct {
	cfg    FeedConfig
	trades chan domain.Trade

	// mu guards the asset set and serializes writes on conn; the
	// websocket allows only one concurrent writer.
	mu       sync.Mutex
	assetIDs []string
	conn     *websocket.Conn // live connection, nil between sessions
}

func NewFeed(cfg FeedConfig) *Feed {
	if cfg.Buffer <= 0 {
		cfg.Buffer = 1024
	}
	return &Feed{
		cfg:      cfg,
		trades:   make(chan domain.Trade, cfg.Buffer),
		assetIDs: append([]string(nil), cfg.AssetIDs...),
	}
}

// Trades is the stream of normalized trade events.
func (f *Feed) Trades() <-chan domain.Trade { return f.trades }

// SetAssets replaces the subscribed asset set. With a live connection
// the new subscription is sent immediately; otherwise it goes out on
// the next (re)connect. A failed resubscribe is left for the read loop
// to surface, so the reconnect carries the new set.
func (f *Feed) SetAssets(assetIDs []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.assetIDs = append([]string(nil), assetIDs...)
	if f.conn == nil {
		return
	}
	sub := subscription{Type: "MARKET", AssetsIDs: f.assetIDs}
	if err := f.conn.WriteJSON(sub); err != nil {
		log.Warn().Err(err).Msg("failed to resubscribe on live connection")
		return
	}
	log.Info().Int("assets", len(sub.AssetsIDs)).Msg("resubscribed market feed")
}

// Run connects and pumps trades until the context is cancelled or the
// reconnect budget is exhausted. The trades channel is closed on return.
func (f *Feed) Run(ctx context.Context) error {
	defer close(f.trades)

	attempts := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := f.session(ctx)
		if err == nil || ctx.Err() != nil {
			return ctx.Err()
		}

		attempts++
		if attempts > f.cfg.ReconnectAttempts {
			return fmt.Errorf("websocket feed gave up after %d reconnect attempts: %w", f.cfg.ReconnectAttempts, err)
		}
		log.Warn().Err(err).Int("attempt", attempts).Dur("delay", f.cfg.ReconnectDelay).
			Msg("websocket disconnected, reconnecting")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(f.cfg.ReconnectDelay):
		}
	}
}

// session runs one connection to completion.
func (f *Feed) session(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to dial websocket: %w", err)
	}
	defer conn.Close()
	log.Info().Str("url", f.cfg.URL).Msg("websocket connected")

	f.mu.Lock()
	f.conn = conn
	sub := subscription{Type: "MARKET", AssetsIDs: f.assetIDs}
	err = conn.WriteJSON(sub)
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.conn = nil
		f.mu.Unlock()
	}()
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	log.Info().Int("assets", len(sub.AssetsIDs)).Msg("sent market subscription")

	// Heartbeat keeps the upstream from idling us out.
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(f.cfg.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				conn.Close()
				return
			case <-ticker.C:
				f.mu.Lock()
				err := conn.WriteMessage(websocket.TextMessage, []byte("PING"))
				f.mu.Unlock()
				if err != nil {
					return
				}
			}
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("websocket read failed: %w", err)
		}
		for _, trade := range parseFeedMessage(message) {
			select {
			case f.trades <- trade:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// parseFeedMessage extracts normalized trades from one websocket frame.
// Heartbeat responses, subscription confirmations and error frames
// yield nothing.
func parseFeedMessage(message []byte) []domain.Trade {
	text := strings.TrimSpace(string(message))
	if text == "" || text == "PONG" || text == "[]" {
		return nil
	}

	var events []map[string]any
	if strings.HasPrefix(text, "[") {
		if err := json.Unmarshal(message, &events); err != nil {
			log.Warn().Str("message", truncate(text, 100)).Msg("unparseable websocket frame")
			return nil
		}
	} else {
		var event map[string]any
		if err := json.Unmarshal(message, &event); err != nil {
			log.Warn().Str("message", truncate(text, 100)).Msg("unparseable websocket frame")
			return nil
		}
		events = append(events, event)
	}

	var trades []domain.Trade
	for _, event := range events {
		switch eventType(event) {
		case "subscribed", "SUBSCRIBED", "subscription_success":
			log.Debug().Msg("websocket subscription confirmed")
		case "error", "ERROR":
			log.Error().Interface("event", event).Msg("websocket error event")
		default:
			if trade, ok := domain.NormalizeTrade(event, true); ok {
				trades = append(trades, trade)
			}
		}
	}
	return trades
}

func eventType(event map[string]any) string {
	if t, ok := event["type"].(string); ok {
		return t
	}
	if t, ok := event["event"].(string); ok {
		return t
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
