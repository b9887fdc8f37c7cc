// Package redis persists wallet freshness verdicts with a TTL so
// restarts do not re-verify every wallet against the venue API.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"

	"github.com/predwatch/predwatch/internal/detect"
)

const keyPrefix = "predwatch:freshness:"

// FreshnessStore implements the detector's verification store on Redis.
// Verdicts expire after the TTL; an expired verdict triggers a fresh
// API verification on next sight of the wallet.
type FreshnessStore struct {
	client goredis.Cmdable
	ttl    time.Duration
}

func NewFreshnessStore(client goredis.Cmdable, ttl time.Duration) *FreshnessStore {
	return &FreshnessStore{client: client, ttl: ttl}
}

// Connect dials Redis and verifies connectivity.
func Connect(ctx context.Context, addr string, db int, ttl time.Duration) (*FreshnessStore, error) {
	client := goredis.NewClient(&goredis.Options{Addr: addr, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	log.Info().Str("addr", addr).Int("db", db).Dur("ttl", ttl).Msg("freshness store connected")
	return NewFreshnessStore(client, ttl), nil
}

// Ping reports backend connectivity, for health checks.
func (s *FreshnessStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *FreshnessStore) Get(ctx context.Context, address string) (*detect.Verification, error) {
	data, err := s.client.Get(ctx, keyPrefix+address).Bytes()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read freshness verdict: %w", err)
	}

	var v detect.Verification
	if err := json.Unmarshal(data, &v); err != nil {
		// A corrupt record is treated as unknown so the wallet gets
		// re-verified rather than blocking detection.
		log.Warn().Err(err).Str("wallet", address).Msg("discarding corrupt freshness verdict")
		return nil, nil
	}
	return &v, nil
}

func (s *FreshnessStore) Put(ctx context.Context, address string, v detect.Verification) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal freshness verdict: %w", err)
	}
	if err := s.client.Set(ctx, keyPrefix+address, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store freshness verdict: %w", err)
	}
	return nil
}

var _ detect.VerificationStore = (*FreshnessStore)(nil)
