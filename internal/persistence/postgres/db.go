package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/predwatch/predwatch/internal/persistence"
)

// Schema creates the archive tables when they do not exist yet.
const Schema = `
CREATE TABLE IF NOT EXISTS trades (
	id         BIGSERIAL PRIMARY KEY,
	market_id  TEXT NOT NULL,
	ts         TIMESTAMPTZ NOT NULL,
	price      DOUBLE PRECISION NOT NULL,
	size       DOUBLE PRECISION NOT NULL,
	volume_usd DOUBLE PRECISION NOT NULL,
	side       TEXT NOT NULL,
	maker      TEXT NOT NULL,
	taker      TEXT NOT NULL DEFAULT '',
	tx_hash    TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (market_id, tx_hash, ts)
);
CREATE INDEX IF NOT EXISTS trades_ts_idx ON trades (ts);
CREATE INDEX IF NOT EXISTS trades_maker_idx ON trades (maker);
CREATE INDEX IF NOT EXISTS trades_taker_idx ON trades (taker);

CREATE TABLE IF NOT EXISTS alerts (
	id                  TEXT PRIMARY KEY,
	market_id           TEXT NOT NULL,
	alert_type          TEXT NOT NULL,
	severity            TEXT NOT NULL,
	confidence          DOUBLE PRECISION NOT NULL,
	multi_metric        BOOLEAN NOT NULL,
	ts                  TIMESTAMPTZ NOT NULL,
	predicted_direction TEXT NOT NULL,
	price_at_alert      DOUBLE PRECISION NOT NULL,
	evidence            JSONB,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS alerts_market_ts_idx ON alerts (market_id, ts DESC);
CREATE INDEX IF NOT EXISTS alerts_ts_idx ON alerts (ts DESC);
`

// Open connects, verifies connectivity and applies the schema.
func Open(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return db, nil
}

// NewRepository wires both repos onto one connection pool.
func NewRepository(db *sqlx.DB, timeout time.Duration) persistence.Repository {
	return persistence.Repository{
		Trades: NewTradesRepo(db, timeout),
		Alerts: NewAlertsRepo(db, timeout),
	}
}

// Health reports connectivity and pool usage.
type Health struct {
	db *sqlx.DB
}

func NewHealth(db *sqlx.DB) *Health { return &Health{db: db} }

func (h *Health) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return h.db.PingContext(ctx)
}

func (h *Health) Health(ctx context.Context) persistence.HealthCheck {
	started := time.Now()
	check := persistence.HealthCheck{Healthy: true, LastCheck: started.UTC()}

	if err := h.Ping(ctx); err != nil {
		check.Healthy = false
		check.Errors = append(check.Errors, err.Error())
	}

	stats := h.db.Stats()
	check.ConnectionPool = map[string]int{
		"open":   stats.OpenConnections,
		"in_use": stats.InUse,
		"idle":   stats.Idle,
		"max":    stats.MaxOpenConnections,
	}
	check.ResponseTimeMS = time.Since(started).Milliseconds()
	return check
}
