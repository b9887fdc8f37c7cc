// Package postgres implements the archive repositories on PostgreSQL.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/predwatch/predwatch/internal/domain"
	"github.com/predwatch/predwatch/internal/persistence"
)

const tradeColumns = "market_id, ts, price, size, volume_usd, side, maker, taker, tx_hash"

type tradesRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewTradesRepo creates a PostgreSQL trade archive.
func NewTradesRepo(db *sqlx.DB, timeout time.Duration) persistence.TradesRepo {
	return &tradesRepo{db: db, timeout: timeout}
}

// InsertBatch stores a batch atomically. Records whose (market_id,
// tx_hash, ts) already exist are skipped so overlapping poll windows do
// not duplicate the archive.
func (r *tradesRepo) InsertBatch(ctx context.Context, trades []domain.Trade) (int64, error) {
	if len(trades) == 0 {
		return 0, nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout*time.Duration(len(trades)/100+1))
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO trades (`+tradeColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (market_id, tx_hash, ts) DO NOTHING`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	var inserted int64
	for _, t := range trades {
		res, err := stmt.ExecContext(ctx,
			t.MarketID, t.Timestamp, t.Price, t.Size, t.VolumeUSD,
			string(t.Side), t.Maker, t.Taker, t.TxHash)
		if err != nil {
			if pqErr, ok := err.(*pq.Error); ok {
				return 0, fmt.Errorf("failed to insert trade in batch (%s): %w", pqErr.Code, err)
			}
			return 0, fmt.Errorf("failed to insert trade in batch: %w", err)
		}
		n, _ := res.RowsAffected()
		inserted += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit trade batch: %w", err)
	}
	return inserted, nil
}

func (r *tradesRepo) ListByMarket(ctx context.Context, marketID string, tr persistence.TimeRange, limit int) ([]domain.Trade, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT ` + tradeColumns + `
		FROM trades
		WHERE market_id = $1 AND ts >= $2 AND ts <= $3
		ORDER BY ts ASC
		LIMIT $4`

	var trades []domain.Trade
	if err := r.db.SelectContext(ctx, &trades, query, marketID, tr.From, tr.To, limit); err != nil {
		return nil, fmt.Errorf("failed to query trades by market: %w", err)
	}
	return trades, nil
}

func (r *tradesRepo) ListRange(ctx context.Context, tr persistence.TimeRange, limit int) ([]domain.Trade, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT ` + tradeColumns + `
		FROM trades
		WHERE ts >= $1 AND ts <= $2
		ORDER BY ts ASC
		LIMIT $3`

	var trades []domain.Trade
	if err := r.db.SelectContext(ctx, &trades, query, tr.From, tr.To, limit); err != nil {
		return nil, fmt.Errorf("failed to query trade range: %w", err)
	}
	return trades, nil
}

// WalletTrades also satisfies the fresh wallet detector's history
// lookup, so archived history can answer freshness checks without an
// API round trip.
func (r *tradesRepo) WalletTrades(ctx context.Context, address string, limit int) ([]domain.Trade, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT ` + tradeColumns + `
		FROM trades
		WHERE maker = $1 OR taker = $1
		ORDER BY ts DESC
		LIMIT $2`

	var trades []domain.Trade
	if err := r.db.SelectContext(ctx, &trades, query, address, limit); err != nil {
		return nil, fmt.Errorf("failed to query wallet trades: %w", err)
	}
	return trades, nil
}

func (r *tradesRepo) Count(ctx context.Context, tr persistence.TimeRange) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var count int64
	err := r.db.QueryRowxContext(ctx,
		`SELECT COUNT(*) FROM trades WHERE ts >= $1 AND ts <= $2`,
		tr.From, tr.To).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count trades: %w", err)
	}
	return count, nil
}
