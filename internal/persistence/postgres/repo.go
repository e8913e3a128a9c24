package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/quantforge/tickpipe/internal/market"
)

// Repo persists bars and labels to PostgreSQL for consumers that prefer a
// queryable store over the parquet snapshot.
type Repo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewRepo wraps an open connection pool.
func NewRepo(db *sqlx.DB, timeout time.Duration) *Repo {
	return &Repo{db: db, timeout: timeout}
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS bars (
	symbol         TEXT        NOT NULL,
	bar_id         BIGINT      NOT NULL,
	start_time     TIMESTAMPTZ NOT NULL,
	end_time       TIMESTAMPTZ NOT NULL,
	open           DOUBLE PRECISION NOT NULL,
	high           DOUBLE PRECISION NOT NULL,
	low            DOUBLE PRECISION NOT NULL,
	close          DOUBLE PRECISION NOT NULL,
	volume         DOUBLE PRECISION NOT NULL,
	vwap           DOUBLE PRECISION NOT NULL,
	trade_count    INT         NOT NULL,
	bar_kind       TEXT        NOT NULL,
	kind_parameter DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (symbol, bar_kind, bar_id)
);

CREATE TABLE IF NOT EXISTS labels (
	symbol              TEXT   NOT NULL,
	bar_id              BIGINT NOT NULL,
	horizon_us          BIGINT NOT NULL,
	raw_return_bps      DOUBLE PRECISION,
	cost_bps            DOUBLE PRECISION,
	adjusted_return_bps DOUBLE PRECISION,
	class               SMALLINT,
	clipped_return      DOUBLE PRECISION,
	is_valid            BOOLEAN NOT NULL,
	PRIMARY KEY (symbol, bar_id, horizon_us)
);
`

// EnsureSchema creates the tables if they do not exist.
func (r *Repo) EnsureSchema(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if _, err := r.db.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

// InsertBars writes a bar batch atomically.
func (r *Repo) InsertBars(ctx context.Context, symbol string, bars []market.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO bars (symbol, bar_id, start_time, end_time, open, high, low, close,
		                  volume, vwap, trade_count, bar_kind, kind_parameter)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`)
	if err != nil {
		return fmt.Errorf("failed to prepare bar insert: %w", err)
	}
	defer stmt.Close()

	for _, b := range bars {
		_, err := stmt.ExecContext(ctx,
			symbol, b.ID, b.StartTime, b.EndTime, b.Open, b.High, b.Low, b.Close,
			b.Volume, b.VWAP, b.TradeCount, string(b.Kind), b.KindParam)
		if err != nil {
			if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
				return fmt.Errorf("duplicate bar %d: %w", b.ID, err)
			}
			return fmt.Errorf("failed to insert bar %d: %w", b.ID, err)
		}
	}
	return tx.Commit()
}

// InsertLabels writes a label batch atomically. Invalid labels persist with
// NULL return columns so downstream joins stay 1:1 with bars.
func (r *Repo) InsertLabels(ctx context.Context, symbol string, labels []market.Label) error {
	if len(labels) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO labels (symbol, bar_id, horizon_us, raw_return_bps, cost_bps,
		                    adjusted_return_bps, class, clipped_return, is_valid)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`)
	if err != nil {
		return fmt.Errorf("failed to prepare label insert: %w", err)
	}
	defer stmt.Close()

	for _, l := range labels {
		var raw, cost, adjusted, clipped any
		var class any
		if l.IsValid {
			raw, cost, adjusted, clipped = l.RawReturnBps, l.CostBps, l.AdjustedReturnBps, l.ClippedReturn
			class = int(l.Class)
		}
		_, err := stmt.ExecContext(ctx,
			symbol, l.BarID, l.Horizon.Microseconds(), raw, cost, adjusted, class, clipped, l.IsValid)
		if err != nil {
			return fmt.Errorf("failed to insert label %d: %w", l.BarID, err)
		}
	}
	return tx.Commit()
}

// CountBars reports how many bars are stored for a symbol and rule.
func (r *Repo) CountBars(ctx context.Context, symbol string, kind market.BarKind) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var n int
	err := r.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM bars WHERE symbol = $1 AND bar_kind = $2`, symbol, string(kind))
	if err != nil {
		return 0, fmt.Errorf("failed to count bars: %w", err)
	}
	return n, nil
}
