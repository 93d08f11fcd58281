package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/polymirror/copybot/internal/domain"
)

// CopyLogStore implements domain.CopyLogStore using PostgreSQL.
type CopyLogStore struct {
	pool *pgxpool.Pool
}

// NewCopyLogStore creates a CopyLogStore backed by the given pool.
func NewCopyLogStore(pool *pgxpool.Pool) *CopyLogStore {
	return &CopyLogStore{pool: pool}
}

// Record appends one decision row.
func (s *CopyLogStore) Record(ctx context.Context, e domain.CopyLogEntry) error {
	const query = `
		INSERT INTO copy_log (
			id, wallet, market_id, outcome, side, price, size_usd,
			decision, reason, order_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := s.pool.Exec(ctx, query,
		e.ID, e.Wallet, e.MarketID, string(e.Outcome), string(e.Side),
		e.Price, e.SizeUSD, string(e.Decision), e.Reason, e.OrderID, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: record copy decision: %w", err)
	}
	return nil
}

// ListBefore returns entries older than the cutoff, oldest first. Used by
// the archiver to page out cold rows.
func (s *CopyLogStore) ListBefore(ctx context.Context, before time.Time) ([]domain.CopyLogEntry, error) {
	const query = `
		SELECT id, wallet, market_id, outcome, side, price, size_usd,
		       decision, reason, order_id, created_at
		FROM copy_log
		WHERE created_at < $1
		ORDER BY created_at`

	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list copy log: %w", err)
	}
	defer rows.Close()

	var out []domain.CopyLogEntry
	for rows.Next() {
		var e domain.CopyLogEntry
		var outcome, side, decision string
		if err := rows.Scan(
			&e.ID, &e.Wallet, &e.MarketID, &outcome, &side, &e.Price, &e.SizeUSD,
			&decision, &e.Reason, &e.OrderID, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan copy log row: %w", err)
		}
		e.Outcome = domain.Outcome(outcome)
		e.Side = domain.TradeSide(side)
		e.Decision = domain.CopyDecision(decision)
		out = append(out, e)
	}
	return out, rows.Err()
}

// DeleteBefore removes entries older than the cutoff and returns how many
// rows went away.
func (s *CopyLogStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, "DELETE FROM copy_log WHERE created_at < $1", before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete copy log: %w", err)
	}
	return tag.RowsAffected(), nil
}
