package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/polymirror/copybot/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a PositionStore backed by the given pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

// Upsert inserts or replaces the position for a market+outcome pair.
func (s *PositionStore) Upsert(ctx context.Context, p domain.Position) error {
	const query = `
		INSERT INTO positions (
			market_id, outcome, shares, size_usd, avg_entry_price,
			realized_pnl, opened_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (market_id, outcome) DO UPDATE SET
			shares = EXCLUDED.shares,
			size_usd = EXCLUDED.size_usd,
			avg_entry_price = EXCLUDED.avg_entry_price,
			realized_pnl = EXCLUDED.realized_pnl,
			updated_at = EXCLUDED.updated_at`

	_, err := s.pool.Exec(ctx, query,
		p.MarketID, string(p.Outcome), p.Shares, p.SizeUSD, p.AvgEntryPrice,
		p.RealizedPnL, p.OpenedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert position %s/%s: %w", p.MarketID, p.Outcome, err)
	}
	return nil
}

// Delete removes a closed position.
func (s *PositionStore) Delete(ctx context.Context, marketID string, outcome domain.Outcome) error {
	_, err := s.pool.Exec(ctx,
		"DELETE FROM positions WHERE market_id = $1 AND outcome = $2",
		marketID, string(outcome),
	)
	if err != nil {
		return fmt.Errorf("postgres: delete position %s/%s: %w", marketID, outcome, err)
	}
	return nil
}

// ListOpen returns every persisted position with shares remaining.
func (s *PositionStore) ListOpen(ctx context.Context) ([]domain.Position, error) {
	const query = `
		SELECT market_id, outcome, shares, size_usd, avg_entry_price,
		       realized_pnl, opened_at, updated_at
		FROM positions
		WHERE shares > 0
		ORDER BY opened_at`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions: %w", err)
	}
	defer rows.Close()

	var out []domain.Position
	for rows.Next() {
		var p domain.Position
		var outcome string
		if err := rows.Scan(
			&p.MarketID, &outcome, &p.Shares, &p.SizeUSD, &p.AvgEntryPrice,
			&p.RealizedPnL, &p.OpenedAt, &p.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		p.Outcome = domain.Outcome(outcome)
		out = append(out, p)
	}
	return out, rows.Err()
}
