package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/lpquant/hedgebot/internal/domain"
)

// RebalanceStore implements domain.RebalanceStore using PostgreSQL. The
// short_rebalances table is append-only; rows are never updated or deleted.
type RebalanceStore struct {
	pool *pgxpool.Pool
}

// NewRebalanceStore creates a new RebalanceStore backed by the given connection pool.
func NewRebalanceStore(pool *pgxpool.Pool) *RebalanceStore {
	return &RebalanceStore{pool: pool}
}

const rebalanceSelectCols = `id, hedge_id, asset, old_short_size, new_short_size,
	realized_pnl, status, message, rebalanced_at`

func scanRebalanceRows(rows pgx.Rows) ([]domain.ShortRebalance, error) {
	var rebalances []domain.ShortRebalance
	for rows.Next() {
		var r domain.ShortRebalance
		var status string
		if err := rows.Scan(
			&r.ID, &r.HedgeID, &r.Asset, &r.OldShortSize, &r.NewShortSize,
			&r.RealizedPnL, &status, &r.Message, &r.RebalancedAt,
		); err != nil {
			return nil, err
		}
		r.Status = domain.RebalanceStatus(status)
		rebalances = append(rebalances, r)
	}
	return rebalances, rows.Err()
}

// Create appends a rebalance record.
func (s *RebalanceStore) Create(ctx context.Context, r domain.ShortRebalance) error {
	const query = `
		INSERT INTO short_rebalances (
			id, hedge_id, asset, old_short_size, new_short_size,
			realized_pnl, status, message, rebalanced_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := s.pool.Exec(ctx, query,
		r.ID, r.HedgeID, r.Asset, r.OldShortSize, r.NewShortSize,
		r.RealizedPnL, string(r.Status), r.Message, r.RebalancedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create rebalance %s: %w", r.ID, err)
	}
	return nil
}

// ListByHedge returns rebalance records for a hedge, newest first.
func (s *RebalanceStore) ListByHedge(ctx context.Context, hedgeID string, opts domain.ListOpts) ([]domain.ShortRebalance, error) {
	query := `SELECT ` + rebalanceSelectCols + `
		FROM short_rebalances
		WHERE hedge_id = $1`
	args := []any{hedgeID}

	if opts.Since != nil {
		args = append(args, *opts.Since)
		query += fmt.Sprintf(" AND rebalanced_at >= $%d", len(args))
	}
	if opts.Until != nil {
		args = append(args, *opts.Until)
		query += fmt.Sprintf(" AND rebalanced_at < $%d", len(args))
	}
	query += " ORDER BY rebalanced_at DESC"
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list rebalances for hedge %s: %w", hedgeID, err)
	}
	defer rows.Close()

	return scanRebalanceRows(rows)
}

// LastForAsset returns up to limit most-recent attempts for one hedge+asset
// at or after since, newest first.
func (s *RebalanceStore) LastForAsset(ctx context.Context, hedgeID, asset string, since time.Time, limit int) ([]domain.ShortRebalance, error) {
	query := `SELECT ` + rebalanceSelectCols + `
		FROM short_rebalances
		WHERE hedge_id = $1 AND asset = $2 AND rebalanced_at >= $3
		ORDER BY rebalanced_at DESC
		LIMIT $4`

	rows, err := s.pool.Query(ctx, query, hedgeID, asset, since, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: last rebalances for %s/%s: %w", hedgeID, asset, err)
	}
	defer rows.Close()

	return scanRebalanceRows(rows)
}

// SumRealizedPnL totals realized P&L across all recorded rebalances of a hedge.
func (s *RebalanceStore) SumRealizedPnL(ctx context.Context, hedgeID string) (decimal.Decimal, error) {
	const query = `
		SELECT COALESCE(SUM(realized_pnl), 0)
		FROM short_rebalances
		WHERE hedge_id = $1`

	var total decimal.Decimal
	if err := s.pool.QueryRow(ctx, query, hedgeID).Scan(&total); err != nil {
		return decimal.Zero, fmt.Errorf("postgres: sum realized pnl for %s: %w", hedgeID, err)
	}
	return total, nil
}

// Compile-time interface check.
var _ domain.RebalanceStore = (*RebalanceStore)(nil)
