package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lpquant/hedgebot/internal/domain"
)

// SnapshotStore implements domain.SnapshotStore using PostgreSQL.
type SnapshotStore struct {
	pool *pgxpool.Pool
}

// NewSnapshotStore creates a new SnapshotStore backed by the given connection pool.
func NewSnapshotStore(pool *pgxpool.Pool) *SnapshotStore {
	return &SnapshotStore{pool: pool}
}

const snapshotSelectCols = `id, position_id, captured_at,
	asset0_amount, asset1_amount, asset0_price_usd, asset1_price_usd,
	hedge_unrealized, hedge_realized, pool_unrealized,
	collected_fees0, collected_fees1, uncollected_fees0, uncollected_fees1`

func scanSnapshotRows(rows pgx.Rows) ([]domain.PnlSnapshot, error) {
	var snapshots []domain.PnlSnapshot
	for rows.Next() {
		var s domain.PnlSnapshot
		if err := rows.Scan(
			&s.ID, &s.PositionID, &s.CapturedAt,
			&s.Asset0Amount, &s.Asset1Amount, &s.Asset0PriceUSD, &s.Asset1PriceUSD,
			&s.HedgeUnrealized, &s.HedgeRealized, &s.PoolUnrealized,
			&s.CollectedFees0, &s.CollectedFees1, &s.UncollectedFees0, &s.UncollectedFees1,
		); err != nil {
			return nil, err
		}
		snapshots = append(snapshots, s)
	}
	return snapshots, rows.Err()
}

// Create appends a snapshot.
func (s *SnapshotStore) Create(ctx context.Context, snap domain.PnlSnapshot) error {
	const query = `
		INSERT INTO pnl_snapshots (
			id, position_id, captured_at,
			asset0_amount, asset1_amount, asset0_price_usd, asset1_price_usd,
			hedge_unrealized, hedge_realized, pool_unrealized,
			collected_fees0, collected_fees1, uncollected_fees0, uncollected_fees1
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err := s.pool.Exec(ctx, query,
		snap.ID, snap.PositionID, snap.CapturedAt,
		snap.Asset0Amount, snap.Asset1Amount, snap.Asset0PriceUSD, snap.Asset1PriceUSD,
		snap.HedgeUnrealized, snap.HedgeRealized, snap.PoolUnrealized,
		snap.CollectedFees0, snap.CollectedFees1, snap.UncollectedFees0, snap.UncollectedFees1,
	)
	if err != nil {
		return fmt.Errorf("postgres: create snapshot %s: %w", snap.ID, err)
	}
	return nil
}

// ListByPosition returns snapshots for a position, newest first.
func (s *SnapshotStore) ListByPosition(ctx context.Context, positionID string, opts domain.ListOpts) ([]domain.PnlSnapshot, error) {
	query := `SELECT ` + snapshotSelectCols + `
		FROM pnl_snapshots
		WHERE position_id = $1`
	args := []any{positionID}

	if opts.Since != nil {
		args = append(args, *opts.Since)
		query += fmt.Sprintf(" AND captured_at >= $%d", len(args))
	}
	if opts.Until != nil {
		args = append(args, *opts.Until)
		query += fmt.Sprintf(" AND captured_at < $%d", len(args))
	}
	query += " ORDER BY captured_at DESC"
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
		return nil, fmt.Errorf("postgres: list snapshots for %s: %w", positionID, err)
	}
	defer rows.Close()

	return scanSnapshotRows(rows)
}

// ListBefore returns all snapshots captured before the given time, oldest
// first, for archival.
func (s *SnapshotStore) ListBefore(ctx context.Context, before time.Time) ([]domain.PnlSnapshot, error) {
	query := `SELECT ` + snapshotSelectCols + `
		FROM pnl_snapshots
		WHERE captured_at < $1
		ORDER BY captured_at`

	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list snapshots before %s: %w", before, err)
	}
	defer rows.Close()

	return scanSnapshotRows(rows)
}

// DeleteBefore prunes snapshots captured before the given time and returns
// the number of deleted rows. Callers archive first.
func (s *SnapshotStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM pnl_snapshots WHERE captured_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete snapshots before %s: %w", before, err)
	}
	return tag.RowsAffected(), nil
}

// Compile-time interface check.
var _ domain.SnapshotStore = (*SnapshotStore)(nil)
