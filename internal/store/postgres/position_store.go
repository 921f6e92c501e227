package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lpquant/hedgebot/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `id, user_id, wallet, network, nft_id, pool_address,
	asset0, asset1, asset0_decimals, asset1_decimals,
	asset0_amount, asset1_amount, asset0_price_usd, asset1_price_usd,
	tick_lower, tick_upper, liquidity, entry_value_usd, active,
	created_at, updated_at`

func scanPositionRow(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	err := row.Scan(
		&p.ID, &p.UserID, &p.Wallet, &p.Network, &p.NFTID, &p.PoolAddress,
		&p.Asset0, &p.Asset1, &p.Asset0Decimals, &p.Asset1Decimals,
		&p.Asset0Amount, &p.Asset1Amount, &p.Asset0PriceUSD, &p.Asset1PriceUSD,
		&p.TickLower, &p.TickUpper, &p.Liquidity, &p.EntryValueUSD, &p.Active,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return domain.Position{}, err
	}
	return p, nil
}

// Create inserts a new position.
func (s *PositionStore) Create(ctx context.Context, p domain.Position) error {
	const query = `
		INSERT INTO positions (
			id, user_id, wallet, network, nft_id, pool_address,
			asset0, asset1, asset0_decimals, asset1_decimals,
			asset0_amount, asset1_amount, asset0_price_usd, asset1_price_usd,
			tick_lower, tick_upper, liquidity, entry_value_usd, active,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10,
			$11, $12, $13, $14,
			$15, $16, $17, $18, $19,
			NOW(), NOW()
		)`

	_, err := s.pool.Exec(ctx, query,
		p.ID, p.UserID, p.Wallet, p.Network, p.NFTID, p.PoolAddress,
		p.Asset0, p.Asset1, p.Asset0Decimals, p.Asset1Decimals,
		p.Asset0Amount, p.Asset1Amount, p.Asset0PriceUSD, p.Asset1PriceUSD,
		p.TickLower, p.TickUpper, p.Liquidity, p.EntryValueUSD, p.Active,
	)
	if err != nil {
		return fmt.Errorf("postgres: create position %s: %w", p.ID, err)
	}
	return nil
}

// Update replaces all mutable fields of a position.
func (s *PositionStore) Update(ctx context.Context, p domain.Position) error {
	const query = `
		UPDATE positions SET
			asset0_amount    = $2,
			asset1_amount    = $3,
			asset0_price_usd = $4,
			asset1_price_usd = $5,
			tick_lower       = $6,
			tick_upper       = $7,
			liquidity        = $8,
			entry_value_usd  = $9,
			active           = $10,
			updated_at       = NOW()
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query,
		p.ID,
		p.Asset0Amount, p.Asset1Amount, p.Asset0PriceUSD, p.Asset1PriceUSD,
		p.TickLower, p.TickUpper, p.Liquidity, p.EntryValueUSD, p.Active,
	)
	if err != nil {
		return fmt.Errorf("postgres: update position %s: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update position %s: %w", p.ID, domain.ErrNotFound)
	}
	return nil
}

// GetByID fetches a position by id.
func (s *PositionStore) GetByID(ctx context.Context, id string) (domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE id = $1`

	p, err := scanPositionRow(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Position{}, fmt.Errorf("postgres: position %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", id, err)
	}
	return p, nil
}

// ListActive returns all active positions ordered by creation time.
func (s *PositionStore) ListActive(ctx context.Context) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE active ORDER BY created_at`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active positions: %w", err)
	}
	defer rows.Close()

	var positions []domain.Position
	for rows.Next() {
		p, err := scanPositionRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// Deactivate marks a position inactive, keeping the row for history.
func (s *PositionStore) Deactivate(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE positions SET active = FALSE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: deactivate position %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: deactivate position %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// Compile-time interface check.
var _ domain.PositionStore = (*PositionStore)(nil)
