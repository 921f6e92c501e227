package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lpquant/hedgebot/internal/domain"
)

// HedgeStore implements domain.HedgeStore using PostgreSQL. Account
// assignments are stored as nullable text columns: NULL means unresolved,
// empty string means the main account, anything else is a sub-account
// address.
type HedgeStore struct {
	pool *pgxpool.Pool
}

// NewHedgeStore creates a new HedgeStore backed by the given connection pool.
func NewHedgeStore(pool *pgxpool.Pool) *HedgeStore {
	return &HedgeStore{pool: pool}
}

const hedgeSelectCols = `id, position_id, user_id, target, tolerance, active,
	asset0_account, asset1_account, created_at, updated_at`

func accountColumn(a domain.AccountAssignment) *string {
	if !a.Resolved {
		return nil
	}
	sub := a.SubAccount
	return &sub
}

func accountFromColumn(col *string) domain.AccountAssignment {
	if col == nil {
		return domain.AccountAssignment{}
	}
	return domain.AccountAssignment{Resolved: true, SubAccount: *col}
}

func scanHedgeRow(row pgx.Row) (domain.Hedge, error) {
	var h domain.Hedge
	var acct0, acct1 *string

	err := row.Scan(
		&h.ID, &h.PositionID, &h.UserID, &h.Target, &h.Tolerance, &h.Active,
		&acct0, &acct1, &h.CreatedAt, &h.UpdatedAt,
	)
	if err != nil {
		return domain.Hedge{}, err
	}
	h.Asset0Account = accountFromColumn(acct0)
	h.Asset1Account = accountFromColumn(acct1)
	return h, nil
}

// Create inserts a new hedge.
func (s *HedgeStore) Create(ctx context.Context, h domain.Hedge) error {
	const query = `
		INSERT INTO hedges (
			id, position_id, user_id, target, tolerance, active,
			asset0_account, asset1_account, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())`

	_, err := s.pool.Exec(ctx, query,
		h.ID, h.PositionID, h.UserID, h.Target, h.Tolerance, h.Active,
		accountColumn(h.Asset0Account), accountColumn(h.Asset1Account),
	)
	if err != nil {
		return fmt.Errorf("postgres: create hedge %s: %w", h.ID, err)
	}
	return nil
}

// Update replaces all mutable fields of a hedge.
func (s *HedgeStore) Update(ctx context.Context, h domain.Hedge) error {
	const query = `
		UPDATE hedges SET
			target         = $2,
			tolerance      = $3,
			active         = $4,
			asset0_account = $5,
			asset1_account = $6,
			updated_at     = NOW()
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query,
		h.ID, h.Target, h.Tolerance, h.Active,
		accountColumn(h.Asset0Account), accountColumn(h.Asset1Account),
	)
	if err != nil {
		return fmt.Errorf("postgres: update hedge %s: %w", h.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update hedge %s: %w", h.ID, domain.ErrNotFound)
	}
	return nil
}

// GetByID fetches a hedge by id.
func (s *HedgeStore) GetByID(ctx context.Context, id string) (domain.Hedge, error) {
	query := `SELECT ` + hedgeSelectCols + ` FROM hedges WHERE id = $1`

	h, err := scanHedgeRow(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Hedge{}, fmt.Errorf("postgres: hedge %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Hedge{}, fmt.Errorf("postgres: get hedge %s: %w", id, err)
	}
	return h, nil
}

// GetByPosition fetches the hedge attached to a position.
func (s *HedgeStore) GetByPosition(ctx context.Context, positionID string) (domain.Hedge, error) {
	query := `SELECT ` + hedgeSelectCols + ` FROM hedges WHERE position_id = $1`

	h, err := scanHedgeRow(s.pool.QueryRow(ctx, query, positionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Hedge{}, fmt.Errorf("postgres: hedge for position %s: %w", positionID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Hedge{}, fmt.Errorf("postgres: get hedge for position %s: %w", positionID, err)
	}
	return h, nil
}

// ListActive returns all active hedges ordered by creation time.
func (s *HedgeStore) ListActive(ctx context.Context) ([]domain.Hedge, error) {
	query := `SELECT ` + hedgeSelectCols + ` FROM hedges WHERE active ORDER BY created_at`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active hedges: %w", err)
	}
	defer rows.Close()

	var hedges []domain.Hedge
	for rows.Next() {
		h, err := scanHedgeRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan hedge: %w", err)
		}
		hedges = append(hedges, h)
	}
	return hedges, rows.Err()
}

// Deactivate marks a hedge inactive, keeping the row for history.
func (s *HedgeStore) Deactivate(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE hedges SET active = FALSE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: deactivate hedge %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: deactivate hedge %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// SetAccount persists one asset slot's account assignment.
func (s *HedgeStore) SetAccount(ctx context.Context, hedgeID string, slot int, assignment domain.AccountAssignment) error {
	col := "asset0_account"
	if slot == 1 {
		col = "asset1_account"
	}
	query := fmt.Sprintf(
		`UPDATE hedges SET %s = $2, updated_at = NOW() WHERE id = $1`, col)

	tag, err := s.pool.Exec(ctx, query, hedgeID, accountColumn(assignment))
	if err != nil {
		return fmt.Errorf("postgres: set hedge %s account slot %d: %w", hedgeID, slot, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: set hedge %s account: %w", hedgeID, domain.ErrNotFound)
	}
	return nil
}

// MainAccountInUse reports whether any active hedge other than excludeID
// holds a main-account short for any of the given pool symbols. A hedge
// claims an asset through its position's pool tokens, so the check joins
// back to the positions table.
func (s *HedgeStore) MainAccountInUse(ctx context.Context, poolSymbols []string, excludeID string) (bool, error) {
	const query = `
		SELECT EXISTS (
			SELECT 1
			FROM hedges h
			JOIN positions p ON p.id = h.position_id
			WHERE h.active
			  AND h.id <> $2
			  AND (
				(p.asset0 = ANY($1) AND h.asset0_account = '')
				OR
				(p.asset1 = ANY($1) AND h.asset1_account = '')
			  )
		)`

	var inUse bool
	if err := s.pool.QueryRow(ctx, query, poolSymbols, excludeID).Scan(&inUse); err != nil {
		return false, fmt.Errorf("postgres: main account in use: %w", err)
	}
	return inUse, nil
}

// SubAccountInUse reports whether any active hedge other than excludeID has
// claimed the given sub-account for any of the given pool symbols.
func (s *HedgeStore) SubAccountInUse(ctx context.Context, subAccount string, poolSymbols []string, excludeID string) (bool, error) {
	const query = `
		SELECT EXISTS (
			SELECT 1
			FROM hedges h
			JOIN positions p ON p.id = h.position_id
			WHERE h.active
			  AND h.id <> $3
			  AND (
				(p.asset0 = ANY($2) AND h.asset0_account = $1)
				OR
				(p.asset1 = ANY($2) AND h.asset1_account = $1)
			  )
		)`

	var inUse bool
	if err := s.pool.QueryRow(ctx, query, subAccount, poolSymbols, excludeID).Scan(&inUse); err != nil {
		return false, fmt.Errorf("postgres: sub-account in use: %w", err)
	}
	return inUse, nil
}

// Compile-time interface check.
var _ domain.HedgeStore = (*HedgeStore)(nil)
