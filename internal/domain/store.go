package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ListOpts provides pagination and time filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// PositionStore persists LP positions.
type PositionStore interface {
	Create(ctx context.Context, pos Position) error
	Update(ctx context.Context, pos Position) error
	GetByID(ctx context.Context, id string) (Position, error)
	ListActive(ctx context.Context) ([]Position, error)
	// Deactivate marks a position inactive, e.g. when the upstream index no
	// longer knows it. The position row is kept for history.
	Deactivate(ctx context.Context, id string) error
}

// HedgeStore persists hedges and their exchange account assignments.
type HedgeStore interface {
	Create(ctx context.Context, h Hedge) error
	Update(ctx context.Context, h Hedge) error
	GetByID(ctx context.Context, id string) (Hedge, error)
	GetByPosition(ctx context.Context, positionID string) (Hedge, error)
	ListActive(ctx context.Context) ([]Hedge, error)
	Deactivate(ctx context.Context, id string) error

	// SetAccount persists one asset slot's account assignment. Slot is 0 or 1.
	SetAccount(ctx context.Context, hedgeID string, slot int, assignment AccountAssignment) error

	// MainAccountInUse reports whether any active hedge other than excludeID
	// already holds a main-account short for any of the given pool symbols
	// (the exchange asset plus its aliases, e.g. ETH and WETH).
	MainAccountInUse(ctx context.Context, poolSymbols []string, excludeID string) (bool, error)

	// SubAccountInUse reports whether any active hedge other than excludeID
	// has claimed the given sub-account for any of the given pool symbols.
	SubAccountInUse(ctx context.Context, subAccount string, poolSymbols []string, excludeID string) (bool, error)
}

// RebalanceStore persists the append-only short rebalance audit log.
type RebalanceStore interface {
	Create(ctx context.Context, r ShortRebalance) error
	ListByHedge(ctx context.Context, hedgeID string, opts ListOpts) ([]ShortRebalance, error)
	// LastForAsset returns up to limit most-recent attempts for one
	// hedge+asset at or after since, newest first. Used by the per-asset
	// failure-streak suppression.
	LastForAsset(ctx context.Context, hedgeID, asset string, since time.Time, limit int) ([]ShortRebalance, error)
	// SumRealizedPnL totals realized P&L across all recorded rebalances of a
	// hedge.
	SumRealizedPnL(ctx context.Context, hedgeID string) (decimal.Decimal, error)
}

// SnapshotStore persists P&L snapshots.
type SnapshotStore interface {
	Create(ctx context.Context, s PnlSnapshot) error
	ListByPosition(ctx context.Context, positionID string, opts ListOpts) ([]PnlSnapshot, error)
	ListBefore(ctx context.Context, before time.Time) ([]PnlSnapshot, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// EventStore persists position-level rebalance events.
type EventStore interface {
	Create(ctx context.Context, e RebalanceEvent) error
	MarkExecuting(ctx context.Context, id string, startedAt time.Time) error
	MarkCompleted(ctx context.Context, id string, executed []ExecutedAction, post PositionState, completedAt time.Time) error
	MarkFailed(ctx context.Context, id string, message string, completedAt time.Time) error
	GetByID(ctx context.Context, id string) (RebalanceEvent, error)
	ListByPosition(ctx context.Context, positionID string, opts ListOpts) ([]RebalanceEvent, error)
}
