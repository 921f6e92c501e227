package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// RebalanceStatus is the recorded outcome of a single rebalance attempt.
type RebalanceStatus string

const (
	RebalanceSuccess RebalanceStatus = "success"
	RebalanceFailed  RebalanceStatus = "failed"
)

// ShortRebalance is the append-only audit record of one rebalance attempt for
// one asset of one hedge. Rows are never mutated after creation; failed rows
// feed the per-asset failure-streak suppression.
type ShortRebalance struct {
	ID           string
	HedgeID      string
	Asset        string
	OldShortSize decimal.Decimal
	NewShortSize decimal.Decimal
	RealizedPnL  decimal.Decimal
	Status       RebalanceStatus
	Message      string
	RebalancedAt time.Time
}

// TargetShort is the computed target for one exchange asset. When both pool
// tokens map to the same exchange symbol their contributions are combined,
// because a single exchange position cannot be split.
type TargetShort struct {
	Asset        string
	TargetSize   decimal.Decimal // negative = short
	SourceTokens []string
	SourceAmount decimal.Decimal
}

// Adjustment is the difference between a currently held hedge size and its
// freshly computed target for one exchange asset. Close marks orphaned
// positions whose asset no longer appears in the target set; those are
// always emitted after the regular target adjustments.
type Adjustment struct {
	Asset        string
	CurrentSize  decimal.Decimal
	TargetSize   decimal.Decimal
	Delta        decimal.Decimal
	SourceTokens []string
	SourceAmount decimal.Decimal
	Close        bool
}

// Outcome is the result of evaluating one asset of one hedge. Exactly one of
// the concrete types NoChange, Rebalanced, or Closed is produced per asset
// per cycle.
type Outcome interface {
	outcome()
	// OutcomeAsset returns the exchange asset this outcome refers to.
	OutcomeAsset() string
}

// NoChange means the asset's short was within tolerance and left untouched.
type NoChange struct {
	Asset  string
	Reason string
}

// Rebalanced means the short was adjusted to a new non-zero target size.
type Rebalanced struct {
	Asset       string
	OldSize     decimal.Decimal
	NewSize     decimal.Decimal
	RealizedPnL decimal.Decimal
}

// Closed means the short was fully closed because the target fell to zero.
type Closed struct {
	Asset       string
	OldSize     decimal.Decimal
	RealizedPnL decimal.Decimal
}

func (NoChange) outcome()   {}
func (Rebalanced) outcome() {}
func (Closed) outcome()     {}

func (o NoChange) OutcomeAsset() string   { return o.Asset }
func (o Rebalanced) OutcomeAsset() string { return o.Asset }
func (o Closed) OutcomeAsset() string     { return o.Asset }

// Fill is a normalized exchange fill used to capture realized P&L after a
// close. ClosedPnL is nil for fills that did not close any position.
type Fill struct {
	Asset     string
	Size      decimal.Decimal
	Price     decimal.Decimal
	ClosedPnL *decimal.Decimal
	Time      time.Time
}

// TriggerType identifies what initiated a position-level rebalance.
type TriggerType string

const (
	TriggerManual    TriggerType = "manual"
	TriggerScheduled TriggerType = "scheduled"
	TriggerThreshold TriggerType = "threshold"
)

// EventStatus is the lifecycle state of a position-level rebalance event.
type EventStatus string

const (
	EventPending   EventStatus = "pending"
	EventExecuting EventStatus = "executing"
	EventCompleted EventStatus = "completed"
	EventFailed    EventStatus = "failed"
)

// ShortState is one exchange short captured in a position snapshot.
type ShortState struct {
	Asset      string          `json:"asset"`
	Size       decimal.Decimal `json:"size"`
	EntryPrice decimal.Decimal `json:"entry_price"`
}

// PositionState is a point-in-time capture of a position's pool amounts and
// exchange shorts, stored on rebalance events for before/after comparison.
type PositionState struct {
	Asset0Amount decimal.Decimal `json:"asset0_amount"`
	Asset1Amount decimal.Decimal `json:"asset1_amount"`
	Shorts       []ShortState    `json:"shorts"`
}

// ExecutedAction is the recorded result of one adjustment inside a
// position-level rebalance event.
type ExecutedAction struct {
	Asset       string          `json:"asset"`
	OldSize     decimal.Decimal `json:"old_size"`
	NewSize     decimal.Decimal `json:"new_size"`
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
	Success     bool            `json:"success"`
	Error       string          `json:"error,omitempty"`
}

// RebalanceEvent is the audit record of one position-level rebalance run:
// calculator → validator → circuit breaker → executor as a single unit. It
// moves pending → executing → completed|failed and is never deleted.
type RebalanceEvent struct {
	ID           string
	PositionID   string
	Trigger      TriggerType
	Status       EventStatus
	PreState     PositionState
	PostState    PositionState
	Intended     []Adjustment
	Executed     []ExecutedAction
	ErrorMessage string
	StartedAt    *time.Time
	CompletedAt  *time.Time
	CreatedAt    time.Time
}
