package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// AccountAssignment records which exchange account holds one asset's short.
// Resolved=false means the allocator has not picked an account yet. Once
// resolved, an empty SubAccount means the short lives on the main account.
type AccountAssignment struct {
	Resolved   bool
	SubAccount string
}

// IsMain reports whether the assignment points at the main account.
func (a AccountAssignment) IsMain() bool {
	return a.Resolved && a.SubAccount == ""
}

// Hedge is an active delta-neutral short hedge attached to a Position. It
// targets a short of Target × pool amount per asset and triggers a rebalance
// when the actual short drifts more than Tolerance × target short.
//
// Each of the position's two assets carries its own account assignment; the
// shorts may live on the exchange main account or on a dedicated sub-account
// when another active hedge already claims the main account for that asset.
type Hedge struct {
	ID         string
	PositionID string
	UserID     string

	// Target is the fraction of the pool amount to short, 0 < Target <= 1.
	Target decimal.Decimal
	// Tolerance is the fraction of the target short that may deviate before
	// a rebalance fires, 0 < Tolerance <= 1.
	Tolerance decimal.Decimal

	Active bool

	Asset0Account AccountAssignment
	Asset1Account AccountAssignment

	CreatedAt time.Time
	UpdatedAt time.Time
}

// AccountFor returns the account assignment for asset slot 0 or 1.
func (h *Hedge) AccountFor(slot int) AccountAssignment {
	if slot == 0 {
		return h.Asset0Account
	}
	return h.Asset1Account
}

// SetAccountFor updates the in-memory account assignment for a slot. The
// caller is responsible for persisting the change through the HedgeStore.
func (h *Hedge) SetAccountFor(slot int, assignment AccountAssignment) {
	if slot == 0 {
		h.Asset0Account = assignment
		return
	}
	h.Asset1Account = assignment
}

// TargetShort returns the short size this hedge wants for a pool amount.
func (h *Hedge) TargetShort(poolAmount decimal.Decimal) decimal.Decimal {
	return poolAmount.Mul(h.Target)
}

// NeedsRebalance reports whether the current short has drifted far enough
// from the target to warrant a rebalance. The deviation triggers at exact
// equality with the tolerance band, never strictly past it. When both the
// pool amount and the current short are zero there is nothing to do.
func (h *Hedge) NeedsRebalance(poolAmount, currentShort decimal.Decimal) bool {
	targetShort := h.TargetShort(poolAmount)
	if targetShort.IsZero() && currentShort.IsZero() {
		return false
	}
	deviation := targetShort.Sub(currentShort).Abs()
	return deviation.GreaterThanOrEqual(targetShort.Mul(h.Tolerance))
}
