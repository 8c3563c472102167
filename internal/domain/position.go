package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PositionStatus tracks where a symbol's position sits in the Position
// Manager's state machine (§3, §4.5).
type PositionStatus string

const (
	StatusOpen        PositionStatus = "open"
	StatusClosed      PositionStatus = "closed"
	StatusReconciling PositionStatus = "reconciling"
)

// RuleSnapshot is the set of risk-rule fields frozen at open time so that
// later config changes never retroactively alter a live position. An
// explicit modify signal is the only way to change it after open.
type RuleSnapshot struct {
	TakeProfitPct    decimal.Decimal
	StopLossPct      decimal.Decimal
	TrailingEnabled  bool
	TrailingDistance decimal.Decimal
	Ladder           LadderConfig
}

// Position is uniquely keyed by (Symbol, PositionID).
type Position struct {
	Symbol     string
	PositionID string

	// OpenRequestID is the client-generated idempotence key the open
	// signal carried (§4.5); a replayed open with the same id is a no-op.
	OpenRequestID string

	Direction Direction
	EntryPrice decimal.Decimal
	// Quantity is the signed contract count: positive for long, negative
	// for short. Magnitude only ever decreases after open.
	Quantity     decimal.Decimal
	Leverage     int
	EntryTS      time.Time
	ContractSize decimal.Decimal

	Rules RuleSnapshot

	HighWatermark        decimal.Decimal
	LowWatermark         decimal.Decimal
	LadderTierHit        int
	LadderClosedFraction decimal.Decimal

	Status PositionStatus

	ExitPrice   decimal.Decimal
	ExitTS      time.Time
	RealizedPnL decimal.Decimal
	PnLPct      decimal.Decimal
}

// Clone returns a shallow copy safe to hand to a reader outside the
// per-symbol lock (mirrors the teacher's defensive-copy caching pattern).
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	cp := *p
	return &cp
}

// UnleveragedPnLPct computes u = sign * (price - entry) / entry (§4.4).
func (p *Position) UnleveragedPnLPct(price decimal.Decimal) decimal.Decimal {
	if p.EntryPrice.IsZero() {
		return decimal.Zero
	}
	sign := decimal.NewFromInt(p.Direction.Sign())
	return price.Sub(p.EntryPrice).Div(p.EntryPrice).Mul(sign)
}

// IsLong reports whether this is a long position.
func (p *Position) IsLong() bool {
	return p.Direction == DirectionLong
}
