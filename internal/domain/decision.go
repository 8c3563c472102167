package domain

import "github.com/shopspring/decimal"

// CloseReason names why a position is being closed (§4.4).
type CloseReason string

const (
	ReasonTakeProfit  CloseReason = "take_profit"
	ReasonStopLoss    CloseReason = "stop_loss"
	ReasonTrailing    CloseReason = "trailing_stop"
	ReasonManual      CloseReason = "manual"
	ReasonForced      CloseReason = "forced"
	ReasonExpired     CloseReason = "expired"
)

// DecisionKind discriminates the Risk Evaluator's output.
type DecisionKind int

const (
	DecisionHold DecisionKind = iota
	DecisionClose
	DecisionPartialClose
)

// Decision is the Risk Evaluator's pure-function output (§4.4).
type Decision struct {
	Kind DecisionKind

	// Close fields.
	CloseReason CloseReason

	// PartialClose fields.
	Fraction  decimal.Decimal
	NewTier   int
}

func Hold() Decision {
	return Decision{Kind: DecisionHold}
}

func Close(reason CloseReason) Decision {
	return Decision{Kind: DecisionClose, CloseReason: reason}
}

func PartialClose(fraction decimal.Decimal, newTier int) Decision {
	return Decision{Kind: DecisionPartialClose, Fraction: fraction, NewTier: newTier, CloseReason: ReasonTakeProfit}
}
