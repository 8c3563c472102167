package domain

import "github.com/shopspring/decimal"

// Direction is the side of a position.
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
)

// Sign returns +1 for long, -1 for short.
func (d Direction) Sign() int64 {
	if d == DirectionShort {
		return -1
	}
	return 1
}

// SignalAction is the action carried by a canonical TradeSignal.
type SignalAction string

const (
	ActionOpen   SignalAction = "open"
	ActionClose  SignalAction = "close"
	ActionModify SignalAction = "modify"
	ActionTP     SignalAction = "tp"
	ActionSL     SignalAction = "sl"
	ActionStatus SignalAction = "status"
)

// UnitType is the unit a TradeSignal's Quantity is expressed in.
type UnitType string

const (
	UnitQuote    UnitType = "quote"
	UnitBase     UnitType = "base"
	UnitContract UnitType = "contract"
)

// LadderConfig is the ladder take-profit rule, either carried on a
// TradeSignal as an override or frozen into a Position's rule snapshot.
type LadderConfig struct {
	Enabled  bool            `json:"enabled"`
	StepPct  decimal.Decimal `json:"step_pct"`
	ClosePct decimal.Decimal `json:"close_pct"`
}

// TradeSignal is the canonical signal produced by strategy adapters.
// Strategy-specific payload parsers are out of core scope; they translate
// their native schema onto this type.
type TradeSignal struct {
	Action    SignalAction `json:"action"`
	Symbol    string       `json:"symbol,omitempty"`
	Symbols   []string     `json:"symbols,omitempty"`
	Direction Direction    `json:"direction,omitempty"`

	Quantity *float64 `json:"quantity,omitempty"`
	UnitType UnitType `json:"unit_type,omitempty"`

	EntryPrice *float64 `json:"entry_price,omitempty"`
	Leverage   *int     `json:"leverage,omitempty"`

	TakeProfitPct    *float64      `json:"take_profit_pct,omitempty"`
	StopLossPct      *float64      `json:"stop_loss_pct,omitempty"`
	TrailingStop     *bool         `json:"trailing_stop,omitempty"`
	TrailingDistance *float64      `json:"trailing_distance,omitempty"`
	LadderTP         *LadderConfig `json:"ladder_tp,omitempty"`

	OverrideSymbolPool bool `json:"override_symbol_pool,omitempty"`

	// RequestID is the client-generated idempotence key (§4.5). Strategy
	// adapters that do not supply one get one assigned by the Router.
	RequestID string `json:"request_id,omitempty"`

	Extra map[string]any `json:"extra,omitempty"`
}

// ExpandSymbols returns the concrete list of symbols this signal targets,
// resolving the Symbol/Symbols[] union.
func (s *TradeSignal) ExpandSymbols() []string {
	if len(s.Symbols) > 0 {
		return s.Symbols
	}
	if s.Symbol != "" {
		return []string{s.Symbol}
	}
	return nil
}
