package domain

import "github.com/shopspring/decimal"

// Instrument describes the immutable trading-rule attributes of a symbol,
// fetched once via the adapter and cached for the process lifetime.
type Instrument struct {
	Symbol         string
	ContractSize   decimal.Decimal
	PricePrecision int32
	SizePrecision  int32
	MinSize        decimal.Decimal
}
