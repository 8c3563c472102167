// Package sizing implements the Order Sizer (§4.3): converts a signal's
// requested size into an exchange-accepted integer contract count.
// Branches on unit type the way order_utils.calculate_order_size did in
// the original strategy framework, but with the formulas and rounding
// rule spec.md states explicitly (truncation, never bankers-rounding).
package sizing

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/vitos/tradeexec/internal/domain"
	"github.com/vitos/tradeexec/internal/errs"
)

// Config controls the min-size rule.
type Config struct {
	// RoundUpToMinSize, when true, bumps an under-sized order up to
	// MinSize instead of failing.
	RoundUpToMinSize bool
}

// Size computes the integer contract count for requested, expressed in
// unitType, against instrument spec and referencePrice.
func Size(inst domain.Instrument, requested decimal.Decimal, unitType domain.UnitType, referencePrice decimal.Decimal, cfg Config) (decimal.Decimal, error) {
	var contracts decimal.Decimal

	switch unitType {
	case domain.UnitQuote:
		if referencePrice.IsZero() || inst.ContractSize.IsZero() {
			return decimal.Zero, fmt.Errorf("%s: reference price or contract size is zero: %w", inst.Symbol, errs.ErrInvalidSignal)
		}
		contracts = requested.Div(referencePrice.Mul(inst.ContractSize)).Truncate(0)
	case domain.UnitBase:
		if inst.ContractSize.IsZero() {
			return decimal.Zero, fmt.Errorf("%s: contract size is zero: %w", inst.Symbol, errs.ErrInvalidSignal)
		}
		contracts = requested.Div(inst.ContractSize).Truncate(0)
	case domain.UnitContract:
		contracts = requested.Truncate(0)
	default:
		return decimal.Zero, fmt.Errorf("unit type %q: %w", unitType, errs.ErrInvalidSignal)
	}

	if contracts.LessThan(inst.MinSize) {
		if cfg.RoundUpToMinSize {
			return inst.MinSize, nil
		}
		return decimal.Zero, fmt.Errorf("%s: sized %s contracts below min %s: %w", inst.Symbol, contracts, inst.MinSize, errs.ErrSizeTooSmall)
	}

	return contracts, nil
}
