// Package risk implements the Risk Evaluator (§4.4): a pure function of
// (Position, price, now) that never mutates its inputs. Grounded on the
// teacher's tier/trigger evaluation in sublevel_engine.go (consecutive
// tier crossing, bidirectional comparisons) and on the fixed/trailing/
// ladder exit classes in the original strategy framework's exit
// strategies module, reassembled behind the single decision function
// spec.md requires instead of a pluggable strategy-manager hierarchy.
package risk

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/vitos/tradeexec/internal/domain"
)

// Config carries the evaluator's tunables that are not part of a
// Position's frozen rule snapshot.
type Config struct {
	MaxPriceAge         time.Duration
	MaxHoldDuration     time.Duration // 0 disables the expiry check
	TrailingArmFraction decimal.Decimal
}

// Evaluate is the pure decision function. priceAge is now.Sub(priceTS);
// callers are expected to have already checked price freshness against
// the Price Cache, but the sanity check is repeated here per §4.4 point 1
// so the function stays correct when called directly in tests.
func Evaluate(p *domain.Position, price decimal.Decimal, priceTS time.Time, now time.Time, cfg Config) domain.Decision {
	if price.LessThanOrEqual(decimal.Zero) {
		return domain.Hold()
	}
	if cfg.MaxPriceAge > 0 && now.Sub(priceTS) > cfg.MaxPriceAge {
		return domain.Hold()
	}

	u := p.UnleveragedPnLPct(price)
	if u.Abs().GreaterThan(decimal.NewFromInt(1)) {
		return domain.Hold()
	}

	expired := cfg.MaxHoldDuration > 0 && now.Sub(p.EntryTS) > cfg.MaxHoldDuration

	// 2. Stop-loss precedes all profit exits and expiry.
	if p.Rules.StopLossPct.IsPositive() && u.LessThanOrEqual(p.Rules.StopLossPct.Neg()) {
		return domain.Close(domain.ReasonStopLoss)
	}

	// 3. Fixed take-profit (only when ladder disabled).
	if !p.Rules.Ladder.Enabled && p.Rules.TakeProfitPct.IsPositive() && u.GreaterThanOrEqual(p.Rules.TakeProfitPct) {
		return domain.Close(domain.ReasonTakeProfit)
	}

	// 4. Ladder take-profit.
	if p.Rules.Ladder.Enabled && p.Rules.Ladder.StepPct.IsPositive() {
		step := p.Rules.Ladder.StepPct
		closePct := p.Rules.Ladder.ClosePct
		tier := int(u.Div(step).IntPart())

		if tier > p.LadderTierHit && tier >= 1 {
			totalShouldClose := decimal.NewFromInt(int64(tier)).Mul(closePct)
			if totalShouldClose.GreaterThanOrEqual(decimal.NewFromFloat(1.0).Sub(decimal.NewFromFloat(1e-9))) {
				return domain.Close(domain.ReasonTakeProfit)
			}
			return domain.PartialClose(closePct, tier)
		}
	}

	// 5. Trailing stop. Armed is a one-way latch on the best PnL the
	// position has ever reached (the watermark), not the current tick's u:
	// once armed it stays armed even if price retraces past the arm
	// threshold before triggering.
	if p.Rules.TrailingEnabled {
		arm := cfg.TrailingArmFraction
		if arm.IsZero() {
			arm = p.Rules.TrailingDistance
		}
		var bestU decimal.Decimal
		if p.IsLong() {
			bestU = p.UnleveragedPnLPct(p.HighWatermark)
		} else {
			bestU = p.UnleveragedPnLPct(p.LowWatermark)
		}
		armed := bestU.GreaterThanOrEqual(arm)
		if armed {
			if p.IsLong() {
				trigger := p.HighWatermark.Mul(decimal.NewFromInt(1).Sub(p.Rules.TrailingDistance))
				if price.LessThanOrEqual(trigger) {
					return domain.Close(domain.ReasonTrailing)
				}
			} else {
				trigger := p.LowWatermark.Mul(decimal.NewFromInt(1).Add(p.Rules.TrailingDistance))
				if price.GreaterThanOrEqual(trigger) {
					return domain.Close(domain.ReasonTrailing)
				}
			}
		}
	}

	if expired {
		return domain.Close(domain.ReasonExpired)
	}

	return domain.Hold()
}
