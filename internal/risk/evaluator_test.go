package risk

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vitos/tradeexec/internal/domain"
)

func longPosition() *domain.Position {
	return &domain.Position{
		Symbol:        "BTCUSDT",
		Direction:     domain.DirectionLong,
		EntryPrice:    decimal.NewFromInt(100),
		Quantity:      decimal.NewFromInt(10),
		ContractSize:  decimal.NewFromInt(1),
		EntryTS:       time.Unix(0, 0),
		HighWatermark: decimal.NewFromInt(100),
		LowWatermark:  decimal.NewFromInt(100),
		Rules: domain.RuleSnapshot{
			TakeProfitPct: decimal.NewFromFloat(0.05),
			StopLossPct:   decimal.NewFromFloat(0.03),
		},
	}
}

func TestEvaluate_HoldWhenFlat(t *testing.T) {
	p := longPosition()
	d := Evaluate(p, decimal.NewFromInt(100), time.Unix(0, 0), time.Unix(1, 0), Config{})
	require.Equal(t, domain.DecisionHold, d.Kind)
}

func TestEvaluate_PriceZero(t *testing.T) {
	p := longPosition()
	d := Evaluate(p, decimal.Zero, time.Unix(0, 0), time.Unix(1, 0), Config{})
	require.Equal(t, domain.DecisionHold, d.Kind)
}

func TestEvaluate_StalePrice(t *testing.T) {
	p := longPosition()
	priceTS := time.Unix(0, 0)
	now := priceTS.Add(time.Hour)
	d := Evaluate(p, decimal.NewFromInt(200), priceTS, now, Config{MaxPriceAge: time.Minute})
	require.Equal(t, domain.DecisionHold, d.Kind)
}

func TestEvaluate_TakeProfitInclusive(t *testing.T) {
	p := longPosition()
	// u == tp_pct exactly (100 * 1.05 = 105)
	d := Evaluate(p, decimal.NewFromInt(105), time.Unix(0, 0), time.Unix(1, 0), Config{})
	require.Equal(t, domain.DecisionClose, d.Kind)
	require.Equal(t, domain.ReasonTakeProfit, d.CloseReason)
}

func TestEvaluate_StopLossInclusive(t *testing.T) {
	p := longPosition()
	// u == -sl_pct exactly (100 * 0.97 = 97)
	d := Evaluate(p, decimal.NewFromInt(97), time.Unix(0, 0), time.Unix(1, 0), Config{})
	require.Equal(t, domain.DecisionClose, d.Kind)
	require.Equal(t, domain.ReasonStopLoss, d.CloseReason)
}

func TestEvaluate_ShortAdverseMoveHitsStopLoss(t *testing.T) {
	p := longPosition()
	p.Rules.StopLossPct = decimal.NewFromFloat(0.01)
	p.Rules.TakeProfitPct = decimal.NewFromFloat(0.01)
	// short position with equal stop and profit thresholds: a 1% price rise
	// is a 1% adverse move for a short (u = -0.01), so it closes on the
	// stop loss, not the take profit.
	p.Direction = domain.DirectionShort
	p.HighWatermark = decimal.NewFromInt(100)
	p.LowWatermark = decimal.NewFromInt(100)
	d := Evaluate(p, decimal.NewFromInt(101), time.Unix(0, 0), time.Unix(1, 0), Config{})
	require.Equal(t, domain.DecisionClose, d.Kind)
	require.Equal(t, domain.ReasonStopLoss, d.CloseReason)
}

func TestEvaluate_LadderPartialClose(t *testing.T) {
	p := longPosition()
	p.Rules.TakeProfitPct = decimal.Zero
	p.Rules.Ladder = domain.LadderConfig{Enabled: true, StepPct: decimal.NewFromFloat(0.02), ClosePct: decimal.NewFromFloat(0.25)}
	// u = 0.03 -> tier 1
	d := Evaluate(p, decimal.NewFromInt(103), time.Unix(0, 0), time.Unix(1, 0), Config{})
	require.Equal(t, domain.DecisionPartialClose, d.Kind)
	require.Equal(t, 1, d.NewTier)
	require.True(t, d.Fraction.Equal(decimal.NewFromFloat(0.25)))
}

func TestEvaluate_LadderCumulativeCollapsesToFullClose(t *testing.T) {
	p := longPosition()
	p.Rules.TakeProfitPct = decimal.Zero
	p.Rules.Ladder = domain.LadderConfig{Enabled: true, StepPct: decimal.NewFromFloat(0.02), ClosePct: decimal.NewFromFloat(0.3)}
	// u = 0.08 -> tier 4, 4*0.3 = 1.2 >= 1.0, collapses to a full close.
	d := Evaluate(p, decimal.NewFromInt(108), time.Unix(0, 0), time.Unix(1, 0), Config{})
	require.Equal(t, domain.DecisionClose, d.Kind)
	require.Equal(t, domain.ReasonTakeProfit, d.CloseReason)
}

func TestEvaluate_LadderDoesNotRefireSameTier(t *testing.T) {
	p := longPosition()
	p.Rules.TakeProfitPct = decimal.Zero
	p.Rules.Ladder = domain.LadderConfig{Enabled: true, StepPct: decimal.NewFromFloat(0.02), ClosePct: decimal.NewFromFloat(0.25)}
	p.LadderTierHit = 1
	d := Evaluate(p, decimal.NewFromInt(103), time.Unix(0, 0), time.Unix(1, 0), Config{})
	require.Equal(t, domain.DecisionHold, d.Kind)
}

func TestEvaluate_TrailingStopLong(t *testing.T) {
	p := longPosition()
	p.Rules.TakeProfitPct = decimal.Zero
	p.Rules.TrailingEnabled = true
	p.Rules.TrailingDistance = decimal.NewFromFloat(0.05)
	p.HighWatermark = decimal.NewFromInt(120) // u at watermark = 0.20, armed
	// price retraces 5% below the watermark: 120 * 0.95 = 114
	d := Evaluate(p, decimal.NewFromInt(113), time.Unix(0, 0), time.Unix(1, 0), Config{TrailingArmFraction: decimal.NewFromFloat(0.05)})
	require.Equal(t, domain.DecisionClose, d.Kind)
	require.Equal(t, domain.ReasonTrailing, d.CloseReason)
}

func TestEvaluate_TrailingStopNotArmedYet(t *testing.T) {
	p := longPosition()
	p.Rules.TakeProfitPct = decimal.Zero
	p.Rules.StopLossPct = decimal.Zero // price 96 would otherwise hit the fixture's 3% stop loss
	p.Rules.TrailingEnabled = true
	p.Rules.TrailingDistance = decimal.NewFromFloat(0.05)
	p.HighWatermark = decimal.NewFromInt(102) // u = 0.02, below the 0.05 arm threshold
	d := Evaluate(p, decimal.NewFromInt(96), time.Unix(0, 0), time.Unix(1, 0), Config{TrailingArmFraction: decimal.NewFromFloat(0.05)})
	require.Equal(t, domain.DecisionHold, d.Kind)
}

func TestEvaluate_TrailingStopArmedSurvivesRetraceBelowArmThreshold(t *testing.T) {
	p := longPosition()
	p.Rules.TakeProfitPct = decimal.Zero
	p.Rules.TrailingEnabled = true
	p.Rules.TrailingDistance = decimal.NewFromFloat(0.05)
	p.HighWatermark = decimal.NewFromInt(130) // u at watermark = 0.30, well past the 0.05 arm threshold
	// price gaps all the way back to 99: current-tick u is negative, far
	// below the arm threshold, but arming is a one-way latch on the
	// watermark so it must still fire.
	d := Evaluate(p, decimal.NewFromInt(99), time.Unix(0, 0), time.Unix(1, 0), Config{TrailingArmFraction: decimal.NewFromFloat(0.05)})
	require.Equal(t, domain.DecisionClose, d.Kind)
	require.Equal(t, domain.ReasonTrailing, d.CloseReason)
}

func TestEvaluate_Expired(t *testing.T) {
	p := longPosition()
	p.Rules.TakeProfitPct = decimal.Zero
	p.Rules.StopLossPct = decimal.Zero
	now := p.EntryTS.Add(2 * time.Hour)
	d := Evaluate(p, decimal.NewFromInt(100), time.Unix(0, 0), now, Config{MaxHoldDuration: time.Hour})
	require.Equal(t, domain.DecisionClose, d.Kind)
	require.Equal(t, domain.ReasonExpired, d.CloseReason)
}

func TestEvaluate_AbsurdPriceJumpGuardsHold(t *testing.T) {
	p := longPosition()
	// price more than doubled since entry: treated as a bad tick, not a
	// legitimate 100%+ profit signal.
	d := Evaluate(p, decimal.NewFromInt(250), time.Unix(0, 0), time.Unix(1, 0), Config{})
	require.Equal(t, domain.DecisionHold, d.Kind)
}
