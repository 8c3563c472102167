// Package reporting implements Reporting (§4.8): a pure read-only view
// over the Position Store and Price Cache. No mutation. Grounded on
// LevelService's GetPositions/status-assembly pattern and on the
// original strategy framework's get_status/get_position_summary, whose
// holding-time display is supplemented here (§D.2 of the expanded spec).
package reporting

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vitos/tradeexec/internal/domain"
	"github.com/vitos/tradeexec/internal/pricecache"
)

// PositionManager is the subset of position.Manager Reporting reads.
type PositionManager interface {
	OpenSymbols() []string
	Snapshot(symbol string) *domain.Position
}

// OpenPositionView is one open position enriched with live price.
type OpenPositionView struct {
	Position       *domain.Position
	MarkPrice      decimal.Decimal
	UnrealizedPnL  decimal.Decimal
	LeveragedPnLPct decimal.Decimal
	HoldingTime    time.Duration
}

// Reporting is the read-only reporting view.
type Reporting struct {
	manager PositionManager
	store   domain.Store
	prices  *pricecache.Cache
}

func New(manager PositionManager, store domain.Store, prices *pricecache.Cache) *Reporting {
	return &Reporting{manager: manager, store: store, prices: prices}
}

// OpenPositions returns every open position enriched with live PnL.
func (r *Reporting) OpenPositions() []OpenPositionView {
	symbols := r.manager.OpenSymbols()
	out := make([]OpenPositionView, 0, len(symbols))
	now := time.Now()

	for _, sym := range symbols {
		p := r.manager.Snapshot(sym)
		if p == nil {
			continue
		}
		price, _, ok := r.prices.Get(sym)
		if !ok {
			price = p.EntryPrice
		}
		u := p.UnleveragedPnLPct(price)
		unrealized := price.Sub(p.EntryPrice).Mul(decimal.NewFromInt(p.Direction.Sign())).Mul(p.Quantity.Abs()).Mul(p.ContractSize)

		out = append(out, OpenPositionView{
			Position:        p,
			MarkPrice:       price,
			UnrealizedPnL:   unrealized,
			LeveragedPnLPct: u.Mul(decimal.NewFromInt(int64(p.Leverage))),
			HoldingTime:     now.Sub(p.EntryTS),
		})
	}
	return out
}

// DailyPnL surfaces today's realized PnL, win rate, and closed count
// (§6 GET /api/daily_pnl).
func (r *Reporting) DailyPnL(ctx context.Context, now time.Time) (domain.Rollup, float64, error) {
	rollup, err := r.store.DailyRollup(ctx, now)
	if err != nil {
		return domain.Rollup{}, 0, err
	}
	winRate := 0.0
	if rollup.ClosedCount > 0 {
		winRate = float64(rollup.Wins) / float64(rollup.ClosedCount)
	}
	return rollup, winRate, nil
}

// History surfaces a reverse-chronological window of closed positions
// (§6 GET /api/position_history).
func (r *Reporting) History(ctx context.Context, symbol string, start, end time.Time, limit int) ([]*domain.Position, error) {
	return r.store.QueryHistory(ctx, symbol, start, end, limit)
}
