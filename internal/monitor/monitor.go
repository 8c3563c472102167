// Package monitor implements the Monitor Loop (§4.7): a single-flight
// periodic task that, for every open symbol, reads the Price Cache,
// updates watermarks, invokes the Risk Evaluator, and dispatches the
// resulting Close/PartialClose back through the Position Manager.
// Grounded on cmd/bot/main.go's ticker goroutines and on
// SpeedBot.run/FundingBot.run's single-symbol select{ticker, stopChan,
// ctx.Done()} shape, generalized to iterate every open symbol per tick.
// Per-symbol work within a tick runs concurrently via errgroup; ticks
// themselves are serialized with singleflight so a slow tick can never
// overlap the next one.
package monitor

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/vitos/tradeexec/internal/domain"
	"github.com/vitos/tradeexec/internal/pricecache"
	"github.com/vitos/tradeexec/internal/risk"
)

// PositionManager is the subset of position.Manager the Monitor depends
// on.
type PositionManager interface {
	OpenSymbols() []string
	UpdateWatermarks(symbol string, price decimal.Decimal) *domain.Position
	CloseWithPnL(ctx context.Context, symbol string, reason domain.CloseReason) (decimal.Decimal, bool, error)
	PartialClose(ctx context.Context, symbol string, fraction decimal.Decimal, newTier int) error
}

// Loop is the Monitor Loop.
type Loop struct {
	manager  PositionManager
	prices   *pricecache.Cache
	log      *zap.Logger
	interval time.Duration
	riskCfg  risk.Config

	group singleflight.Group

	onClose func(symbol string, reason domain.CloseReason, pnlPct decimal.Decimal)
}

func New(manager PositionManager, prices *pricecache.Cache, log *zap.Logger, interval time.Duration, riskCfg risk.Config) *Loop {
	return &Loop{
		manager:  manager,
		prices:   prices,
		log:      log,
		interval: interval,
		riskCfg:  riskCfg,
	}
}

// OnClose registers a callback fired whenever the loop closes a position,
// used by the Router to feed the daily loss-cap counter.
func (l *Loop) OnClose(fn func(symbol string, reason domain.CloseReason, pnlPct decimal.Decimal)) {
	l.onClose = fn
}

// Run blocks, ticking every l.interval until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.tick(ctx)
		}
	}
}

// tick is single-flight: if a previous tick is still in flight (a slow
// per-symbol adapter call), the new tick is folded into it rather than
// running concurrently.
func (l *Loop) tick(ctx context.Context) {
	_, _, _ = l.group.Do("tick", func() (any, error) {
		l.runTick(ctx)
		return nil, nil
	})
}

func (l *Loop) runTick(ctx context.Context) {
	symbols := l.manager.OpenSymbols()
	if len(symbols) == 0 {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, sym := range symbols {
		sym := sym
		g.Go(func() error {
			l.evaluateSymbol(gctx, sym)
			return nil
		})
	}
	_ = g.Wait()
}

func (l *Loop) evaluateSymbol(ctx context.Context, symbol string) {
	price, ts, ok := l.prices.Get(symbol)
	if !ok {
		return
	}
	if l.riskCfg.MaxPriceAge > 0 && time.Since(ts) > l.riskCfg.MaxPriceAge {
		l.log.Warn("stale price, skipping tick", zap.String("symbol", symbol))
		return
	}

	p := l.manager.UpdateWatermarks(symbol, price)
	if p == nil {
		return
	}

	decision := risk.Evaluate(p, price, ts, time.Now(), l.riskCfg)
	switch decision.Kind {
	case domain.DecisionClose:
		pnlPct, closed, err := l.manager.CloseWithPnL(ctx, symbol, decision.CloseReason)
		if err != nil {
			l.log.Error("monitor close failed", zap.String("symbol", symbol), zap.Error(err))
			return
		}
		if closed && l.onClose != nil {
			l.onClose(symbol, decision.CloseReason, pnlPct)
		}
	case domain.DecisionPartialClose:
		if err := l.manager.PartialClose(ctx, symbol, decision.Fraction, decision.NewTier); err != nil {
			l.log.Error("monitor partial close failed", zap.String("symbol", symbol), zap.Error(err))
		}
	}
}
