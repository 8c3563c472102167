// Package router implements the Signal Router (§4.6): validates and
// normalizes a canonical TradeSignal, applies the symbol whitelist and
// risk gates, fans out multi-symbol signals, and dispatches to the
// Position Manager. Grounded on the original strategy framework's
// RiskController (cooldown/day-cap/loss-cap gates with daily counter
// rollover) and BaseStrategy.handle_trade_signal's symbol-pool check,
// reassembled as an explicit gate pipeline instead of scattered
// attribute checks.
package router

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vitos/tradeexec/internal/domain"
	"github.com/vitos/tradeexec/internal/errs"
)

// GateConfig holds the risk-gate parameters (§4.6), defaults grounded on
// risk_control.RiskController.
type GateConfig struct {
	WhitelistEnabled  bool
	Whitelist         map[string]bool
	CooldownPeriod    time.Duration
	MaxDailyTrades    int
	MaxDailyLossPct   decimal.Decimal
	MaxConcurrentOpen int
}

// PositionManager is the subset of position.Manager the Router depends
// on, kept as an interface so the Router can be tested without a real
// Manager.
type PositionManager interface {
	Open(ctx context.Context, sig domain.TradeSignal, inst domain.Instrument, referencePrice decimal.Decimal) (*domain.Position, error)
	Close(ctx context.Context, symbol string, reason domain.CloseReason) (bool, error)
	Modify(ctx context.Context, symbol string, sig domain.TradeSignal) error
	OpenSymbols() []string
}

type dailyCounters struct {
	day         time.Time
	trades      int
	realizedPnL decimal.Decimal
}

// Router is the Signal Router.
type Router struct {
	manager PositionManager
	gates   GateConfig
	log     *zap.Logger

	mu           sync.Mutex
	lastOpenTime map[string]time.Time
	counters     dailyCounters
}

func New(manager PositionManager, gates GateConfig, log *zap.Logger) *Router {
	return &Router{
		manager:      manager,
		gates:        gates,
		log:          log,
		lastOpenTime: make(map[string]time.Time),
	}
}

// RecordRealizedPnL feeds a just-closed position's PnL into the daily
// loss-cap counter. cmd/exec calls it only from the Monitor Loop's close
// callback; closes made through Dispatch or close-all are not counted.
func (r *Router) RecordRealizedPnL(pnlPct decimal.Decimal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rolloverLocked(time.Now())
	r.counters.realizedPnL = r.counters.realizedPnL.Add(pnlPct)
}

func (r *Router) rolloverLocked(now time.Time) {
	now = now.UTC()
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if !r.counters.day.Equal(day) {
		r.counters.day = day
		r.counters.trades = 0
		r.counters.realizedPnL = decimal.Zero
	}
}

// Dispatch validates, gates, and fans out a signal, returning a
// per-symbol result map.
func (r *Router) Dispatch(ctx context.Context, sig domain.TradeSignal, resolve func(ctx context.Context, symbol string, sig domain.TradeSignal) (*domain.Position, error)) (map[string]error, error) {
	if sig.RequestID == "" {
		sig.RequestID = uuid.NewString()
	}
	if err := validate(sig); err != nil {
		return nil, err
	}

	symbols := sig.ExpandSymbols()
	if len(symbols) == 0 {
		return nil, fmt.Errorf("no symbols: %w", errs.ErrInvalidSignal)
	}

	out := make(map[string]error, len(symbols))
	for _, sym := range symbols {
		perSymbol := sig
		perSymbol.Symbol = sym
		perSymbol.Symbols = nil

		if err := r.checkGates(perSymbol); err != nil {
			out[sym] = err
			continue
		}

		_, err := resolve(ctx, sym, perSymbol)
		out[sym] = err

		if err == nil && sig.Action == domain.ActionOpen {
			r.mu.Lock()
			r.lastOpenTime[sym] = time.Now()
			r.rolloverLocked(time.Now())
			r.counters.trades++
			r.mu.Unlock()
		}
	}
	return out, nil
}

func (r *Router) checkGates(sig domain.TradeSignal) error {
	if sig.Action != domain.ActionOpen {
		return nil
	}

	if r.gates.WhitelistEnabled && !sig.OverrideSymbolPool {
		if !r.gates.Whitelist[sig.Symbol] {
			return fmt.Errorf("%s: %w", sig.Symbol, errs.ErrSymbolNotAllowed)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.rolloverLocked(time.Now())

	if r.gates.CooldownPeriod > 0 {
		if last, ok := r.lastOpenTime[sig.Symbol]; ok && time.Since(last) < r.gates.CooldownPeriod {
			return errs.NewRiskGateBlocked("cooling period")
		}
	}
	if r.gates.MaxDailyTrades > 0 && r.counters.trades >= r.gates.MaxDailyTrades {
		return errs.NewRiskGateBlocked("daily trade cap")
	}
	if r.gates.MaxDailyLossPct.IsPositive() && r.counters.realizedPnL.LessThanOrEqual(r.gates.MaxDailyLossPct.Neg()) {
		return errs.NewRiskGateBlocked("daily loss cap")
	}
	if r.gates.MaxConcurrentOpen > 0 && len(r.manager.OpenSymbols()) >= r.gates.MaxConcurrentOpen {
		return errs.NewRiskGateBlocked("max concurrent positions")
	}

	return nil
}

func validate(sig domain.TradeSignal) error {
	switch sig.Action {
	case domain.ActionOpen:
		if sig.Direction != domain.DirectionLong && sig.Direction != domain.DirectionShort {
			return fmt.Errorf("open requires direction: %w", errs.ErrInvalidSignal)
		}
	case domain.ActionClose, domain.ActionModify, domain.ActionTP, domain.ActionSL, domain.ActionStatus:
		// no additional required fields
	default:
		return fmt.Errorf("unknown action %q: %w", sig.Action, errs.ErrInvalidSignal)
	}
	if len(sig.ExpandSymbols()) == 0 {
		return fmt.Errorf("missing symbol: %w", errs.ErrInvalidSignal)
	}
	return nil
}
