// Package position implements the Position Manager (§4.5): the
// per-symbol state machine that opens, modifies, closes, and monitors
// positions, serializing concurrent operations on a symbol and keeping
// the in-memory map and the durable store in agreement. Grounded on
// LevelService's per-symbol RWMutex-guarded cache and finalizePosition
// in the teacher, generalized from a single always-isolated-style
// service method into the explicit symbol-state machine spec.md names.
package position

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vitos/tradeexec/internal/domain"
	"github.com/vitos/tradeexec/internal/errs"
	"github.com/vitos/tradeexec/internal/pricecache"
	"github.com/vitos/tradeexec/internal/sizing"
)

// symbolState is the Manager's bookkeeping state per symbol (§4.5);
// distinct from domain.PositionStatus, which is the durable status.
type symbolState int

const (
	stateNone symbolState = iota
	stateOpening
	stateOpen
	stateModifying
	stateClosing
	stateReconciling
)

// Config carries the Manager's tunables from §4.3/§4.4/§5.
type Config struct {
	Sizing            sizing.Config
	AdapterTimeout    time.Duration
	RetryBackoffs     []time.Duration
	EntryPricePolicy  string // "cap" or "ignore"
	MaxConcurrentOpen int    // not read by Manager; the Router's gate enforces the limit
}

type symbolEntry struct {
	mu       sync.Mutex
	state    symbolState
	position *domain.Position
}

// Manager is the Position Manager.
type Manager struct {
	store    domain.Store
	exchange domain.Exchange
	prices   *pricecache.Cache
	log      *zap.Logger
	audit    *zap.Logger
	cfg      Config

	mu      sync.RWMutex
	symbols map[string]*symbolEntry
}

func New(store domain.Store, exchange domain.Exchange, prices *pricecache.Cache, log *zap.Logger, cfg Config) *Manager {
	return &Manager{
		store:    store,
		exchange: exchange,
		prices:   prices,
		log:      log,
		audit:    zap.NewNop(),
		cfg:      cfg,
		symbols:  make(map[string]*symbolEntry),
	}
}

// WithAuditLog attaches a secondary logger that records every position
// transition independent of the console logger's level (§A audit trail).
func (m *Manager) WithAuditLog(audit *zap.Logger) *Manager {
	if audit != nil {
		m.audit = audit
	}
	return m
}

// Hydrate loads open positions from the store at boot (§8 scenario 5).
func (m *Manager) Hydrate(ctx context.Context) error {
	open, err := m.store.LoadOpen(ctx)
	if err != nil {
		return fmt.Errorf("hydrate: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range open {
		se := &symbolEntry{state: stateOpen, position: p}
		m.symbols[p.Symbol] = se
		if err := m.exchange.SubscribeMarkPrice(ctx, []string{p.Symbol}, m.prices.OnUpdate); err != nil {
			m.log.Warn("resubscribe on hydrate failed", zap.String("symbol", p.Symbol), zap.Error(err))
		}
	}
	return nil
}

func (m *Manager) entry(symbol string) *symbolEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	se, ok := m.symbols[symbol]
	if !ok {
		se = &symbolEntry{state: stateNone}
		m.symbols[symbol] = se
	}
	return se
}

// OpenSymbols returns a snapshot of symbols currently in the Open state,
// for the Monitor Loop's per-tick scan (§4.7).
func (m *Manager) OpenSymbols() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for sym, se := range m.symbols {
		se.mu.Lock()
		if se.state == stateOpen {
			out = append(out, sym)
		}
		se.mu.Unlock()
	}
	return out
}

// Snapshot returns a defensive copy of the symbol's position, or nil if
// there is none (mirrors the teacher's getPosition cache-copy pattern).
func (m *Manager) Snapshot(symbol string) *domain.Position {
	se := m.entry(symbol)
	se.mu.Lock()
	defer se.mu.Unlock()
	return se.position.Clone()
}

// Open executes the open operation (§4.5).
func (m *Manager) Open(ctx context.Context, sig domain.TradeSignal, inst domain.Instrument, referencePrice decimal.Decimal) (*domain.Position, error) {
	se := m.entry(sig.Symbol)
	se.mu.Lock()
	defer se.mu.Unlock()

	if se.state == stateOpen && se.position != nil && se.position.OpenRequestID == sig.RequestID && sig.RequestID != "" {
		return se.position.Clone(), nil
	}
	if se.state != stateNone {
		return nil, fmt.Errorf("symbol %s: %w", sig.Symbol, errs.ErrInvalidSignal)
	}

	entryPrice := referencePrice
	if sig.EntryPrice != nil {
		priceCap := decimal.NewFromFloat(*sig.EntryPrice)
		policy := m.cfg.EntryPricePolicy
		if policy == "" {
			policy = "cap"
		}
		if policy == "cap" {
			if sig.Direction == domain.DirectionLong && referencePrice.GreaterThan(priceCap) {
				return nil, fmt.Errorf("mark %s worse than cap %s: %w", referencePrice, priceCap, errs.ErrInvalidSignal)
			}
			if sig.Direction == domain.DirectionShort && referencePrice.LessThan(priceCap) {
				return nil, fmt.Errorf("mark %s worse than cap %s: %w", referencePrice, priceCap, errs.ErrInvalidSignal)
			}
		}
	}

	requested := decimal.NewFromFloat(1)
	if sig.Quantity != nil {
		requested = decimal.NewFromFloat(*sig.Quantity)
	}
	unitType := sig.UnitType
	if unitType == "" {
		unitType = domain.UnitContract
	}
	contracts, err := sizing.Size(inst, requested, unitType, referencePrice, m.cfg.Sizing)
	if err != nil {
		return nil, err
	}

	leverage := 1
	if sig.Leverage != nil {
		leverage = *sig.Leverage
	}

	se.state = stateOpening
	if err := m.exchange.SetLeverage(ctx, sig.Symbol, leverage); err != nil {
		se.state = stateNone
		return nil, fmt.Errorf("set leverage: %w: %w", err, errs.ErrAdapterError)
	}

	side := domain.OrderSideBuy
	if sig.Direction == domain.DirectionShort {
		side = domain.OrderSideSell
	}

	orderCtx, cancel := context.WithTimeout(ctx, m.cfg.AdapterTimeout)
	defer cancel()

	result, err := m.exchange.PlaceOrder(orderCtx, domain.OrderRequest{
		Symbol:        sig.Symbol,
		Side:          side,
		PosSide:       sig.Direction,
		SizeContracts: contracts,
		ClientOrderID: sig.RequestID,
	})
	if err != nil {
		se.state = stateReconciling
		reconciled, rerr := m.reconcileOpen(ctx, sig, inst, entryPrice, leverage)
		if rerr == nil && reconciled != nil {
			se.state = stateOpen
			se.position = reconciled
			return reconciled.Clone(), nil
		}
		se.state = stateNone
		return nil, fmt.Errorf("place order: %w: %w", err, errs.ErrAdapterTimeout)
	}

	p := &domain.Position{
		Symbol:        sig.Symbol,
		PositionID:    result.OrderID,
		OpenRequestID: sig.RequestID,
		Direction:     sig.Direction,
		EntryPrice:    result.AvgFillPrice,
		Quantity:      signedQuantity(sig.Direction, result.FilledSize),
		Leverage:      leverage,
		EntryTS:       now(),
		ContractSize:  inst.ContractSize,
		Rules:         ruleSnapshotFrom(sig),
		HighWatermark: result.AvgFillPrice,
		LowWatermark:  result.AvgFillPrice,
		Status:        domain.StatusOpen,
	}

	if err := m.exchange.SubscribeMarkPrice(ctx, []string{sig.Symbol}, m.prices.OnUpdate); err != nil {
		m.log.Warn("subscribe failed", zap.String("symbol", sig.Symbol), zap.Error(err))
	}
	if err := m.store.Upsert(ctx, p); err != nil {
		se.state = stateNone
		return nil, fmt.Errorf("persist open: %w: %w", err, errs.ErrStoreError)
	}

	se.state = stateOpen
	se.position = p
	m.log.Info("position opened", zap.String("symbol", p.Symbol), zap.String("direction", string(p.Direction)), zap.String("entry_price", p.EntryPrice.String()))
	m.audit.Info("open", zap.String("symbol", p.Symbol), zap.String("position_id", p.PositionID), zap.String("open_request_id", p.OpenRequestID), zap.String("entry_price", p.EntryPrice.String()), zap.String("quantity", p.Quantity.String()))
	return p.Clone(), nil
}

// reconcileOpen polls the adapter for the in-flight order's terminal
// state after a timeout (§5, §8 scenario 6).
func (m *Manager) reconcileOpen(ctx context.Context, sig domain.TradeSignal, inst domain.Instrument, entryPrice decimal.Decimal, leverage int) (*domain.Position, error) {
	for _, backoff := range m.cfg.RetryBackoffs {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		positions, err := m.exchange.GetPositions(ctx)
		if err != nil {
			continue
		}
		for _, ap := range positions {
			if ap.Symbol != sig.Symbol || ap.Quantity.IsZero() {
				continue
			}
			if sig.RequestID != "" && !containsClientID(ap.ClientIDs, sig.RequestID) {
				continue
			}
			return &domain.Position{
				Symbol:        sig.Symbol,
				PositionID:    sig.RequestID,
				OpenRequestID: sig.RequestID,
				Direction:     sig.Direction,
				EntryPrice:    ap.AvgPrice,
				Quantity:      ap.Quantity,
				Leverage:      leverage,
				EntryTS:       now(),
				ContractSize:  inst.ContractSize,
				Rules:         ruleSnapshotFrom(sig),
				HighWatermark: ap.AvgPrice,
				LowWatermark:  ap.AvgPrice,
				Status:        domain.StatusOpen,
			}, nil
		}
	}
	return nil, errs.ErrAdapterTimeout
}

// Close executes the close operation (§4.5). Closing an already-closed
// or never-opened symbol is idempotent success, not an error.
func (m *Manager) Close(ctx context.Context, symbol string, reason domain.CloseReason) (bool, error) {
	_, _, ok, err := m.closeWithPnL(ctx, symbol, reason)
	return ok, err
}

// CloseWithPnL behaves like Close but also reports the unleveraged PnL
// percentage realized, so callers (the daily loss-cap counter) can feed
// it into their own bookkeeping without recomputing it.
func (m *Manager) CloseWithPnL(ctx context.Context, symbol string, reason domain.CloseReason) (decimal.Decimal, bool, error) {
	pnlPct, _, ok, err := m.closeWithPnL(ctx, symbol, reason)
	return pnlPct, ok, err
}

func (m *Manager) closeWithPnL(ctx context.Context, symbol string, reason domain.CloseReason) (decimal.Decimal, decimal.Decimal, bool, error) {
	se := m.entry(symbol)
	se.mu.Lock()
	defer se.mu.Unlock()

	if se.state != stateOpen || se.position == nil {
		return decimal.Zero, decimal.Zero, false, nil
	}

	p := se.position
	se.state = stateClosing

	side := domain.OrderSideSell
	if !p.IsLong() {
		side = domain.OrderSideBuy
	}

	closeCtx, cancel := context.WithTimeout(ctx, m.cfg.AdapterTimeout)
	defer cancel()

	result, err := m.exchange.PlaceOrder(closeCtx, domain.OrderRequest{
		Symbol:        symbol,
		Side:          side,
		PosSide:       p.Direction,
		SizeContracts: p.Quantity.Abs(),
	})
	if err != nil {
		se.state = stateReconciling
		return decimal.Zero, decimal.Zero, false, fmt.Errorf("close order: %w: %w", err, errs.ErrAdapterTimeout)
	}

	exitPrice := result.AvgFillPrice
	exitTS := now()
	sign := decimal.NewFromInt(p.Direction.Sign())
	realized := exitPrice.Sub(p.EntryPrice).Mul(sign).Mul(p.Quantity.Abs()).Mul(p.ContractSize)
	pnlPct := p.UnleveragedPnLPct(exitPrice)

	if err := m.store.RecordClose(ctx, symbol, p.PositionID, exitPrice, exitTS, realized); err != nil {
		se.state = stateReconciling
		return decimal.Zero, decimal.Zero, false, fmt.Errorf("record close: %w: %w", err, errs.ErrStoreError)
	}

	m.log.Info("position closed", zap.String("symbol", symbol), zap.String("reason", string(reason)), zap.String("realized_pnl", realized.String()))
	m.audit.Info("close", zap.String("symbol", symbol), zap.String("position_id", p.PositionID), zap.String("reason", string(reason)), zap.String("exit_price", exitPrice.String()), zap.String("realized_pnl", realized.String()), zap.String("pnl_pct", pnlPct.String()))
	se.state = stateNone
	se.position = nil
	return pnlPct, realized, true, nil
}

// PartialClose executes a ladder partial close (§4.5).
func (m *Manager) PartialClose(ctx context.Context, symbol string, fraction decimal.Decimal, newTier int) error {
	se := m.entry(symbol)
	se.mu.Lock()
	defer se.mu.Unlock()

	if se.state != stateOpen || se.position == nil {
		return fmt.Errorf("symbol %s: %w", symbol, errs.ErrNoSuchPosition)
	}
	p := se.position

	remaining := p.Quantity.Abs()
	closeAmount := remaining.Mul(fraction).Truncate(0)
	if closeAmount.LessThan(decimal.NewFromInt(1)) {
		closeAmount = decimal.NewFromInt(1)
	}
	if closeAmount.GreaterThan(remaining) {
		closeAmount = remaining
	}

	side := domain.OrderSideSell
	if !p.IsLong() {
		side = domain.OrderSideBuy
	}

	result, err := m.exchange.PlaceOrder(ctx, domain.OrderRequest{
		Symbol:        symbol,
		Side:          side,
		PosSide:       p.Direction,
		SizeContracts: closeAmount,
	})
	if err != nil {
		return fmt.Errorf("partial close order: %w: %w", err, errs.ErrAdapterTimeout)
	}

	newQty := remaining.Sub(result.FilledSize)
	p.Quantity = signedQuantity(p.Direction, newQty)
	p.LadderTierHit = newTier
	p.LadderClosedFraction = p.LadderClosedFraction.Add(fraction)
	if p.LadderClosedFraction.GreaterThan(decimal.NewFromInt(1)) {
		p.LadderClosedFraction = decimal.NewFromInt(1)
	}

	if err := m.store.Upsert(ctx, p); err != nil {
		return fmt.Errorf("persist partial close: %w: %w", err, errs.ErrStoreError)
	}

	m.log.Info("ladder partial close", zap.String("symbol", symbol), zap.Int("tier", newTier), zap.String("fraction", fraction.String()))
	m.audit.Info("partial_close", zap.String("symbol", symbol), zap.String("position_id", p.PositionID), zap.Int("tier", newTier), zap.String("fraction", fraction.String()), zap.String("close_amount", closeAmount.String()))
	return nil
}

// Modify updates the rule snapshot atomically under the symbol lock
// (§4.5).
func (m *Manager) Modify(ctx context.Context, symbol string, sig domain.TradeSignal) error {
	se := m.entry(symbol)
	se.mu.Lock()
	defer se.mu.Unlock()

	if se.state != stateOpen || se.position == nil {
		return fmt.Errorf("symbol %s: %w", symbol, errs.ErrNoSuchPosition)
	}
	se.state = stateModifying
	defer func() { se.state = stateOpen }()

	applyRuleOverrides(&se.position.Rules, sig)

	if err := m.store.Upsert(ctx, se.position); err != nil {
		return fmt.Errorf("persist modify: %w: %w", err, errs.ErrStoreError)
	}
	m.audit.Info("modify", zap.String("symbol", symbol), zap.String("position_id", se.position.PositionID))
	return nil
}

// UpdateWatermarks refreshes the high/low watermark under the symbol
// lock before the Risk Evaluator is invoked (§4.5's watermark
// maintenance responsibility).
func (m *Manager) UpdateWatermarks(symbol string, price decimal.Decimal) *domain.Position {
	se := m.entry(symbol)
	se.mu.Lock()
	defer se.mu.Unlock()
	if se.state != stateOpen || se.position == nil {
		return nil
	}
	if price.GreaterThan(se.position.HighWatermark) {
		se.position.HighWatermark = price
	}
	if se.position.LowWatermark.IsZero() || price.LessThan(se.position.LowWatermark) {
		se.position.LowWatermark = price
	}
	return se.position.Clone()
}

// CloseAllOutcome is one symbol's result from CloseAll.
type CloseAllOutcome struct {
	Closed bool
	Err    error
}

// CloseAll iterates every tracked symbol, closing each; it never aborts
// on an individual failure (§4.5, supplemented per manual_close_all).
func (m *Manager) CloseAll(ctx context.Context, reason domain.CloseReason) map[string]CloseAllOutcome {
	m.mu.RLock()
	symbols := make([]string, 0, len(m.symbols))
	for sym := range m.symbols {
		symbols = append(symbols, sym)
	}
	m.mu.RUnlock()

	out := make(map[string]CloseAllOutcome, len(symbols))
	for _, sym := range symbols {
		closed, err := m.Close(ctx, sym, reason)
		out[sym] = CloseAllOutcome{Closed: closed, Err: err}
	}
	return out
}

// containsClientID reports whether id is among the adapter's reported
// client order ids for a position (§8 scenario 6: reconciliation must
// match on our own client order id, not just accept any open position on
// the symbol).
func containsClientID(ids []string, id string) bool {
	for _, c := range ids {
		if c == id {
			return true
		}
	}
	return false
}

func signedQuantity(dir domain.Direction, magnitude decimal.Decimal) decimal.Decimal {
	if dir == domain.DirectionShort {
		return magnitude.Neg()
	}
	return magnitude
}

func ruleSnapshotFrom(sig domain.TradeSignal) domain.RuleSnapshot {
	rs := domain.RuleSnapshot{}
	applyRuleOverrides(&rs, sig)
	return rs
}

func applyRuleOverrides(rs *domain.RuleSnapshot, sig domain.TradeSignal) {
	if sig.TakeProfitPct != nil {
		rs.TakeProfitPct = decimal.NewFromFloat(*sig.TakeProfitPct)
	}
	if sig.StopLossPct != nil {
		rs.StopLossPct = decimal.NewFromFloat(*sig.StopLossPct)
	}
	if sig.TrailingStop != nil {
		rs.TrailingEnabled = *sig.TrailingStop
	}
	if sig.TrailingDistance != nil {
		rs.TrailingDistance = decimal.NewFromFloat(*sig.TrailingDistance)
	}
	if sig.LadderTP != nil {
		rs.Ladder = *sig.LadderTP
	}
}

// now is a seam so tests can control time; production uses wall clock.
var now = time.Now
