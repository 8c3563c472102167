package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vitos/tradeexec/internal/domain"
	"github.com/vitos/tradeexec/internal/pricecache"
	"github.com/vitos/tradeexec/internal/risk"
)

// fakeManager is a hand-rolled PositionManager fake that holds at most one
// open position (cleared on close) and records how it was dispatched to.
type fakeManager struct {
	mu            sync.Mutex
	position      *domain.Position
	closeCalls    int
	partialCalls  int
	closedReason  domain.CloseReason
}

func (m *fakeManager) OpenSymbols() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.position == nil {
		return nil
	}
	return []string{m.position.Symbol}
}

func (m *fakeManager) UpdateWatermarks(symbol string, price decimal.Decimal) *domain.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.position == nil {
		return nil
	}
	if price.GreaterThan(m.position.HighWatermark) {
		m.position.HighWatermark = price
	}
	return m.position.Clone()
}

func (m *fakeManager) CloseWithPnL(ctx context.Context, symbol string, reason domain.CloseReason) (decimal.Decimal, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeCalls++
	m.closedReason = reason
	m.position = nil
	return decimal.NewFromFloat(0.05), true, nil
}

func (m *fakeManager) PartialClose(ctx context.Context, symbol string, fraction decimal.Decimal, newTier int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.partialCalls++
	return nil
}

func TestMonitor_ClosesOnTakeProfit(t *testing.T) {
	mgr := &fakeManager{position: &domain.Position{
		Symbol:        "BTCUSDT",
		Direction:     domain.DirectionLong,
		EntryPrice:    decimal.NewFromInt(100),
		Quantity:      decimal.NewFromInt(1),
		ContractSize:  decimal.NewFromInt(1),
		EntryTS:       time.Now(),
		HighWatermark: decimal.NewFromInt(100),
		LowWatermark:  decimal.NewFromInt(100),
		Rules:         domain.RuleSnapshot{TakeProfitPct: decimal.NewFromFloat(0.05)},
	}}

	prices := pricecache.New()
	prices.OnUpdate("BTCUSDT", decimal.NewFromInt(106), time.Now())

	l := New(mgr, prices, zap.NewNop(), time.Minute, risk.Config{})

	var closedPnL decimal.Decimal
	var closed bool
	l.OnClose(func(symbol string, reason domain.CloseReason, pnlPct decimal.Decimal) {
		closed = true
		closedPnL = pnlPct
	})

	l.evaluateSymbol(context.Background(), "BTCUSDT")

	require.Equal(t, 1, mgr.closeCalls)
	require.Equal(t, domain.ReasonTakeProfit, mgr.closedReason)
	require.True(t, closed)
	require.True(t, closedPnL.Equal(decimal.NewFromFloat(0.05)))
}

func TestMonitor_HoldsWhenNoPriceCached(t *testing.T) {
	mgr := &fakeManager{position: &domain.Position{Symbol: "BTCUSDT"}}
	l := New(mgr, pricecache.New(), zap.NewNop(), time.Minute, risk.Config{})
	l.evaluateSymbol(context.Background(), "BTCUSDT")
	require.Equal(t, 0, mgr.closeCalls)
}

func TestMonitor_TickIsSingleFlight(t *testing.T) {
	mgr := &fakeManager{}
	l := New(mgr, pricecache.New(), zap.NewNop(), time.Millisecond, risk.Config{})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.tick(context.Background())
		}()
	}
	wg.Wait()
	// no assertion beyond "did not deadlock or panic": singleflight.Do
	// folds concurrent callers into one execution.
}
