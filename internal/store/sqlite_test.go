package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vitos/tradeexec/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func samplePosition() *domain.Position {
	return &domain.Position{
		Symbol:        "BTCUSDT",
		PositionID:    "pos-1",
		OpenRequestID: "req-1",
		Direction:     domain.DirectionLong,
		EntryPrice:    decimal.NewFromInt(100),
		Quantity:      decimal.NewFromInt(5),
		Leverage:      3,
		EntryTS:       time.Now().UTC(),
		ContractSize:  decimal.NewFromInt(1),
		Rules: domain.RuleSnapshot{
			TakeProfitPct: decimal.NewFromFloat(0.05),
			StopLossPct:   decimal.NewFromFloat(0.03),
		},
		HighWatermark: decimal.NewFromInt(100),
		LowWatermark:  decimal.NewFromInt(100),
		Status:        domain.StatusOpen,
	}
}

func TestSQLiteStore_UpsertAndLoadOpenRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := samplePosition()
	require.NoError(t, s.Upsert(ctx, p))

	open, err := s.LoadOpen(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	require.Equal(t, p.Symbol, open[0].Symbol)
	require.Equal(t, p.OpenRequestID, open[0].OpenRequestID)
	require.True(t, p.EntryPrice.Equal(open[0].EntryPrice))
	require.True(t, p.Quantity.Equal(open[0].Quantity))
}

func TestSQLiteStore_UpsertOverwritesBySymbol(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := samplePosition()
	require.NoError(t, s.Upsert(ctx, p))

	p.Quantity = decimal.NewFromInt(8)
	require.NoError(t, s.Upsert(ctx, p))

	open, err := s.LoadOpen(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	require.True(t, open[0].Quantity.Equal(decimal.NewFromInt(8)))
}

func TestSQLiteStore_RecordCloseMovesToHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := samplePosition()
	require.NoError(t, s.Upsert(ctx, p))

	exitTS := time.Now().UTC()
	require.NoError(t, s.RecordClose(ctx, p.Symbol, p.PositionID, decimal.NewFromInt(110), exitTS, decimal.NewFromInt(50)))

	open, err := s.LoadOpen(ctx)
	require.NoError(t, err)
	require.Empty(t, open)

	history, err := s.QueryHistory(ctx, "", time.Now().Add(-time.Hour), time.Now().Add(time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.True(t, history[0].RealizedPnL.Equal(decimal.NewFromInt(50)))
}

func TestSQLiteStore_DailyRollup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	winner := samplePosition()
	winner.Symbol = "BTCUSDT"
	require.NoError(t, s.Upsert(ctx, winner))
	require.NoError(t, s.RecordClose(ctx, winner.Symbol, winner.PositionID, decimal.NewFromInt(110), time.Now().UTC(), decimal.NewFromInt(50)))

	loser := samplePosition()
	loser.Symbol = "ETHUSDT"
	loser.PositionID = "pos-2"
	require.NoError(t, s.Upsert(ctx, loser))
	require.NoError(t, s.RecordClose(ctx, loser.Symbol, loser.PositionID, decimal.NewFromInt(90), time.Now().UTC(), decimal.NewFromInt(-20)))

	rollup, err := s.DailyRollup(ctx, time.Now().UTC())
	require.NoError(t, err)
	require.Equal(t, 2, rollup.ClosedCount)
	require.Equal(t, 1, rollup.Wins)
	require.Equal(t, 1, rollup.Losses)
	require.True(t, rollup.RealizedPnL.Equal(decimal.NewFromInt(30)))
}
