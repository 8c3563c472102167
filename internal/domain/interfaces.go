package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Exchange is the required adapter contract (§6). Implementations talk to
// a concrete perpetual-swap venue; the core only depends on this
// interface. SubscribeMarkPrice's onUpdate callback is the single feed the
// Price Cache consumes (pricecache.Cache.OnUpdate).
type Exchange interface {
	GetContractSpec(ctx context.Context, symbol string) (Instrument, error)
	SetLeverage(ctx context.Context, symbol string, leverage int) error
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	GetOrder(ctx context.Context, symbol, orderID string) (OrderResult, error)
	GetMarkPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	SubscribeMarkPrice(ctx context.Context, symbols []string, onUpdate func(symbol string, price decimal.Decimal, ts time.Time)) error
	GetPositions(ctx context.Context) ([]AdapterPosition, error)
}

// OrderSide is buy/sell, distinct from Direction (long/short) per §6.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

type OrderRequest struct {
	Symbol        string
	Side          OrderSide
	PosSide       Direction
	SizeContracts decimal.Decimal
	Price         *decimal.Decimal // nil => market
	ClientOrderID string
}

type OrderStatus string

const (
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusPartial   OrderStatus = "partial"
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusCancelled OrderStatus = "cancelled"
)

type OrderResult struct {
	OrderID       string
	FilledSize    decimal.Decimal
	AvgFillPrice  decimal.Decimal
	Status        OrderStatus
	ClientOrderID string
}

// AdapterPosition is the adapter's own view of a position, used for
// reconciliation (§5, §8 scenario 6).
type AdapterPosition struct {
	Symbol    string
	Quantity  decimal.Decimal
	AvgPrice  decimal.Decimal
	Leverage  int
	ClientIDs []string
}

// Store is the durable Position Store contract (§4.1).
type Store interface {
	Upsert(ctx context.Context, p *Position) error
	LoadOpen(ctx context.Context) ([]*Position, error)
	RecordClose(ctx context.Context, symbol, positionID string, exitPrice decimal.Decimal, exitTS time.Time, realizedPnL decimal.Decimal) error
	QueryHistory(ctx context.Context, symbol string, start, end time.Time, limit int) ([]*Position, error)
	DailyRollup(ctx context.Context, date time.Time) (Rollup, error)
}

// Rollup is the daily_rollup aggregate (§4.1).
type Rollup struct {
	RealizedPnL decimal.Decimal
	ClosedCount int
	Wins        int
	Losses      int
}
