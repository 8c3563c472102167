// Package exchange provides a reference implementation of the
// domain.Exchange contract. The real venue adapter is an external
// collaborator (§1, §6); this package ships a simulated adapter, grounded
// on the teacher's websocket-subscription adapter (mutex-guarded callback
// registry, idempotent set-leverage), used by the demo binary as a
// live-looking price feed without a network dependency.
package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vitos/tradeexec/internal/domain"
)

// Simulated implements domain.Exchange entirely in memory. Prices are
// seeded by SeedInstrument and then moved by SetPrice; no real network
// calls occur.
type Simulated struct {
	mu        sync.Mutex
	prices    map[string]decimal.Decimal
	specs     map[string]domain.Instrument
	leverage  map[string]int
	positions map[string]domain.AdapterPosition
	subs      map[string]func(symbol string, price decimal.Decimal, ts time.Time)
}

func NewSimulated() *Simulated {
	return &Simulated{
		prices:    make(map[string]decimal.Decimal),
		specs:     make(map[string]domain.Instrument),
		leverage:  make(map[string]int),
		positions: make(map[string]domain.AdapterPosition),
		subs:      make(map[string]func(string, decimal.Decimal, time.Time)),
	}
}

// SeedInstrument registers the contract spec and initial price for a
// symbol; GetContractSpec fails with ErrUnknownInstrument for a symbol
// that was never seeded.
func (s *Simulated) SeedInstrument(inst domain.Instrument, price decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.specs[inst.Symbol] = inst
	s.prices[inst.Symbol] = price
}

// SetPrice pushes a new mark price and notifies any subscriber, mirroring
// the adapter's on_update callback (§6 subscribe_mark_price).
func (s *Simulated) SetPrice(symbol string, price decimal.Decimal) {
	s.mu.Lock()
	s.prices[symbol] = price
	cb := s.subs[symbol]
	s.mu.Unlock()

	if cb != nil {
		cb(symbol, price, time.Now())
	}
}

func (s *Simulated) GetContractSpec(ctx context.Context, symbol string) (domain.Instrument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	spec, ok := s.specs[symbol]
	if !ok {
		return domain.Instrument{}, fmt.Errorf("%s: %w", symbol, domain.ErrUnknownInstrument)
	}
	return spec, nil
}

func (s *Simulated) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leverage[symbol] = leverage
	return nil
}

func (s *Simulated) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	price, ok := s.prices[req.Symbol]
	if !ok {
		return domain.OrderResult{}, fmt.Errorf("%s: %w", req.Symbol, domain.ErrUnknownInstrument)
	}
	if req.Price != nil {
		price = *req.Price
	}

	qty := req.SizeContracts
	if req.Side == domain.OrderSideSell {
		qty = qty.Neg()
	}
	existing := s.positions[req.Symbol]
	clientIDs := existing.ClientIDs
	if req.ClientOrderID != "" {
		clientIDs = append(clientIDs, req.ClientOrderID)
	}
	s.positions[req.Symbol] = domain.AdapterPosition{
		Symbol:    req.Symbol,
		Quantity:  existing.Quantity.Add(qty),
		AvgPrice:  price,
		Leverage:  s.leverage[req.Symbol],
		ClientIDs: clientIDs,
	}

	orderID := req.ClientOrderID
	if orderID == "" {
		orderID = uuid.NewString()
	}
	return domain.OrderResult{
		OrderID:       orderID,
		FilledSize:    req.SizeContracts,
		AvgFillPrice:  price,
		Status:        domain.OrderStatusFilled,
		ClientOrderID: req.ClientOrderID,
	}, nil
}

func (s *Simulated) GetOrder(ctx context.Context, symbol, orderID string) (domain.OrderResult, error) {
	return domain.OrderResult{OrderID: orderID, Status: domain.OrderStatusFilled}, nil
}

func (s *Simulated) GetMarkPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	price, ok := s.prices[symbol]
	if !ok {
		return decimal.Zero, fmt.Errorf("%s: %w", symbol, domain.ErrUnknownInstrument)
	}
	return price, nil
}

func (s *Simulated) SubscribeMarkPrice(ctx context.Context, symbols []string, onUpdate func(symbol string, price decimal.Decimal, ts time.Time)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sym := range symbols {
		s.subs[sym] = onUpdate
	}
	return nil
}

func (s *Simulated) GetPositions(ctx context.Context) ([]domain.AdapterPosition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.AdapterPosition, 0, len(s.positions))
	for _, p := range s.positions {
		out = append(out, p)
	}
	return out, nil
}

var _ domain.Exchange = (*Simulated)(nil)
