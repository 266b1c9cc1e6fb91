package executor

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/google/uuid"

	"github.com/holtzen/adaptrade/types"
)

// PaperExecutor fills every order at the last marked price with no
// slippage. Used for dry runs and as the default adapter.
type PaperExecutor struct {
	mu          sync.RWMutex
	cash        float64
	minNotional float64
	prices      map[string]float64
	positions   map[string]float64 // signed qty, negative = short
	avgPrice    map[string]float64
}

func NewPaperExecutor(startCash, minNotional float64) *PaperExecutor {
	return &PaperExecutor{
		cash:        startCash,
		minNotional: minNotional,
		prices:      make(map[string]float64),
		positions:   make(map[string]float64),
		avgPrice:    make(map[string]float64),
	}
}

// MarkPrice records the latest price used for fills and equity marks.
func (p *PaperExecutor) MarkPrice(symbol string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prices[symbol] = price
}

func (p *PaperExecutor) Open(_ context.Context, symbol string, side types.Side, notional float64) (types.Fill, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	price, ok := p.prices[symbol]
	if !ok || price <= 0 {
		return types.Fill{Status: types.FillRejected}, fmt.Errorf("%w: %s", ErrInvalidSymbol, symbol)
	}
	if notional < p.minNotional {
		return types.Fill{Status: types.FillRejected},
			fmt.Errorf("%w: notional %.2f below minimum %.2f", ErrOrderRejected, notional, p.minNotional)
	}
	if notional > p.cash {
		return types.Fill{Status: types.FillRejected}, fmt.Errorf("%w: need %.2f, have %.2f", ErrInsufficientFunds, notional, p.cash)
	}

	qty := notional / price
	signed := qty
	// A short sale credits the proceeds; the open position is carried as
	// a liability until covered.
	if side == types.Short {
		signed = -qty
		p.cash += notional
	} else {
		p.cash -= notional
	}
	prevQty := p.positions[symbol]
	newQty := prevQty + signed
	p.positions[symbol] = newQty
	if newQty != 0 {
		prev := p.avgPrice[symbol]
		p.avgPrice[symbol] = (prev*math.Abs(prevQty) + notional) / math.Abs(newQty)
	}

	return types.Fill{
		OrderID:  uuid.NewString(),
		Symbol:   symbol,
		Side:     side,
		AvgPrice: price,
		Qty:      qty,
		Status:   types.FillFilled,
	}, nil
}

func (p *PaperExecutor) Close(_ context.Context, symbol string, qty float64) (types.Fill, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	price, ok := p.prices[symbol]
	if !ok || price <= 0 {
		return types.Fill{Status: types.FillRejected}, fmt.Errorf("%w: %s", ErrInvalidSymbol, symbol)
	}
	held := math.Abs(p.positions[symbol])
	if held == 0 {
		return types.Fill{Status: types.FillRejected}, fmt.Errorf("%w: no position in %s", ErrOrderRejected, symbol)
	}
	if qty > held {
		qty = held
	}

	side := types.Sell
	if p.positions[symbol] < 0 {
		// Covering a short buys the liability back.
		side = types.Buy
		p.positions[symbol] += qty
		p.cash -= qty * price
	} else {
		p.positions[symbol] -= qty
		p.cash += qty * price
	}
	if p.positions[symbol] == 0 {
		delete(p.avgPrice, symbol)
	}

	return types.Fill{
		OrderID:  uuid.NewString(),
		Symbol:   symbol,
		Side:     side,
		AvgPrice: price,
		Qty:      qty,
		Status:   types.FillFilled,
	}, nil
}

func (p *PaperExecutor) Balances(_ context.Context) (map[string]types.Balance, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := map[string]types.Balance{
		"USDT": {Asset: "USDT", Free: p.cash},
	}
	for sym, qty := range p.positions {
		if qty != 0 {
			out[sym] = types.Balance{Asset: sym, Locked: math.Abs(qty)}
		}
	}
	return out, nil
}

// Equity marks open positions at the latest recorded prices. Short
// positions carry negative quantity and subtract their buy-back cost.
func (p *PaperExecutor) Equity() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	eq := p.cash
	for sym, qty := range p.positions {
		eq += qty * p.prices[sym]
	}
	return eq
}

// Position returns signed qty and average fill price for a symbol.
func (p *PaperExecutor) Position(symbol string) (float64, float64) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.positions[symbol], p.avgPrice[symbol]
}
