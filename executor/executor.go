package executor

import (
	"context"
	"errors"

	"github.com/holtzen/adaptrade/types"
)

// Typed adapter failures. Any of them must leave engine state unchanged:
// no Position is created or mutated on a failed order.
var (
	ErrInsufficientFunds = errors.New("executor: insufficient funds")
	ErrInvalidSymbol     = errors.New("executor: invalid symbol")
	ErrOrderRejected     = errors.New("executor: order rejected")
)

// Adapter is the external collaborator placing and cancelling orders.
type Adapter interface {
	// Open places a market order for the given notional value and returns
	// the fill. side Buy opens a long, side Short opens a short.
	Open(ctx context.Context, symbol string, side types.Side, notional float64) (types.Fill, error)
	// Close flattens up to qty of the symbol's position.
	Close(ctx context.Context, symbol string, qty float64) (types.Fill, error)
	// Balances reports free+locked per asset.
	Balances(ctx context.Context) (map[string]types.Balance, error)
	// Equity is the total account value in quote currency.
	Equity() float64
}
