package feed

import (
	"context"
	"errors"
	"sync"

	"github.com/holtzen/adaptrade/types"
)

var ErrNoData = errors.New("feed: no data for symbol")

// CandleFeed supplies the rolling candle window the engine evaluates each
// tick. Implementations must return candles in chronological order.
type CandleFeed interface {
	// Candles returns up to limit most recent candles for the symbol.
	Candles(ctx context.Context, symbol string, limit int) ([]types.Candle, error)
	// LastPrice returns the most recent traded price, if known.
	LastPrice(symbol string) (float64, bool)
}

// StaticFeed serves pre-loaded series. Used in tests and replay runs.
type StaticFeed struct {
	mu     sync.RWMutex
	series map[string][]types.Candle
}

func NewStaticFeed() *StaticFeed {
	return &StaticFeed{series: make(map[string][]types.Candle)}
}

// Set replaces the series for a symbol.
func (f *StaticFeed) Set(symbol string, candles []types.Candle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.series[symbol] = candles
}

// Push appends one candle to a symbol's series.
func (f *StaticFeed) Push(symbol string, c types.Candle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.series[symbol] = append(f.series[symbol], c)
}

func (f *StaticFeed) Candles(_ context.Context, symbol string, limit int) ([]types.Candle, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	s, ok := f.series[symbol]
	if !ok || len(s) == 0 {
		return nil, ErrNoData
	}
	if len(s) > limit {
		s = s[len(s)-limit:]
	}
	out := make([]types.Candle, len(s))
	copy(out, s)
	return out, nil
}

func (f *StaticFeed) LastPrice(symbol string) (float64, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	s, ok := f.series[symbol]
	if !ok || len(s) == 0 {
		return 0, false
	}
	return s[len(s)-1].Close, true
}
