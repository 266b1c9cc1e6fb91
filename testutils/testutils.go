package testutils

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/holtzen/adaptrade/logger"
	"github.com/holtzen/adaptrade/types"
)

// MockExecutor is a scriptable executor adapter for tests. Every call is
// recorded; failures can be armed per symbol.
type MockExecutor struct {
	mu sync.Mutex

	Prices    map[string]float64
	EquityVal float64

	// FailOpen and FailClose reject the next matching call.
	FailOpen  map[string]error
	FailClose map[string]error

	// CloseFillQty overrides the filled quantity of the next Close for a
	// symbol, simulating a partial fill divergence.
	CloseFillQty map[string]float64

	Opens  []types.Fill
	Closes []types.Fill

	orderSeq int
}

func NewMockExecutor(equity float64) *MockExecutor {
	return &MockExecutor{
		Prices:       make(map[string]float64),
		EquityVal:    equity,
		FailOpen:     make(map[string]error),
		FailClose:    make(map[string]error),
		CloseFillQty: make(map[string]float64),
	}
}

func (m *MockExecutor) SetPrice(symbol string, price float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Prices[symbol] = price
}

func (m *MockExecutor) MarkPrice(symbol string, price float64) { m.SetPrice(symbol, price) }

func (m *MockExecutor) Open(_ context.Context, symbol string, side types.Side, notional float64) (types.Fill, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.FailOpen[symbol]; ok {
		delete(m.FailOpen, symbol)
		return types.Fill{Status: types.FillRejected}, err
	}
	price := m.Prices[symbol]
	if price <= 0 {
		return types.Fill{Status: types.FillRejected}, fmt.Errorf("no price for %s", symbol)
	}
	m.orderSeq++
	fill := types.Fill{
		OrderID:  fmt.Sprintf("mock-%d", m.orderSeq),
		Symbol:   symbol,
		Side:     side,
		AvgPrice: price,
		Qty:      notional / price,
		Status:   types.FillFilled,
	}
	m.Opens = append(m.Opens, fill)
	return fill, nil
}

func (m *MockExecutor) Close(_ context.Context, symbol string, qty float64) (types.Fill, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.FailClose[symbol]; ok {
		delete(m.FailClose, symbol)
		return types.Fill{Status: types.FillRejected}, err
	}
	price := m.Prices[symbol]
	if price <= 0 {
		return types.Fill{Status: types.FillRejected}, fmt.Errorf("no price for %s", symbol)
	}
	if override, ok := m.CloseFillQty[symbol]; ok {
		delete(m.CloseFillQty, symbol)
		qty = override
	}
	m.orderSeq++
	fill := types.Fill{
		OrderID:  fmt.Sprintf("mock-%d", m.orderSeq),
		Symbol:   symbol,
		Side:     types.Sell,
		AvgPrice: price,
		Qty:      qty,
		Status:   types.FillFilled,
	}
	m.Closes = append(m.Closes, fill)
	return fill, nil
}

func (m *MockExecutor) Balances(_ context.Context) (map[string]types.Balance, error) {
	return map[string]types.Balance{"USDT": {Asset: "USDT", Free: m.EquityVal}}, nil
}

func (m *MockExecutor) Equity() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.EquityVal
}

// OpenCount reports how many entry orders were placed.
func (m *MockExecutor) OpenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Opens)
}

// LogEntry is one captured log call.
type LogEntry struct {
	Level  string
	Msg    string
	Fields []logger.Field
}

// MockLogger captures log entries for assertions.
type MockLogger struct {
	mu      sync.Mutex
	Entries []LogEntry
}

func NewMockLogger() *MockLogger { return &MockLogger{} }

func (l *MockLogger) append(level, msg string, fields []logger.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Entries = append(l.Entries, LogEntry{Level: level, Msg: msg, Fields: fields})
}

func (l *MockLogger) Info(msg string, fields ...logger.Field)  { l.append("info", msg, fields) }
func (l *MockLogger) Warn(msg string, fields ...logger.Field)  { l.append("warn", msg, fields) }
func (l *MockLogger) Error(msg string, fields ...logger.Field) { l.append("error", msg, fields) }

// Has reports whether a message was logged at any level.
func (l *MockLogger) Has(msg string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.Entries {
		if e.Msg == msg {
			return true
		}
	}
	return false
}

// Candles generates n bars walking from start by step per bar, with a
// small oscillation so indicators see realistic highs and lows. step > 0
// trends up, step < 0 down, step == 0 ranges.
func Candles(n int, start, step float64) []types.Candle {
	out := make([]types.Candle, n)
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	price := start
	for i := 0; i < n; i++ {
		wiggle := math.Sin(float64(i)*0.7) * math.Abs(start) * 0.002
		open := price
		close := price + step + wiggle
		high := math.Max(open, close) * 1.001
		low := math.Min(open, close) * 0.999
		out[i] = types.Candle{
			Timestamp: ts.Add(time.Duration(i) * time.Minute),
			Open:      open,
			High:      high,
			Low:       low,
			Close:     close,
			Volume:    1000 + 50*math.Sin(float64(i)),
		}
		price = close
	}
	return out
}

// RangingCandles oscillates around a center with the given amplitude.
func RangingCandles(n int, center, amplitude float64) []types.Candle {
	out := make([]types.Candle, n)
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	prev := center
	for i := 0; i < n; i++ {
		close := center + amplitude*math.Sin(float64(i)*0.5)
		high := math.Max(prev, close) + amplitude*0.1
		low := math.Min(prev, close) - amplitude*0.1
		out[i] = types.Candle{
			Timestamp: ts.Add(time.Duration(i) * time.Minute),
			Open:      prev,
			High:      high,
			Low:       low,
			Close:     close,
			Volume:    1000,
		}
		prev = close
	}
	return out
}
