package types

import "time"

type Side string

const (
	Buy   Side = "BUY"
	Sell  Side = "SELL"
	Short Side = "SHORT"
)

// Candle is one immutable OHLCV bar. Sequences are ordered by Timestamp.
type Candle struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// FillStatus reports how the adapter settled an order.
type FillStatus string

const (
	FillFilled   FillStatus = "FILLED"
	FillPartial  FillStatus = "PARTIAL"
	FillRejected FillStatus = "REJECTED"
)

// Fill is the adapter's report for a placed or cancelled order.
type Fill struct {
	OrderID  string
	Symbol   string
	Side     Side
	AvgPrice float64
	Qty      float64
	Status   FillStatus
}

// Balance is one asset's free/locked split as reported by the adapter.
type Balance struct {
	Asset  string
	Free   float64
	Locked float64
}

// TradeRecord is an immutable fact appended to the ledger on every
// open, partial close, averaging and full close event.
type TradeRecord struct {
	ID         string
	Symbol     string
	Side       Side
	Price      float64
	Qty        float64
	PnL        float64
	PnLPercent float64
	Reason     string
	Timestamp  time.Time
}
