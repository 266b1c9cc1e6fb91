package position

import (
	"time"

	"github.com/holtzen/adaptrade/types"
)

// Mode is the strategy flavor a position was opened under; it selects the
// holding-time budget and whether averaging is allowed.
type Mode string

const (
	ModeTrend   Mode = "trend"
	ModeMeanRev Mode = "meanrev"
)

// Exit and fill reasons recorded to the ledger.
const (
	ReasonEntry        = "ENTRY"
	ReasonTimeExit     = "TIME_EXIT"
	ReasonTrailingStop = "TRAILING_STOP"
	ReasonStopLoss     = "STOP_LOSS"
	ReasonTakeProfit   = "TAKE_PROFIT"
	ReasonPartialClose = "TAKE_PROFIT_PARTIAL"
	ReasonSignalExit   = "SIGNAL_EXIT"
	ReasonForceClose   = "FORCE_CLOSE"
	ReasonAverageDown  = "AVERAGE_DOWN"
	ReasonPyramid      = "PYRAMID"
)

// Trailing is the trailing-stop state. MaxPriceSeen tracks the best price
// since arming: the highest for longs, the lowest for shorts.
type Trailing struct {
	Active           bool
	AggressiveActive bool
	MaxPriceSeen     float64
}

// AverageFill records one successful averaging addition.
type AverageFill struct {
	Price  float64
	Qty    float64
	Time   time.Time
	Reason string
}

// Position is the mutable lifecycle state for one symbol. It is
// exclusively owned by the Manager; callers only ever see copies.
type Position struct {
	Symbol     string
	Side       types.Side // Buy = long, Short = short
	EntryPrice float64
	Quantity   float64
	EntryTime  time.Time
	Mode       Mode

	StopLossPrice   float64
	TakeProfitPrice float64
	Trailing        Trailing

	PartialClosed bool
	KnifeRisk     bool

	AveragingCount   int
	AverageEntry     float64
	TotalInvested    float64
	InitialInvested  float64
	AveragingHistory []AverageFill

	// Stop/target distances fixed at entry; reused when averaging
	// re-anchors the levels on the new average entry.
	stopDistance float64
	tpDistance   float64
}

func (p *Position) long() bool { return p.Side == types.Buy }

// profitFrac is the signed gain fraction of price vs the average entry.
func (p *Position) profitFrac(price float64) float64 {
	if p.AverageEntry == 0 {
		return 0
	}
	if p.long() {
		return (price - p.AverageEntry) / p.AverageEntry
	}
	return (p.AverageEntry - price) / p.AverageEntry
}

// peakProfitFrac is profitFrac evaluated at the best price seen.
func (p *Position) peakProfitFrac() float64 {
	return p.profitFrac(p.Trailing.MaxPriceSeen)
}

func (p *Position) maxHold(trend, meanrev time.Duration) time.Duration {
	if p.Mode == ModeMeanRev {
		return meanrev
	}
	return trend
}
