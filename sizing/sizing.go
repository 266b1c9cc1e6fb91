package sizing

import (
	"math"

	"github.com/holtzen/adaptrade/config"
	"github.com/holtzen/adaptrade/indicator"
	"github.com/holtzen/adaptrade/signal"
	"github.com/holtzen/adaptrade/types"
)

// Sizer converts signal strength, volatility and trade history into a
// capital fraction or, below the small-balance threshold, an absolute
// notional.
type Sizer struct {
	cfg config.SizingConfig
}

func New(cfg config.SizingConfig) *Sizer { return &Sizer{cfg: cfg} }

// Decision is the sizing outcome for one admitted entry.
type Decision struct {
	Fraction float64 // of equity; 0 when the absolute ladder applied
	Notional float64 // quote-currency order value
	Kelly    float64
}

// Notional computes the order value for one entry. trades are the most
// recent closed trades, pooled across all symbols.
func (s *Sizer) Notional(sig signal.Signal, snap *indicator.Snapshot, trades []types.TradeRecord, equity float64) Decision {
	kelly := s.KellyMultiplier(trades, snap.Volatility)

	if equity < s.cfg.SmallBalanceUSD {
		return Decision{Notional: s.smallBalanceNotional(equity), Kelly: kelly}
	}

	frac := s.baseFraction(sig)
	frac = s.scaleByVolatility(frac, snap.Volatility)
	frac *= kelly
	if frac > s.cfg.MaxFraction {
		frac = s.cfg.MaxFraction
	}

	notional := equity * frac
	if notional < s.cfg.MinOrderUSD {
		notional = s.cfg.MinOrderUSD
	}
	return Decision{Fraction: frac, Notional: notional, Kelly: kelly}
}

// baseFraction is the 3-tier signal-strength ladder on the net vote count.
func (s *Sizer) baseFraction(sig signal.Signal) float64 {
	net := math.Abs(sig.BullishVotes - sig.BearishVotes)
	switch {
	case net >= s.cfg.StrongVotes:
		return s.cfg.StrongFraction
	case net >= s.cfg.MediumVotes:
		return s.cfg.MediumFraction
	default:
		return s.cfg.BaseFraction
	}
}

// scaleByVolatility shrinks the fraction in inverse proportion above the
// high-volatility threshold and boosts it (capped) below the low one.
func (s *Sizer) scaleByVolatility(frac, vol float64) float64 {
	switch {
	case vol > s.cfg.HighVolThreshold:
		return frac * s.cfg.HighVolThreshold / vol
	case vol < s.cfg.LowVolThreshold && vol > 0:
		return frac * s.cfg.LowVolBoost
	default:
		return frac
	}
}

// KellyMultiplier computes the clamped Kelly factor from the trailing
// closed trades. Fewer than the minimum trade count yields the neutral
// 1.0; a non-positive Kelly value yields the configured minimum.
func (s *Sizer) KellyMultiplier(trades []types.TradeRecord, vol float64) float64 {
	closed := closedTrades(trades, s.cfg.KellyWindow)
	if len(closed) < s.cfg.KellyMinTrades {
		return 1.0
	}

	wins, losses := 0, 0
	var winSum, lossSum float64
	for _, t := range closed {
		if t.PnLPercent > 0 {
			wins++
			winSum += t.PnLPercent
		} else {
			losses++
			lossSum += -t.PnLPercent
		}
	}
	n := float64(len(closed))
	winRate := float64(wins) / n
	lossRate := float64(losses) / n
	avgWin, avgLoss := 0.0, 0.0
	if wins > 0 {
		avgWin = winSum / float64(wins)
	}
	if losses > 0 {
		avgLoss = lossSum / float64(losses)
	}

	kelly := (winRate*avgWin - lossRate*avgLoss) * s.cfg.KellyFraction
	if kelly <= 0 {
		return s.cfg.KellyMin
	}

	// Volatility normalization: richer edge estimates in calm markets,
	// discounted in turbulent ones.
	if vol > 0 && s.cfg.KellyRefVol > 0 {
		kelly *= s.cfg.KellyRefVol / vol
	}

	mult := 1.0 + kelly
	return clamp(mult, s.cfg.KellyMin, s.cfg.KellyMax)
}

// smallBalanceNotional is the absolute-dollar ladder used below the
// small-balance threshold, floored at the exchange minimum order value.
func (s *Sizer) smallBalanceNotional(equity float64) float64 {
	var notional float64
	switch {
	case equity >= 250:
		notional = 50
	case equity >= 100:
		notional = 25
	default:
		notional = s.cfg.MinOrderUSD
	}
	if notional < s.cfg.MinOrderUSD {
		notional = s.cfg.MinOrderUSD
	}
	return notional
}

// closedTrades filters to records that realized PnL, newest window first.
func closedTrades(trades []types.TradeRecord, window int) []types.TradeRecord {
	out := make([]types.TradeRecord, 0, window)
	for i := len(trades) - 1; i >= 0 && len(out) < window; i-- {
		if trades[i].PnL != 0 {
			out = append(out, trades[i])
		}
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
