package sizing

import (
	"math"
	"testing"

	"github.com/holtzen/adaptrade/config"
	"github.com/holtzen/adaptrade/indicator"
	"github.com/holtzen/adaptrade/signal"
	"github.com/holtzen/adaptrade/types"
)

func newSizer() *Sizer { return New(config.Default("BTCUSDT").Sizing) }

func trades(pnlPercents ...float64) []types.TradeRecord {
	out := make([]types.TradeRecord, len(pnlPercents))
	for i, p := range pnlPercents {
		out[i] = types.TradeRecord{PnL: p, PnLPercent: p}
	}
	return out
}

func TestKellyNeutralBelowMinTrades(t *testing.T) {
	s := newSizer()
	got := s.KellyMultiplier(trades(1, 2, -1, 3, 1), 0.02)
	if got != 1.0 {
		t.Fatalf("Kelly with 5 trades = %f, want neutral 1.0", got)
	}
	if got := s.KellyMultiplier(nil, 0.02); got != 1.0 {
		t.Fatalf("Kelly with no trades = %f, want 1.0", got)
	}
}

func TestKellyFloorOnNegativeEdge(t *testing.T) {
	s := newSizer()
	losses := trades(-2, -1, -3, -2, -1, -2, -3, -1, -2, -2, -1, -3)
	got := s.KellyMultiplier(losses, 0.02)
	if got != 0.5 {
		t.Fatalf("all-loss Kelly = %f, want floor 0.5", got)
	}
}

func TestKellyClampedToMax(t *testing.T) {
	s := newSizer()
	winners := trades(5, 6, 4, 5, 7, 5, 6, 4, 5, 6, 5, 7)
	got := s.KellyMultiplier(winners, 0.005) // calm market boosts the edge
	if got != 1.5 {
		t.Fatalf("hot-streak Kelly = %f, want clamp at 1.5", got)
	}
}

func TestKellyWithinBounds(t *testing.T) {
	s := newSizer()
	mixed := trades(2, -1, 3, -2, 1, 2, -1, -1, 2, 1, -2, 3, 1, -1, 2)
	for _, vol := range []float64{0.005, 0.02, 0.08} {
		got := s.KellyMultiplier(mixed, vol)
		if got < 0.5 || got > 1.5 {
			t.Fatalf("Kelly(vol=%f) = %f, outside [0.5, 1.5]", vol, got)
		}
	}
}

func TestBaseFractionLadder(t *testing.T) {
	s := newSizer()
	cases := []struct {
		bull, bear float64
		want       float64
	}{
		{3, 1, 0.10},
		{7, 1, 0.15},
		{9, 0.5, 0.25},
	}
	for _, tc := range cases {
		sig := signal.Signal{BullishVotes: tc.bull, BearishVotes: tc.bear}
		if got := s.baseFraction(sig); got != tc.want {
			t.Errorf("baseFraction(net %.1f) = %f, want %f", tc.bull-tc.bear, got, tc.want)
		}
	}
}

func TestVolatilityScaling(t *testing.T) {
	s := newSizer()
	if got := s.scaleByVolatility(0.10, 0.08); math.Abs(got-0.05) > 1e-9 {
		t.Errorf("high-vol scale = %f, want inverse 0.05", got)
	}
	if got := s.scaleByVolatility(0.10, 0.005); math.Abs(got-0.12) > 1e-9 {
		t.Errorf("low-vol scale = %f, want boosted 0.12", got)
	}
	if got := s.scaleByVolatility(0.10, 0.02); got != 0.10 {
		t.Errorf("mid-vol scale = %f, want unchanged", got)
	}
}

func TestSmallBalanceLadder(t *testing.T) {
	s := newSizer()
	snap := &indicator.Snapshot{Volatility: 0.02}
	cases := []struct {
		equity float64
		want   float64
	}{
		{300, 50},
		{150, 25},
		{60, 10},
	}
	for _, tc := range cases {
		dec := s.Notional(signal.Signal{BullishVotes: 5}, snap, nil, tc.equity)
		if dec.Notional != tc.want {
			t.Errorf("Notional(equity %.0f) = %f, want %f", tc.equity, dec.Notional, tc.want)
		}
		if dec.Fraction != 0 {
			t.Errorf("small-balance decision should carry no fraction, got %f", dec.Fraction)
		}
	}
}

func TestNotionalCapAndFloor(t *testing.T) {
	s := newSizer()

	// Strong votes, calm market, hot Kelly: the fraction cap must bind.
	winners := trades(5, 6, 4, 5, 7, 5, 6, 4, 5, 6, 5, 7)
	calm := &indicator.Snapshot{Volatility: 0.005}
	dec := s.Notional(signal.Signal{BullishVotes: 9}, calm, winners, 10_000)
	if dec.Fraction != 0.35 {
		t.Fatalf("fraction = %f, want MaxFraction 0.35", dec.Fraction)
	}
	if dec.Notional != 3_500 {
		t.Fatalf("notional = %f, want 3500", dec.Notional)
	}

	// A wild market shrinks the fraction but never below the exchange
	// minimum order value.
	wild := &indicator.Snapshot{Volatility: 0.9}
	dec = s.Notional(signal.Signal{BullishVotes: 3}, wild, nil, 600)
	if dec.Notional < 10 {
		t.Fatalf("notional = %f, below min order", dec.Notional)
	}
}
