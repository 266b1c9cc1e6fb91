package position

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/holtzen/adaptrade/config"
	"github.com/holtzen/adaptrade/indicator"
	"github.com/holtzen/adaptrade/ledger"
	"github.com/holtzen/adaptrade/signal"
	"github.com/holtzen/adaptrade/testutils"
)

const sym = "BTCUSDT"

var t0 = time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	mgr *Manager
	ex  *testutils.MockExecutor
	led *ledger.MemoryLedger
	log *testutils.MockLogger
}

func newFixture(mutate func(*config.LifecycleConfig)) *fixture {
	cfg := config.Default(sym).Lifecycle
	if mutate != nil {
		mutate(&cfg)
	}
	ex := testutils.NewMockExecutor(10_000)
	led := ledger.NewMemory()
	log := testutils.NewMockLogger()
	return &fixture{
		mgr: NewManager(cfg, ex, led, log),
		ex:  ex,
		led: led,
		log: log,
	}
}

// openAt places a long trend entry at the given price. ATR 1 with the
// default multipliers puts the stop at -2 and the target at +3.
func (f *fixture) openAt(t *testing.T, price float64, sig signal.Signal, mode Mode) {
	t.Helper()
	f.ex.SetPrice(sym, price)
	_, err := f.mgr.Open(context.Background(), OpenRequest{
		Symbol:   sym,
		Signal:   sig,
		Snapshot: &indicator.Snapshot{ATR: 1, Price: price},
		Mode:     mode,
		Notional: 1_000,
		Now:      t0,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
}

// check advances price and time and runs the exit evaluation.
func (f *fixture) check(t *testing.T, price float64, at time.Time, sig signal.Signal, snap *indicator.Snapshot) []Event {
	t.Helper()
	f.ex.SetPrice(sym, price)
	events, err := f.mgr.Check(context.Background(), CheckInput{
		Symbol:   sym,
		Price:    price,
		Now:      at,
		Signal:   sig,
		Snapshot: snap,
	})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	return events
}

func holdSig() signal.Signal { return signal.Signal{Kind: signal.Hold} }

func TestOpenSetsLevels(t *testing.T) {
	f := newFixture(nil)
	f.openAt(t, 100, signal.Signal{Kind: signal.Buy}, ModeTrend)

	p, ok := f.mgr.Get(sym)
	if !ok {
		t.Fatal("position missing")
	}
	if p.StopLossPrice != 98 {
		t.Errorf("stop = %f, want 98", p.StopLossPrice)
	}
	if p.TakeProfitPrice != 103 {
		t.Errorf("target = %f, want 103", p.TakeProfitPrice)
	}
	if f.led.Len() != 1 {
		t.Errorf("ledger records = %d, want the entry", f.led.Len())
	}
}

func TestOpenRejectsDuplicate(t *testing.T) {
	f := newFixture(nil)
	f.openAt(t, 100, signal.Signal{Kind: signal.Buy}, ModeTrend)
	_, err := f.mgr.Open(context.Background(), OpenRequest{
		Symbol: sym, Signal: signal.Signal{Kind: signal.Buy},
		Snapshot: &indicator.Snapshot{ATR: 1}, Mode: ModeTrend, Notional: 500, Now: t0,
	})
	if err == nil {
		t.Fatal("expected duplicate-open error")
	}
}

func TestOpenAdapterFailureLeavesNoState(t *testing.T) {
	f := newFixture(nil)
	f.ex.SetPrice(sym, 100)
	f.ex.FailOpen[sym] = errors.New("exchange down")
	_, err := f.mgr.Open(context.Background(), OpenRequest{
		Symbol: sym, Signal: signal.Signal{Kind: signal.Buy},
		Snapshot: &indicator.Snapshot{ATR: 1}, Mode: ModeTrend, Notional: 500, Now: t0,
	})
	if err == nil {
		t.Fatal("expected adapter error")
	}
	if f.mgr.Count() != 0 || f.led.Len() != 0 {
		t.Fatal("failed open must leave manager and ledger untouched")
	}
}

func TestTakeProfitFloorAppliesRewardRisk(t *testing.T) {
	f := newFixture(nil)
	// Explicit levels: 2% stop, only 1.5% target. The 1.5 reward:risk
	// floor pushes the target out to 3%.
	f.openAt(t, 100, signal.Signal{
		Kind: signal.Buy, StopLoss: 98, TakeProfit: 101.5,
	}, ModeTrend)

	p, _ := f.mgr.Get(sym)
	if p.TakeProfitPrice != 103 {
		t.Fatalf("target = %f, want floored 103", p.TakeProfitPrice)
	}
}

func TestKnifeRiskWidensStop(t *testing.T) {
	f := newFixture(nil)
	f.openAt(t, 100, signal.Signal{Kind: signal.Buy, KnifeRisk: true}, ModeTrend)

	p, _ := f.mgr.Get(sym)
	if p.StopLossPrice != 97 {
		t.Fatalf("stop = %f, want widened 97", p.StopLossPrice)
	}
	// Inside the widened band nothing fires.
	if evs := f.check(t, 97.5, t0.Add(time.Minute), holdSig(), nil); len(evs) != 0 {
		t.Fatalf("events = %v, want none at 97.5", evs)
	}
	evs := f.check(t, 96.9, t0.Add(2*time.Minute), holdSig(), nil)
	if len(evs) != 1 || evs[0].Reason != ReasonStopLoss {
		t.Fatalf("events = %v, want STOP_LOSS", evs)
	}
}

func TestStopLossClosesAndRealizesLoss(t *testing.T) {
	f := newFixture(nil)
	f.openAt(t, 100, signal.Signal{Kind: signal.Buy}, ModeTrend)

	evs := f.check(t, 97.9, t0.Add(time.Minute), holdSig(), nil)
	if len(evs) != 1 || evs[0].Reason != ReasonStopLoss {
		t.Fatalf("events = %v, want STOP_LOSS", evs)
	}
	if f.mgr.Count() != 0 {
		t.Fatal("position should be gone after stop-loss")
	}
	if pnl := f.mgr.RealizedPnL(); pnl >= 0 {
		t.Fatalf("realized pnl = %f, want negative", pnl)
	}
}

func TestTimeExitPrecedesEverything(t *testing.T) {
	f := newFixture(nil)
	f.openAt(t, 100, signal.Signal{Kind: signal.Buy}, ModeMeanRev)

	// Price sits beyond the stop, but the hold budget expired first.
	evs := f.check(t, 97, t0.Add(9*time.Hour), holdSig(), nil)
	if len(evs) != 1 || evs[0].Reason != ReasonTimeExit {
		t.Fatalf("events = %v, want TIME_EXIT", evs)
	}
}

func TestMeanRevTakeProfitClosesFully(t *testing.T) {
	f := newFixture(nil)
	f.openAt(t, 100, signal.Signal{Kind: signal.Buy}, ModeMeanRev)

	evs := f.check(t, 103.1, t0.Add(time.Minute), holdSig(), nil)
	if len(evs) != 1 || evs[0].Reason != ReasonTakeProfit {
		t.Fatalf("events = %v, want full TAKE_PROFIT", evs)
	}
	if f.mgr.Count() != 0 {
		t.Fatal("mean-reversion target should flatten the position")
	}
}

func TestTrendPartialThenTrailing(t *testing.T) {
	f := newFixture(nil)
	f.openAt(t, 100, signal.Signal{Kind: signal.Buy}, ModeTrend)

	// Target reached: half comes off and the trailing stop arms.
	evs := f.check(t, 103, t0.Add(time.Minute), holdSig(), nil)
	if len(evs) != 1 || evs[0].Reason != ReasonPartialClose {
		t.Fatalf("events = %v, want TAKE_PROFIT_PARTIAL", evs)
	}
	p, _ := f.mgr.Get(sym)
	if !p.PartialClosed || !p.Trailing.Active {
		t.Fatalf("state = %+v, want partial-closed with trailing armed", p)
	}
	if math.Abs(p.Quantity-5) > 1e-9 { // 1000/100 = 10, half closed
		t.Fatalf("qty = %f, want 5", p.Quantity)
	}

	// New peak, no retracement: fixed target no longer fires.
	if evs := f.check(t, 106, t0.Add(2*time.Minute), holdSig(), nil); len(evs) != 0 {
		t.Fatalf("events = %v, want none at the new peak", evs)
	}

	// 1.2% off the 106 peak trips the trailing tier.
	evs = f.check(t, 104.7, t0.Add(3*time.Minute), holdSig(), nil)
	if len(evs) != 1 || evs[0].Reason != ReasonTrailingStop {
		t.Fatalf("events = %v, want TRAILING_STOP", evs)
	}
	if f.mgr.Count() != 0 {
		t.Fatal("trailing stop should flatten the remainder")
	}
	if pnl := f.mgr.RealizedPnL(); pnl <= 0 {
		t.Fatalf("realized pnl = %f, want positive", pnl)
	}
}

func TestSignalExitOnOpposingSignal(t *testing.T) {
	f := newFixture(nil)
	f.openAt(t, 100, signal.Signal{Kind: signal.Buy}, ModeTrend)

	evs := f.check(t, 101, t0.Add(time.Minute), signal.Signal{Kind: signal.Sell}, nil)
	if len(evs) != 1 || evs[0].Reason != ReasonSignalExit {
		t.Fatalf("events = %v, want SIGNAL_EXIT", evs)
	}
}

func TestCheckIdempotentWhenNothingFires(t *testing.T) {
	f := newFixture(nil)
	f.openAt(t, 100, signal.Signal{Kind: signal.Buy}, ModeTrend)

	before, _ := f.mgr.Get(sym)
	for i := 0; i < 3; i++ {
		if evs := f.check(t, 100.5, t0.Add(time.Minute), holdSig(), nil); len(evs) != 0 {
			t.Fatalf("pass %d: events = %v, want none", i, evs)
		}
	}
	after, _ := f.mgr.Get(sym)
	if before.Quantity != after.Quantity || before.StopLossPrice != after.StopLossPrice {
		t.Fatal("repeated checks at an unchanged price must not mutate the position")
	}
}

func TestAverageDownRespectsRiskCap(t *testing.T) {
	// A wide stop keeps the 3% averaging trigger reachable.
	f := newFixture(func(c *config.LifecycleConfig) {
		c.ATRStopMult = 10
		c.ATRTakeProfitMult = 15
	})
	f.openAt(t, 100, signal.Signal{Kind: signal.Buy}, ModeTrend)
	quiet := &indicator.Snapshot{ADX: 10}

	// 3% drop triggers the first add: +$1000 at 97.
	evs := f.check(t, 97, t0.Add(time.Minute), holdSig(), quiet)
	if len(evs) != 1 || evs[0].Reason != ReasonAverageDown {
		t.Fatalf("events = %v, want AVERAGE_DOWN", evs)
	}
	p, _ := f.mgr.Get(sym)
	if p.AveragingCount != 1 || p.TotalInvested != 2_000 {
		t.Fatalf("count = %d invested = %f", p.AveragingCount, p.TotalInvested)
	}
	wantAvg := (100.0*10 + 97.0*(1000.0/97)) / (10 + 1000.0/97)
	if math.Abs(p.AverageEntry-wantAvg) > 1e-9 {
		t.Fatalf("avg entry = %f, want %f", p.AverageEntry, wantAvg)
	}

	// Another qualifying drop, but the 2x total-risk cap is exhausted.
	drop2 := p.AverageEntry * (1 - 0.031)
	if evs := f.check(t, drop2, t0.Add(2*time.Minute), holdSig(), quiet); len(evs) != 0 {
		t.Fatalf("events = %v, want none past the risk cap", evs)
	}
	p, _ = f.mgr.Get(sym)
	if p.AveragingCount != 1 {
		t.Fatalf("count = %d, want still 1", p.AveragingCount)
	}
}

func TestAveragingNeedsFreshDropBetweenAdds(t *testing.T) {
	// A generous risk budget leaves room after the first add; only a
	// further drop below the last fill may spend it.
	f := newFixture(func(c *config.LifecycleConfig) {
		c.ATRStopMult = 20
		c.ATRTakeProfitMult = 30
		c.Averaging.MaxTotalRiskMult = 4
	})
	f.openAt(t, 100, signal.Signal{Kind: signal.Buy}, ModeTrend)
	quiet := &indicator.Snapshot{ADX: 10}

	evs := f.check(t, 90, t0.Add(time.Minute), holdSig(), quiet)
	if len(evs) != 1 || evs[0].Reason != ReasonAverageDown {
		t.Fatalf("events = %v, want AVERAGE_DOWN", evs)
	}

	// Same price next tick: still 3%+ under the average entry, but not
	// under the last fill, so no second add.
	if evs := f.check(t, 90, t0.Add(2*time.Minute), holdSig(), quiet); len(evs) != 0 {
		t.Fatalf("events = %v, want none at an unchanged price", evs)
	}
	p, _ := f.mgr.Get(sym)
	if p.AveragingCount != 1 {
		t.Fatalf("count = %d, want still 1", p.AveragingCount)
	}

	// A fresh 3%+ drop below the last fill re-arms the trigger.
	evs = f.check(t, 87, t0.Add(3*time.Minute), holdSig(), quiet)
	if len(evs) != 1 || evs[0].Reason != ReasonAverageDown {
		t.Fatalf("events = %v, want a second AVERAGE_DOWN", evs)
	}
	p, _ = f.mgr.Get(sym)
	if p.AveragingCount != 2 || p.TotalInvested != 3_000 {
		t.Fatalf("count = %d invested = %f", p.AveragingCount, p.TotalInvested)
	}
}

func TestPyramidOnStrongTrend(t *testing.T) {
	f := newFixture(func(c *config.LifecycleConfig) {
		// Keep the fixed target out of the way of the pyramid threshold.
		c.ATRTakeProfitMult = 10
	})
	f.openAt(t, 100, signal.Signal{Kind: signal.Buy}, ModeTrend)

	strong := &indicator.Snapshot{ADX: 35}
	evs := f.check(t, 102.5, t0.Add(time.Minute), holdSig(), strong)
	if len(evs) != 1 || evs[0].Reason != ReasonPyramid {
		t.Fatalf("events = %v, want PYRAMID", evs)
	}
	p, _ := f.mgr.Get(sym)
	if len(p.AveragingHistory) != 1 || p.AveragingHistory[0].Reason != ReasonPyramid {
		t.Fatalf("history = %+v", p.AveragingHistory)
	}
}

func TestMeanRevNeverAverages(t *testing.T) {
	f := newFixture(nil)
	f.openAt(t, 100, signal.Signal{Kind: signal.Buy}, ModeMeanRev)

	// Trailing arms at entry for mean reversion but has seen no profit,
	// and the 2% drop is inside the stop band; nothing may fire.
	quiet := &indicator.Snapshot{ADX: 10}
	if evs := f.check(t, 98.1, t0.Add(time.Minute), holdSig(), quiet); len(evs) != 0 {
		t.Fatalf("events = %v, want none", evs)
	}
	p, _ := f.mgr.Get(sym)
	if p.AveragingCount != 0 {
		t.Fatal("mean-reversion positions must not average")
	}
}

func TestQuantityConservation(t *testing.T) {
	f := newFixture(func(c *config.LifecycleConfig) {
		c.ATRStopMult = 10
		c.ATRTakeProfitMult = 15
	})
	f.openAt(t, 100, signal.Signal{Kind: signal.Buy}, ModeTrend)
	quiet := &indicator.Snapshot{ADX: 10}
	f.check(t, 97, t0.Add(time.Minute), holdSig(), quiet) // average down

	events := f.mgr.ForceCloseAll(context.Background(), map[string]float64{sym: 98}, t0.Add(time.Hour))
	if len(events) != 1 || events[0].Reason != ReasonForceClose {
		t.Fatalf("events = %v, want FORCE_CLOSE", events)
	}

	var opened, closed float64
	for _, fll := range f.ex.Opens {
		opened += fll.Qty
	}
	for _, fll := range f.ex.Closes {
		closed += fll.Qty
	}
	if math.Abs(opened-closed) > 1e-9 {
		t.Fatalf("opened %f != closed %f", opened, closed)
	}
	if f.mgr.Count() != 0 {
		t.Fatal("force close should empty the book")
	}
}

func TestPartialFillMismatchTrustsAdapter(t *testing.T) {
	f := newFixture(nil)
	f.openAt(t, 100, signal.Signal{Kind: signal.Buy}, ModeTrend)

	// Adapter only manages to close 6 of the 10 requested.
	f.ex.CloseFillQty[sym] = 6
	evs := f.check(t, 97.5, t0.Add(time.Minute), holdSig(), nil)
	if len(evs) != 1 || evs[0].Reason != ReasonStopLoss {
		t.Fatalf("events = %v, want STOP_LOSS", evs)
	}
	p, ok := f.mgr.Get(sym)
	if !ok {
		t.Fatal("partially closed position must survive")
	}
	if math.Abs(p.Quantity-4) > 1e-9 {
		t.Fatalf("qty = %f, want remaining 4", p.Quantity)
	}
	if !f.log.Has("partial_fill_mismatch") {
		t.Fatal("mismatch must be logged")
	}
}

func TestDrawdownTracking(t *testing.T) {
	f := newFixture(nil)
	f.mgr.MarkEquity(10_000)
	f.mgr.MarkEquity(12_000)
	f.mgr.MarkEquity(9_000)
	if dd := f.mgr.Drawdown(); math.Abs(dd-0.25) > 1e-9 {
		t.Fatalf("drawdown = %f, want 0.25", dd)
	}
	// Recovery never shrinks the recorded maximum.
	f.mgr.MarkEquity(12_000)
	if dd := f.mgr.Drawdown(); math.Abs(dd-0.25) > 1e-9 {
		t.Fatalf("drawdown after recovery = %f, want 0.25", dd)
	}
}
