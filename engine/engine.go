package engine

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/holtzen/adaptrade/api"
	"github.com/holtzen/adaptrade/config"
	"github.com/holtzen/adaptrade/executor"
	"github.com/holtzen/adaptrade/feed"
	"github.com/holtzen/adaptrade/indicator"
	"github.com/holtzen/adaptrade/ledger"
	"github.com/holtzen/adaptrade/logger"
	"github.com/holtzen/adaptrade/metrics"
	"github.com/holtzen/adaptrade/notify"
	"github.com/holtzen/adaptrade/position"
	"github.com/holtzen/adaptrade/regime"
	"github.com/holtzen/adaptrade/risk"
	"github.com/holtzen/adaptrade/signal"
	"github.com/holtzen/adaptrade/sizing"
	"github.com/holtzen/adaptrade/types"
)

// Engine runs the adaptive decision loop: per-symbol evaluation happens
// concurrently on read-only data, then all state mutation (exit checks,
// entries, averaging) is applied sequentially under one gate so the
// position manager sees a strictly ordered stream of decisions.
type Engine struct {
	cfg      *config.Config
	feed     feed.CandleFeed
	ex       executor.Adapter
	gate     *risk.Gate
	sizer    *sizing.Sizer
	mgr      *position.Manager
	led      ledger.TradeLedger
	notifier notify.Notifier
	log      logger.Logger

	strategies map[string]signal.Strategy

	mu      sync.Mutex // serializes the mutation phase and Stop
	running bool
	halted  bool
	tick    time.Duration
}

func New(
	cfg *config.Config,
	f feed.CandleFeed,
	ex executor.Adapter,
	gate *risk.Gate,
	sizer *sizing.Sizer,
	mgr *position.Manager,
	led ledger.TradeLedger,
	notifier notify.Notifier,
	log logger.Logger,
) (*Engine, error) {
	strategies := make(map[string]signal.Strategy, len(cfg.Symbols))
	for _, sym := range cfg.Symbols {
		st, err := signal.New(cfg, log)
		if err != nil {
			return nil, fmt.Errorf("engine: strategy for %s: %w", sym, err)
		}
		strategies[sym] = st
	}
	return &Engine{
		cfg:        cfg,
		feed:       f,
		ex:         ex,
		gate:       gate,
		sizer:      sizer,
		mgr:        mgr,
		led:        led,
		notifier:   notifier,
		log:        log,
		strategies: strategies,
		tick:       cfg.Engine.TickMin,
	}, nil
}

// evaluation is one symbol's read-only tick result.
type evaluation struct {
	symbol     string
	candles    []types.Candle
	snap       *indicator.Snapshot
	assessment regime.Assessment
	sig        signal.Signal
	err        error
}

// Run drives the loop until the context is cancelled. The tick interval
// adapts between TickMin and TickMax on observed volatility.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	e.running = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	e.log.Info("engine_started",
		logger.Int("symbols", len(e.cfg.Symbols)),
		logger.String("mode", e.cfg.Classifier.Mode),
	)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(e.Tick()):
		}
		evals := e.evaluate(ctx)
		e.step(ctx, evals, time.Now().UTC())
	}
}

// evaluate fans out one goroutine per symbol. Each goroutine touches
// only its own strategy instance, so no lock is needed; a panic in one
// symbol is contained and reported as that symbol's error.
func (e *Engine) evaluate(ctx context.Context) []evaluation {
	out := make([]evaluation, len(e.cfg.Symbols))
	var wg sync.WaitGroup
	for i, sym := range e.cfg.Symbols {
		wg.Add(1)
		go func(i int, sym string) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					out[i] = evaluation{symbol: sym, err: fmt.Errorf("evaluation panic: %v", r)}
				}
			}()
			out[i] = e.evaluateSymbol(ctx, sym)
		}(i, sym)
	}
	wg.Wait()
	return out
}

func (e *Engine) evaluateSymbol(ctx context.Context, sym string) evaluation {
	candles, err := e.feed.Candles(ctx, sym, e.cfg.Engine.CandleLimit)
	if err != nil {
		return evaluation{symbol: sym, err: fmt.Errorf("fetch candles: %w", err)}
	}
	if len(candles) < e.cfg.Indicators.MinCandles {
		return evaluation{symbol: sym, candles: candles,
			sig: signal.Signal{Kind: signal.Hold, Reasons: []string{"insufficient history"}}}
	}
	snap, err := indicator.Compute(candles, e.cfg.Indicators)
	if err != nil {
		return evaluation{symbol: sym, err: fmt.Errorf("indicators: %w", err)}
	}
	assessment := regime.Detect(snap, e.cfg.Regime)
	sig := e.strategies[sym].Evaluate(signal.Input{
		Symbol:     sym,
		Candles:    candles,
		Snapshot:   snap,
		Assessment: assessment,
	})
	return evaluation{symbol: sym, candles: candles, snap: snap, assessment: assessment, sig: sig}
}

// step is the single-writer mutation phase: exit checks first, then
// entries, in symbol order. It also re-derives the next tick interval.
func (e *Engine) step(ctx context.Context, evals []evaluation, now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	metrics.TicksTotal.Inc()

	volSum, volN := 0.0, 0
	for _, ev := range evals {
		if ev.err != nil {
			e.log.Warn("symbol_skipped",
				logger.String("symbol", ev.symbol), logger.Err(ev.err))
			continue
		}
		price := ev.candles[len(ev.candles)-1].Close
		if marker, ok := e.ex.(interface{ MarkPrice(string, float64) }); ok {
			marker.MarkPrice(ev.symbol, price)
		}
		metrics.SignalsTotal.WithLabelValues(string(ev.sig.Kind)).Inc()

		events, err := e.mgr.Check(ctx, position.CheckInput{
			Symbol:   ev.symbol,
			Price:    price,
			Now:      now,
			Signal:   ev.sig,
			Snapshot: ev.snap,
		})
		if err != nil {
			e.log.Error("exit_check_failed",
				logger.String("symbol", ev.symbol), logger.Err(err))
		}
		e.publish(ctx, events)

		if !e.halted && ev.snap != nil {
			e.tryEnter(ctx, ev, price, now)
		}

		if v := meanAbsChange(ev.candles); v > 0 {
			volSum += v
			volN++
		}
	}

	e.mgr.MarkEquity(e.ex.Equity())
	if volN > 0 {
		e.tick = e.nextInterval(volSum / float64(volN))
	}
}

// tryEnter runs the entry pipeline for one actionable signal: admission
// gate, then sizing, then the lifecycle manager.
func (e *Engine) tryEnter(ctx context.Context, ev evaluation, price float64, now time.Time) {
	if ev.sig.Kind == signal.Hold {
		return
	}
	if _, open := e.mgr.Get(ev.symbol); open {
		return
	}

	equity := e.ex.Equity()
	verdict := e.gate.Admit(ctx, ev.symbol, e.mgr.OpenSymbols(), equity, now)
	if !verdict.Admitted {
		e.log.Info("entry_rejected",
			logger.String("symbol", ev.symbol),
			logger.String("rule", verdict.Rule),
			logger.String("reason", verdict.Reason),
		)
		return
	}

	trades, err := e.led.QueryRecent(ctx, e.cfg.Sizing.KellyWindow*4)
	if err != nil {
		e.log.Warn("ledger_query_failed", logger.Err(err))
		trades = nil
	}
	dec := e.sizer.Notional(ev.sig, ev.snap, trades, equity)

	openEv, err := e.mgr.Open(ctx, position.OpenRequest{
		Symbol:   ev.symbol,
		Signal:   ev.sig,
		Snapshot: ev.snap,
		Mode:     e.modeFor(ev.symbol),
		Notional: dec.Notional,
		Now:      now,
	})
	if err != nil {
		e.log.Warn("entry_failed",
			logger.String("symbol", ev.symbol), logger.Err(err))
		return
	}
	metrics.OrdersSubmitted.WithLabelValues("entry").Inc()
	e.log.Info("entry_placed",
		logger.String("symbol", ev.symbol),
		logger.String("kind", string(ev.sig.Kind)),
		logger.Float64("notional", dec.Notional),
		logger.Float64("kelly", dec.Kelly),
		logger.Float64("price", price),
	)
	if openEv != nil {
		e.publish(ctx, []position.Event{*openEv})
	}
}

// modeFor maps the classifier mode to the lifecycle mode. Hybrid follows
// whichever sub-strategy currently drives it.
func (e *Engine) modeFor(symbol string) position.Mode {
	switch e.cfg.Classifier.Mode {
	case "meanrev":
		return position.ModeMeanRev
	case "hybrid":
		if h, ok := e.strategies[symbol].(interface{ ActiveTrend() bool }); ok && !h.ActiveTrend() {
			return position.ModeMeanRev
		}
	}
	return position.ModeTrend
}

func (e *Engine) publish(ctx context.Context, events []position.Event) {
	for _, ev := range events {
		err := e.notifier.Publish(ctx, notify.TradeEvent{Reason: ev.Reason, Record: ev.Record})
		if err != nil {
			e.log.Error("notify_failed",
				logger.String("symbol", ev.Record.Symbol), logger.Err(err))
		}
	}
}

// nextInterval interpolates the tick between TickMin and TickMax on the
// average absolute close-to-close change: quiet markets are polled fast,
// turbulent ones slower so decisions see settled candles.
func (e *Engine) nextInterval(avgChange float64) time.Duration {
	ec := e.cfg.Engine
	switch {
	case avgChange <= ec.VolLow:
		return ec.TickMin
	case avgChange >= ec.VolHigh:
		return ec.TickMax
	}
	frac := (avgChange - ec.VolLow) / (ec.VolHigh - ec.VolLow)
	return ec.TickMin + time.Duration(frac*float64(ec.TickMax-ec.TickMin))
}

// meanAbsChange is the average |close-to-close| fractional move.
func meanAbsChange(candles []types.Candle) float64 {
	if len(candles) < 2 {
		return 0
	}
	sum := 0.0
	n := 0
	for i := 1; i < len(candles); i++ {
		prev := candles[i-1].Close
		if prev <= 0 {
			continue
		}
		sum += math.Abs(candles[i].Close-prev) / prev
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// Tick returns the current adaptive interval.
func (e *Engine) Tick() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tick
}

// Stop halts new entries and, when configured, flattens every open
// position. It takes the same gate as the mutation phase, so it never
// interleaves with a tick in flight.
func (e *Engine) Stop(ctx context.Context) []position.Event {
	e.mu.Lock()
	e.halted = true
	forceClose := e.cfg.Engine.ForceCloseOnStop
	e.mu.Unlock()

	if !forceClose {
		e.log.Info("engine_stopped", logger.Bool("force_close", false))
		return nil
	}
	prices := make(map[string]float64)
	for _, sym := range e.cfg.Symbols {
		if p, ok := e.feed.LastPrice(sym); ok {
			prices[sym] = p
		}
	}
	events := e.mgr.ForceCloseAll(ctx, prices, time.Now().UTC())
	e.publish(ctx, events)
	e.log.Info("engine_stopped",
		logger.Bool("force_close", true), logger.Int("closed", len(events)))
	return events
}

// Status implements api.StatusSource.
func (e *Engine) Status() api.Status {
	e.mu.Lock()
	running, tick := e.running, e.tick
	e.mu.Unlock()

	st := api.Status{
		Running:      running,
		Symbols:      e.cfg.Symbols,
		Equity:       e.ex.Equity(),
		RealizedPnL:  e.mgr.RealizedPnL(),
		MaxDrawdown:  e.mgr.Drawdown(),
		TickInterval: tick.String(),
		LastPrices:   make(map[string]float64),
	}
	for _, sym := range e.cfg.Symbols {
		if p, ok := e.feed.LastPrice(sym); ok {
			st.LastPrices[sym] = p
		}
	}
	for _, sym := range e.mgr.OpenSymbols() {
		p, ok := e.mgr.Get(sym)
		if !ok {
			continue
		}
		st.OpenPositions = append(st.OpenPositions, api.PositionStatus{
			Symbol:       p.Symbol,
			Side:         string(p.Side),
			AverageEntry: p.AverageEntry,
			Quantity:     p.Quantity,
			StopLoss:     p.StopLossPrice,
			TakeProfit:   p.TakeProfitPrice,
			OpenedAt:     p.EntryTime,
		})
	}
	return st
}
