package position

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/holtzen/adaptrade/config"
	"github.com/holtzen/adaptrade/executor"
	"github.com/holtzen/adaptrade/indicator"
	"github.com/holtzen/adaptrade/ledger"
	"github.com/holtzen/adaptrade/logger"
	"github.com/holtzen/adaptrade/metrics"
	"github.com/holtzen/adaptrade/signal"
	"github.com/holtzen/adaptrade/types"
)

const qtyEpsilon = 1e-9

// Event describes one lifecycle transition (entry, partial, averaging or
// close). The engine forwards events to the notifier.
type Event struct {
	Reason string
	Record types.TradeRecord
}

// Manager owns every open Position behind a single mutation gate. All
// writes to the positions map, equity tracking and the ledger go through
// it, so overlapping ticks cannot double-trigger an exit.
type Manager struct {
	mu  sync.RWMutex
	cfg config.LifecycleConfig
	ex  executor.Adapter
	led ledger.TradeLedger
	log logger.Logger

	positions map[string]*Position

	peakEquity  float64
	maxDrawdown float64
	realizedPnL float64
}

func NewManager(cfg config.LifecycleConfig, ex executor.Adapter, led ledger.TradeLedger, log logger.Logger) *Manager {
	return &Manager{
		cfg:       cfg,
		ex:        ex,
		led:       led,
		log:       log,
		positions: make(map[string]*Position),
	}
}

// OpenRequest carries everything needed to create a position after the
// risk gate admitted the entry.
type OpenRequest struct {
	Symbol   string
	Signal   signal.Signal
	Snapshot *indicator.Snapshot
	Mode     Mode
	Notional float64
	Now      time.Time
}

// Open places the entry order and, only on success, creates the Position.
// An adapter failure leaves the manager unchanged.
func (m *Manager) Open(ctx context.Context, req OpenRequest) (*Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.positions[req.Symbol]; exists {
		return nil, fmt.Errorf("position: %s already open", req.Symbol)
	}

	side := types.Buy
	if req.Signal.Kind == signal.Short {
		side = types.Short
	}
	fill, err := m.ex.Open(ctx, req.Symbol, side, req.Notional)
	if err != nil {
		return nil, err
	}

	entry := fill.AvgPrice
	stopDist := req.Snapshot.ATR * m.cfg.ATRStopMult
	if req.Signal.StopLoss > 0 {
		stopDist = math.Abs(entry - req.Signal.StopLoss)
	}
	if req.Signal.KnifeRisk {
		stopDist *= m.cfg.KnifeStopWiden
	}
	tpDist := req.Snapshot.ATR * m.cfg.ATRTakeProfitMult
	if req.Signal.TakeProfit > 0 {
		tpDist = math.Abs(req.Signal.TakeProfit - entry)
	}
	// Floor the target at the minimum reward:risk ratio.
	if tpDist < stopDist*m.cfg.MinRewardRisk {
		tpDist = stopDist * m.cfg.MinRewardRisk
	}

	p := &Position{
		Symbol:          req.Symbol,
		Side:            side,
		EntryPrice:      entry,
		Quantity:        fill.Qty,
		EntryTime:       req.Now,
		Mode:            req.Mode,
		KnifeRisk:       req.Signal.KnifeRisk,
		AverageEntry:    entry,
		TotalInvested:   req.Notional,
		InitialInvested: req.Notional,
		Trailing:        Trailing{MaxPriceSeen: entry},
		stopDistance:    stopDist,
		tpDistance:      tpDist,
	}
	p.anchorLevels()
	// Mean-reversion positions trail from the start.
	if p.Mode == ModeMeanRev {
		p.Trailing.Active = true
	}
	m.positions[req.Symbol] = p
	metrics.PositionsOpen.Set(float64(len(m.positions)))

	ev := m.record(ctx, p, side, entry, fill.Qty, 0, ReasonEntry, req.Now)
	m.log.Info("position_opened",
		logger.String("symbol", p.Symbol),
		logger.String("side", string(side)),
		logger.Float64("entry", entry),
		logger.Float64("qty", fill.Qty),
		logger.Float64("stop", p.StopLossPrice),
		logger.Float64("target", p.TakeProfitPrice),
	)
	return &ev, nil
}

// anchorLevels re-fixes stop and target around the current average entry.
func (p *Position) anchorLevels() {
	if p.long() {
		p.StopLossPrice = p.AverageEntry - p.stopDistance
		p.TakeProfitPrice = p.AverageEntry + p.tpDistance
	} else {
		p.StopLossPrice = p.AverageEntry + p.stopDistance
		p.TakeProfitPrice = p.AverageEntry - p.tpDistance
	}
}

// CheckInput is the per-tick re-evaluation context for one symbol.
type CheckInput struct {
	Symbol   string
	Price    float64
	Now      time.Time
	Signal   signal.Signal
	Snapshot *indicator.Snapshot
}

// Check runs the exit triggers in fixed priority, stopping at the first
// match, then considers averaging. It is idempotent for an unchanged
// price and time.
func (m *Manager) Check(ctx context.Context, in CheckInput) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.positions[in.Symbol]
	if !ok {
		return nil, nil
	}

	// Track the running peak before evaluating retracement.
	if p.long() {
		p.Trailing.MaxPriceSeen = math.Max(p.Trailing.MaxPriceSeen, in.Price)
	} else {
		p.Trailing.MaxPriceSeen = math.Min(p.Trailing.MaxPriceSeen, in.Price)
	}

	// 1. Max holding time.
	if in.Now.Sub(p.EntryTime) > p.maxHold(m.cfg.MaxHoldTrend, m.cfg.MaxHoldMeanRev) {
		ev, err := m.closeLocked(ctx, p, p.Quantity, in.Price, ReasonTimeExit, in.Now)
		return eventSlice(ev), err
	}

	// 2. Trailing stop, aggressive tier first.
	if fired, reason := m.trailingFired(p, in.Price); fired {
		ev, err := m.closeLocked(ctx, p, p.Quantity, in.Price, reason, in.Now)
		return eventSlice(ev), err
	}

	// 3. Stop-loss.
	if p.long() && in.Price <= p.StopLossPrice || !p.long() && in.Price >= p.StopLossPrice {
		ev, err := m.closeLocked(ctx, p, p.Quantity, in.Price, ReasonStopLoss, in.Now)
		return eventSlice(ev), err
	}

	// 4. Take-profit. After a partial close the fixed target no longer
	// governs; the trailing stop does.
	if !p.PartialClosed {
		if p.long() && in.Price >= p.TakeProfitPrice || !p.long() && in.Price <= p.TakeProfitPrice {
			if p.Mode == ModeMeanRev {
				ev, err := m.closeLocked(ctx, p, p.Quantity, in.Price, ReasonTakeProfit, in.Now)
				return eventSlice(ev), err
			}
			ev, err := m.closeLocked(ctx, p, p.Quantity*m.cfg.PartialCloseFraction, in.Price, ReasonPartialClose, in.Now)
			if err == nil && ev != nil {
				p.PartialClosed = true
				p.Trailing.Active = true
				p.Trailing.MaxPriceSeen = in.Price
			}
			return eventSlice(ev), err
		}
	}

	// 5. Opposing signal.
	if opposes(p, in.Signal.Kind) {
		ev, err := m.closeLocked(ctx, p, p.Quantity, in.Price, ReasonSignalExit, in.Now)
		return eventSlice(ev), err
	}

	// No exit matched; consider a same-direction add.
	if p.Mode == ModeTrend && in.Snapshot != nil {
		if ev, err := m.tryAverage(ctx, p, in); ev != nil || err != nil {
			return eventSlice(ev), err
		}
	}
	return nil, nil
}

// trailingFired checks both trailing tiers; the tighter aggressive tier
// takes priority once its higher activation profit has been seen.
func (m *Manager) trailingFired(p *Position, price float64) (bool, string) {
	if !p.Trailing.Active && !p.PartialClosed {
		return false, ""
	}
	peakGain := p.peakProfitFrac()
	if peakGain >= m.cfg.AggressiveActivationPct {
		p.Trailing.AggressiveActive = true
	}

	dist := 0.0
	switch {
	case p.Trailing.AggressiveActive:
		dist = m.cfg.AggressiveDistancePct
	case peakGain >= m.cfg.TrailingActivationPct:
		dist = m.cfg.TrailingDistancePct
	default:
		return false, ""
	}

	if p.long() {
		if price <= p.Trailing.MaxPriceSeen*(1-dist) {
			return true, ReasonTrailingStop
		}
	} else {
		if price >= p.Trailing.MaxPriceSeen*(1+dist) {
			return true, ReasonTrailingStop
		}
	}
	return false, ""
}

func opposes(p *Position, k signal.Kind) bool {
	if p.long() {
		return k == signal.Sell || k == signal.Short
	}
	return k == signal.Buy
}

// tryAverage evaluates average-down and strong-ADX pyramid eligibility,
// bounded by the attempt count and the total-risk multiplier. A
// successful add re-anchors the average entry and take-profit; the state
// stays OPEN (self-loop).
func (m *Manager) tryAverage(ctx context.Context, p *Position, in CheckInput) (*Event, error) {
	av := m.cfg.Averaging
	if p.AveragingCount >= av.MaxAttempts {
		return nil, nil
	}

	// Triggers measure against the last add fill, not only the average
	// entry: a price that has not moved since the previous add cannot
	// fire again on the next tick.
	lastAdd := p.EntryPrice
	if n := len(p.AveragingHistory); n > 0 {
		lastAdd = p.AveragingHistory[n-1].Price
	}
	moveFrom := (in.Price - lastAdd) / lastAdd
	if !p.long() {
		moveFrom = -moveFrom
	}

	drop := -p.profitFrac(in.Price)
	reason := ""
	switch {
	case drop >= av.DropPct && -moveFrom >= av.DropPct:
		reason = ReasonAverageDown
	case in.Snapshot.ADX >= av.PyramidADXMin &&
		p.profitFrac(in.Price) >= av.PyramidAdvancePct && moveFrom >= av.PyramidAdvancePct:
		reason = ReasonPyramid
	default:
		return nil, nil
	}

	room := p.InitialInvested*av.MaxTotalRiskMult - p.TotalInvested
	if room <= 0 {
		return nil, nil
	}
	add := math.Min(p.InitialInvested, room)

	fill, err := m.ex.Open(ctx, p.Symbol, p.Side, add)
	if err != nil {
		// Rejected adds are abandoned for this tick, not retried.
		m.log.Warn("averaging_rejected",
			logger.String("symbol", p.Symbol), logger.Err(err))
		return nil, nil
	}

	newQty := p.Quantity + fill.Qty
	p.AverageEntry = (p.AverageEntry*p.Quantity + fill.AvgPrice*fill.Qty) / newQty
	p.Quantity = newQty
	p.TotalInvested += add
	p.AveragingCount++
	p.AveragingHistory = append(p.AveragingHistory, AverageFill{
		Price: fill.AvgPrice, Qty: fill.Qty, Time: in.Now, Reason: reason,
	})
	p.anchorLevels()

	ev := m.record(ctx, p, p.Side, fill.AvgPrice, fill.Qty, 0, reason, in.Now)
	m.log.Info("position_averaged",
		logger.String("symbol", p.Symbol),
		logger.String("reason", reason),
		logger.Float64("avg_entry", p.AverageEntry),
		logger.Int("count", p.AveragingCount),
	)
	return &ev, nil
}

// closeLocked flattens qty of the position at market. On a fill-quantity
// divergence the adapter's reported quantity is trusted and the mismatch
// flagged.
func (m *Manager) closeLocked(ctx context.Context, p *Position, qty, price float64, reason string, now time.Time) (*Event, error) {
	fill, err := m.ex.Close(ctx, p.Symbol, qty)
	if err != nil {
		return nil, err
	}
	if math.Abs(fill.Qty-qty) > qtyEpsilon {
		m.log.Warn("partial_fill_mismatch",
			logger.String("symbol", p.Symbol),
			logger.Float64("requested", qty),
			logger.Float64("filled", fill.Qty),
		)
	}
	closed := fill.Qty

	pnl := (fill.AvgPrice - p.AverageEntry) * closed
	if !p.long() {
		pnl = -pnl
	}
	m.realizedPnL += pnl

	p.Quantity -= closed
	if p.Quantity <= qtyEpsilon {
		delete(m.positions, p.Symbol)
	}
	metrics.PositionsOpen.Set(float64(len(m.positions)))
	metrics.ExitsTotal.WithLabelValues(reason).Inc()

	closeSide := types.Sell
	if !p.long() {
		closeSide = types.Buy
	}
	ev := m.record(ctx, p, closeSide, fill.AvgPrice, closed, pnl, reason, now)
	m.log.Info("position_closed",
		logger.String("symbol", p.Symbol),
		logger.String("reason", reason),
		logger.Float64("qty", closed),
		logger.Float64("pnl", pnl),
	)
	return &ev, nil
}

// record appends a TradeRecord to the ledger and wraps it in an Event.
// Ledger failures are logged, never fatal: the engine state has already
// moved and the fact log must not block trading.
func (m *Manager) record(ctx context.Context, p *Position, side types.Side, price, qty, pnl float64, reason string, now time.Time) Event {
	pct := 0.0
	if p.AverageEntry != 0 && pnl != 0 {
		pct = pnl / (p.AverageEntry * qty) * 100
	}
	rec := types.TradeRecord{
		ID:         uuid.NewString(),
		Symbol:     p.Symbol,
		Side:       side,
		Price:      price,
		Qty:        qty,
		PnL:        pnl,
		PnLPercent: pct,
		Reason:     reason,
		Timestamp:  now,
	}
	if err := m.led.Append(ctx, rec); err != nil {
		m.log.Error("ledger_append_failed",
			logger.String("symbol", p.Symbol), logger.Err(err))
	}
	return Event{Reason: reason, Record: rec}
}

// ForceCloseAll flattens every open position through the adapter. Used by
// the stop path; callers already hold no manager lock.
func (m *Manager) ForceCloseAll(ctx context.Context, prices map[string]float64, now time.Time) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	var events []Event
	for sym, p := range m.positions {
		price, ok := prices[sym]
		if !ok {
			price = p.AverageEntry
		}
		ev, err := m.closeLocked(ctx, p, p.Quantity, price, ReasonForceClose, now)
		if err != nil {
			m.log.Error("force_close_failed",
				logger.String("symbol", sym), logger.Err(err))
			continue
		}
		if ev != nil {
			events = append(events, *ev)
		}
	}
	return events
}

// OpenSymbols returns the symbols with open positions.
func (m *Manager) OpenSymbols() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.positions))
	for s := range m.positions {
		out = append(out, s)
	}
	return out
}

// Get returns a copy of the position for inspection.
func (m *Manager) Get(symbol string) (Position, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.positions[symbol]
	if !ok {
		return Position{}, false
	}
	cp := *p
	cp.AveragingHistory = append([]AverageFill(nil), p.AveragingHistory...)
	return cp, true
}

// Count reports the number of open positions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.positions)
}

// RealizedPnL is the cumulative realized profit since start.
func (m *Manager) RealizedPnL() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.realizedPnL
}

// MarkEquity updates peak equity and drawdown after a tick.
func (m *Manager) MarkEquity(equity float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if equity > m.peakEquity {
		m.peakEquity = equity
	}
	dd := 0.0
	if m.peakEquity > 0 {
		dd = (m.peakEquity - equity) / m.peakEquity
	}
	if dd > m.maxDrawdown {
		m.maxDrawdown = dd
	}
	metrics.EquityGauge.Set(equity)
	metrics.DrawdownGauge.Set(dd)
}

// Drawdown returns the worst drawdown observed so far.
func (m *Manager) Drawdown() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.maxDrawdown
}

func eventSlice(ev *Event) []Event {
	if ev == nil {
		return nil
	}
	return []Event{*ev}
}
