package signal

import (
	"fmt"
	"math"
	"time"

	"github.com/evdnx/goti"
	"github.com/holtzen/adaptrade/config"
	"github.com/holtzen/adaptrade/logger"
	"github.com/holtzen/adaptrade/regime"
	"github.com/holtzen/adaptrade/types"
)

// Classifier is the trend-following weighted-vote core. The other modes
// either wrap it (hybrid, multi-timeframe) or replace its entry logic
// (mean-reversion).
type Classifier struct {
	cfg     *config.Config
	log     logger.Logger
	confirm *goti.IndicatorSuite
	lastBar time.Time
}

func newClassifier(cfg *config.Config, log logger.Logger) (*Classifier, error) {
	ic := goti.DefaultConfig()
	ic.RSIOverbought = cfg.Classifier.RSIOverbought
	ic.RSIOversold = cfg.Classifier.RSIOversold
	suite, err := goti.NewIndicatorSuiteWithConfig(ic)
	if err != nil {
		return nil, fmt.Errorf("signal: build confirm suite: %w", err)
	}
	return &Classifier{cfg: cfg, log: log, confirm: suite}, nil
}

func (c *Classifier) Name() string { return "trend" }

// observe feeds the confirmation suite with the latest bar, once per bar.
func (c *Classifier) observe(candles []types.Candle) {
	if len(candles) == 0 {
		return
	}
	last := candles[len(candles)-1]
	if !last.Timestamp.After(c.lastBar) {
		return
	}
	c.lastBar = last.Timestamp
	if err := c.confirm.Add(last.High, last.Low, last.Close, last.Volume); err != nil {
		c.log.Warn("confirm_suite_add_error", logger.String("symbol", ""), logger.Err(err))
	}
}

// crossovers reports bullish/bearish oscillator crossovers from the
// confirmation suite. Errors simply mean no confirmation.
func (c *Classifier) crossovers() (bull, bear bool) {
	if ok, err := c.confirm.GetRSI().IsBullishCrossover(); err == nil && ok {
		bull = true
	}
	if ok, err := c.confirm.GetRSI().IsBearishCrossover(); err == nil && ok {
		bear = true
	}
	if ok, err := c.confirm.GetMFI().IsBullishCrossover(); err == nil && ok {
		bull = true
	}
	if ok, err := c.confirm.GetMFI().IsBearishCrossover(); err == nil && ok {
		bear = true
	}
	return bull, bear
}

// tally holds the weighted vote counts and the filter passes for one
// evaluation.
type tally struct {
	bull, bear   float64
	filterPasses int
	reasons      []string
}

// Evaluate runs the weighted vote, the five-filter check, the critical
// conflict veto and the short-composite upgrade.
func (c *Classifier) Evaluate(in Input) Signal {
	c.observe(in.Candles)
	snap := in.Snapshot
	asmt := in.Assessment
	cc := c.cfg.Classifier

	// Critical conflict veto: two oscillators pinned at opposite extremes
	// outside a trending regime is noise, not signal.
	if asmt.Regime != regime.Trending {
		if (snap.RSI >= cc.RSIOverbought && snap.StochK <= cc.StochOversold) ||
			(snap.RSI <= cc.RSIOversold && snap.StochK >= cc.StochOverbought) {
			return hold("critical oscillator conflict")
		}
	}

	bullX, bearX := c.crossovers()
	t := c.tally(in, bullX, bearX)
	sig := resolve(t, asmt, cc)

	if sig.Kind == Sell && cc.Short.Enabled {
		if score, why := shortComposite(in, cc); score >= cc.Short.MinScore {
			sig.Kind = Short
			sig.BearishVotes += cc.Short.BonusVotes
			sig.Reasons = append(sig.Reasons, why...)
		}
	}
	return sig
}

// tally scores the fixed indicator set, trend votes scaled by the
// regime's trend weight and oscillator votes by its oscillator weight.
func (c *Classifier) tally(in Input, bullX, bearX bool) tally {
	snap := in.Snapshot
	asmt := in.Assessment
	cc := c.cfg.Classifier
	var t tally

	vote := func(bull bool, w float64, why string) {
		if bull {
			t.bull += w
		} else {
			t.bear += w
		}
		t.reasons = append(t.reasons, why)
	}

	// Trend block.
	vote(snap.EMAShort > snap.EMALong, asmt.TrendWeight, "ema alignment")
	vote(snap.Price > snap.SMA, asmt.TrendWeight, "price vs sma")
	vote(snap.MACD > snap.MACDSignal, asmt.TrendWeight, "macd cross")
	vote(snap.MACDHist > 0, asmt.TrendWeight, "macd histogram")
	if snap.ADX >= c.cfg.Regime.ADXTrendingMin && asmt.TrendDirection != 0 {
		vote(asmt.TrendDirection > 0, asmt.TrendWeight, "adx/regression confirmation")
	}

	// Oscillator block.
	vote(snap.RSI >= 50, asmt.OscWeight, "rsi zone")
	vote(snap.StochK > snap.StochD, asmt.OscWeight, "stochastic cross")
	if snap.StochK <= cc.StochOversold {
		vote(true, asmt.OscWeight, "stochastic oversold")
	} else if snap.StochK >= cc.StochOverbought {
		vote(false, asmt.OscWeight, "stochastic overbought")
	}
	if bullX {
		vote(true, asmt.OscWeight, "oscillator crossover confirmation")
	}
	if bearX {
		vote(false, asmt.OscWeight, "oscillator crossover confirmation")
	}

	// Volume confirms the last candle's direction.
	if snap.VolumeRatio >= cc.VolumeConfirmRatio && len(in.Candles) > 0 {
		last := in.Candles[len(in.Candles)-1]
		vote(last.Close >= last.Open, 1.0, "volume confirmation")
	}

	t.filterPasses = countFilters(in, bullX, bearX, c.cfg)
	return t
}

// countFilters evaluates the five independent boolean entry filters for
// the currently dominant direction.
func countFilters(in Input, bullX, bearX bool, cfg *config.Config) int {
	snap := in.Snapshot
	cc := cfg.Classifier
	bullish := snap.EMAShort > snap.EMALong

	passes := 0
	// 1. Trend alignment.
	if bullish && snap.Price > snap.SMA || !bullish && snap.Price < snap.SMA {
		passes++
	}
	// 2. Strong ADX.
	if snap.ADX >= cfg.Regime.ADXTrendingMin {
		passes++
	}
	// 3. Oscillator band leaves room in the trade direction.
	if bullish && snap.RSI < cc.RSIOverbought || !bullish && snap.RSI > cc.RSIOversold {
		passes++
	}
	// 4. Momentum confirmation.
	if bullish && (snap.MACDHist > 0 || bullX) || !bullish && (snap.MACDHist < 0 || bearX) {
		passes++
	}
	// 5. Volume.
	if snap.VolumeRatio >= cc.VolumeConfirmRatio {
		passes++
	}
	return passes
}

// resolve turns a tally into a decision against the regime's vote
// threshold and the minimum filter count.
func resolve(t tally, asmt regime.Assessment, cc config.ClassifierConfig) Signal {
	net := t.bull - t.bear
	sig := Signal{
		Kind:         Hold,
		BullishVotes: t.bull,
		BearishVotes: t.bear,
		Reasons:      t.reasons,
	}
	if math.Abs(net) < asmt.VoteThreshold {
		sig.Reasons = append(sig.Reasons, "votes below threshold")
		return sig
	}
	if t.filterPasses < cc.MinFilters {
		sig.Reasons = append(sig.Reasons,
			fmt.Sprintf("filters %d/%d", t.filterPasses, cc.MinFilters))
		return sig
	}
	sig.Confidence = math.Min(math.Abs(net)/(asmt.VoteThreshold*2), 1.0)
	if net > 0 {
		sig.Kind = Buy
	} else {
		sig.Kind = Sell
	}
	return sig
}
