package signal

import (
	"math"

	"github.com/holtzen/adaptrade/config"
	"github.com/holtzen/adaptrade/indicator"
	"github.com/holtzen/adaptrade/logger"
	"github.com/holtzen/adaptrade/regime"
	"github.com/holtzen/adaptrade/types"
)

// MultiTF runs the same classifier per timeframe and combines the results
// by weighted vote. Higher timeframes are produced by resampling the base
// candle window, so a single feed serves every resolution.
type MultiTF struct {
	cfg      *config.Config
	log      logger.Logger
	children []*Classifier
}

func newMultiTF(cfg *config.Config, log logger.Logger) (*MultiTF, error) {
	mt := &MultiTF{cfg: cfg, log: log}
	for range cfg.Classifier.MultiTF.Factors {
		c, err := newClassifier(cfg, log)
		if err != nil {
			return nil, err
		}
		mt.children = append(mt.children, c)
	}
	return mt, nil
}

func (m *MultiTF) Name() string { return "multitf" }

func (m *MultiTF) Evaluate(in Input) Signal {
	mc := m.cfg.Classifier.MultiTF

	var combined Signal
	combined.Kind = Hold
	kinds := make([]Kind, 0, len(m.children))

	for i, child := range m.children {
		factor := mc.Factors[i]
		weight := mc.Weights[i]

		candles := Resample(in.Candles, factor)
		snap, err := indicator.Compute(candles, m.cfg.Indicators)
		if err != nil {
			// One short timeframe degrades the whole combination to HOLD:
			// a non-HOLD decision needs every resolution's confirmation.
			return hold("timeframe window too short")
		}
		asmt := regime.Detect(snap, m.cfg.Regime)
		sub := child.Evaluate(Input{
			Symbol:     in.Symbol,
			Candles:    candles,
			Snapshot:   snap,
			Assessment: asmt,
		})

		combined.BullishVotes += sub.BullishVotes * weight
		combined.BearishVotes += sub.BearishVotes * weight
		combined.Confidence += sub.Confidence * weight
		combined.Reasons = append(combined.Reasons, sub.Reasons...)
		kinds = append(kinds, sub.Kind)
	}

	var weightSum float64
	for _, w := range mc.Weights {
		weightSum += w
	}
	if weightSum > 0 {
		combined.Confidence /= weightSum
	}

	// Majority by weighted kind; the base (first) timeframe breaks ties.
	combined.Kind = kinds[0]
	if combined.Kind == Hold {
		return combined
	}
	for _, k := range kinds[1:] {
		if k == Hold {
			combined.Kind = Hold
			combined.Reasons = append(combined.Reasons, "higher timeframe not confirming")
			return combined
		}
		if k != combined.Kind {
			combined.Kind = Hold
			combined.Reasons = append(combined.Reasons, "timeframe disagreement")
			return combined
		}
	}

	// Full agreement across every timeframe earns the bonus multiplier.
	combined.BullishVotes *= mc.AgreementBonus
	combined.BearishVotes *= mc.AgreementBonus
	combined.Confidence = math.Min(combined.Confidence*mc.AgreementBonus, 1.0)
	combined.Reasons = append(combined.Reasons, "full timeframe agreement")
	return combined
}

// Resample aggregates groups of factor base candles into one higher
// timeframe candle, aligned so the last group ends at the latest candle.
// An incomplete leading group is dropped.
func Resample(candles []types.Candle, factor int) []types.Candle {
	if factor <= 1 {
		return candles
	}
	n := len(candles) / factor
	if n == 0 {
		return nil
	}
	out := make([]types.Candle, 0, n)
	start := len(candles) - n*factor
	for i := 0; i < n; i++ {
		group := candles[start+i*factor : start+(i+1)*factor]
		agg := types.Candle{
			Timestamp: group[0].Timestamp,
			Open:      group[0].Open,
			High:      group[0].High,
			Low:       group[0].Low,
			Close:     group[len(group)-1].Close,
		}
		for _, c := range group {
			agg.High = math.Max(agg.High, c.High)
			agg.Low = math.Min(agg.Low, c.Low)
			agg.Volume += c.Volume
		}
		out = append(out, agg)
	}
	return out
}
