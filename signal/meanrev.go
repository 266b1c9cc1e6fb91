package signal

import (
	"fmt"
	"math"

	"github.com/holtzen/adaptrade/config"
	"github.com/holtzen/adaptrade/indicator"
	"github.com/holtzen/adaptrade/logger"
	"github.com/holtzen/adaptrade/types"
)

// MeanReversion enters on extreme oscillator or Z-score readings and is
// vetoed by any falling-knife guard. Take-profit targets the mean.
type MeanReversion struct {
	cfg *config.Config
	log logger.Logger
}

func newMeanReversion(cfg *config.Config, log logger.Logger) *MeanReversion {
	return &MeanReversion{cfg: cfg, log: log}
}

func (m *MeanReversion) Name() string { return "meanrev" }

func (m *MeanReversion) Evaluate(in Input) Signal {
	snap := in.Snapshot
	cc := m.cfg.Classifier
	mr := cc.MeanRev

	z := zScore(in.Candles, m.cfg.Indicators.RegressionPeriod)

	oversold := snap.RSI <= cc.RSIOversold && snap.StochK <= cc.StochOversold
	overbought := snap.RSI >= cc.RSIOverbought && snap.StochK >= cc.StochOverbought

	longEntry := z <= -mr.ZScoreEntry || oversold
	shortEntry := z >= mr.ZScoreEntry || overbought
	if !longEntry && !shortEntry {
		return hold("no mean-reversion extreme")
	}

	if longEntry {
		if why, risky := m.fallingKnife(in); risky {
			return hold("falling knife: " + why)
		}
		return Signal{
			Kind:         Buy,
			BullishVotes: math.Abs(z),
			Confidence:   math.Min(math.Abs(z)/(mr.ZScoreEntry*2), 1.0),
			Reasons:      []string{fmt.Sprintf("mean reversion long, z=%.2f", z)},
			TakeProfit:   snap.SMA,
			// Entries into a fresh drop carry extra gap risk even after
			// the guards pass; the lifecycle manager widens their stop.
			KnifeRisk: snap.VolumeRatio >= cc.VolumeConfirmRatio,
		}
	}

	if !cc.Short.Enabled {
		return hold("short disabled")
	}
	return Signal{
		Kind:         Short,
		BearishVotes: math.Abs(z),
		Confidence:   math.Min(math.Abs(z)/(mr.ZScoreEntry*2), 1.0),
		Reasons:      []string{fmt.Sprintf("mean reversion short, z=%.2f", z)},
		TakeProfit:   snap.SMA,
	}
}

// fallingKnife reports the first guard that trips: price far below its
// recent low, a declining long average, a run of down candles, or a
// volume spike.
func (m *MeanReversion) fallingKnife(in Input) (string, bool) {
	mr := m.cfg.Classifier.MeanRev
	candles := in.Candles
	snap := in.Snapshot
	if len(candles) < mr.KnifeLowWindow+1 {
		return "insufficient history", true
	}

	price := snap.Price
	window := candles[len(candles)-1-mr.KnifeLowWindow : len(candles)-1]
	low := window[0].Low
	for _, c := range window[1:] {
		low = math.Min(low, c.Low)
	}
	if price < low*(1-mr.KnifeDropPct) {
		return "price far below recent low", true
	}

	prevSMA := indicator.SMA(closesOf(candles[:len(candles)-5]), m.cfg.Indicators.SMAPeriod)
	if snap.SMA < prevSMA {
		return "long average declining", true
	}

	run := 0
	for i := len(candles) - 1; i > 0; i-- {
		if candles[i].Close < candles[i-1].Close {
			run++
		} else {
			break
		}
	}
	if run >= mr.KnifeRunLength {
		return "run of down candles", true
	}

	if snap.VolumeRatio >= m.cfg.Classifier.VolumeSpikeRatio {
		return "volume spike", true
	}
	return "", false
}

func closesOf(candles []types.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

// zScore measures how far the latest close sits from the window mean, in
// standard deviations.
func zScore(candles []types.Candle, period int) float64 {
	closes := closesOf(candles)
	if len(closes) < period || period < 2 {
		return 0
	}
	window := closes[len(closes)-period:]
	mean := indicator.SMA(window, period)
	variance := 0.0
	for _, v := range window {
		variance += (v - mean) * (v - mean)
	}
	std := math.Sqrt(variance / float64(period))
	if std == 0 {
		return 0
	}
	return (closes[len(closes)-1] - mean) / std
}
