package signal

import (
	"github.com/holtzen/adaptrade/config"
)

// shortComposite scores the bearish-sentiment composite used to upgrade a
// SELL into a SHORT. Each component is a cheap proxy computed from the
// candle window; no external sentiment feed is consulted.
func shortComposite(in Input, cc config.ClassifierConfig) (float64, []string) {
	sc := cc.Short
	candles := in.Candles
	snap := in.Snapshot
	if len(candles) < sc.FundingWindow+1 {
		return 0, nil
	}

	score := 0.0
	var reasons []string

	// Sentiment-index proxy: net drop across the window.
	first := candles[len(candles)-1-sc.FundingWindow].Close
	last := candles[len(candles)-1].Close
	if first > 0 && (first-last)/first >= sc.SentimentDrop {
		score++
		reasons = append(reasons, "short: sentiment proxy")
	}

	// Funding-rate proxy: persistent selling across the window.
	down := 0
	for i := len(candles) - sc.FundingWindow; i < len(candles); i++ {
		if candles[i].Close < candles[i-1].Close {
			down++
		}
	}
	if float64(down)/float64(sc.FundingWindow) > 0.6 {
		score++
		reasons = append(reasons, "short: funding proxy")
	}

	// Liquidation-imbalance proxy: an outsized bearish body on the last bar.
	lastBar := candles[len(candles)-1]
	if lastBar.Open > 0 && (lastBar.Open-lastBar.Close)/lastBar.Open >= sc.LiquidationGap {
		score++
		reasons = append(reasons, "short: liquidation imbalance proxy")
	}

	// Volatility-spike bonus.
	if snap.Volatility >= sc.VolSpikePct {
		score += 0.5
		reasons = append(reasons, "short: volatility spike")
	}

	// Fear-inertia bonus: unbroken run of down closes.
	run := 0
	for i := len(candles) - 1; i > 0; i-- {
		if candles[i].Close < candles[i-1].Close {
			run++
		} else {
			break
		}
	}
	if run >= sc.FearRunLength {
		score += 0.5
		reasons = append(reasons, "short: fear inertia")
	}

	return score, reasons
}
