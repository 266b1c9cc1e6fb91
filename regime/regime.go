package regime

import (
	"math"

	"github.com/holtzen/adaptrade/config"
	"github.com/holtzen/adaptrade/indicator"
)

// Regime classifies current market behavior.
type Regime string

const (
	Trending      Regime = "TRENDING"
	Ranging       Regime = "RANGING"
	Transitioning Regime = "TRANSITIONING"
)

// Assessment carries the regime plus the adaptive vote weights and vote
// threshold the classifier applies this tick.
type Assessment struct {
	Regime         Regime
	TrendStrength  float64 // 0..1
	TrendDirection int     // -1, 0, +1
	TrendWeight    float64
	OscWeight      float64
	VoteThreshold  float64
}

// Detect classifies via ADX bounds, cross-checked against the 20-period
// linear regression: strong R2 with a nonzero slope forces TRENDING, a
// weak fit downgrades TRENDING to TRANSITIONING.
func Detect(snap *indicator.Snapshot, cfg config.RegimeConfig) Assessment {
	var r Regime
	switch {
	case snap.ADX > cfg.ADXTrendingMin:
		r = Trending
	case snap.ADX < cfg.ADXRangingMax:
		r = Ranging
	default:
		r = Transitioning
	}

	if snap.RegR2 > cfg.RSquaredStrong && snap.RegSlope != 0 {
		r = Trending
	} else if r == Trending && snap.RegR2 < cfg.RSquaredWeak {
		r = Transitioning
	}

	a := Assessment{
		Regime:         r,
		TrendStrength:  math.Min(snap.ADX/50.0, 1.0),
		TrendDirection: direction(snap, r),
	}
	switch r {
	case Trending:
		a.TrendWeight = cfg.TrendingTrendWeight
		a.OscWeight = cfg.TrendingOscWeight
		a.VoteThreshold = cfg.TrendingVoteThreshold
	case Ranging:
		a.TrendWeight = cfg.RangingTrendWeight
		a.OscWeight = cfg.RangingOscWeight
		a.VoteThreshold = cfg.RangingVoteThreshold
	default:
		a.TrendWeight = cfg.TransitionTrendWeight
		a.OscWeight = cfg.TransitionOscWeight
		a.VoteThreshold = cfg.TransitionVoteThreshold
	}
	return a
}

func direction(snap *indicator.Snapshot, r Regime) int {
	if r == Ranging {
		return 0
	}
	if snap.RegSlope > 0 {
		return 1
	}
	if snap.RegSlope < 0 {
		return -1
	}
	if snap.PlusDI > snap.MinusDI {
		return 1
	}
	if snap.MinusDI > snap.PlusDI {
		return -1
	}
	return 0
}
