package indicator

import (
	"errors"
	"fmt"
	"math"

	"github.com/holtzen/adaptrade/config"
	"github.com/holtzen/adaptrade/types"
)

// ErrInsufficientData is returned when the candle window is shorter than
// an indicator's minimum length. Callers degrade to HOLD, never fail.
var ErrInsufficientData = errors.New("indicator: insufficient candle history")

// ErrMalformedSeries is returned for OHLCV data the math cannot use
// (non-positive prices, inverted high/low). The symbol is skipped for the
// tick.
var ErrMalformedSeries = errors.New("indicator: malformed candle series")

// Snapshot holds the derived features for the latest candle. It is
// recomputed every tick and never persisted.
type Snapshot struct {
	Price    float64
	EMAShort float64
	EMALong  float64
	SMA      float64

	RSI float64

	MACD       float64
	MACDSignal float64
	MACDHist   float64

	ADX     float64
	PlusDI  float64
	MinusDI float64

	ATR         float64
	StochK      float64
	StochD      float64
	VolumeRatio float64

	// 20-period linear regression over closes.
	RegSlope float64
	RegR2    float64

	// ATR relative to price; drives adaptive periods and sizing.
	Volatility float64
}

// Compute derives a Snapshot for the latest candle of an ordered series.
// Smoothing periods self-adapt to recent ATR/price volatility:
// >3% -> x1.3, >2% -> x1.15, <0.8% -> x0.85, <1.2% -> x0.95.
// Deterministic given identical history.
func Compute(candles []types.Candle, cfg config.IndicatorConfig) (*Snapshot, error) {
	if len(candles) < cfg.MinCandles {
		return nil, fmt.Errorf("%w: have %d, need %d", ErrInsufficientData, len(candles), cfg.MinCandles)
	}
	for i := range candles {
		c := &candles[i]
		if c.Close <= 0 || c.Open <= 0 || c.High < c.Low || c.Volume < 0 {
			return nil, fmt.Errorf("%w: candle %d", ErrMalformedSeries, i)
		}
	}

	closes := make([]float64, len(candles))
	vols := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
		vols[i] = c.Volume
	}
	price := closes[len(closes)-1]

	atr := ATR(candles, cfg.ATRPeriod)
	volatility := atr / price
	scale := periodScale(volatility)

	emaShortP := scaled(cfg.EMAShortPeriod, scale)
	emaLongP := scaled(cfg.EMALongPeriod, scale)
	rsiP := scaled(cfg.RSIPeriod, scale)
	stochP := scaled(cfg.StochPeriod, scale)

	macd, macdSig, macdHist := MACD(closes, cfg.MACDFast, cfg.MACDSlow, cfg.MACDSignal)
	adx, plusDI, minusDI := ADX(candles, cfg.ADXPeriod)
	stochK, stochD := Stochastic(candles, stochP, cfg.StochSmooth)
	slope, r2 := Regression(closes, cfg.RegressionPeriod)

	return &Snapshot{
		Price:       price,
		EMAShort:    EMA(closes, emaShortP),
		EMALong:     EMA(closes, emaLongP),
		SMA:         SMA(closes, cfg.SMAPeriod),
		RSI:         RSI(closes, rsiP),
		MACD:        macd,
		MACDSignal:  macdSig,
		MACDHist:    macdHist,
		ADX:         adx,
		PlusDI:      plusDI,
		MinusDI:     minusDI,
		ATR:         atr,
		StochK:      stochK,
		StochD:      stochD,
		VolumeRatio: volumeRatio(vols, cfg.VolumePeriod),
		RegSlope:    slope,
		RegR2:       r2,
		Volatility:  volatility,
	}, nil
}

// periodScale maps ATR/price volatility to a smoothing-period multiplier.
func periodScale(vol float64) float64 {
	switch {
	case vol > 0.03:
		return 1.3
	case vol > 0.02:
		return 1.15
	case vol < 0.008:
		return 0.85
	case vol < 0.012:
		return 0.95
	default:
		return 1.0
	}
}

func scaled(period int, scale float64) int {
	p := int(math.Round(float64(period) * scale))
	if p < 2 {
		p = 2
	}
	return p
}

// SMA over the trailing window.
func SMA(values []float64, period int) float64 {
	if period <= 0 || len(values) < period {
		period = len(values)
	}
	sum := 0.0
	for _, v := range values[len(values)-period:] {
		sum += v
	}
	return sum / float64(period)
}

// EMA seeds with an SMA over the first period, then smooths the rest.
func EMA(values []float64, period int) float64 {
	if len(values) == 0 {
		return 0
	}
	if len(values) < period {
		return SMA(values, len(values))
	}
	k := 2.0 / (float64(period) + 1.0)
	ema := SMA(values[:period], period)
	for _, v := range values[period:] {
		ema = v*k + ema*(1-k)
	}
	return ema
}

// emaSeries returns the running EMA aligned to the input length; entries
// before the seed period repeat the seed value.
func emaSeries(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}
	if len(values) < period {
		v := SMA(values, len(values))
		for i := range out {
			out[i] = v
		}
		return out
	}
	k := 2.0 / (float64(period) + 1.0)
	seed := SMA(values[:period], period)
	for i := 0; i < period; i++ {
		out[i] = seed
	}
	ema := seed
	for i := period; i < len(values); i++ {
		ema = values[i]*k + ema*(1-k)
		out[i] = ema
	}
	return out
}

// RSI uses Wilder smoothing over close-to-close changes.
func RSI(closes []float64, period int) float64 {
	if len(closes) < period+1 {
		return 50
	}
	gains, losses := 0.0, 0.0
	for i := len(closes) - period; i < len(closes); i++ {
		d := closes[i] - closes[i-1]
		if d > 0 {
			gains += d
		} else {
			losses -= d
		}
	}
	if losses == 0 {
		return 100
	}
	rs := gains / losses
	return 100 - 100/(1+rs)
}

// MACD returns line, signal and histogram for the latest candle.
func MACD(closes []float64, fast, slow, signal int) (line, sig, hist float64) {
	if len(closes) < slow+signal {
		return 0, 0, 0
	}
	fastS := emaSeries(closes, fast)
	slowS := emaSeries(closes, slow)
	macdS := make([]float64, len(closes))
	for i := range closes {
		macdS[i] = fastS[i] - slowS[i]
	}
	sigS := emaSeries(macdS[slow-1:], signal)
	line = macdS[len(macdS)-1]
	sig = sigS[len(sigS)-1]
	return line, sig, line - sig
}

// ATR uses Wilder smoothing over true ranges.
func ATR(candles []types.Candle, period int) float64 {
	if len(candles) < 2 {
		return 0
	}
	trs := trueRanges(candles)
	if len(trs) < period {
		return SMA(trs, len(trs))
	}
	atr := SMA(trs[:period], period)
	for _, tr := range trs[period:] {
		atr = (atr*float64(period-1) + tr) / float64(period)
	}
	return atr
}

func trueRanges(candles []types.Candle) []float64 {
	trs := make([]float64, 0, len(candles)-1)
	for i := 1; i < len(candles); i++ {
		h, l, pc := candles[i].High, candles[i].Low, candles[i-1].Close
		tr := math.Max(h-l, math.Max(math.Abs(h-pc), math.Abs(l-pc)))
		trs = append(trs, tr)
	}
	return trs
}

// ADX returns the average directional index plus the directional lines.
func ADX(candles []types.Candle, period int) (adx, plusDI, minusDI float64) {
	if len(candles) < 2*period+1 {
		return 0, 0, 0
	}
	n := len(candles)
	plusDM := make([]float64, 0, n-1)
	minusDM := make([]float64, 0, n-1)
	for i := 1; i < n; i++ {
		up := candles[i].High - candles[i-1].High
		down := candles[i-1].Low - candles[i].Low
		p, m := 0.0, 0.0
		if up > down && up > 0 {
			p = up
		}
		if down > up && down > 0 {
			m = down
		}
		plusDM = append(plusDM, p)
		minusDM = append(minusDM, m)
	}
	trs := trueRanges(candles)

	smTR := wilderSum(trs, period)
	smPlus := wilderSum(plusDM, period)
	smMinus := wilderSum(minusDM, period)

	dxs := make([]float64, 0, len(smTR))
	for i := range smTR {
		if smTR[i] == 0 {
			dxs = append(dxs, 0)
			continue
		}
		pdi := 100 * smPlus[i] / smTR[i]
		mdi := 100 * smMinus[i] / smTR[i]
		plusDI, minusDI = pdi, mdi
		sum := pdi + mdi
		if sum == 0 {
			dxs = append(dxs, 0)
			continue
		}
		dxs = append(dxs, 100*math.Abs(pdi-mdi)/sum)
	}
	if len(dxs) < period {
		return 0, plusDI, minusDI
	}
	adx = SMA(dxs[:period], period)
	for _, dx := range dxs[period:] {
		adx = (adx*float64(period-1) + dx) / float64(period)
	}
	return adx, plusDI, minusDI
}

// wilderSum applies Wilder's smoothed-sum recursion.
func wilderSum(values []float64, period int) []float64 {
	if len(values) < period {
		return nil
	}
	out := make([]float64, 0, len(values)-period+1)
	sum := 0.0
	for _, v := range values[:period] {
		sum += v
	}
	out = append(out, sum)
	for _, v := range values[period:] {
		sum = sum - sum/float64(period) + v
		out = append(out, sum)
	}
	return out
}

// Stochastic returns %K (smoothed) and %D.
func Stochastic(candles []types.Candle, period, smooth int) (k, d float64) {
	if len(candles) < period+smooth {
		return 50, 50
	}
	raw := make([]float64, 0, smooth+2)
	for end := len(candles) - smooth - 1; end < len(candles); end++ {
		window := candles[end-period+1 : end+1]
		hi, lo := window[0].High, window[0].Low
		for _, c := range window[1:] {
			hi = math.Max(hi, c.High)
			lo = math.Min(lo, c.Low)
		}
		if hi == lo {
			raw = append(raw, 50)
			continue
		}
		raw = append(raw, 100*(candles[end].Close-lo)/(hi-lo))
	}
	k = SMA(raw[len(raw)-smooth:], smooth)
	d = SMA(raw, len(raw))
	return k, d
}

// Regression fits closes over the trailing period and returns the slope
// and the coefficient of determination.
func Regression(closes []float64, period int) (slope, r2 float64) {
	if len(closes) < period {
		period = len(closes)
	}
	window := closes[len(closes)-period:]
	n := float64(len(window))
	if n < 2 {
		return 0, 0
	}
	var sumX, sumY, sumXY, sumXX float64
	for i, y := range window {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	den := n*sumXX - sumX*sumX
	if den == 0 {
		return 0, 0
	}
	slope = (n*sumXY - sumX*sumY) / den
	intercept := (sumY - slope*sumX) / n

	meanY := sumY / n
	var ssRes, ssTot float64
	for i, y := range window {
		fit := intercept + slope*float64(i)
		ssRes += (y - fit) * (y - fit)
		ssTot += (y - meanY) * (y - meanY)
	}
	if ssTot == 0 {
		return slope, 0
	}
	return slope, 1 - ssRes/ssTot
}

func volumeRatio(vols []float64, period int) float64 {
	if len(vols) == 0 {
		return 1
	}
	avg := SMA(vols, period)
	if avg == 0 {
		return 1
	}
	return vols[len(vols)-1] / avg
}
