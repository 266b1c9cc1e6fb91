package signal

import (
	"fmt"

	"github.com/holtzen/adaptrade/config"
	"github.com/holtzen/adaptrade/indicator"
	"github.com/holtzen/adaptrade/logger"
	"github.com/holtzen/adaptrade/regime"
	"github.com/holtzen/adaptrade/types"
)

// Kind is the classifier's decision for one symbol and tick.
type Kind string

const (
	Buy   Kind = "BUY"
	Sell  Kind = "SELL"
	Short Kind = "SHORT"
	Hold  Kind = "HOLD"
)

// Signal is the classifier output. StopLoss/TakeProfit are optional
// dynamic levels; zero means the lifecycle manager derives them from ATR.
type Signal struct {
	Kind         Kind
	BullishVotes float64
	BearishVotes float64
	Confidence   float64
	Reasons      []string
	SizeHint     float64
	StopLoss     float64
	TakeProfit   float64

	// KnifeRisk marks entries taken against a sharp recent drop; the
	// lifecycle manager widens the stop for them.
	KnifeRisk bool
}

func hold(reason string) Signal {
	return Signal{Kind: Hold, Reasons: []string{reason}}
}

// Input is everything a strategy may read for one evaluation. All fields
// are read-only for the strategy.
type Input struct {
	Symbol     string
	Candles    []types.Candle
	Snapshot   *indicator.Snapshot
	Assessment regime.Assessment
}

// Strategy is the one polymorphic decision abstraction; variants are
// selected by configuration. Implementations keep per-symbol state, so
// callers construct one instance per symbol.
type Strategy interface {
	Name() string
	Evaluate(in Input) Signal
}

// New constructs the configured strategy variant for one symbol.
func New(cfg *config.Config, log logger.Logger) (Strategy, error) {
	switch cfg.Classifier.Mode {
	case "trend":
		return newClassifier(cfg, log)
	case "meanrev":
		return newMeanReversion(cfg, log), nil
	case "hybrid":
		return newHybrid(cfg, log)
	case "multitf":
		return newMultiTF(cfg, log)
	default:
		return nil, fmt.Errorf("signal: unknown classifier mode %q", cfg.Classifier.Mode)
	}
}
