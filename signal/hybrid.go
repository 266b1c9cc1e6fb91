package signal

import (
	"github.com/holtzen/adaptrade/config"
	"github.com/holtzen/adaptrade/logger"
)

// Hybrid switches between the trend-following classifier and the
// mean-reversion variant purely on the current ADX value, with a
// minimum-dwell hysteresis so a single noisy reading cannot flip modes.
type Hybrid struct {
	cfg     *config.Config
	log     logger.Logger
	trend   *Classifier
	meanrev *MeanReversion

	inTrend bool
	dwell   int
}

func newHybrid(cfg *config.Config, log logger.Logger) (*Hybrid, error) {
	trend, err := newClassifier(cfg, log)
	if err != nil {
		return nil, err
	}
	return &Hybrid{
		cfg:     cfg,
		log:     log,
		trend:   trend,
		meanrev: newMeanReversion(cfg, log),
		inTrend: true,
	}, nil
}

func (h *Hybrid) Name() string { return "hybrid" }

// ActiveTrend reports which sub-strategy currently drives decisions.
func (h *Hybrid) ActiveTrend() bool { return h.inTrend }

func (h *Hybrid) Evaluate(in Input) Signal {
	h.dwell++
	hc := h.cfg.Classifier.Hybrid
	if h.dwell >= hc.MinDwellBars {
		wantTrend := in.Snapshot.ADX >= hc.ADXSwitch
		if wantTrend != h.inTrend {
			h.log.Info("hybrid_mode_switch",
				logger.String("symbol", in.Symbol),
				logger.Bool("trend", wantTrend),
				logger.Float64("adx", in.Snapshot.ADX),
			)
			h.inTrend = wantTrend
			h.dwell = 0
		}
	}
	if h.inTrend {
		return h.trend.Evaluate(in)
	}
	return h.meanrev.Evaluate(in)
}
