package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the single immutable configuration record. It is constructed
// once per process lifetime and passed by reference into every component.
type Config struct {
	Symbols []string `yaml:"symbols" validate:"min=1"`

	Engine     EngineConfig     `yaml:"engine"`
	Indicators IndicatorConfig  `yaml:"indicators"`
	Regime     RegimeConfig     `yaml:"regime"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Sizing     SizingConfig     `yaml:"sizing"`
	Risk       RiskConfig       `yaml:"risk"`
	Lifecycle  LifecycleConfig  `yaml:"lifecycle"`
	Ledger     LedgerConfig     `yaml:"ledger"`
	Notify     NotifyConfig     `yaml:"notify"`
	API        APIConfig        `yaml:"api"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// EngineConfig controls the adaptive decision loop.
type EngineConfig struct {
	Interval    string `yaml:"interval" default:"1m"`
	CandleLimit int    `yaml:"candle_limit" default:"120" validate:"gt=0"`

	// Tick interval is interpolated between TickMin and TickMax on the
	// average absolute close-to-close change: quiet markets get the short
	// interval, volatile ones the long.
	TickMin time.Duration `yaml:"tick_min" default:"10s"`
	TickMax time.Duration `yaml:"tick_max" default:"60s"`
	VolLow  float64       `yaml:"vol_low" default:"0.001"`
	VolHigh float64       `yaml:"vol_high" default:"0.01"`

	ForceCloseOnStop bool `yaml:"force_close_on_stop"`
}

// IndicatorConfig holds smoothing periods. Periods self-adapt to recent
// volatility before computation (see indicator.Compute).
type IndicatorConfig struct {
	EMAShortPeriod   int `yaml:"ema_short_period" default:"9" validate:"gt=0"`
	EMALongPeriod    int `yaml:"ema_long_period" default:"21" validate:"gt=0"`
	SMAPeriod        int `yaml:"sma_period" default:"50" validate:"gt=0"`
	RSIPeriod        int `yaml:"rsi_period" default:"14" validate:"gt=0"`
	MACDFast         int `yaml:"macd_fast" default:"12" validate:"gt=0"`
	MACDSlow         int `yaml:"macd_slow" default:"26" validate:"gt=0"`
	MACDSignal       int `yaml:"macd_signal" default:"9" validate:"gt=0"`
	ADXPeriod        int `yaml:"adx_period" default:"14" validate:"gt=0"`
	ATRPeriod        int `yaml:"atr_period" default:"14" validate:"gt=0"`
	StochPeriod      int `yaml:"stoch_period" default:"14" validate:"gt=0"`
	StochSmooth      int `yaml:"stoch_smooth" default:"3" validate:"gt=0"`
	VolumePeriod     int `yaml:"volume_period" default:"20" validate:"gt=0"`
	RegressionPeriod int `yaml:"regression_period" default:"20" validate:"gt=0"`
	MinCandles       int `yaml:"min_candles" default:"60" validate:"gt=0"`
}

// RegimeConfig drives classification and the adaptive vote weights.
type RegimeConfig struct {
	ADXTrendingMin  float64 `yaml:"adx_trending_min" default:"25"`
	ADXRangingMax   float64 `yaml:"adx_ranging_max" default:"20"`
	RSquaredStrong  float64 `yaml:"r_squared_strong" default:"0.6"`
	RSquaredWeak    float64 `yaml:"r_squared_weak" default:"0.3"`

	TrendingTrendWeight   float64 `yaml:"trending_trend_weight" default:"1.3"`
	TrendingOscWeight     float64 `yaml:"trending_osc_weight" default:"0.7"`
	TrendingVoteThreshold float64 `yaml:"trending_vote_threshold" default:"4"`

	RangingTrendWeight   float64 `yaml:"ranging_trend_weight" default:"0.7"`
	RangingOscWeight     float64 `yaml:"ranging_osc_weight" default:"1.3"`
	RangingVoteThreshold float64 `yaml:"ranging_vote_threshold" default:"4"`

	TransitionTrendWeight   float64 `yaml:"transition_trend_weight" default:"1.0"`
	TransitionOscWeight     float64 `yaml:"transition_osc_weight" default:"1.0"`
	TransitionVoteThreshold float64 `yaml:"transition_vote_threshold" default:"5"`
}

// ClassifierConfig covers the weighted-vote core plus the mode-specific
// sub-configs of the consolidated strategy variants.
type ClassifierConfig struct {
	Mode       string `yaml:"mode" default:"trend" validate:"oneof=trend meanrev hybrid multitf"`
	MinFilters int    `yaml:"min_filters" default:"3" validate:"gte=0,lte=5"`

	RSIOverbought   float64 `yaml:"rsi_overbought" default:"70"`
	RSIOversold     float64 `yaml:"rsi_oversold" default:"30"`
	StochOverbought float64 `yaml:"stoch_overbought" default:"80"`
	StochOversold   float64 `yaml:"stoch_oversold" default:"20"`

	VolumeConfirmRatio float64 `yaml:"volume_confirm_ratio" default:"1.2"`
	VolumeSpikeRatio   float64 `yaml:"volume_spike_ratio" default:"2.5"`

	Short   ShortConfig   `yaml:"short"`
	MeanRev MeanRevConfig `yaml:"mean_reversion"`
	Hybrid  HybridConfig  `yaml:"hybrid"`
	MultiTF MultiTFConfig `yaml:"multi_timeframe"`
}

// ShortConfig scores the bearish-sentiment composite that upgrades SELL
// to SHORT.
type ShortConfig struct {
	Enabled        bool    `yaml:"enabled" default:"true"`
	MinScore       float64 `yaml:"min_score" default:"3"`
	BonusVotes     float64 `yaml:"bonus_votes" default:"2"`
	SentimentDrop  float64 `yaml:"sentiment_drop" default:"0.03"`
	FundingWindow  int     `yaml:"funding_window" default:"8"`
	LiquidationGap float64 `yaml:"liquidation_gap" default:"0.02"`
	VolSpikePct    float64 `yaml:"vol_spike_pct" default:"0.03"`
	FearRunLength  int     `yaml:"fear_run_length" default:"3"`
}

// MeanRevConfig parameterizes the mean-reversion mode and its
// falling-knife guards.
type MeanRevConfig struct {
	ZScoreEntry    float64 `yaml:"z_score_entry" default:"2"`
	KnifeDropPct   float64 `yaml:"knife_drop_pct" default:"0.04"`
	KnifeRunLength int     `yaml:"knife_run_length" default:"4"`
	KnifeLowWindow int     `yaml:"knife_low_window" default:"20"`
}

// HybridConfig switches between trend-following and mean-reversion by ADX
// with a minimum-dwell hysteresis.
type HybridConfig struct {
	ADXSwitch    float64 `yaml:"adx_switch" default:"25"`
	MinDwellBars int     `yaml:"min_dwell_bars" default:"10" validate:"gt=0"`
}

// MultiTFConfig combines per-timeframe classifier votes.
type MultiTFConfig struct {
	// Aggregation factors relative to the base interval, e.g. [1, 4].
	Factors        []int     `yaml:"factors" default:"[1,4]"`
	Weights        []float64 `yaml:"weights" default:"[1.0,1.5]"`
	AgreementBonus float64   `yaml:"agreement_bonus" default:"1.25"`
}

// SizingConfig feeds the position sizer (ladder, volatility scaling, Kelly).
type SizingConfig struct {
	BaseFraction   float64 `yaml:"base_fraction" default:"0.10"`
	MediumFraction float64 `yaml:"medium_fraction" default:"0.15"`
	StrongFraction float64 `yaml:"strong_fraction" default:"0.25"`
	MediumVotes    float64 `yaml:"medium_votes" default:"6"`
	StrongVotes    float64 `yaml:"strong_votes" default:"8"`

	HighVolThreshold float64 `yaml:"high_vol_threshold" default:"0.04"`
	LowVolThreshold  float64 `yaml:"low_vol_threshold" default:"0.01"`
	LowVolBoost      float64 `yaml:"low_vol_boost" default:"1.2"`

	KellyWindow    int     `yaml:"kelly_window" default:"20" validate:"gt=0"`
	KellyMinTrades int     `yaml:"kelly_min_trades" default:"10" validate:"gt=0"`
	KellyFraction  float64 `yaml:"kelly_fraction" default:"0.5"`
	KellyRefVol    float64 `yaml:"kelly_ref_vol" default:"0.02"`
	KellyMin       float64 `yaml:"kelly_min" default:"0.5"`
	KellyMax       float64 `yaml:"kelly_max" default:"1.5"`

	SmallBalanceUSD float64 `yaml:"small_balance_usd" default:"500"`
	MinOrderUSD     float64 `yaml:"min_order_usd" default:"10"`

	MaxFraction float64 `yaml:"max_fraction" default:"0.35"`
}

// CapStep maps an equity floor to the maximum number of concurrently open
// positions once equity reaches it.
type CapStep struct {
	Equity       float64 `yaml:"equity"`
	MaxPositions int     `yaml:"max_positions"`
}

// RiskConfig drives the admission gate.
type RiskConfig struct {
	PositionCapSteps []CapStep           `yaml:"position_cap_steps"`
	Groups           map[string][]string `yaml:"correlation_groups"`

	// Symbols that historically track the anchor asset; an extra cap on
	// how many of them may be open at once, independent of group overlap.
	AnchorSymbol     string   `yaml:"anchor_symbol" default:"BTCUSDT"`
	AnchorCorrelated []string `yaml:"anchor_correlated"`
	AnchorGroupLimit int      `yaml:"anchor_group_limit" default:"2" validate:"gt=0"`

	DailyLossLimit float64 `yaml:"daily_loss_limit" default:"300"`
}

// AveragingConfig bounds same-direction adds.
type AveragingConfig struct {
	MaxAttempts       int     `yaml:"max_attempts" default:"2" validate:"gte=0"`
	DropPct           float64 `yaml:"drop_pct" default:"0.03"`
	PyramidAdvancePct float64 `yaml:"pyramid_advance_pct" default:"0.02"`
	PyramidADXMin     float64 `yaml:"pyramid_adx_min" default:"30"`
	MaxTotalRiskMult  float64 `yaml:"max_total_risk_mult" default:"2.0"`
}

// LifecycleConfig parameterizes the exit state machine.
type LifecycleConfig struct {
	MaxHoldTrend   time.Duration `yaml:"max_hold_trend" default:"48h"`
	MaxHoldMeanRev time.Duration `yaml:"max_hold_meanrev" default:"8h"`

	ATRStopMult       float64 `yaml:"atr_stop_mult" default:"2.0"`
	ATRTakeProfitMult float64 `yaml:"atr_take_profit_mult" default:"3.0"`
	MinRewardRisk     float64 `yaml:"min_reward_risk" default:"1.5"`
	KnifeStopWiden    float64 `yaml:"knife_stop_widen" default:"1.5"`

	PartialCloseFraction float64 `yaml:"partial_close_fraction" default:"0.5"`

	TrailingActivationPct   float64 `yaml:"trailing_activation_pct" default:"0.015"`
	TrailingDistancePct     float64 `yaml:"trailing_distance_pct" default:"0.012"`
	AggressiveActivationPct float64 `yaml:"aggressive_activation_pct" default:"0.03"`
	AggressiveDistancePct   float64 `yaml:"aggressive_distance_pct" default:"0.006"`

	Averaging AveragingConfig `yaml:"averaging"`
}

// LedgerConfig selects the trade-ledger backend.
type LedgerConfig struct {
	Backend string `yaml:"backend" default:"memory" validate:"oneof=memory redis"`
	Redis   struct {
		Addr     string `yaml:"addr" default:"localhost:6379"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
}

// NotifyConfig configures the outward notifier and its retry policy.
type NotifyConfig struct {
	Backend     string        `yaml:"backend" default:"noop" validate:"oneof=noop kafka"`
	MaxAttempts int           `yaml:"max_attempts" default:"5" validate:"gt=0"`
	BackoffMin  time.Duration `yaml:"backoff_min" default:"200ms"`
	BackoffMax  time.Duration `yaml:"backoff_max" default:"5s"`
	Kafka       struct {
		Brokers []string `yaml:"brokers"`
		Topic   string   `yaml:"topic" default:"adaptrade.trades"`
	} `yaml:"kafka"`
}

// APIConfig configures the status/metrics HTTP server.
type APIConfig struct {
	Enabled bool   `yaml:"enabled" default:"true"`
	Addr    string `yaml:"addr" default:":8080"`
}

// LoggingConfig selects the log sink.
type LoggingConfig struct {
	Level      string `yaml:"level" default:"info"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" default:"50"`
	MaxBackups int    `yaml:"max_backups" default:"5"`
}

// Load reads and parses a YAML configuration file, applies defaults and
// validates the result.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides selected fields with
// environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}
	if v := os.Getenv("ADAPTRADE_SYMBOLS"); v != "" {
		c.Symbols = strings.Split(v, ",")
	}
	if v := os.Getenv("ADAPTRADE_REDIS_ADDR"); v != "" {
		c.Ledger.Redis.Addr = v
	}
	if v := os.Getenv("ADAPTRADE_KAFKA_BROKERS"); v != "" {
		c.Notify.Kafka.Brokers = strings.Split(v, ",")
	}
	return c, nil
}

// Default returns a fully defaulted config for the supplied symbols,
// bypassing file loading. Used by tests and the paper runner.
func Default(symbols ...string) *Config {
	var c Config
	if err := defaults.Set(&c); err != nil {
		panic(err)
	}
	c.Symbols = symbols
	c.Risk.PositionCapSteps = []CapStep{
		{Equity: 0, MaxPositions: 2},
		{Equity: 5_000, MaxPositions: 3},
		{Equity: 20_000, MaxPositions: 5},
		{Equity: 100_000, MaxPositions: 8},
	}
	return &c
}

// Validate checks struct tags first, then the cross-field rules the tags
// cannot express.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}
	if c.Engine.TickMin <= 0 || c.Engine.TickMax < c.Engine.TickMin {
		return errors.New("engine tick bounds: need 0 < tick_min <= tick_max")
	}
	if c.Engine.VolHigh <= c.Engine.VolLow {
		return errors.New("engine vol bounds: vol_high must exceed vol_low")
	}
	if c.Indicators.MACDFast >= c.Indicators.MACDSlow {
		return errors.New("macd_fast must be shorter than macd_slow")
	}
	if c.Regime.ADXRangingMax >= c.Regime.ADXTrendingMin {
		return errors.New("adx_ranging_max must be below adx_trending_min")
	}
	if c.Classifier.RSIOverbought <= c.Classifier.RSIOversold {
		return errors.New("rsi_overbought must exceed rsi_oversold")
	}
	if c.Sizing.KellyMax < c.Sizing.KellyMin {
		return errors.New("kelly_max must be >= kelly_min")
	}
	if c.Sizing.MaxFraction <= 0 || c.Sizing.MaxFraction > 1 {
		return fmt.Errorf("max_fraction (%f) must be in (0,1]", c.Sizing.MaxFraction)
	}
	if c.Lifecycle.PartialCloseFraction <= 0 || c.Lifecycle.PartialCloseFraction >= 1 {
		return fmt.Errorf("partial_close_fraction (%f) must be in (0,1)", c.Lifecycle.PartialCloseFraction)
	}
	if c.Lifecycle.MinRewardRisk < 1 {
		return errors.New("min_reward_risk must be >= 1")
	}
	if c.Lifecycle.AggressiveDistancePct >= c.Lifecycle.TrailingDistancePct {
		return errors.New("aggressive trailing distance must be tighter than the normal tier")
	}
	if c.Lifecycle.AggressiveActivationPct <= c.Lifecycle.TrailingActivationPct {
		return errors.New("aggressive trailing activation must be above the normal tier")
	}
	if len(c.Classifier.MultiTF.Factors) != len(c.Classifier.MultiTF.Weights) {
		return errors.New("multi_timeframe factors and weights must have equal length")
	}
	for _, f := range c.Classifier.MultiTF.Factors {
		if f <= 0 {
			return errors.New("multi_timeframe factors must be positive")
		}
	}
	for i := 1; i < len(c.Risk.PositionCapSteps); i++ {
		if c.Risk.PositionCapSteps[i].Equity <= c.Risk.PositionCapSteps[i-1].Equity {
			return errors.New("position_cap_steps must be sorted by ascending equity")
		}
	}
	return nil
}

// GroupOf returns the correlation group containing the symbol, or "".
func (r *RiskConfig) GroupOf(symbol string) string {
	for name, members := range r.Groups {
		for _, m := range members {
			if m == symbol {
				return name
			}
		}
	}
	return ""
}

// MaxPositionsFor resolves the dynamic cap for the given equity.
func (r *RiskConfig) MaxPositionsFor(equity float64) int {
	maxPos := 1
	for _, s := range r.PositionCapSteps {
		if equity >= s.Equity {
			maxPos = s.MaxPositions
		}
	}
	return maxPos
}
