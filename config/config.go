// Package config loads and validates the engine configuration. Every
// numeric threshold the engine uses lives in an explicit typed struct;
// the per-mode tables replace the nested dict lookups of earlier
// iterations and are validated once at startup.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"trade-lifecycle-engine/internal/market"
)

// Mode is the trading personality the engine runs under
type Mode string

const (
	ModeConservative Mode = "CONSERVATIVE"
	ModeBalanced     Mode = "BALANCED"
	ModeAggressive   Mode = "AGGRESSIVE"
)

// Valid reports whether the mode is one of the three known values
func (m Mode) Valid() bool {
	return m == ModeConservative || m == ModeBalanced || m == ModeAggressive
}

// Config is the root engine configuration
type Config struct {
	Mode     Mode                `json:"mode"`
	Risk     RiskConfig          `json:"risk"`
	Modes    map[Mode]ModeConfig `json:"modes"`
	Scalp    ScalpGuardConfig    `json:"scalp_guard"`
	Adjust   AdjustGuardConfig   `json:"adjustment_guard"`
	Logging  LoggingConfig       `json:"logging"`
	Server   ServerConfig        `json:"server"`
	Database DatabaseConfig      `json:"database"`
	Redis    RedisConfig         `json:"redis"`
}

// RiskConfig holds the hard account-level risk limits
type RiskConfig struct {
	RiskPerTradePct     float64 `json:"risk_per_trade_pct"`     // % of equity risked per trade
	MaxDailyDrawdownPct float64 `json:"max_daily_drawdown_pct"` // daily circuit breaker
	MaxOpenTrades       int     `json:"max_open_trades"`
	MaxTotalRiskPct     float64 `json:"max_total_risk_pct"` // ceiling on summed open risk
	MaxLeverage         float64 `json:"max_leverage"`
	MinNotional         float64 `json:"min_notional"` // exchange minimum order value
}

// ModeConfig carries every mode-dependent threshold
type ModeConfig struct {
	RiskMultiplier   float64 `json:"risk_multiplier"`
	MaxSignalsPerDay int     `json:"max_signals_per_day"`

	Gate       GateConfig       `json:"gate"`
	Management ManagementConfig `json:"management"`
}

// GateConfig holds the admission gate thresholds for one mode
type GateConfig struct {
	MinConfSwing            float64         `json:"min_conf_swing"`
	MinConfScalp            float64         `json:"min_conf_scalp"`
	MinConfluencesSwing     int             `json:"min_confluences_swing"`
	MinConfluencesScalp     int             `json:"min_confluences_scalp"`
	ConfluencePenaltyFactor float64         `json:"confluence_penalty_factor"`
	MaxCandleBodyPct        float64         `json:"max_candle_body_pct"`
	AllowedRegimesSwing     []market.Regime `json:"allowed_regimes_swing"`
	AllowedRegimesScalp     []market.Regime `json:"allowed_regimes_scalp"`
	MinTimingScore          float64         `json:"min_timing_score"`
}

// TrailStyle selects how the trailing candidate stop is computed
type TrailStyle string

const (
	TrailEMA    TrailStyle = "ema"
	TrailATR    TrailStyle = "atr"
	TrailStruct TrailStyle = "structure"
)

// ManagementConfig holds the lifecycle thresholds for one mode
type ManagementConfig struct {
	BreakevenRR       float64 `json:"breakeven_rr"`
	FirstTrimRR       float64 `json:"first_trim_rr"`
	FirstTrimPct      float64 `json:"first_trim_pct"`
	SecondTrimRR      float64 `json:"second_trim_rr"`
	PromotionRR       float64 `json:"promotion_rr"`
	PromotionStrength float64 `json:"promotion_strength"` // min trend strength to promote

	TrailStyle     TrailStyle `json:"trail_style"`
	TrailEMAPeriod int        `json:"trail_ema_period"`
	TrailEMAOffset float64    `json:"trail_ema_offset_pct"` // % offset past the EMA
	TrailATRPeriod int        `json:"trail_atr_period"`
	TrailATRMult   float64    `json:"trail_atr_multiple"`
	SwingLookback  int        `json:"swing_lookback"`

	MaxPyramidAdds   int     `json:"max_pyramid_adds"`
	PyramidMinPnLPct float64 `json:"pyramid_min_pnl_pct"`
	PyramidAddFirst  float64 `json:"pyramid_add_first"` // size multiplier, first add
	PyramidAddNext   float64 `json:"pyramid_add_next"`  // size multiplier, later adds
}

// ScalpGuardConfig holds the style-specific overtrading limits
// (layer A). Per-symbol concurrency is not a knob here: the position
// ledger tracks one position per symbol, which is the cap.
type ScalpGuardConfig struct {
	MinVolatilityPct        float64 `json:"min_volatility_pct"`
	VolatilityLookback      int     `json:"volatility_lookback"`
	MinTakeProfitPct        float64 `json:"min_take_profit_pct"`
	MinNotional             float64 `json:"min_notional"`
	CooldownSeconds         int     `json:"cooldown_seconds"`
	TradesForCooldown       int     `json:"trades_for_cooldown"`
	WindowPnLTolerance      float64 `json:"window_pnl_tolerance"`
	MaxTradesPerDay         int     `json:"max_trades_per_day"`
	LosingStreakThreshold   int     `json:"losing_streak_threshold"`
	LosingStreakCooldownMin int     `json:"losing_streak_cooldown_minutes"`
}

// AdjustGuardConfig holds the style-agnostic adjustment throttle (layer B)
type AdjustGuardConfig struct {
	MinSecondsBetween     int     `json:"min_seconds_between_adjustments"`
	MinPriceMovePct       float64 `json:"min_price_move_pct"`
	MinChangeRatio        float64 `json:"min_position_change_ratio"`
	MinNotionalChange     float64 `json:"min_notional_change"`
	MaxAdjustmentsPerDay  int     `json:"max_adjustments_per_day"`
	MinConfidenceOpen     float64 `json:"min_confidence_open"`
	MinConfidenceAdjust   float64 `json:"min_confidence_adjust"`
	MinConfidenceClose    float64 `json:"min_confidence_close"`
	MinSecondsToReverse   int     `json:"min_seconds_to_reverse"`
	EmergencyPnLThreshold float64 `json:"emergency_pnl_threshold"` // %, negative
}

// LoggingConfig configures the zerolog output
type LoggingConfig struct {
	Level   string `json:"level"`   // debug, info, warn, error
	Console bool   `json:"console"` // pretty console writer instead of JSON
}

// ServerConfig configures the HTTP API
type ServerConfig struct {
	Enabled bool   `json:"enabled"`
	Host    string `json:"host"`
	Port    int    `json:"port"`
}

// DatabaseConfig configures the optional PostgreSQL journal
type DatabaseConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
}

// RedisConfig configures the optional guard-state snapshot store
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// Default returns the configuration the engine ships with. The per-mode
// tables mirror the tuning the system was operated with.
func Default() *Config {
	trendOnly := []market.Regime{market.RegimeTrendBull, market.RegimeTrendBear}
	allRegimes := []market.Regime{
		market.RegimeTrendBull, market.RegimeTrendBear,
		market.RegimeRangeChop, market.RegimeLowVolDrift,
	}

	return &Config{
		Mode: ModeBalanced,
		Risk: RiskConfig{
			RiskPerTradePct:     2.0,
			MaxDailyDrawdownPct: 4.0,
			MaxOpenTrades:       3,
			MaxTotalRiskPct:     5.0,
			MaxLeverage:         20,
			MinNotional:         10.0,
		},
		Modes: map[Mode]ModeConfig{
			ModeConservative: {
				RiskMultiplier:   0.5,
				MaxSignalsPerDay: 10,
				Gate: GateConfig{
					MinConfSwing:            0.78,
					MinConfScalp:            0.80,
					MinConfluencesSwing:     3,
					MinConfluencesScalp:     3,
					ConfluencePenaltyFactor: 0.08,
					MaxCandleBodyPct:        3.0,
					AllowedRegimesSwing:     trendOnly,
					AllowedRegimesScalp:     trendOnly,
					MinTimingScore:          0.7,
				},
				Management: ManagementConfig{
					BreakevenRR:       1.0,
					FirstTrimRR:       2.2,
					FirstTrimPct:      0.5,
					SecondTrimRR:      3.2,
					PromotionRR:       2.8,
					PromotionStrength: 20,
					TrailStyle:        TrailStruct,
					TrailEMAPeriod:    21,
					TrailEMAOffset:    0.3,
					TrailATRPeriod:    14,
					TrailATRMult:      2.0,
					SwingLookback:     10,
					MaxPyramidAdds:    1,
					PyramidMinPnLPct:  1.0,
					PyramidAddFirst:   0.5,
					PyramidAddNext:    0.3,
				},
			},
			ModeBalanced: {
				RiskMultiplier:   1.0,
				MaxSignalsPerDay: 20,
				Gate: GateConfig{
					MinConfSwing:            0.72,
					MinConfScalp:            0.74,
					MinConfluencesSwing:     2,
					MinConfluencesScalp:     2,
					ConfluencePenaltyFactor: 0.05,
					MaxCandleBodyPct:        3.0,
					AllowedRegimesSwing:     allRegimes,
					AllowedRegimesScalp:     trendOnly,
					MinTimingScore:          0.5,
				},
				Management: ManagementConfig{
					BreakevenRR:       1.2,
					FirstTrimRR:       1.8,
					FirstTrimPct:      0.5,
					SecondTrimRR:      2.8,
					PromotionRR:       2.2,
					PromotionStrength: 20,
					TrailStyle:        TrailEMA,
					TrailEMAPeriod:    21,
					TrailEMAOffset:    0.3,
					TrailATRPeriod:    14,
					TrailATRMult:      2.0,
					SwingLookback:     10,
					MaxPyramidAdds:    2,
					PyramidMinPnLPct:  0.5,
					PyramidAddFirst:   0.5,
					PyramidAddNext:    0.3,
				},
			},
			ModeAggressive: {
				RiskMultiplier:   1.2,
				MaxSignalsPerDay: 40,
				Gate: GateConfig{
					MinConfSwing:            0.68,
					MinConfScalp:            0.70,
					MinConfluencesSwing:     1,
					MinConfluencesScalp:     1,
					ConfluencePenaltyFactor: 0.03,
					MaxCandleBodyPct:        3.5,
					AllowedRegimesSwing:     allRegimes,
					AllowedRegimesScalp:     allRegimes,
					MinTimingScore:          0.3,
				},
				Management: ManagementConfig{
					BreakevenRR:       1.0,
					FirstTrimRR:       1.5,
					FirstTrimPct:      0.4,
					SecondTrimRR:      2.5,
					PromotionRR:       2.0,
					PromotionStrength: 15,
					TrailStyle:        TrailATR,
					TrailEMAPeriod:    21,
					TrailEMAOffset:    0.3,
					TrailATRPeriod:    14,
					TrailATRMult:      1.5,
					SwingLookback:     8,
					MaxPyramidAdds:    3,
					PyramidMinPnLPct:  0.5,
					PyramidAddFirst:   0.5,
					PyramidAddNext:    0.3,
				},
			},
		},
		Scalp: ScalpGuardConfig{
			MinVolatilityPct:        0.4,
			VolatilityLookback:      20,
			MinTakeProfitPct:        0.5,
			MinNotional:             5.0,
			CooldownSeconds:         900,
			TradesForCooldown:       3,
			WindowPnLTolerance:      0.5,
			MaxTradesPerDay:         8,
			LosingStreakThreshold:   3,
			LosingStreakCooldownMin: 30,
		},
		Adjust: AdjustGuardConfig{
			MinSecondsBetween:     300,
			MinPriceMovePct:       0.5,
			MinChangeRatio:        0.25,
			MinNotionalChange:     10.0,
			MaxAdjustmentsPerDay:  4,
			MinConfidenceOpen:     0.72,
			MinConfidenceAdjust:   0.80,
			MinConfidenceClose:    0.65,
			MinSecondsToReverse:   600,
			EmergencyPnLThreshold: -2.0,
		},
		Logging: LoggingConfig{Level: "info"},
		Server:  ServerConfig{Enabled: true, Host: "0.0.0.0", Port: 8090},
		Database: DatabaseConfig{
			Host: "localhost", Port: 5432, User: "engine",
			Database: "lifecycle_engine", SSLMode: "disable",
		},
		Redis: RedisConfig{Address: "localhost:6379"},
	}
}

// Load reads the config file (if the path is non-empty), applies
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("ENGINE_MODE"); v != "" {
		c.Mode = Mode(v)
	}
	if v := os.Getenv("ENGINE_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("ENGINE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("ENGINE_DB_PASSWORD"); v != "" {
		c.Database.Password = v
	}
	if v := os.Getenv("ENGINE_DB_HOST"); v != "" {
		c.Database.Host = v
	}
	if v := os.Getenv("ENGINE_REDIS_ADDR"); v != "" {
		c.Redis.Address = v
	}
	if v := os.Getenv("ENGINE_REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
}

// Validate checks the configuration once at startup so the engine never
// has to defend against malformed thresholds at decision time.
func (c *Config) Validate() error {
	if !c.Mode.Valid() {
		return fmt.Errorf("invalid mode %q", c.Mode)
	}
	if c.Risk.RiskPerTradePct <= 0 {
		return fmt.Errorf("risk_per_trade_pct must be positive, got %v", c.Risk.RiskPerTradePct)
	}
	if c.Risk.MaxDailyDrawdownPct <= 0 {
		return fmt.Errorf("max_daily_drawdown_pct must be positive, got %v", c.Risk.MaxDailyDrawdownPct)
	}
	if c.Risk.MaxOpenTrades <= 0 {
		return fmt.Errorf("max_open_trades must be positive, got %d", c.Risk.MaxOpenTrades)
	}
	if c.Risk.MaxLeverage < 1 {
		return fmt.Errorf("max_leverage must be >= 1, got %v", c.Risk.MaxLeverage)
	}

	for _, mode := range []Mode{ModeConservative, ModeBalanced, ModeAggressive} {
		mc, ok := c.Modes[mode]
		if !ok {
			return fmt.Errorf("missing mode table for %s", mode)
		}
		if mc.RiskMultiplier <= 0 {
			return fmt.Errorf("%s: risk_multiplier must be positive", mode)
		}
		g := mc.Gate
		if g.MinConfSwing <= 0 || g.MinConfSwing > 1 || g.MinConfScalp <= 0 || g.MinConfScalp > 1 {
			return fmt.Errorf("%s: gate confidence thresholds must be in (0,1]", mode)
		}
		m := mc.Management
		if m.FirstTrimRR <= 0 || m.FirstTrimPct <= 0 || m.FirstTrimPct > 1 {
			return fmt.Errorf("%s: first trim parameters out of range", mode)
		}
		if m.PromotionRR < m.FirstTrimRR {
			return fmt.Errorf("%s: promotion_rr %v below first_trim_rr %v", mode, m.PromotionRR, m.FirstTrimRR)
		}
		switch m.TrailStyle {
		case TrailEMA, TrailATR, TrailStruct:
		default:
			return fmt.Errorf("%s: unknown trail_style %q", mode, m.TrailStyle)
		}
	}

	if c.Adjust.EmergencyPnLThreshold >= 0 {
		return fmt.Errorf("emergency_pnl_threshold must be negative, got %v", c.Adjust.EmergencyPnLThreshold)
	}
	if c.Scalp.TradesForCooldown <= 0 || c.Scalp.CooldownSeconds <= 0 {
		return fmt.Errorf("scalp guard cooldown parameters must be positive")
	}
	return nil
}

// ActiveMode returns the table for the active mode
func (c *Config) ActiveMode() ModeConfig {
	return c.Modes[c.Mode]
}
