// Package market defines the market data inputs the engine consumes:
// candles, regime classification, trend context and broad market
// intelligence. All values are supplied by external collaborators; this
// package performs no I/O.
package market

import "time"

// Side represents the direction of a position or intent
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Opposite returns the other side
func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// Valid reports whether the side is one of the two known values
func (s Side) Valid() bool {
	return s == SideLong || s == SideShort
}

// Regime classifies the current market condition
type Regime string

const (
	RegimeTrendBull    Regime = "TREND_BULL"
	RegimeTrendBear    Regime = "TREND_BEAR"
	RegimeRangeChop    Regime = "RANGE_CHOP"
	RegimeLowVolDrift  Regime = "LOW_VOL_DRIFT"
	RegimePanicHighVol Regime = "PANIC_HIGH_VOL"
)

// Trending reports whether the regime is a directional trend
func (r Regime) Trending() bool {
	return r == RegimeTrendBull || r == RegimeTrendBear
}

// Candle is a single OHLCV bar
type Candle struct {
	OpenTime time.Time `json:"open_time"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
}

// BodyPct returns the candle body as a signed percentage of the open
func (c Candle) BodyPct() float64 {
	if c.Open <= 0 {
		return 0
	}
	return (c.Close - c.Open) / c.Open * 100
}

// TrendContext describes the externally classified trend for a symbol
type TrendContext struct {
	Direction Side    `json:"direction"` // empty when neutral
	Strength  float64 `json:"strength"`  // 0 when neutral
}

// Aligned reports whether the trend points the same way as the side
func (t TrendContext) Aligned(side Side) bool {
	return t.Direction == side
}

// TimeframeState is the timing state of one timeframe, produced by the
// external indicator layer
type TimeframeState struct {
	Trend          string `json:"trend"` // "bull", "bear" or "neutral"
	IsOverextended bool   `json:"is_overextended"`
	IsFresh        bool   `json:"is_fresh"`
	LastCross      string `json:"last_cross"` // "bull" or "bear"
}

// TimingContext carries the multi-timeframe confirmation inputs
type TimingContext struct {
	Score  float64                   `json:"score"` // composite 0..1
	States map[string]TimeframeState `json:"states"`
}

// Context is everything the engine needs to know about one symbol for a
// single decision cycle
type Context struct {
	Symbol  string         `json:"symbol"`
	Price   float64        `json:"price"`
	Candles []Candle       `json:"candles"` // most recent last
	Regime  Regime         `json:"regime"`
	Trend   TrendContext   `json:"trend"`
	RiskOff bool           `json:"risk_off"`
	Timing  *TimingContext `json:"timing,omitempty"`
}

// Intelligence carries broad-market sentiment inputs
type Intelligence struct {
	FearGreedValue float64 `json:"fear_greed_value"` // 0..100
	FearGreedClass string  `json:"fear_greed_class"` // e.g. "Extreme Fear"
	AltSeasonIndex float64 `json:"alt_season_index"` // 0..100
	MacroPhase     string  `json:"macro_phase"`      // e.g. "BTC_SEASON"
}

// SentimentExtreme reports whether fear/greed sits at either extreme
func (i Intelligence) SentimentExtreme() bool {
	switch i.FearGreedClass {
	case "Extreme Fear", "Fear", "Greed", "Extreme Greed":
		return true
	}
	return false
}
