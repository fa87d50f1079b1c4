// Package risk implements the risk governor: equity and drawdown
// tracking with a daily circuit breaker, and fixed-fractional position
// sizing under leverage and exchange-minimum constraints.
package risk

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"trade-lifecycle-engine/config"
)

// HardRiskCapPct is the ceiling on the fraction of equity a single trade
// may risk, applied after the per-mode multiplier. Not configurable.
const HardRiskCapPct = 2.5

// Structural stop-distance window. Stops closer than the floor are
// noise; wider than the ceiling means the setup is broken.
const (
	MinStopDistancePct = 0.2
	MaxStopDistancePct = 15.0
)

// Sizing is the result of a successful position-size calculation
type Sizing struct {
	Symbol        string  `json:"symbol"`
	Size          float64 `json:"size"`     // base-asset quantity
	Notional      float64 `json:"notional"` // size * entry, USD
	Leverage      float64 `json:"leverage"`
	RiskAmountUSD float64 `json:"risk_amount_usd"`
	StopLossPct   float64 `json:"stop_loss_pct"`
}

// State is a copy of the governor's account-level state
type State struct {
	CurrentEquity       float64   `json:"current_equity"`
	StartingEquityToday float64   `json:"starting_equity_today"`
	DailyPnL            float64   `json:"daily_pnl"`
	DailyDrawdownPct    float64   `json:"daily_drawdown_pct"`
	OpenPositions       int       `json:"open_positions"`
	LastResetDate       string    `json:"last_reset_date"` // YYYY-MM-DD UTC
	UpdatedAt           time.Time `json:"updated_at"`
}

// Governor tracks account equity and sizes new positions. All methods
// are safe for concurrent use.
type Governor struct {
	mu  sync.RWMutex
	cfg config.RiskConfig
	log zerolog.Logger

	currentEquity       float64
	startingEquityToday float64
	dailyPnL            float64
	dailyDrawdownPct    float64
	openPositions       int
	lastResetDate       string
}

// NewGovernor creates a governor with the given limits
func NewGovernor(cfg config.RiskConfig, log zerolog.Logger) *Governor {
	return &Governor{
		cfg: cfg,
		log: log.With().Str("component", "risk_governor").Logger(),
	}
}

func utcDay(now time.Time) string {
	return now.UTC().Format("2006-01-02")
}

// rolloverLocked resets the daily baseline when the UTC day has changed.
// Callers hold the write lock. Idempotent within a day.
func (g *Governor) rolloverLocked(now time.Time) {
	day := utcDay(now)
	if g.lastResetDate == day {
		return
	}
	g.lastResetDate = day
	g.startingEquityToday = g.currentEquity
	g.dailyPnL = 0
	g.dailyDrawdownPct = 0
	if g.currentEquity > 0 {
		g.log.Info().Str("date", day).Float64("baseline", g.startingEquityToday).
			Msg("daily risk baseline reset")
	}
}

// UpdateEquity records the latest account equity and realized PnL for
// the current UTC day, recomputing the drawdown. The first update of a
// new day sets the baseline.
func (g *Governor) UpdateEquity(equity, realizedPnLToday float64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.rolloverLocked(time.Now())

	g.currentEquity = equity
	if g.startingEquityToday == 0 {
		g.startingEquityToday = equity
	}
	g.dailyPnL = realizedPnLToday
	if g.startingEquityToday > 0 {
		g.dailyDrawdownPct = (equity - g.startingEquityToday) / g.startingEquityToday * 100
	}
}

// AddRealizedPnL folds a realized trade result into today's PnL and
// drawdown between equity feeds, so the circuit breaker reacts to a
// loss before the next equity update arrives.
func (g *Governor) AddRealizedPnL(pnl float64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.rolloverLocked(time.Now())

	g.currentEquity += pnl
	g.dailyPnL += pnl
	if g.startingEquityToday > 0 {
		g.dailyDrawdownPct = (g.currentEquity - g.startingEquityToday) / g.startingEquityToday * 100
	}
}

// SetOpenPositions records the count of currently open positions
func (g *Governor) SetOpenPositions(n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.openPositions = n
}

// Snapshot returns a copy of the current account-level risk state
func (g *Governor) Snapshot() State {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return State{
		CurrentEquity:       g.currentEquity,
		StartingEquityToday: g.startingEquityToday,
		DailyPnL:            g.dailyPnL,
		DailyDrawdownPct:    g.dailyDrawdownPct,
		OpenPositions:       g.openPositions,
		LastResetDate:       g.lastResetDate,
		UpdatedAt:           time.Now().UTC(),
	}
}

// CanOpenNewTrade checks the account-level gates for a new position.
// currentTotalRiskPct is the summed risk of open positions as a percent
// of equity; newTradeRiskPct is the candidate's risk percent.
func (g *Governor) CanOpenNewTrade(currentTotalRiskPct, newTradeRiskPct float64) (bool, string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.rolloverLocked(time.Now())

	if g.currentEquity <= 0 {
		return false, "no equity recorded"
	}
	if g.dailyDrawdownPct <= -g.cfg.MaxDailyDrawdownPct {
		return false, fmt.Sprintf("daily drawdown limit hit (%.2f%% <= -%.2f%%)",
			g.dailyDrawdownPct, g.cfg.MaxDailyDrawdownPct)
	}
	if g.openPositions >= g.cfg.MaxOpenTrades {
		return false, fmt.Sprintf("max open trades reached (%d/%d)", g.openPositions, g.cfg.MaxOpenTrades)
	}
	if projected := currentTotalRiskPct + newTradeRiskPct; projected > g.cfg.MaxTotalRiskPct {
		return false, fmt.Sprintf("total risk ceiling exceeded (%.2f%% > %.2f%%)",
			projected, g.cfg.MaxTotalRiskPct)
	}
	return true, ""
}

// CalculatePositionSize sizes a trade from a percentage stop distance.
// Business rejections return nil with the reason logged; an error means
// malformed numeric input and the caller should skip the cycle.
func (g *Governor) CalculatePositionSize(symbol string, entryPrice, stopLossPct, riskMultiplier float64) (*Sizing, error) {
	if entryPrice <= 0 {
		return nil, fmt.Errorf("entry price must be positive, got %v", entryPrice)
	}
	if stopLossPct <= 0 {
		return nil, fmt.Errorf("stop loss pct must be positive, got %v", stopLossPct)
	}
	if riskMultiplier <= 0 {
		riskMultiplier = 1.0
	}

	g.mu.RLock()
	equity := g.currentEquity
	g.mu.RUnlock()

	if equity <= 0 {
		g.log.Warn().Str("symbol", symbol).Msg("sizing rejected: no equity recorded")
		return nil, nil
	}

	riskAmount := g.cfg.RiskPerTradePct / 100 * equity * riskMultiplier
	if hardCap := HardRiskCapPct / 100 * equity; riskAmount > hardCap {
		riskAmount = hardCap
	}

	notional := riskAmount / (stopLossPct / 100)
	leverage := notional / riskAmount

	if leverage > g.cfg.MaxLeverage {
		// Clamp keeps the margin (riskAmount) fixed and shrinks the
		// notional, so the realized risk at the stop drops below the
		// configured risk percent.
		leverage = g.cfg.MaxLeverage
		notional = leverage * riskAmount
	}

	if notional < g.cfg.MinNotional {
		// Raise leverage to meet the exchange minimum while keeping
		// margin fixed; reject if the cap cannot cover it.
		needed := g.cfg.MinNotional / riskAmount
		if needed > g.cfg.MaxLeverage {
			g.log.Warn().Str("symbol", symbol).
				Float64("notional", notional).
				Float64("min_notional", g.cfg.MinNotional).
				Float64("needed_leverage", needed).
				Msg("sizing rejected: below min notional even at max leverage")
			return nil, nil
		}
		leverage = needed
		notional = g.cfg.MinNotional
	}

	sizing := &Sizing{
		Symbol:        symbol,
		Size:          notional / entryPrice,
		Notional:      notional,
		Leverage:      leverage,
		RiskAmountUSD: riskAmount,
		StopLossPct:   stopLossPct,
	}
	g.log.Debug().Str("symbol", symbol).
		Float64("size", sizing.Size).
		Float64("notional", sizing.Notional).
		Float64("leverage", sizing.Leverage).
		Float64("risk_usd", sizing.RiskAmountUSD).
		Msg("position sized")
	return sizing, nil
}

// CalculatePositionSizeStructural sizes a trade from explicit entry and
// stop prices, deriving the side from their relative order. Stop
// distances outside the structural window are rejected.
func (g *Governor) CalculatePositionSizeStructural(symbol string, entryPrice, stopPrice, riskMultiplier float64) (*Sizing, error) {
	if entryPrice <= 0 || stopPrice <= 0 {
		return nil, fmt.Errorf("entry and stop prices must be positive, got entry=%v stop=%v", entryPrice, stopPrice)
	}
	if entryPrice == stopPrice {
		return nil, fmt.Errorf("entry and stop prices are equal (%v)", entryPrice)
	}

	stopDistPct := math.Abs(entryPrice-stopPrice) / entryPrice * 100
	if stopDistPct < MinStopDistancePct {
		g.log.Warn().Str("symbol", symbol).Float64("stop_dist_pct", stopDistPct).
			Msg("sizing rejected: stop too tight")
		return nil, nil
	}
	if stopDistPct > MaxStopDistancePct {
		g.log.Warn().Str("symbol", symbol).Float64("stop_dist_pct", stopDistPct).
			Msg("sizing rejected: stop too wide")
		return nil, nil
	}

	return g.CalculatePositionSize(symbol, entryPrice, stopDistPct, riskMultiplier)
}
