// Package guard implements the two overtrading layers: the scalp entry
// guard (volatility, fee viability, cooldowns, daily caps, losing
// streaks) and the adjustment throttle that rations changes to open
// positions. Both layers answer allow/deny with a reason and never
// touch the ledger.
package guard

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"trade-lifecycle-engine/config"
	"trade-lifecycle-engine/internal/market"
)

// outcomeWindowCap bounds the per-symbol rolling result history
const outcomeWindowCap = 20

// Outcome is one closed trade's realized result
type Outcome struct {
	At  time.Time `json:"at"`
	PnL float64   `json:"pnl"`
}

// ScalpState is a snapshot of the guard's daily state, exported for
// persistence across restarts.
type ScalpState struct {
	TradesToday         int                  `json:"trades_today"`
	LosingStreak        int                  `json:"losing_streak"`
	StreakCooldownUntil time.Time            `json:"streak_cooldown_until"`
	Cooldowns           map[string]time.Time `json:"cooldowns"`
	Outcomes            map[string][]Outcome `json:"outcomes"`
	ResetDate           string               `json:"reset_date"`
}

// ScalpGuard is the style-specific entry filter for scalps
type ScalpGuard struct {
	mu  sync.Mutex
	cfg config.ScalpGuardConfig
	log zerolog.Logger
	now func() time.Time

	tradesToday         int
	losingStreak        int
	streakCooldownUntil time.Time
	cooldowns           map[string]time.Time
	outcomes            map[string][]Outcome
	resetDate           string
}

// NewScalpGuard creates a scalp guard with the given limits
func NewScalpGuard(cfg config.ScalpGuardConfig, log zerolog.Logger) *ScalpGuard {
	return &ScalpGuard{
		cfg:       cfg,
		log:       log.With().Str("component", "scalp_guard").Logger(),
		now:       time.Now,
		cooldowns: make(map[string]time.Time),
		outcomes:  make(map[string][]Outcome),
	}
}

func (g *ScalpGuard) rolloverLocked(now time.Time) {
	day := now.UTC().Format("2006-01-02")
	if g.resetDate == day {
		return
	}
	g.resetDate = day
	g.tradesToday = 0
	g.losingStreak = 0
}

// CheckEntry runs the layer-A filters for a scalp entry
func (g *ScalpGuard) CheckEntry(ctx market.Context, tpPct, slPct, notional float64) (bool, string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	g.rolloverLocked(now)

	if now.Before(g.streakCooldownUntil) {
		return false, fmt.Sprintf("losing streak halt until %s", g.streakCooldownUntil.UTC().Format(time.RFC3339))
	}
	if g.tradesToday >= g.cfg.MaxTradesPerDay {
		return false, fmt.Sprintf("daily scalp cap reached (%d/%d)", g.tradesToday, g.cfg.MaxTradesPerDay)
	}
	if until, ok := g.cooldowns[ctx.Symbol]; ok {
		if now.Before(until) {
			return false, fmt.Sprintf("symbol cooldown until %s", until.UTC().Format(time.RFC3339))
		}
		delete(g.cooldowns, ctx.Symbol)
	}

	if vol := market.AvgRangePct(ctx.Candles, g.cfg.VolatilityLookback); vol < g.cfg.MinVolatilityPct {
		return false, fmt.Sprintf("volatility %.2f%% below floor %.2f%%", vol, g.cfg.MinVolatilityPct)
	}
	if tpPct < g.cfg.MinTakeProfitPct {
		return false, fmt.Sprintf("take profit %.2f%% cannot cover fees (min %.2f%%)", tpPct, g.cfg.MinTakeProfitPct)
	}
	if slPct > 0 && tpPct <= slPct {
		return false, fmt.Sprintf("take profit %.2f%% not above stop %.2f%%", tpPct, slPct)
	}
	if notional < g.cfg.MinNotional {
		return false, fmt.Sprintf("notional %.2f below minimum %.2f", notional, g.cfg.MinNotional)
	}
	return true, ""
}

// RecordOpen counts a confirmed scalp entry against the daily cap
func (g *ScalpGuard) RecordOpen(symbol string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rolloverLocked(g.now())
	g.tradesToday++
}

// RecordResult feeds a closed trade's realized PnL into the rolling
// window and the losing streak. A single win resets the streak; enough
// recent churn without profit puts the symbol on cooldown.
func (g *ScalpGuard) RecordResult(symbol string, pnl float64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	g.rolloverLocked(now)

	if pnl > 0 {
		g.losingStreak = 0
	} else {
		g.losingStreak++
		if g.losingStreak >= g.cfg.LosingStreakThreshold {
			g.streakCooldownUntil = now.Add(time.Duration(g.cfg.LosingStreakCooldownMin) * time.Minute)
			g.log.Warn().Int("streak", g.losingStreak).
				Time("until", g.streakCooldownUntil).Msg("losing streak halt")
		}
	}

	window := append(g.outcomes[symbol], Outcome{At: now, PnL: pnl})
	if len(window) > outcomeWindowCap {
		window = window[len(window)-outcomeWindowCap:]
	}
	g.outcomes[symbol] = window

	// churn check: N results on this symbol inside the cooldown window
	// with nothing to show for them trigger a per-symbol cooldown.
	// Older outcomes are not churn.
	cutoff := now.Add(-time.Duration(g.cfg.CooldownSeconds) * time.Second)
	recent := window
	for len(recent) > 0 && recent[0].At.Before(cutoff) {
		recent = recent[1:]
	}
	n := g.cfg.TradesForCooldown
	if len(recent) >= n {
		sum := 0.0
		for _, o := range recent[len(recent)-n:] {
			sum += o.PnL
		}
		if sum <= g.cfg.WindowPnLTolerance {
			g.cooldowns[symbol] = now.Add(time.Duration(g.cfg.CooldownSeconds) * time.Second)
			g.log.Warn().Str("symbol", symbol).Float64("window_pnl", sum).
				Time("until", g.cooldowns[symbol]).Msg("churn cooldown")
		}
	}
}

// State exports the guard's daily state for persistence
func (g *ScalpGuard) State() ScalpState {
	g.mu.Lock()
	defer g.mu.Unlock()

	cooldowns := make(map[string]time.Time, len(g.cooldowns))
	for k, v := range g.cooldowns {
		cooldowns[k] = v
	}
	outcomes := make(map[string][]Outcome, len(g.outcomes))
	for k, v := range g.outcomes {
		outcomes[k] = append([]Outcome(nil), v...)
	}
	return ScalpState{
		TradesToday:         g.tradesToday,
		LosingStreak:        g.losingStreak,
		StreakCooldownUntil: g.streakCooldownUntil,
		Cooldowns:           cooldowns,
		Outcomes:            outcomes,
		ResetDate:           g.resetDate,
	}
}

// Restore loads a previously exported state, used after a restart so
// cooldowns and daily counters carry over.
func (g *ScalpGuard) Restore(st ScalpState) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.tradesToday = st.TradesToday
	g.losingStreak = st.LosingStreak
	g.streakCooldownUntil = st.StreakCooldownUntil
	g.resetDate = st.ResetDate
	g.cooldowns = make(map[string]time.Time, len(st.Cooldowns))
	for k, v := range st.Cooldowns {
		g.cooldowns[k] = v
	}
	g.outcomes = make(map[string][]Outcome, len(st.Outcomes))
	for k, v := range st.Outcomes {
		g.outcomes[k] = append([]Outcome(nil), v...)
	}
}
