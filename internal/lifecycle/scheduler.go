// Package lifecycle evaluates open positions against their management
// ladder and emits advisory actions: breakeven moves, partial trims,
// promotion to swing, trailing stops and pyramid adds. It never mutates
// the ledger; the caller applies what it can confirm.
package lifecycle

import (
	"fmt"

	"github.com/rs/zerolog"

	"trade-lifecycle-engine/config"
	"trade-lifecycle-engine/internal/ledger"
	"trade-lifecycle-engine/internal/market"
)

// breakevenOffsetPct is the margin past entry the breakeven stop locks
// in, so a touch of exact entry does not stop the position out.
const breakevenOffsetPct = 0.1

// pyramidMinTrendStrength gates adds on trend quality, on a 0..1 scale
// normalized from the trend strength input.
const pyramidMinTrendStrength = 0.3

// Scheduler plans management actions for one mode's ladder
type Scheduler struct {
	cfg config.ManagementConfig
	log zerolog.Logger
}

// NewScheduler creates a scheduler for the given management thresholds
func NewScheduler(cfg config.ManagementConfig, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cfg: cfg,
		log: log.With().Str("component", "lifecycle_scheduler").Logger(),
	}
}

// Plan returns the advisory actions for one position at the current
// price. Actions are ordered; multi-part plans (trim + breakeven) must
// be applied atomically by the caller.
func (s *Scheduler) Plan(pos *ledger.Position, ctx market.Context) []ledger.Action {
	if pos == nil || pos.State == ledger.StateClosed {
		return nil
	}
	price := ctx.Price
	if price <= 0 {
		return nil
	}

	r := pos.CurrentR(price)
	var actions []ledger.Action

	switch pos.State {
	case ledger.StateInit:
		if r >= s.cfg.FirstTrimRR {
			actions = append(actions, ledger.PartialClose(pos.Symbol, s.cfg.FirstTrimPct,
				fmt.Sprintf("first trim at %.2fR", r)))
		}
		if a, ok := s.breakevenAction(pos, r); ok {
			actions = append(actions, a)
		}

	case ledger.StateScalpActive:
		if a, ok := s.promotionAction(pos, r, ctx); ok {
			actions = append(actions, a)
		} else if r >= s.cfg.SecondTrimRR && !pos.SecondTrimDone {
			actions = append(actions, ledger.PartialClose(pos.Symbol, 0.5,
				fmt.Sprintf("second trim at %.2fR", r)))
		}
		if a, ok := s.breakevenAction(pos, r); ok {
			actions = append(actions, a)
		}

	case ledger.StatePromotedToSwing:
		candidate := trailCandidate(pos, price, ctx.Candles, s.cfg)
		if acceptTrail(pos, price, candidate) {
			actions = append(actions, ledger.UpdateStop(pos.Symbol, candidate,
				fmt.Sprintf("trail %s", s.cfg.TrailStyle)))
		}
	}

	if a, ok := s.pyramidAction(pos, price, ctx); ok {
		actions = append(actions, a)
	}

	if len(actions) > 0 {
		s.log.Debug().Str("symbol", pos.Symbol).Float64("r", r).
			Int("actions", len(actions)).Msg("management plan")
	}
	return actions
}

// breakevenAction moves the stop to entry plus a small offset once the
// breakeven R threshold is reached, if that improves the stop.
func (s *Scheduler) breakevenAction(pos *ledger.Position, r float64) (ledger.Action, bool) {
	if pos.LockedInProfit || r < s.cfg.BreakevenRR {
		return ledger.Action{}, false
	}

	be := pos.EntryPrice * (1 + breakevenOffsetPct/100)
	if pos.Side == market.SideShort {
		be = pos.EntryPrice * (1 - breakevenOffsetPct/100)
	}

	improves := be > pos.StopLossPrice
	if pos.Side == market.SideShort {
		improves = be < pos.StopLossPrice
	}
	if !improves {
		return ledger.Action{}, false
	}
	return ledger.UpdateStop(pos.Symbol, be, fmt.Sprintf("breakeven at %.2fR", r)), true
}

// promotionAction promotes a scalp to a swing when the R target is hit
// and the trend backs the position's direction.
func (s *Scheduler) promotionAction(pos *ledger.Position, r float64, ctx market.Context) (ledger.Action, bool) {
	if pos.Profile == ledger.ProfileScalpOnly {
		return ledger.Action{}, false
	}
	if r < s.cfg.PromotionRR {
		return ledger.Action{}, false
	}
	if !ctx.Trend.Aligned(pos.Side) || ctx.Trend.Strength < s.cfg.PromotionStrength {
		return ledger.Action{}, false
	}
	return ledger.Promote(pos.Symbol,
		fmt.Sprintf("%.2fR with %s trend strength %.1f", r, ctx.Trend.Direction, ctx.Trend.Strength)), true
}

// pyramidAction proposes an add when the trend keeps paying: trending
// regime, aligned direction, enough unrealized profit and adds left
// under the cap. First add is larger than later ones.
func (s *Scheduler) pyramidAction(pos *ledger.Position, price float64, ctx market.Context) (ledger.Action, bool) {
	if s.cfg.MaxPyramidAdds <= 0 || pos.PyramidAdds >= s.cfg.MaxPyramidAdds {
		return ledger.Action{}, false
	}
	if !ctx.Regime.Trending() || !ctx.Trend.Aligned(pos.Side) {
		return ledger.Action{}, false
	}
	// trend strength arrives on a 0..100 scale
	if ctx.Trend.Strength/100 <= pyramidMinTrendStrength {
		return ledger.Action{}, false
	}
	if pos.UnrealizedPnLPct(price) < s.cfg.PyramidMinPnLPct {
		return ledger.Action{}, false
	}

	factor := s.cfg.PyramidAddNext
	if pos.PyramidAdds == 0 {
		factor = s.cfg.PyramidAddFirst
	}
	size := pos.Size * factor
	if size <= 0 {
		return ledger.Action{}, false
	}

	a := ledger.PyramidAdd(pos.Symbol, size,
		fmt.Sprintf("add %d of %d in %s", pos.PyramidAdds+1, s.cfg.MaxPyramidAdds, ctx.Regime))
	a.Price = price
	return a, true
}
