package gate

import (
	"fmt"

	"trade-lifecycle-engine/config"
	"trade-lifecycle-engine/internal/market"
)

// Timeframe keys expected in the timing context
const (
	tfFast = "fast"
	tfMid  = "mid"
	tfHigh = "high"
)

func trendWord(side market.Side) string {
	if side == market.SideLong {
		return "bull"
	}
	return "bear"
}

// checkTiming applies the per-mode multi-timeframe confirmation. A nil
// timing context passes: timing data is optional input, not a gate in
// itself. Returns ok plus a human-readable reason on failure.
func checkTiming(mode config.Mode, cfg config.GateConfig, side market.Side, timing *market.TimingContext) (bool, string) {
	if timing == nil {
		return true, ""
	}
	want := trendWord(side)
	against := trendWord(side.Opposite())

	if timing.Score < cfg.MinTimingScore {
		return false, fmt.Sprintf("timing score %.2f below %.2f", timing.Score, cfg.MinTimingScore)
	}

	switch mode {
	case config.ModeConservative:
		// strict: every timeframe must already agree
		for _, tf := range []string{tfFast, tfMid, tfHigh} {
			st, ok := timing.States[tf]
			if !ok {
				continue
			}
			if st.Trend != want {
				return false, fmt.Sprintf("%s timeframe is %s, need full %s alignment", tf, st.Trend, want)
			}
		}

	case config.ModeBalanced:
		// mid timeframe must trigger; higher timeframe must not oppose
		if mid, ok := timing.States[tfMid]; ok && mid.Trend != want {
			return false, fmt.Sprintf("mid timeframe is %s, need %s trigger", mid.Trend, want)
		}
		if high, ok := timing.States[tfHigh]; ok && high.Trend == against {
			return false, fmt.Sprintf("higher timeframe opposes (%s)", high.Trend)
		}

	case config.ModeAggressive:
		// loose: no opposing signal on the mid or fast timeframe,
		// unless the opposition is a stale reading after a fresh cross
		// back in our direction
		for _, tf := range []string{tfFast, tfMid} {
			st, ok := timing.States[tf]
			if !ok {
				continue
			}
			if st.Trend == against {
				if st.IsFresh && st.LastCross == want {
					continue
				}
				return false, fmt.Sprintf("%s timeframe opposes (%s)", tf, st.Trend)
			}
		}
	}
	return true, ""
}
