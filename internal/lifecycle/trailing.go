package lifecycle

import (
	"trade-lifecycle-engine/config"
	"trade-lifecycle-engine/internal/ledger"
	"trade-lifecycle-engine/internal/market"
)

// minStopGapPct is the anti-whipsaw floor: a trailing candidate closer
// than this to the current price is discarded.
const minStopGapPct = 0.2

// trailCandidate computes the raw trailing stop for the configured
// style. Returns 0 when the inputs cannot produce a candidate.
func trailCandidate(pos *ledger.Position, price float64, candles []market.Candle, cfg config.ManagementConfig) float64 {
	switch cfg.TrailStyle {
	case config.TrailEMA:
		ema := market.EMA(candles, cfg.TrailEMAPeriod)
		if ema <= 0 {
			return 0
		}
		if pos.Side == market.SideLong {
			return ema * (1 - cfg.TrailEMAOffset/100)
		}
		return ema * (1 + cfg.TrailEMAOffset/100)

	case config.TrailATR:
		atr := market.ATR(candles, cfg.TrailATRPeriod)
		if atr <= 0 {
			return 0
		}
		if pos.Side == market.SideLong {
			return price - cfg.TrailATRMult*atr
		}
		return price + cfg.TrailATRMult*atr

	case config.TrailStruct:
		if pos.Side == market.SideLong {
			return market.SwingLow(candles, cfg.SwingLookback)
		}
		return market.SwingHigh(candles, cfg.SwingLookback)
	}
	return 0
}

// acceptTrail reports whether the candidate may replace the working
// stop: it must strictly protect more profit and sit at least
// minStopGapPct away from the current price.
func acceptTrail(pos *ledger.Position, price, candidate float64) bool {
	if candidate <= 0 || price <= 0 {
		return false
	}

	gapPct := (price - candidate) / price * 100
	if pos.Side == market.SideShort {
		gapPct = -gapPct
	}
	if gapPct < minStopGapPct {
		return false
	}

	if pos.Side == market.SideLong {
		return candidate > pos.StopLossPrice
	}
	return pos.StopLossPrice == 0 || candidate < pos.StopLossPrice
}
