// Package gate implements the admission gate: an ordered series of
// quality criteria every open intent must clear before sizing. The
// first hard failure short-circuits; soft criteria accumulate
// confidence penalties. Evaluation is a pure function of its inputs so
// every decision can be replayed from its audit trail.
package gate

import (
	"fmt"

	"trade-lifecycle-engine/config"
	"trade-lifecycle-engine/internal/intent"
	"trade-lifecycle-engine/internal/market"
)

// Thresholds and factors for the fixed regime/sentiment vetoes. These
// are structural rules, not tuning knobs, so they stay out of config.
const (
	panicMinConfidence  = 0.90
	chopMinConfluences  = 3
	riskOffMultiplier   = 0.9
	riskOffMinThreshold = 0.88
	extremeFearPenalty  = 0.15
	moderateFearPenalty = 0.10
	altSeasonMultiplier = 0.85
	btcSeasonIndexBelow = 25
)

// Request is everything the gate evaluates for one open intent
type Request struct {
	Mode   config.Mode
	Intent intent.Intent
	Ctx    market.Context
	Intel  market.Intelligence
}

// Result is the gate's verdict with its full audit trail
type Result struct {
	Approved    bool               `json:"approved"`
	Confidence  float64            `json:"confidence"` // after adjustments
	Reasons     []string           `json:"reasons"`    // ordered, human readable
	Warnings    []string           `json:"warnings,omitempty"`
	Adjustments map[string]float64 `json:"adjustments,omitempty"`
}

// Gate evaluates open intents against per-mode quality thresholds
type Gate struct {
	modes map[config.Mode]config.GateConfig
}

// New creates a gate from the per-mode threshold tables
func New(cfg *config.Config) *Gate {
	modes := make(map[config.Mode]config.GateConfig, len(cfg.Modes))
	for mode, mc := range cfg.Modes {
		modes[mode] = mc.Gate
	}
	return &Gate{modes: modes}
}

func regimeAllowed(regimes []market.Regime, r market.Regime) bool {
	for _, allowed := range regimes {
		if allowed == r {
			return true
		}
	}
	return false
}

func reject(res Result, reason string) Result {
	res.Approved = false
	res.Reasons = append(res.Reasons, reason)
	return res
}

// Evaluate runs the ordered criteria for one open intent. It reads
// nothing but its arguments and the gate's immutable tables; identical
// inputs always produce identical results.
func (g *Gate) Evaluate(req Request) Result {
	cfg, ok := g.modes[req.Mode]
	in := req.Intent
	ctx := req.Ctx

	res := Result{
		Confidence:  in.Confidence,
		Adjustments: make(map[string]float64),
	}
	if !ok {
		return reject(res, fmt.Sprintf("no gate table for mode %s", req.Mode))
	}

	// 1. regime must be allowed for this mode and style
	allowed := cfg.AllowedRegimesSwing
	minConf := cfg.MinConfSwing
	minConfluences := cfg.MinConfluencesSwing
	if in.Style == intent.StyleScalp {
		allowed = cfg.AllowedRegimesScalp
		minConf = cfg.MinConfScalp
		minConfluences = cfg.MinConfluencesScalp
	}
	if !regimeAllowed(allowed, ctx.Regime) {
		return reject(res, fmt.Sprintf("regime %s not allowed for %s %s", ctx.Regime, req.Mode, in.Style))
	}

	// 2. raw confidence floor
	if in.Confidence < minConf {
		return reject(res, fmt.Sprintf("confidence %.2f below %s minimum %.2f", in.Confidence, in.Style, minConf))
	}

	// 3. shock candle: an outsized last bar means late entry
	if n := len(ctx.Candles); n > 0 {
		body := ctx.Candles[n-1].BodyPct()
		if body < 0 {
			body = -body
		}
		if body > cfg.MaxCandleBodyPct {
			return reject(res, fmt.Sprintf("shock candle body %.2f%% exceeds %.2f%%", body, cfg.MaxCandleBodyPct))
		}
	}

	// 4. confluence shortfall is a soft penalty
	if n := len(in.Confluences); n < minConfluences {
		penalty := float64(minConfluences-n) * cfg.ConfluencePenaltyFactor
		res.Confidence -= penalty
		res.Adjustments["confluence_penalty"] = -penalty
		res.Warnings = append(res.Warnings,
			fmt.Sprintf("%d confluences below %d, confidence -%.2f", n, minConfluences, penalty))
	}

	// 5. regime vetoes
	switch ctx.Regime {
	case market.RegimePanicHighVol:
		if req.Mode == config.ModeAggressive {
			return reject(res, "panic regime blocks aggressive entries")
		}
		if in.Confidence < panicMinConfidence {
			return reject(res, fmt.Sprintf("panic regime needs confidence >= %.2f", panicMinConfidence))
		}
	case market.RegimeRangeChop:
		if in.Style == intent.StyleScalp {
			return reject(res, "scalps rejected in choppy range")
		}
		if len(in.Confluences) < chopMinConfluences {
			return reject(res, fmt.Sprintf("choppy range needs >= %d confluences", chopMinConfluences))
		}
	case market.RegimeLowVolDrift:
		if in.Style == intent.StyleScalp {
			return reject(res, "scalps rejected in low-volatility drift")
		}
	}

	// 6. risk-off haircut plus a raised bar
	threshold := minConf
	if ctx.RiskOff {
		res.Confidence *= riskOffMultiplier
		res.Adjustments["risk_off_multiplier"] = riskOffMultiplier
		if threshold < riskOffMinThreshold {
			threshold = riskOffMinThreshold
		}
		res.Warnings = append(res.Warnings, "risk-off: confidence haircut and raised threshold")
	}

	// 7. sentiment extremes punish aggressive entries
	if req.Mode == config.ModeAggressive {
		switch req.Intel.FearGreedClass {
		case "Extreme Fear", "Extreme Greed":
			res.Confidence -= extremeFearPenalty
			res.Adjustments["sentiment_penalty"] = -extremeFearPenalty
			res.Warnings = append(res.Warnings, "extreme sentiment penalty")
		case "Fear", "Greed":
			res.Confidence -= moderateFearPenalty
			res.Adjustments["sentiment_penalty"] = -moderateFearPenalty
			res.Warnings = append(res.Warnings, "elevated sentiment penalty")
		}
	}

	// 8. BTC-season haircut for alt entries
	if req.Intel.AltSeasonIndex > 0 && req.Intel.AltSeasonIndex < btcSeasonIndexBelow && in.Symbol != "BTCUSDT" {
		res.Confidence *= altSeasonMultiplier
		res.Adjustments["btc_season_multiplier"] = altSeasonMultiplier
		res.Warnings = append(res.Warnings, "btc season: alt confidence haircut")
	}

	// 9. multi-timeframe timing confirmation
	if ok, reason := checkTiming(req.Mode, cfg, in.Side, ctx.Timing); !ok {
		return reject(res, reason)
	}

	// 10. final confidence against the (possibly raised) threshold
	if res.Confidence < threshold {
		return reject(res, fmt.Sprintf("adjusted confidence %.2f below threshold %.2f", res.Confidence, threshold))
	}

	res.Approved = true
	res.Reasons = append(res.Reasons, fmt.Sprintf("approved at confidence %.2f", res.Confidence))
	return res
}
